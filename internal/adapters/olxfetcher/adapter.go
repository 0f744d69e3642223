package olxfetcher

import (
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/port"
	"listing-pipeline-service/internal/core/textparse"
	"net/url"
	"strings"
)

// OlxAdapter разбирает olx.pl: раздел /nieruchomosci, данные в window.__PRERENDERED_STATE__
type OlxAdapter struct {
	baseURL *url.URL
	bounds  textparse.PriceBounds
}

var _ port.SourceAdapterPort = (*OlxAdapter)(nil)

func NewOlxAdapter(baseURL string, bounds textparse.PriceBounds) (*OlxAdapter, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, domain.FatalConfigError("olx: invalid base url %q", baseURL)
	}
	return &OlxAdapter{baseURL: u, bounds: bounds}, nil
}

func (a *OlxAdapter) Source() domain.SourceKey {
	return domain.SourceOlx
}

// ownHost - объявление размещено на самом olx, а не переадресовано на партнерский портал
func (a *OlxAdapter) ownHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return host == strings.TrimPrefix(strings.ToLower(a.baseURL.Hostname()), "www.")
}

var expiredPhrases = []string{
	"To ogłoszenie nie jest już dostępne",
	"Ogłoszenie nieaktywne",
	"Ogłoszenie zostało zakończone",
}
