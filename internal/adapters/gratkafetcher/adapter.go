package gratkafetcher

import (
	"listing-pipeline-service/internal/adapters/pagescrape"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/port"
	"listing-pipeline-service/internal/core/textparse"
	"net/url"
	"strings"
)

// GratkaAdapter разбирает gratka.pl: структурированные данные только в JSON-LD
type GratkaAdapter struct {
	baseURL *url.URL
	bounds  textparse.PriceBounds
}

var _ port.SourceAdapterPort = (*GratkaAdapter)(nil)

func NewGratkaAdapter(baseURL string, bounds textparse.PriceBounds) (*GratkaAdapter, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, domain.FatalConfigError("gratka: invalid base url %q", baseURL)
	}
	return &GratkaAdapter{baseURL: u, bounds: bounds}, nil
}

func (a *GratkaAdapter) Source() domain.SourceKey {
	return domain.SourceGratka
}

var expiredPhrases = []string{
	"Ogłoszenie zostało zakończone",
	"Oferta jest nieaktualna",
	"Ogłoszenie archiwalne",
}

func (a *GratkaAdapter) IsExpired(body []byte) bool {
	return pagescrape.ContainsPhrase(body, expiredPhrases...)
}

// offerTitle - заголовок из slug перед "/ob/{id}", если карточка его не показала
func offerTitle(href string) string {
	if title := textparse.TitleFromURL(href); title != "" {
		return title
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	p := strings.TrimRight(u.Path, "/")
	p = p[:strings.LastIndex(p, "/")+1]
	p = strings.TrimSuffix(strings.TrimSuffix(p, "/"), "/ob")
	u.Path = p
	return textparse.TitleFromURL(u.String())
}
