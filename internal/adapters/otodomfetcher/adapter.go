package otodomfetcher

import (
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/port"
	"listing-pipeline-service/internal/core/textparse"
	"net/url"
	"strings"
)

// OtodomAdapter разбирает otodom.pl: поиск по пути /pl/wyniki, данные в __NEXT_DATA__
type OtodomAdapter struct {
	baseURL *url.URL
	bounds  textparse.PriceBounds
}

var _ port.SourceAdapterPort = (*OtodomAdapter)(nil)

// NewOtodomAdapter - конструктор
func NewOtodomAdapter(baseURL string, bounds textparse.PriceBounds) (*OtodomAdapter, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, domain.FatalConfigError("otodom: invalid base url %q", baseURL)
	}
	return &OtodomAdapter{baseURL: u, bounds: bounds}, nil
}

func (a *OtodomAdapter) Source() domain.SourceKey {
	return domain.SourceOtodom
}

func (a *OtodomAdapter) absolute(path string) string {
	u := *a.baseURL
	u.Path = path
	u.RawQuery = ""
	return u.String()
}

// expiredPhrases - тексты страницы снятого объявления
var expiredPhrases = []string{
	"To ogłoszenie jest już nieaktualne",
	"Ogłoszenie nieaktualne",
	"Oferta wygasła",
	"To ogłoszenie wygasło",
}
