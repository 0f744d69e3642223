package port

import "listing-pipeline-service/internal/core/domain"

// SourceAdapterPort - разбор одного портала. Все методы чистые: сеть остается в FetcherPort.
type SourceAdapterPort interface {
	Source() domain.SourceKey

	// BuildSearchURL детерминирован; неподдерживаемые порталом фильтры опускаются
	BuildSearchURL(filters domain.SearchFilters, page int) (string, error)
	// ParseSearchResults возвращает кандидатов; карточки без заголовка отбрасываются
	ParseSearchResults(body []byte, baseURL string) ([]domain.ListingCandidate, error)
	// SearchMatches сравнивает запрошенный поиск (без пагинации) с итоговым URL после редиректов
	SearchMatches(requestedURL, finalURL string) bool

	// ParseDetails извлекает атрибуты со страницы объявления
	ParseDetails(body []byte, pageURL string) (domain.ListingAttributes, error)
	// IsExpired ищет на странице фразы "объявление неактуально"
	IsExpired(body []byte) bool
}

// SourceRegistryPort - фиксированный реестр адаптеров по ключу источника
type SourceRegistryPort interface {
	Adapter(source domain.SourceKey) (SourceAdapterPort, error)
}
