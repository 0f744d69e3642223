package sources

import (
	"fmt"
	"listing-pipeline-service/internal/adapters/gratkafetcher"
	"listing-pipeline-service/internal/adapters/olxfetcher"
	"listing-pipeline-service/internal/adapters/otodomfetcher"
	"listing-pipeline-service/internal/configs"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/port"
	"listing-pipeline-service/internal/core/textparse"
)

// Registry - фиксированное отображение ключа источника на адаптер
type Registry struct {
	adapters map[domain.SourceKey]port.SourceAdapterPort
}

var _ port.SourceRegistryPort = (*Registry)(nil)

// NewRegistry регистрирует адаптеры; повторный ключ - ошибка конфигурации
func NewRegistry(adapters ...port.SourceAdapterPort) (*Registry, error) {
	r := &Registry{adapters: make(map[domain.SourceKey]port.SourceAdapterPort, len(adapters))}
	for _, a := range adapters {
		if _, dup := r.adapters[a.Source()]; dup {
			return nil, domain.FatalConfigError("source %q registered twice", a.Source())
		}
		r.adapters[a.Source()] = a
	}
	return r, nil
}

// NewDefaultRegistry собирает адаптеры всех поддерживаемых порталов
func NewDefaultRegistry(cfg configs.HarvestConfig) (*Registry, error) {
	bounds := textparse.PriceBounds{Min: cfg.PriceMin, Max: cfg.PriceMax}

	otodom, err := otodomfetcher.NewOtodomAdapter(cfg.OtodomBaseURL, bounds)
	if err != nil {
		return nil, err
	}
	olx, err := olxfetcher.NewOlxAdapter(cfg.OlxBaseURL, bounds)
	if err != nil {
		return nil, err
	}
	gratka, err := gratkafetcher.NewGratkaAdapter(cfg.GratkaBaseURL, bounds)
	if err != nil {
		return nil, err
	}
	return NewRegistry(otodom, olx, gratka)
}

func (r *Registry) Adapter(source domain.SourceKey) (port.SourceAdapterPort, error) {
	a, ok := r.adapters[source]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedSource, source)
	}
	return a, nil
}

// Keys - зарегистрированные источники
func (r *Registry) Keys() []domain.SourceKey {
	keys := make([]domain.SourceKey, 0, len(r.adapters))
	for _, key := range []domain.SourceKey{domain.SourceOtodom, domain.SourceOlx, domain.SourceGratka} {
		if _, ok := r.adapters[key]; ok {
			keys = append(keys, key)
		}
	}
	return keys
}
