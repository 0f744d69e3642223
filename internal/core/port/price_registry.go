package port

import (
	"context"
	"listing-pipeline-service/internal/core/domain"
)

// PriceRegistryPort - поиск сделки в реестре цен (RCN) вокруг точки.
// Ошибка возвращается только если не ответил ни один слой и fallback-запрос тоже.
type PriceRegistryPort interface {
	Lookup(ctx context.Context, lat, lng, radiusM float64) (domain.RegistryMatch, error)
	MapLink(lat, lng, radiusM float64) string
}
