package port

import (
	"context"
	"listing-pipeline-service/internal/core/domain"
)

// GeocoderPort - адрес в координаты. (nil, nil) означает, что ничего не найдено.
type GeocoderPort interface {
	Geocode(ctx context.Context, query string) (*domain.GeoPoint, error)
}
