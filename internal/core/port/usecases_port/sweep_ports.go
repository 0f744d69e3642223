package usecases_port

import (
	"context"
	"listing-pipeline-service/internal/core/domain"

	"github.com/google/uuid"
)

// EnrichRoundPort - один раунд обогащения самых несвежих строк офиса
type EnrichRoundPort interface {
	Execute(ctx context.Context, officeID uuid.UUID, limit int) (domain.BatchSummary, error)
}

// VerifyRoundPort - один раунд проверки живости объявлений
type VerifyRoundPort interface {
	Execute(ctx context.Context, officeID uuid.UUID, limit int) (domain.BatchSummary, error)
}

// GeocodeBatchPort - пакет геокодирования строк без координат
type GeocodeBatchPort interface {
	Execute(ctx context.Context, officeID uuid.UUID, limit int, force bool) (domain.BatchSummary, error)
}

// RcnBatchPort - пакет сверки с реестром цен; radiusM <= 0 означает радиус по умолчанию
type RcnBatchPort interface {
	Execute(ctx context.Context, officeID uuid.UUID, limit int, radiusM float64, force bool) (domain.BatchSummary, error)
}
