package usecases_port

import (
	"context"
	"listing-pipeline-service/internal/core/domain"

	"github.com/google/uuid"
)

// HarvestPort - один проход сбора поисковой выдачи по источникам офиса
type HarvestPort interface {
	Execute(ctx context.Context, officeID uuid.UUID, filters domain.SearchFilters) (domain.HarvestSummary, error)
}
