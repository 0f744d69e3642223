package port

import (
	"context"
	"listing-pipeline-service/internal/core/domain"
	"time"

	"github.com/google/uuid"
)

// SourceDefinitionRepositoryPort - настройки источников по офисам
type SourceDefinitionRepositoryPort interface {
	ListEnabled(ctx context.Context, officeID uuid.UUID) ([]domain.SourceDefinition, error)
	ListOfficesWithEnabledSources(ctx context.Context) ([]uuid.UUID, error)
	MarkHarvested(ctx context.Context, officeID uuid.UUID, source domain.SourceKey, at time.Time) error
}
