package port

import (
	"context"
	"listing-pipeline-service/internal/core/domain"

	"github.com/google/uuid"
)

// RunReporterPort публикует итог прогона конвейера
type RunReporterPort interface {
	ReportRun(ctx context.Context, taskID uuid.UUID, report domain.PipelineReport) error
}
