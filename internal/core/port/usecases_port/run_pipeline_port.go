package usecases_port

import (
	"context"
	"listing-pipeline-service/internal/core/domain"

	"github.com/google/uuid"
)

// RunPipelinePort - полный прогон конвейера для офиса.
// taskID != uuid.Nil означает, что итог нужно опубликовать.
type RunPipelinePort interface {
	Execute(ctx context.Context, officeID uuid.UUID, opts domain.RunOptions, taskID uuid.UUID) (domain.PipelineReport, error)
}
