package rabbitmq

import (
	"listing-pipeline-service/internal/core/domain"
	"time"

	"github.com/google/uuid"
)

// RunRequestDTO - сообщение из pipeline_run_requests
type RunRequestDTO struct {
	TaskID   uuid.UUID         `json:"task_id"`
	OfficeID uuid.UUID         `json:"office_id"`
	Options  domain.RunOptions `json:"options"`
}

// Значения RunCompletedDTO.Status
const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunCompletedDTO - событие в pipeline_run_results
type RunCompletedDTO struct {
	TaskID     uuid.UUID             `json:"task_id"`
	OfficeID   uuid.UUID             `json:"office_id"`
	Status     string                `json:"status"`
	Error      string                `json:"error,omitempty"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Results    map[string]int        `json:"results"`
	Report     domain.PipelineReport `json:"report"`
}

func toRunCompletedDTO(taskID uuid.UUID, report domain.PipelineReport) RunCompletedDTO {
	status := RunStatusCompleted
	if report.Failed() {
		status = RunStatusFailed
	}
	return RunCompletedDTO{
		TaskID:     taskID,
		OfficeID:   report.OfficeID,
		Status:     status,
		Error:      report.Error,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Results:    report.Counts(),
		Report:     report,
	}
}
