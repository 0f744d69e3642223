package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"listing-pipeline-service/internal/constants"
	"listing-pipeline-service/internal/contextkeys"
	"listing-pipeline-service/internal/contracts"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/port"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// publisher - часть rabbitmq_producer.Publisher, нужная адаптеру
type publisher interface {
	Publish(ctx context.Context, routingKey string, msg amqp.Publishing) error
}

// RunReporterAdapter публикует итог прогона в pipeline_run_results
type RunReporterAdapter struct {
	producer       publisher
	routingKey     string
	publishTimeout time.Duration
	now            func() time.Time
}

var _ port.RunReporterPort = (*RunReporterAdapter)(nil)

func NewRunReporterAdapter(producer publisher, routingKey string) (*RunReporterAdapter, error) {
	if producer == nil {
		return nil, fmt.Errorf("rabbitmq adapter: producer cannot be nil")
	}
	if routingKey == "" {
		return nil, fmt.Errorf("rabbitmq adapter: routingKey cannot be empty")
	}
	return &RunReporterAdapter{
		producer:       producer,
		routingKey:     routingKey,
		publishTimeout: 10 * time.Second,
		now:            time.Now,
	}, nil
}

func (a *RunReporterAdapter) ReportRun(ctx context.Context, taskID uuid.UUID, report domain.PipelineReport) error {
	adapterLogger := contextkeys.LoggerFromContext(ctx).WithFields(port.Fields{
		"component":   "RunReporterAdapter",
		"routing_key": a.routingKey,
		"task_id":     taskID.String(),
	})

	body, err := json.Marshal(toRunCompletedDTO(taskID, report))
	if err != nil {
		return fmt.Errorf("rabbitmq adapter: failed to marshal report for task %s: %w", taskID, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    a.now(),
		Headers: amqp.Table{
			constants.HeaderEventType:    contracts.PipelineRunCompletedEvent,
			constants.HeaderEventVersion: contracts.CurrentVersion,
		},
	}
	if traceID := contextkeys.TraceIDFromContext(ctx); traceID != "" {
		msg.Headers[constants.HeaderTraceID] = traceID
	}

	// Отчет публикуется и после отмены запроса, но не дольше publishTimeout
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.publishTimeout)
	defer cancel()

	adapterLogger.Info("Publishing run report", nil)
	if err := a.producer.Publish(publishCtx, a.routingKey, msg); err != nil {
		adapterLogger.Error("Failed to publish run report", err, nil)
		return fmt.Errorf("rabbitmq adapter: failed to publish report for task %s: %w", taskID, err)
	}

	adapterLogger.Info("Successfully published run report", nil)
	return nil
}
