package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"listing-pipeline-service/internal/constants"
	"listing-pipeline-service/internal/contextkeys"
	"listing-pipeline-service/internal/contracts"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/port"
	usecases_port "listing-pipeline-service/internal/core/port/usecases_port"
	"listing-pipeline-service/pkg/rabbitmq/rabbitmq_common"
	"listing-pipeline-service/pkg/rabbitmq/rabbitmq_consumer"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RunRequestsConsumerAdapter слушает запросы на полный прогон конвейера для офиса
type RunRequestsConsumerAdapter struct {
	consumer rabbitmq_consumer.Consumer
	runUC    usecases_port.RunPipelinePort
	logger   port.LoggerPort
	// runCtx - родительский контекст прогонов, отменяется вместе с контекстом Start
	runCtx   context.Context
}

var _ port.EventListenerPort = (*RunRequestsConsumerAdapter)(nil)

func NewRunRequestsConsumerAdapter(
	consumerCfg rabbitmq_consumer.ConsumerConfig,
	runUC usecases_port.RunPipelinePort,
	logger port.LoggerPort,
	connManager *rabbitmq_common.ConnectionManager,
) (*RunRequestsConsumerAdapter, error) {
	if runUC == nil {
		return nil, fmt.Errorf("rabbitmq adapter: run pipeline use case cannot be nil")
	}

	adapter := &RunRequestsConsumerAdapter{
		runUC:  runUC,
		logger: logger,
		runCtx: context.Background(),
	}

	pkgLogger := logger.WithFields(port.Fields{"component": "rabbitmq_distributing_consumer", "consumer_tag": consumerCfg.ConsumerTag})
	consumerCfg.Logger = NewPkgLoggerBridge(pkgLogger)

	consumer, err := rabbitmq_consumer.NewDistributingConsumer(consumerCfg, adapter.messageHandler, connManager)
	if err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ consumer for run requests: %w", err)
	}
	adapter.consumer = consumer

	return adapter, nil
}

// messageHandler: ошибка разбора или контракта уходит в ретраи и затем в DLQ;
// ошибка конфигурации офиса подтверждается сразу, повтор ее не исправит
func (a *RunRequestsConsumerAdapter) messageHandler(d amqp.Delivery) error {
	traceID, ok := d.Headers[constants.HeaderTraceID].(string)
	if !ok || traceID == "" {
		traceID = uuid.New().String()
	}

	msgLogger := a.logger.WithFields(port.Fields{
		"trace_id":     traceID,
		"delivery_tag": d.DeliveryTag,
	})
	ctx := contextkeys.ContextWithLogger(a.runCtx, msgLogger)
	ctx = contextkeys.ContextWithTraceID(ctx, traceID)

	msgLogger.Info("Received pipeline run request", nil)

	version, _ := d.Headers[constants.HeaderEventVersion].(string)
	if version == "" {
		version = contracts.CurrentVersion
	}
	if err := contracts.Validate(contracts.PipelineRunRequest, version, d.Body); err != nil {
		msgLogger.Error("Run request failed schema validation", err, nil)
		return fmt.Errorf("contract error: %w", err)
	}

	var dto RunRequestDTO
	if err := json.Unmarshal(d.Body, &dto); err != nil {
		msgLogger.Error("Error unmarshalling run request DTO", err, nil)
		return fmt.Errorf("unmarshal error: %w", err)
	}

	taskLogger := msgLogger.WithFields(port.Fields{
		"task_id":   dto.TaskID.String(),
		"office_id": dto.OfficeID.String(),
	})
	ctx = contextkeys.ContextWithLogger(ctx, taskLogger)

	report, err := a.runUC.Execute(ctx, dto.OfficeID, dto.Options, dto.TaskID)
	if err != nil {
		if errors.Is(err, domain.ErrFatalConfig) {
			taskLogger.Error("Run request rejected by configuration error, acknowledging", err, nil)
			return nil
		}
		taskLogger.Error("Pipeline run failed", err, nil)
		return err
	}
	if ctx.Err() != nil {
		// прогон оборван остановкой сервиса: сообщение уходит на повтор
		taskLogger.Warn("Pipeline run interrupted by shutdown", nil)
		return fmt.Errorf("pipeline run interrupted: %w", ctx.Err())
	}

	taskLogger.Info("Pipeline run request completed", port.Fields{"counts": report.Counts()})
	return nil
}

// Start реализует EventListenerPort
func (a *RunRequestsConsumerAdapter) Start(ctx context.Context) error {
	a.runCtx = ctx
	return a.consumer.StartConsuming(ctx)
}

// Close реализует EventListenerPort
func (a *RunRequestsConsumerAdapter) Close() error {
	return a.consumer.Close()
}
