package rabbitmq_consumer

import (
	"context"
	"fmt"
	"time"

	"listing-pipeline-service/pkg/rabbitmq/rabbitmq_common"

	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageHandler обрабатывает одно сообщение. Ack/Nack/DLX пакет решает сам по возвращенной ошибке
type MessageHandler func(delivery amqp.Delivery) error

type deliveryAction int

const (
	actionAck deliveryAction = iota
	actionDrop
	actionRetry
	actionDeadLetter
)

// nextAction выбирает судьбу сообщения после обработки
func nextAction(processErr error, retryEnabled bool, deaths int64, maxRetries int) deliveryAction {
	switch {
	case processErr == nil:
		return actionAck
	case !retryEnabled:
		return actionDrop
	case deaths < int64(maxRetries):
		return actionRetry
	default:
		return actionDeadLetter
	}
}

// DistributingConsumer обрабатывает каждое сообщение в отдельной горутине
type DistributingConsumer struct {
	baseConsumer *baseConsumer
	handler      MessageHandler
}

// NewDistributingConsumer создает потребителя с готовой топологией
func NewDistributingConsumer(cfg ConsumerConfig, handler MessageHandler, connManager *rabbitmq_common.ConnectionManager) (*DistributingConsumer, error) {
	if handler == nil {
		return nil, fmt.Errorf("distributing Consumer: message handler is required")
	}

	bc, err := newBaseConsumer(cfg, connManager)
	if err != nil {
		return nil, fmt.Errorf("distributing Consumer: %w", err)
	}

	return &DistributingConsumer{baseConsumer: bc, handler: handler}, nil
}

// StartConsuming читает очередь до отмены контекста или закрытия соединения
func (c *DistributingConsumer) StartConsuming(ctx context.Context) error {
	bc := c.baseConsumer
	if bc.channel == nil || bc.connection == nil || bc.connection.IsClosed() {
		return fmt.Errorf("distributing Consumer: not connected")
	}

	msgs, err := bc.channel.Consume(bc.actualQueueName, bc.config.ConsumerTag, false, bc.config.ExclusiveConsumer, false, false, nil)
	if err != nil {
		return fmt.Errorf("distributing Consumer %s: failed to register a consumer on queue '%s': %w", bc.config.ConsumerTag, bc.actualQueueName, err)
	}

	bc.Logger.Info("[*] Waiting for messages on queue", "queue_name", bc.actualQueueName)

	go func() {
		for {
			// сначала неблокирующая проверка отмены, чтобы не брать новые сообщения после команды на остановку
			select {
			case <-ctx.Done():
				return
			default:
			}

			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					bc.Logger.Info("Deliveries channel closed by broker", "consumer_tag", bc.config.ConsumerTag)
					return
				}
				bc.wg.Add(1)
				go func(delivery amqp.Delivery) {
					defer bc.wg.Done()
					c.handleDelivery(delivery)
				}(d)
			}
		}
	}()

	notifyClose := bc.connection.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case <-ctx.Done():
		bc.Logger.Info("Context cancelled. Shutting down consumer.", "consumer_tag", bc.config.ConsumerTag)
		return nil
	case amqpErr := <-notifyClose:
		bc.Logger.Error(amqpErr, "Connection closed for consumer", "consumer_tag", bc.config.ConsumerTag)
		if amqpErr == nil {
			return fmt.Errorf("distributing Consumer %s: connection closed", bc.config.ConsumerTag)
		}
		return amqpErr
	}
}

func (c *DistributingConsumer) handleDelivery(delivery amqp.Delivery) {
	bc := c.baseConsumer
	tag := bc.config.ConsumerTag

	bc.Logger.Debug("[->] Started processing message", "consumer_tag", tag, "delivery_tag", delivery.DeliveryTag)
	processErr := c.handler(delivery)
	if processErr != nil {
		bc.Logger.Error(processErr, "Handler error for message", "consumer_tag", tag, "delivery_tag", delivery.DeliveryTag)
	}

	deaths := deathCount(delivery.Headers, bc.actualQueueName)
	switch nextAction(processErr, bc.config.EnableRetryMechanism, deaths, bc.config.MaxRetries) {
	case actionAck:
		_ = delivery.Ack(false)
		bc.Logger.Debug("[+] Message Ack'd", "consumer_tag", tag, "delivery_tag", delivery.DeliveryTag)
	case actionDrop:
		_ = delivery.Nack(false, false)
	case actionRetry:
		bc.Logger.Info("Retrying message", "consumer_tag", tag, "delivery_tag", delivery.DeliveryTag, "death_count", deaths)
		_ = delivery.Nack(false, false)
	case actionDeadLetter:
		bc.Logger.Warn("Max retries reached, publishing to final DLX", "consumer_tag", tag, "delivery_tag", delivery.DeliveryTag)
		err := bc.finalDlxPublisher.Publish(context.Background(), bc.config.FinalDLQRoutingKey, amqp.Publishing{
			ContentType:  delivery.ContentType,
			Body:         delivery.Body,
			Headers:      delivery.Headers,
			Timestamp:    time.Now(),
			DeliveryMode: amqp.Persistent,
		})
		if err != nil {
			bc.Logger.Error(err, "Failed to publish to final DLX, nacking to keep the retry loop", "delivery_tag", delivery.DeliveryTag)
			_ = delivery.Nack(false, false)
			return
		}
		_ = delivery.Ack(false)
	}
}

// Close закрывает потребителя
func (c *DistributingConsumer) Close() error {
	c.baseConsumer.Logger.Info("Closing consumer")
	return c.baseConsumer.Close()
}
