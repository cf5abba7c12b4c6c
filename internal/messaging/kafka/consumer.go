package kafka

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/posync/internal/domain"
)

// MessageHandler обрабатывает сообщение из Kafka
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ChangeHandler обрабатывает уведомление об изменении удалённых данных.
type ChangeHandler func(ctx context.Context, change domain.ChangeNotification) error

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 200 * time.Millisecond
)

// Consumer читает ленту изменений через consumer group устройства, повторяет
// неудачную обработку и после исчерпания попыток отправляет сообщение в DLQ.
type Consumer struct {
	consumer    sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	logger      *log.Entry
	wg          sync.WaitGroup
	dlqProducer *Producer
	maxRetries  int
	retryDelay  time.Duration
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithDLQ включает отправку необработанных уведомлений в pos.changes.dlq.
func WithDLQ(producer *Producer) ConsumerOption {
	return func(c *Consumer) {
		c.dlqProducer = producer
	}
}

// WithRetries задаёт число попыток и паузу между ними.
func WithRetries(maxRetries int, delay time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if maxRetries > 0 {
			c.maxRetries = maxRetries
		}
		if delay >= 0 {
			c.retryDelay = delay
		}
	}
}

// NewChangeConsumer создаёт consumer ленты изменений. Нераспознанные сообщения
// пропускаются с предупреждением: повторная обработка их не исправит.
func NewChangeConsumer(brokers []string, groupID, topic string, handler ChangeHandler, options ...ConsumerOption) (*Consumer, error) {
	if topic == "" {
		topic = TopicChanges
	}

	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	// Пропущенные за время простоя уведомления не нужны: при старте снапшот обновляется целиком.
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create change feed consumer for group %s: %w", groupID, err)
	}

	c := &Consumer{
		consumer:   group,
		topics:     []string{topic},
		handler:    ChangeMessageHandler(handler),
		logger:     log.WithFields(log.Fields{"component": "kafka-change-consumer", "group": groupID}),
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
	for _, option := range options {
		option(c)
	}
	return c, nil
}

// ChangeMessageHandler переводит сообщения Kafka в вызовы ChangeHandler.
func ChangeMessageHandler(handler ChangeHandler) MessageHandler {
	logger := log.WithField("component", "kafka-change-consumer")
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		change, err := ParseChange(message)
		if err != nil {
			logger.WithError(err).WithField("offset", message.Offset).Warn("skipping malformed change notification")
			return nil
		}
		return handler(ctx, change)
	}
}

// Start запускает consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// при rebalance Consume завершается, сессию открываем заново
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("change feed session ended with error")
			}

			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Warn("change feed consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("change feed consumer started")
	return nil
}

// Stop останавливает consumer
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close change feed consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("change feed consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения из partition
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			fields := log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}
			c.logger.WithFields(fields).Debug("change notification received")

			if err := c.handleMessageWithRetry(session.Context(), message); err != nil {
				c.logger.WithError(err).WithFields(fields).Error("change notification left unprocessed")
				continue
			}

			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessageWithRetry повторяет обработку, пока общее число попыток
// (с учётом x-retry-count) не достигнет maxRetries, затем отправляет сообщение в DLQ.
func (c *Consumer) handleMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	retryCount := c.getRetryCount(message)
	attempts := c.maxRetries - retryCount
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = c.handler(ctx, message); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		c.logger.WithError(err).WithFields(log.Fields{
			"topic":       message.Topic,
			"attempt":     retryCount + attempt,
			"max_retries": c.maxRetries,
		}).Warn("change notification failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}

	if c.dlqProducer != nil {
		if dlqErr := c.sendToDLQ(message, err); dlqErr != nil {
			c.logger.WithError(dlqErr).Error("failed to park change notification in DLQ")
			return fmt.Errorf("failed to send to DLQ: %w", dlqErr)
		}
		c.logger.WithFields(log.Fields{
			"topic":       message.Topic,
			"retry_count": retryCount + attempts,
		}).Info("change notification parked in DLQ")
		return nil
	}

	return err
}

// getRetryCount извлекает retry count из headers сообщения
func (c *Consumer) getRetryCount(message *sarama.ConsumerMessage) int {
	count, err := strconv.Atoi(headerValue(message, HeaderRetryCount))
	if err != nil {
		return 0
	}
	return count
}

// sendToDLQ отправляет сообщение в Dead Letter Queue, сохраняя исходное тело.
func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, processingErr error) error {
	parked := map[string]any{
		"original_topic":     message.Topic,
		"original_partition": message.Partition,
		"original_offset":    message.Offset,
		"original_key":       string(message.Key),
		"original_value":     string(message.Value),
		"error_message":      processingErr.Error(),
		"failed_at":          time.Now().UTC().Format(time.RFC3339),
		"retry_count":        c.maxRetries,
	}

	headers := []sarama.RecordHeader{
		{Key: []byte(HeaderOriginalTopic), Value: []byte(message.Topic)},
		{Key: []byte(HeaderErrorMessage), Value: []byte(processingErr.Error())},
	}
	// origin сохраняем, чтобы после replay устройство-автор снова пропустило своё уведомление
	if origin := headerValue(message, HeaderOrigin); origin != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(HeaderOrigin), Value: []byte(origin)})
	}

	return c.dlqProducer.PublishEvent(TopicDeadLetterQueue, string(message.Key), parked, headers...)
}
