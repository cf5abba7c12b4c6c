package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// Producer синхронно публикует JSON-сообщения ленты изменений и DLQ.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

// ProducerOption настраивает конфигурацию sarama перед подключением.
type ProducerOption func(*sarama.Config)

// WithClientID помечает соединения producer'а идентификатором кассы в логах брокера.
func WithClientID(clientID string) ProducerOption {
	return func(config *sarama.Config) {
		if clientID != "" {
			config.ClientID = clientID
		}
	}
}

// newProducerConfig: подтверждение уведомления от всех реплик, без дублей при ретраях.
func newProducerConfig(options ...ProducerOption) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "posync"
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	for _, option := range options {
		option(config)
	}
	return config
}

// NewProducer подключается к брокерам.
func NewProducer(brokers []string, options ...ProducerOption) (*Producer, error) {
	config := newProducerConfig(options...)
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect change feed producer: %w", err)
	}

	return &Producer{
		producer: producer,
		logger:   log.WithFields(log.Fields{"component": "kafka-producer", "client_id": config.ClientID}),
	}, nil
}

// PublishEvent кодирует payload в JSON и ждёт подтверждения брокера.
func (p *Producer) PublishEvent(topic string, key string, payload any, headers ...sarama.RecordHeader) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", topic, err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(body),
		Headers:   headers,
		Timestamp: time.Now().UTC(),
	})
	entry := p.logger.WithFields(log.Fields{"topic": topic, "key": key})
	if err != nil {
		entry.WithError(err).Error("broker rejected message")
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	entry.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("message published")
	return nil
}

// Close закрывает producer
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close change feed producer: %w", err)
	}
	return nil
}
