package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/posync/internal/domain"
)

// ChangePublisher публикует уведомления о подтверждённых удалённых записях.
type ChangePublisher struct {
	producer *Producer
	topic    string
}

// NewChangePublisher создаёт Kafka-паблишер ленты изменений.
func NewChangePublisher(producer *Producer, topic string) *ChangePublisher {
	if topic == "" {
		topic = TopicChanges
	}
	return &ChangePublisher{
		producer: producer,
		topic:    topic,
	}
}

// PublishChange отправляет уведомление. Контекст не прерывает синхронную отправку sarama.
func (p *ChangePublisher) PublishChange(_ context.Context, change domain.ChangeNotification) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka change publisher is not initialized")
	}

	return p.producer.PublishEvent(p.topic, changeKey(change), change, sarama.RecordHeader{
		Key:   []byte(HeaderOrigin),
		Value: []byte(change.Origin),
	})
}

var _ domain.ChangePublisher = (*ChangePublisher)(nil)
