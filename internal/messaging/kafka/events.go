package kafka

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/posync/internal/domain"
)

// Topics для Kafka
const (
	TopicChanges         = "pos.changes"
	TopicDeadLetterQueue = "pos.changes.dlq" // Dead Letter Queue для необработанных уведомлений
)

// Kafka headers
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOrigin        = "x-origin"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
)

// changeKey — ключ партиционирования: уведомления об одной записи попадают в одну партицию.
func changeKey(change domain.ChangeNotification) string {
	if change.RecordID != "" {
		return change.Table + ":" + change.RecordID
	}
	return change.Table
}

// ParseChange разбирает уведомление об изменении из сообщения.
// Если origin не указан в теле, он берётся из заголовка x-origin.
func ParseChange(message *sarama.ConsumerMessage) (domain.ChangeNotification, error) {
	var change domain.ChangeNotification
	if err := json.Unmarshal(message.Value, &change); err != nil {
		return domain.ChangeNotification{}, fmt.Errorf("failed to unmarshal change notification: %w", err)
	}
	if strings.TrimSpace(change.Table) == "" {
		return domain.ChangeNotification{}, fmt.Errorf("change notification without table")
	}
	if change.Origin == "" {
		change.Origin = headerValue(message, HeaderOrigin)
	}
	return change, nil
}

func headerValue(message *sarama.ConsumerMessage, key string) string {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}
