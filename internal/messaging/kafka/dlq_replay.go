package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const defaultReplayIdleTimeout = 2 * time.Second

// ReplayConfig задаёт проход по DLQ.
type ReplayConfig struct {
	SourceTopic string
	// TargetTopic используется, если в записи DLQ не сохранён исходный topic.
	TargetTopic string
	Limit       int
	Execute     bool
	FromNewest  bool
	IdleTimeout time.Duration
}

// ReplayStats — итог прохода по DLQ.
type ReplayStats struct {
	Processed int `json:"processed"`
	Replayed  int `json:"replayed"`
	Skipped   int `json:"skipped"`
}

// OffsetClient — часть sarama.Client, нужная для определения границ партиций.
type OffsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

// PartitionConsumer — часть sarama.PartitionConsumer.
type PartitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

// PartitionSource открывает чтение партиции.
type PartitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (PartitionConsumer, error)
	Close() error
}

// SyncSender — часть sarama.SyncProducer.
type SyncSender interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type saramaPartitionSource struct {
	consumer sarama.Consumer
}

func (s saramaPartitionSource) ConsumePartition(topic string, partition int32, offset int64) (PartitionConsumer, error) {
	pc, err := s.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (s saramaPartitionSource) Close() error {
	if s.consumer == nil {
		return nil
	}
	return s.consumer.Close()
}

// DLQReplayer возвращает уведомления из DLQ в ленту изменений.
// Без Execute только перечисляет кандидатов.
type DLQReplayer struct {
	client   OffsetClient
	source   PartitionSource
	producer SyncSender
	logger   *log.Entry
}

// NewDLQReplayer собирает replayer из готовых зависимостей.
func NewDLQReplayer(client OffsetClient, source PartitionSource, producer SyncSender) *DLQReplayer {
	return &DLQReplayer{
		client:   client,
		source:   source,
		producer: producer,
		logger:   log.WithField("component", "kafka-dlq-replayer"),
	}
}

// DialDLQReplayer подключается к брокерам. Producer создаётся только для execute.
func DialDLQReplayer(brokers []string, execute bool) (*DLQReplayer, error) {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true

	client, err := sarama.NewClient(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	source := saramaPartitionSource{consumer: consumer}

	var producer SyncSender
	if execute {
		producer, err = sarama.NewSyncProducer(brokers, newProducerConfig(WithClientID("posctl-dlq-replay")))
		if err != nil {
			_ = source.Close()
			_ = client.Close()
			return nil, fmt.Errorf("create kafka producer: %w", err)
		}
	}
	return NewDLQReplayer(client, source, producer), nil
}

// Close освобождает соединения с брокером.
func (r *DLQReplayer) Close() error {
	if r.producer != nil {
		_ = r.producer.Close()
	}
	if r.source != nil {
		_ = r.source.Close()
	}
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Replay проходит по партициям DLQ, пока не обработает Limit сообщений
// или не дойдёт до конца каждой партиции на момент старта.
func (r *DLQReplayer) Replay(ctx context.Context, cfg ReplayConfig) (ReplayStats, error) {
	var total ReplayStats
	if r.client == nil || r.source == nil {
		return total, fmt.Errorf("kafka client and consumer are required")
	}
	if cfg.Execute && r.producer == nil {
		return total, fmt.Errorf("producer is required in execute mode")
	}
	if cfg.SourceTopic == "" {
		cfg.SourceTopic = TopicDeadLetterQueue
	}
	if cfg.TargetTopic == "" {
		cfg.TargetTopic = TopicChanges
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultReplayIdleTimeout
	}
	if cfg.Limit <= 0 {
		return total, fmt.Errorf("limit must be > 0")
	}

	partitions, err := r.client.Partitions(cfg.SourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", cfg.SourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if total.Processed >= cfg.Limit {
			break
		}
		stats, err := r.replayPartition(ctx, cfg, partition, cfg.Limit-total.Processed)
		total.Processed += stats.Processed
		total.Replayed += stats.Replayed
		total.Skipped += stats.Skipped
		if err != nil {
			return total, err
		}
	}

	r.logger.WithFields(log.Fields{
		"execute":   cfg.Execute,
		"processed": total.Processed,
		"replayed":  total.Replayed,
		"skipped":   total.Skipped,
	}).Info("dlq replay finished")
	return total, nil
}

func (r *DLQReplayer) replayPartition(ctx context.Context, cfg ReplayConfig, partition int32, limit int) (ReplayStats, error) {
	var stats ReplayStats

	oldest, err := r.client.GetOffset(cfg.SourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.client.GetOffset(cfg.SourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if cfg.FromNewest && newest-int64(limit) > oldest {
		start = newest - int64(limit)
	}

	pc, err := r.source.ConsumePartition(cfg.SourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(cfg.IdleTimeout)
	defer idle.Stop()

	for stats.Processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, cerr)
			}
		case <-idle.C:
			return stats, nil
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(cfg.IdleTimeout)

			stats.Processed++
			out, err := ExtractReplayMessage(msg, cfg.TargetTopic)
			if err != nil {
				stats.Skipped++
				r.logger.WithError(err).WithFields(log.Fields{
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("skip unsupported dlq message")
			} else if cfg.Execute {
				if _, _, err := r.producer.SendMessage(out); err != nil {
					return stats, fmt.Errorf("publish replay message: %w", err)
				}
				stats.Replayed++
			} else {
				r.logger.WithFields(log.Fields{
					"partition":    msg.Partition,
					"offset":       msg.Offset,
					"target_topic": out.Topic,
				}).Info("dlq replay candidate")
				stats.Replayed++
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}
	return stats, nil
}

type dlqRecord struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
}

// ExtractReplayMessage восстанавливает исходное уведомление из записи DLQ.
// Повторно отправляются только разбираемые уведомления: счётчик попыток сбрасывается.
func ExtractReplayMessage(msg *sarama.ConsumerMessage, defaultTopic string) (*sarama.ProducerMessage, error) {
	var record dlqRecord
	if err := json.Unmarshal(msg.Value, &record); err != nil {
		return nil, fmt.Errorf("decode dlq record: %w", err)
	}
	if record.OriginalValue == "" {
		return nil, fmt.Errorf("dlq record has no original value")
	}

	change, err := ParseChange(&sarama.ConsumerMessage{Value: []byte(record.OriginalValue), Headers: msg.Headers})
	if err != nil {
		return nil, err
	}

	topic := strings.TrimSpace(record.OriginalTopic)
	if topic == "" {
		topic = defaultTopic
	}
	key := record.OriginalKey
	if key == "" {
		key = changeKey(change)
	}

	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(record.OriginalValue),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderOrigin), Value: []byte(change.Origin)},
			{Key: []byte(HeaderRetryCount), Value: []byte("0")},
		},
		Timestamp: time.Now().UTC(),
	}, nil
}
