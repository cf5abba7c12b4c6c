package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/posync/internal/domain"
	"github.com/vladislavdragonenkov/posync/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/posync/internal/service/refresh"
)

// initKafkaProducer создаёт producer ленты изменений. Пустой список брокеров
// означает работу без Kafka: nil, nil. Ошибка подключения не фатальна.
func initKafkaProducer(brokers []string, deviceID string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, kafka.WithClientID("posync-"+deviceID))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without change feed")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// changeHandler обновляет снапшот по уведомлению другой кассы. Чужая запись
// означает, что сервер доступен, поэтому процессор пробует разобрать свою очередь.
func changeHandler(refresher *refresh.Refresher, nudge func(), deviceID string) kafka.ChangeHandler {
	return func(ctx context.Context, change domain.ChangeNotification) error {
		if change.Origin != deviceID && nudge != nil {
			nudge()
		}
		return refresher.HandleChange(ctx, change)
	}
}

// startChangeConsumer подписывает кассу на ленту изменений других касс.
// Ошибка обработки уходит в DLQ только если есть producer.
func startChangeConsumer(ctx context.Context, deps *Dependencies, logger *log.Entry) *kafka.Consumer {
	cfg := deps.Config
	if len(cfg.KafkaBrokers) == 0 {
		return nil
	}

	handler := changeHandler(deps.Refresher, deps.Processor.Nudge, cfg.DeviceID)
	consumer, err := kafka.NewChangeConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup(), cfg.KafkaTopic, handler, kafka.WithDLQ(deps.Producer))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka change consumer, continuing without change feed")
		return nil
	}
	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Warn("failed to start kafka change consumer")
		return nil
	}
	logger.WithFields(log.Fields{
		"topic": cfg.KafkaTopic,
		"group": cfg.ConsumerGroup(),
	}).Info("kafka change consumer started")
	return consumer
}

// closeKafka закрывает producer, если он создан.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// stopConsumer останавливает consumer, если он запущен.
func stopConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}
