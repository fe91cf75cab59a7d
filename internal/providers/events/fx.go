package events

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/smallbiznis/folio/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.events",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Publisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		log.Info("kafka brokers not configured; purchase events are not published")
		return NoOpPublisher{}, nil
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = cfg.AppName
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 5
	saramaCfg.Producer.Idempotent = true
	saramaCfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return producer.Close()
		},
	})

	log.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	return NewKafkaPublisher(producer, cfg.Kafka.PurchasesTopic, log), nil
}
