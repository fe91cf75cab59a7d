package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const TypePurchaseCompleted = "purchase.completed"

type PurchaseCompleted struct {
	Type        string                  `json:"type"`
	PurchaseID  string                  `json:"purchase_id"`
	Email       string                  `json:"email"`
	TotalAmount int64                   `json:"total_amount"`
	Currency    string                  `json:"currency"`
	Items       []PurchaseCompletedItem `json:"items"`
	CompletedAt time.Time               `json:"completed_at"`
}

type PurchaseCompletedItem struct {
	BookID   string `json:"book_id"`
	Format   string `json:"format"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

type Publisher interface {
	PublishPurchaseCompleted(ctx context.Context, evt PurchaseCompleted) error
}

// NoOpPublisher is used when no brokers are configured.
type NoOpPublisher struct{}

func (NoOpPublisher) PublishPurchaseCompleted(ctx context.Context, evt PurchaseCompleted) error {
	return nil
}

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *zap.Logger
}

func NewKafkaPublisher(producer sarama.SyncProducer, topic string, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, log: log.Named("events.publisher")}
}

// PublishPurchaseCompleted keys the message by purchase id so every event for
// one purchase lands on the same partition.
func (p *KafkaPublisher) PublishPurchaseCompleted(ctx context.Context, evt PurchaseCompleted) error {
	evt.Type = TypePurchaseCompleted
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	carrier := make(saramaHeaderCarrier, 0)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)

	msg := &sarama.ProducerMessage{
		Topic:   p.topic,
		Key:     sarama.StringEncoder(evt.PurchaseID),
		Value:   sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader(carrier),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.log.Debug("event published",
		zap.String("topic", p.topic),
		zap.String("purchase_id", evt.PurchaseID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

// saramaHeaderCarrier implements propagation.TextMapCarrier over Kafka headers.
type saramaHeaderCarrier []sarama.RecordHeader

func (c saramaHeaderCarrier) Get(key string) string {
	for _, h := range c {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *saramaHeaderCarrier) Set(key, value string) {
	*c = append(*c, sarama.RecordHeader{
		Key:   []byte(key),
		Value: []byte(value),
	})
}

func (c saramaHeaderCarrier) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = string(h.Key)
	}
	return keys
}
