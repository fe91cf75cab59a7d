package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishPurchaseCompleted(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	defer func() { require.NoError(t, producer.Close()) }()

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "purchase.completed" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "42" {
			return errors.New("unexpected key " + string(key))
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var evt PurchaseCompleted
		if err := json.Unmarshal(value, &evt); err != nil {
			return err
		}
		if evt.Type != TypePurchaseCompleted || evt.TotalAmount != 500 || len(evt.Items) != 1 {
			return errors.New("unexpected payload")
		}
		return nil
	})

	pub := NewKafkaPublisher(producer, "purchase.completed", zap.NewNop())
	err := pub.PublishPurchaseCompleted(context.Background(), PurchaseCompleted{
		PurchaseID:  "42",
		Email:       "reader@example.com",
		TotalAmount: 500,
		Currency:    "usd",
		Items:       []PurchaseCompletedItem{{BookID: "7", Format: "ebook", Quantity: 1, Price: 500}},
		CompletedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestPublishPurchaseCompletedFailure(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	defer func() { _ = producer.Close() }()

	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewKafkaPublisher(producer, "purchase.completed", zap.NewNop())
	err := pub.PublishPurchaseCompleted(context.Background(), PurchaseCompleted{PurchaseID: "1"})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}

func TestNoOpPublisher(t *testing.T) {
	assert.NoError(t, NoOpPublisher{}.PublishPurchaseCompleted(context.Background(), PurchaseCompleted{}))
}
