package webhook_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/folio/internal/clock"
	"github.com/smallbiznis/folio/internal/payment/adapters"
	"github.com/smallbiznis/folio/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/folio/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/folio/internal/payment/repository"
	paymentservice "github.com/smallbiznis/folio/internal/payment/service"
	"github.com/smallbiznis/folio/internal/payment/webhook"
	purchasedomain "github.com/smallbiznis/folio/internal/purchase/domain"
	purchaserepo "github.com/smallbiznis/folio/internal/purchase/repository"
	"github.com/smallbiznis/folio/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const secret = "whsec_test"

type countingFulfiller struct{ calls int }

func (f *countingFulfiller) Fulfill(ctx context.Context, purchaseID snowflake.ID) error {
	f.calls++
	return nil
}

func TestIngestWebhook(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	now := time.Now().UTC()
	clk := clock.NewFakeClock(now)
	fulfiller := &countingFulfiller{}

	paymentSvc := paymentservice.NewService(paymentservice.Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        clk,
		Repo:         paymentrepo.Provide(),
		PurchaseRepo: purchaserepo.Provide(),
		Fulfiller:    fulfiller,
	})
	svc := webhook.NewService(webhook.Params{
		Log:        zap.NewNop(),
		PaymentSvc: paymentSvc,
		Adapters:   adapters.NewRegistry(stripe.New(stripe.Config{WebhookSecret: secret}, clk)),
	})

	p := testutil.SeedPurchase(t, db, node, testutil.PurchaseSeed{SessionID: "cs_test_9"})
	payload := []byte(`{"id":"evt_9","type":"checkout.session.completed","created":1700000000,` +
		`"data":{"object":{"id":"cs_test_9","payment_status":"paid","payment_intent":"pi_9"}}}`)

	t.Run("rejects bad signature without writing", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("Stripe-Signature", sign("whsec_other", payload, now.Unix()))
		_, err := svc.IngestWebhook(context.Background(), "stripe", payload, headers)
		assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

		var count int64
		require.NoError(t, db.Model(&paymentdomain.EventRecord{}).Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("rejects signed payload that does not decode", func(t *testing.T) {
		garbage := []byte(`not-json`)
		headers := http.Header{}
		headers.Set("Stripe-Signature", sign(secret, garbage, now.Unix()))
		_, err := svc.IngestWebhook(context.Background(), "stripe", garbage, headers)
		assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

		var count int64
		require.NoError(t, db.Model(&paymentdomain.EventRecord{}).Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := svc.IngestWebhook(context.Background(), "paypal", payload, http.Header{})
		assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)
	})

	t.Run("completes purchase once across redelivery", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("Stripe-Signature", sign(secret, payload, now.Unix()))

		res, err := svc.IngestWebhook(context.Background(), "Stripe", payload, headers)
		require.NoError(t, err)
		assert.Equal(t, paymentdomain.OutcomeApplied, res.Outcome)

		res, err = svc.IngestWebhook(context.Background(), "stripe", payload, headers)
		require.NoError(t, err)
		assert.True(t, res.Duplicate)

		stored, err := purchaserepo.Provide().FindByID(context.Background(), db, p.ID)
		require.NoError(t, err)
		assert.Equal(t, purchasedomain.StatusCompleted, stored.Status)
		assert.Equal(t, 1, fulfiller.calls)
	})
}

func sign(secret string, payload []byte, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
