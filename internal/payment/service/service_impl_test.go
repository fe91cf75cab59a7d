package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/folio/internal/catalog/domain"
	"github.com/smallbiznis/folio/internal/clock"
	paymentdomain "github.com/smallbiznis/folio/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/folio/internal/payment/repository"
	paymentservice "github.com/smallbiznis/folio/internal/payment/service"
	purchasedomain "github.com/smallbiznis/folio/internal/purchase/domain"
	purchaserepo "github.com/smallbiznis/folio/internal/purchase/repository"
	"github.com/smallbiznis/folio/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type recordingFulfiller struct {
	calls []snowflake.ID
	err   error
}

func (f *recordingFulfiller) Fulfill(ctx context.Context, purchaseID snowflake.ID) error {
	f.calls = append(f.calls, purchaseID)
	return f.err
}

type fixture struct {
	db        *gorm.DB
	node      *snowflake.Node
	svc       *paymentservice.Service
	fulfiller *recordingFulfiller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	fulfiller := &recordingFulfiller{}
	svc := paymentservice.NewService(paymentservice.Params{
		DB:           db,
		Log:          zaptest.NewLogger(t),
		GenID:        node,
		Clock:        clock.NewFakeClock(time.Now()),
		Repo:         paymentrepo.Provide(),
		PurchaseRepo: purchaserepo.Provide(),
		Fulfiller:    fulfiller,
	})
	return &fixture{db: db, node: node, svc: svc, fulfiller: fulfiller}
}

func (f *fixture) status(t *testing.T, id snowflake.ID) purchasedomain.Purchase {
	t.Helper()
	p, err := purchaserepo.Provide().FindByID(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return *p
}

func (f *fixture) eventCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&paymentdomain.EventRecord{}).Count(&count).Error)
	return count
}

func sessionEvent(id string, kind purchasedomain.EventKind, sessionID string) *paymentdomain.Event {
	payload, _ := json.Marshal(map[string]any{"id": id, "session": sessionID})
	return &paymentdomain.Event{
		Provider:        paymentdomain.ProviderStripe,
		ProviderEventID: id,
		Type:            "checkout.session." + string(kind),
		Kind:            kind,
		SessionID:       sessionID,
		PaymentIntentID: "pi_" + sessionID,
		OccurredAt:      time.Now().UTC(),
		RawPayload:      payload,
	}
}

func TestProcessEventCompletesOnceForReplayedEvent(t *testing.T) {
	f := newFixture(t)
	book := testutil.SeedBook(t, f.db, f.node, "Dune", 500)
	p := testutil.SeedPurchase(t, f.db, f.node, testutil.PurchaseSeed{SessionID: "cs_1", Books: []catalogdomain.Book{book}})

	first, err := f.svc.ProcessEvent(context.Background(), sessionEvent("evt_1", purchasedomain.EventSessionCompleted, "cs_1"))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeApplied, first.Outcome)
	assert.False(t, first.Duplicate)

	second, err := f.svc.ProcessEvent(context.Background(), sessionEvent("evt_1", purchasedomain.EventSessionCompleted, "cs_1"))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, paymentdomain.OutcomeApplied, second.Outcome)

	stored := f.status(t, p.ID)
	assert.Equal(t, purchasedomain.StatusCompleted, stored.Status)
	require.NotNil(t, stored.PaymentConfirmationID)
	assert.Equal(t, "pi_cs_1", *stored.PaymentConfirmationID)
	assert.NotNil(t, stored.CompletedAt)
	assert.Equal(t, []snowflake.ID{p.ID}, f.fulfiller.calls)
	assert.Equal(t, int64(1), f.eventCount(t))
}

func TestProcessEventDistinctDeliveriesOfSameCompletion(t *testing.T) {
	f := newFixture(t)
	p := testutil.SeedPurchase(t, f.db, f.node, testutil.PurchaseSeed{SessionID: "cs_2"})

	_, err := f.svc.ProcessEvent(context.Background(), sessionEvent("evt_a", purchasedomain.EventSessionCompleted, "cs_2"))
	require.NoError(t, err)
	res, err := f.svc.ProcessEvent(context.Background(), sessionEvent("evt_b", purchasedomain.EventSessionCompleted, "cs_2"))
	require.NoError(t, err)

	assert.Equal(t, paymentdomain.OutcomeNoop, res.Outcome)
	assert.Equal(t, purchasedomain.StatusCompleted, f.status(t, p.ID).Status)
	assert.Len(t, f.fulfiller.calls, 1)
	assert.Equal(t, int64(2), f.eventCount(t))
}

func TestProcessEventTerminalStatesAreImmutable(t *testing.T) {
	kinds := []purchasedomain.EventKind{
		purchasedomain.EventSessionCompleted,
		purchasedomain.EventSessionExpired,
		purchasedomain.EventPaymentFailed,
	}
	for _, status := range []purchasedomain.Status{purchasedomain.StatusCompleted, purchasedomain.StatusFailed} {
		for _, kind := range kinds {
			t.Run(string(status)+"/"+string(kind), func(t *testing.T) {
				f := newFixture(t)
				p := testutil.SeedPurchase(t, f.db, f.node, testutil.PurchaseSeed{Status: status, SessionID: "cs_t"})

				res, err := f.svc.ProcessEvent(context.Background(), sessionEvent("evt_t", kind, "cs_t"))
				require.NoError(t, err)
				assert.Equal(t, paymentdomain.OutcomeNoop, res.Outcome)
				assert.Equal(t, status, f.status(t, p.ID).Status)
				assert.Empty(t, f.fulfiller.calls)
			})
		}
	}
}

func TestProcessEventSessionExpiredFailsPending(t *testing.T) {
	f := newFixture(t)
	p := testutil.SeedPurchase(t, f.db, f.node, testutil.PurchaseSeed{SessionID: "cs_3"})

	res, err := f.svc.ProcessEvent(context.Background(), sessionEvent("evt_3", purchasedomain.EventSessionExpired, "cs_3"))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeApplied, res.Outcome)
	stored := f.status(t, p.ID)
	assert.Equal(t, purchasedomain.StatusFailed, stored.Status)
	assert.Nil(t, stored.PaymentConfirmationID)
	assert.Empty(t, f.fulfiller.calls)
}

func TestProcessEventAsyncPaymentFailedKeepsConfirmationEmpty(t *testing.T) {
	f := newFixture(t)
	p := testutil.SeedPurchase(t, f.db, f.node, testutil.PurchaseSeed{SessionID: "cs_p"})

	event := sessionEvent("evt_async_failed", purchasedomain.EventPaymentFailed, "cs_p")
	event.Type = "checkout.session.async_payment_failed"

	res, err := f.svc.ProcessEvent(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeApplied, res.Outcome)

	stored := f.status(t, p.ID)
	assert.Equal(t, purchasedomain.StatusFailed, stored.Status)
	assert.Nil(t, stored.PaymentConfirmationID)

	found, err := purchaserepo.Provide().FindByPaymentIntentID(context.Background(), f.db, "pi_cs_p")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestProcessEventPaymentFailedUsesMetadataPurchaseID(t *testing.T) {
	f := newFixture(t)
	p := testutil.SeedPurchase(t, f.db, f.node, testutil.PurchaseSeed{SessionID: "cs_4"})

	event := sessionEvent("evt_4", purchasedomain.EventPaymentFailed, "")
	event.Type = "payment_intent.payment_failed"
	event.PaymentIntentID = "pi_unknown"
	event.PurchaseID = &p.ID

	res, err := f.svc.ProcessEvent(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeApplied, res.Outcome)
	require.NotNil(t, res.PurchaseID)
	assert.Equal(t, p.ID, *res.PurchaseID)
	stored := f.status(t, p.ID)
	assert.Equal(t, purchasedomain.StatusFailed, stored.Status)
	assert.Nil(t, stored.PaymentConfirmationID)
}

func TestProcessEventMetadataCannotOverrideSession(t *testing.T) {
	f := newFixture(t)
	p := testutil.SeedPurchase(t, f.db, f.node, testutil.PurchaseSeed{SessionID: "cs_real"})

	event := sessionEvent("evt_5", purchasedomain.EventSessionCompleted, "cs_other")
	event.PurchaseID = &p.ID

	res, err := f.svc.ProcessEvent(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeNotFound, res.Outcome)
	assert.Equal(t, purchasedomain.StatusPending, f.status(t, p.ID).Status)
}

func TestProcessEventUnknownPurchaseIsAcknowledged(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.ProcessEvent(context.Background(), sessionEvent("evt_6", purchasedomain.EventSessionCompleted, "cs_missing"))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeNotFound, res.Outcome)
	assert.Nil(t, res.PurchaseID)

	var record paymentdomain.EventRecord
	require.NoError(t, f.db.First(&record).Error)
	assert.Equal(t, paymentdomain.OutcomeNotFound, record.Outcome)
	assert.NotNil(t, record.ProcessedAt)
}

func TestProcessEventIgnoredKindIsRecorded(t *testing.T) {
	f := newFixture(t)

	event := sessionEvent("evt_7", "", "")
	event.Type = "customer.created"
	res, err := f.svc.ProcessEvent(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeIgnored, res.Outcome)
	assert.Equal(t, int64(1), f.eventCount(t))
}

func TestProcessEventFulfillmentFailureKeepsCompletion(t *testing.T) {
	f := newFixture(t)
	f.fulfiller.err = errors.New("smtp down")
	p := testutil.SeedPurchase(t, f.db, f.node, testutil.PurchaseSeed{SessionID: "cs_8"})

	res, err := f.svc.ProcessEvent(context.Background(), sessionEvent("evt_8", purchasedomain.EventSessionCompleted, "cs_8"))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeApplied, res.Outcome)
	assert.Equal(t, purchasedomain.StatusCompleted, f.status(t, p.ID).Status)
	assert.Len(t, f.fulfiller.calls, 1)
}

func TestProcessEventRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ProcessEvent(context.Background(), nil)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)

	event := sessionEvent("evt_9", purchasedomain.EventSessionCompleted, "cs_9")
	event.RawPayload = []byte("{")
	_, err = f.svc.ProcessEvent(context.Background(), event)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)
	assert.Equal(t, int64(0), f.eventCount(t))
}
