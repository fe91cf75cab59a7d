package fulfillment_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/folio/internal/catalog/domain"
	catalogrepo "github.com/smallbiznis/folio/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/folio/internal/catalog/service"
	"github.com/smallbiznis/folio/internal/clock"
	"github.com/smallbiznis/folio/internal/config"
	"github.com/smallbiznis/folio/internal/fulfillment"
	"github.com/smallbiznis/folio/internal/providers/events"
	purchasedomain "github.com/smallbiznis/folio/internal/purchase/domain"
	purchaserepo "github.com/smallbiznis/folio/internal/purchase/repository"
	"github.com/smallbiznis/folio/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	sent []snowflake.ID
	err  error
}

func (n *recordingNotifier) SendPurchaseConfirmation(ctx context.Context, p *purchasedomain.Purchase) error {
	n.sent = append(n.sent, p.ID)
	return n.err
}

type recordingPublisher struct {
	events []events.PurchaseCompleted
	err    error
}

func (p *recordingPublisher) PublishPurchaseCompleted(ctx context.Context, evt events.PurchaseCompleted) error {
	p.events = append(p.events, evt)
	return p.err
}

type fixture struct {
	db        *gorm.DB
	node      *snowflake.Node
	now       time.Time
	notifier  *recordingNotifier
	publisher *recordingPublisher
	svc       *fulfillment.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	catalog := catalogservice.New(catalogservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Repo: catalogrepo.Provide(), Cfg: config.Config{Currency: "usd"},
	})
	f := &fixture{
		db:        db,
		node:      node,
		now:       now,
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
	}
	f.svc = fulfillment.New(fulfillment.Params{
		DB:           db,
		Log:          zap.NewNop(),
		Clock:        clock.NewFakeClock(now),
		PurchaseRepo: purchaserepo.Provide(),
		Catalog:      catalog,
		Notifier:     f.notifier,
		Publisher:    f.publisher,
	})
	return f
}

func (f *fixture) salesCount(t *testing.T, id snowflake.ID) int64 {
	t.Helper()
	var book catalogdomain.Book
	require.NoError(t, f.db.First(&book, "id = ?", id).Error)
	return book.SalesCount
}

func (f *fixture) reload(t *testing.T, id snowflake.ID) purchasedomain.Purchase {
	t.Helper()
	var p purchasedomain.Purchase
	require.NoError(t, f.db.First(&p, "id = ?", id).Error)
	return p
}

func TestFulfillCompletedPurchase(t *testing.T) {
	f := newFixture(t)
	first := testutil.SeedBook(t, f.db, f.node, "First", 800)
	second := testutil.SeedBook(t, f.db, f.node, "Second", 1200)
	p := testutil.SeedPurchase(t, f.db, f.node, testutil.PurchaseSeed{
		Status: purchasedomain.StatusCompleted,
		Books:  []catalogdomain.Book{first, second},
	})

	require.NoError(t, f.svc.Fulfill(context.Background(), p.ID))

	assert.Equal(t, int64(1), f.salesCount(t, first.ID))
	assert.Equal(t, int64(1), f.salesCount(t, second.ID))
	assert.Equal(t, []snowflake.ID{p.ID}, f.notifier.sent)

	reloaded := f.reload(t, p.ID)
	require.NotNil(t, reloaded.NotifiedAt)
	assert.True(t, reloaded.NotifiedAt.Equal(f.now))

	require.Len(t, f.publisher.events, 1)
	evt := f.publisher.events[0]
	assert.Equal(t, events.TypePurchaseCompleted, evt.Type)
	assert.Equal(t, p.ID.String(), evt.PurchaseID)
	assert.Equal(t, int64(2000), evt.TotalAmount)
	assert.Len(t, evt.Items, 2)
}

func TestFulfillRejectsNonCompleted(t *testing.T) {
	f := newFixture(t)
	book := testutil.SeedBook(t, f.db, f.node, "Pending", 500)
	p := testutil.SeedPurchase(t, f.db, f.node, testutil.PurchaseSeed{Books: []catalogdomain.Book{book}})

	err := f.svc.Fulfill(context.Background(), p.ID)
	assert.ErrorIs(t, err, purchasedomain.ErrNotCompleted)
	assert.Equal(t, int64(0), f.salesCount(t, book.ID))
	assert.Empty(t, f.notifier.sent)

	err = f.svc.Fulfill(context.Background(), f.node.Generate())
	assert.ErrorIs(t, err, purchasedomain.ErrNotFound)
}

func TestFulfillContinuesAfterEmailFailure(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("smtp unavailable")
	book := testutil.SeedBook(t, f.db, f.node, "Resilient", 900)
	p := testutil.SeedPurchase(t, f.db, f.node, testutil.PurchaseSeed{
		Status: purchasedomain.StatusCompleted,
		Books:  []catalogdomain.Book{book},
	})

	err := f.svc.Fulfill(context.Background(), p.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp unavailable")

	reloaded := f.reload(t, p.ID)
	assert.Equal(t, purchasedomain.StatusCompleted, reloaded.Status)
	assert.Nil(t, reloaded.NotifiedAt)
	assert.Equal(t, int64(1), f.salesCount(t, book.ID))
	assert.Len(t, f.publisher.events, 1)
}

func TestFulfillContinuesAfterMissingBook(t *testing.T) {
	f := newFixture(t)
	kept := testutil.SeedBook(t, f.db, f.node, "Kept", 400)
	removed := testutil.SeedBook(t, f.db, f.node, "Removed", 600)
	p := testutil.SeedPurchase(t, f.db, f.node, testutil.PurchaseSeed{
		Status: purchasedomain.StatusCompleted,
		Books:  []catalogdomain.Book{removed, kept},
	})
	require.NoError(t, f.db.Delete(&catalogdomain.Book{}, "id = ?", removed.ID).Error)

	err := f.svc.Fulfill(context.Background(), p.ID)
	assert.ErrorIs(t, err, catalogdomain.ErrNotFound)
	assert.Equal(t, int64(1), f.salesCount(t, kept.ID))
	assert.Len(t, f.notifier.sent, 1)
}

func TestFulfillSkipsEmailWhenAlreadyNotified(t *testing.T) {
	f := newFixture(t)
	book := testutil.SeedBook(t, f.db, f.node, "Once", 300)
	p := testutil.SeedPurchase(t, f.db, f.node, testutil.PurchaseSeed{
		Status: purchasedomain.StatusCompleted,
		Books:  []catalogdomain.Book{book},
	})
	require.NoError(t, f.db.Model(&purchasedomain.Purchase{}).Where("id = ?", p.ID).Update("notified_at", f.now).Error)

	require.NoError(t, f.svc.Fulfill(context.Background(), p.ID))
	assert.Empty(t, f.notifier.sent)
}

func TestFulfillReportsPublishFailure(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")
	book := testutil.SeedBook(t, f.db, f.node, "Published", 300)
	p := testutil.SeedPurchase(t, f.db, f.node, testutil.PurchaseSeed{
		Status: purchasedomain.StatusCompleted,
		Books:  []catalogdomain.Book{book},
	})

	err := f.svc.Fulfill(context.Background(), p.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.NotNil(t, f.reload(t, p.ID).NotifiedAt)
}

func TestResend(t *testing.T) {
	f := newFixture(t)
	book := testutil.SeedBook(t, f.db, f.node, "Again", 300)
	completed := testutil.SeedPurchase(t, f.db, f.node, testutil.PurchaseSeed{
		Status: purchasedomain.StatusCompleted,
		Books:  []catalogdomain.Book{book},
	})
	failed := testutil.SeedPurchase(t, f.db, f.node, testutil.PurchaseSeed{
		Status: purchasedomain.StatusFailed,
		Books:  []catalogdomain.Book{book},
	})

	require.NoError(t, f.svc.Resend(context.Background(), completed.ID))
	require.NoError(t, f.svc.Resend(context.Background(), completed.ID))
	assert.Len(t, f.notifier.sent, 2)

	assert.ErrorIs(t, f.svc.Resend(context.Background(), failed.ID), purchasedomain.ErrNotCompleted)
}
