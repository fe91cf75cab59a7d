package service_test

import (
	"context"
	"errors"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/folio/internal/catalog/domain"
	catalogrepo "github.com/smallbiznis/folio/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/folio/internal/catalog/service"
	"github.com/smallbiznis/folio/internal/checkout/domain"
	"github.com/smallbiznis/folio/internal/checkout/service"
	"github.com/smallbiznis/folio/internal/clock"
	"github.com/smallbiznis/folio/internal/config"
	paymentdomain "github.com/smallbiznis/folio/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/folio/internal/purchase/domain"
	purchaserepo "github.com/smallbiznis/folio/internal/purchase/repository"
	"github.com/smallbiznis/folio/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeGateway struct {
	requests []paymentdomain.SessionRequest
	err      error
}

func (g *fakeGateway) Provider() string { return "fake" }

func (g *fakeGateway) CreateSession(ctx context.Context, req paymentdomain.SessionRequest) (*paymentdomain.Session, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return &paymentdomain.Session{ID: "cs_" + req.PurchaseID.String(), URL: "https://pay.example/" + req.PurchaseID.String()}, nil
}

func (g *fakeGateway) ParseEvent(ctx context.Context, payload []byte, headers http.Header) (*paymentdomain.Event, error) {
	return nil, paymentdomain.ErrInvalidSignature
}

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	now     time.Time
	gateway *fakeGateway
	svc     domain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	cfg := config.Config{Currency: "usd", SiteBaseURL: "https://shop.example"}
	catalog := catalogservice.New(catalogservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Repo: catalogrepo.Provide(), Cfg: cfg,
	})
	gateway := &fakeGateway{}
	svc := service.New(service.Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        clock.NewFakeClock(now),
		Cfg:          cfg,
		Policy:       config.NewStaticPolicyHolder(config.DefaultPolicy()),
		Catalog:      catalog,
		PurchaseRepo: purchaserepo.Provide(),
		Gateway:      gateway,
	})
	return &fixture{db: db, node: node, now: now, gateway: gateway, svc: svc}
}

func (f *fixture) purchases(t *testing.T) []purchasedomain.Purchase {
	t.Helper()
	var rows []purchasedomain.Purchase
	require.NoError(t, f.db.Order("created_at").Find(&rows).Error)
	return rows
}

func TestCheckoutHappyPath(t *testing.T) {
	f := newFixture(t)
	book := testutil.SeedBook(t, f.db, f.node, "Dune", 500)

	resp, err := f.svc.Checkout(context.Background(), domain.Request{
		Email: " Reader@Example.com ",
		Name:  "Paul",
		Items: []domain.ItemRequest{{BookID: book.ID.String(), Format: "ebook", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_"+resp.PurchaseID, resp.SessionID)

	rows := f.purchases(t)
	require.Len(t, rows, 1)
	p, err := purchaserepo.Provide().FindByID(context.Background(), f.db, rows[0].ID)
	require.NoError(t, err)
	assert.Equal(t, purchasedomain.StatusPending, p.Status)
	assert.Equal(t, int64(500), p.TotalAmount)
	assert.Equal(t, "reader@example.com", p.Email)
	require.NotNil(t, p.PaymentSessionID)
	assert.Equal(t, resp.SessionID, *p.PaymentSessionID)
	assert.Len(t, p.DownloadToken, 43)
	assert.WithinDuration(t, f.now.Add(7*24*time.Hour), p.DownloadExpiry, time.Second)
	require.Len(t, p.Items, 1)
	assert.Equal(t, catalogdomain.FormatEbook, p.Items[0].Format)

	require.Len(t, f.gateway.requests, 1)
	req := f.gateway.requests[0]
	assert.Equal(t, p.ID, req.PurchaseID)
	assert.Equal(t, p.DownloadToken, req.DownloadToken)
	assert.Equal(t, "https://shop.example/cart", req.CancelURL)
	assert.Equal(t, []paymentdomain.LineItem{{Name: "Dune (ebook)", Description: "Test Author", UnitAmount: 500, Quantity: 1}}, req.LineItems)
}

func TestCheckoutSumsQuantities(t *testing.T) {
	f := newFixture(t)
	a := testutil.SeedBook(t, f.db, f.node, "Dune", 500)
	b := testutil.SeedBook(t, f.db, f.node, "Emma", 1250)

	_, err := f.svc.Checkout(context.Background(), domain.Request{
		Email: "reader@example.com",
		Items: []domain.ItemRequest{
			{BookID: a.ID.String(), Quantity: 2},
			{BookID: b.ID.String(), Format: "paperback", Quantity: 1},
		},
	})
	require.NoError(t, err)
	rows := f.purchases(t)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2250), rows[0].TotalAmount)
}

func TestCheckoutAcceptsQuantityAtCap(t *testing.T) {
	f := newFixture(t)
	book := testutil.SeedBook(t, f.db, f.node, "Dune", 500)

	_, err := f.svc.Checkout(context.Background(), domain.Request{
		Email: "reader@example.com",
		Items: []domain.ItemRequest{{BookID: book.ID.String(), Quantity: 100}},
	})
	require.NoError(t, err)
	rows := f.purchases(t)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(50000), rows[0].TotalAmount)
}

func TestCheckoutCapturesPriceAtPurchaseTime(t *testing.T) {
	f := newFixture(t)
	book := testutil.SeedBook(t, f.db, f.node, "Dune", 500)

	resp, err := f.svc.Checkout(context.Background(), domain.Request{
		Email: "reader@example.com",
		Items: []domain.ItemRequest{{BookID: book.ID.String(), Quantity: 1}},
	})
	require.NoError(t, err)

	require.NoError(t, f.db.Exec("UPDATE books SET price_base = ? WHERE id = ?", 900, int64(book.ID)).Error)

	id, err := snowflake.ParseString(resp.PurchaseID)
	require.NoError(t, err)
	p, err := purchaserepo.Provide().FindByID(context.Background(), f.db, id)
	require.NoError(t, err)
	assert.Equal(t, int64(500), p.TotalAmount)
	require.Len(t, p.Items, 1)
	assert.Equal(t, int64(500), p.Items[0].Price)
}

func TestCheckoutValidation(t *testing.T) {
	f := newFixture(t)
	book := testutil.SeedBook(t, f.db, f.node, "Dune", 500)
	unpriced := testutil.SeedBook(t, f.db, f.node, "Draft", -1)

	tests := []struct {
		name string
		req  domain.Request
		want error
	}{
		{name: "bad email", req: domain.Request{Email: "nope", Items: []domain.ItemRequest{{BookID: book.ID.String(), Quantity: 1}}}, want: domain.ErrInvalidEmail},
		{name: "empty cart", req: domain.Request{Email: "a@b.co"}, want: domain.ErrEmptyCart},
		{name: "zero quantity", req: domain.Request{Email: "a@b.co", Items: []domain.ItemRequest{{BookID: book.ID.String(), Quantity: 0}}}, want: domain.ErrInvalidQuantity},
		{name: "quantity above cap", req: domain.Request{Email: "a@b.co", Items: []domain.ItemRequest{{BookID: book.ID.String(), Quantity: 101}}}, want: domain.ErrInvalidQuantity},
		{name: "overflowing quantity", req: domain.Request{Email: "a@b.co", Items: []domain.ItemRequest{{BookID: book.ID.String(), Quantity: math.MaxInt}}}, want: domain.ErrInvalidQuantity},
		{name: "bad id", req: domain.Request{Email: "a@b.co", Items: []domain.ItemRequest{{BookID: "x", Quantity: 1}}}, want: domain.ErrInvalidBookID},
		{name: "unknown format", req: domain.Request{Email: "a@b.co", Items: []domain.ItemRequest{{BookID: book.ID.String(), Format: "scroll", Quantity: 1}}}, want: domain.ErrInvalidFormat},
		{name: "format not offered", req: domain.Request{Email: "a@b.co", Items: []domain.ItemRequest{{BookID: book.ID.String(), Format: "hardcover", Quantity: 1}}}, want: domain.ErrInvalidFormat},
		{name: "unresolved", req: domain.Request{Email: "a@b.co", Items: []domain.ItemRequest{{BookID: "999", Quantity: 1}}}, want: domain.ErrUnresolvedItems},
		{name: "missing price", req: domain.Request{Email: "a@b.co", Items: []domain.ItemRequest{{BookID: unpriced.ID.String(), Quantity: 1}}}, want: domain.ErrMissingPrice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Checkout(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.purchases(t))
	assert.Empty(t, f.gateway.requests)
}

func TestCheckoutUnconfiguredGatewayIsNotAGatewayFailure(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = paymentdomain.ErrInvalidConfig
	book := testutil.SeedBook(t, f.db, f.node, "Dune", 500)

	_, err := f.svc.Checkout(context.Background(), domain.Request{
		Email: "reader@example.com",
		Items: []domain.ItemRequest{{BookID: book.ID.String(), Quantity: 1}},
	})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)
	assert.NotErrorIs(t, err, paymentdomain.ErrGatewayFailure)
}

func TestCheckoutGatewayFailureLeavesPendingPurchase(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = errors.New("dial tcp: connection refused")
	book := testutil.SeedBook(t, f.db, f.node, "Dune", 500)

	_, err := f.svc.Checkout(context.Background(), domain.Request{
		Email: "reader@example.com",
		Items: []domain.ItemRequest{{BookID: book.ID.String(), Quantity: 1}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, paymentdomain.ErrGatewayFailure)

	rows := f.purchases(t)
	require.Len(t, rows, 1)
	assert.Equal(t, purchasedomain.StatusPending, rows[0].Status)
	assert.Nil(t, rows[0].PaymentSessionID)
}
