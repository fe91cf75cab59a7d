package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/folio/internal/catalog/domain"
	"github.com/smallbiznis/folio/internal/checkout/domain"
	"github.com/smallbiznis/folio/internal/clock"
	"github.com/smallbiznis/folio/internal/config"
	obsmetrics "github.com/smallbiznis/folio/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/folio/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/folio/internal/purchase/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 32 bytes gives 256 bits of entropy and a 43 character token.
const downloadTokenBytes = 32

const (
	maxCartItems    = 50
	maxItemQuantity = 100
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Cfg          config.Config
	Policy       *config.PolicyHolder
	Catalog      catalogdomain.Lookup
	PurchaseRepo purchasedomain.Repository
	Gateway      paymentdomain.Gateway
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	policy       *config.PolicyHolder
	catalog      catalogdomain.Lookup
	purchaseRepo purchasedomain.Repository
	gateway      paymentdomain.Gateway
	obsMetrics   *obsmetrics.Metrics
	currency     string
	siteBaseURL  string
}

func New(p Params) domain.Service {
	currency := strings.ToLower(strings.TrimSpace(p.Cfg.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("checkout.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		policy:       p.Policy,
		catalog:      p.Catalog,
		purchaseRepo: p.PurchaseRepo,
		gateway:      p.Gateway,
		obsMetrics:   p.ObsMetrics,
		currency:     currency,
		siteBaseURL:  strings.TrimRight(p.Cfg.SiteBaseURL, "/"),
	}
}

type cartLine struct {
	bookID   snowflake.ID
	format   catalogdomain.Format
	quantity int
}

// Checkout prices the cart from the catalog, stores a pending purchase and
// only then opens the payment session. A gateway failure leaves the pending
// purchase in place for the expiry job.
func (s *Service) Checkout(ctx context.Context, req domain.Request) (*domain.Response, error) {
	resp, err := s.checkout(ctx, req)
	s.obsMetrics.RecordCheckout(checkoutOutcome(err))
	return resp, err
}

func (s *Service) checkout(ctx context.Context, req domain.Request) (*domain.Response, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, domain.ErrInvalidEmail
	}
	lines, err := parseLines(req.Items)
	if err != nil {
		return nil, err
	}

	ids := make([]snowflake.ID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.bookID)
	}
	books, err := s.catalog.GetBooks(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	purchase := &purchasedomain.Purchase{
		ID:           s.genID.Generate(),
		Email:        email,
		CustomerName: strings.TrimSpace(req.Name),
		Status:       purchasedomain.StatusPending,
		Currency:     s.currency,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	lineItems := make([]paymentdomain.LineItem, 0, len(lines))
	for i, line := range lines {
		book, ok := books[line.bookID]
		if !ok {
			return nil, domain.ErrUnresolvedItems
		}
		if book.PriceBase == nil {
			return nil, domain.ErrMissingPrice
		}
		if !book.HasFormat(line.format) {
			return nil, domain.ErrInvalidFormat
		}
		if book.Currency != "" && !strings.EqualFold(book.Currency, s.currency) {
			return nil, domain.ErrCurrencyMismatch
		}
		item := purchasedomain.Item{
			ID:         s.genID.Generate(),
			PurchaseID: purchase.ID,
			Position:   i,
			BookID:     book.ID,
			Title:      book.Title,
			Format:     line.format,
			Quantity:   line.quantity,
			Price:      *book.PriceBase,
		}
		purchase.Items = append(purchase.Items, item)
		purchase.TotalAmount += item.Subtotal()
		lineItems = append(lineItems, paymentdomain.LineItem{
			Name:        fmt.Sprintf("%s (%s)", book.Title, line.format),
			Description: book.Author,
			UnitAmount:  item.Price,
			Quantity:    item.Quantity,
		})
	}

	token, err := newDownloadToken()
	if err != nil {
		return nil, err
	}
	purchase.DownloadToken = token
	purchase.DownloadExpiry = now.Add(s.policy.Get().DownloadTTL)

	if err := s.purchaseRepo.Create(ctx, s.db, purchase); err != nil {
		return nil, err
	}
	log := s.log.With(zap.String("purchase_id", purchase.ID.String()))

	session, err := s.gateway.CreateSession(ctx, paymentdomain.SessionRequest{
		PurchaseID:    purchase.ID,
		DownloadToken: token,
		CustomerEmail: email,
		Currency:      s.currency,
		LineItems:     lineItems,
		SuccessURL:    s.siteBaseURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     s.siteBaseURL + "/cart",
	})
	if err != nil {
		log.Warn("payment session creation failed", zap.Error(err))
		if !errors.Is(err, paymentdomain.ErrGatewayFailure) && !errors.Is(err, paymentdomain.ErrInvalidConfig) {
			err = fmt.Errorf("%w: %w", paymentdomain.ErrGatewayFailure, err)
		}
		return nil, err
	}

	if err := s.purchaseRepo.SetSessionID(ctx, s.db, purchase.ID, session.ID, s.clock.Now()); err != nil {
		// The session metadata still carries the purchase id, so webhooks
		// resolve the purchase without the stored session id.
		log.Error("failed to store payment session id", zap.String("session_id", session.ID), zap.Error(err))
		return nil, err
	}

	log.Info("checkout session created",
		zap.String("session_id", session.ID),
		zap.Int64("total_amount", purchase.TotalAmount),
		zap.Int("items", len(purchase.Items)),
	)
	return &domain.Response{
		PurchaseID: purchase.ID.String(),
		SessionID:  session.ID,
		SessionURL: session.URL,
	}, nil
}

func parseLines(items []domain.ItemRequest) ([]cartLine, error) {
	if len(items) == 0 || len(items) > maxCartItems {
		return nil, domain.ErrEmptyCart
	}
	lines := make([]cartLine, 0, len(items))
	for _, item := range items {
		value, err := strconv.ParseInt(strings.TrimSpace(item.BookID), 10, 64)
		if err != nil || value <= 0 {
			return nil, domain.ErrInvalidBookID
		}
		if item.Quantity < 1 || item.Quantity > maxItemQuantity {
			return nil, domain.ErrInvalidQuantity
		}
		format := catalogdomain.Format(strings.ToLower(strings.TrimSpace(item.Format)))
		if format == "" {
			format = catalogdomain.FormatEbook
		}
		if !format.Valid() {
			return nil, domain.ErrInvalidFormat
		}
		lines = append(lines, cartLine{bookID: snowflake.ID(value), format: format, quantity: item.Quantity})
	}
	return lines, nil
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(addr.Address)), nil
}

func newDownloadToken() (string, error) {
	buf := make([]byte, downloadTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func checkoutOutcome(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, paymentdomain.ErrGatewayFailure):
		return "gateway_error"
	case errors.Is(err, domain.ErrInvalidEmail),
		errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrInvalidBookID),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidFormat),
		errors.Is(err, domain.ErrUnresolvedItems),
		errors.Is(err, domain.ErrMissingPrice),
		errors.Is(err, domain.ErrCurrencyMismatch):
		return "invalid"
	default:
		return "error"
	}
}
