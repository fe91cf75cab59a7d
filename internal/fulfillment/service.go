package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/folio/internal/catalog/domain"
	"github.com/smallbiznis/folio/internal/clock"
	"github.com/smallbiznis/folio/internal/notification"
	obsmetrics "github.com/smallbiznis/folio/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/folio/internal/payment/domain"
	"github.com/smallbiznis/folio/internal/providers/events"
	purchasedomain "github.com/smallbiznis/folio/internal/purchase/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("fulfillment.service",
	fx.Provide(New),
	fx.Provide(func(s *Service) paymentdomain.Fulfiller { return s }),
	fx.Provide(func(n *notification.Service) Notifier { return n }),
)

// Notifier delivers the purchase confirmation email.
type Notifier interface {
	SendPurchaseConfirmation(ctx context.Context, p *purchasedomain.Purchase) error
}

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	PurchaseRepo purchasedomain.Repository
	Catalog      catalogdomain.Lookup
	Notifier     Notifier
	Publisher    events.Publisher
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	purchaseRepo purchasedomain.Repository
	catalog      catalogdomain.Lookup
	notifier     Notifier
	publisher    events.Publisher
	obsMetrics   *obsmetrics.Metrics
}

func New(p Params) *Service {
	publisher := p.Publisher
	if publisher == nil {
		publisher = events.NoOpPublisher{}
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("fulfillment.service"),
		clock:        p.Clock,
		purchaseRepo: p.PurchaseRepo,
		catalog:      p.Catalog,
		notifier:     p.Notifier,
		publisher:    publisher,
		obsMetrics:   p.ObsMetrics,
	}
}

// Fulfill runs the post-payment side effects of a completed purchase. Every
// step is attempted even when an earlier one fails; the joined error reports
// all failures.
func (s *Service) Fulfill(ctx context.Context, purchaseID snowflake.ID) error {
	p, err := s.loadCompleted(ctx, purchaseID)
	if err != nil {
		return err
	}

	var errs []error
	for _, item := range p.Items {
		if err := s.catalog.IncrementSales(ctx, item.BookID, item.Quantity); err != nil {
			s.fail("sales_count", err,
				zap.String("purchase_id", p.ID.String()),
				zap.String("book_id", item.BookID.String()),
			)
			errs = append(errs, fmt.Errorf("increment sales for %s: %w", item.BookID, err))
		}
	}

	if p.NotifiedAt == nil {
		if err := s.notify(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.publisher.PublishPurchaseCompleted(ctx, completedEvent(p)); err != nil {
		s.fail("publish", err, zap.String("purchase_id", p.ID.String()))
		errs = append(errs, fmt.Errorf("publish purchase completed: %w", err))
	}

	if len(errs) == 0 {
		s.log.Info("purchase fulfilled", zap.String("purchase_id", p.ID.String()))
	}
	return errors.Join(errs...)
}

// Resend delivers the confirmation email again for a completed purchase.
func (s *Service) Resend(ctx context.Context, purchaseID snowflake.ID) error {
	p, err := s.loadCompleted(ctx, purchaseID)
	if err != nil {
		return err
	}
	return s.notify(ctx, p)
}

func (s *Service) loadCompleted(ctx context.Context, purchaseID snowflake.ID) (*purchasedomain.Purchase, error) {
	p, err := s.purchaseRepo.FindByID(ctx, s.db, purchaseID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, purchasedomain.ErrNotFound
	}
	if p.Status != purchasedomain.StatusCompleted {
		return nil, purchasedomain.ErrNotCompleted
	}
	return p, nil
}

func (s *Service) notify(ctx context.Context, p *purchasedomain.Purchase) error {
	if err := s.notifier.SendPurchaseConfirmation(ctx, p); err != nil {
		s.fail("email", err, zap.String("purchase_id", p.ID.String()))
		return fmt.Errorf("send confirmation: %w", err)
	}
	if err := s.purchaseRepo.MarkNotified(ctx, s.db, p.ID, s.clock.Now().UTC()); err != nil {
		s.fail("mark_notified", err, zap.String("purchase_id", p.ID.String()))
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

func (s *Service) fail(step string, err error, fields ...zap.Field) {
	s.obsMetrics.RecordFulfillmentFailure(step)
	s.log.Error("fulfillment step failed", append(fields, zap.String("step", step), zap.Error(err))...)
}

func completedEvent(p *purchasedomain.Purchase) events.PurchaseCompleted {
	evt := events.PurchaseCompleted{
		Type:        events.TypePurchaseCompleted,
		PurchaseID:  p.ID.String(),
		Email:       p.Email,
		TotalAmount: p.TotalAmount,
		Currency:    p.Currency,
		CompletedAt: p.UpdatedAt,
	}
	if p.CompletedAt != nil {
		evt.CompletedAt = *p.CompletedAt
	}
	for _, item := range p.Items {
		evt.Items = append(evt.Items, events.PurchaseCompletedItem{
			BookID:   item.BookID.String(),
			Format:   string(item.Format),
			Quantity: item.Quantity,
			Price:    item.Price,
		})
	}
	return evt
}
