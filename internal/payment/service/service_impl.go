package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/folio/internal/clock"
	obsmetrics "github.com/smallbiznis/folio/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/folio/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/folio/internal/purchase/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         paymentdomain.Repository
	PurchaseRepo purchasedomain.Repository
	Fulfiller    paymentdomain.Fulfiller
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

// Service applies verified gateway events to purchases.
type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         paymentdomain.Repository
	purchaseRepo purchasedomain.Repository
	fulfiller    paymentdomain.Fulfiller
	obsMetrics   *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("payment.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		purchaseRepo: p.PurchaseRepo,
		fulfiller:    p.Fulfiller,
		obsMetrics:   p.ObsMetrics,
	}
}

// ProcessEvent records the event, skips ids that were already processed and
// drives the purchase through purchasedomain.Next. Failures after a purchase
// is completed are logged only.
func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.Event) (*paymentdomain.ProcessResult, error) {
	if event == nil {
		return nil, paymentdomain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	if event.Provider == "" || event.ProviderEventID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	if !json.Valid(event.RawPayload) {
		return nil, paymentdomain.ErrInvalidPayload
	}

	result := &paymentdomain.ProcessResult{
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
	}

	now := s.clock.Now()
	received := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		PurchaseID:      event.PurchaseID,
		Payload:         datatypes.JSON(event.RawPayload),
		ReceivedAt:      now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return nil, err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			result.Duplicate = true
			result.Outcome = stored.Outcome
			result.PurchaseID = stored.PurchaseID
			s.log.Info("payment event already processed",
				zap.String("provider", event.Provider),
				zap.String("provider_event_id", event.ProviderEventID),
			)
			s.obsMetrics.RecordPaymentEvent(event.Provider, event.Type, "duplicate")
			return result, nil
		}
	}

	outcome, purchaseID, err := s.apply(ctx, event)
	if err != nil {
		return nil, err
	}
	result.Outcome = outcome
	result.PurchaseID = purchaseID

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, purchaseID, outcome, s.clock.Now()); err != nil {
		return nil, err
	}
	s.obsMetrics.RecordPaymentEvent(event.Provider, event.Type, outcome)
	return result, nil
}

func (s *Service) apply(ctx context.Context, event *paymentdomain.Event) (string, *snowflake.ID, error) {
	log := s.log.With(
		zap.String("provider", event.Provider),
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("event_type", event.Type),
	)

	if event.Kind == "" {
		log.Debug("payment event ignored")
		return paymentdomain.OutcomeIgnored, nil, nil
	}

	purchase, err := s.locate(ctx, event)
	if err != nil {
		return "", nil, err
	}
	if purchase == nil {
		log.Warn("payment event has no matching purchase",
			zap.String("session_id", event.SessionID),
			zap.String("payment_intent_id", event.PaymentIntentID),
		)
		return paymentdomain.OutcomeNotFound, nil, nil
	}
	purchaseID := purchase.ID
	log = log.With(zap.String("purchase_id", purchaseID.String()))

	next, ok := purchasedomain.Next(purchase.Status, event.Kind)
	if !ok {
		log.Info("payment event is a no-op", zap.String("status", string(purchase.Status)))
		return paymentdomain.OutcomeNoop, &purchaseID, nil
	}

	// The confirmation id is only stored for a confirmed payment.
	var confirmationID *string
	if intentID := strings.TrimSpace(event.PaymentIntentID); intentID != "" && next == purchasedomain.StatusCompleted {
		confirmationID = &intentID
	}
	applied, err := s.purchaseRepo.Transition(ctx, s.db, purchasedomain.TransitionParams{
		ID:             purchaseID,
		From:           purchase.Status,
		To:             next,
		ConfirmationID: confirmationID,
		At:             s.clock.Now(),
	})
	if err != nil {
		return "", nil, err
	}
	if !applied {
		log.Info("purchase status changed concurrently, skipping")
		return paymentdomain.OutcomeNoop, &purchaseID, nil
	}
	log.Info("purchase transitioned",
		zap.String("from", string(purchase.Status)),
		zap.String("to", string(next)),
	)

	if next == purchasedomain.StatusCompleted && s.fulfiller != nil {
		if err := s.fulfiller.Fulfill(ctx, purchaseID); err != nil {
			log.Error("fulfillment failed after payment confirmation", zap.Error(err))
			s.obsMetrics.RecordFulfillmentFailure("fulfill")
		}
	}
	return paymentdomain.OutcomeApplied, &purchaseID, nil
}

// locate resolves the purchase an event refers to. The metadata purchase id
// is only trusted when it does not contradict a stored session id.
func (s *Service) locate(ctx context.Context, event *paymentdomain.Event) (*purchasedomain.Purchase, error) {
	if event.Kind == purchasedomain.EventPaymentFailed && event.PaymentIntentID != "" {
		purchase, err := s.purchaseRepo.FindByPaymentIntentID(ctx, s.db, event.PaymentIntentID)
		if err != nil || purchase != nil {
			return purchase, err
		}
	}
	if event.SessionID != "" {
		purchase, err := s.purchaseRepo.FindBySessionID(ctx, s.db, event.SessionID)
		if err != nil || purchase != nil {
			return purchase, err
		}
	}
	if event.PurchaseID == nil {
		return nil, nil
	}
	purchase, err := s.purchaseRepo.FindByID(ctx, s.db, *event.PurchaseID)
	if err != nil || purchase == nil {
		return nil, err
	}
	if event.SessionID != "" && purchase.PaymentSessionID != nil && *purchase.PaymentSessionID != event.SessionID {
		return nil, nil
	}
	return purchase, nil
}
