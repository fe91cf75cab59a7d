package webhook

import (
	"context"
	"net/http"
	"strings"

	"github.com/smallbiznis/folio/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/folio/internal/payment/domain"
	paymentservice "github.com/smallbiznis/folio/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	PaymentSvc *paymentservice.Service
	Adapters   *adapters.Registry
}

type Service struct {
	log        *zap.Logger
	paymentSvc *paymentservice.Service
	adapters   *adapters.Registry
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		log:        p.Log.Named("payment.webhook"),
		paymentSvc: p.PaymentSvc,
		adapters:   p.Adapters,
	}
}

// IngestWebhook verifies the delivery with the provider's gateway and hands
// the canonical event to the processor. Nothing is written before the
// signature verifies.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*paymentdomain.ProcessResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	gateway, err := s.adapters.Gateway(provider)
	if err != nil {
		return nil, err
	}

	event, err := gateway.ParseEvent(ctx, payload, headers)
	if err != nil {
		s.log.Warn("payment webhook rejected", zap.String("provider", provider), zap.Error(err))
		return nil, err
	}
	if event.RawPayload == nil {
		event.RawPayload = payload
	}
	if event.Provider == "" {
		event.Provider = provider
	}
	return s.paymentSvc.ProcessEvent(ctx, event)
}
