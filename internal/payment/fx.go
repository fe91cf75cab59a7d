package payment

import (
	"github.com/smallbiznis/folio/internal/clock"
	"github.com/smallbiznis/folio/internal/config"
	"github.com/smallbiznis/folio/internal/payment/adapters"
	"github.com/smallbiznis/folio/internal/payment/adapters/stripe"
	"github.com/smallbiznis/folio/internal/payment/domain"
	"github.com/smallbiznis/folio/internal/payment/repository"
	paymentservice "github.com/smallbiznis/folio/internal/payment/service"
	"github.com/smallbiznis/folio/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(NewGateway),
	fx.Provide(func(gateway domain.Gateway) *adapters.Registry {
		return adapters.NewRegistry(gateway)
	}),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)

// NewGateway builds the Stripe gateway behind a circuit breaker.
func NewGateway(cfg config.Config, clk clock.Clock, log *zap.Logger) domain.Gateway {
	gateway := stripe.New(stripe.Config{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		APIBase:       cfg.Stripe.APIBase,
		Tolerance:     cfg.Stripe.WebhookTolerance,
	}, clk)
	if cfg.Stripe.SecretKey == "" || cfg.Stripe.WebhookSecret == "" {
		log.Warn("stripe is not fully configured; checkout or webhooks will be rejected")
	}
	return adapters.WithBreaker(gateway, adapters.DefaultBreakerSettings(), log.Named("payment.gateway"))
}
