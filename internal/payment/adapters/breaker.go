package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/smallbiznis/folio/internal/payment/domain"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second}
}

// breakerGateway guards session creation. Webhook parsing is local work and
// passes straight through.
type breakerGateway struct {
	next domain.Gateway
	cb   *gobreaker.CircuitBreaker
}

func WithBreaker(next domain.Gateway, settings BreakerSettings, log *zap.Logger) domain.Gateway {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = DefaultBreakerSettings().ConsecutiveFailures
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = DefaultBreakerSettings().OpenTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	threshold := settings.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        next.Provider(),
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrInvalidConfig) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("payment gateway breaker state changed",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &breakerGateway{next: next, cb: cb}
}

func (g *breakerGateway) Provider() string {
	return g.next.Provider()
}

func (g *breakerGateway) CreateSession(ctx context.Context, req domain.SessionRequest) (*domain.Session, error) {
	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.CreateSession(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", domain.ErrGatewayFailure, domain.ErrGatewayOpen)
		}
		return nil, err
	}
	session, _ := out.(*domain.Session)
	if session == nil {
		return nil, fmt.Errorf("%w: empty session", domain.ErrGatewayFailure)
	}
	return session, nil
}

func (g *breakerGateway) ParseEvent(ctx context.Context, payload []byte, headers http.Header) (*domain.Event, error) {
	return g.next.ParseEvent(ctx, payload, headers)
}
