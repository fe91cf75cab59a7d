package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/folio/internal/config"
)

const (
	EndpointCheckout = "checkout"
	EndpointDownload = "download"
	EndpointRating   = "rating"

	keyEndpointClient = "folio:ratelimit:%s:%s"
	window            = time.Minute
)

// Limiter applies the per-client request limits of the public endpoints. A nil
// Limiter or one without redis allows every request.
type Limiter struct {
	window *FixedWindow
	policy *config.PolicyHolder
}

func NewLimiter(client *redis.Client, policy *config.PolicyHolder) *Limiter {
	return &Limiter{
		window: NewFixedWindow(client),
		policy: policy,
	}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.window != nil
}

// Allow checks one hit for client against the endpoint's per-minute limit.
func (l *Limiter) Allow(ctx context.Context, endpoint, client string) (*Result, error) {
	limit := l.limitFor(endpoint)
	if !l.Enabled() || limit <= 0 {
		return &Result{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	client = strings.TrimSpace(client)
	if client == "" {
		client = "unknown"
	}
	return l.window.Allow(ctx, fmt.Sprintf(keyEndpointClient, endpoint, client), limit, window)
}

func (l *Limiter) limitFor(endpoint string) int {
	if l == nil {
		return 0
	}
	policy := l.policy.Get()
	switch endpoint {
	case EndpointCheckout:
		return policy.CheckoutPerMinute
	case EndpointDownload:
		return policy.DownloadPerMinute
	case EndpointRating:
		return policy.RatingPerMinute
	default:
		return 0
	}
}
