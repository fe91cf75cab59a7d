package domain

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
)

// Service is the webhook entry point. Every error other than
// ErrInvalidSignature, ErrInvalidPayload, ErrInvalidEvent or
// ErrProviderNotFound is a local failure the gateway should redeliver on.
type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*ProcessResult, error)
}

// Fulfiller runs the side effects of a confirmed purchase. Its errors are
// reported but never change the purchase status.
type Fulfiller interface {
	Fulfill(ctx context.Context, purchaseID snowflake.ID) error
}
