package domain

import (
	"context"
	"errors"
	"net/http"
)

// Gateway wraps the hosted payment processor.
type Gateway interface {
	Provider() string
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	// ParseEvent verifies the payload signature and maps it to a canonical event.
	// Verification failures return ErrInvalidSignature and nothing else.
	ParseEvent(ctx context.Context, payload []byte, headers http.Header) (*Event, error)
}

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrInvalidConfig    = errors.New("invalid_config")
	ErrGatewayFailure   = errors.New("gateway_error")
	ErrGatewayOpen      = errors.New("gateway_unavailable")
	ErrProviderNotFound = errors.New("provider_not_found")
)
