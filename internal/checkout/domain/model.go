package domain

import (
	"context"
	"errors"
)

type Service interface {
	Checkout(ctx context.Context, req Request) (*Response, error)
}

type ItemRequest struct {
	BookID   string `json:"book_id"`
	Format   string `json:"format"`
	Quantity int    `json:"quantity"`
}

type Request struct {
	Email string        `json:"email"`
	Name  string        `json:"name"`
	Items []ItemRequest `json:"items"`
}

type Response struct {
	PurchaseID string `json:"purchase_id"`
	SessionID  string `json:"session_id"`
	SessionURL string `json:"session_url"`
}

var (
	ErrInvalidEmail     = errors.New("invalid_email")
	ErrEmptyCart        = errors.New("invalid_items")
	ErrInvalidBookID    = errors.New("invalid_book_id")
	ErrInvalidQuantity  = errors.New("invalid_quantity")
	ErrInvalidFormat    = errors.New("invalid_format")
	ErrUnresolvedItems  = errors.New("unresolved_items")
	ErrMissingPrice     = errors.New("missing_price")
	ErrCurrencyMismatch = errors.New("currency_mismatch")
)
