package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Create inserts the purchase and its items atomically.
	Create(ctx context.Context, db *gorm.DB, purchase *Purchase) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Purchase, error)
	FindBySessionID(ctx context.Context, db *gorm.DB, sessionID string) (*Purchase, error)
	FindByPaymentIntentID(ctx context.Context, db *gorm.DB, intentID string) (*Purchase, error)
	FindByToken(ctx context.Context, db *gorm.DB, token string) (*Purchase, error)
	// FindByTokenAndBook matches only when the token's purchase contains bookID.
	FindByTokenAndBook(ctx context.Context, db *gorm.DB, token string, bookID snowflake.ID) (*Purchase, error)
	SetSessionID(ctx context.Context, db *gorm.DB, id snowflake.ID, sessionID string, at time.Time) error
	// Transition applies the status change only while the row still has the
	// expected status and reports whether it did.
	Transition(ctx context.Context, db *gorm.DB, t TransitionParams) (bool, error)
	// RecordDownload increments the item counter only while it is below max and
	// appends the attempt log in the same transaction.
	RecordDownload(ctx context.Context, db *gorm.DB, itemID snowflake.ID, entry *DownloadLog, max int) (bool, error)
	ListDownloads(ctx context.Context, db *gorm.DB, purchaseID snowflake.ID) ([]DownloadLog, error)
	ListStalePending(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]Purchase, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Purchase, error)
	PurgeFailedBefore(ctx context.Context, db *gorm.DB, before time.Time) (int64, error)
	MarkNotified(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	Summary(ctx context.Context, db *gorm.DB) (SalesSummary, error)
}

type TransitionParams struct {
	ID             snowflake.ID
	From           Status
	To             Status
	ConfirmationID *string
	At             time.Time
}

type ListFilter struct {
	Status          Status
	Limit           int
	BeforeCreatedAt *time.Time
	BeforeID        *snowflake.ID
}

var (
	ErrNotFound           = errors.New("purchase_not_found")
	ErrInvalidID          = errors.New("invalid_id")
	ErrInvalidStatus      = errors.New("invalid_status")
	ErrNotCompleted       = errors.New("purchase_not_completed")
	ErrInvalidPurgeCutoff = errors.New("invalid_before")
)
