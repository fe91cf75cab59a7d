package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	purchasedomain "github.com/smallbiznis/folio/internal/purchase/domain"
	"gorm.io/datatypes"
)

const ProviderStripe = "stripe"

// EventRecord is the dedupe log of verified gateway events.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Provider        string         `json:"provider" gorm:"type:varchar(32);not null;uniqueIndex:ux_payment_events_provider_event,priority:1"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_payment_events_provider_event,priority:2"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	PurchaseID      *snowflake.ID  `json:"purchase_id,omitempty"`
	Outcome         string         `json:"outcome" gorm:"type:varchar(32);not null;default:''"`
	Payload         datatypes.JSON `json:"payload"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

// Outcomes recorded against an event once processing finishes.
const (
	OutcomeApplied  = "applied"
	OutcomeNoop     = "noop"
	OutcomeIgnored  = "ignored"
	OutcomeNotFound = "not_found"
)

// Event is the canonical event produced by a gateway adapter after the
// signature has been verified. An empty Kind means the event type is not
// relevant to purchases and is acknowledged without processing.
type Event struct {
	Provider        string
	ProviderEventID string
	Type            string
	Kind            purchasedomain.EventKind
	SessionID       string
	PaymentIntentID string
	PurchaseID      *snowflake.ID
	OccurredAt      time.Time
	RawPayload      []byte
}

type LineItem struct {
	Name        string
	Description string
	UnitAmount  int64
	Quantity    int
}

type SessionRequest struct {
	PurchaseID    snowflake.ID
	DownloadToken string
	CustomerEmail string
	Currency      string
	LineItems     []LineItem
	SuccessURL    string
	CancelURL     string
}

type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ProcessResult describes what the processor did with one delivery.
type ProcessResult struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Outcome         string
	PurchaseID      *snowflake.ID
	Duplicate       bool
}
