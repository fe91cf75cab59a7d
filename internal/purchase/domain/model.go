package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/folio/internal/catalog/domain"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Purchase is one checkout attempt. Items and TotalAmount are captured at
// creation and never recomputed from the catalog.
type Purchase struct {
	ID                    snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Email                 string       `json:"email" gorm:"type:text;not null"`
	CustomerName          string       `json:"customer_name" gorm:"type:text;not null;default:''"`
	Status                Status       `json:"status" gorm:"type:varchar(16);not null;index:idx_purchases_status_created_at,priority:1"`
	TotalAmount           int64        `json:"total_amount" gorm:"not null"`
	Currency              string       `json:"currency" gorm:"type:varchar(8);not null"`
	DownloadToken         string       `json:"-" gorm:"type:varchar(64);not null;uniqueIndex"`
	DownloadExpiry        time.Time    `json:"download_expiry" gorm:"not null"`
	DownloadCount         int          `json:"download_count" gorm:"not null;default:0"`
	PaymentSessionID      *string      `json:"payment_session_id,omitempty" gorm:"type:varchar(255);uniqueIndex"`
	PaymentConfirmationID *string      `json:"payment_confirmation_id,omitempty" gorm:"type:varchar(255);index"`
	NotifiedAt            *time.Time   `json:"notified_at,omitempty"`
	CompletedAt           *time.Time   `json:"completed_at,omitempty"`
	CreatedAt             time.Time    `json:"created_at" gorm:"not null;index:idx_purchases_status_created_at,priority:2"`
	UpdatedAt             time.Time    `json:"updated_at" gorm:"not null"`

	Items []Item `json:"items" gorm:"-"`
}

func (Purchase) TableName() string { return "purchases" }

// ItemForBook returns the first item referencing bookID, preferring a digital format.
func (p *Purchase) ItemForBook(bookID snowflake.ID) *Item {
	var match *Item
	for i := range p.Items {
		item := &p.Items[i]
		if item.BookID != bookID {
			continue
		}
		if item.Format.Digital() {
			return item
		}
		if match == nil {
			match = item
		}
	}
	return match
}

type Item struct {
	ID            snowflake.ID         `json:"id" gorm:"primaryKey;autoIncrement:false"`
	PurchaseID    snowflake.ID         `json:"purchase_id" gorm:"not null;uniqueIndex:ux_purchase_items_position,priority:1"`
	Position      int                  `json:"position" gorm:"not null;uniqueIndex:ux_purchase_items_position,priority:2"`
	BookID        snowflake.ID         `json:"book_id" gorm:"not null;index"`
	Title         string               `json:"title" gorm:"type:text;not null"`
	Format        catalogdomain.Format `json:"format" gorm:"type:varchar(16);not null"`
	Quantity      int                  `json:"quantity" gorm:"not null"`
	Price         int64                `json:"price" gorm:"not null"`
	DownloadCount int                  `json:"download_count" gorm:"not null;default:0"`
}

func (Item) TableName() string { return "purchase_items" }

func (i Item) Subtotal() int64 {
	return i.Price * int64(i.Quantity)
}

type DownloadLog struct {
	ID         string       `json:"id" gorm:"type:varchar(26);primaryKey"`
	PurchaseID snowflake.ID `json:"purchase_id" gorm:"not null;index"`
	BookID     snowflake.ID `json:"book_id" gorm:"not null"`
	IP         string       `json:"ip" gorm:"type:text;not null;default:''"`
	UserAgent  string       `json:"user_agent" gorm:"type:text;not null;default:''"`
	CreatedAt  time.Time    `json:"created_at" gorm:"not null"`
}

func (DownloadLog) TableName() string { return "download_logs" }

// SalesSummary aggregates completed purchases for the admin dashboard.
type SalesSummary struct {
	Currency        string `json:"currency"`
	CompletedCount  int64  `json:"completed_count"`
	PendingCount    int64  `json:"pending_count"`
	FailedCount     int64  `json:"failed_count"`
	RevenueAmount   int64  `json:"revenue_amount"`
	UnnotifiedCount int64  `json:"unnotified_count"`
}
