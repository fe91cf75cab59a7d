package testutil

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/folio/internal/catalog/domain"
	purchasedomain "github.com/smallbiznis/folio/internal/purchase/domain"
	"gorm.io/gorm"
)

// SeedBook inserts an ebook priced at price minor units. A negative price
// leaves the price unset.
func SeedBook(t testing.TB, db *gorm.DB, node *snowflake.Node, title string, price int64) catalogdomain.Book {
	t.Helper()
	now := time.Now().UTC()
	id := node.Generate()
	book := catalogdomain.Book{
		ID:        id,
		Slug:      "book-" + id.String(),
		Title:     title,
		Author:    "Test Author",
		Currency:  "usd",
		Formats:   catalogdomain.JoinFormats([]catalogdomain.Format{catalogdomain.FormatEbook, catalogdomain.FormatPaperback}),
		AssetPath: id.String() + ".epub",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if price >= 0 {
		book.PriceBase = &price
	}
	if err := db.Create(&book).Error; err != nil {
		t.Fatalf("seed book: %v", err)
	}
	return book
}

type PurchaseSeed struct {
	Status    purchasedomain.Status
	SessionID string
	Token     string
	Expiry    time.Time
	CreatedAt time.Time
	Books     []catalogdomain.Book
}

// SeedPurchase inserts a purchase with one ebook item of quantity 1 per book.
func SeedPurchase(t testing.TB, db *gorm.DB, node *snowflake.Node, seed PurchaseSeed) purchasedomain.Purchase {
	t.Helper()
	now := time.Now().UTC()
	if seed.Status == "" {
		seed.Status = purchasedomain.StatusPending
	}
	if seed.Token == "" {
		seed.Token = "tok-" + node.Generate().String()
	}
	if seed.Expiry.IsZero() {
		seed.Expiry = now.Add(7 * 24 * time.Hour)
	}
	if seed.CreatedAt.IsZero() {
		seed.CreatedAt = now
	}

	p := purchasedomain.Purchase{
		ID:             node.Generate(),
		Email:          "reader@example.com",
		CustomerName:   "Reader",
		Status:         seed.Status,
		Currency:       "usd",
		DownloadToken:  seed.Token,
		DownloadExpiry: seed.Expiry,
		CreatedAt:      seed.CreatedAt,
		UpdatedAt:      seed.CreatedAt,
	}
	if seed.SessionID != "" {
		sessionID := seed.SessionID
		p.PaymentSessionID = &sessionID
	}
	for i, book := range seed.Books {
		price := int64(0)
		if book.PriceBase != nil {
			price = *book.PriceBase
		}
		p.Items = append(p.Items, purchasedomain.Item{
			ID:         node.Generate(),
			PurchaseID: p.ID,
			Position:   i,
			BookID:     book.ID,
			Title:      book.Title,
			Format:     catalogdomain.FormatEbook,
			Quantity:   1,
			Price:      price,
		})
		p.TotalAmount += price
	}

	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("seed purchase: %v", err)
	}
	if len(p.Items) > 0 {
		if err := db.Create(&p.Items).Error; err != nil {
			t.Fatalf("seed purchase items: %v", err)
		}
	}
	return p
}
