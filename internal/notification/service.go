package notification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/folio/internal/config"
	"github.com/smallbiznis/folio/internal/providers/email"
	"github.com/smallbiznis/folio/internal/providers/pdf"
	purchasedomain "github.com/smallbiznis/folio/internal/purchase/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const templatePurchaseConfirmation = "purchase_confirmation"

var Module = fx.Module("notification.service",
	fx.Provide(New),
)

var ErrInvalidToken = errors.New("invalid_token")

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Cfg          config.Config
	Policy       *config.PolicyHolder
	Email        email.Provider
	PDF          pdf.Provider
	PurchaseRepo purchasedomain.Repository
}

// Service renders and delivers customer-facing documents for purchases.
type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	policy       *config.PolicyHolder
	email        email.Provider
	pdf          pdf.Provider
	purchaseRepo purchasedomain.Repository
	storeName    string
	storeEmail   string
	siteBaseURL  string
}

func New(p Params) *Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("notification.service"),
		policy:       p.Policy,
		email:        p.Email,
		pdf:          p.PDF,
		purchaseRepo: p.PurchaseRepo,
		storeName:    "Folio Books",
		storeEmail:   p.Cfg.Email.SMTPFrom,
		siteBaseURL:  strings.TrimRight(p.Cfg.SiteBaseURL, "/"),
	}
}

type confirmationItem struct {
	Title    string
	Format   string
	Quantity int
	Amount   string
}

type downloadLink struct {
	Title string
	URL   string
}

type confirmationData struct {
	CustomerName   string
	PurchaseID     string
	PurchasedAt    string
	Items          []confirmationItem
	Total          string
	Downloads      []downloadLink
	DownloadExpiry string
	DownloadLimit  int
	ReceiptURL     string
}

func (d confirmationData) Subject() string {
	return fmt.Sprintf("Your Folio order %s", d.PurchaseID)
}

// SendPurchaseConfirmation emails the order summary with one download link per
// digital title.
func (s *Service) SendPurchaseConfirmation(ctx context.Context, p *purchasedomain.Purchase) error {
	if p == nil {
		return purchasedomain.ErrNotFound
	}
	data := s.confirmationData(p)
	if err := s.email.SendTemplate(ctx, []string{p.Email}, templatePurchaseConfirmation, data); err != nil {
		return fmt.Errorf("send purchase confirmation: %w", err)
	}
	s.log.Info("purchase confirmation sent", zap.String("purchase_id", p.ID.String()))
	return nil
}

func (s *Service) confirmationData(p *purchasedomain.Purchase) confirmationData {
	data := confirmationData{
		CustomerName:   p.CustomerName,
		PurchaseID:     p.ID.String(),
		PurchasedAt:    p.CreatedAt.UTC().Format("January 2, 2006"),
		Total:          FormatMoney(p.TotalAmount, p.Currency),
		DownloadExpiry: p.DownloadExpiry.UTC().Format("January 2, 2006 15:04 MST"),
		DownloadLimit:  s.policy.Get().DownloadMaxPerPurchase,
		ReceiptURL:     s.ReceiptURL(p.DownloadToken),
	}
	seen := map[string]bool{}
	for _, item := range p.Items {
		data.Items = append(data.Items, confirmationItem{
			Title:    item.Title,
			Format:   string(item.Format),
			Quantity: item.Quantity,
			Amount:   FormatMoney(item.Subtotal(), p.Currency),
		})
		bookID := item.BookID.String()
		if item.Format.Digital() && !seen[bookID] {
			seen[bookID] = true
			data.Downloads = append(data.Downloads, downloadLink{
				Title: item.Title,
				URL:   s.DownloadURL(p.DownloadToken, bookID),
			})
		}
	}
	return data
}

func (s *Service) DownloadURL(token string, bookID string) string {
	return fmt.Sprintf("%s/api/downloads/%s/%s", s.siteBaseURL, url.PathEscape(token), url.PathEscape(bookID))
}

func (s *Service) ReceiptURL(token string) string {
	return fmt.Sprintf("%s/api/purchases/receipt?token=%s", s.siteBaseURL, url.QueryEscape(token))
}

// ReceiptForToken renders the PDF receipt of a completed purchase.
func (s *Service) ReceiptForToken(ctx context.Context, token string) (io.Reader, string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, "", ErrInvalidToken
	}
	p, err := s.purchaseRepo.FindByToken(ctx, s.db, token)
	if err != nil {
		return nil, "", err
	}
	if p == nil {
		return nil, "", purchasedomain.ErrNotFound
	}
	if p.Status != purchasedomain.StatusCompleted {
		return nil, "", purchasedomain.ErrNotCompleted
	}
	r, err := s.Receipt(ctx, p)
	if err != nil {
		return nil, "", err
	}
	return r, fmt.Sprintf("receipt-%s.pdf", p.ID.String()), nil
}

func (s *Service) Receipt(ctx context.Context, p *purchasedomain.Purchase) (io.Reader, error) {
	paidAt := p.UpdatedAt
	if p.CompletedAt != nil {
		paidAt = *p.CompletedAt
	}
	paymentRef := ""
	if p.PaymentConfirmationID != nil {
		paymentRef = *p.PaymentConfirmationID
	}
	data := pdf.ReceiptData{
		StoreName:    s.storeName,
		StoreEmail:   s.storeEmail,
		PurchaseID:   p.ID.String(),
		DatePaid:     paidAt.UTC().Format(time.DateOnly),
		PaymentRef:   paymentRef,
		CustomerName: p.CustomerName,
		Email:        p.Email,
		Total:        FormatMoney(p.TotalAmount, p.Currency),
	}
	for _, item := range p.Items {
		data.Items = append(data.Items, pdf.ReceiptItem{
			Description: fmt.Sprintf("%s (%s)", item.Title, item.Format),
			Qty:         item.Quantity,
			UnitPrice:   FormatMoney(item.Price, p.Currency),
			Amount:      FormatMoney(item.Subtotal(), p.Currency),
		})
	}
	return s.pdf.GenerateReceipt(ctx, data)
}
