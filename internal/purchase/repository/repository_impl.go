package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/folio/internal/purchase/domain"
	"gorm.io/gorm"
)

const purchaseColumns = `id, email, customer_name, status, total_amount, currency, download_token,
	download_expiry, download_count, payment_session_id, payment_confirmation_id, notified_at,
	completed_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, p *domain.Purchase) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			`INSERT INTO purchases (`+purchaseColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID,
			p.Email,
			p.CustomerName,
			p.Status,
			p.TotalAmount,
			p.Currency,
			p.DownloadToken,
			p.DownloadExpiry,
			p.DownloadCount,
			p.PaymentSessionID,
			p.PaymentConfirmationID,
			p.NotifiedAt,
			p.CompletedAt,
			p.CreatedAt,
			p.UpdatedAt,
		).Error; err != nil {
			return err
		}

		for _, item := range p.Items {
			if err := tx.Exec(
				`INSERT INTO purchase_items (
					id, purchase_id, position, book_id, title, format, quantity, price, download_count
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				item.ID,
				p.ID,
				item.Position,
				item.BookID,
				item.Title,
				item.Format,
				item.Quantity,
				item.Price,
				item.DownloadCount,
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Purchase, error) {
	return r.findOne(ctx, db, `SELECT `+purchaseColumns+` FROM purchases WHERE id = ? LIMIT 1`, id)
}

func (r *repo) FindBySessionID(ctx context.Context, db *gorm.DB, sessionID string) (*domain.Purchase, error) {
	return r.findOne(ctx, db, `SELECT `+purchaseColumns+` FROM purchases WHERE payment_session_id = ? LIMIT 1`, sessionID)
}

func (r *repo) FindByPaymentIntentID(ctx context.Context, db *gorm.DB, intentID string) (*domain.Purchase, error) {
	return r.findOne(ctx, db, `SELECT `+purchaseColumns+` FROM purchases WHERE payment_confirmation_id = ? LIMIT 1`, intentID)
}

func (r *repo) FindByToken(ctx context.Context, db *gorm.DB, token string) (*domain.Purchase, error) {
	return r.findOne(ctx, db, `SELECT `+purchaseColumns+` FROM purchases WHERE download_token = ? LIMIT 1`, token)
}

func (r *repo) FindByTokenAndBook(ctx context.Context, db *gorm.DB, token string, bookID snowflake.ID) (*domain.Purchase, error) {
	return r.findOne(ctx, db,
		`SELECT `+purchaseColumns+`
		 FROM purchases p
		 WHERE p.download_token = ?
		   AND EXISTS (
			SELECT 1 FROM purchase_items i WHERE i.purchase_id = p.id AND i.book_id = ?
		   )
		 LIMIT 1`,
		token,
		bookID,
	)
}

func (r *repo) SetSessionID(ctx context.Context, db *gorm.DB, id snowflake.ID, sessionID string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE purchases SET payment_session_id = ?, updated_at = ? WHERE id = ?`,
		sessionID,
		at,
		id,
	).Error
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, t domain.TransitionParams) (bool, error) {
	var completedAt *time.Time
	if t.To == domain.StatusCompleted {
		at := t.At
		completedAt = &at
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE purchases
		 SET status = ?,
			payment_confirmation_id = COALESCE(?, payment_confirmation_id),
			completed_at = COALESCE(?, completed_at),
			updated_at = ?
		 WHERE id = ? AND status = ?`,
		t.To,
		t.ConfirmationID,
		completedAt,
		t.At,
		t.ID,
		t.From,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) RecordDownload(ctx context.Context, db *gorm.DB, itemID snowflake.ID, entry *domain.DownloadLog, max int) (bool, error) {
	applied := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(
			`UPDATE purchase_items
			 SET download_count = download_count + 1
			 WHERE id = ? AND download_count < ?`,
			itemID,
			max,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		if err := tx.Exec(
			`UPDATE purchases SET download_count = download_count + 1, updated_at = ? WHERE id = ?`,
			entry.CreatedAt,
			entry.PurchaseID,
		).Error; err != nil {
			return err
		}
		if err := tx.Exec(
			`INSERT INTO download_logs (id, purchase_id, book_id, ip, user_agent, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			entry.ID,
			entry.PurchaseID,
			entry.BookID,
			entry.IP,
			entry.UserAgent,
			entry.CreatedAt,
		).Error; err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *repo) ListDownloads(ctx context.Context, db *gorm.DB, purchaseID snowflake.ID) ([]domain.DownloadLog, error) {
	var logs []domain.DownloadLog
	err := db.WithContext(ctx).Raw(
		`SELECT id, purchase_id, book_id, ip, user_agent, created_at
		 FROM download_logs
		 WHERE purchase_id = ?
		 ORDER BY created_at ASC, id ASC`,
		purchaseID,
	).Scan(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// ListStalePending lists pending purchases created before the cutoff that
// never received a gateway session. Purchases with a session are failed by
// the gateway's own expiry event.
func (r *repo) ListStalePending(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]domain.Purchase, error) {
	var items []domain.Purchase
	err := db.WithContext(ctx).Raw(
		`SELECT `+purchaseColumns+`
		 FROM purchases
		 WHERE status = ? AND created_at < ? AND payment_session_id IS NULL
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		domain.StatusPending,
		before,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE 1 = 1`
	args := []any{}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.BeforeCreatedAt != nil && filter.BeforeID != nil {
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, *filter.BeforeCreatedAt, *filter.BeforeCreatedAt, *filter.BeforeID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, filter.Limit)

	var items []domain.Purchase
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	if err := r.attachItems(ctx, db, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) PurgeFailedBefore(ctx context.Context, db *gorm.DB, before time.Time) (int64, error) {
	var deleted int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub := `SELECT id FROM purchases WHERE status = ? AND created_at < ?`
		if err := tx.Exec(`DELETE FROM download_logs WHERE purchase_id IN (`+sub+`)`, domain.StatusFailed, before).Error; err != nil {
			return err
		}
		if err := tx.Exec(`DELETE FROM purchase_items WHERE purchase_id IN (`+sub+`)`, domain.StatusFailed, before).Error; err != nil {
			return err
		}
		res := tx.Exec(`DELETE FROM purchases WHERE status = ? AND created_at < ?`, domain.StatusFailed, before)
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (r *repo) MarkNotified(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE purchases SET notified_at = ?, updated_at = ? WHERE id = ?`,
		at,
		at,
		id,
	).Error
}

func (r *repo) Summary(ctx context.Context, db *gorm.DB) (domain.SalesSummary, error) {
	var summary domain.SalesSummary
	err := db.WithContext(ctx).Raw(
		`SELECT
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0) AS completed_count,
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0) AS pending_count,
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) AS failed_count,
			COALESCE(SUM(CASE WHEN status = 'completed' THEN total_amount ELSE 0 END), 0) AS revenue_amount,
			COALESCE(SUM(CASE WHEN status = 'completed' AND notified_at IS NULL THEN 1 ELSE 0 END), 0) AS unnotified_count
		 FROM purchases`,
	).Scan(&summary).Error
	if err != nil {
		return domain.SalesSummary{}, err
	}
	return summary, nil
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Purchase, error) {
	var p domain.Purchase
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&p).Error; err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	items := []domain.Purchase{p}
	if err := r.attachItems(ctx, db, items); err != nil {
		return nil, err
	}
	return &items[0], nil
}

func (r *repo) attachItems(ctx context.Context, db *gorm.DB, purchases []domain.Purchase) error {
	if len(purchases) == 0 {
		return nil
	}
	ids := make([]snowflake.ID, len(purchases))
	for i, p := range purchases {
		ids[i] = p.ID
	}

	var items []domain.Item
	err := db.WithContext(ctx).Raw(
		`SELECT id, purchase_id, position, book_id, title, format, quantity, price, download_count
		 FROM purchase_items
		 WHERE purchase_id IN ?
		 ORDER BY purchase_id ASC, position ASC`,
		ids,
	).Scan(&items).Error
	if err != nil {
		return err
	}

	byPurchase := make(map[snowflake.ID][]domain.Item, len(purchases))
	for _, item := range items {
		byPurchase[item.PurchaseID] = append(byPurchase[item.PurchaseID], item)
	}
	for i := range purchases {
		purchases[i].Items = byPurchase[purchases[i].ID]
	}
	return nil
}
