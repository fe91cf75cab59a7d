package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/folio/internal/clock"
	"github.com/smallbiznis/folio/internal/config"
	"github.com/smallbiznis/folio/internal/purchase/domain"
	"github.com/smallbiznis/folio/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
	Cfg   config.Config
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     domain.Repository
	currency string
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("purchase.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		currency: p.Cfg.Currency,
	}
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	filter := domain.ListFilter{Limit: req.Limit() + 1}
	if status := strings.ToLower(strings.TrimSpace(req.Status)); status != "" {
		filter.Status = domain.Status(status)
		if !filter.Status.Valid() {
			return domain.ListResponse{}, domain.ErrInvalidStatus
		}
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.ListResponse{}, err
	}
	if cursor != nil {
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return domain.ListResponse{}, pagination.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListResponse{}, pagination.ErrInvalidPageToken
		}
		filter.BeforeCreatedAt = &createdAt
		filter.BeforeID = &id
	}

	rows, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}
	ptrs := make([]*domain.Purchase, len(rows))
	for i := range rows {
		ptrs[i] = &rows[i]
	}
	page, info, err := pagination.BuildCursorPageInfo(ptrs, req.Limit(), func(p *domain.Purchase) pagination.Cursor {
		return pagination.Cursor{ID: p.ID.String(), CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339Nano)}
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	out := make([]domain.Purchase, len(page))
	for i, p := range page {
		out[i] = *p
	}
	return domain.ListResponse{Purchases: out, PageInfo: info}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Detail, error) {
	purchaseID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	p, err := s.repo.FindByID(ctx, s.db, purchaseID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrNotFound
	}
	downloads, err := s.repo.ListDownloads(ctx, s.db, purchaseID)
	if err != nil {
		return nil, err
	}
	return &domain.Detail{Purchase: *p, Downloads: downloads}, nil
}

// PurgeFailed deletes failed purchases created before the cutoff. The cutoff
// must lie in the past.
func (s *Service) PurgeFailed(ctx context.Context, before time.Time) (int64, error) {
	if before.IsZero() || !before.Before(s.clock.Now()) {
		return 0, domain.ErrInvalidPurgeCutoff
	}
	deleted, err := s.repo.PurgeFailedBefore(ctx, s.db, before.UTC())
	if err != nil {
		return 0, err
	}
	s.log.Info("purged failed purchases", zap.Time("before", before), zap.Int64("deleted", deleted))
	return deleted, nil
}

func (s *Service) Summary(ctx context.Context) (domain.SalesSummary, error) {
	summary, err := s.repo.Summary(ctx, s.db)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	summary.Currency = s.currency
	return summary, nil
}

func parseID(raw string) (snowflake.ID, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || value <= 0 {
		return 0, domain.ErrInvalidID
	}
	return snowflake.ID(value), nil
}
