package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	catalogdomain "github.com/smallbiznis/folio/internal/catalog/domain"
	"github.com/smallbiznis/folio/internal/clock"
	"github.com/smallbiznis/folio/internal/config"
	"github.com/smallbiznis/folio/internal/download/domain"
	obsmetrics "github.com/smallbiznis/folio/internal/observability/metrics"
	purchasedomain "github.com/smallbiznis/folio/internal/purchase/domain"
	"github.com/spf13/afero"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Policy       *config.PolicyHolder
	Assets       afero.Fs
	Catalog      catalogdomain.Lookup
	PurchaseRepo purchasedomain.Repository
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	policy       *config.PolicyHolder
	assets       afero.Fs
	catalog      catalogdomain.Lookup
	purchaseRepo purchasedomain.Repository
	obsMetrics   *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("download.service"),
		clock:        p.Clock,
		policy:       p.Policy,
		assets:       p.Assets,
		catalog:      p.Catalog,
		purchaseRepo: p.PurchaseRepo,
		obsMetrics:   p.ObsMetrics,
	}
}

func (s *Service) Download(ctx context.Context, req domain.Request) (*domain.Asset, error) {
	asset, err := s.download(ctx, req)
	s.obsMetrics.RecordDownload(outcomeFor(err))
	return asset, err
}

func (s *Service) download(ctx context.Context, req domain.Request) (*domain.Asset, error) {
	token := strings.TrimSpace(req.Token)
	bookID, err := snowflake.ParseString(strings.TrimSpace(req.BookID))
	if token == "" || err != nil {
		return nil, domain.ErrNotFound
	}

	p, err := s.purchaseRepo.FindByTokenAndBook(ctx, s.db, token, bookID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrNotFound
	}
	if p.Status != purchasedomain.StatusCompleted {
		return nil, purchasedomain.ErrNotCompleted
	}

	now := s.clock.Now().UTC()
	if !now.Before(p.DownloadExpiry) {
		return nil, domain.ErrExpired
	}

	item := p.ItemForBook(bookID)
	if item == nil {
		return nil, domain.ErrNotFound
	}
	if !item.Format.Digital() {
		return nil, domain.ErrNotDownloadable
	}
	limit := s.policy.Get().DownloadMaxPerPurchase
	if item.DownloadCount >= limit {
		return nil, domain.ErrExhausted
	}

	file, size, err := s.openAsset(ctx, bookID, item.Title)
	if err != nil {
		return nil, err
	}

	entry := &purchasedomain.DownloadLog{
		ID:         ulid.Make().String(),
		PurchaseID: p.ID,
		BookID:     bookID,
		IP:         req.IP,
		UserAgent:  req.UserAgent,
		CreatedAt:  now,
	}
	applied, err := s.purchaseRepo.RecordDownload(ctx, s.db, item.ID, entry, limit)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if !applied {
		_ = file.Close()
		return nil, domain.ErrExhausted
	}

	s.log.Info("download granted",
		zap.String("purchase_id", p.ID.String()),
		zap.String("book_id", bookID.String()),
		zap.String("download_id", entry.ID),
	)
	return &domain.Asset{
		Body:        file,
		Size:        size,
		ContentType: contentTypeFor(file.Name()),
		Filename:    filenameFor(item.Title, file.Name()),
	}, nil
}

func (s *Service) openAsset(ctx context.Context, bookID snowflake.ID, title string) (afero.File, int64, error) {
	books, err := s.catalog.GetBooks(ctx, []snowflake.ID{bookID})
	if err != nil {
		return nil, 0, err
	}
	book, ok := books[bookID]
	if !ok {
		s.log.Error("purchased book missing from catalog", zap.String("book_id", bookID.String()))
		return nil, 0, domain.ErrAssetUnavailable
	}
	assetPath, ok := cleanAssetPath(book.AssetPath)
	if !ok {
		s.log.Error("book has no downloadable asset", zap.String("book_id", bookID.String()), zap.String("title", title))
		return nil, 0, domain.ErrAssetUnavailable
	}

	file, err := s.assets.Open(assetPath)
	if err != nil {
		s.log.Error("asset open failed", zap.String("book_id", bookID.String()), zap.String("asset_path", assetPath), zap.Error(err))
		return nil, 0, domain.ErrAssetUnavailable
	}
	info, err := file.Stat()
	if err != nil || info.IsDir() {
		_ = file.Close()
		s.log.Error("asset stat failed", zap.String("book_id", bookID.String()), zap.String("asset_path", assetPath), zap.Error(err))
		return nil, 0, domain.ErrAssetUnavailable
	}
	return file, info.Size(), nil
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return "granted"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrExpired):
		return "expired"
	case errors.Is(err, domain.ErrExhausted):
		return "exhausted"
	case errors.Is(err, domain.ErrNotDownloadable), errors.Is(err, purchasedomain.ErrNotCompleted):
		return "forbidden"
	case errors.Is(err, domain.ErrAssetUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
