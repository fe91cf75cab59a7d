package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/folio/internal/cache"
	"github.com/smallbiznis/folio/internal/catalog/domain"
	"github.com/smallbiznis/folio/internal/config"
	"github.com/smallbiznis/folio/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	bookCachePrefix = "folio:catalog:book:"
	bookCacheTTL    = 5 * time.Minute
	defaultPageSize = 50
	maxPageSize     = 200
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Cfg   config.Config
	Redis *redis.Client `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	cache    *cache.JSONCache[domain.Book]
	currency string
}

func New(p Params) *Service {
	currency := strings.ToLower(strings.TrimSpace(p.Cfg.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("catalog.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		cache:    cache.NewJSONCache[domain.Book](p.Redis, bookCachePrefix, bookCacheTTL),
		currency: currency,
	}
}

// GetBooks resolves ids to books. Ids that do not resolve are absent from the result.
func (s *Service) GetBooks(ctx context.Context, ids []snowflake.ID) (map[snowflake.ID]domain.Book, error) {
	out := make(map[snowflake.ID]domain.Book, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	cached, err := s.cache.GetMany(ctx, keys)
	if err != nil {
		s.log.Warn("catalog cache read failed", zap.Error(err))
		cached = nil
	}

	missing := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if book, ok := cached[id.String()]; ok {
			out[id] = book
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	books, err := s.repo.FindBooksByIDs(ctx, s.db, missing)
	if err != nil {
		return nil, err
	}
	for _, book := range books {
		out[book.ID] = book
		if err := s.cache.Set(ctx, book.ID.String(), book); err != nil {
			s.log.Warn("catalog cache write failed", zap.String("book_id", book.ID.String()), zap.Error(err))
		}
	}
	return out, nil
}

func (s *Service) IncrementSales(ctx context.Context, id snowflake.ID, quantity int) error {
	if quantity <= 0 {
		return nil
	}
	ok, err := s.repo.IncrementSales(ctx, s.db, id, quantity)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *Service) CreateBook(ctx context.Context, req domain.BookRequest) (*domain.Response, error) {
	book, err := s.bookFromRequest(req)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	book.ID = s.genID.Generate()
	book.CreatedAt = now
	book.UpdatedAt = now

	if err := s.repo.InsertBook(ctx, s.db, book); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrSlugConflict
		}
		return nil, err
	}

	if err := s.attachGenres(ctx, []*domain.Book{book}); err != nil {
		return nil, err
	}
	resp := toResponse(book)
	return &resp, nil
}

func (s *Service) UpdateBook(ctx context.Context, id string, req domain.BookRequest) (*domain.Response, error) {
	bookID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.FindBookByID(ctx, s.db, bookID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrNotFound
	}

	book, err := s.bookFromRequest(req)
	if err != nil {
		return nil, err
	}
	book.ID = existing.ID
	book.SalesCount = existing.SalesCount
	book.RatingCount = existing.RatingCount
	book.RatingSum = existing.RatingSum
	book.CreatedAt = existing.CreatedAt
	book.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpdateBook(ctx, s.db, book); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrSlugConflict
		}
		return nil, err
	}
	s.invalidate(ctx, book.ID)

	if err := s.attachGenres(ctx, []*domain.Book{book}); err != nil {
		return nil, err
	}
	resp := toResponse(book)
	return &resp, nil
}

func (s *Service) DeleteBook(ctx context.Context, id string) error {
	bookID, err := parseID(id)
	if err != nil {
		return err
	}
	ok, err := s.repo.DeleteBook(ctx, s.db, bookID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	s.invalidate(ctx, bookID)
	return nil
}

func (s *Service) GetBook(ctx context.Context, id string) (*domain.Response, error) {
	bookID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	book, err := s.repo.FindBookByID(ctx, s.db, bookID)
	if err != nil {
		return nil, err
	}
	if book == nil {
		return nil, domain.ErrNotFound
	}
	if err := s.attachGenres(ctx, []*domain.Book{book}); err != nil {
		return nil, err
	}
	resp := toResponse(book)
	return &resp, nil
}

func (s *Service) ListBooks(ctx context.Context, req domain.ListRequest) ([]domain.Response, error) {
	filter := domain.ListBooksFilter{
		Query:  strings.TrimSpace(req.Query),
		Limit:  req.Limit,
		Offset: req.Offset,
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if genre := strings.TrimSpace(req.GenreID); genre != "" {
		genreID, err := snowflake.ParseString(genre)
		if err != nil {
			return nil, domain.ErrInvalidGenre
		}
		filter.GenreID = &genreID
	}

	books, err := s.repo.ListBooks(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}

	ptrs := make([]*domain.Book, len(books))
	for i := range books {
		ptrs[i] = &books[i]
	}
	if err := s.attachGenres(ctx, ptrs); err != nil {
		return nil, err
	}

	resp := make([]domain.Response, 0, len(books))
	for _, book := range ptrs {
		resp = append(resp, toResponse(book))
	}
	return resp, nil
}

// RateBook folds a 1..5 rating into the stored count and sum.
func (s *Service) RateBook(ctx context.Context, id string, rating int) (*domain.Response, error) {
	if rating < 1 || rating > 5 {
		return nil, domain.ErrInvalidRating
	}
	bookID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	ok, err := s.repo.AddRating(ctx, s.db, bookID, rating)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	s.invalidate(ctx, bookID)
	return s.GetBook(ctx, id)
}

func (s *Service) TopSellers(ctx context.Context, limit int) ([]domain.BookSales, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = 10
	}
	return s.repo.SalesByBook(ctx, s.db, limit)
}

func (s *Service) CreateGenre(ctx context.Context, req domain.GenreRequest) (*domain.Genre, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	genreSlug := slug.Make(strings.TrimSpace(req.Slug))
	if genreSlug == "" {
		genreSlug = slug.Make(name)
	}

	genre := &domain.Genre{
		ID:        s.genID.Generate(),
		Slug:      genreSlug,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.InsertGenre(ctx, s.db, genre); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrSlugConflict
		}
		return nil, err
	}
	return genre, nil
}

func (s *Service) ListGenres(ctx context.Context) ([]domain.Genre, error) {
	return s.repo.ListGenres(ctx, s.db)
}

// DeleteGenre removes the genre only. Books keep their genre_id and read back
// with a nil Genre.
func (s *Service) DeleteGenre(ctx context.Context, id string) error {
	genreID, err := parseID(id)
	if err != nil {
		return err
	}
	ok, err := s.repo.DeleteGenre(ctx, s.db, genreID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrGenreNotFound
	}
	return nil
}

// attachGenres resolves each book's genre reference in a single query. A
// reference to a genre that no longer exists leaves Genre nil.
func (s *Service) attachGenres(ctx context.Context, books []*domain.Book) error {
	ids := make([]snowflake.ID, 0, len(books))
	seen := map[snowflake.ID]struct{}{}
	for _, book := range books {
		if book.GenreID == nil {
			continue
		}
		if _, ok := seen[*book.GenreID]; ok {
			continue
		}
		seen[*book.GenreID] = struct{}{}
		ids = append(ids, *book.GenreID)
	}
	if len(ids) == 0 {
		return nil
	}

	genres, err := s.repo.FindGenresByIDs(ctx, s.db, ids)
	if err != nil {
		return err
	}
	byID := make(map[snowflake.ID]domain.Genre, len(genres))
	for _, genre := range genres {
		byID[genre.ID] = genre
	}
	for _, book := range books {
		book.Genre = nil
		if book.GenreID == nil {
			continue
		}
		if genre, ok := byID[*book.GenreID]; ok {
			g := genre
			book.Genre = &g
		}
	}
	return nil
}

func (s *Service) bookFromRequest(req domain.BookRequest) (*domain.Book, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, domain.ErrInvalidTitle
	}
	if req.PriceBase != nil && *req.PriceBase < 0 {
		return nil, domain.ErrInvalidPrice
	}

	formats := make([]domain.Format, 0, len(req.Formats))
	for _, raw := range req.Formats {
		f := domain.Format(strings.ToLower(strings.TrimSpace(raw)))
		if !f.Valid() {
			return nil, domain.ErrInvalidFormat
		}
		formats = append(formats, f)
	}
	if len(formats) == 0 {
		formats = []domain.Format{domain.FormatEbook}
	}

	var genreID *snowflake.ID
	if req.GenreID != nil && strings.TrimSpace(*req.GenreID) != "" {
		parsed, err := snowflake.ParseString(strings.TrimSpace(*req.GenreID))
		if err != nil {
			return nil, domain.ErrInvalidGenre
		}
		genreID = &parsed
	}

	bookSlug := slug.Make(strings.TrimSpace(req.Slug))
	if bookSlug == "" {
		bookSlug = slug.Make(title)
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.currency
	}

	book := &domain.Book{
		Slug:        bookSlug,
		Title:       title,
		Author:      strings.TrimSpace(req.Author),
		Description: strings.TrimSpace(req.Description),
		GenreID:     genreID,
		PriceBase:   req.PriceBase,
		Currency:    currency,
		Formats:     domain.JoinFormats(formats),
		AssetPath:   strings.TrimSpace(req.AssetPath),
	}
	if req.Metadata != nil {
		book.Metadata = datatypes.JSONMap(req.Metadata)
	}
	return book, nil
}

func (s *Service) invalidate(ctx context.Context, id snowflake.ID) {
	if err := s.cache.Delete(ctx, id.String()); err != nil {
		s.log.Warn("catalog cache invalidation failed", zap.String("book_id", id.String()), zap.Error(err))
	}
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func toResponse(book *domain.Book) domain.Response {
	var metadata map[string]any
	if len(book.Metadata) > 0 {
		metadata = map[string]any(book.Metadata)
	}
	return domain.Response{
		ID:            book.ID.String(),
		Slug:          book.Slug,
		Title:         book.Title,
		Author:        book.Author,
		Description:   book.Description,
		Genre:         book.Genre,
		PriceBase:     book.PriceBase,
		Currency:      book.Currency,
		Formats:       book.FormatList(),
		AssetPath:     book.AssetPath,
		Metadata:      metadata,
		SalesCount:    book.SalesCount,
		RatingCount:   book.RatingCount,
		AverageRating: book.AverageRating(),
		CreatedAt:     book.CreatedAt,
		UpdatedAt:     book.UpdatedAt,
	}
}

var _ domain.Service = (*Service)(nil)
