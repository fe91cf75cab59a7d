package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Lookup is the read-mostly view of the catalog consumed by checkout and fulfillment.
type Lookup interface {
	GetBooks(ctx context.Context, ids []snowflake.ID) (map[snowflake.ID]Book, error)
	IncrementSales(ctx context.Context, id snowflake.ID, quantity int) error
}

type Service interface {
	Lookup

	CreateBook(ctx context.Context, req BookRequest) (*Response, error)
	UpdateBook(ctx context.Context, id string, req BookRequest) (*Response, error)
	DeleteBook(ctx context.Context, id string) error
	GetBook(ctx context.Context, id string) (*Response, error)
	ListBooks(ctx context.Context, req ListRequest) ([]Response, error)
	RateBook(ctx context.Context, id string, rating int) (*Response, error)
	TopSellers(ctx context.Context, limit int) ([]BookSales, error)

	CreateGenre(ctx context.Context, req GenreRequest) (*Genre, error)
	ListGenres(ctx context.Context) ([]Genre, error)
	DeleteGenre(ctx context.Context, id string) error
}

type BookRequest struct {
	Title       string         `json:"title"`
	Slug        string         `json:"slug"`
	Author      string         `json:"author"`
	Description string         `json:"description"`
	GenreID     *string        `json:"genre_id"`
	PriceBase   *int64         `json:"price_base"`
	Currency    string         `json:"currency"`
	Formats     []string       `json:"formats"`
	AssetPath   string         `json:"asset_path"`
	Metadata    map[string]any `json:"metadata"`
}

type GenreRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type ListRequest struct {
	GenreID string
	Query   string
	Limit   int
	Offset  int
}

type Response struct {
	ID            string         `json:"id"`
	Slug          string         `json:"slug"`
	Title         string         `json:"title"`
	Author        string         `json:"author"`
	Description   string         `json:"description"`
	Genre         *Genre         `json:"genre"`
	PriceBase     *int64         `json:"price_base"`
	Currency      string         `json:"currency"`
	Formats       []Format       `json:"formats"`
	AssetPath     string         `json:"asset_path,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	SalesCount    int64          `json:"sales_count"`
	RatingCount   int64          `json:"rating_count"`
	AverageRating float64        `json:"average_rating"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

var (
	ErrNotFound      = errors.New("book_not_found")
	ErrGenreNotFound = errors.New("genre_not_found")
	ErrInvalidID     = errors.New("invalid_id")
	ErrInvalidTitle  = errors.New("invalid_title")
	ErrInvalidName   = errors.New("invalid_name")
	ErrInvalidPrice  = errors.New("invalid_price")
	ErrInvalidFormat = errors.New("invalid_format")
	ErrInvalidRating = errors.New("invalid_rating")
	ErrInvalidGenre  = errors.New("invalid_genre")
	ErrSlugConflict  = errors.New("slug_conflict")
)
