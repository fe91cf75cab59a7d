package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertBook(ctx context.Context, db *gorm.DB, book *Book) error
	UpdateBook(ctx context.Context, db *gorm.DB, book *Book) error
	DeleteBook(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	FindBookByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Book, error)
	FindBooksByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]Book, error)
	ListBooks(ctx context.Context, db *gorm.DB, filter ListBooksFilter) ([]Book, error)
	IncrementSales(ctx context.Context, db *gorm.DB, id snowflake.ID, quantity int) (bool, error)
	AddRating(ctx context.Context, db *gorm.DB, id snowflake.ID, rating int) (bool, error)
	SalesByBook(ctx context.Context, db *gorm.DB, limit int) ([]BookSales, error)

	InsertGenre(ctx context.Context, db *gorm.DB, genre *Genre) error
	DeleteGenre(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	ListGenres(ctx context.Context, db *gorm.DB) ([]Genre, error)
	FindGenresByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]Genre, error)
}

type ListBooksFilter struct {
	GenreID *snowflake.ID
	Query   string
	Limit   int
	Offset  int
}

type BookSales struct {
	ID         snowflake.ID `json:"id"`
	Title      string       `json:"title"`
	SalesCount int64        `json:"sales_count"`
}
