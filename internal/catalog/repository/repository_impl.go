package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/folio/internal/catalog/domain"
	"gorm.io/gorm"
)

const bookColumns = `id, slug, title, author, description, genre_id, price_base, currency, formats,
	asset_path, metadata, sales_count, rating_count, rating_sum, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertBook(ctx context.Context, db *gorm.DB, book *domain.Book) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO books (`+bookColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		book.ID,
		book.Slug,
		book.Title,
		book.Author,
		book.Description,
		book.GenreID,
		book.PriceBase,
		book.Currency,
		book.Formats,
		book.AssetPath,
		book.Metadata,
		book.SalesCount,
		book.RatingCount,
		book.RatingSum,
		book.CreatedAt,
		book.UpdatedAt,
	).Error
}

func (r *repo) UpdateBook(ctx context.Context, db *gorm.DB, book *domain.Book) error {
	return db.WithContext(ctx).Exec(
		`UPDATE books
		 SET slug = ?, title = ?, author = ?, description = ?, genre_id = ?, price_base = ?,
			currency = ?, formats = ?, asset_path = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		book.Slug,
		book.Title,
		book.Author,
		book.Description,
		book.GenreID,
		book.PriceBase,
		book.Currency,
		book.Formats,
		book.AssetPath,
		book.Metadata,
		book.UpdatedAt,
		book.ID,
	).Error
}

func (r *repo) DeleteBook(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Exec(`DELETE FROM books WHERE id = ?`, id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindBookByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Book, error) {
	var book domain.Book
	err := db.WithContext(ctx).Raw(
		`SELECT `+bookColumns+` FROM books WHERE id = ? LIMIT 1`,
		id,
	).Scan(&book).Error
	if err != nil {
		return nil, err
	}
	if book.ID == 0 {
		return nil, nil
	}
	return &book, nil
}

func (r *repo) FindBooksByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]domain.Book, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var books []domain.Book
	err := db.WithContext(ctx).Raw(
		`SELECT `+bookColumns+` FROM books WHERE id IN ?`,
		ids,
	).Scan(&books).Error
	if err != nil {
		return nil, err
	}
	return books, nil
}

func (r *repo) ListBooks(ctx context.Context, db *gorm.DB, filter domain.ListBooksFilter) ([]domain.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE 1 = 1`
	args := []any{}
	if filter.GenreID != nil {
		query += ` AND genre_id = ?`
		args = append(args, *filter.GenreID)
	}
	if q := strings.ToLower(strings.TrimSpace(filter.Query)); q != "" {
		query += ` AND (LOWER(title) LIKE ? OR LOWER(author) LIKE ?)`
		like := "%" + q + "%"
		args = append(args, like, like)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	var books []domain.Book
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&books).Error; err != nil {
		return nil, err
	}
	return books, nil
}

func (r *repo) IncrementSales(ctx context.Context, db *gorm.DB, id snowflake.ID, quantity int) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE books SET sales_count = sales_count + ?, updated_at = ? WHERE id = ?`,
		quantity,
		time.Now().UTC(),
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) AddRating(ctx context.Context, db *gorm.DB, id snowflake.ID, rating int) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE books
		 SET rating_count = rating_count + 1, rating_sum = rating_sum + ?, updated_at = ?
		 WHERE id = ?`,
		rating,
		time.Now().UTC(),
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SalesByBook(ctx context.Context, db *gorm.DB, limit int) ([]domain.BookSales, error) {
	var rows []domain.BookSales
	err := db.WithContext(ctx).Raw(
		`SELECT id, title, sales_count
		 FROM books
		 WHERE sales_count > 0
		 ORDER BY sales_count DESC, id ASC
		 LIMIT ?`,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) InsertGenre(ctx context.Context, db *gorm.DB, genre *domain.Genre) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO genres (id, slug, name, created_at) VALUES (?, ?, ?, ?)`,
		genre.ID,
		genre.Slug,
		genre.Name,
		genre.CreatedAt,
	).Error
}

func (r *repo) DeleteGenre(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Exec(`DELETE FROM genres WHERE id = ?`, id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListGenres(ctx context.Context, db *gorm.DB) ([]domain.Genre, error) {
	var genres []domain.Genre
	err := db.WithContext(ctx).Raw(
		`SELECT id, slug, name, created_at FROM genres ORDER BY name ASC`,
	).Scan(&genres).Error
	if err != nil {
		return nil, err
	}
	return genres, nil
}

func (r *repo) FindGenresByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]domain.Genre, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var genres []domain.Genre
	err := db.WithContext(ctx).Raw(
		`SELECT id, slug, name, created_at FROM genres WHERE id IN ?`,
		ids,
	).Scan(&genres).Error
	if err != nil {
		return nil, err
	}
	return genres, nil
}
