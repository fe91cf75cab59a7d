package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Format string

const (
	FormatEbook     Format = "ebook"
	FormatPaperback Format = "paperback"
	FormatHardcover Format = "hardcover"
)

func (f Format) Valid() bool {
	switch f {
	case FormatEbook, FormatPaperback, FormatHardcover:
		return true
	default:
		return false
	}
}

// Digital reports whether the format is delivered as a downloadable asset.
func (f Format) Digital() bool {
	return f == FormatEbook
}

type Genre struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Slug      string       `json:"slug" gorm:"type:varchar(191);not null;uniqueIndex"`
	Name      string       `json:"name" gorm:"type:text;not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
}

func (Genre) TableName() string { return "genres" }

type Book struct {
	ID          snowflake.ID      `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Slug        string            `json:"slug" gorm:"type:varchar(191);not null;uniqueIndex"`
	Title       string            `json:"title" gorm:"type:text;not null"`
	Author      string            `json:"author" gorm:"type:text;not null;default:''"`
	Description string            `json:"description" gorm:"type:text;not null;default:''"`
	GenreID     *snowflake.ID     `json:"genre_id,omitempty" gorm:"index"`
	PriceBase   *int64            `json:"price_base,omitempty"`
	Currency    string            `json:"currency" gorm:"type:varchar(8);not null;default:'usd'"`
	Formats     string            `json:"formats" gorm:"type:text;not null;default:'ebook'"`
	AssetPath   string            `json:"asset_path" gorm:"type:text;not null;default:''"`
	Metadata    datatypes.JSONMap `json:"metadata,omitempty"`
	SalesCount  int64             `json:"sales_count" gorm:"not null;default:0"`
	RatingCount int64             `json:"rating_count" gorm:"not null;default:0"`
	RatingSum   int64             `json:"rating_sum" gorm:"not null;default:0"`
	CreatedAt   time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time         `json:"updated_at" gorm:"not null"`

	// Genre is populated by the explicit genre join and stays nil when the
	// referenced genre does not exist.
	Genre *Genre `json:"genre,omitempty" gorm:"-"`
}

func (Book) TableName() string { return "books" }

func (b Book) FormatList() []Format {
	return ParseFormats(b.Formats)
}

func (b Book) HasFormat(f Format) bool {
	for _, candidate := range b.FormatList() {
		if candidate == f {
			return true
		}
	}
	return false
}

// AverageRating derives the mean from the stored count and sum.
func (b Book) AverageRating() float64 {
	if b.RatingCount == 0 {
		return 0
	}
	return float64(b.RatingSum) / float64(b.RatingCount)
}

func ParseFormats(raw string) []Format {
	parts := strings.Split(raw, ",")
	out := make([]Format, 0, len(parts))
	for _, part := range parts {
		f := Format(strings.ToLower(strings.TrimSpace(part)))
		if f.Valid() {
			out = append(out, f)
		}
	}
	return out
}

func JoinFormats(formats []Format) string {
	seen := map[Format]struct{}{}
	parts := make([]string, 0, len(formats))
	for _, f := range formats {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		parts = append(parts, string(f))
	}
	return strings.Join(parts, ",")
}
