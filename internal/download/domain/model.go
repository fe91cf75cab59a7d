package domain

import (
	"context"
	"errors"
	"io"
)

type Service interface {
	// Download authorizes the request, records the attempt and opens the asset.
	// The caller must close Asset.Body.
	Download(ctx context.Context, req Request) (*Asset, error)
}

type Request struct {
	Token     string
	BookID    string
	IP        string
	UserAgent string
}

type Asset struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
	Filename    string
}

var (
	ErrNotFound         = errors.New("download_not_found")
	ErrNotDownloadable  = errors.New("format_not_downloadable")
	ErrExpired          = errors.New("download_expired")
	ErrExhausted        = errors.New("download_limit_reached")
	ErrAssetUnavailable = errors.New("asset_unavailable")
)
