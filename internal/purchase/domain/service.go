package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/folio/pkg/db/pagination"
)

// Service is the admin read and maintenance surface over purchases.
type Service interface {
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Get(ctx context.Context, id string) (*Detail, error)
	PurgeFailed(ctx context.Context, before time.Time) (int64, error)
	Summary(ctx context.Context) (SalesSummary, error)
}

type ListRequest struct {
	Status string
	pagination.Pagination
}

type ListResponse struct {
	Purchases []Purchase          `json:"purchases"`
	PageInfo  pagination.PageInfo `json:"page_info"`
}

type Detail struct {
	Purchase
	Downloads []DownloadLog `json:"downloads"`
}
