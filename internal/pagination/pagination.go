// Package pagination slices ordered result sets into pages with the
// metadata envelope the transaction endpoints return.
package pagination

import (
	"errors"

	"github.com/antoinevdp/datalake-api/pkg/models"
)

// ErrInvalidPage marks structurally invalid paging input (negative page
// or page size). Everything else clamps silently.
var ErrInvalidPage = errors.New("invalid page request")

const (
	// DefaultPageSize matches the upstream API contract.
	DefaultPageSize = 10
	// DefaultMaxPageSize caps what a single request may ask for.
	DefaultMaxPageSize = 10
)

// Page is one slice of a result set plus its metadata. Offset is the
// item offset of the first entry, (page-1)*page_size.
type Page struct {
	Items       []models.Record `json:"items"`
	Page        int             `json:"page"`
	PageSize    int             `json:"page_size"`
	TotalPages  int             `json:"total_pages"`
	TotalCount  int             `json:"total_count"`
	Offset      int             `json:"offset"`
	HasNext     bool            `json:"has_next"`
	HasPrevious bool            `json:"has_previous"`
}

// Paginator applies the service-wide size limits.
type Paginator struct {
	defaultSize int
	maxSize     int
}

// New builds a paginator. Non-positive limits fall back to the package
// defaults, and the default size is itself capped at max.
func New(defaultSize, maxSize int) *Paginator {
	if maxSize <= 0 {
		maxSize = DefaultMaxPageSize
	}
	if defaultSize <= 0 {
		defaultSize = DefaultPageSize
	}
	if defaultSize > maxSize {
		defaultSize = maxSize
	}
	return &Paginator{defaultSize: defaultSize, maxSize: maxSize}
}

// Paginate slices items. Zero page means the first page, zero pageSize
// means the default, oversized pageSize clamps to the cap; all silently.
// A page past the end returns empty items with full metadata and no
// error. Negative input is the one structural failure.
func (p *Paginator) Paginate(items []models.Record, page, pageSize int) (Page, error) {
	if page < 0 || pageSize < 0 {
		return Page{}, ErrInvalidPage
	}
	if page == 0 {
		page = 1
	}
	switch {
	case pageSize == 0:
		pageSize = p.defaultSize
	case pageSize > p.maxSize:
		pageSize = p.maxSize
	}

	total := len(items)
	totalPages := (total + pageSize - 1) / pageSize // 0 when empty
	offset := (page - 1) * pageSize

	out := Page{
		Items:       []models.Record{},
		Page:        page,
		PageSize:    pageSize,
		TotalPages:  totalPages,
		TotalCount:  total,
		Offset:      offset,
		HasNext:     page < totalPages,
		HasPrevious: page > 1,
	}
	if offset < total {
		end := offset + pageSize
		if end > total {
			end = total
		}
		out.Items = items[offset:end]
	}
	return out, nil
}
