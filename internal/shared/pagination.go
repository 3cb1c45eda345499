package shared

import "math"

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PageRequest describes a requested page, 1-based.
type PageRequest struct {
	Page int `json:"page"`
	Size int `json:"size"`
}

// Normalize clamps the request to sane defaults.
func (p PageRequest) Normalize() PageRequest {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.Size <= 0 {
		p.Size = defaultPageSize
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	return p
}

// Offset returns the row offset of the page.
func (p PageRequest) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.Size
}

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int  `json:"page"`
	PerPage    int  `json:"perPage"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = defaultPageSize
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages, HasNext: page < totalPages}
}

// Page is one page of results.
type Page[T any] struct {
	Items      []T        `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// NewPage assembles a page from items and the total row count.
func NewPage[T any](items []T, req PageRequest, total int) Page[T] {
	req = req.Normalize()
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, Pagination: NewPagination(req.Page, req.Size, total)}
}

// Paginate slices an in-memory collection. Used by fakes and small catalogs.
func Paginate[T any](all []T, req PageRequest) Page[T] {
	req = req.Normalize()
	start := req.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + req.Size
	if end > len(all) {
		end = len(all)
	}
	return NewPage(append([]T(nil), all[start:end]...), req, len(all))
}
