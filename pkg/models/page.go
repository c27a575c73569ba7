package models

// Page is one slice of a paginated result. Page numbers start at 1.
type Page[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
}

// PageRequest selects a page. Zero values pick the first page and the
// default size.
type PageRequest struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// Offset returns the row offset for the request. It assumes the request has
// already been normalized.
func (r PageRequest) Offset() int {
	return (r.Page - 1) * r.PageSize
}

// NewPage builds a page and computes TotalPages.
func NewPage[T any](items []T, total int, req PageRequest) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if req.PageSize > 0 {
		pages = (total + req.PageSize - 1) / req.PageSize
	}
	return Page[T]{
		Items:      items,
		Total:      total,
		Page:       req.Page,
		PageSize:   req.PageSize,
		TotalPages: pages,
	}
}

// Normalize fills in defaults and clamps the page size to [1, max].
func (r PageRequest) Normalize(defaultSize, max int) PageRequest {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.PageSize <= 0 {
		r.PageSize = defaultSize
	}
	if max > 0 && r.PageSize > max {
		r.PageSize = max
	}
	if r.PageSize < 1 {
		r.PageSize = 1
	}
	return r
}
