package datasync

import "github.com/goliatone/go-tenant-sync/query"

// Window is a derived pagination view over an authoritative total row count.
// It is never stored; callers recompute it from the TotalCount each query
// returns.
type Window struct {
	// Page is 1-based. A page past the end is not an error: its offset
	// lands beyond the data and yields an empty result set.
	Page       int
	PageSize   int
	TotalCount int
	TotalPages int
	HasNext    bool
	HasPrev    bool
}

// Offset returns the row offset of the window's first row.
func (w Window) Offset() int {
	return (w.Page - 1) * w.PageSize
}

// Apply returns a copy of the descriptor paginated to the window.
func (w Window) Apply(d query.Descriptor) query.Descriptor {
	return d.Limit(w.PageSize).Offset(w.Offset())
}

// Paginator computes page windows from totals the remote store reports.
type Paginator struct {
	defaultPageSize int
}

// NewPaginator creates a paginator with the given fallback page size.
func NewPaginator(defaultPageSize int) Paginator {
	if defaultPageSize < 1 {
		defaultPageSize = DefaultConfig().DefaultPageSize
	}
	return Paginator{defaultPageSize: defaultPageSize}
}

// Window computes the pagination window for a 1-based page. pageSize <= 0
// falls back to the paginator default; page < 1 is treated as 1.
func (p Paginator) Window(page, pageSize, totalCount int) Window {
	if pageSize <= 0 {
		pageSize = p.defaultPageSize
	}
	if page < 1 {
		page = 1
	}
	if totalCount < 0 {
		totalCount = 0
	}

	totalPages := (totalCount + pageSize - 1) / pageSize

	return Window{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: totalCount,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}

// Resize changes the page size. Changing the window size invalidates the
// caller's notion of position, so the page always resets to 1.
func (p Paginator) Resize(w Window, newPageSize int) Window {
	return p.Window(1, newPageSize, w.TotalCount)
}
