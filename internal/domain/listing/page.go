package listing

import "github.com/erp/console/internal/domain/shared"

// DefaultPageSize is used when a view declares none
const DefaultPageSize = 20

// Page is a 1-based page position
type Page struct {
	Index int `json:"index"`
	Size  int `json:"size"`
}

// FirstPage returns page 1 with the given size
func FirstPage(size int) Page {
	if size <= 0 {
		size = DefaultPageSize
	}
	return Page{Index: 1, Size: size}
}

// Validate checks the page invariants
func (p Page) Validate() error {
	if p.Index < 1 {
		return shared.NewValidationError("page", "page index must be at least 1")
	}
	if p.Size <= 0 {
		return shared.NewValidationError("page_size", "page size must be positive")
	}
	return nil
}

// Offset returns the number of rows before this page
func (p Page) Offset() int {
	if p.Index < 1 {
		return 0
	}
	return (p.Index - 1) * p.Size
}

// Clamp moves the index onto the last valid page. An empty result has one page.
func (p Page) Clamp(totalPages int) Page {
	last := totalPages
	if last < 1 {
		last = 1
	}
	if p.Index > last {
		p.Index = last
	}
	if p.Index < 1 {
		p.Index = 1
	}
	return p
}
