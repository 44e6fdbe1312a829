package listing

import (
	"fmt"
	"strings"

	"github.com/erp/console/internal/domain/shared"
)

// Query is the full input tuple of a list request
type Query struct {
	Filters FilterSet
	Search  string
	Sort    SortSpec
	Page    Page
}

// NewQuery returns an unfiltered query on page 1
func NewQuery(pageSize int, sort SortSpec) Query {
	return Query{
		Filters: NewFilterSet(),
		Sort:    sort,
		Page:    FirstPage(pageSize),
	}
}

// Clone copies the query so the caller can modify it
func (q Query) Clone() Query {
	next := q
	next.Filters = q.Filters.Clone()
	return next
}

// Key is the canonical request tuple; equal keys mean identical requests
func (q Query) Key() string {
	return fmt.Sprintf("f=%s|q=%s|s=%s|p=%d/%d",
		q.Filters.Key(), strings.TrimSpace(q.Search), q.Sort.String(), q.Page.Index, q.Page.Size)
}

// PageResult is one page of rows plus pagination metadata
type PageResult = shared.Paginated[Record]
