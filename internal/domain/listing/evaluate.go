package listing

import (
	"slices"
	"strings"

	"github.com/erp/console/internal/domain/shared"
)

// Evaluate applies a query locally to a complete row set: filters, search,
// sort and pagination. Legacy endpoints that answer with a bare array are
// evaluated this way.
func Evaluate(rows []Record, q Query, searchFields []string) PageResult {
	needle := fold(strings.TrimSpace(q.Search))
	matched := make([]Record, 0, len(rows))
	for _, r := range rows {
		if !q.Filters.Matches(r) {
			continue
		}
		if needle != "" && !matchesSearch(r, needle, searchFields) {
			continue
		}
		matched = append(matched, r)
	}

	if !q.Sort.IsZero() {
		field := q.Sort.Field
		desc := q.Sort.Direction == Desc
		slices.SortStableFunc(matched, func(a, b Record) int {
			av, _ := a.Get(field)
			bv, _ := b.Get(field)
			c := CompareValues(av, bv)
			if desc {
				return -c
			}
			return c
		})
	}

	page := q.Page
	if page.Size <= 0 {
		page = FirstPage(0)
	}
	total := int64(len(matched))
	start := page.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + page.Size
	if end > len(matched) {
		end = len(matched)
	}
	return shared.NewPaginated(matched[start:end], total, page.Index, page.Size)
}

func matchesSearch(r Record, needle string, fields []string) bool {
	if len(fields) == 0 {
		for _, v := range r.Fields {
			if s, ok := v.(string); ok && strings.Contains(fold(s), needle) {
				return true
			}
		}
		return false
	}
	for _, f := range fields {
		v, _ := r.Get(f)
		if strings.Contains(fold(ValueString(v)), needle) {
			return true
		}
	}
	return false
}
