package listing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/erp/console/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortSpecToggle(t *testing.T) {
	var s SortSpec
	s = s.Toggle("name")
	assert.Equal(t, SortSpec{Field: "name", Direction: Desc}, s)

	s = s.Toggle("name")
	assert.Equal(t, SortSpec{Field: "name", Direction: Asc}, s)

	s = s.Toggle("name")
	assert.Equal(t, Desc, s.Direction)

	s = SortSpec{Field: "name", Direction: Asc}.Toggle("price")
	assert.Equal(t, SortSpec{Field: "price", Direction: Desc}, s)
	assert.Equal(t, "price:desc", s.String())
}

func TestParseDirection(t *testing.T) {
	assert.Equal(t, Asc, ParseDirection(" ASC "))
	assert.Equal(t, Desc, ParseDirection("desc"))
	assert.Equal(t, Desc, ParseDirection("sideways"))
}

func TestPage(t *testing.T) {
	t.Run("validate", func(t *testing.T) {
		assert.NoError(t, Page{Index: 1, Size: 5}.Validate())
		assert.True(t, shared.IsValidation(Page{Index: 0, Size: 5}.Validate()))
		assert.True(t, shared.IsValidation(Page{Index: 1, Size: 0}.Validate()))
	})

	t.Run("offset", func(t *testing.T) {
		assert.Equal(t, 10, Page{Index: 3, Size: 5}.Offset())
		assert.Equal(t, 0, Page{Index: 0, Size: 5}.Offset())
	})

	t.Run("clamp", func(t *testing.T) {
		assert.Equal(t, 1, Page{Index: 3, Size: 5}.Clamp(1).Index)
		assert.Equal(t, 1, Page{Index: 3, Size: 5}.Clamp(0).Index)
		assert.Equal(t, 2, Page{Index: 2, Size: 5}.Clamp(4).Index)
	})

	t.Run("first page default size", func(t *testing.T) {
		assert.Equal(t, Page{Index: 1, Size: DefaultPageSize}, FirstPage(0))
	})
}

func TestQueryKey(t *testing.T) {
	q1 := NewQuery(20, SortSpec{})
	q2 := q1.Clone()
	assert.Equal(t, q1.Key(), q2.Key())

	c, _ := NewCriterion("status", "status", KindSet, []string{"active"})
	q2.Filters = q2.Filters.With("status", c)
	assert.NotEqual(t, q1.Key(), q2.Key())
	assert.True(t, q1.Filters.IsEmpty(), "clone must not share the filter map")

	q3 := q1.Clone()
	q3.Search = "  milk "
	q4 := q1.Clone()
	q4.Search = "milk"
	assert.Equal(t, q3.Key(), q4.Key())
}

func TestSelection(t *testing.T) {
	s := NewSelection()
	s.Add("b", "a", "", "a")
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"a", "b"}, s.IDs())
	assert.True(t, s.ContainsAll([]string{"a", "b"}))
	assert.False(t, s.ContainsAll([]string{"a", "c"}))
	assert.False(t, s.ContainsAll(nil))

	s.Remove("a")
	assert.False(t, s.Has("a"))
	s.Clear()
	assert.Equal(t, 0, s.Len())
}

func TestRecord(t *testing.T) {
	t.Run("id from numeric json", func(t *testing.T) {
		r, err := NewRecord(map[string]any{"id": json.Number("42"), "name": "x"})
		require.NoError(t, err)
		assert.Equal(t, "42", r.ID)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := NewRecord(map[string]any{"name": "x"})
		assert.Error(t, err)
	})

	t.Run("clone is independent", func(t *testing.T) {
		r, _ := NewRecord(map[string]any{"id": "1", "name": "x"})
		c := r.Clone()
		c.Set("name", "y")
		v, _ := r.Get("name")
		assert.Equal(t, "x", v)
	})

	t.Run("marshal includes id", func(t *testing.T) {
		r := Record{ID: "7", Fields: map[string]any{"name": "x"}}
		b, err := json.Marshal(r)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"7","name":"x"}`, string(b))
	})
}

func TestValueHelpers(t *testing.T) {
	assert.True(t, ValuesEqual(json.Number("10.0"), 10))
	assert.True(t, ValuesEqual(nil, ""))
	assert.False(t, ValuesEqual("a", "b"))

	assert.Equal(t, "12.5", ValueString(decimal.RequireFromString("12.50")))
	assert.Equal(t, "a;b", ValueString([]any{"a", "b"}))

	assert.Negative(t, CompareValues(2, 10))
	assert.Negative(t, CompareValues(nil, "a"))
	assert.Negative(t, CompareValues("apple", "Banana"))
	now := time.Now()
	assert.Positive(t, CompareValues(now, now.Add(-time.Hour)))
}

func TestEvaluate(t *testing.T) {
	rows := make([]Record, 0, 15)
	for i := 1; i <= 15; i++ {
		cat := "fruit"
		if i%3 == 0 {
			cat = "dairy"
		}
		rows = append(rows, product(string(rune('a'+i-1)), map[string]any{
			"name":          "item " + string(rune('a'+i-1)),
			"category":      cat,
			"selling_price": float64(i),
		}))
	}

	t.Run("paginates the full set", func(t *testing.T) {
		q := NewQuery(5, SortSpec{})
		q.Page.Index = 3
		res := Evaluate(rows, q, nil)
		assert.Equal(t, int64(15), res.Total)
		assert.Equal(t, 3, res.TotalPages)
		assert.Equal(t, []string{"k", "l", "m", "n", "o"}, IDs(res.Items))
	})

	t.Run("filters and sorts", func(t *testing.T) {
		c, _ := NewCriterion("category", "category", KindSet, []string{"dairy"})
		q := NewQuery(10, SortSpec{Field: "selling_price", Direction: Desc})
		q.Filters = q.Filters.With("category", c)
		res := Evaluate(rows, q, nil)
		assert.Equal(t, int64(5), res.Total)
		assert.Equal(t, []string{"o", "l", "i", "f", "c"}, IDs(res.Items))
	})

	t.Run("search on configured fields", func(t *testing.T) {
		q := NewQuery(10, SortSpec{})
		q.Search = "ITEM B"
		res := Evaluate(rows, q, []string{"name"})
		assert.Equal(t, []string{"b"}, IDs(res.Items))
	})

	t.Run("page past the end is empty", func(t *testing.T) {
		q := NewQuery(10, SortSpec{})
		q.Page.Index = 5
		res := Evaluate(rows, q, nil)
		assert.Empty(t, res.Items)
		assert.Equal(t, 2, res.TotalPages)
	})
}

func TestParseExportFormat(t *testing.T) {
	f, err := ParseExportFormat("Excel")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)
	assert.Equal(t, "xlsx", f.Extension())

	_, err = ParseExportFormat("pdf")
	assert.True(t, shared.IsValidation(err))
}
