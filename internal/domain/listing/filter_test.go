package listing

import (
	"testing"

	"github.com/erp/console/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func product(id string, fields map[string]any) Record {
	fields["id"] = id
	r, _ := NewRecord(fields)
	return r
}

func TestNewCriterion(t *testing.T) {
	t.Run("set values are trimmed, deduplicated and sorted", func(t *testing.T) {
		c, err := NewCriterion("status", "status", KindSet, []string{" inactive", "active", "inactive", ""})
		require.NoError(t, err)
		assert.Equal(t, []string{"active", "inactive"}, c.Values)
	})

	t.Run("empty set clears the dimension", func(t *testing.T) {
		c, err := NewCriterion("status", "status", KindSet, []string{" ", ""})
		require.NoError(t, err)
		assert.Nil(t, c)
	})

	t.Run("range parses decimal bounds", func(t *testing.T) {
		c, err := NewCriterion("price", "selling_price", KindRange, []string{"10.5", ""})
		require.NoError(t, err)
		require.NotNil(t, c.Min)
		assert.Equal(t, "10.5", c.Min.String())
		assert.Nil(t, c.Max)
	})

	t.Run("non numeric price is a validation error", func(t *testing.T) {
		_, err := NewCriterion("price", "selling_price", KindRange, []string{"ten", "20"})
		require.Error(t, err)
		assert.True(t, shared.IsValidation(err))
	})

	t.Run("inverted range is rejected", func(t *testing.T) {
		_, err := NewCriterion("price", "selling_price", KindRange, []string{"30", "20"})
		assert.True(t, shared.IsValidation(err))
	})

	t.Run("flag must be boolean", func(t *testing.T) {
		_, err := NewCriterion("featured", "featured", KindFlag, []string{"maybe"})
		assert.True(t, shared.IsValidation(err))

		c, err := NewCriterion("featured", "featured", KindFlag, []string{"true"})
		require.NoError(t, err)
		assert.True(t, c.Flag)
	})

	t.Run("unknown kind is rejected", func(t *testing.T) {
		_, err := NewCriterion("x", "x", CriterionKind("regex"), []string{"a"})
		assert.True(t, shared.IsValidation(err))
	})
}

func TestFilterSetMatches(t *testing.T) {
	apple := product("1", map[string]any{"category": "Fruit", "status": "active", "selling_price": 12.5, "image_url": "a.png", "featured": true})
	kale := product("2", map[string]any{"category": "Vegetable", "status": "inactive", "selling_price": 3, "image_url": "", "featured": false})
	bread := product("3", map[string]any{"category": "Bakery", "status": "active", "selling_price": "25.00", "tags": []any{"fresh", "local"}})

	set := func(dim, field string, kind CriterionKind, values ...string) *Criterion {
		c, err := NewCriterion(dim, field, kind, values)
		require.NoError(t, err)
		return c
	}

	t.Run("empty filter set matches all", func(t *testing.T) {
		fs := NewFilterSet()
		for _, r := range []Record{apple, kale, bread} {
			assert.True(t, fs.Matches(r))
		}
	})

	t.Run("values within a dimension are OR'ed, case-insensitively", func(t *testing.T) {
		fs := NewFilterSet().With("category", set("category", "category", KindSet, "fruit", "bakery"))
		assert.True(t, fs.Matches(apple))
		assert.False(t, fs.Matches(kale))
		assert.True(t, fs.Matches(bread))
	})

	t.Run("dimensions are AND'ed", func(t *testing.T) {
		fs := NewFilterSet().
			With("category", set("category", "category", KindSet, "fruit", "bakery")).
			With("price", set("price", "selling_price", KindRange, "", "20"))
		assert.True(t, fs.Matches(apple))
		assert.False(t, fs.Matches(bread))
	})

	t.Run("range handles numbers encoded as strings", func(t *testing.T) {
		fs := NewFilterSet().With("price", set("price", "selling_price", KindRange, "20", "30"))
		assert.True(t, fs.Matches(bread))
		assert.False(t, fs.Matches(apple))
	})

	t.Run("missing matches any listed empty field", func(t *testing.T) {
		fs := NewFilterSet().With("missing", set("missing", "", KindMissing, "image_url", "description"))
		assert.True(t, fs.Matches(apple), "apple has no description")
		assert.True(t, fs.Matches(kale))

		fs = NewFilterSet().With("missing", set("missing", "", KindMissing, "image_url"))
		assert.False(t, fs.Matches(apple))
		assert.True(t, fs.Matches(bread))
	})

	t.Run("set matches array fields element-wise", func(t *testing.T) {
		fs := NewFilterSet().With("tags", set("tags", "tags", KindSet, "LOCAL"))
		assert.True(t, fs.Matches(bread))
		assert.False(t, fs.Matches(apple))
	})

	t.Run("flag", func(t *testing.T) {
		fs := NewFilterSet().With("featured", set("featured", "featured", KindFlag, "false"))
		assert.False(t, fs.Matches(apple))
		assert.True(t, fs.Matches(kale))
		assert.True(t, fs.Matches(bread), "absent flag counts as false")
	})

	t.Run("nil criterion removes dimension", func(t *testing.T) {
		fs := NewFilterSet().With("category", set("category", "category", KindSet, "fruit"))
		fs = fs.With("category", nil)
		assert.True(t, fs.IsEmpty())
	})
}

func TestFilterSetKey(t *testing.T) {
	a, _ := NewCriterion("status", "status", KindSet, []string{"b", "a"})
	b, _ := NewCriterion("status", "status", KindSet, []string{"a", "b", "a"})
	p, _ := NewCriterion("price", "price", KindRange, []string{"1.50", "2"})

	fs1 := NewFilterSet().With("status", a).With("price", p)
	fs2 := NewFilterSet().With("price", p).With("status", b)

	assert.Equal(t, fs1.Key(), fs2.Key())
	assert.Equal(t, "price:range=1.5..2&status:set=a,b", fs1.Key())
	assert.Equal(t, "", NewFilterSet().Key())
}

func TestFilterSetWithDoesNotMutate(t *testing.T) {
	c, _ := NewCriterion("status", "status", KindSet, []string{"active"})
	base := NewFilterSet()
	next := base.With("status", c)

	assert.True(t, base.IsEmpty())
	assert.Equal(t, []string{"status"}, next.Dimensions())
}
