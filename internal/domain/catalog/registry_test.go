package catalog

import (
	"errors"
	"strings"
	"testing"

	"github.com/erp/console/internal/domain/listing"
	"github.com/erp/console/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinConfigsAreValid(t *testing.T) {
	for _, c := range Builtin() {
		t.Run(string(c.Kind), func(t *testing.T) {
			require.NoError(t, c.Validate())
		})
	}
}

func TestEntityConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *EntityConfig)
		field  string
	}{
		{
			name:   "collection must be an identifier",
			mutate: func(c *EntityConfig) { c.Collection = "products; drop table" },
			field:  "collection",
		},
		{
			name:   "page size above limit",
			mutate: func(c *EntityConfig) { c.PageSize = MaxPageSize + 1 },
			field:  "page_size",
		},
		{
			name:   "sortable field must be a column",
			mutate: func(c *EntityConfig) { c.SortableFields = append(c.SortableFields, "secret") },
			field:  "sortable_fields",
		},
		{
			name:   "search field must be a column",
			mutate: func(c *EntityConfig) { c.SearchFields = []string{"nope"} },
			field:  "search_fields",
		},
		{
			name: "dimension kind must be known",
			mutate: func(c *EntityConfig) {
				c.Dimensions = append(c.Dimensions, Dimension{Name: "odd", Field: "name", Kind: "regex"})
			},
			field: "kind",
		},
		{
			name: "duplicate dimension",
			mutate: func(c *EntityConfig) {
				c.Dimensions = append(c.Dimensions, Dimension{Name: "status", Kind: listing.KindSet})
			},
			field: "dimensions",
		},
		{
			name:   "default sort must be sortable",
			mutate: func(c *EntityConfig) { c.DefaultSort = listing.SortSpec{Field: "image_url", Direction: listing.Asc} },
			field:  "default_sort",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Products()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)

			var verr *shared.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Field, tt.field)
		})
	}
}

func TestEntityConfigLookups(t *testing.T) {
	c := Products()

	assert.True(t, c.IsSortable("selling_price"))
	assert.False(t, c.IsSortable("image_url"))
	assert.True(t, c.IsEditable("name"))
	assert.False(t, c.IsEditable("sku"))
	assert.False(t, c.IsEditable("unknown"))

	d, ok := c.Dimension("price")
	require.True(t, ok)
	assert.Equal(t, "selling_price", d.DimensionField())

	crit, err := d.Criterion([]string{"5", "10"})
	require.NoError(t, err)
	assert.Equal(t, "selling_price", crit.Field)

	missing, _ := c.Dimension("missing")
	assert.Equal(t, "", missing.DimensionField())

	q := c.NewQuery()
	assert.Equal(t, listing.Page{Index: 1, Size: listing.DefaultPageSize}, q.Page)
	assert.True(t, q.Sort.IsZero())
	assert.Equal(t, "created_at", c.DefaultSort.Field)
}

func TestEntityConfig_Criterion(t *testing.T) {
	c := Products()

	crit, err := c.Criterion("missing", []string{"image_url", "description"})
	require.NoError(t, err)
	assert.Equal(t, []string{"description", "image_url"}, crit.Values)

	crit, err = c.Criterion("missing", nil)
	require.NoError(t, err)
	assert.Nil(t, crit)

	_, err = c.Criterion("missing", []string{"image_url", "colour"})
	assert.True(t, shared.IsValidation(err))

	_, err = c.Criterion("colour", []string{"red"})
	assert.True(t, shared.IsValidation(err))

	stored, err := listing.NewCriterion("missing", "", listing.KindMissing, []string{"password"})
	require.NoError(t, err)
	assert.True(t, shared.IsValidation(c.CheckCriterion("missing", stored)))
	assert.NoError(t, c.CheckCriterion("category", nil))
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()

	assert.Equal(t, []Kind{KindCustomers, KindMerchants, KindProducts}, r.Kinds())

	c, err := r.ByCollection("merchants")
	require.NoError(t, err)
	assert.Equal(t, KindMerchants, c.Kind)

	_, err = r.Get("orders")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	dup := Customers()
	dup.Kind = "buyers"
	err = r.Register(dup)
	assert.True(t, shared.IsValidation(err))
}

func TestLoadOverrides(t *testing.T) {
	t.Run("partial override keeps other keys", func(t *testing.T) {
		r := DefaultRegistry()
		err := r.LoadOverrides(strings.NewReader(`
entities:
  - kind: products
    page_size: 50
    default_sort:
      field: name
      direction: asc
`))
		require.NoError(t, err)

		c, _ := r.Get(KindProducts)
		assert.Equal(t, 50, c.PageSize)
		assert.Equal(t, listing.SortSpec{Field: "name", Direction: listing.Asc}, c.DefaultSort)
		assert.Equal(t, "products", c.Collection)
		assert.NotEmpty(t, c.Dimensions)
	})

	t.Run("new entity", func(t *testing.T) {
		r := DefaultRegistry()
		err := r.LoadOverrides(strings.NewReader(`
entities:
  - kind: couriers
    collection: couriers
    title: Couriers
    page_size: 25
    columns:
      - {field: name, label: Name, editable: true}
      - {field: zone, label: Zone}
    dimensions:
      - {name: zone, kind: set}
    sortable_fields: [name]
    search_fields: [name]
`))
		require.NoError(t, err)

		c, err := r.Get("couriers")
		require.NoError(t, err)
		assert.True(t, c.IsEditable("name"))
		assert.Len(t, c.Dimensions, 1)
	})

	t.Run("invalid override is rejected", func(t *testing.T) {
		r := DefaultRegistry()
		err := r.LoadOverrides(strings.NewReader(`
entities:
  - kind: customers
    page_size: 0
`))
		assert.True(t, shared.IsValidation(err))

		c, _ := r.Get(KindCustomers)
		assert.Equal(t, listing.DefaultPageSize, c.PageSize)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.NoError(t, DefaultRegistry().LoadOverrides(strings.NewReader("")))
	})
}
