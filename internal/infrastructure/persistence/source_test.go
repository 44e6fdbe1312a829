package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/console/internal/domain/catalog"
	"github.com/erp/console/internal/domain/listing"
	"github.com/erp/console/internal/domain/shared"
	"github.com/erp/console/internal/infrastructure/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func strPtr(s string) *string { return &s }

// newSQLiteSource opens an in-memory database with 30 products
func newSQLiteSource(t *testing.T) (*TableSource, *Database) {
	t.Helper()
	db, err := NewDatabase(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		LogLevel:     "silent",
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(db.DB))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	categories := []string{"Dairy", "Bakery", "Produce"}
	products := make([]ProductModel, 30)
	for i := range products {
		p := ProductModel{
			ID:           fmt.Sprintf("p%02d", i+1),
			Name:         fmt.Sprintf("Product %02d", i+1),
			SKU:          fmt.Sprintf("SKU-%03d", i+1),
			Category:     categories[i%3],
			MerchantID:   strPtr("m1"),
			SellingPrice: decimal.NewFromInt(int64(i + 1)),
			Stock:        i * 10,
			Status:       "active",
			Featured:     i%5 == 0,
			Description:  "fresh goods",
			CreatedAt:    base.Add(time.Duration(i) * time.Hour),
			UpdatedAt:    base,
		}
		if i%10 == 9 {
			p.ImageURL = nil
		} else {
			p.ImageURL = strPtr("https://cdn.example.com/p.png")
		}
		products[i] = p
	}
	products[7].Name = "Organic 100% Milk"
	require.NoError(t, db.DB.Create(&products).Error)

	return NewTableSource(db.DB, catalog.DefaultRegistry()), db
}

func criterion(t *testing.T, kind catalog.Kind, dim string, values ...string) *listing.Criterion {
	t.Helper()
	cfg, err := catalog.DefaultRegistry().Get(kind)
	require.NoError(t, err)
	d, ok := cfg.Dimension(dim)
	require.True(t, ok)
	c, err := d.Criterion(values)
	require.NoError(t, err)
	return c
}

func TestTableSource_Query(t *testing.T) {
	src, _ := newSQLiteSource(t)
	ctx := context.Background()

	t.Run("default sort and paging", func(t *testing.T) {
		res, err := src.Query(ctx, "products", catalog.Products().NewQuery())
		require.NoError(t, err)
		assert.Equal(t, int64(30), res.Total)
		assert.Equal(t, 2, res.TotalPages)
		require.Len(t, res.Items, 20)
		assert.Equal(t, "p30", res.Items[0].ID)
	})

	t.Run("second page", func(t *testing.T) {
		q := catalog.Products().NewQuery()
		q.Page = listing.Page{Index: 2, Size: 20}
		res, err := src.Query(ctx, "products", q)
		require.NoError(t, err)
		assert.Len(t, res.Items, 10)
		assert.Equal(t, 2, res.Page)
	})

	t.Run("set filter is case insensitive", func(t *testing.T) {
		q := catalog.Products().NewQuery()
		q.Filters = q.Filters.With("category", criterion(t, catalog.KindProducts, "category", "dairy", "BAKERY"))
		res, err := src.Query(ctx, "products", q)
		require.NoError(t, err)
		assert.Equal(t, int64(20), res.Total)
		for _, r := range res.Items {
			v, _ := r.Get("category")
			assert.Contains(t, []string{"Dairy", "Bakery"}, v)
		}
	})

	t.Run("range with sort ascending", func(t *testing.T) {
		q := catalog.Products().NewQuery()
		q.Filters = q.Filters.With("price", criterion(t, catalog.KindProducts, "price", "5", "8"))
		q.Sort = listing.SortSpec{Field: "selling_price", Direction: listing.Asc}
		res, err := src.Query(ctx, "products", q)
		require.NoError(t, err)
		assert.Equal(t, []string{"p05", "p06", "p07", "p08"}, listing.IDs(res.Items))
	})

	t.Run("flag and missing", func(t *testing.T) {
		q := catalog.Products().NewQuery()
		q.Filters = q.Filters.
			With("featured", criterion(t, catalog.KindProducts, "featured", "true")).
			With("missing", criterion(t, catalog.KindProducts, "missing", "image_url"))
		res, err := src.Query(ctx, "products", q)
		require.NoError(t, err)
		assert.Equal(t, int64(0), res.Total)

		q.Filters = q.Filters.With("featured", criterion(t, catalog.KindProducts, "featured", "false"))
		res, err = src.Query(ctx, "products", q)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"p10", "p20", "p30"}, listing.IDs(res.Items))
	})

	t.Run("search escapes wildcards", func(t *testing.T) {
		q := catalog.Products().NewQuery()
		q.Search = "100%"
		res, err := src.Query(ctx, "products", q)
		require.NoError(t, err)
		assert.Equal(t, []string{"p08"}, listing.IDs(res.Items))

		q.Search = "sku-01"
		res, err = src.Query(ctx, "products", q)
		require.NoError(t, err)
		assert.Equal(t, int64(10), res.Total)
	})

	t.Run("unknown sort field falls back to default", func(t *testing.T) {
		q := catalog.Products().NewQuery()
		q.Sort = listing.SortSpec{Field: "image_url; DROP TABLE products", Direction: listing.Asc}
		res, err := src.Query(ctx, "products", q)
		require.NoError(t, err)
		assert.Equal(t, "p30", res.Items[0].ID)
	})

	t.Run("unknown collection", func(t *testing.T) {
		_, err := src.Query(ctx, "orders", listing.NewQuery(10, listing.SortSpec{}))
		require.Error(t, err)
		assert.Equal(t, shared.RemoteCodeNotFound, shared.ErrorCode(err))
	})
}

func TestTableSource_RecordOperations(t *testing.T) {
	src, _ := newSQLiteSource(t)
	ctx := context.Background()

	rec, err := src.Get(ctx, "products", "p03")
	require.NoError(t, err)
	assert.Equal(t, "p03", rec.ID)
	name, _ := rec.Get("name")
	assert.Equal(t, "Product 03", name)

	_, err = src.Get(ctx, "products", "nope")
	assert.Equal(t, shared.RemoteCodeNotFound, shared.ErrorCode(err))

	updated, err := src.Mutate(ctx, "products", "p03", map[string]any{"stock": 77})
	require.NoError(t, err)
	stock, _ := updated.Get("stock")
	assert.True(t, listing.ValuesEqual(77, stock))

	_, err = src.Mutate(ctx, "products", "nope", map[string]any{"stock": 1})
	assert.Equal(t, shared.RemoteCodeNotFound, shared.ErrorCode(err))

	_, err = src.Mutate(ctx, "products", "p03", map[string]any{"secret": 1})
	assert.Equal(t, shared.RemoteCodeInvalid, shared.ErrorCode(err))

	created, err := src.Insert(ctx, "products", map[string]any{
		"name": "New", "sku": "SKU-NEW", "category": "Bakery", "status": "draft", "selling_price": "4.50",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	createdAt, _ := created.Get("created_at")
	assert.False(t, listing.IsEmptyValue(createdAt))

	require.NoError(t, src.Delete(ctx, "products", created.ID))
	assert.Equal(t, shared.RemoteCodeNotFound, shared.ErrorCode(src.Delete(ctx, "products", created.ID)))
}

func TestTableSource_Bulk(t *testing.T) {
	src, _ := newSQLiteSource(t)
	ctx := context.Background()

	n, err := src.BulkMutate(ctx, "products", []string{"p01", "p02", "missing"}, map[string]any{"category": "Frozen"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	q := catalog.Products().NewQuery()
	q.Filters = q.Filters.With("category", criterion(t, catalog.KindProducts, "category", "frozen"))
	res, err := src.Query(ctx, "products", q)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p01", "p02"}, listing.IDs(res.Items))

	n, err = src.BulkDelete(ctx, "products", []string{"p01", "p02", "p03"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	res, err = src.Query(ctx, "products", catalog.Products().NewQuery())
	require.NoError(t, err)
	assert.Equal(t, int64(27), res.Total)

	n, err = src.BulkDelete(ctx, "products", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTableSource_ExportSelected(t *testing.T) {
	src, _ := newSQLiteSource(t)
	ctx := context.Background()

	blob, err := src.ExportSelected(ctx, "products", []string{"p02", "p01"}, listing.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, listing.FormatCSV, blob.Format)

	text := string(blob.Data)
	require.True(t, strings.HasPrefix(text, "\ufeff"))
	lines := strings.Split(strings.TrimSpace(strings.TrimPrefix(text, "\ufeff")), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID,Name,SKU,Category"))
	assert.True(t, strings.HasPrefix(lines[1], "p01,Product 01,SKU-001,Dairy"))

	_, err = src.ExportSelected(ctx, "products", []string{"p01"}, listing.FormatXLSX)
	assert.Equal(t, shared.RemoteCodeUnsupported, shared.ErrorCode(err))
}

func TestTableSource_CallProcedure_SQLite(t *testing.T) {
	src, _ := newSQLiteSource(t)
	_, err := src.CallProcedure(context.Background(), "top_merchants", nil)
	assert.Equal(t, shared.RemoteCodeUnsupported, shared.ErrorCode(err))
}

// newMockSource creates a TableSource on a mocked PostgreSQL connection
func newMockSource(t *testing.T) (*TableSource, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})
	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return NewTableSource(gormDB, catalog.DefaultRegistry()), mock
}

func TestTableSource_Postgres_QueryShape(t *testing.T) {
	src, mock := newMockSource(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "products" WHERE LOWER(CAST("category" AS TEXT)) IN ($1,$2) AND "selling_price" >= $3`)).
		WithArgs("bakery", "dairy", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(41))
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY "selling_price" DESC,"id"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "selling_price"}).
			AddRow("p1", "Milk", "12.50").
			AddRow("p2", []byte("Bread"), "3"))

	q := catalog.Products().NewQuery()
	q.Filters = q.Filters.
		With("category", criterion(t, catalog.KindProducts, "category", "Dairy", "Bakery")).
		With("price", criterion(t, catalog.KindProducts, "price", "2"))
	q.Sort = listing.SortSpec{Field: "selling_price", Direction: listing.Desc}
	q.Page = listing.Page{Index: 3, Size: 20}

	res, err := src.Query(context.Background(), "products", q)
	require.NoError(t, err)
	assert.Equal(t, int64(41), res.Total)
	assert.Equal(t, 3, res.TotalPages)
	require.Len(t, res.Items, 2)
	name, _ := res.Items[1].Get("name")
	assert.Equal(t, "Bread", name)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTableSource_Postgres_CallProcedure(t *testing.T) {
	src, mock := newMockSource(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM top_merchants(city => $1, limit_count => $2)`)).
		WithArgs("Lisbon", 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "orders"}).AddRow("m1", 12))

	raw, err := src.CallProcedure(context.Background(), "top_merchants", map[string]any{
		"limit_count": 5,
		"city":        "Lisbon",
	})
	require.NoError(t, err)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(raw, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "m1", rows[0]["id"])
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = src.CallProcedure(context.Background(), "drop table x; --", nil)
	assert.Equal(t, shared.RemoteCodeInvalid, shared.ErrorCode(err))
	_, err = src.CallProcedure(context.Background(), "top_merchants", map[string]any{"a b": 1})
	assert.Equal(t, shared.RemoteCodeInvalid, shared.ErrorCode(err))
}

func TestTableSource_Postgres_DatabaseError(t *testing.T) {
	src, mock := newMockSource(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "products" WHERE "id" IN ($1,$2)`)).
		WithArgs("p1", "p2").
		WillReturnError(fmt.Errorf("connection reset"))

	_, err := src.BulkDelete(context.Background(), "products", []string{"p1", "p2"})
	require.Error(t, err)
	assert.Equal(t, shared.RemoteCodeDatabase, shared.ErrorCode(err))
	assert.Contains(t, err.Error(), "bulk_delete")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderFor(t *testing.T) {
	cfg := catalog.Products()

	field, desc := orderFor(cfg, listing.SortSpec{Field: "name", Direction: listing.Asc})
	assert.Equal(t, "name", field)
	assert.False(t, desc)

	field, desc = orderFor(cfg, listing.SortSpec{Field: "image_url", Direction: listing.Asc})
	assert.Equal(t, "created_at", field)
	assert.True(t, desc)

	cfg.DefaultSort = listing.SortSpec{}
	field, _ = orderFor(cfg, listing.SortSpec{})
	assert.Empty(t, field)
}

func TestDatabase_UnsupportedDriver(t *testing.T) {
	_, err := NewDatabase(&config.DatabaseConfig{Driver: "oracle"}, zap.NewNop())
	assert.Error(t, err)
}

func TestDatabase_Stats(t *testing.T) {
	_, db := newSQLiteSource(t)
	require.NoError(t, db.Ping())
	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MaxOpenConnections)
}
