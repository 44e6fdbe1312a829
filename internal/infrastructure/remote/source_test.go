package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/erp/console/internal/domain/catalog"
	"github.com/erp/console/internal/domain/listing"
	"github.com/erp/console/internal/domain/shared"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is an in-memory marketplace API serving the products collection
type fakeBackend struct {
	mu        sync.Mutex
	products  map[string]gin.H
	lastQuery url.Values
	bare      bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{products: map[string]gin.H{
		"p1": {"id": "p1", "name": "Fresh Milk", "category": "Dairy", "selling_price": 3.5, "created_at": "2026-01-05T09:00:00Z"},
		"p2": {"id": "p2", "name": "Rye Bread", "category": "Bakery", "selling_price": 4.2, "created_at": "2026-03-02T09:00:00Z"},
		"p3": {"id": "p3", "name": "Goat Milk", "category": "Dairy", "selling_price": 6.0, "created_at": "2026-02-11T09:00:00Z"},
	}}
}

func (b *fakeBackend) router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	v1 := r.Group("/v1")

	products := v1.Group("/products")
	products.GET("", func(c *gin.Context) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.lastQuery = c.Request.URL.Query()
		rows := []gin.H{b.products["p1"], b.products["p2"], b.products["p3"]}
		if b.bare {
			c.JSON(http.StatusOK, rows)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    rows[:2],
			"meta":    gin.H{"total": 3, "page": 1, "page_size": 2, "total_pages": 2},
		})
	})
	products.GET("/:id", func(c *gin.Context) {
		b.mu.Lock()
		defer b.mu.Unlock()
		p, ok := b.products[c.Param("id")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": gin.H{"code": "NOT_FOUND", "message": "product not found"}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": p})
	})
	products.POST("", func(c *gin.Context) {
		var body gin.H
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		body["id"] = "p4"
		b.products["p4"] = body
		c.JSON(http.StatusCreated, body)
	})
	products.PATCH("/:id", func(c *gin.Context) {
		var patch gin.H
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		p, ok := b.products[c.Param("id")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"message": "product not found"})
			return
		}
		for k, v := range patch {
			p[k] = v
		}
		c.JSON(http.StatusOK, []gin.H{p})
	})
	products.DELETE("/:id", func(c *gin.Context) {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.products, c.Param("id"))
		c.Status(http.StatusNoContent)
	})
	products.POST("/bulk-update", func(c *gin.Context) {
		var req bulkMutateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		n := 0
		for _, id := range req.IDs {
			if p, ok := b.products[id]; ok {
				for k, v := range req.Patch {
					p[k] = v
				}
				n++
			}
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"updated_count": n}})
	})
	products.POST("/bulk-delete", func(c *gin.Context) {
		var req bulkDeleteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		n := 0
		for _, id := range req.IDs {
			if _, ok := b.products[id]; ok {
				delete(b.products, id)
				n++
			}
		}
		c.JSON(http.StatusOK, gin.H{"deleted_count": n})
	})
	products.POST("/export", func(c *gin.Context) {
		var req exportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		data := "ID\n"
		for _, id := range req.IDs {
			data += id + "\n"
		}
		c.Data(http.StatusOK, "text/csv", []byte(data))
	})

	v1.POST("/rpc/:name", func(c *gin.Context) {
		switch c.Param("name") {
		case "category_totals":
			c.JSON(http.StatusOK, gin.H{"success": true, "data": []gin.H{{"category": "Dairy", "total": 2}}})
		case "ping":
			c.Status(http.StatusNoContent)
		default:
			c.JSON(http.StatusNotFound, gin.H{"message": "function not found"})
		}
	})
	return r
}

func newTestSource(t *testing.T) (*Source, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend()
	server := httptest.NewServer(backend.router())
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL, APIVersion: "v1"},
		WithAuthenticator(SessionAuth{Token: "tok", TenantID: "tenant-1"}))
	require.NoError(t, err)
	return NewSource(client, catalog.DefaultRegistry()), backend
}

func mustCriterion(t *testing.T, dim catalog.Dimension, values ...string) *listing.Criterion {
	t.Helper()
	c, err := dim.Criterion(values)
	require.NoError(t, err)
	return c
}

func TestQueryParams(t *testing.T) {
	products := catalog.Products()
	dim := func(name string) catalog.Dimension {
		d, ok := products.Dimension(name)
		require.True(t, ok)
		return d
	}

	q := products.NewQuery()
	q.Sort = listing.SortSpec{Field: "created_at", Direction: listing.Desc}
	q.Page = listing.Page{Index: 3, Size: 50}
	q.Search = "  milk "
	q.Filters = q.Filters.
		With("category", mustCriterion(t, dim("category"), "Dairy", "Bakery")).
		With("price", mustCriterion(t, dim("price"), "2.5", "")).
		With("featured", mustCriterion(t, dim("featured"), "true")).
		With("missing", mustCriterion(t, dim("missing"), "image_url", "description"))

	v := QueryParams(q)
	assert.Equal(t, "3", v.Get("page"))
	assert.Equal(t, "50", v.Get("page_size"))
	assert.Equal(t, "created_at", v.Get("order_by"))
	assert.Equal(t, "desc", v.Get("order_dir"))
	assert.Equal(t, "milk", v.Get("search"))
	assert.ElementsMatch(t, []string{"Dairy", "Bakery"}, strings.Split(v.Get("category"), ","))
	assert.Equal(t, "2.5", v.Get("min_price"))
	assert.False(t, v.Has("max_price"))
	assert.Equal(t, "true", v.Get("featured"))
	assert.ElementsMatch(t, []string{"image_url", "description"}, strings.Split(v.Get("missing"), ","))

	t.Run("zero query", func(t *testing.T) {
		v := QueryParams(listing.Query{})
		assert.Equal(t, "1", v.Get("page"))
		assert.Equal(t, "20", v.Get("page_size"))
		assert.False(t, v.Has("order_by"))
		assert.False(t, v.Has("search"))
	})
}

func TestSource_Query(t *testing.T) {
	ctx := context.Background()

	t.Run("envelope metadata wins", func(t *testing.T) {
		src, backend := newTestSource(t)
		q := catalog.Products().NewQuery()
		q.Search = "milk"

		res, err := src.Query(ctx, "products", q)
		require.NoError(t, err)
		assert.Equal(t, []string{"p1", "p2"}, listing.IDs(res.Items))
		assert.Equal(t, int64(3), res.Total)
		assert.Equal(t, 2, res.PageSize)
		assert.Equal(t, 2, res.TotalPages)
		backend.mu.Lock()
		assert.Equal(t, []string{"milk"}, backend.lastQuery["search"])
		backend.mu.Unlock()
	})

	t.Run("bare array is evaluated locally", func(t *testing.T) {
		src, backend := newTestSource(t)
		backend.mu.Lock()
		backend.bare = true
		backend.mu.Unlock()
		q := catalog.Products().NewQuery()
		q.Sort = listing.SortSpec{Field: "selling_price", Direction: listing.Desc}
		q.Search = "MILK"

		res, err := src.Query(ctx, "products", q)
		require.NoError(t, err)
		assert.Equal(t, []string{"p3", "p1"}, listing.IDs(res.Items))
		assert.Equal(t, int64(2), res.Total)
		assert.Equal(t, 1, res.TotalPages)
	})

	t.Run("bare array without a sort uses the entity ordering", func(t *testing.T) {
		src, backend := newTestSource(t)
		backend.mu.Lock()
		backend.bare = true
		backend.mu.Unlock()

		q := catalog.Products().NewQuery()
		require.True(t, q.Sort.IsZero())
		res, err := src.Query(ctx, "products", q)
		require.NoError(t, err)
		assert.Equal(t, []string{"p2", "p3", "p1"}, listing.IDs(res.Items))
		backend.mu.Lock()
		assert.False(t, backend.lastQuery.Has("order_by"))
		backend.mu.Unlock()
	})
}

func TestSource_RecordOperations(t *testing.T) {
	ctx := context.Background()
	src, backend := newTestSource(t)

	rec, err := src.Get(ctx, "products", "p1")
	require.NoError(t, err)
	name, _ := rec.Get("name")
	assert.Equal(t, "Fresh Milk", name)

	_, err = src.Get(ctx, "products", "nope")
	assert.Equal(t, shared.RemoteCodeNotFound, shared.ErrorCode(err))

	created, err := src.Insert(ctx, "products", map[string]any{"name": "Butter"})
	require.NoError(t, err)
	assert.Equal(t, "p4", created.ID)

	updated, err := src.Mutate(ctx, "products", "p2", map[string]any{"name": "Dark Rye"})
	require.NoError(t, err)
	name, _ = updated.Get("name")
	assert.Equal(t, "Dark Rye", name)

	_, err = src.Mutate(ctx, "products", "nope", map[string]any{"name": "x"})
	var re *shared.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusNotFound, re.Status)

	require.NoError(t, src.Delete(ctx, "products", "p4"))
	backend.mu.Lock()
	_, exists := backend.products["p4"]
	backend.mu.Unlock()
	assert.False(t, exists)
}

func TestSource_Bulk(t *testing.T) {
	ctx := context.Background()
	src, backend := newTestSource(t)

	n, err := src.BulkMutate(ctx, "products", []string{"p1", "p3", "missing"}, map[string]any{"status": "inactive"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	backend.mu.Lock()
	assert.Equal(t, "inactive", backend.products["p3"]["status"])
	backend.mu.Unlock()

	n, err = src.BulkDelete(ctx, "products", []string{"p1", "p2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	backend.mu.Lock()
	assert.Len(t, backend.products, 1)
	backend.mu.Unlock()
}

func TestSource_ExportSelected(t *testing.T) {
	src, _ := newTestSource(t)

	blob, err := src.ExportSelected(context.Background(), "products", []string{"p1", "p3"}, listing.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "ID\np1\np3\n", string(blob.Data))
	assert.Equal(t, "text/csv", blob.ContentType)
	assert.Equal(t, listing.FormatCSV, blob.Format)
}

func TestSource_CallProcedure(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestSource(t)

	raw, err := src.CallProcedure(ctx, "category_totals", nil)
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(raw, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "Dairy", rows[0]["category"])

	raw, err = src.CallProcedure(ctx, "ping", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage("null"), raw)

	_, err = src.CallProcedure(ctx, "nope", nil)
	assert.Equal(t, shared.RemoteCodeNotFound, shared.ErrorCode(err))
}
