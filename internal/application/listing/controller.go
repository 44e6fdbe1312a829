// Package listing drives one paginated, filtered and sorted view of a
// collection. The controller owns the row cache of that view; other
// components change rows only through its cell API.
package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/erp/console/internal/domain/catalog"
	"github.com/erp/console/internal/domain/listing"
	"github.com/erp/console/internal/domain/shared"
	"go.uber.org/zap"
)

// Metrics receives list query events
type Metrics interface {
	QueryIssued(collection string)
	QueryFailed(collection string)
	StaleDiscarded(collection string)
}

type nopMetrics struct{}

func (nopMetrics) QueryIssued(string)    {}
func (nopMetrics) QueryFailed(string)    {}
func (nopMetrics) StaleDiscarded(string) {}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the controller logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithNotifier sets where query failures are reported
func WithNotifier(n shared.Notifier) Option {
	return func(c *Controller) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// State is an immutable snapshot of the view
type State struct {
	Collection string
	Query      listing.Query
	Rows       []listing.Record
	Total      int64
	TotalPages int
	Loading    bool
	Loaded     bool
	Err        error
}

type request struct {
	seq        uint64
	collection string
	query      listing.Query
}

// Controller holds the state of one list view. Methods that reach the data
// source block until the request settles; the mutex is never held across it.
type Controller struct {
	source   listing.DataSource
	logger   *zap.Logger
	notifier shared.Notifier
	metrics  Metrics

	mu         sync.Mutex
	cfg        catalog.EntityConfig
	query      listing.Query
	rows       []listing.Record
	total      int64
	totalPages int
	loaded     bool
	err        error
	seq        uint64
	loading    bool
	issuedKey  string
	onScope    []func()
}

// NewController creates a controller for the given entity
func NewController(source listing.DataSource, cfg catalog.EntityConfig, opts ...Option) *Controller {
	c := &Controller{
		source:   source,
		logger:   zap.NewNop(),
		notifier: shared.NopNotifier{},
		metrics:  nopMetrics{},
		cfg:      cfg,
		query:    cfg.NewQuery(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnScopeChange registers fn to run whenever the filter set or search text
// changes, or the controller is reset to another collection.
func (c *Controller) OnScopeChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onScope = append(c.onScope, fn)
}

// Config returns the entity configuration the view is driven by
func (c *Controller) Config() catalog.EntityConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Collection returns the collection currently listed
func (c *Controller) Collection() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Collection
}

// View returns a snapshot of the current state
func (c *Controller) View() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows := make([]listing.Record, len(c.rows))
	for i, r := range c.rows {
		rows[i] = r.Clone()
	}
	return State{
		Collection: c.cfg.Collection,
		Query:      c.query.Clone(),
		Rows:       rows,
		Total:      c.total,
		TotalPages: c.totalPages,
		Loading:    c.loading,
		Loaded:     c.loaded,
		Err:        c.err,
	}
}

// Loading reports whether a query is in flight
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Load issues the current query unless the same tuple is already in flight or loaded
func (c *Controller) Load(ctx context.Context) error {
	return c.update(ctx, false, func(*listing.Query) error { return nil })
}

// Refresh re-issues the current query even if it was already loaded
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	req := c.beginLocked()
	c.mu.Unlock()
	return c.run(ctx, req)
}

// SetFilter replaces the values of one filter dimension. Passing no values clears it.
func (c *Controller) SetFilter(ctx context.Context, dimension string, values ...string) error {
	return c.update(ctx, true, func(q *listing.Query) error {
		crit, err := c.cfg.Criterion(dimension, values)
		if err != nil {
			return err
		}
		q.Filters = q.Filters.With(dimension, crit)
		q.Page.Index = 1
		return nil
	})
}

// ClearFilters removes every filter dimension
func (c *Controller) ClearFilters(ctx context.Context) error {
	return c.update(ctx, true, func(q *listing.Query) error {
		q.Filters = listing.NewFilterSet()
		q.Page.Index = 1
		return nil
	})
}

// SetSearchText replaces the free-text search
func (c *Controller) SetSearchText(ctx context.Context, text string) error {
	return c.update(ctx, true, func(q *listing.Query) error {
		q.Search = strings.TrimSpace(text)
		q.Page.Index = 1
		return nil
	})
}

// SetSort toggles the sort on field: the active field flips direction, a new
// field starts descending.
func (c *Controller) SetSort(ctx context.Context, field string) error {
	return c.update(ctx, false, func(q *listing.Query) error {
		if !c.cfg.IsSortable(field) {
			return shared.NewValidationError("sort", fmt.Sprintf("cannot sort by %q", field))
		}
		q.Sort = q.Sort.Toggle(field)
		q.Page.Index = 1
		return nil
	})
}

// SetPage moves to a 1-based page index
func (c *Controller) SetPage(ctx context.Context, index int) error {
	return c.update(ctx, false, func(q *listing.Query) error {
		if index < 1 {
			return shared.NewValidationError("page", "page index must be at least 1")
		}
		q.Page.Index = index
		return nil
	})
}

// SetPageSize changes the number of rows per page
func (c *Controller) SetPageSize(ctx context.Context, size int) error {
	return c.update(ctx, false, func(q *listing.Query) error {
		if size < 1 || size > catalog.MaxPageSize {
			return shared.NewValidationError("page_size", fmt.Sprintf("page size must be between 1 and %d", catalog.MaxPageSize))
		}
		q.Page = listing.FirstPage(size)
		return nil
	})
}

// Apply replaces the whole query in one step, as when a saved view is
// restored. A zero page size keeps the current one.
func (c *Controller) Apply(ctx context.Context, q listing.Query) error {
	return c.update(ctx, true, func(next *listing.Query) error {
		for _, dim := range q.Filters.Dimensions() {
			if err := c.cfg.CheckCriterion(dim, q.Filters[dim]); err != nil {
				return err
			}
		}
		if !q.Sort.IsZero() && !c.cfg.IsSortable(q.Sort.Field) {
			return shared.NewValidationError("sort", fmt.Sprintf("cannot sort by %q", q.Sort.Field))
		}
		page := q.Page
		if page.Size == 0 {
			page.Size = next.Page.Size
		}
		if page.Index == 0 {
			page.Index = 1
		}
		if err := page.Validate(); err != nil {
			return err
		}
		if page.Size > catalog.MaxPageSize {
			return shared.NewValidationError("page_size", fmt.Sprintf("page size must be between 1 and %d", catalog.MaxPageSize))
		}

		applied := q.Clone()
		applied.Search = strings.TrimSpace(applied.Search)
		applied.Page = page
		*next = applied
		return nil
	})
}

// Reset points the controller at another entity. Cached rows are dropped and
// responses still in flight for the previous collection are discarded.
func (c *Controller) Reset(cfg catalog.EntityConfig) {
	c.mu.Lock()
	c.cfg = cfg
	c.query = cfg.NewQuery()
	c.rows = nil
	c.total = 0
	c.totalPages = 0
	c.loaded = false
	c.err = nil
	c.loading = false
	c.issuedKey = ""
	c.seq++
	hooks := append([]func(){}, c.onScope...)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// update applies mutate to a copy of the query and issues it when the
// resulting tuple differs from the last one issued.
func (c *Controller) update(ctx context.Context, scoped bool, mutate func(q *listing.Query) error) error {
	c.mu.Lock()
	next := c.query.Clone()
	if err := mutate(&next); err != nil {
		c.mu.Unlock()
		return err
	}
	scopeChanged := scoped && (next.Filters.Key() != c.query.Filters.Key() || next.Search != c.query.Search)
	c.query = next
	var hooks []func()
	if scopeChanged {
		hooks = append(hooks, c.onScope...)
	}
	if next.Key() == c.issuedKey {
		c.mu.Unlock()
		runHooks(hooks)
		return nil
	}
	req := c.beginLocked()
	c.mu.Unlock()

	runHooks(hooks)
	return c.run(ctx, req)
}

func runHooks(hooks []func()) {
	for _, fn := range hooks {
		fn()
	}
}

func (c *Controller) beginLocked() request {
	c.seq++
	c.loading = true
	c.issuedKey = c.query.Key()
	return request{seq: c.seq, collection: c.cfg.Collection, query: c.query.Clone()}
}

func (c *Controller) run(ctx context.Context, req request) error {
	for {
		c.metrics.QueryIssued(req.collection)
		c.logger.Debug("Issuing list query",
			zap.String("collection", req.collection),
			zap.Uint64("seq", req.seq),
			zap.String("query", req.query.Key()))

		res, err := c.source.Query(ctx, req.collection, req.query)

		next, err := c.settle(ctx, req, res, err)
		if errors.Is(err, shared.ErrStaleResponse) {
			c.metrics.StaleDiscarded(req.collection)
			c.logger.Debug("Discarding stale list response",
				zap.String("collection", req.collection),
				zap.Uint64("seq", req.seq))
			return nil
		}
		if err != nil || next == nil {
			return err
		}
		req = *next
	}
}

// settle applies a response if it belongs to the latest request. It returns a
// follow-up request when the page index had to be clamped.
func (c *Controller) settle(ctx context.Context, req request, res listing.PageResult, qerr error) (*request, error) {
	c.mu.Lock()
	if req.seq != c.seq {
		c.mu.Unlock()
		return nil, shared.ErrStaleResponse
	}
	c.loading = false

	if qerr != nil {
		c.err = qerr
		c.issuedKey = ""
		c.mu.Unlock()

		c.metrics.QueryFailed(req.collection)
		if errors.Is(qerr, context.Canceled) {
			return nil, qerr
		}
		c.logger.Warn("List query failed",
			zap.String("collection", req.collection),
			zap.String("code", shared.ErrorCode(qerr)),
			zap.Error(qerr))
		c.notifier.Notify(ctx, shared.Notification{
			Severity: shared.SeverityError,
			Title:    fmt.Sprintf("Failed to load %s", req.collection),
			Message:  qerr.Error(),
		})
		return nil, qerr
	}

	index := req.query.Page.Index
	if index > 1 && (index > res.TotalPages || len(res.Items) == 0) {
		clamped := req.query.Page.Clamp(res.TotalPages)
		if clamped.Index != index {
			c.logger.Debug("Clamping page index",
				zap.String("collection", req.collection),
				zap.Int("from", index),
				zap.Int("to", clamped.Index))
			c.query.Page = clamped
			next := c.beginLocked()
			c.mu.Unlock()
			return &next, nil
		}
	}

	c.rows = res.Items
	c.total = res.Total
	c.totalPages = res.TotalPages
	c.loaded = true
	c.err = nil
	c.mu.Unlock()
	return nil, nil
}

// Rows returns copies of the cached rows in display order
func (c *Controller) Rows() []listing.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows := make([]listing.Record, len(c.rows))
	for i, r := range c.rows {
		rows[i] = r.Clone()
	}
	return rows
}

// VisibleIDs returns the ids of the rows on the current page
func (c *Controller) VisibleIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return listing.IDs(c.rows)
}

// Cell returns the cached value of one field. ok is false when the record is
// not on the current page.
func (c *Controller) Cell(id, field string) (value any, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(id)
	if i < 0 {
		return nil, false
	}
	v, _ := c.rows[i].Get(field)
	return v, true
}

// SetCell replaces one cached field value. It reports false when the record is
// not on the current page.
func (c *Controller) SetCell(id, field string, value any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(id)
	if i < 0 {
		return false
	}
	row := c.rows[i].Clone()
	row.Set(field, value)
	c.rows[i] = row
	return true
}

// ApplyPatch sets the patched fields on every cached row among ids and returns
// how many rows were touched.
func (c *Controller) ApplyPatch(ids []string, patch map[string]any) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	touched := 0
	for _, id := range ids {
		i := c.indexLocked(id)
		if i < 0 {
			continue
		}
		row := c.rows[i].Clone()
		for k, v := range patch {
			row.Set(k, v)
		}
		c.rows[i] = row
		touched++
	}
	return touched
}

// RemoveRows drops the given ids from the cache and lowers the total by the
// number of records the backend reported as deleted. It reports whether the
// current page no longer reflects the collection and should be reloaded.
func (c *Controller) RemoveRows(ids []string, deleted int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := c.rows[:0:0]
	for _, r := range c.rows {
		if _, ok := drop[r.ID]; !ok {
			kept = append(kept, r)
		}
	}
	c.rows = kept

	c.total -= deleted
	if c.total < 0 {
		c.total = 0
	}
	c.totalPages = shared.TotalPages(c.total, c.query.Page.Size)

	index := c.query.Page.Index
	return (len(c.rows) == 0 && c.total > 0) || (index > 1 && index > c.totalPages)
}

func (c *Controller) indexLocked(id string) int {
	for i, r := range c.rows {
		if r.ID == id {
			return i
		}
	}
	return -1
}
