// Package bulk keeps the page-independent selection of a list view and runs
// one-call bulk operations (delete, field update, export) over it.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/erp/console/internal/domain/catalog"
	"github.com/erp/console/internal/domain/listing"
	"github.com/erp/console/internal/domain/shared"
	"go.uber.org/zap"
)

// Bulk operation names
const (
	OpDelete = "delete"
	OpUpdate = "update"
	OpExport = "export"
)

// Bulk outcomes reported to Metrics
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailure = "failure"
)

// Rows is the part of the list view a bulk action updates
type Rows interface {
	Config() catalog.EntityConfig
	ApplyPatch(ids []string, patch map[string]any) int
	RemoveRows(ids []string, deleted int64) bool
	Refresh(ctx context.Context) error
}

// Remote performs the bulk calls against the backend
type Remote interface {
	BulkMutate(ctx context.Context, collection string, ids []string, patch map[string]any) (int64, error)
	BulkDelete(ctx context.Context, collection string, ids []string) (int64, error)
	ExportSelected(ctx context.Context, collection string, ids []string, format listing.ExportFormat) (listing.Blob, error)
}

// ExportSink stores an exported file and returns where it was written
type ExportSink interface {
	Save(ctx context.Context, name string, blob listing.Blob) (string, error)
}

// Metrics receives bulk action outcomes
type Metrics interface {
	BulkSettled(collection, op, outcome string, count int)
}

type nopMetrics struct{}

func (nopMetrics) BulkSettled(string, string, string, int) {}

// Result describes a settled bulk action
type Result struct {
	Op        string
	Requested int
	Affected  int64
	Location  string
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithNotifier sets where results are reported
func WithNotifier(n shared.Notifier) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithExportSink sets where exports are written
func WithExportSink(s ExportSink) Option {
	return func(o *Orchestrator) {
		o.sink = s
	}
}

// WithClock overrides the clock used to date export files
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator owns the selection of one list view. At most one bulk action
// runs at a time and the selection is cleared once it settles.
type Orchestrator struct {
	rows     Rows
	remote   Remote
	sink     ExportSink
	now      func() time.Time
	logger   *zap.Logger
	notifier shared.Notifier
	metrics  Metrics

	mu        sync.Mutex
	selection *listing.Selection
	running   bool
}

// NewOrchestrator creates an orchestrator acting on rows through remote
func NewOrchestrator(rows Rows, remote Remote, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		rows:      rows,
		remote:    remote,
		now:       time.Now,
		logger:    zap.NewNop(),
		notifier:  shared.NopNotifier{},
		metrics:   nopMetrics{},
		selection: listing.NewSelection(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Select adds ids to the selection
func (o *Orchestrator) Select(ids ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.selection.Add(ids...)
}

// Deselect removes ids from the selection
func (o *Orchestrator) Deselect(ids ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.selection.Remove(ids...)
}

// Toggle flips the selection of one id
func (o *Orchestrator) Toggle(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.selection.Has(id) {
		o.selection.Remove(id)
		return
	}
	o.selection.Add(id)
}

// SelectAll acts on the visible page: when every visible id is already
// selected they are deselected, otherwise they are all added.
func (o *Orchestrator) SelectAll(visibleIDs []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.selection.ContainsAll(visibleIDs) {
		o.selection.Remove(visibleIDs...)
		return
	}
	o.selection.Add(visibleIDs...)
}

// Clear empties the selection
func (o *Orchestrator) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.selection.Clear()
}

// OnCollectionChanged drops the selection when the view lists another collection
func (o *Orchestrator) OnCollectionChanged() {
	o.Clear()
}

// IDs returns the selected ids sorted
func (o *Orchestrator) IDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.selection.IDs()
}

// Count returns the number of selected ids
func (o *Orchestrator) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.selection.Len()
}

// IsSelected reports whether id is selected
func (o *Orchestrator) IsSelected(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.selection.Has(id)
}

// Running reports whether a bulk action is in flight
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) begin() ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil, shared.ErrBulkInProgress
	}
	ids := o.selection.IDs()
	if len(ids) == 0 {
		return nil, shared.ErrEmptySelection
	}
	o.running = true
	return ids, nil
}

func (o *Orchestrator) finish() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = false
	o.selection.Clear()
}

// Delete removes every selected record with a single backend call
func (o *Orchestrator) Delete(ctx context.Context) (Result, error) {
	ids, err := o.begin()
	if err != nil {
		return Result{}, err
	}
	defer o.finish()

	cfg := o.rows.Config()
	deleted, err := o.remote.BulkDelete(ctx, cfg.Collection, ids)
	if err != nil {
		o.fail(ctx, cfg, OpDelete, ids, err)
		return Result{}, err
	}

	res := Result{Op: OpDelete, Requested: len(ids), Affected: deleted}
	if deleted == int64(len(ids)) {
		if o.rows.RemoveRows(ids, deleted) {
			o.refresh(ctx, cfg)
		}
		o.succeed(ctx, cfg, res, fmt.Sprintf("Deleted %d %s", deleted, cfg.Collection))
		return res, nil
	}

	o.partial(ctx, cfg, res)
	return res, nil
}

// SetField assigns one value to a field of every selected record
func (o *Orchestrator) SetField(ctx context.Context, field string, value any) (Result, error) {
	return o.Update(ctx, map[string]any{field: value})
}

// Update applies a patch to every selected record with a single backend call.
// Single-field patches are applied to the cached rows on full success; other
// outcomes reload the page.
func (o *Orchestrator) Update(ctx context.Context, patch map[string]any) (Result, error) {
	cfg := o.rows.Config()
	if len(patch) == 0 {
		return Result{}, shared.NewValidationError("patch", "nothing to update")
	}
	fields := make([]string, 0, len(patch))
	for field := range patch {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		if !cfg.IsEditable(field) {
			return Result{}, shared.NewValidationError(field, "field is not editable")
		}
	}

	ids, err := o.begin()
	if err != nil {
		return Result{}, err
	}
	defer o.finish()

	updated, err := o.remote.BulkMutate(ctx, cfg.Collection, ids, patch)
	if err != nil {
		o.fail(ctx, cfg, OpUpdate, ids, err)
		return Result{}, err
	}

	res := Result{Op: OpUpdate, Requested: len(ids), Affected: updated}
	if updated != int64(len(ids)) {
		o.partial(ctx, cfg, res)
		return res, nil
	}
	if len(patch) == 1 {
		o.rows.ApplyPatch(ids, patch)
	} else {
		o.refresh(ctx, cfg)
	}
	o.succeed(ctx, cfg, res, fmt.Sprintf("Updated %d %s", updated, cfg.Collection))
	return res, nil
}

// Export renders the selected records and hands the file to the export sink
// as <collection>-YYYY-MM-DD.<ext>.
func (o *Orchestrator) Export(ctx context.Context, format listing.ExportFormat) (Result, error) {
	if o.sink == nil {
		return Result{}, shared.NewDomainError("EXPORT_UNAVAILABLE", "No export destination configured")
	}
	ids, err := o.begin()
	if err != nil {
		return Result{}, err
	}
	defer o.finish()

	cfg := o.rows.Config()
	blob, err := o.remote.ExportSelected(ctx, cfg.Collection, ids, format)
	if err == nil {
		name := ExportFileName(cfg.Collection, format, o.now())
		var location string
		location, err = o.sink.Save(ctx, name, blob)
		if err == nil {
			res := Result{Op: OpExport, Requested: len(ids), Affected: int64(len(ids)), Location: location}
			o.succeed(ctx, cfg, res, fmt.Sprintf("Exported %d %s to %s", len(ids), cfg.Collection, location))
			return res, nil
		}
	}
	o.fail(ctx, cfg, OpExport, ids, err)
	return Result{}, err
}

// ExportFileName names an export file of collection taken at t
func ExportFileName(collection string, format listing.ExportFormat, t time.Time) string {
	return fmt.Sprintf("%s-%s.%s", collection, t.Format("2006-01-02"), format.Extension())
}

func (o *Orchestrator) refresh(ctx context.Context, cfg catalog.EntityConfig) {
	if err := o.rows.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
		o.logger.Warn("Failed to reload after bulk action",
			zap.String("collection", cfg.Collection),
			zap.Error(err))
	}
}

func (o *Orchestrator) succeed(ctx context.Context, cfg catalog.EntityConfig, res Result, message string) {
	o.metrics.BulkSettled(cfg.Collection, res.Op, OutcomeSuccess, res.Requested)
	o.logger.Info("Bulk action completed",
		zap.String("collection", cfg.Collection),
		zap.String("op", res.Op),
		zap.Int("requested", res.Requested),
		zap.Int64("affected", res.Affected))
	o.notifier.Notify(ctx, shared.Notification{
		Severity: shared.SeveritySuccess,
		Title:    cfg.Title,
		Message:  message,
	})
}

func (o *Orchestrator) partial(ctx context.Context, cfg catalog.EntityConfig, res Result) {
	o.refresh(ctx, cfg)
	o.metrics.BulkSettled(cfg.Collection, res.Op, OutcomePartial, res.Requested)
	o.logger.Warn("Bulk action partially applied",
		zap.String("collection", cfg.Collection),
		zap.String("op", res.Op),
		zap.Int("requested", res.Requested),
		zap.Int64("affected", res.Affected))
	o.notifier.Notify(ctx, shared.Notification{
		Severity: shared.SeverityWarning,
		Title:    cfg.Title,
		Message:  fmt.Sprintf("Bulk %s affected %d of %d %s", res.Op, res.Affected, res.Requested, cfg.Collection),
	})
}

func (o *Orchestrator) fail(ctx context.Context, cfg catalog.EntityConfig, op string, ids []string, err error) {
	o.metrics.BulkSettled(cfg.Collection, op, OutcomeFailure, len(ids))
	o.logger.Error("Bulk action failed",
		zap.String("collection", cfg.Collection),
		zap.String("op", op),
		zap.Int("requested", len(ids)),
		zap.String("code", shared.ErrorCode(err)),
		zap.Error(err))
	o.notifier.Notify(ctx, shared.Notification{
		Severity: shared.SeverityError,
		Title:    cfg.Title,
		Message:  fmt.Sprintf("Failed to %s %d %s: %v", op, len(ids), cfg.Collection, err),
	})
}
