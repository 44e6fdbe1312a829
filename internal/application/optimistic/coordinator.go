// Package optimistic applies single-cell edits locally before the backend
// confirms them and rolls them back when the write fails.
package optimistic

import (
	"context"
	"fmt"
	"sync"

	"github.com/erp/console/internal/domain/catalog"
	"github.com/erp/console/internal/domain/listing"
	"github.com/erp/console/internal/domain/shared"
	"go.uber.org/zap"
)

// Edit outcomes reported to Metrics
const (
	OutcomeApplied    = "applied"
	OutcomeRolledBack = "rolled_back"
	OutcomeSuperseded = "superseded"
	OutcomeDiscarded  = "discarded"
)

// Cells is the cell API of the list view that owns the rows
type Cells interface {
	Config() catalog.EntityConfig
	Cell(id, field string) (any, bool)
	SetCell(id, field string, value any) bool
}

// Mutator writes a patch to one record
type Mutator interface {
	Mutate(ctx context.Context, collection, id string, patch map[string]any) (listing.Record, error)
}

// Metrics receives edit outcomes
type Metrics interface {
	EditSettled(collection, outcome string)
}

type nopMetrics struct{}

func (nopMetrics) EditSettled(string, string) {}

// PendingEdit is a write that has been applied locally but not yet confirmed
type PendingEdit struct {
	RecordID      string
	Field         string
	PreviousValue any
	NewValue      any
	Seq           uint64
}

type cellKey struct {
	id    string
	field string
}

type cellState struct {
	seq     uint64
	pending *PendingEdit
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithLogger sets the coordinator logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithNotifier sets where failures are reported
func WithNotifier(n shared.Notifier) Option {
	return func(c *Coordinator) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSuccessNotices enables a success notification when the latest edit of a cell is saved
func WithSuccessNotices(enabled bool) Option {
	return func(c *Coordinator) {
		c.successNotices = enabled
	}
}

// Coordinator tracks in-flight edits per cell. Each edit gets the next
// sequence number of its cell; only the latest edit of a cell may roll back.
type Coordinator struct {
	cells          Cells
	remote         Mutator
	logger         *zap.Logger
	notifier       shared.Notifier
	metrics        Metrics
	successNotices bool

	mu         sync.Mutex
	generation uint64
	states     map[cellKey]*cellState
}

// NewCoordinator creates a coordinator writing through remote and showing edits in cells
func NewCoordinator(cells Cells, remote Mutator, opts ...Option) *Coordinator {
	c := &Coordinator{
		cells:    cells,
		remote:   remote,
		logger:   zap.NewNop(),
		notifier: shared.NopNotifier{},
		metrics:  nopMetrics{},
		states:   make(map[cellKey]*cellState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Edit shows value in the cell immediately and writes it to the backend.
// It blocks until the write settles. A failure of the latest edit of the cell
// restores the value the cell showed before that edit and is returned; results
// of superseded edits are dropped and Edit returns nil.
func (c *Coordinator) Edit(ctx context.Context, recordID, field string, value any) error {
	cfg := c.cells.Config()
	if !cfg.IsEditable(field) {
		return shared.NewValidationError(field, "field is not editable")
	}

	c.mu.Lock()
	current, ok := c.cells.Cell(recordID, field)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("edit %s.%s: %w", recordID, field, shared.ErrRecordNotInView)
	}
	key := cellKey{id: recordID, field: field}
	st := c.states[key]
	if st == nil {
		st = &cellState{}
		c.states[key] = st
	}
	st.seq++
	edit := PendingEdit{
		RecordID:      recordID,
		Field:         field,
		PreviousValue: current,
		NewValue:      value,
		Seq:           st.seq,
	}
	st.pending = &edit
	gen := c.generation
	c.cells.SetCell(recordID, field, value)
	c.mu.Unlock()

	c.logger.Debug("Applying optimistic edit",
		zap.String("collection", cfg.Collection),
		zap.String("record_id", recordID),
		zap.String("field", field),
		zap.Uint64("seq", edit.Seq))

	_, err := c.remote.Mutate(ctx, cfg.Collection, recordID, map[string]any{field: value})
	return c.settle(ctx, cfg.Collection, gen, key, edit, err)
}

func (c *Coordinator) settle(ctx context.Context, collection string, gen uint64, key cellKey, edit PendingEdit, err error) error {
	c.mu.Lock()
	st := c.states[key]
	if gen != c.generation || st == nil {
		c.mu.Unlock()
		c.metrics.EditSettled(collection, OutcomeDiscarded)
		return nil
	}

	latest := edit.Seq == st.seq
	if err == nil {
		if latest {
			st.pending = nil
		}
		c.mu.Unlock()

		if !latest {
			c.metrics.EditSettled(collection, OutcomeSuperseded)
			return nil
		}
		c.metrics.EditSettled(collection, OutcomeApplied)
		if c.successNotices {
			c.notifier.Notify(ctx, shared.Notification{
				Severity: shared.SeveritySuccess,
				Title:    "Saved",
				Message:  fmt.Sprintf("Updated %s of %s", edit.Field, edit.RecordID),
			})
		}
		return nil
	}

	if !latest {
		c.mu.Unlock()
		c.metrics.EditSettled(collection, OutcomeSuperseded)
		c.logger.Debug("Dropping failure of superseded edit",
			zap.String("collection", collection),
			zap.String("record_id", edit.RecordID),
			zap.String("field", edit.Field),
			zap.Uint64("seq", edit.Seq))
		return nil
	}

	st.pending = nil
	if shown, ok := c.cells.Cell(edit.RecordID, edit.Field); ok && listing.ValuesEqual(shown, edit.NewValue) {
		c.cells.SetCell(edit.RecordID, edit.Field, edit.PreviousValue)
	}
	c.mu.Unlock()

	c.metrics.EditSettled(collection, OutcomeRolledBack)
	c.logger.Warn("Optimistic edit rolled back",
		zap.String("collection", collection),
		zap.String("record_id", edit.RecordID),
		zap.String("field", edit.Field),
		zap.String("code", shared.ErrorCode(err)),
		zap.Error(err))
	c.notifier.Notify(ctx, shared.Notification{
		Severity: shared.SeverityError,
		Title:    "Update failed",
		Message:  fmt.Sprintf("Could not update %s of %s: %v", edit.Field, edit.RecordID, err),
	})
	return err
}

// Pending returns the in-flight edit of a cell, if any
func (c *Coordinator) Pending(recordID, field string) (PendingEdit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.states[cellKey{id: recordID, field: field}]
	if st == nil || st.pending == nil {
		return PendingEdit{}, false
	}
	return *st.pending, true
}

// PendingCount returns the number of cells with an edit in flight
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, st := range c.states {
		if st.pending != nil {
			n++
		}
	}
	return n
}

// Reset starts a new generation. Edits still in flight keep their remote
// call but their results no longer touch the view.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.states = make(map[cellKey]*cellState)
}
