// Package console wires the list controller, optimistic coordinator and bulk
// orchestrator of each open collection view around an explicit session.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erp/console/internal/application/bulk"
	"github.com/erp/console/internal/application/listing"
	"github.com/erp/console/internal/application/optimistic"
	"github.com/erp/console/internal/domain/catalog"
	domain "github.com/erp/console/internal/domain/listing"
	"github.com/erp/console/internal/domain/shared"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrSessionExpired is returned when the operator session is no longer valid
var ErrSessionExpired = shared.NewDomainError("SESSION_EXPIRED", "The session has expired, sign in again")

// ErrViewClosed is returned by operations on a closed view
var ErrViewClosed = shared.NewDomainError("VIEW_CLOSED", "The view has been closed")

// Session is the authenticated operator the console acts for
type Session struct {
	Token     string
	UserID    string
	TenantID  string
	ExpiresAt time.Time
}

// Expired reports whether the session is past its expiry. A zero expiry never expires.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Metrics receives the events of every component of a view
type Metrics interface {
	listing.Metrics
	optimistic.Metrics
	bulk.Metrics
}

// Option configures a Console
type Option func(*Console)

// WithLogger sets the logger handed to every view
func WithLogger(l *zap.Logger) Option {
	return func(c *Console) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithNotifier sets where views report to the operator
func WithNotifier(n shared.Notifier) Option {
	return func(c *Console) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithMetrics sets the metrics sink of every view
func WithMetrics(m Metrics) Option {
	return func(c *Console) {
		c.metrics = m
	}
}

// WithExportSink sets where bulk exports are written
func WithExportSink(s bulk.ExportSink) Option {
	return func(c *Console) {
		c.sink = s
	}
}

// WithClock overrides the clock used for session expiry and export names
func WithClock(now func() time.Time) Option {
	return func(c *Console) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSuccessNotices enables success notifications for inline edits
func WithSuccessNotices(enabled bool) Option {
	return func(c *Console) {
		c.successNotices = enabled
	}
}

// Console owns the data source and the open views of one session
type Console struct {
	session        Session
	source         domain.DataSource
	registry       *catalog.Registry
	logger         *zap.Logger
	notifier       shared.Notifier
	metrics        Metrics
	sink           bulk.ExportSink
	now            func() time.Time
	successNotices bool

	mu     sync.Mutex
	views  map[*View]struct{}
	closed bool
}

// New creates a console for session
func New(session Session, source domain.DataSource, registry *catalog.Registry, opts ...Option) *Console {
	c := &Console{
		session:  session,
		source:   source,
		registry: registry,
		logger:   zap.NewNop(),
		notifier: shared.NopNotifier{},
		now:      time.Now,
		views:    make(map[*View]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the session the console acts for
func (c *Console) Session() Session {
	return c.session
}

// Registry returns the entity registry
func (c *Console) Registry() *catalog.Registry {
	return c.registry
}

// Open creates a view on the collection of kind. The view is empty until Load.
func (c *Console) Open(kind catalog.Kind) (*View, error) {
	if c.session.Expired(c.now()) {
		return nil, ErrSessionExpired
	}
	cfg, err := c.registry.Get(kind)
	if err != nil {
		return nil, err
	}

	logger := c.logger.With(zap.String("view", string(kind)))
	ctrlOpts := []listing.Option{listing.WithLogger(logger), listing.WithNotifier(c.notifier)}
	editOpts := []optimistic.Option{
		optimistic.WithLogger(logger),
		optimistic.WithNotifier(c.notifier),
		optimistic.WithSuccessNotices(c.successNotices),
	}
	bulkOpts := []bulk.Option{
		bulk.WithLogger(logger),
		bulk.WithNotifier(c.notifier),
		bulk.WithExportSink(c.sink),
		bulk.WithClock(c.now),
	}
	if c.metrics != nil {
		ctrlOpts = append(ctrlOpts, listing.WithMetrics(c.metrics))
		editOpts = append(editOpts, optimistic.WithMetrics(c.metrics))
		bulkOpts = append(bulkOpts, bulk.WithMetrics(c.metrics))
	}

	ctrl := listing.NewController(c.source, cfg, ctrlOpts...)
	v := &View{
		console:     c,
		kind:        kind,
		controller:  ctrl,
		coordinator: optimistic.NewCoordinator(ctrl, c.source, editOpts...),
		bulk:        bulk.NewOrchestrator(ctrl, c.source, bulkOpts...),
	}
	ctrl.OnScopeChange(v.bulk.Clear)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrViewClosed
	}
	c.views[v] = struct{}{}
	return v, nil
}

// CallProcedure invokes a named server-side procedure on behalf of the session
func (c *Console) CallProcedure(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	if c.session.Expired(c.now()) {
		return nil, ErrSessionExpired
	}
	c.logger.Debug("Calling procedure", zap.String("procedure", name), zap.Int("args", len(args)))
	return c.source.CallProcedure(ctx, name, args)
}

// Views returns the open views
func (c *Console) Views() []*View {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*View, 0, len(c.views))
	for v := range c.views {
		out = append(out, v)
	}
	return out
}

// RefreshAll reloads every open view concurrently and returns the first error
func (c *Console) RefreshAll(ctx context.Context) error {
	if c.session.Expired(c.now()) {
		return ErrSessionExpired
	}
	var g errgroup.Group
	for _, v := range c.Views() {
		g.Go(func() error {
			if err := v.controller.Refresh(ctx); err != nil {
				return fmt.Errorf("refresh %s: %w", v.Kind(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close tears down every open view
func (c *Console) Close() {
	for _, v := range c.Views() {
		v.Close()
	}
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Console) release(v *View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.views, v)
}

// View bundles the components acting on one collection cache
type View struct {
	console     *Console
	controller  *listing.Controller
	coordinator *optimistic.Coordinator
	bulk        *bulk.Orchestrator

	mu     sync.Mutex
	kind   catalog.Kind
	closed bool
}

// Kind returns the entity kind currently listed
func (v *View) Kind() catalog.Kind {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.kind
}

// List returns the list state controller
func (v *View) List() *listing.Controller {
	return v.controller
}

// Edits returns the optimistic mutation coordinator
func (v *View) Edits() *optimistic.Coordinator {
	return v.coordinator
}

// Bulk returns the bulk action orchestrator
func (v *View) Bulk() *bulk.Orchestrator {
	return v.bulk
}

// Load issues the initial query of the view
func (v *View) Load(ctx context.Context) error {
	if err := v.check(); err != nil {
		return err
	}
	return v.controller.Load(ctx)
}

// Switch makes the view list another entity. Selection, pending edits and
// cached rows of the previous collection are dropped before the new one loads.
func (v *View) Switch(ctx context.Context, kind catalog.Kind) error {
	if err := v.check(); err != nil {
		return err
	}
	cfg, err := v.console.registry.Get(kind)
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.kind = kind
	v.mu.Unlock()

	v.bulk.OnCollectionChanged()
	v.coordinator.Reset()
	v.controller.Reset(cfg)
	return v.controller.Load(ctx)
}

// Close drops the state of the view. Late responses are discarded.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	kind := v.kind
	v.mu.Unlock()

	v.bulk.Clear()
	v.coordinator.Reset()
	if cfg, err := v.console.registry.Get(kind); err == nil {
		v.controller.Reset(cfg)
	}
	v.console.release(v)
}

func (v *View) check() error {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return ErrViewClosed
	}
	if v.console.session.Expired(v.console.now()) {
		return ErrSessionExpired
	}
	return nil
}

// IsSessionError reports whether err asks the operator to sign in again
func IsSessionError(err error) bool {
	return errors.Is(err, ErrSessionExpired) || errors.Is(err, shared.ErrUnauthorized)
}
