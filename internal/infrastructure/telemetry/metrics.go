// Package telemetry records console activity: prometheus counters for list
// queries, inline edits and bulk actions, and request spans written to the log.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/erp/console/internal/application/console"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

// Metric names
const (
	MetricQueriesTotal        = "erp_console_queries_total"
	MetricQueryFailuresTotal  = "erp_console_query_failures_total"
	MetricStaleResponsesTotal = "erp_console_stale_responses_total"
	MetricEditsTotal          = "erp_console_edits_total"
	MetricBulkActionsTotal    = "erp_console_bulk_actions_total"
	MetricBulkRecords         = "erp_console_bulk_records"
)

var _ console.Metrics = (*Recorder)(nil)

// Recorder collects console metrics on a private registry.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type Recorder struct {
	registry *prometheus.Registry

	queries     *prometheus.CounterVec
	failures    *prometheus.CounterVec
	stale       *prometheus.CounterVec
	edits       *prometheus.CounterVec
	bulkActions *prometheus.CounterVec
	bulkRecords *prometheus.HistogramVec

	mu      sync.Mutex
	server  *http.Server
	addr    string
	lastErr error
	logger  *zap.Logger
}

// NewRecorder creates a recorder with all collectors registered
func NewRecorder(logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		logger:   logger.Named("metrics"),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricQueriesTotal,
			Help: "List queries issued, per collection.",
		}, []string{"collection"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricQueryFailuresTotal,
			Help: "List queries that failed, per collection.",
		}, []string{"collection"}),
		stale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricStaleResponsesTotal,
			Help: "Responses discarded because a newer query superseded them.",
		}, []string{"collection"}),
		edits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEditsTotal,
			Help: "Inline edits settled, per collection and outcome.",
		}, []string{"collection", "outcome"}),
		bulkActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricBulkActionsTotal,
			Help: "Bulk actions settled, per collection, operation and outcome.",
		}, []string{"collection", "op", "outcome"}),
		bulkRecords: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricBulkRecords,
			Help:    "Records selected per bulk action.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"collection", "op"}),
	}
	r.registry.MustRegister(r.queries, r.failures, r.stale, r.edits, r.bulkActions, r.bulkRecords)
	return r
}

// QueryIssued counts a list query
func (r *Recorder) QueryIssued(collection string) {
	r.queries.WithLabelValues(collection).Inc()
}

// QueryFailed counts a failed list query
func (r *Recorder) QueryFailed(collection string) {
	r.failures.WithLabelValues(collection).Inc()
}

// StaleDiscarded counts a superseded response
func (r *Recorder) StaleDiscarded(collection string) {
	r.stale.WithLabelValues(collection).Inc()
}

// EditSettled counts a confirmed or rolled back inline edit
func (r *Recorder) EditSettled(collection, outcome string) {
	r.edits.WithLabelValues(collection, outcome).Inc()
}

// BulkSettled counts a bulk action and observes its selection size
func (r *Recorder) BulkSettled(collection, op, outcome string, count int) {
	r.bulkActions.WithLabelValues(collection, op, outcome).Inc()
	r.bulkRecords.WithLabelValues(collection, op).Observe(float64(count))
}

// Handler serves the registry in the prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Gather returns the current metric families
func (r *Recorder) Gather() ([]*dto.MetricFamily, error) {
	return r.registry.Gather()
}

// Start serves /metrics on addr until Stop
func (r *Recorder) Start(addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("starting metrics endpoint: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	r.addr = ln.Addr().String()

	server := r.server
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.mu.Lock()
			r.lastErr = err
			r.mu.Unlock()
			r.logger.Error("Metrics endpoint stopped", zap.Error(err))
		}
	}()
	r.logger.Info("Metrics endpoint listening", zap.String("addr", r.addr))
	return nil
}

// Addr returns the address the endpoint listens on, empty when stopped
func (r *Recorder) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addr
}

// LastError returns the error that stopped the endpoint, if any
func (r *Recorder) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Stop shuts the endpoint down
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	server := r.server
	r.server = nil
	r.addr = ""
	r.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
