// Package notify keeps the transient notifications shown to the operator
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/erp/console/internal/domain/shared"
	"github.com/erp/console/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var _ shared.Notifier = (*Center)(nil)

// Entry is a notification as held by the center
type Entry struct {
	ID        uuid.UUID
	CreatedAt time.Time
	shared.Notification
}

// Config configures a Center
type Config struct {
	TTL        time.Duration // how long an entry stays visible, 0 = forever
	MaxEntries int           // oldest entries are dropped beyond this, 0 = unbounded
}

// Center collects notifications, expires them and fans them out to
// subscribers. Notify never blocks: a subscriber that falls behind misses
// entries.
type Center struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	entries     []Entry
	subscribers map[chan Entry]struct{}
}

// Option configures a Center
type Option func(*Center)

// WithLogger sets the logger notifications are mirrored to
func WithLogger(l *zap.Logger) Option {
	return func(c *Center) {
		if l != nil {
			c.logger = l.Named("notify")
		}
	}
}

// WithClock overrides the clock used for expiry
func WithClock(now func() time.Time) Option {
	return func(c *Center) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCenter creates an empty notification center
func NewCenter(cfg Config, opts ...Option) *Center {
	c := &Center{
		cfg:         cfg,
		logger:      zap.NewNop(),
		now:         time.Now,
		subscribers: make(map[chan Entry]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Notify implements shared.Notifier
func (c *Center) Notify(ctx context.Context, n shared.Notification) {
	entry := Entry{ID: uuid.New(), CreatedAt: c.now(), Notification: n}

	log := logger.Enrich(ctx, c.logger)
	fields := []zap.Field{zap.String("title", n.Title), zap.String("message", n.Message)}
	switch n.Severity {
	case shared.SeverityError:
		log.Warn("Operator notified", append(fields, zap.String("severity", string(n.Severity)))...)
	default:
		log.Debug("Operator notified", append(fields, zap.String("severity", string(n.Severity)))...)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
	if c.cfg.MaxEntries > 0 && len(c.entries) > c.cfg.MaxEntries {
		c.entries = append([]Entry(nil), c.entries[len(c.entries)-c.cfg.MaxEntries:]...)
	}
	for ch := range c.subscribers {
		select {
		case ch <- entry:
		default:
		}
	}
}

// Active returns the unexpired entries, oldest first
func (c *Center) Active() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Dismiss removes an entry. It reports whether the entry was present.
func (c *Center) Dismiss(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.entries {
		if e.ID == id {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Clear drops every entry
func (c *Center) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}

// Subscribe returns a channel receiving every new entry and a function that
// ends the subscription and closes the channel.
func (c *Center) Subscribe(buffer int) (<-chan Entry, func()) {
	ch := make(chan Entry, max(buffer, 1))
	c.mu.Lock()
	c.subscribers[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscribers, ch)
			c.mu.Unlock()
			close(ch)
		})
	}
}

func (c *Center) pruneLocked() {
	if c.cfg.TTL <= 0 {
		return
	}
	cutoff := c.now().Add(-c.cfg.TTL)
	kept := c.entries[:0]
	for _, e := range c.entries {
		if e.CreatedAt.After(cutoff) {
			kept = append(kept, e)
		}
	}
	c.entries = kept
}
