// Package session caches one backend session per authenticated user.
//
// The first request from a user constructs that user's session through the
// configured backend.Factory; later requests reuse it. Construction for one
// user never holds up requests from other users, and concurrent first
// requests from the same user share a single construction.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thejerf/suture/v4"
	"golang.org/x/sync/singleflight"

	"gitlab.bluewillows.net/root/dnsgate/internal/metrics"
	"gitlab.bluewillows.net/root/dnsgate/pkg/backend"
)

// ErrConstruct wraps failures from the backend factory. Failed
// constructions are not cached; the next request tries again.
var ErrConstruct = errors.New("failed to create backend session")

// ErrClosed is returned by HandleFor after Close.
var ErrClosed = errors.New("session registry is closed")

type handle struct {
	backend  backend.Backend
	lastUsed atomic.Int64 // unix nanoseconds
}

// Registry maps user identities to their backend sessions.
type Registry struct {
	factory     backend.Factory
	logger      *slog.Logger
	idleTimeout time.Duration
	now         func() time.Time

	mu      sync.RWMutex
	handles map[string]*handle
	closed  bool

	group singleflight.Group
}

// Option is a functional option for configuring a Registry.
type Option func(*Registry)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithIdleTimeout closes sessions unused for d. Zero keeps sessions for the
// life of the process.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

// New creates a registry that builds sessions with factory.
func New(factory backend.Factory, opts ...Option) *Registry {
	r := &Registry{
		factory: factory,
		logger:  slog.Default(),
		now:     time.Now,
		handles: make(map[string]*handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleFor returns user's session, constructing it on first use.
func (r *Registry) HandleFor(ctx context.Context, user string) (backend.Backend, error) {
	if b, ok := r.cached(user); ok {
		return b, nil
	}

	v, err, _ := r.group.Do(user, func() (any, error) {
		// Another flight may have finished between the read and here.
		if b, ok := r.cached(user); ok {
			return b, nil
		}
		// The flight is shared, so one caller giving up must not fail
		// the others waiting on it.
		return r.construct(context.WithoutCancel(ctx), user)
	})
	if err != nil {
		return nil, err
	}
	return v.(backend.Backend), nil
}

// cached touches the handle under the read lock so a concurrent sweep,
// which needs the write lock, never closes a handle it just returned.
func (r *Registry) cached(user string) (backend.Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[user]
	if !ok {
		return nil, false
	}
	h.lastUsed.Store(r.now().UnixNano())
	return h.backend, true
}

func (r *Registry) construct(ctx context.Context, user string) (backend.Backend, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	start := time.Now()
	b, err := r.factory(ctx, user)
	if err != nil {
		metrics.SessionConstructionsTotal.WithLabelValues(metrics.ResultError).Inc()
		r.logger.Error("failed to create backend session",
			slog.String("user", user),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w for %s: %w", ErrConstruct, user, err)
	}

	h := &handle{backend: b}
	h.lastUsed.Store(r.now().UnixNano())

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = b.Close()
		return nil, ErrClosed
	}
	r.handles[user] = h
	n := len(r.handles)
	r.mu.Unlock()

	metrics.SessionConstructionsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	metrics.SessionsActive.Set(float64(n))
	r.logger.Debug("created backend session",
		slog.String("user", user),
		slog.Duration("duration", time.Since(start)),
	)
	return b, nil
}

// Len returns the number of cached sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Users returns the users holding a session, sorted.
func (r *Registry) Users() []string {
	r.mu.RLock()
	users := make([]string, 0, len(r.handles))
	for u := range r.handles {
		users = append(users, u)
	}
	r.mu.RUnlock()

	sort.Strings(users)
	return users
}

// Close closes every session. Later calls to HandleFor fail with ErrClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*handle)
	r.closed = true
	r.mu.Unlock()

	var errs []error
	for user, h := range handles {
		if err := h.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing session for %s: %w", user, err))
		}
	}
	metrics.SessionsActive.Set(0)
	return errors.Join(errs...)
}

// sweep closes sessions idle for longer than the idle timeout and returns
// how many it closed.
func (r *Registry) sweep() int {
	if r.idleTimeout <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idleTimeout).UnixNano()

	var evicted []string
	var closing []backend.Backend

	r.mu.Lock()
	for user, h := range r.handles {
		if h.lastUsed.Load() < cutoff {
			evicted = append(evicted, user)
			closing = append(closing, h.backend)
			delete(r.handles, user)
		}
	}
	n := len(r.handles)
	r.mu.Unlock()

	for i, b := range closing {
		if err := b.Close(); err != nil {
			r.logger.Warn("failed to close idle session",
				slog.String("user", evicted[i]),
				slog.String("error", err.Error()),
			)
		}
	}
	if len(evicted) > 0 {
		metrics.SessionEvictionsTotal.Add(float64(len(evicted)))
		metrics.SessionsActive.Set(float64(n))
		r.logger.Info("evicted idle sessions", slog.Int("count", len(evicted)))
	}
	return len(evicted)
}

// Janitor returns a service that evicts idle sessions every half idle
// timeout. Without an idle timeout the service exits immediately and is not
// restarted.
func (r *Registry) Janitor() suture.Service {
	return &janitor{registry: r}
}

type janitor struct {
	registry *Registry
}

func (j *janitor) Serve(ctx context.Context) error {
	interval := j.registry.idleTimeout / 2
	if interval <= 0 {
		return suture.ErrDoNotRestart
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			j.registry.sweep()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (j *janitor) String() string { return "session-janitor" }
