package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// HistoryStore is the part of a history store a backend writes through.
type HistoryStore interface {
	Append(ctx context.Context, user string, entry HistoryEntry) error
	List(ctx context.Context, user string) ([]HistoryEntry, error)
	Clear(ctx context.Context, user string) error
}

// BuildConfig carries everything a Builder needs to set up a backend type.
type BuildConfig struct {
	// Settings are the type-specific key/value settings, e.g. SERVER or
	// FORWARD_ZONE for rfc2136.
	Settings map[string]string

	// History receives an entry for every accepted change.
	History HistoryStore

	Logger *slog.Logger
}

// Provider is what a backend type contributes at startup.
type Provider struct {
	// Factory opens per-user sessions.
	Factory Factory

	// Resolver answers anonymous lookups.
	Resolver Resolver

	// Ping reports whether the underlying DNS data is reachable. May be nil.
	Ping func(ctx context.Context) error
}

// Builder creates a Provider from configuration.
type Builder func(cfg BuildConfig) (*Provider, error)

// Registry maps backend type names to builders.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		builders: make(map[string]Builder),
	}
}

// Register adds a builder for typeName, replacing any previous one.
func (r *Registry) Register(typeName string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[typeName] = b
}

// Build creates a Provider of the given type.
func (r *Registry) Build(typeName string, cfg BuildConfig) (*Provider, error) {
	r.mu.RLock()
	b, ok := r.builders[typeName]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown backend type %q (available: %v)", typeName, r.Types())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p, err := b(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating %s backend: %w", typeName, err)
	}
	return p, nil
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.builders))
	for t := range r.builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
