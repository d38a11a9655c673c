// Package history persists the per-user audit trail of accepted DNS changes.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/rs/xid"

	"gitlab.bluewillows.net/root/dnsgate/pkg/backend"
)

// DefaultLimit is the number of entries kept per user when no limit is set.
const DefaultLimit = 100

// Store keeps history entries per user. List returns entries most recent
// first and Clear on an empty history is not an error.
type Store interface {
	backend.HistoryStore

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// NewEntry builds a history entry stamped with a fresh id and the current time.
func NewEntry(user, operation string, changes []string) backend.HistoryEntry {
	c := make([]string, len(changes))
	copy(c, changes)
	return backend.HistoryEntry{
		ID:        xid.New().String(),
		Time:      time.Now().UTC(),
		User:      user,
		Operation: operation,
		Changes:   c,
	}
}

// Memory is an in-process Store. Entries are lost on restart.
type Memory struct {
	limit int

	mu      sync.RWMutex
	entries map[string][]backend.HistoryEntry // oldest first
}

// NewMemory creates an in-memory store keeping at most limit entries per
// user. A limit below 1 uses DefaultLimit.
func NewMemory(limit int) *Memory {
	if limit < 1 {
		limit = DefaultLimit
	}
	return &Memory{
		limit:   limit,
		entries: make(map[string][]backend.HistoryEntry),
	}
}

// Append records entry for user, dropping the oldest entries over the limit.
func (m *Memory) Append(_ context.Context, user string, entry backend.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := append(m.entries[user], entry)
	if over := len(list) - m.limit; over > 0 {
		list = append([]backend.HistoryEntry(nil), list[over:]...)
	}
	m.entries[user] = list
	return nil
}

// List returns the user's entries, most recent first.
func (m *Memory) List(_ context.Context, user string) ([]backend.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.entries[user]
	out := make([]backend.HistoryEntry, len(list))
	for i, e := range list {
		out[len(list)-1-i] = e
	}
	return out, nil
}

// Clear removes all entries for user.
func (m *Memory) Clear(_ context.Context, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, user)
	return nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}

var _ Store = (*Memory)(nil)
