// Package backend defines the contract between the change orchestrator and
// the systems that actually mutate DNS data and keep per-user history.
package backend

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by backends. Implementations wrap these with
// context so callers can match them with errors.Is.
var (
	// ErrConflict indicates the name already holds different data and the
	// change was not forced.
	ErrConflict = errors.New("record already exists with different data")

	// ErrNotFound indicates there is nothing to delete.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidRange indicates a range request cannot be expanded.
	ErrInvalidRange = errors.New("invalid range")

	// ErrClosed is returned by a backend handle after Close.
	ErrClosed = errors.New("backend is closed")
)

// Operation names recorded in history and used as metric labels.
const (
	OpAdd          = "add"
	OpReplace      = "replace"
	OpAlias        = "alias"
	OpReplaceAlias = "replace-alias"
	OpDelete       = "delete"
	OpRangeAdd     = "range-add"
	OpRangeReplace = "range-replace"
	OpRangeDelete  = "range-delete"
)

// HistoryEntry records one accepted change made through a backend handle.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	User      string    `json:"user"`
	Operation string    `json:"operation"`
	Changes   []string  `json:"changes"`
}

// Backend is a per-user session against the DNS data store.
//
// Every mutating method returns human-readable descriptions of the changes
// it applied, in the order they were applied. Successful mutations are
// appended to the session's history.
type Backend interface {
	// AddRecord binds name to addresses. Without force, a name that already
	// holds different address data is rejected with ErrConflict.
	AddRecord(ctx context.Context, name string, addresses []string, force bool) ([]string, error)

	// AddAlias points alias at target with a CNAME record.
	AddAlias(ctx context.Context, alias, target string, force bool) ([]string, error)

	// DeleteRecord removes a hostname or the binding for an address.
	DeleteRecord(ctx context.Context, entry string) ([]string, error)

	// AddRange adds count sequential name/address pairs. See Sequence.
	AddRange(ctx context.Context, name, addressTemplate string, count int, startIndex string, force bool) ([]string, error)

	// DeleteRange removes count sequential entries starting at entry.
	DeleteRange(ctx context.Context, entry string, count int) ([]string, error)

	// History returns the session user's history, most recent first.
	History(ctx context.Context) ([]HistoryEntry, error)

	// ClearHistory removes the session user's history. Clearing an empty
	// history is not an error.
	ClearHistory(ctx context.Context) error

	// Close releases resources held by the session.
	Close() error
}

// Resolver answers read-only lookups. Names resolve to addresses and
// addresses resolve to names.
type Resolver interface {
	Lookup(ctx context.Context, entry string) ([]string, error)
}

// Factory creates a backend session for an authenticated user. The user is
// used to attribute history entries.
type Factory func(ctx context.Context, user string) (Backend, error)
