// Package orchestrator applies DNS change requests on behalf of users.
//
// Every change passes the same pipeline: inputs are normalized (whitespace
// removed, short names qualified with the forward zone), checked against the
// allow-lists, and only then handed to the caller's backend session. Failures
// come back as *Error so surfaces can report them uniformly.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/iter"

	"gitlab.bluewillows.net/root/dnsgate/internal/metrics"
	"gitlab.bluewillows.net/root/dnsgate/internal/policy"
	"gitlab.bluewillows.net/root/dnsgate/pkg/backend"
)

// Operation names used in logs and metrics. Change operations share the
// names recorded in history.
const (
	OpAdd          = backend.OpAdd
	OpReplace      = backend.OpReplace
	OpAlias        = backend.OpAlias
	OpReplaceAlias = backend.OpReplaceAlias
	OpDelete       = backend.OpDelete
	OpRangeAdd     = backend.OpRangeAdd
	OpRangeReplace = backend.OpRangeReplace
	OpRangeDelete  = backend.OpRangeDelete
	OpHistory      = "history"
	OpClearHistory = "clear-history"
	OpSearch       = "search"
)

// DefaultTimeout bounds each backend call when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Sessions hands out per-user backend sessions.
type Sessions interface {
	HandleFor(ctx context.Context, user string) (backend.Backend, error)
}

// Orchestrator validates, authorizes and dispatches change requests.
type Orchestrator struct {
	guard    *policy.Guard
	sessions Sessions
	resolver backend.Resolver
	timeout  time.Duration
	logger   *slog.Logger
}

// Option is a functional option for configuring an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTimeout bounds each backend call. Zero or negative disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.timeout = d
	}
}

// WithResolver enables Search and SearchMany.
func WithResolver(r backend.Resolver) Option {
	return func(o *Orchestrator) {
		o.resolver = r
	}
}

// New creates an Orchestrator enforcing guard and dispatching to sessions.
func New(guard *policy.Guard, sessions Sessions, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		guard:    guard,
		sessions: sessions,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Guard returns the allow-list guard.
func (o *Orchestrator) Guard() *policy.Guard {
	return o.guard
}

// AddRecord binds name to addresses. With force, existing data for name is
// replaced; without it a conflicting name is a backend failure. Every
// address must pass the subnet allow-list or nothing is changed.
func (o *Orchestrator) AddRecord(ctx context.Context, user, name string, addresses []string, force bool) ([]string, error) {
	op := pick(OpAdd, OpReplace, force)

	fqdn, verr := qualify("name", name, o.guard.ForwardZone())
	if verr != nil {
		return nil, o.reject(op, user, verr)
	}
	if verr := o.checkName(fqdn); verr != nil {
		return nil, o.reject(op, user, verr)
	}

	if len(addresses) == 0 {
		return nil, o.reject(op, user, invalid("", "at least one address is required"))
	}
	addrs := make([]string, 0, len(addresses))
	for _, a := range addresses {
		addr, verr := address("address", a)
		if verr != nil {
			return nil, o.reject(op, user, verr)
		}
		if verr := o.checkAddress(addr); verr != nil {
			return nil, o.reject(op, user, verr)
		}
		addrs = append(addrs, addr)
	}

	return o.dispatch(ctx, op, user, func(ctx context.Context, b backend.Backend) ([]string, error) {
		return b.AddRecord(ctx, fqdn, addrs, force)
	})
}

// ReplaceRecord is AddRecord with force set.
func (o *Orchestrator) ReplaceRecord(ctx context.Context, user, name string, addresses []string) ([]string, error) {
	return o.AddRecord(ctx, user, name, addresses, true)
}

// AddAlias points alias at target. Only alias is checked against the
// domain allow-list; target may live outside the managed zones.
func (o *Orchestrator) AddAlias(ctx context.Context, user, alias, target string, force bool) ([]string, error) {
	op := pick(OpAlias, OpReplaceAlias, force)

	fqdn, verr := qualify("alias", alias, o.guard.ForwardZone())
	if verr != nil {
		return nil, o.reject(op, user, verr)
	}
	if verr := o.checkName(fqdn); verr != nil {
		return nil, o.reject(op, user, verr)
	}
	dest, verr := qualify("target", target, o.guard.ForwardZone())
	if verr != nil {
		return nil, o.reject(op, user, verr)
	}

	return o.dispatch(ctx, op, user, func(ctx context.Context, b backend.Backend) ([]string, error) {
		return b.AddAlias(ctx, fqdn, dest, force)
	})
}

// ReplaceAlias is AddAlias with force set.
func (o *Orchestrator) ReplaceAlias(ctx context.Context, user, alias, target string) ([]string, error) {
	return o.AddAlias(ctx, user, alias, target, true)
}

// DeleteRecord removes a hostname or an address. Addresses are checked
// against the subnet allow-list and names against the domain allow-list.
func (o *Orchestrator) DeleteRecord(ctx context.Context, user, entry string) ([]string, error) {
	target, verr := o.entry(entry)
	if verr != nil {
		return nil, o.reject(OpDelete, user, verr)
	}

	return o.dispatch(ctx, OpDelete, user, func(ctx context.Context, b backend.Backend) ([]string, error) {
		return b.DeleteRecord(ctx, target)
	})
}

// AddRange adds count numbered names with consecutive addresses. The base
// name and every address of the sequence are checked before the backend
// derives the entries.
func (o *Orchestrator) AddRange(ctx context.Context, user, name, addressTemplate string, count int, startIndex string, force bool) ([]string, error) {
	op := pick(OpRangeAdd, OpRangeReplace, force)

	fqdn, verr := qualify("name", name, o.guard.ForwardZone())
	if verr != nil {
		return nil, o.reject(op, user, verr)
	}
	if verr := o.checkName(fqdn); verr != nil {
		return nil, o.reject(op, user, verr)
	}
	addr, verr := address("address", addressTemplate)
	if verr != nil {
		return nil, o.reject(op, user, verr)
	}
	if count < 1 {
		return nil, o.reject(op, user, invalid("", "count must be at least 1"))
	}
	if verr := o.checkAddressRange(addr, count); verr != nil {
		return nil, o.reject(op, user, verr)
	}
	start := stripSpace(startIndex)

	return o.dispatch(ctx, op, user, func(ctx context.Context, b backend.Backend) ([]string, error) {
		return b.AddRange(ctx, fqdn, addr, count, start, force)
	})
}

// ReplaceRange is AddRange with force set.
func (o *Orchestrator) ReplaceRange(ctx context.Context, user, name, addressTemplate string, count int, startIndex string) ([]string, error) {
	return o.AddRange(ctx, user, name, addressTemplate, count, startIndex, true)
}

// DeleteRange removes count entries starting at entry, which is routed to
// an allow-list the same way as in DeleteRecord.
func (o *Orchestrator) DeleteRange(ctx context.Context, user, entry string, count int) ([]string, error) {
	target, verr := o.entry(entry)
	if verr != nil {
		return nil, o.reject(OpRangeDelete, user, verr)
	}
	if count < 1 {
		return nil, o.reject(OpRangeDelete, user, invalid("", "count must be at least 1"))
	}
	if o.guard.IsAddress(target) {
		if verr := o.checkAddressRange(target, count); verr != nil {
			return nil, o.reject(OpRangeDelete, user, verr)
		}
	}

	return o.dispatch(ctx, OpRangeDelete, user, func(ctx context.Context, b backend.Backend) ([]string, error) {
		return b.DeleteRange(ctx, target, count)
	})
}

// History returns user's accepted changes, most recent first.
func (o *Orchestrator) History(ctx context.Context, user string) ([]backend.HistoryEntry, error) {
	var entries []backend.HistoryEntry
	_, err := o.dispatch(ctx, OpHistory, user, func(ctx context.Context, b backend.Backend) ([]string, error) {
		var err error
		entries, err = b.History(ctx)
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []backend.HistoryEntry{}
	}
	return entries, nil
}

// ClearHistory removes user's history. Clearing an empty history succeeds.
func (o *Orchestrator) ClearHistory(ctx context.Context, user string) error {
	_, err := o.dispatch(ctx, OpClearHistory, user, func(ctx context.Context, b backend.Backend) ([]string, error) {
		return nil, b.ClearHistory(ctx)
	})
	return err
}

// SearchResult is the answer to one lookup.
type SearchResult struct {
	// Entry is the term as the caller gave it.
	Entry string
	// Query is the normalized name or address that was looked up.
	Query   string
	Answers []string
	Err     error
}

// Search looks up one name or address. Names are qualified first.
// Lookups are read-only and need no user.
func (o *Orchestrator) Search(ctx context.Context, entry string) ([]string, error) {
	r := o.search(ctx, entry)
	return r.Answers, r.Err
}

// SearchMany looks up every entry concurrently. Results are in input order.
func (o *Orchestrator) SearchMany(ctx context.Context, entries []string) []SearchResult {
	return iter.Map(entries, func(entry *string) SearchResult {
		return o.search(ctx, *entry)
	})
}

func (o *Orchestrator) search(ctx context.Context, entry string) SearchResult {
	res := SearchResult{Entry: entry}
	if o.resolver == nil {
		res.Err = failed(errNoResolver)
		return res
	}

	query := stripSpace(entry)
	if !policy.IsAddress(query) {
		fqdn, verr := qualify("entry", entry, o.guard.ForwardZone())
		if verr != nil {
			res.Err = verr
			return res
		}
		query = fqdn
	}
	res.Query = query

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	answers, err := o.resolver.Lookup(ctx, query)
	if err != nil {
		metrics.OperationsTotal.WithLabelValues(OpSearch, metrics.ResultError).Inc()
		res.Err = failed(err)
		return res
	}
	if answers == nil {
		answers = []string{}
	}
	metrics.OperationsTotal.WithLabelValues(OpSearch, metrics.ResultSuccess).Inc()
	res.Answers = answers
	return res
}

// entry normalizes a delete target and checks it against the allow-list
// matching its kind.
func (o *Orchestrator) entry(entry string) (string, *Error) {
	raw := stripSpace(entry)
	if raw == "" {
		return "", invalid(entry, "entry is required")
	}
	if o.guard.IsAddress(raw) {
		return raw, o.checkAddress(raw)
	}

	fqdn, verr := qualify("entry", raw, o.guard.ForwardZone())
	if verr != nil {
		return "", verr
	}
	return fqdn, o.checkName(fqdn)
}

func (o *Orchestrator) checkName(name string) *Error {
	if !o.guard.NameAllowed(name) {
		metrics.PolicyDenialsTotal.WithLabelValues("domain").Inc()
		return denied(name, ErrDomainNotAllowed)
	}
	return nil
}

func (o *Orchestrator) checkAddress(addr string) *Error {
	ok, err := o.guard.AddressAllowed(addr)
	if err != nil {
		return invalid(addr, "%v", err)
	}
	if !ok {
		metrics.PolicyDenialsTotal.WithLabelValues("subnet").Inc()
		return denied(addr, ErrSubnetNotAllowed)
	}
	return nil
}

// checkAddressRange checks each of the count consecutive addresses starting
// at first. A sequence the backend cannot build is left for it to report.
func (o *Orchestrator) checkAddressRange(first string, count int) *Error {
	if verr := o.checkAddress(first); verr != nil {
		return verr
	}
	addrs, err := backend.AddressSequence(first, count)
	if err != nil {
		return nil
	}
	for _, a := range addrs[1:] {
		if verr := o.checkAddress(a); verr != nil {
			return verr
		}
	}
	return nil
}

// dispatch runs fn against user's session under the backend timeout.
func (o *Orchestrator) dispatch(ctx context.Context, op, user string, fn func(context.Context, backend.Backend) ([]string, error)) ([]string, error) {
	if user == "" {
		return nil, o.reject(op, user, invalid("", "a user is required"))
	}

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	b, err := o.sessions.HandleFor(ctx, user)
	if err != nil {
		return nil, o.reject(op, user, failed(err))
	}

	start := time.Now()
	changes, err := fn(ctx, b)
	if errors.Is(err, backend.ErrClosed) {
		// Evicted between lookup and use. A closed session applies nothing.
		if b, err = o.sessions.HandleFor(ctx, user); err == nil {
			changes, err = fn(ctx, b)
		}
	}
	metrics.BackendDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, o.reject(op, user, failed(err))
	}

	metrics.OperationsTotal.WithLabelValues(op, metrics.ResultSuccess).Inc()
	if changes != nil {
		o.logger.Info("change applied",
			slog.String("operation", op),
			slog.String("user", user),
			slog.Int("changes", len(changes)),
		)
	}
	return changes, nil
}

// reject counts and logs a failed operation and returns it as an error.
func (o *Orchestrator) reject(op, user string, e *Error) error {
	result := metrics.ResultError
	level := slog.LevelError
	switch e.Kind {
	case PolicyDenied:
		result, level = metrics.ResultDenied, slog.LevelWarn
	case ValidationFailed:
		result, level = metrics.ResultInvalid, slog.LevelInfo
	}
	metrics.OperationsTotal.WithLabelValues(op, result).Inc()

	o.logger.Log(context.Background(), level, "operation rejected",
		slog.String("operation", op),
		slog.String("user", user),
		slog.String("kind", e.Kind.String()),
		slog.String("error", e.Error()),
	)
	return e
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

func pick(plain, forced string, force bool) string {
	if force {
		return forced
	}
	return plain
}
