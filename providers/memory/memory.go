// Package memory is a dnsgate backend that keeps the zone in process memory.
// It is meant for dry runs and demos; nothing reaches a DNS server and the
// zone is lost on restart.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"gitlab.bluewillows.net/root/dnsgate/pkg/backend"
	"gitlab.bluewillows.net/root/dnsgate/pkg/history"
)

// TypeName is the backend type name used in configuration.
const TypeName = "memory"

type entry struct {
	addresses []string
	cname     string
}

func (e *entry) empty() bool {
	return e == nil || (len(e.addresses) == 0 && e.cname == "")
}

// Zone is an in-memory forward zone with an address index standing in for
// reverse records. It is shared by every session.
type Zone struct {
	mu     sync.RWMutex
	names  map[string]*entry
	owners map[string][]string // address -> names holding it
	logger *slog.Logger
}

// NewZone creates an empty zone.
func NewZone(logger *slog.Logger) *Zone {
	if logger == nil {
		logger = slog.Default()
	}
	return &Zone{
		names:  make(map[string]*entry),
		owners: make(map[string][]string),
		logger: logger,
	}
}

// Builder creates an in-memory backend. It takes no settings.
func Builder(cfg backend.BuildConfig) (*backend.Provider, error) {
	z := NewZone(cfg.Logger)
	z.logger.Warn("using in-memory backend, changes are not sent to any DNS server")
	return &backend.Provider{
		Factory:  z.Factory(cfg.History),
		Resolver: z,
	}, nil
}

// Factory returns a backend.Factory opening sessions on z.
func (z *Zone) Factory(store backend.HistoryStore) backend.Factory {
	return func(_ context.Context, user string) (backend.Backend, error) {
		if store == nil {
			return nil, fmt.Errorf("history store is required")
		}
		return &Session{zone: z, user: user, history: store}, nil
	}
}

// Lookup resolves a name to its addresses (or alias target) and an address
// to the names holding it.
func (z *Zone) Lookup(_ context.Context, entry string) ([]string, error) {
	z.mu.RLock()
	defer z.mu.RUnlock()

	if backend.IsAddress(entry) {
		return slices.Clone(z.owners[backend.CanonicalAddress(entry)]), nil
	}

	e := z.names[key(entry)]
	switch {
	case e.empty():
		return []string{}, nil
	case e.cname != "":
		return []string{e.cname}, nil
	default:
		return slices.Clone(e.addresses), nil
	}
}

// Names returns every name in the zone, sorted.
func (z *Zone) Names() []string {
	z.mu.RLock()
	defer z.mu.RUnlock()

	names := make([]string, 0, len(z.names))
	for n := range z.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// check reports whether adding want to name is a no-op, or a conflict when
// force is not set. Callers hold z.mu.
func (z *Zone) check(name string, want []string, force bool) (bool, error) {
	e := z.names[name]
	if e != nil && e.cname == "" && backend.SameAddresses(e.addresses, want) {
		return true, nil
	}
	if !e.empty() && !force {
		return false, conflict(name, e)
	}
	return false, nil
}

// removeName deletes everything name holds. Callers hold z.mu.
func (z *Zone) removeName(name string) []string {
	e := z.names[name]
	if e.empty() {
		return nil
	}

	var lines []string
	if e.cname != "" {
		lines = append(lines, backend.AliasLine(backend.VerbDeleted, name, e.cname))
	}
	for _, a := range e.addresses {
		lines = append(lines, backend.ChangeLine(backend.VerbDeleted, name, a))
		z.unindex(a, name)
	}
	delete(z.names, name)
	return lines
}

// removeAddress deletes address from every name holding it. Callers hold z.mu.
func (z *Zone) removeAddress(address string) []string {
	owners := slices.Clone(z.owners[address])

	var lines []string
	for _, name := range owners {
		e := z.names[name]
		e.addresses = slices.DeleteFunc(e.addresses, func(a string) bool { return a == address })
		if e.empty() {
			delete(z.names, name)
		}
		z.unindex(address, name)
		lines = append(lines, backend.ChangeLine(backend.VerbDeleted, name, address))
	}
	return lines
}

// set replaces name's data with addresses. Callers hold z.mu.
func (z *Zone) set(name string, addresses []string) []string {
	lines := z.removeName(name)
	z.names[name] = &entry{addresses: slices.Clone(addresses)}
	for _, a := range addresses {
		z.owners[a] = append(z.owners[a], name)
		lines = append(lines, backend.ChangeLine(backend.VerbAdded, name, a))
	}
	return lines
}

func (z *Zone) unindex(address, name string) {
	owners := slices.DeleteFunc(z.owners[address], func(n string) bool { return n == name })
	if len(owners) == 0 {
		delete(z.owners, address)
	} else {
		z.owners[address] = owners
	}
}

// Session is one user's handle on a Zone.
type Session struct {
	zone    *Zone
	user    string
	history backend.HistoryStore
	closed  atomic.Bool
}

// AddRecord binds name to addresses, replacing existing data when force is set.
func (s *Session) AddRecord(ctx context.Context, name string, addresses []string, force bool) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	want, err := backend.CanonicalAddresses(addresses)
	if err != nil {
		return nil, err
	}
	if len(want) == 0 {
		return nil, fmt.Errorf("no addresses given for %s", name)
	}
	name = key(name)

	z := s.zone
	z.mu.Lock()
	same, err := z.check(name, want, force)
	if err != nil || same {
		z.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return unchanged(name, want), nil
	}
	lines := z.set(name, want)
	z.mu.Unlock()

	return s.record(ctx, opName(backend.OpAdd, backend.OpReplace, force), lines)
}

// AddAlias points alias at target, replacing existing data when force is set.
func (s *Session) AddAlias(ctx context.Context, alias, target string, force bool) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	alias, target = key(alias), key(target)

	z := s.zone
	z.mu.Lock()
	e := z.names[alias]
	if e != nil && len(e.addresses) == 0 && e.cname == target {
		z.mu.Unlock()
		return []string{backend.AliasLine(backend.VerbUnchanged, alias, target)}, nil
	}
	if !e.empty() && !force {
		z.mu.Unlock()
		return nil, conflict(alias, e)
	}
	lines := z.removeName(alias)
	z.names[alias] = &entry{cname: target}
	lines = append(lines, backend.AliasLine(backend.VerbAdded, alias, target))
	z.mu.Unlock()

	return s.record(ctx, opName(backend.OpAlias, backend.OpReplaceAlias, force), lines)
}

// DeleteRecord removes a name or an address.
func (s *Session) DeleteRecord(ctx context.Context, entry string) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	s.zone.mu.Lock()
	lines := s.zone.remove(entry)
	s.zone.mu.Unlock()

	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: %s", backend.ErrNotFound, entry)
	}
	return s.record(ctx, backend.OpDelete, lines)
}

// AddRange adds count numbered names with consecutive addresses. Conflicts
// are checked for every member before anything changes.
func (s *Session) AddRange(ctx context.Context, name, addressTemplate string, count int, startIndex string, force bool) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	pairs, err := backend.Sequence(name, addressTemplate, count, startIndex)
	if err != nil {
		return nil, err
	}

	z := s.zone
	z.mu.Lock()
	same := make([]bool, len(pairs))
	for i, p := range pairs {
		same[i], err = z.check(key(p.Name), []string{p.Address}, force)
		if err != nil {
			z.mu.Unlock()
			return nil, err
		}
	}

	var lines []string
	changed := false
	for i, p := range pairs {
		n := key(p.Name)
		if same[i] {
			lines = append(lines, unchanged(n, []string{p.Address})...)
			continue
		}
		lines = append(lines, z.set(n, []string{p.Address})...)
		changed = true
	}
	z.mu.Unlock()

	if !changed {
		return lines, nil
	}
	return s.record(ctx, opName(backend.OpRangeAdd, backend.OpRangeReplace, force), lines)
}

// DeleteRange removes count numbered names, or count consecutive addresses,
// starting at entry. Members that do not exist are skipped.
func (s *Session) DeleteRange(ctx context.Context, entry string, count int) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	var entries []string
	var err error
	if backend.IsAddress(entry) {
		entries, err = backend.AddressSequence(entry, count)
	} else {
		entries, err = backend.NameSequence(entry, count)
	}
	if err != nil {
		return nil, err
	}

	var lines []string
	s.zone.mu.Lock()
	for _, e := range entries {
		lines = append(lines, s.zone.remove(e)...)
	}
	s.zone.mu.Unlock()

	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: nothing to delete in %d entries from %s", backend.ErrNotFound, count, entry)
	}
	return s.record(ctx, backend.OpRangeDelete, lines)
}

// History returns the session user's history, most recent first.
func (s *Session) History(ctx context.Context) ([]backend.HistoryEntry, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.history.List(ctx, s.user)
}

// ClearHistory removes the session user's history.
func (s *Session) ClearHistory(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.history.Clear(ctx, s.user)
}

// Close marks the session closed. The zone is unaffected.
func (s *Session) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Session) check() error {
	if s.closed.Load() {
		return backend.ErrClosed
	}
	return nil
}

// record appends an accepted change to history. The change already
// happened, so a history failure is logged rather than returned.
func (s *Session) record(ctx context.Context, op string, lines []string) ([]string, error) {
	if err := s.history.Append(ctx, s.user, history.NewEntry(s.user, op, lines)); err != nil {
		s.zone.logger.Warn("failed to record history",
			slog.String("user", s.user),
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
	}
	return lines, nil
}

// remove deletes a name or address. Callers hold z.mu.
func (z *Zone) remove(entry string) []string {
	if backend.IsAddress(entry) {
		return z.removeAddress(backend.CanonicalAddress(entry))
	}
	return z.removeName(key(entry))
}

func unchanged(name string, addresses []string) []string {
	lines := make([]string, len(addresses))
	for i, a := range addresses {
		lines[i] = backend.ChangeLine(backend.VerbUnchanged, name, a)
	}
	return lines
}

func conflict(name string, e *entry) error {
	have := slices.Clone(e.addresses)
	if e.cname != "" {
		have = append(have, "alias for "+e.cname)
	}
	return fmt.Errorf("%w: %s already has %s", backend.ErrConflict, name, strings.Join(have, ", "))
}

func opName(plain, forced string, force bool) string {
	if force {
		return forced
	}
	return plain
}

func key(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}

var _ backend.Backend = (*Session)(nil)
