package rfc2136

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/miekg/dns"

	"gitlab.bluewillows.net/root/dnsgate/pkg/backend"
	"gitlab.bluewillows.net/root/dnsgate/pkg/dnsupdate"
	"gitlab.bluewillows.net/root/dnsgate/pkg/history"
)

// Session is one user's handle on the zones. Every accepted change is
// appended to the user's history.
type Session struct {
	zones   *Zones
	user    string
	history backend.HistoryStore
	logger  *slog.Logger
	closed  atomic.Bool
}

// nameState is what a name currently holds in the forward zone.
type nameState struct {
	addresses []string
	cname     string
}

func (n nameState) empty() bool {
	return len(n.addresses) == 0 && n.cname == ""
}

// change is a pair of UPDATE messages plus the lines describing them.
type change struct {
	fwd   *dnsupdate.Update
	rev   *dnsupdate.Update
	lines []string
}

func (s *Session) newChange() *change {
	c := &change{fwd: s.zones.forward.NewUpdate()}
	if s.zones.reverse != nil {
		c.rev = s.zones.reverse.NewUpdate()
	}
	return c
}

// AddRecord binds name to addresses, replacing existing data when force is set.
func (s *Session) AddRecord(ctx context.Context, name string, addresses []string, force bool) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if len(addresses) == 0 {
		return nil, fmt.Errorf("no addresses given for %s", name)
	}

	state, err := s.lookup(ctx, name)
	if err != nil {
		return nil, err
	}

	c := s.newChange()
	if err := s.planAdd(ctx, c, name, addresses, state, force); err != nil {
		return nil, err
	}
	return s.commit(ctx, c, opName(backend.OpAdd, backend.OpReplace, force))
}

// AddAlias points alias at target, replacing existing data when force is set.
func (s *Session) AddAlias(ctx context.Context, alias, target string, force bool) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	state, err := s.lookup(ctx, alias)
	if err != nil {
		return nil, err
	}

	if len(state.addresses) == 0 && strings.EqualFold(state.cname, target) {
		return []string{backend.AliasLine(backend.VerbUnchanged, alias, target)}, nil
	}
	if !state.empty() && !force {
		return nil, conflict(alias, state)
	}

	c := s.newChange()
	if err := s.planDeleteName(ctx, c, alias, state); err != nil {
		return nil, err
	}
	if err := c.fwd.Insert(dnsupdate.NewCNAMERecord(alias, target, s.zones.ttl)); err != nil {
		return nil, err
	}
	c.lines = append(c.lines, backend.AliasLine(backend.VerbAdded, alias, target))

	return s.commit(ctx, c, opName(backend.OpAlias, backend.OpReplaceAlias, force))
}

// DeleteRecord removes a name with all its records, or the bindings of an
// address found through its PTR records.
func (s *Session) DeleteRecord(ctx context.Context, entry string) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	c := s.newChange()
	found, err := s.planDelete(ctx, c, entry)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", backend.ErrNotFound, entry)
	}
	return s.commit(ctx, c, backend.OpDelete)
}

// AddRange adds count numbered names with consecutive addresses in one
// update per zone.
func (s *Session) AddRange(ctx context.Context, name, addressTemplate string, count int, startIndex string, force bool) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	pairs, err := backend.Sequence(name, addressTemplate, count, startIndex)
	if err != nil {
		return nil, err
	}

	c := s.newChange()
	for _, p := range pairs {
		state, err := s.lookup(ctx, p.Name)
		if err != nil {
			return nil, err
		}
		if err := s.planAdd(ctx, c, p.Name, []string{p.Address}, state, force); err != nil {
			return nil, err
		}
	}
	return s.commit(ctx, c, opName(backend.OpRangeAdd, backend.OpRangeReplace, force))
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

	c := s.newChange()
	deleted := false
	for _, e := range entries {
		found, err := s.planDelete(ctx, c, e)
		if err != nil {
			return nil, err
		}
		deleted = deleted || found
	}
	if !deleted {
		return nil, fmt.Errorf("%w: nothing to delete in %d entries from %s", backend.ErrNotFound, count, entry)
	}
	return s.commit(ctx, c, backend.OpRangeDelete)
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

// Close marks the session closed. The shared zone clients stay open.
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

func (s *Session) lookup(ctx context.Context, name string) (nameState, error) {
	var st nameState
	for _, t := range []uint16{dns.TypeA, dns.TypeAAAA} {
		vals, err := s.zones.rdata(ctx, name, t)
		if err != nil {
			return st, err
		}
		st.addresses = append(st.addresses, vals...)
	}
	targets, err := s.zones.rdata(ctx, name, dns.TypeCNAME)
	if err != nil {
		return st, err
	}
	if len(targets) > 0 {
		st.cname = targets[0]
	}
	return st, nil
}

func (s *Session) planAdd(ctx context.Context, c *change, name string, addresses []string, state nameState, force bool) error {
	want, err := backend.CanonicalAddresses(addresses)
	if err != nil {
		return err
	}

	if state.cname == "" && backend.SameAddresses(state.addresses, want) {
		for _, a := range want {
			c.lines = append(c.lines, backend.ChangeLine(backend.VerbUnchanged, name, a))
		}
		return nil
	}
	if !state.empty() && !force {
		return conflict(name, state)
	}

	if err := s.planDeleteName(ctx, c, name, state); err != nil {
		return err
	}

	for _, a := range want {
		rec, err := dnsupdate.AddressRecord(name, a, s.zones.ttl)
		if err != nil {
			return err
		}
		if err := c.fwd.Insert(rec); err != nil {
			return err
		}
		c.lines = append(c.lines, backend.ChangeLine(backend.VerbAdded, name, a))

		if rev, ok := s.zones.reverseFor(a); ok {
			ptr, err := dnsupdate.NewPTRRecord(a, name, s.zones.ttl)
			if err != nil {
				return err
			}
			if err := c.rev.RemoveRRset(rev, dns.TypePTR); err != nil {
				return err
			}
			if err := c.rev.Insert(ptr); err != nil {
				return err
			}
			c.lines = append(c.lines, backend.PTRLine(backend.VerbAdded, rev, name))
		}
	}
	return nil
}

// planDeleteName removes everything name holds, including PTR records of
// its addresses that point back at it.
func (s *Session) planDeleteName(ctx context.Context, c *change, name string, state nameState) error {
	if state.cname != "" {
		if err := c.fwd.RemoveRRset(name, dns.TypeCNAME); err != nil {
			return err
		}
		c.lines = append(c.lines, backend.AliasLine(backend.VerbDeleted, name, state.cname))
	}
	if len(state.addresses) == 0 {
		return nil
	}

	for _, t := range []uint16{dns.TypeA, dns.TypeAAAA} {
		if err := c.fwd.RemoveRRset(name, t); err != nil {
			return err
		}
	}
	for _, a := range state.addresses {
		c.lines = append(c.lines, backend.ChangeLine(backend.VerbDeleted, name, a))
		if err := s.planDeletePTR(ctx, c, a, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) planDeletePTR(ctx context.Context, c *change, address, name string) error {
	rev, ok := s.zones.reverseFor(address)
	if !ok {
		return nil
	}
	targets, err := s.zones.rdata(ctx, rev, dns.TypePTR)
	if err != nil {
		return err
	}
	for _, t := range targets {
		if !strings.EqualFold(t, name) {
			continue
		}
		ptr, err := dnsupdate.NewPTRRecord(address, name, s.zones.ttl)
		if err != nil {
			return err
		}
		if err := c.rev.Remove(ptr); err != nil {
			return err
		}
		c.lines = append(c.lines, backend.PTRLine(backend.VerbDeleted, rev, name))
	}
	return nil
}

// planDelete plans the removal of a name or an address and reports whether
// there was anything to remove.
func (s *Session) planDelete(ctx context.Context, c *change, entry string) (bool, error) {
	if !backend.IsAddress(entry) {
		state, err := s.lookup(ctx, entry)
		if err != nil {
			return false, err
		}
		if state.empty() {
			return false, nil
		}
		return true, s.planDeleteName(ctx, c, entry, state)
	}

	addr := backend.CanonicalAddress(entry)
	rev, err := dnsupdate.ReverseName(addr)
	if err != nil {
		return false, err
	}
	owners, err := s.zones.rdata(ctx, rev, dns.TypePTR)
	if err != nil {
		return false, err
	}
	if len(owners) == 0 {
		return false, nil
	}

	for _, owner := range owners {
		owner = displayName(owner)
		if dnsupdate.InZone(owner, s.zones.forward.Zone()) {
			rec, err := dnsupdate.AddressRecord(owner, addr, s.zones.ttl)
			if err != nil {
				return false, err
			}
			if err := c.fwd.Remove(rec); err != nil {
				return false, err
			}
			c.lines = append(c.lines, backend.ChangeLine(backend.VerbDeleted, owner, addr))
		}
	}
	if _, ok := s.zones.reverseFor(addr); ok {
		if err := c.rev.RemoveRRset(rev, dns.TypePTR); err != nil {
			return false, err
		}
		for _, owner := range owners {
			c.lines = append(c.lines, backend.PTRLine(backend.VerbDeleted, rev, displayName(owner)))
		}
	}
	return true, nil
}

// commit sends the forward update, then the reverse update, and records the
// change in history. A failed reverse update leaves the forward change in
// place and is reported as an error.
func (s *Session) commit(ctx context.Context, c *change, op string) ([]string, error) {
	if c.fwd.Empty() && (c.rev == nil || c.rev.Empty()) {
		return c.lines, nil
	}

	if err := s.zones.forward.Send(ctx, c.fwd); err != nil {
		return nil, fmt.Errorf("updating %s: %w", s.zones.forward.Zone(), err)
	}

	var revErr error
	if c.rev != nil {
		if err := s.zones.reverse.Send(ctx, c.rev); err != nil {
			revErr = fmt.Errorf("forward zone updated but updating %s failed: %w", s.zones.reverse.Zone(), err)
		}
	}

	if err := s.history.Append(ctx, s.user, history.NewEntry(s.user, op, c.lines)); err != nil {
		s.logger.Warn("failed to record history",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("DNS change applied",
		slog.String("operation", op),
		slog.Int("changes", len(c.lines)),
	)

	if revErr != nil {
		return nil, revErr
	}
	return c.lines, nil
}

func conflict(name string, state nameState) error {
	have := state.addresses
	if state.cname != "" {
		have = append(have, "alias for "+state.cname)
	}
	return fmt.Errorf("%w: %s already has %s", backend.ErrConflict, name, strings.Join(have, ", "))
}

func opName(plain, forced string, force bool) string {
	if force {
		return forced
	}
	return plain
}

var _ backend.Backend = (*Session)(nil)
