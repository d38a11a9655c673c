// Package policy implements the tenant allow-lists that gate every DNS change.
// A Guard is built once from configuration and is safe for concurrent use
// without synchronization because it is never mutated afterwards.
package policy

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strings"
)

// ErrInvalidAddress is returned when an address literal cannot be parsed.
var ErrInvalidAddress = errors.New("invalid IP address")

// Config holds the raw allow-list settings.
type Config struct {
	// ForwardZone is the zone unqualified hostnames are placed in.
	ForwardZone string

	// Domains are the permitted domain suffixes. Empty means unrestricted.
	Domains []string

	// Subnets are the permitted networks in CIDR notation. Empty means unrestricted.
	Subnets []string
}

// Guard evaluates names and addresses against the configured allow-lists.
type Guard struct {
	forwardZone string
	domains     map[string]struct{}
	prefixes    []netip.Prefix
}

// New builds a Guard from cfg. Invalid CIDR entries are reported together.
func New(cfg Config) (*Guard, error) {
	g := &Guard{
		forwardZone: canonicalDomain(cfg.ForwardZone),
	}

	for _, d := range cfg.Domains {
		d = canonicalDomain(d)
		if d == "" {
			continue
		}
		if g.domains == nil {
			g.domains = make(map[string]struct{}, len(cfg.Domains))
		}
		g.domains[d] = struct{}{}
	}

	var errs []string
	for _, s := range cfg.Subnets {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%q: %v", s, err))
			continue
		}
		g.prefixes = append(g.prefixes, prefix.Masked())
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid allowed subnets: %s", strings.Join(errs, "; "))
	}

	return g, nil
}

// NameAllowed reports whether name may be changed.
//
// Without a domain allow-list every name is allowed. An unqualified name (no
// dot) is allowed as well; callers qualify names before asking. Otherwise the
// part after the first label must be an allowed domain or the forward zone.
func (g *Guard) NameAllowed(name string) bool {
	if len(g.domains) == 0 {
		return true
	}

	name = canonicalDomain(name)
	_, suffix, qualified := strings.Cut(name, ".")
	if !qualified {
		return true
	}

	if _, ok := g.domains[suffix]; ok {
		return true
	}
	return g.forwardZone != "" && suffix == g.forwardZone
}

// AddressAllowed reports whether address lies inside an allowed subnet.
// Without a subnet allow-list it returns true for any input. Otherwise a
// malformed literal yields ErrInvalidAddress.
func (g *Guard) AddressAllowed(address string) (bool, error) {
	if len(g.prefixes) == 0 {
		return true, nil
	}

	addr, err := parseAddr(address)
	if err != nil {
		return false, err
	}

	for _, prefix := range g.prefixes {
		if prefix.Contains(addr) {
			return true, nil
		}
	}
	return false, nil
}

// IsAddress reports whether token is an IPv4 or IPv6 literal.
func IsAddress(token string) bool {
	_, err := parseAddr(token)
	return err == nil
}

// IsAddress is a convenience wrapper around the package-level IsAddress.
func (g *Guard) IsAddress(token string) bool {
	return IsAddress(token)
}

// ForwardZone returns the forward zone without a trailing dot.
func (g *Guard) ForwardZone() string {
	return g.forwardZone
}

// Unrestricted reports whether neither allow-list is configured.
func (g *Guard) Unrestricted() bool {
	return len(g.domains) == 0 && len(g.prefixes) == 0
}

// Domains returns the allowed domains in sorted order.
func (g *Guard) Domains() []string {
	out := make([]string, 0, len(g.domains))
	for d := range g.domains {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Subnets returns the allowed networks in configuration order.
func (g *Guard) Subnets() []string {
	out := make([]string, len(g.prefixes))
	for i, p := range g.prefixes {
		out[i] = p.String()
	}
	return out
}

// parseAddr parses an address literal, rejecting zoned IPv6 addresses and
// unmapping IPv4-in-IPv6 so it compares against IPv4 prefixes.
func parseAddr(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	if addr.Zone() != "" {
		return netip.Addr{}, fmt.Errorf("%w: %q (zoned addresses are not supported)", ErrInvalidAddress, s)
	}
	return addr.Unmap(), nil
}

func canonicalDomain(s string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), ".")
}
