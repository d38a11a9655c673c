package backend

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
)

// IsAddress reports whether s is an IPv4 or IPv6 literal.
func IsAddress(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}

// CanonicalAddress returns the canonical text form of an address, with
// IPv4-mapped IPv6 addresses unmapped. Non-addresses are returned as given.
func CanonicalAddress(s string) string {
	a, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return s
	}
	return a.Unmap().String()
}

// CanonicalAddresses canonicalizes and de-duplicates addresses, keeping
// their order. Any non-address fails the whole list.
func CanonicalAddresses(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, s := range in {
		a, err := netip.ParseAddr(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%q is not an IP address", s)
		}
		c := a.Unmap().String()
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// SameAddresses reports whether a and b hold the same addresses in any order.
func SameAddresses(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}
