package orchestrator

import (
	"strings"

	"golang.org/x/net/idna"

	"gitlab.bluewillows.net/root/dnsgate/internal/policy"
)

// stripSpace removes all whitespace, including between characters.
func stripSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// qualify turns a caller-supplied hostname into the lower-case ASCII,
// fully qualified form used for policy checks and backend calls. Names
// without a dot are placed in zone. The result has no trailing dot.
func qualify(field, name, zone string) (string, *Error) {
	raw := name
	name = strings.TrimSuffix(stripSpace(name), ".")
	if name == "" {
		return "", invalid(raw, "%s is required", field)
	}
	if !strings.Contains(name, ".") && zone != "" {
		name = name + "." + zone
	}

	ascii, err := idna.Lookup.ToASCII(strings.ToLower(name))
	if err != nil {
		return "", invalid(raw, "%s is not a valid hostname: %v", name, err)
	}
	return ascii, nil
}

// address trims an address literal and rejects anything that does not parse.
func address(field, value string) (string, *Error) {
	a := stripSpace(value)
	if a == "" {
		return "", invalid(value, "%s is required", field)
	}
	if !policy.IsAddress(a) {
		return "", invalid(value, "%s is not a valid IP address", a)
	}
	return a, nil
}
