package backend

import "fmt"

// Verbs used in change lines.
const (
	VerbAdded     = "Added"
	VerbDeleted   = "Deleted"
	VerbAliased   = "Aliased"
	VerbUnchanged = "Unchanged"
)

// ChangeLine formats one applied change, e.g.
// "Added web1.example.com -> 10.0.0.5".
func ChangeLine(verb, owner, value string) string {
	return fmt.Sprintf("%s %s -> %s", verb, owner, value)
}

// PTRLine formats a change to a reverse record, e.g.
// "Added PTR 5.0.0.10.in-addr.arpa -> web1.example.com".
func PTRLine(verb, reverseName, target string) string {
	return ChangeLine(verb, "PTR "+reverseName, target)
}

// AliasLine formats a change to a CNAME record.
func AliasLine(verb, alias, target string) string {
	if verb == VerbAdded {
		verb = VerbAliased
	}
	if verb == VerbDeleted {
		return ChangeLine(verb, "alias "+alias, target)
	}
	return ChangeLine(verb, alias, target)
}
