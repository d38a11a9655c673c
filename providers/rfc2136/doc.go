// Package rfc2136 is the dnsgate backend for RFC 2136 Dynamic DNS servers
// such as BIND, Knot, or PowerDNS.
//
// A Zones value holds one client for the forward zone and, when a reverse
// zone is configured, one for the reverse zone. Every user session shares
// them. Address records are written to the forward zone and PTR records to
// the reverse zone for addresses that fall inside it.
//
// Each operation is planned from the current zone contents and then sent as
// one UPDATE message per zone, so a range add either lands completely or not
// at all. The forward update is sent first; if the reverse update fails the
// forward change stays and the error is returned.
//
// # Configuration
//
// The backend is built from key/value settings through the backend registry:
//
//	SERVER=ns1.example.com:53
//	FORWARD_ZONE=example.com
//	REVERSE_ZONE=0.10.in-addr.arpa
//	TSIG_KEY_FILE=/etc/dnsgate/ddns.key   # or TSIG_KEY_NAME + TSIG_SECRET
//	TTL=300
//	TIMEOUT=10s
//	USE_TCP=false
package rfc2136
