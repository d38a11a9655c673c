package dnsupdate

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/miekg/dns"
)

// Record represents a DNS record for RFC 2136 operations.
type Record struct {
	// Name is the owner name. It is made fully qualified when converted.
	Name string

	// Type is the DNS record type (dns.TypeA, dns.TypeAAAA, dns.TypeCNAME
	// or dns.TypePTR).
	Type uint16

	// TTL is the time-to-live in seconds.
	TTL uint32

	// RData is the address or target name.
	RData string
}

// TypeString returns the string representation of the record type.
func (r Record) TypeString() string {
	if name, ok := dns.TypeToString[r.Type]; ok {
		return name
	}
	return fmt.Sprintf("TYPE%d", r.Type)
}

// ToRR converts the Record to a dns.RR.
func (r Record) ToRR() (dns.RR, error) {
	header := dns.RR_Header{
		Name:   dns.Fqdn(r.Name),
		Rrtype: r.Type,
		Class:  dns.ClassINET,
		Ttl:    r.TTL,
	}

	switch r.Type {
	case dns.TypeA:
		addr, err := netip.ParseAddr(r.RData)
		if err != nil || !addr.Unmap().Is4() {
			return nil, fmt.Errorf("invalid IPv4 address: %s", r.RData)
		}
		b := addr.Unmap().As4()
		return &dns.A{Hdr: header, A: net.IP(b[:])}, nil

	case dns.TypeAAAA:
		addr, err := netip.ParseAddr(r.RData)
		if err != nil || !addr.Is6() || addr.Is4In6() {
			return nil, fmt.Errorf("invalid IPv6 address: %s", r.RData)
		}
		b := addr.As16()
		return &dns.AAAA{Hdr: header, AAAA: net.IP(b[:])}, nil

	case dns.TypeCNAME:
		return &dns.CNAME{Hdr: header, Target: dns.Fqdn(r.RData)}, nil

	case dns.TypePTR:
		return &dns.PTR{Hdr: header, Ptr: dns.Fqdn(r.RData)}, nil

	default:
		return nil, fmt.Errorf("unsupported record type: %s", r.TypeString())
	}
}

// RecordFromRR creates a Record from a dns.RR. Names are returned without
// the trailing dot.
func RecordFromRR(rr dns.RR) (Record, error) {
	header := rr.Header()
	record := Record{
		Name: strings.TrimSuffix(header.Name, "."),
		Type: header.Rrtype,
		TTL:  header.Ttl,
	}

	switch v := rr.(type) {
	case *dns.A:
		record.RData = v.A.String()
	case *dns.AAAA:
		record.RData = v.AAAA.String()
	case *dns.CNAME:
		record.RData = strings.TrimSuffix(v.Target, ".")
	case *dns.PTR:
		record.RData = strings.TrimSuffix(v.Ptr, ".")
	default:
		return record, fmt.Errorf("unsupported record type: %s", dns.TypeToString[header.Rrtype])
	}

	return record, nil
}

// AddressRecord returns an A or AAAA record for address.
func AddressRecord(name, address string, ttl uint32) (Record, error) {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return Record{}, fmt.Errorf("invalid address %q: %w", address, err)
	}
	addr = addr.Unmap()

	t := dns.TypeAAAA
	if addr.Is4() {
		t = dns.TypeA
	}
	return Record{Name: name, Type: t, TTL: ttl, RData: addr.String()}, nil
}

// NewCNAMERecord creates a new CNAME record.
func NewCNAMERecord(name, target string, ttl uint32) Record {
	return Record{Name: name, Type: dns.TypeCNAME, TTL: ttl, RData: target}
}

// NewPTRRecord creates a PTR record for address pointing at target.
func NewPTRRecord(address, target string, ttl uint32) (Record, error) {
	rev, err := ReverseName(address)
	if err != nil {
		return Record{}, err
	}
	return Record{Name: rev, Type: dns.TypePTR, TTL: ttl, RData: target}, nil
}

// ReverseName returns the in-addr.arpa or ip6.arpa name for address,
// without the trailing dot.
func ReverseName(address string) (string, error) {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", address, err)
	}
	rev, err := dns.ReverseAddr(addr.Unmap().String())
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(rev, "."), nil
}

// InZone reports whether name is zone or a name below it.
func InZone(name, zone string) bool {
	return dns.IsSubDomain(dns.Fqdn(strings.ToLower(zone)), dns.Fqdn(strings.ToLower(name)))
}
