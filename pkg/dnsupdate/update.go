package dnsupdate

import (
	"fmt"

	"github.com/miekg/dns"
)

// Update collects changes for one UPDATE message. Changes are applied by
// the server in the order they were added, so removals should precede the
// inserts that replace them.
type Update struct {
	zone string
	msg  *dns.Msg
}

func newUpdate(zone string) *Update {
	msg := new(dns.Msg)
	msg.SetUpdate(dns.Fqdn(zone))
	return &Update{zone: zone, msg: msg}
}

// Insert adds records.
func (u *Update) Insert(records ...Record) error {
	rrs, err := u.toRRs(records)
	if err != nil {
		return err
	}
	u.msg.Insert(rrs)
	return nil
}

// Remove deletes the given records. Other records of the same RRset stay.
func (u *Update) Remove(records ...Record) error {
	rrs, err := u.toRRs(records)
	if err != nil {
		return err
	}
	u.msg.Remove(rrs)
	return nil
}

// RemoveRRset deletes every record of rrtype owned by name.
func (u *Update) RemoveRRset(name string, rrtype uint16) error {
	if !InZone(name, u.zone) {
		return fmt.Errorf("%w: %s not in zone %s", ErrZoneMismatch, name, u.zone)
	}
	u.msg.RemoveRRset([]dns.RR{&dns.ANY{Hdr: dns.RR_Header{Name: dns.Fqdn(name), Rrtype: rrtype}}})
	return nil
}

// Empty reports whether no changes have been added.
func (u *Update) Empty() bool {
	return len(u.msg.Ns) == 0
}

// Len returns the number of resource records in the update section.
func (u *Update) Len() int {
	return len(u.msg.Ns)
}

func (u *Update) build() *dns.Msg {
	return u.msg.Copy()
}

func (u *Update) toRRs(records []Record) ([]dns.RR, error) {
	rrs := make([]dns.RR, 0, len(records))
	for _, r := range records {
		if r.Name == "" {
			return nil, fmt.Errorf("record name is required")
		}
		if !InZone(r.Name, u.zone) {
			return nil, fmt.Errorf("%w: %s not in zone %s", ErrZoneMismatch, r.Name, u.zone)
		}
		rr, err := r.ToRR()
		if err != nil {
			return nil, fmt.Errorf("invalid record: %w", err)
		}
		rrs = append(rrs, rr)
	}
	return rrs, nil
}
