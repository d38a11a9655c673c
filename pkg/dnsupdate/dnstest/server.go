// Package dnstest provides an in-process authoritative DNS server that
// accepts RFC 2136 updates, for testing code built on dnsupdate.
package dnstest

import (
	"net"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/miekg/dns"
)

type rrKey struct {
	name   string
	rrtype uint16
}

// Server is a minimal authoritative server for a set of zones. It keeps
// records in memory, answers plain queries, and applies UPDATE messages
// atomically.
type Server struct {
	Addr string

	zones []string
	srv   *dns.Server

	mu      sync.Mutex
	records map[rrKey][]dns.RR
	updates int
	refuse  bool
}

// Start launches a server on a loopback UDP port and stops it when the test
// ends. Zones may be given with or without the trailing dot.
func Start(t testing.TB, zones ...string) *Server {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("dnstest: listen: %v", err)
	}

	s := &Server{
		Addr:    pc.LocalAddr().String(),
		records: make(map[rrKey][]dns.RR),
	}
	for _, z := range zones {
		s.zones = append(s.zones, dns.Fqdn(strings.ToLower(z)))
	}

	started := make(chan struct{})
	s.srv = &dns.Server{
		PacketConn:        pc,
		Handler:           s,
		NotifyStartedFunc: func() { close(started) },
		// The library default rejects UPDATE with NOTIMP before ServeDNS runs.
		MsgAcceptFunc: func(dh dns.Header) dns.MsgAcceptAction {
			if dh.Bits&(1<<15) != 0 { // QR: ignore responses
				return dns.MsgIgnore
			}
			return dns.MsgAccept
		},
	}
	go func() { _ = s.srv.ActivateAndServe() }()
	<-started

	t.Cleanup(func() { _ = s.srv.Shutdown() })
	return s
}

// Set replaces the RRset for name and rrtype with rdata values, e.g.
// Set("web.example.com", dns.TypeA, "10.0.0.1").
func (s *Server) Set(name string, rrtype uint16, rdata ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := rrKey{dns.Fqdn(strings.ToLower(name)), rrtype}
	delete(s.records, k)
	for _, d := range rdata {
		rr, err := dns.NewRR(k.name + " 300 IN " + dns.TypeToString[rrtype] + " " + d)
		if err != nil {
			panic("dnstest: " + err.Error())
		}
		s.records[k] = append(s.records[k], rr)
	}
}

// Get returns the rdata of the RRset for name and rrtype, sorted.
func (s *Server) Get(name string, rrtype uint16) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, rr := range s.records[rrKey{dns.Fqdn(strings.ToLower(name)), rrtype}] {
		out = append(out, strings.TrimSuffix(rdata(rr), "."))
	}
	sort.Strings(out)
	return out
}

// Updates returns the number of UPDATE messages applied successfully.
func (s *Server) Updates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

// Refuse makes the server answer every UPDATE with REFUSED.
func (s *Server) Refuse(refuse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuse = refuse
}

// ServeDNS implements dns.Handler.
func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true

	if len(r.Question) == 1 {
		switch r.Opcode {
		case dns.OpcodeUpdate:
			m.Rcode = s.apply(r)
		case dns.OpcodeQuery:
			s.answer(m, r.Question[0])
		default:
			m.Rcode = dns.RcodeNotImplemented
		}
	} else {
		m.Rcode = dns.RcodeFormatError
	}

	_ = w.WriteMsg(m)
}

func (s *Server) zoneFor(name string) string {
	best := ""
	for _, z := range s.zones {
		if dns.IsSubDomain(z, name) && len(z) > len(best) {
			best = z
		}
	}
	return best
}

func (s *Server) answer(m *dns.Msg, q dns.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := strings.ToLower(q.Name)
	zone := s.zoneFor(name)
	if zone == "" {
		m.Rcode = dns.RcodeRefused
		return
	}

	if q.Qtype == dns.TypeSOA && name == zone {
		soa, _ := dns.NewRR(zone + " 300 IN SOA ns." + zone + " hostmaster." + zone + " 1 3600 600 86400 300")
		m.Answer = append(m.Answer, soa)
		return
	}

	exists := false
	for k := range s.records {
		if k.name == name {
			exists = true
			break
		}
	}
	if !exists {
		m.Rcode = dns.RcodeNameError
		return
	}

	for _, rr := range s.records[rrKey{name, q.Qtype}] {
		m.Answer = append(m.Answer, dns.Copy(rr))
	}
}

func (s *Server) apply(r *dns.Msg) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refuse {
		return dns.RcodeRefused
	}

	zone := strings.ToLower(r.Question[0].Name)
	if s.zoneFor(zone) != zone {
		return dns.RcodeNotAuth
	}

	next := make(map[rrKey][]dns.RR, len(s.records))
	for k, v := range s.records {
		next[k] = append([]dns.RR(nil), v...)
	}

	for _, rr := range r.Ns {
		h := rr.Header()
		name := strings.ToLower(h.Name)
		if !dns.IsSubDomain(zone, name) {
			return dns.RcodeNotZone
		}
		k := rrKey{name, h.Rrtype}

		switch {
		case h.Class == dns.ClassANY && h.Rrtype == dns.TypeANY:
			for key := range next {
				if key.name == name {
					delete(next, key)
				}
			}
		case h.Class == dns.ClassANY:
			delete(next, k)
		case h.Class == dns.ClassNONE:
			kept := next[k][:0]
			for _, have := range next[k] {
				if rdata(have) != rdata(rr) {
					kept = append(kept, have)
				}
			}
			if len(kept) == 0 {
				delete(next, k)
			} else {
				next[k] = kept
			}
		default:
			dup := false
			for _, have := range next[k] {
				if rdata(have) == rdata(rr) {
					dup = true
					break
				}
			}
			if !dup {
				c := dns.Copy(rr)
				c.Header().Name = name
				next[k] = append(next[k], c)
			}
		}
	}

	s.records = next
	s.updates++
	return dns.RcodeSuccess
}

func rdata(rr dns.RR) string {
	return strings.ToLower(strings.TrimPrefix(rr.String(), rr.Header().String()))
}
