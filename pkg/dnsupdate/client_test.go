package dnsupdate

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/miekg/dns"

	"gitlab.bluewillows.net/root/dnsgate/pkg/dnsupdate/dnstest"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:   "valid config without TSIG",
			config: &Config{Server: "ns1.example.com", Zone: "example.com."},
		},
		{
			name: "valid config with TSIG",
			config: &Config{
				Server:        "ns1.example.com",
				Zone:          "example.com.",
				TSIGKeyName:   "dnsgate.",
				TSIGSecret:    "c2VjcmV0",
				TSIGAlgorithm: "hmac-sha256",
			},
		},
		{
			name:    "nil config",
			wantErr: true,
		},
		{
			name:    "missing server",
			config:  &Config{Zone: "example.com."},
			wantErr: true,
		},
		{
			name: "invalid TSIG secret",
			config: &Config{
				Server:      "ns1.example.com",
				Zone:        "example.com.",
				TSIGKeyName: "dnsgate.",
				TSIGSecret:  "invalid-base64!!!",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.config)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if client == nil {
				t.Error("expected client, got nil")
			}
		})
	}
}

func TestNewClientWithOptions(t *testing.T) {
	logger := slog.Default()
	tsig := &TSIG{Name: "file-key.", Secret: "c2VjcmV0", Algorithm: dns.HmacSHA512}

	client, err := NewClient(&Config{Server: "ns1", Zone: "example.com."}, WithLogger(logger), WithTSIG(tsig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.logger != logger {
		t.Error("logger option not applied")
	}
	if client.tsig != tsig {
		t.Error("tsig option not applied")
	}
	if client.dnsClient.TsigSecret["file-key."] != "c2VjcmV0" {
		t.Error("tsig option not installed on the dns client")
	}
}

func newTestClient(t *testing.T, srv *dnstest.Server, zone string) *Client {
	t.Helper()
	c, err := NewClient(&Config{Server: srv.Addr, Zone: zone, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	return c
}

func TestClientPing(t *testing.T) {
	srv := dnstest.Start(t, "example.com")
	client := newTestClient(t, srv, "example.com.")

	if err := client.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error: %v", err)
	}

	other := newTestClient(t, srv, "example.org.")
	if err := other.Ping(context.Background()); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Ping() for unknown zone error = %v, want ErrConnectionFailed", err)
	}
}

func TestClientSendAndQuery(t *testing.T) {
	ctx := context.Background()
	srv := dnstest.Start(t, "example.com")
	client := newTestClient(t, srv, "example.com.")

	u := client.NewUpdate()
	a1, _ := AddressRecord("web.example.com", "10.0.0.5", 300)
	a2, _ := AddressRecord("web.example.com", "10.0.0.6", 300)
	if err := u.Insert(a1, a2); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if err := client.Send(ctx, u); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	recs, err := client.Query(ctx, "web.example.com", dns.TypeA)
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	var got []string
	for _, r := range recs {
		got = append(got, r.RData)
	}
	if !reflect.DeepEqual(got, []string{"10.0.0.5", "10.0.0.6"}) {
		t.Errorf("Query() = %v", got)
	}
	if client.LastUpdate().IsZero() {
		t.Error("LastUpdate() not set after successful send")
	}

	// Replace the RRset in one message.
	u = client.NewUpdate()
	a3, _ := AddressRecord("web.example.com", "10.0.0.7", 300)
	if err := u.RemoveRRset("web.example.com", dns.TypeA); err != nil {
		t.Fatal(err)
	}
	if err := u.Insert(a3); err != nil {
		t.Fatal(err)
	}
	if err := client.Send(ctx, u); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if got := srv.Get("web.example.com", dns.TypeA); !reflect.DeepEqual(got, []string{"10.0.0.7"}) {
		t.Errorf("after replace = %v", got)
	}

	// Remove a single record.
	u = client.NewUpdate()
	if err := u.Remove(a3); err != nil {
		t.Fatal(err)
	}
	if err := client.Send(ctx, u); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if got := srv.Get("web.example.com", dns.TypeA); len(got) != 0 {
		t.Errorf("after remove = %v", got)
	}

	recs, err = client.Query(ctx, "missing.example.com", dns.TypeA)
	if err != nil || len(recs) != 0 {
		t.Errorf("Query() for missing name = %v, %v", recs, err)
	}
}

func TestClientSendEmptyIsNoop(t *testing.T) {
	srv := dnstest.Start(t, "example.com")
	client := newTestClient(t, srv, "example.com.")

	if err := client.Send(context.Background(), client.NewUpdate()); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if srv.Updates() != 0 {
		t.Errorf("empty update reached the server")
	}
}

func TestClientSendRefused(t *testing.T) {
	srv := dnstest.Start(t, "example.com")
	srv.Refuse(true)
	client := newTestClient(t, srv, "example.com.")

	u := client.NewUpdate()
	rec, _ := AddressRecord("web.example.com", "10.0.0.5", 300)
	_ = u.Insert(rec)

	if err := client.Send(context.Background(), u); !errors.Is(err, ErrUpdateFailed) {
		t.Errorf("Send() error = %v, want ErrUpdateFailed", err)
	}
}

func TestClientSendHonoursContext(t *testing.T) {
	srv := dnstest.Start(t, "example.com")
	client := newTestClient(t, srv, "example.com.")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	u := client.NewUpdate()
	rec, _ := AddressRecord("web.example.com", "10.0.0.5", 300)
	_ = u.Insert(rec)

	if err := client.Send(ctx, u); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestUpdateRejectsOutOfZone(t *testing.T) {
	u := newUpdate("example.com.")
	rec, _ := AddressRecord("web.example.org", "10.0.0.5", 300)

	if err := u.Insert(rec); !errors.Is(err, ErrZoneMismatch) {
		t.Errorf("Insert() error = %v, want ErrZoneMismatch", err)
	}
	if err := u.RemoveRRset("web.example.org", dns.TypeA); !errors.Is(err, ErrZoneMismatch) {
		t.Errorf("RemoveRRset() error = %v, want ErrZoneMismatch", err)
	}
	if !u.Empty() {
		t.Error("rejected records must not be added")
	}
}

func TestCheckResponse(t *testing.T) {
	tests := []struct {
		rcode int
		want  error
	}{
		{dns.RcodeSuccess, nil},
		{dns.RcodeYXRrset, ErrRecordExists},
		{dns.RcodeNXRrset, ErrRecordNotFound},
		{dns.RcodeNotZone, ErrZoneMismatch},
		{dns.RcodeRefused, ErrUpdateFailed},
		{dns.RcodeServerFailure, ErrUpdateFailed},
	}

	for _, tt := range tests {
		t.Run(dns.RcodeToString[tt.rcode], func(t *testing.T) {
			err := checkResponse(&dns.Msg{MsgHdr: dns.MsgHdr{Rcode: tt.rcode}})
			if tt.want == nil {
				if err != nil {
					t.Errorf("checkResponse() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("checkResponse() = %v, want %v", err, tt.want)
			}
		})
	}

	if err := checkResponse(nil); !errors.Is(err, ErrUpdateFailed) {
		t.Errorf("checkResponse(nil) = %v", err)
	}
}
