package dnsupdate

import (
	"testing"
	"time"

	"github.com/miekg/dns"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "minimal",
			config: Config{Server: "ns1.example.com", Zone: "example.com."},
		},
		{
			name: "with TSIG",
			config: Config{
				Server:        "ns1.example.com",
				Zone:          "example.com.",
				TSIGKeyName:   "dnsgate.",
				TSIGSecret:    "c2VjcmV0",
				TSIGAlgorithm: "hmac-sha512",
			},
		},
		{
			name:    "missing server",
			config:  Config{Zone: "example.com."},
			wantErr: true,
		},
		{
			name:    "zone without dot",
			config:  Config{Server: "ns1", Zone: "example.com"},
			wantErr: true,
		},
		{
			name:    "secret without key name",
			config:  Config{Server: "ns1", Zone: "example.com.", TSIGSecret: "c2VjcmV0"},
			wantErr: true,
		},
		{
			name: "unknown algorithm",
			config: Config{
				Server:        "ns1",
				Zone:          "example.com.",
				TSIGKeyName:   "k.",
				TSIGSecret:    "c2VjcmV0",
				TSIGAlgorithm: "hmac-sha1024",
			},
			wantErr: true,
		},
		{
			name:    "negative timeout",
			config:  Config{Server: "ns1", Zone: "example.com.", Timeout: -time.Second},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigGetServer(t *testing.T) {
	tests := []struct {
		server string
		want   string
	}{
		{"ns1.example.com", "ns1.example.com:53"},
		{"ns1.example.com:5353", "ns1.example.com:5353"},
		{"10.0.0.53", "10.0.0.53:53"},
		{"2001:db8::53", "[2001:db8::53]:53"},
		{"[2001:db8::53]:5353", "[2001:db8::53]:5353"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.server, func(t *testing.T) {
			c := Config{Server: tt.server}
			if got := c.GetServer(); got != tt.want {
				t.Errorf("GetServer() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigGetTimeout(t *testing.T) {
	if got := (&Config{}).GetTimeout(); got != DefaultTimeout {
		t.Errorf("GetTimeout() = %v, want default %v", got, DefaultTimeout)
	}
	if got := (&Config{Timeout: 3 * time.Second}).GetTimeout(); got != 3*time.Second {
		t.Errorf("GetTimeout() = %v, want 3s", got)
	}
}

func TestConfigGetTSIGAlgorithm(t *testing.T) {
	tests := map[string]string{
		"":            dns.HmacSHA256,
		"hmac-sha256": dns.HmacSHA256,
		"SHA512":      dns.HmacSHA512,
		"hmac-md5":    dns.HmacMD5,
	}
	for in, want := range tests {
		c := Config{TSIGAlgorithm: in}
		if got := c.GetTSIGAlgorithm(); got != want {
			t.Errorf("GetTSIGAlgorithm(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConfigForZone(t *testing.T) {
	c := &Config{Server: "ns1", Zone: "example.com.", TSIGKeyName: "k.", TSIGSecret: "c2VjcmV0"}
	rev := c.ForZone("0.10.in-addr.arpa")

	if rev.Zone != "0.10.in-addr.arpa." {
		t.Errorf("Zone = %q", rev.Zone)
	}
	if rev.Server != c.Server || rev.TSIGKeyName != c.TSIGKeyName {
		t.Error("ForZone should keep server and credentials")
	}
	if c.Zone != "example.com." {
		t.Error("ForZone must not modify the original config")
	}
}
