package dnsupdate

import (
	"testing"

	"github.com/miekg/dns"
)

func TestNewTSIG(t *testing.T) {
	tests := []struct {
		name      string
		keyName   string
		secret    string
		algorithm string
		wantErr   bool
		wantName  string
		wantAlg   string
	}{
		{
			name:      "valid TSIG with dot",
			keyName:   "dnsgate.",
			secret:    "c2VjcmV0", // base64 of "secret"
			algorithm: "hmac-sha256",
			wantName:  "dnsgate.",
			wantAlg:   dns.HmacSHA256,
		},
		{
			name:     "name gets qualified, default algorithm",
			keyName:  "dnsgate",
			secret:   "c2VjcmV0",
			wantName: "dnsgate.",
			wantAlg:  dns.HmacSHA256,
		},
		{
			name:      "invalid base64 secret",
			keyName:   "dnsgate.",
			secret:    "not-valid-base64!!!",
			algorithm: "hmac-sha256",
			wantErr:   true,
		},
		{
			name:      "unsupported algorithm",
			keyName:   "dnsgate.",
			secret:    "c2VjcmV0",
			algorithm: "invalid-algo",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tsig, err := NewTSIG(tt.keyName, tt.secret, tt.algorithm)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tsig.Name != tt.wantName {
				t.Errorf("Name = %v, want %v", tsig.Name, tt.wantName)
			}
			if tsig.Algorithm != tt.wantAlg {
				t.Errorf("Algorithm = %v, want %v", tsig.Algorithm, tt.wantAlg)
			}
		})
	}
}

func TestTSIGFromConfig(t *testing.T) {
	tsig, err := TSIGFromConfig(&Config{Server: "ns1", Zone: "example.com."})
	if err != nil || tsig != nil {
		t.Errorf("TSIGFromConfig() without key = %v, %v; want nil, nil", tsig, err)
	}

	tsig, err = TSIGFromConfig(&Config{TSIGKeyName: "k", TSIGSecret: "c2VjcmV0"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tsig == nil || tsig.Name != "k." {
		t.Errorf("TSIGFromConfig() = %+v", tsig)
	}
}

func TestTSIGApply(t *testing.T) {
	tsig := &TSIG{Name: "dnsgate.", Secret: "c2VjcmV0", Algorithm: dns.HmacSHA256}

	client := new(dns.Client)
	tsig.ApplyToClient(client)
	if client.TsigSecret["dnsgate."] != "c2VjcmV0" {
		t.Error("ApplyToClient did not install the secret")
	}

	msg := new(dns.Msg)
	msg.SetUpdate("example.com.")
	tsig.ApplyToMessage(msg)
	if msg.IsTsig() == nil {
		t.Error("ApplyToMessage did not add a TSIG record")
	}

	var none *TSIG
	none.ApplyToClient(client)
	none.ApplyToMessage(new(dns.Msg))
}
