package dnsupdate

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// tsigFudge is the permitted clock skew in seconds for signed messages.
const tsigFudge = 300

// TSIG represents a Transaction Signature key for RFC 2845 authentication.
type TSIG struct {
	// Name is the key name, always fully qualified.
	Name string

	// Secret is the base64-encoded shared secret.
	Secret string

	// Algorithm is the TSIG algorithm (e.g., dns.HmacSHA256).
	Algorithm string
}

// NewTSIG creates a TSIG key. The secret must be base64-encoded.
func NewTSIG(name, secret, algorithm string) (*TSIG, error) {
	if _, err := base64.StdEncoding.DecodeString(secret); err != nil {
		return nil, fmt.Errorf("tsig secret is not valid base64: %w", err)
	}

	alg := normalizeAlgorithm(algorithm)
	if !isValidAlgorithm(alg) {
		return nil, fmt.Errorf("unsupported tsig algorithm: %s", algorithm)
	}

	return &TSIG{
		Name:      dns.Fqdn(name),
		Secret:    secret,
		Algorithm: alg,
	}, nil
}

// TSIGFromConfig creates a TSIG key from a Config.
// Returns nil if TSIG is not configured.
func TSIGFromConfig(config *Config) (*TSIG, error) {
	if !config.HasTSIG() {
		return nil, nil //nolint:nilnil // nil TSIG is valid (no auth)
	}
	return NewTSIG(config.TSIGKeyName, config.TSIGSecret, config.TSIGAlgorithm)
}

// ApplyToClient installs the key on a dns.Client so responses can be verified.
func (t *TSIG) ApplyToClient(client *dns.Client) {
	if t == nil {
		return
	}
	client.TsigSecret = map[string]string{t.Name: t.Secret}
}

// ApplyToMessage marks msg for signing. Call it after the message is fully
// constructed.
func (t *TSIG) ApplyToMessage(msg *dns.Msg) {
	if t == nil {
		return
	}
	msg.SetTsig(t.Name, t.Algorithm, tsigFudge, 0)
}

// normalizeAlgorithm maps user-facing algorithm names to miekg/dns format.
func normalizeAlgorithm(alg string) string {
	switch strings.ToLower(strings.TrimSpace(alg)) {
	case "":
		return DefaultTSIGAlgorithm
	case "hmac-md5", "md5", "hmac-md5.sig-alg.reg.int", dns.HmacMD5:
		return dns.HmacMD5
	case "hmac-sha256", "sha256", dns.HmacSHA256:
		return dns.HmacSHA256
	case "hmac-sha512", "sha512", dns.HmacSHA512:
		return dns.HmacSHA512
	default:
		return alg
	}
}

func isValidAlgorithm(alg string) bool {
	switch alg {
	case dns.HmacMD5, dns.HmacSHA256, dns.HmacSHA512:
		return true
	default:
		return false
	}
}
