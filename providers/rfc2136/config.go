package rfc2136

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"

	"gitlab.bluewillows.net/root/dnsgate/pkg/dnsupdate"
)

// Default configuration values.
const (
	// DefaultTTL is the default TTL for DNS records.
	DefaultTTL = 300

	// DefaultTimeout is the default timeout for DNS operations.
	DefaultTimeout = 10 * time.Second
)

// Setting keys understood by LoadConfigFromMap.
const (
	KeyServer        = "SERVER"
	KeyForwardZone   = "FORWARD_ZONE"
	KeyReverseZone   = "REVERSE_ZONE"
	KeyTSIGKeyName   = "TSIG_KEY_NAME"
	KeyTSIGSecret    = "TSIG_SECRET"
	KeyTSIGAlgorithm = "TSIG_ALGORITHM"
	KeyTSIGKeyFile   = "TSIG_KEY_FILE"
	KeyTimeout       = "TIMEOUT"
	KeyUseTCP        = "USE_TCP"
	KeyTTL           = "TTL"
)

// Config holds RFC 2136 backend configuration.
type Config struct {
	// Server is the DNS server address, host or host:port (required).
	Server string

	// ForwardZone holds the name records (required). Stored fully qualified.
	ForwardZone string

	// ReverseZone holds PTR records. Empty disables PTR maintenance.
	ReverseZone string

	TSIGKeyName   string
	TSIGSecret    string
	TSIGAlgorithm string

	// TSIGKeyFile is a BIND key file. It takes precedence over the
	// individual TSIG settings.
	TSIGKeyFile string

	Timeout time.Duration
	UseTCP  bool

	// TTL is the TTL for records this backend writes (default: 300).
	TTL int
}

// Validate checks that all required configuration is present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server == "" {
		errs = append(errs, "SERVER is required")
	}
	if c.ForwardZone == "" {
		errs = append(errs, "FORWARD_ZONE is required")
	}
	if c.TSIGKeyFile == "" && (c.TSIGKeyName != "" || c.TSIGSecret != "") {
		if c.TSIGKeyName == "" {
			errs = append(errs, "TSIG_KEY_NAME is required when using TSIG authentication")
		}
		if c.TSIGSecret == "" {
			errs = append(errs, "TSIG_SECRET is required when using TSIG authentication")
		}
	}
	if c.TTL < 0 {
		errs = append(errs, "TTL must be non-negative")
	}
	if c.Timeout < 0 {
		errs = append(errs, "TIMEOUT must be non-negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("rfc2136 config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// forwardConfig returns the dnsupdate config for the forward zone.
func (c *Config) forwardConfig() *dnsupdate.Config {
	cfg := &dnsupdate.Config{
		Server:  c.Server,
		Zone:    c.ForwardZone,
		Timeout: c.Timeout,
		UseTCP:  c.UseTCP,
	}
	if c.TSIGKeyFile == "" {
		cfg.TSIGKeyName = c.TSIGKeyName
		cfg.TSIGSecret = c.TSIGSecret
		cfg.TSIGAlgorithm = c.TSIGAlgorithm
	}
	return cfg
}

// LoadConfigFromMap creates a Config from key/value settings.
//
// Required keys: SERVER, FORWARD_ZONE
// Optional keys: REVERSE_ZONE, TSIG_KEY_NAME, TSIG_SECRET, TSIG_ALGORITHM,
// TSIG_KEY_FILE, TIMEOUT (duration or seconds), USE_TCP, TTL
func LoadConfigFromMap(settings map[string]string) (*Config, error) {
	config := &Config{
		Server:        strings.TrimSpace(settings[KeyServer]),
		ForwardZone:   fqdnOrEmpty(settings[KeyForwardZone]),
		ReverseZone:   fqdnOrEmpty(settings[KeyReverseZone]),
		TSIGKeyName:   settings[KeyTSIGKeyName],
		TSIGSecret:    settings[KeyTSIGSecret],
		TSIGAlgorithm: settings[KeyTSIGAlgorithm],
		TSIGKeyFile:   settings[KeyTSIGKeyFile],
		Timeout:       DefaultTimeout,
		TTL:           DefaultTTL,
	}

	if s := settings[KeyTimeout]; s != "" {
		d, err := parseTimeout(s)
		if err != nil {
			return nil, fmt.Errorf("invalid TIMEOUT value %q: %w", s, err)
		}
		config.Timeout = d
	}

	if s := settings[KeyUseTCP]; s != "" {
		config.UseTCP = strings.EqualFold(s, "true") || s == "1"
	}

	if s := settings[KeyTTL]; s != "" {
		ttl, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid TTL value %q: %w", s, err)
		}
		config.TTL = ttl
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// parseTimeout accepts a Go duration ("10s") or a bare number of seconds.
func parseTimeout(s string) (time.Duration, error) {
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func fqdnOrEmpty(zone string) string {
	zone = strings.ToLower(strings.TrimSpace(zone))
	if zone == "" {
		return ""
	}
	return dns.Fqdn(zone)
}
