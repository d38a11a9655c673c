// Package config handles loading and validation of dnsgate configuration
// from environment variables and an optional YAML or TOML file.
package config

import (
	"strconv"
	"time"

	"gitlab.bluewillows.net/root/dnsgate/internal/policy"
	"gitlab.bluewillows.net/root/dnsgate/providers/rfc2136"
)

// Configuration defaults.
const (
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultListen         = ":5353"
	DefaultHealthPort     = 8080
	DefaultDNSTimeout     = 10 * time.Second
	DefaultTTL            = 300
	DefaultBackend        = "rfc2136"
	DefaultBackendTimeout = 30 * time.Second
	DefaultHistoryStore   = "memory"
	DefaultHistoryLimit   = 100
)

// MinCSRFKeyLength is the shortest accepted server.csrf_key.
const MinCSRFKeyLength = 32

// Config holds the resolved application configuration. It is built once at
// startup and not modified afterwards.
type Config struct {
	Logging  LoggingConfig
	Server   ServerConfig
	DNS      DNSConfig
	Backend  BackendConfig
	Policy   PolicyConfig
	Auth     AuthConfig
	History  HistoryConfig
	Sessions SessionsConfig
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	File   string // optional file that receives a copy of the log
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	Listen     string
	TLSCert    string
	TLSKey     string
	HealthPort int
	// CSRFKey signs form UI tokens. Empty means a random key per process.
	CSRFKey string
}

// TLS reports whether a certificate is configured.
func (s ServerConfig) TLS() bool {
	return s.TLSCert != "" && s.TLSKey != ""
}

// DNSConfig holds the DNS server connection used by the rfc2136 backend.
type DNSConfig struct {
	Server        string
	ForwardZone   string
	ReverseZone   string
	TSIGKeyName   string
	TSIGSecret    string
	TSIGAlgorithm string
	TSIGKeyFile   string
	Timeout       time.Duration
	UseTCP        bool
	TTL           int
}

// BackendConfig selects the record backend.
type BackendConfig struct {
	Type    string
	Timeout time.Duration
}

// PolicyConfig holds the allow-lists. Empty lists are unrestricted.
type PolicyConfig struct {
	AllowedDomains []string
	AllowedSubnets []string
}

// AuthConfig holds credential settings.
type AuthConfig struct {
	UsersFile string
}

// HistoryConfig selects where per-user history is kept.
type HistoryConfig struct {
	Store         string // memory, redis
	Limit         int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// SessionsConfig controls per-user session caching.
type SessionsConfig struct {
	// IdleTimeout closes sessions unused for this long. Zero never evicts.
	IdleTimeout time.Duration
}

// Defaults returns a Config with every default applied.
func Defaults() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Server: ServerConfig{
			Listen:     DefaultListen,
			HealthPort: DefaultHealthPort,
		},
		DNS: DNSConfig{
			Timeout: DefaultDNSTimeout,
			TTL:     DefaultTTL,
		},
		Backend: BackendConfig{
			Type:    DefaultBackend,
			Timeout: DefaultBackendTimeout,
		},
		History: HistoryConfig{
			Store: DefaultHistoryStore,
			Limit: DefaultHistoryLimit,
		},
	}
}

// PolicySettings returns the allow-list configuration for policy.New.
func (c *Config) PolicySettings() policy.Config {
	return policy.Config{
		ForwardZone: c.DNS.ForwardZone,
		Domains:     c.Policy.AllowedDomains,
		Subnets:     c.Policy.AllowedSubnets,
	}
}

// BackendSettings returns the settings map handed to the backend builder.
func (c *Config) BackendSettings() map[string]string {
	settings := map[string]string{
		rfc2136.KeyServer:      c.DNS.Server,
		rfc2136.KeyForwardZone: c.DNS.ForwardZone,
		rfc2136.KeyTimeout:     c.DNS.Timeout.String(),
		rfc2136.KeyUseTCP:      strconv.FormatBool(c.DNS.UseTCP),
		rfc2136.KeyTTL:         strconv.Itoa(c.DNS.TTL),
	}
	optional := map[string]string{
		rfc2136.KeyReverseZone:   c.DNS.ReverseZone,
		rfc2136.KeyTSIGKeyName:   c.DNS.TSIGKeyName,
		rfc2136.KeyTSIGSecret:    c.DNS.TSIGSecret,
		rfc2136.KeyTSIGAlgorithm: c.DNS.TSIGAlgorithm,
		rfc2136.KeyTSIGKeyFile:   c.DNS.TSIGKeyFile,
	}
	for k, v := range optional {
		if v != "" {
			settings[k] = v
		}
	}
	return settings
}
