package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FileConfig represents the configuration file structure. Durations are
// strings in Go duration format or bare seconds.
type FileConfig struct {
	Logging  *FileLoggingConfig  `yaml:"logging,omitempty" toml:"logging"`
	Server   *FileServerConfig   `yaml:"server,omitempty" toml:"server"`
	DNS      *FileDNSConfig      `yaml:"dns,omitempty" toml:"dns"`
	Backend  *FileBackendConfig  `yaml:"backend,omitempty" toml:"backend"`
	Policy   *FilePolicyConfig   `yaml:"policy,omitempty" toml:"policy"`
	Auth     *FileAuthConfig     `yaml:"auth,omitempty" toml:"auth"`
	History  *FileHistoryConfig  `yaml:"history,omitempty" toml:"history"`
	Sessions *FileSessionsConfig `yaml:"sessions,omitempty" toml:"sessions"`
}

// FileLoggingConfig holds logging settings.
type FileLoggingConfig struct {
	Level  string `yaml:"level,omitempty" toml:"level"`
	Format string `yaml:"format,omitempty" toml:"format"`
	File   string `yaml:"file,omitempty" toml:"file"`
}

// FileServerConfig holds listener settings.
type FileServerConfig struct {
	Listen     string `yaml:"listen,omitempty" toml:"listen"`
	TLSCert    string `yaml:"tls_cert,omitempty" toml:"tls_cert"`
	TLSKey     string `yaml:"tls_key,omitempty" toml:"tls_key"`
	HealthPort int    `yaml:"health_port,omitempty" toml:"health_port"`
	CSRFKey    string `yaml:"csrf_key,omitempty" toml:"csrf_key"`
}

// FileDNSConfig holds DNS server settings.
type FileDNSConfig struct {
	Server        string `yaml:"server,omitempty" toml:"server"`
	ForwardZone   string `yaml:"forward_zone,omitempty" toml:"forward_zone"`
	ReverseZone   string `yaml:"reverse_zone,omitempty" toml:"reverse_zone"`
	TSIGKeyName   string `yaml:"tsig_key_name,omitempty" toml:"tsig_key_name"`
	TSIGSecret    string `yaml:"tsig_secret,omitempty" toml:"tsig_secret"`
	TSIGAlgorithm string `yaml:"tsig_algorithm,omitempty" toml:"tsig_algorithm"`
	TSIGKeyFile   string `yaml:"tsig_key_file,omitempty" toml:"tsig_key_file"`
	Timeout       string `yaml:"timeout,omitempty" toml:"timeout"`
	UseTCP        *bool  `yaml:"use_tcp,omitempty" toml:"use_tcp"` // pointer to distinguish unset from false
	TTL           *int   `yaml:"ttl,omitempty" toml:"ttl"`
}

// FileBackendConfig selects the record backend.
type FileBackendConfig struct {
	Type    string `yaml:"type,omitempty" toml:"type"`
	Timeout string `yaml:"timeout,omitempty" toml:"timeout"`
}

// FilePolicyConfig holds the allow-lists.
type FilePolicyConfig struct {
	AllowedDomains []string `yaml:"allowed_domains,omitempty" toml:"allowed_domains"`
	AllowedSubnets []string `yaml:"allowed_subnets,omitempty" toml:"allowed_subnets"`
}

// FileAuthConfig holds credential settings.
type FileAuthConfig struct {
	UsersFile string `yaml:"users_file,omitempty" toml:"users_file"`
}

// FileHistoryConfig holds history store settings.
type FileHistoryConfig struct {
	Store         string `yaml:"store,omitempty" toml:"store"`
	Limit         int    `yaml:"limit,omitempty" toml:"limit"`
	RedisAddr     string `yaml:"redis_addr,omitempty" toml:"redis_addr"`
	RedisPassword string `yaml:"redis_password,omitempty" toml:"redis_password"`
	RedisDB       int    `yaml:"redis_db,omitempty" toml:"redis_db"`
}

// FileSessionsConfig holds session cache settings.
type FileSessionsConfig struct {
	IdleTimeout string `yaml:"idle_timeout,omitempty" toml:"idle_timeout"`
}

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// InterpolateEnvVars replaces ${VAR} patterns with environment variable values.
// Supports ${VAR:-default} syntax for default values.
func InterpolateEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		if value := os.Getenv(groups[1]); value != "" {
			return value
		}
		if len(groups) >= 3 {
			return groups[2]
		}
		return ""
	})
}

func interpolateAll(values ...*string) {
	for _, v := range values {
		*v = InterpolateEnvVars(*v)
	}
}

// interpolateEnvVars interpolates environment variables in every string
// field of the config structure.
func (c *FileConfig) interpolateEnvVars() {
	if l := c.Logging; l != nil {
		interpolateAll(&l.Level, &l.Format, &l.File)
	}
	if s := c.Server; s != nil {
		interpolateAll(&s.Listen, &s.TLSCert, &s.TLSKey, &s.CSRFKey)
	}
	if d := c.DNS; d != nil {
		interpolateAll(&d.Server, &d.ForwardZone, &d.ReverseZone, &d.TSIGKeyName,
			&d.TSIGSecret, &d.TSIGAlgorithm, &d.TSIGKeyFile, &d.Timeout)
	}
	if b := c.Backend; b != nil {
		interpolateAll(&b.Type, &b.Timeout)
	}
	if p := c.Policy; p != nil {
		for i := range p.AllowedDomains {
			interpolateAll(&p.AllowedDomains[i])
		}
		for i := range p.AllowedSubnets {
			interpolateAll(&p.AllowedSubnets[i])
		}
	}
	if a := c.Auth; a != nil {
		interpolateAll(&a.UsersFile)
	}
	if h := c.History; h != nil {
		interpolateAll(&h.Store, &h.RedisAddr, &h.RedisPassword)
	}
	if s := c.Sessions; s != nil {
		interpolateAll(&s.IdleTimeout)
	}
}

// LoadFile reads and parses a configuration file. Files ending in .toml
// are parsed as TOML, everything else as YAML. Environment variables in
// ${VAR} format are interpolated.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg FileConfig
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing TOML config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	}

	cfg.interpolateEnvVars()
	return &cfg, nil
}

// apply copies the values set in the file onto cfg.
func (c *FileConfig) apply(cfg *Config) []string {
	var errs []string

	duration := func(field, s string, dst *time.Duration) {
		if s == "" {
			return
		}
		d, err := parseDuration(s)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid duration %q", field, s))
			return
		}
		*dst = d
	}

	if l := c.Logging; l != nil {
		setString(&cfg.Logging.Level, strings.ToLower(l.Level))
		setString(&cfg.Logging.Format, strings.ToLower(l.Format))
		setString(&cfg.Logging.File, l.File)
	}

	if s := c.Server; s != nil {
		setString(&cfg.Server.Listen, s.Listen)
		setString(&cfg.Server.TLSCert, s.TLSCert)
		setString(&cfg.Server.TLSKey, s.TLSKey)
		setString(&cfg.Server.CSRFKey, s.CSRFKey)
		if s.HealthPort != 0 {
			cfg.Server.HealthPort = s.HealthPort
		}
	}

	if d := c.DNS; d != nil {
		setString(&cfg.DNS.Server, d.Server)
		setString(&cfg.DNS.ForwardZone, d.ForwardZone)
		setString(&cfg.DNS.ReverseZone, d.ReverseZone)
		setString(&cfg.DNS.TSIGKeyName, d.TSIGKeyName)
		setString(&cfg.DNS.TSIGSecret, d.TSIGSecret)
		setString(&cfg.DNS.TSIGAlgorithm, d.TSIGAlgorithm)
		setString(&cfg.DNS.TSIGKeyFile, d.TSIGKeyFile)
		duration("dns.timeout", d.Timeout, &cfg.DNS.Timeout)
		if d.UseTCP != nil {
			cfg.DNS.UseTCP = *d.UseTCP
		}
		if d.TTL != nil {
			cfg.DNS.TTL = *d.TTL
		}
	}

	if b := c.Backend; b != nil {
		setString(&cfg.Backend.Type, strings.ToLower(b.Type))
		duration("backend.timeout", b.Timeout, &cfg.Backend.Timeout)
	}

	if p := c.Policy; p != nil {
		if len(p.AllowedDomains) > 0 {
			cfg.Policy.AllowedDomains = p.AllowedDomains
		}
		if len(p.AllowedSubnets) > 0 {
			cfg.Policy.AllowedSubnets = p.AllowedSubnets
		}
	}

	if a := c.Auth; a != nil {
		setString(&cfg.Auth.UsersFile, a.UsersFile)
	}

	if h := c.History; h != nil {
		setString(&cfg.History.Store, strings.ToLower(h.Store))
		setString(&cfg.History.RedisAddr, h.RedisAddr)
		setString(&cfg.History.RedisPassword, h.RedisPassword)
		if h.Limit != 0 {
			cfg.History.Limit = h.Limit
		}
		if h.RedisDB != 0 {
			cfg.History.RedisDB = h.RedisDB
		}
	}

	if s := c.Sessions; s != nil {
		duration("sessions.idle_timeout", s.IdleTimeout, &cfg.Sessions.IdleTimeout)
	}

	return errs
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// GetConfigFilePath returns the config file path from DNSGATE_CONFIG.
// Returns empty string if no config file is specified.
func GetConfigFilePath() string {
	return getEnv("CONFIG")
}
