package config

import (
	"fmt"
	"net/netip"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration error: %s", e.Errors[0])
	}
	return fmt.Sprintf("configuration errors:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// validateConfig performs cross-field validation on the complete
// configuration. Returns a list of validation errors.
func validateConfig(cfg *Config) []string {
	var errs []string

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level: invalid value %q (must be debug, info, warn, or error)", cfg.Logging.Level))
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("logging.format: invalid value %q (must be json or text)", cfg.Logging.Format))
	}

	if cfg.Server.Listen == "" {
		errs = append(errs, "server.listen is required")
	}
	if (cfg.Server.TLSCert == "") != (cfg.Server.TLSKey == "") {
		errs = append(errs, "server.tls_cert and server.tls_key must be set together")
	}
	if k := cfg.Server.CSRFKey; k != "" && len(k) < MinCSRFKeyLength {
		errs = append(errs, fmt.Sprintf("server.csrf_key: must be at least %d bytes, got %d", MinCSRFKeyLength, len(k)))
	}
	if cfg.Server.HealthPort < 1 || cfg.Server.HealthPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.health_port: must be between 1 and 65535, got %d", cfg.Server.HealthPort))
	}

	if cfg.DNS.ForwardZone == "" {
		errs = append(errs, "dns.forward_zone is required")
	}
	if cfg.Backend.Type == "rfc2136" && cfg.DNS.Server == "" {
		errs = append(errs, "dns.server is required for the rfc2136 backend")
	}
	if cfg.DNS.TTL < 0 {
		errs = append(errs, "dns.ttl must be non-negative")
	}
	if cfg.DNS.Timeout <= 0 {
		errs = append(errs, "dns.timeout must be positive")
	}
	if cfg.Backend.Timeout < 0 {
		errs = append(errs, "backend.timeout must be non-negative")
	}

	for _, s := range cfg.Policy.AllowedSubnets {
		if _, err := netip.ParsePrefix(s); err != nil {
			errs = append(errs, fmt.Sprintf("policy.allowed_subnets: %q is not a CIDR prefix", s))
		}
	}

	if cfg.Auth.UsersFile == "" {
		errs = append(errs, "auth.users_file is required")
	}

	switch cfg.History.Store {
	case "memory":
	case "redis":
		if cfg.History.RedisAddr == "" {
			errs = append(errs, "history.redis_addr is required for the redis history store")
		}
	default:
		errs = append(errs, fmt.Sprintf("history.store: invalid value %q (must be memory or redis)", cfg.History.Store))
	}
	if cfg.History.Limit < 1 {
		errs = append(errs, "history.limit must be at least 1")
	}

	if cfg.Sessions.IdleTimeout < 0 {
		errs = append(errs, "sessions.idle_timeout must be non-negative")
	}

	return errs
}
