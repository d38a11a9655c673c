package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Load builds the configuration: defaults, then the file named by
// DNSGATE_CONFIG (if any), then DNSGATE_ environment variables. All
// problems are collected and returned together as a *ValidationError.
func Load() (*Config, error) {
	cfg := Defaults()
	var errs []string

	if path := GetConfigFilePath(); path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			errs = append(errs, "config file: "+err.Error())
		} else {
			slog.Info("loaded configuration from file", slog.String("path", path))
			errs = append(errs, fileCfg.apply(cfg)...)
		}
	}

	errs = append(errs, applyEnv(cfg)...)
	errs = append(errs, validateConfig(cfg)...)

	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return cfg, nil
}

// applyEnv overrides cfg with DNSGATE_ environment variables. Environment
// variables always take precedence over file config.
func applyEnv(cfg *Config) []string {
	var errs []string

	str := func(key string, dst *string, lower bool) {
		if v := getEnv(key); v != "" {
			if lower {
				v = strings.ToLower(v)
			}
			*dst = v
		}
	}
	secret := func(key string, dst *string) {
		v, err := getSecret(key)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s%s_FILE: %v", EnvPrefix, key, err))
			return
		}
		if v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := getEnv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: invalid integer %q", EnvPrefix, key, v))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v := getEnv(key); v != "" {
			b, ok := parseBool(v)
			if !ok {
				errs = append(errs, fmt.Sprintf("%s%s: invalid boolean %q", EnvPrefix, key, v))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := getEnv(key); v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: invalid duration %q (use format like 30s, 5m)", EnvPrefix, key, v))
				return
			}
			*dst = d
		}
	}
	list := func(key string, dst *[]string) {
		if v := getEnv(key); v != "" {
			*dst = splitList(v)
		}
	}

	str("LOG_LEVEL", &cfg.Logging.Level, true)
	str("LOG_FORMAT", &cfg.Logging.Format, true)
	str("LOG_FILE", &cfg.Logging.File, false)

	str("LISTEN", &cfg.Server.Listen, false)
	str("TLS_CERT", &cfg.Server.TLSCert, false)
	str("TLS_KEY", &cfg.Server.TLSKey, false)
	integer("HEALTH_PORT", &cfg.Server.HealthPort)
	secret("CSRF_KEY", &cfg.Server.CSRFKey)

	str("DNS_SERVER", &cfg.DNS.Server, false)
	str("FORWARD_ZONE", &cfg.DNS.ForwardZone, true)
	str("REVERSE_ZONE", &cfg.DNS.ReverseZone, true)
	str("TSIG_KEY_NAME", &cfg.DNS.TSIGKeyName, false)
	secret("TSIG_SECRET", &cfg.DNS.TSIGSecret)
	str("TSIG_ALGORITHM", &cfg.DNS.TSIGAlgorithm, true)
	str("TSIG_KEY_FILE", &cfg.DNS.TSIGKeyFile, false)
	duration("DNS_TIMEOUT", &cfg.DNS.Timeout)
	boolean("DNS_USE_TCP", &cfg.DNS.UseTCP)
	integer("TTL", &cfg.DNS.TTL)

	str("BACKEND", &cfg.Backend.Type, true)
	duration("BACKEND_TIMEOUT", &cfg.Backend.Timeout)

	list("ALLOWED_DOMAINS", &cfg.Policy.AllowedDomains)
	list("ALLOWED_SUBNETS", &cfg.Policy.AllowedSubnets)

	str("USERS_FILE", &cfg.Auth.UsersFile, false)

	str("HISTORY_STORE", &cfg.History.Store, true)
	integer("HISTORY_LIMIT", &cfg.History.Limit)
	str("REDIS_ADDR", &cfg.History.RedisAddr, false)
	secret("REDIS_PASSWORD", &cfg.History.RedisPassword)
	integer("REDIS_DB", &cfg.History.RedisDB)

	duration("SESSION_IDLE_TIMEOUT", &cfg.Sessions.IdleTimeout)

	return errs
}
