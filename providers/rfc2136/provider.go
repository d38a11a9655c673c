package rfc2136

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/miekg/dns"

	"gitlab.bluewillows.net/root/dnsgate/pkg/backend"
	"gitlab.bluewillows.net/root/dnsgate/pkg/dnsupdate"
)

// TypeName is the backend type name used in configuration.
const TypeName = "rfc2136"

// Zones holds the clients for the forward zone and, when configured, the
// reverse zone. It is shared by every user session.
type Zones struct {
	forward *dnsupdate.Client
	reverse *dnsupdate.Client
	ttl     uint32
	logger  *slog.Logger
}

// Option is a functional option for configuring Zones.
type Option func(*Zones)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(z *Zones) {
		if logger != nil {
			z.logger = logger
		}
	}
}

// New creates the zone clients described by config.
func New(config *Config, opts ...Option) (*Zones, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	z := &Zones{
		ttl:    uint32(config.TTL),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(z)
	}

	clientOpts := []dnsupdate.ClientOption{dnsupdate.WithLogger(z.logger)}
	if config.TSIGKeyFile != "" {
		key, err := dnsupdate.ParseKeyFile(config.TSIGKeyFile)
		if err != nil {
			return nil, err
		}
		tsig, err := key.TSIG()
		if err != nil {
			return nil, fmt.Errorf("tsig key file %s: %w", config.TSIGKeyFile, err)
		}
		clientOpts = append(clientOpts, dnsupdate.WithTSIG(tsig))
	}

	fwdCfg := config.forwardConfig()
	forward, err := dnsupdate.NewClient(fwdCfg, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating forward zone client: %w", err)
	}
	z.forward = forward

	if config.ReverseZone != "" {
		reverse, err := dnsupdate.NewClient(fwdCfg.ForZone(config.ReverseZone), clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating reverse zone client: %w", err)
		}
		z.reverse = reverse
	}

	z.logger.Info("RFC 2136 backend created",
		slog.String("server", forward.Server()),
		slog.String("forward_zone", config.ForwardZone),
		slog.String("reverse_zone", config.ReverseZone),
		slog.Bool("tcp", config.UseTCP),
	)

	return z, nil
}

// Builder creates an RFC 2136 backend from registry settings.
func Builder(cfg backend.BuildConfig) (*backend.Provider, error) {
	config, err := LoadConfigFromMap(cfg.Settings)
	if err != nil {
		return nil, err
	}

	z, err := New(config, WithLogger(cfg.Logger))
	if err != nil {
		return nil, err
	}

	return &backend.Provider{
		Factory:  z.Factory(cfg.History),
		Resolver: z,
		Ping:     z.Ping,
	}, nil
}

// Factory returns a backend.Factory opening sessions that record history
// in store.
func (z *Zones) Factory(store backend.HistoryStore) backend.Factory {
	return func(_ context.Context, user string) (backend.Backend, error) {
		if store == nil {
			return nil, fmt.Errorf("history store is required")
		}
		return &Session{
			zones:   z,
			user:    user,
			history: store,
			logger:  z.logger.With(slog.String("user", user)),
		}, nil
	}
}

// Ping checks that the server answers for the forward zone and, if set,
// the reverse zone.
func (z *Zones) Ping(ctx context.Context) error {
	if err := z.forward.Ping(ctx); err != nil {
		return err
	}
	if z.reverse != nil {
		return z.reverse.Ping(ctx)
	}
	return nil
}

// Lookup resolves a name to its addresses (or its alias target) and an
// address to the names its PTR records point at.
func (z *Zones) Lookup(ctx context.Context, entry string) ([]string, error) {
	if backend.IsAddress(entry) {
		rev, err := dnsupdate.ReverseName(entry)
		if err != nil {
			return nil, err
		}
		return z.rdata(ctx, rev, dns.TypePTR)
	}

	var out []string
	for _, t := range []uint16{dns.TypeA, dns.TypeAAAA} {
		vals, err := z.rdata(ctx, entry, t)
		if err != nil {
			return nil, err
		}
		out = append(out, vals...)
	}
	if len(out) > 0 {
		return out, nil
	}

	targets, err := z.rdata(ctx, entry, dns.TypeCNAME)
	if err != nil {
		return nil, err
	}
	if targets == nil {
		return []string{}, nil
	}
	return targets, nil
}

func (z *Zones) rdata(ctx context.Context, name string, t uint16) ([]string, error) {
	records, err := z.forward.Query(ctx, name, t)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, r := range records {
		out = append(out, r.RData)
	}
	return out, nil
}

// reverseFor reports whether address has a reverse name inside the reverse
// zone and returns it.
func (z *Zones) reverseFor(address string) (string, bool) {
	if z.reverse == nil {
		return "", false
	}
	rev, err := dnsupdate.ReverseName(address)
	if err != nil || !dnsupdate.InZone(rev, z.reverse.Zone()) {
		return "", false
	}
	return rev, true
}

func displayName(name string) string {
	return strings.TrimSuffix(strings.ToLower(name), ".")
}
