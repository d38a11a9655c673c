package dnsupdate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// Sentinel errors for RFC 2136 operations.
var (
	// ErrUpdateFailed is returned when the DNS UPDATE operation fails.
	ErrUpdateFailed = errors.New("dns update failed")

	// ErrRecordNotFound is returned when an update prerequisite requires an
	// RRset that does not exist.
	ErrRecordNotFound = errors.New("record not found")

	// ErrRecordExists is returned when an update prerequisite forbids an
	// RRset that exists.
	ErrRecordExists = errors.New("record already exists")

	// ErrAuthenticationFailed is returned when TSIG authentication fails.
	ErrAuthenticationFailed = errors.New("tsig authentication failed")

	// ErrConnectionFailed is returned when the connection to the DNS server fails.
	ErrConnectionFailed = errors.New("connection to dns server failed")

	// ErrZoneMismatch is returned when a record name doesn't match the configured zone.
	ErrZoneMismatch = errors.New("record name does not match configured zone")
)

// Client sends RFC 2136 updates and plain queries for a single zone.
type Client struct {
	config *Config
	tsig   *TSIG
	logger *slog.Logger

	mu         sync.RWMutex
	dnsClient  *dns.Client
	lastUpdate time.Time
}

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*Client)

// WithLogger sets a custom logger for the DNS update client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTSIG overrides the key derived from the config, e.g. with one read
// from a key file.
func WithTSIG(tsig *TSIG) ClientOption {
	return func(c *Client) {
		if tsig != nil {
			c.tsig = tsig
		}
	}
}

// NewClient creates a new RFC 2136 Dynamic DNS client with the given configuration.
func NewClient(config *Config, opts ...ClientOption) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	tsig, err := TSIGFromConfig(config)
	if err != nil {
		return nil, fmt.Errorf("invalid TSIG configuration: %w", err)
	}

	c := &Client{
		config: config,
		tsig:   tsig,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.dnsClient = &dns.Client{
		Net:     "udp",
		Timeout: config.GetTimeout(),
	}
	if config.UseTCP {
		c.dnsClient.Net = "tcp"
	}
	c.tsig.ApplyToClient(c.dnsClient)

	c.logger.Debug("RFC 2136 client initialized",
		slog.String("server", config.GetServer()),
		slog.String("zone", config.Zone),
		slog.Bool("tsig", c.tsig != nil),
		slog.Bool("tcp", config.UseTCP),
	)

	return c, nil
}

// Ping verifies connectivity to the DNS server by querying the zone's SOA record.
func (c *Client) Ping(ctx context.Context) error {
	msg := new(dns.Msg)
	msg.SetQuestion(c.config.Zone, dns.TypeSOA)
	msg.RecursionDesired = false

	resp, rtt, err := c.exchange(ctx, msg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	if resp.Rcode != dns.RcodeSuccess {
		return fmt.Errorf("%w: server returned %s", ErrConnectionFailed, dns.RcodeToString[resp.Rcode])
	}

	c.logger.Debug("DNS server ping successful",
		slog.String("zone", c.config.Zone),
		slog.Duration("rtt", rtt),
	)

	return nil
}

// Query retrieves the records of recordType owned by name. Other answers,
// such as a CNAME chain and its target's records, are skipped. NXDOMAIN
// yields an empty result.
func (c *Client) Query(ctx context.Context, name string, recordType uint16) ([]Record, error) {
	fqdn := dns.Fqdn(name)
	msg := new(dns.Msg)
	msg.SetQuestion(fqdn, recordType)
	msg.RecursionDesired = false

	c.mu.RLock()
	resp, _, err := c.exchange(ctx, msg)
	c.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("dns query failed: %w", err)
	}

	if resp.Rcode == dns.RcodeNameError {
		return []Record{}, nil
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dns query for %s returned %s", name, dns.RcodeToString[resp.Rcode])
	}

	records := make([]Record, 0, len(resp.Answer))
	for _, rr := range resp.Answer {
		if rr.Header().Rrtype != recordType || !strings.EqualFold(rr.Header().Name, fqdn) {
			continue
		}
		record, err := RecordFromRR(rr)
		if err != nil {
			c.logger.Warn("failed to parse DNS record",
				slog.String("error", err.Error()),
				slog.String("rr", rr.String()),
			)
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

// NewUpdate starts an UPDATE message for the client's zone.
func (c *Client) NewUpdate() *Update {
	return newUpdate(c.config.Zone)
}

// Send submits u as a single UPDATE message. The server applies all of its
// changes or none of them.
func (c *Client) Send(ctx context.Context, u *Update) error {
	if u.Empty() {
		return nil
	}

	msg := u.build()
	c.tsig.ApplyToMessage(msg)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Debug("sending DNS update",
		slog.String("zone", c.config.Zone),
		slog.Int("rrs", len(msg.Ns)),
	)

	resp, _, err := c.exchange(ctx, msg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpdateFailed, err)
	}
	if err := checkResponse(resp); err != nil {
		return err
	}

	c.lastUpdate = time.Now()
	return nil
}

// Zone returns the configured zone name.
func (c *Client) Zone() string {
	return c.config.Zone
}

// Server returns the configured server address.
func (c *Client) Server() string {
	return c.config.GetServer()
}

// LastUpdate returns the time of the last successful update.
func (c *Client) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// Close releases any resources held by the client.
// Connections are not persistent, so this is a no-op.
func (c *Client) Close() error {
	return nil
}

func (c *Client) exchange(ctx context.Context, msg *dns.Msg) (*dns.Msg, time.Duration, error) {
	return c.dnsClient.ExchangeContext(ctx, msg, c.config.GetServer())
}

// checkResponse converts an UPDATE response code to an error.
func checkResponse(resp *dns.Msg) error {
	if resp == nil {
		return fmt.Errorf("%w: no response from server", ErrUpdateFailed)
	}

	switch resp.Rcode {
	case dns.RcodeSuccess:
		return nil
	case dns.RcodeYXRrset, dns.RcodeYXDomain:
		return ErrRecordExists
	case dns.RcodeNXRrset:
		return ErrRecordNotFound
	case dns.RcodeNotAuth:
		if resp.IsTsig() != nil {
			return fmt.Errorf("%w: %s", ErrAuthenticationFailed, dns.RcodeToString[resp.Rcode])
		}
		return fmt.Errorf("%w: server not authoritative for zone", ErrUpdateFailed)
	case dns.RcodeRefused:
		return fmt.Errorf("%w: update refused (check server policy or TSIG configuration)", ErrUpdateFailed)
	case dns.RcodeNotZone:
		return ErrZoneMismatch
	default:
		return fmt.Errorf("%w: %s", ErrUpdateFailed, dns.RcodeToString[resp.Rcode])
	}
}

// IsNetworkError checks if an error is a network-related error.
func IsNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsAuthError checks if an error is an authentication error.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed)
}
