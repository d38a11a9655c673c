package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/rueidis"

	"gitlab.bluewillows.net/root/dnsgate/pkg/backend"
)

// KeyPrefix namespaces history lists in Redis.
const KeyPrefix = "dnsgate:history:"

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Limit    int
}

// Redis stores each user's history as a Redis list with the newest entry at
// the head, so LRANGE 0 -1 is already most-recent-first.
type Redis struct {
	client rueidis.Client
	limit  int
	logger *slog.Logger
}

// RedisOption is a functional option for configuring the Redis store.
type RedisOption func(*Redis)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) RedisOption {
	return func(r *Redis) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRedis connects to Redis and returns a store.
func NewRedis(cfg RedisConfig, opts ...RedisOption) (*Redis, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{cfg.Address},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Address, err)
	}

	return newRedisWithClient(client, cfg.Limit, opts...), nil
}

func newRedisWithClient(client rueidis.Client, limit int, opts ...RedisOption) *Redis {
	if limit < 1 {
		limit = DefaultLimit
	}
	r := &Redis{
		client: client,
		limit:  limit,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func key(user string) string {
	return KeyPrefix + user
}

// Append pushes entry onto the user's list and trims it to the limit.
func (r *Redis) Append(ctx context.Context, user string, entry backend.HistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding history entry: %w", err)
	}

	k := key(user)
	results := r.client.DoMulti(ctx,
		r.client.B().Lpush().Key(k).Element(string(data)).Build(),
		r.client.B().Ltrim().Key(k).Start(0).Stop(int64(r.limit-1)).Build(),
	)
	for _, res := range results {
		if err := res.Error(); err != nil {
			return fmt.Errorf("appending history for %s: %w", user, err)
		}
	}
	return nil
}

// List returns the user's entries, most recent first. Entries that fail to
// decode are skipped and logged.
func (r *Redis) List(ctx context.Context, user string) ([]backend.HistoryEntry, error) {
	raw, err := r.client.Do(ctx, r.client.B().Lrange().Key(key(user)).Start(0).Stop(-1).Build()).AsStrSlice()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return []backend.HistoryEntry{}, nil
		}
		return nil, fmt.Errorf("listing history for %s: %w", user, err)
	}

	entries := make([]backend.HistoryEntry, 0, len(raw))
	for _, s := range raw {
		var e backend.HistoryEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			r.logger.Warn("skipping undecodable history entry",
				slog.String("user", user),
				slog.String("error", err.Error()),
			)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Clear deletes the user's list.
func (r *Redis) Clear(ctx context.Context, user string) error {
	if err := r.client.Do(ctx, r.client.B().Del().Key(key(user)).Build()).Error(); err != nil {
		return fmt.Errorf("clearing history for %s: %w", user, err)
	}
	return nil
}

// Ping checks connectivity to Redis.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Do(ctx, r.client.B().Ping().Build()).Error()
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	r.client.Close()
	return nil
}

var _ Store = (*Redis)(nil)
