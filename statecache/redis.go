package statecache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gabrielabritta/argo/config"
	"github.com/gabrielabritta/argo/errors"
	"github.com/gabrielabritta/argo/telemetry"
)

// RedisCache is the production Cache backed by a Redis instance. Entries
// expire server-side, so a crashed process never leaves permanent state
// behind.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	opTime time.Duration
	logger *slog.Logger
}

// RedisOption configures a RedisCache.
type RedisOption func(*RedisCache)

// WithTTL overrides the default 300s entry lifetime.
func WithTTL(ttl time.Duration) RedisOption {
	return func(c *RedisCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithOperationTimeout bounds each cache call. The pipeline drops a cache
// write rather than stall a message behind a slow Redis.
func WithOperationTimeout(d time.Duration) RedisOption {
	return func(c *RedisCache) {
		if d > 0 {
			c.opTime = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) RedisOption {
	return func(c *RedisCache) {
		if logger != nil {
			c.logger = logger.With("component", "StateCache")
		}
	}
}

// NewRedis connects to Redis and verifies the connection with a ping.
func NewRedis(ctx context.Context, cfg config.RedisConfig, opts ...RedisOption) (*RedisCache, error) {
	c := &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl:    DefaultTTL,
		opTime: 2 * time.Second,
		logger: slog.Default().With("component", "StateCache"),
	}
	if cfg.TTL > 0 {
		c.ttl = cfg.TTL
	}
	for _, opt := range opts {
		opt(c)
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.opTime)
	defer cancel()
	if err := c.client.Ping(pingCtx).Err(); err != nil {
		_ = c.client.Close()
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrCacheUnavailable, err),
			"StateCache", "NewRedis", "ping failed")
	}
	return c, nil
}

// Put overwrites the entry for the triple, refreshing its TTL.
func (c *RedisCache) Put(ctx context.Context, kind telemetry.Kind, substationID, roverID string, payload []byte) error {
	opCtx, cancel := context.WithTimeout(ctx, c.opTime)
	defer cancel()

	key := Key(kind, substationID, roverID)
	if err := c.client.Set(opCtx, key, payload, c.ttl).Err(); err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrCacheUnavailable, err),
			"StateCache", "Put", "set "+key+" failed")
	}
	return nil
}

// Get returns the cached payload, or (nil, false, nil) when the key is
// absent or expired.
func (c *RedisCache) Get(ctx context.Context, kind telemetry.Kind, substationID, roverID string) ([]byte, bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.opTime)
	defer cancel()

	key := Key(kind, substationID, roverID)
	val, err := c.client.Get(opCtx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrCacheUnavailable, err),
			"StateCache", "Get", "get "+key+" failed")
	}
	return val, true, nil
}

// PurgeRover removes every key referencing roverID. Uses SCAN rather than
// KEYS so a purge never blocks Redis under a large keyspace.
func (c *RedisCache) PurgeRover(ctx context.Context, roverID string) error {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var purged int
	iter := c.client.Scan(opCtx, 0, roverPattern(roverID), 100).Iterator()
	for iter.Next(opCtx) {
		if err := c.client.Del(opCtx, iter.Val()).Err(); err != nil {
			return errors.WrapTransient(
				fmt.Errorf("%w: %w", errors.ErrCacheUnavailable, err),
				"StateCache", "PurgeRover", "delete "+iter.Val()+" failed")
		}
		purged++
	}
	if err := iter.Err(); err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrCacheUnavailable, err),
			"StateCache", "PurgeRover", "scan failed")
	}
	if purged > 0 {
		c.logger.Info("purged rover cache entries", "rover", roverID, "count", purged)
	}
	return nil
}

// Healthy reports whether Redis answers a ping within the operation timeout.
func (c *RedisCache) Healthy(ctx context.Context) bool {
	opCtx, cancel := context.WithTimeout(ctx, c.opTime)
	defer cancel()
	return c.client.Ping(opCtx).Err() == nil
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
