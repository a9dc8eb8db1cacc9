package statecache

import (
	"context"
	"time"

	"github.com/gabrielabritta/argo/pkg/cache"
	"github.com/gabrielabritta/argo/telemetry"
)

// MemoryCache is an in-process Cache over the generic TTL cache. It backs
// pipeline tests and degraded mode when Redis is down: same contract, no
// durability across restarts.
type MemoryCache struct {
	entries *cache.TTLCache[[]byte]
}

// NewMemory builds a MemoryCache with the given TTL (DefaultTTL when zero).
// The cache's sweep goroutine stops when ctx is canceled or Close is called.
func NewMemory(ctx context.Context, ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		entries: cache.NewTTL[[]byte](ctx, ttl, ttl/2),
	}
}

// Put overwrites the entry for the triple.
func (c *MemoryCache) Put(_ context.Context, kind telemetry.Kind, substationID, roverID string, payload []byte) error {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	_, err := c.entries.Set(Key(kind, substationID, roverID), buf)
	return err
}

// Get returns the cached payload, or (nil, false, nil) when absent.
func (c *MemoryCache) Get(_ context.Context, kind telemetry.Kind, substationID, roverID string) ([]byte, bool, error) {
	val, ok := c.entries.Get(Key(kind, substationID, roverID))
	if !ok {
		return nil, false, nil
	}
	return val, true, nil
}

// PurgeRover removes every key referencing roverID.
func (c *MemoryCache) PurgeRover(_ context.Context, roverID string) error {
	for _, key := range c.entries.Keys() {
		if keyReferencesRover(key, roverID) {
			if _, err := c.entries.Delete(key); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close stops the sweep goroutine.
func (c *MemoryCache) Close() error {
	return c.entries.Close()
}
