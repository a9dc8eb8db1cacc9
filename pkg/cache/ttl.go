package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ttlEntry represents an entry in the TTL cache.
type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e *ttlEntry[V]) isExpired() bool {
	return time.Now().After(e.expiresAt)
}

// TTLCache is a thread-safe cache whose entries expire after a fixed TTL.
// Expired entries are lazily removed on read and periodically by a
// background sweep.
type TTLCache[V any] struct {
	mu            sync.RWMutex
	ttl           time.Duration
	sweepInterval time.Duration
	items         map[string]*ttlEntry[V]
	stats         *Statistics

	shutdown chan struct{}
	done     chan struct{}
	closeMu  sync.Mutex
	closed   bool
}

var _ Cache[string] = (*TTLCache[string])(nil)

// NewTTL creates a TTL cache. The background sweep runs every
// sweepInterval until ctx is cancelled or Close is called.
func NewTTL[V any](ctx context.Context, ttl, sweepInterval time.Duration) *TTLCache[V] {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	c := &TTLCache[V]{
		ttl:           ttl,
		sweepInterval: sweepInterval,
		items:         make(map[string]*ttlEntry[V]),
		stats:         &Statistics{},
		shutdown:      make(chan struct{}),
		done:          make(chan struct{}),
	}

	go c.sweep(ctx)

	return c
}

// Get retrieves a value by key, checking for expiration.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	entry, exists := c.items[key]
	c.mu.RUnlock()

	if !exists {
		var zero V
		c.stats.Miss()
		return zero, false
	}

	if entry.isExpired() {
		c.mu.Lock()
		// Double-check it's still there and still expired
		if current, stillExists := c.items[key]; stillExists && current.isExpired() {
			delete(c.items, key)
			c.stats.Eviction()
		}
		c.mu.Unlock()

		var zero V
		c.stats.Miss()
		return zero, false
	}

	c.stats.Hit()
	return entry.value, true
}

// Set stores a value with the cache's default TTL.
func (c *TTLCache[V]) Set(key string, value V) (bool, error) {
	return c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value with an explicit TTL, overriding the default.
func (c *TTLCache[V]) SetWithTTL(key string, value V, ttl time.Duration) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	entry := &ttlEntry[V]{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}

	c.mu.Lock()
	_, exists := c.items[key]
	c.items[key] = entry
	c.mu.Unlock()

	c.stats.Set()
	return !exists, nil
}

// Delete removes an entry by key.
func (c *TTLCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	_, exists := c.items[key]
	if exists {
		delete(c.items, key)
	}
	c.mu.Unlock()

	return exists, nil
}

// Keys returns all unexpired keys.
func (c *TTLCache[V]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.items))
	now := time.Now()
	for key, entry := range c.items {
		if now.Before(entry.expiresAt) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Size returns the current number of entries, including entries that
// have expired but not yet been swept.
func (c *TTLCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear removes all entries.
func (c *TTLCache[V]) Clear() error {
	c.mu.Lock()
	c.items = make(map[string]*ttlEntry[V])
	c.mu.Unlock()
	return nil
}

// Stats returns cache statistics.
func (c *TTLCache[V]) Stats() *Statistics {
	return c.stats
}

// Close stops the background sweep goroutine.
func (c *TTLCache[V]) Close() error {
	c.closeMu.Lock()
	if !c.closed {
		c.closed = true
		close(c.shutdown)
	}
	c.closeMu.Unlock()

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return ErrSweepTimeout
	}
}

// ErrSweepTimeout is returned by Close when the sweep goroutine does not
// stop within the shutdown window.
var ErrSweepTimeout = errors.New("cache: timeout waiting for sweep goroutine to stop")

// sweep runs in a background goroutine and periodically removes expired entries.
func (c *TTLCache[V]) sweep(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *TTLCache[V]) removeExpired() {
	now := time.Now()
	removed := 0

	c.mu.Lock()
	for key, entry := range c.items {
		if now.After(entry.expiresAt) {
			delete(c.items, key)
			removed++
		}
	}
	c.mu.Unlock()

	for i := 0; i < removed; i++ {
		c.stats.Eviction()
	}
}
