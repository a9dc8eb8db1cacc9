// Package cache provides a thread-safe in-memory TTL cache.
//
// Entries expire automatically after their TTL and are removed by a
// background sweep goroutine. Reads of an expired entry behave exactly
// like reads of a key that was never set.
package cache

import (
	"errors"
	"sync/atomic"
)

// ErrEmptyKey is returned when an empty key is used
var ErrEmptyKey = errors.New("cache: key cannot be empty")

// Cache is the interface implemented by cache backends.
type Cache[V any] interface {
	// Get retrieves a value by key. The second return is false when the
	// key is absent or expired.
	Get(key string) (V, bool)

	// Set stores a value under key with the cache's default TTL.
	// Returns true when a new entry was created.
	Set(key string, value V) (bool, error)

	// Delete removes an entry. Returns true when an entry was removed.
	Delete(key string) (bool, error)

	// Keys returns all unexpired keys.
	Keys() []string

	// Size returns the current number of entries.
	Size() int

	// Clear removes all entries.
	Clear() error

	// Close stops background maintenance.
	Close() error
}

// Statistics tracks cache behaviour with atomic counters.
// Always maintained; observability is not optional.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64
}

// Hit records a cache hit.
func (s *Statistics) Hit() { s.hits.Add(1) }

// Miss records a cache miss.
func (s *Statistics) Miss() { s.misses.Add(1) }

// Set records an entry write.
func (s *Statistics) Set() { s.sets.Add(1) }

// Eviction records an expired or removed entry.
func (s *Statistics) Eviction() { s.evictions.Add(1) }

// Hits returns the number of cache hits.
func (s *Statistics) Hits() int64 { return s.hits.Load() }

// Misses returns the number of cache misses.
func (s *Statistics) Misses() int64 { return s.misses.Load() }

// Sets returns the number of writes.
func (s *Statistics) Sets() int64 { return s.sets.Load() }

// Evictions returns the number of evictions.
func (s *Statistics) Evictions() int64 { return s.evictions.Load() }

func validateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}
