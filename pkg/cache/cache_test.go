package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestCache(t *testing.T, ttl time.Duration) *TTLCache[string] {
	t.Helper()
	c := NewTTL[string](context.Background(), ttl, 10*time.Millisecond)
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return c
}

func TestTTLCache_BasicOperations(t *testing.T) {
	c := newTestCache(t, time.Minute)

	created, err := c.Set("rover-1", "payload")
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !created {
		t.Error("Set() created = false, want true for new key")
	}

	got, ok := c.Get("rover-1")
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got != "payload" {
		t.Errorf("Get() = %q, want %q", got, "payload")
	}

	// Overwrite is not a creation
	created, err = c.Set("rover-1", "payload2")
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if created {
		t.Error("Set() created = true, want false for existing key")
	}

	got, _ = c.Get("rover-1")
	if got != "payload2" {
		t.Errorf("Get() after overwrite = %q, want %q", got, "payload2")
	}

	removed, err := c.Delete("rover-1")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !removed {
		t.Error("Delete() removed = false, want true")
	}

	if _, ok := c.Get("rover-1"); ok {
		t.Error("Get() after delete ok = true, want false")
	}
}

func TestTTLCache_EmptyKey(t *testing.T) {
	c := newTestCache(t, time.Minute)

	if _, err := c.Set("", "v"); err != ErrEmptyKey {
		t.Errorf("Set(\"\") error = %v, want ErrEmptyKey", err)
	}
	if _, err := c.Delete(""); err != ErrEmptyKey {
		t.Errorf("Delete(\"\") error = %v, want ErrEmptyKey", err)
	}
}

func TestTTLCache_Expiry(t *testing.T) {
	c := newTestCache(t, 20*time.Millisecond)

	if _, err := c.Set("short-lived", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, ok := c.Get("short-lived"); !ok {
		t.Fatal("Get() before expiry ok = false, want true")
	}

	time.Sleep(40 * time.Millisecond)

	// Expired reads must be indistinguishable from never-set reads.
	if v, ok := c.Get("short-lived"); ok {
		t.Errorf("Get() after expiry = (%q, true), want zero value and false", v)
	}
	if v, ok := c.Get("never-set"); ok {
		t.Errorf("Get() of unknown key = (%q, true), want zero value and false", v)
	}
}

func TestTTLCache_SetWithTTL(t *testing.T) {
	c := newTestCache(t, time.Minute)

	if _, err := c.SetWithTTL("blip", "v", 15*time.Millisecond); err != nil {
		t.Fatalf("SetWithTTL() error = %v", err)
	}
	if _, err := c.Set("stable", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Get("blip"); ok {
		t.Error("Get(blip) ok = true, want false after per-entry TTL")
	}
	if _, ok := c.Get("stable"); !ok {
		t.Error("Get(stable) ok = false, want true under default TTL")
	}
}

func TestTTLCache_KeysAndSize(t *testing.T) {
	c := newTestCache(t, time.Minute)

	for i := range 3 {
		if _, err := c.Set(fmt.Sprintf("key-%d", i), "v"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}

	if got := c.Size(); got != 3 {
		t.Errorf("Size() = %d, want 3", got)
	}

	keys := c.Keys()
	if len(keys) != 3 {
		t.Fatalf("Keys() returned %d keys, want 3", len(keys))
	}
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		seen[k] = true
	}
	for i := range 3 {
		want := fmt.Sprintf("key-%d", i)
		if !seen[want] {
			t.Errorf("Keys() missing %q", want)
		}
	}

	if err := c.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if got := c.Size(); got != 0 {
		t.Errorf("Size() after Clear() = %d, want 0", got)
	}
}

func TestTTLCache_Sweep(t *testing.T) {
	c := newTestCache(t, 15*time.Millisecond)

	if _, err := c.Set("swept", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for c.Size() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Size() = %d after sweep deadline, want 0", c.Size())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := c.Stats().Evictions(); got < 1 {
		t.Errorf("Stats().Evictions() = %d, want >= 1", got)
	}
}

func TestTTLCache_Statistics(t *testing.T) {
	c := newTestCache(t, time.Minute)

	if _, err := c.Set("a", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	c.Get("a")
	c.Get("a")
	c.Get("absent")

	stats := c.Stats()
	if got := stats.Hits(); got != 2 {
		t.Errorf("Hits() = %d, want 2", got)
	}
	if got := stats.Misses(); got != 1 {
		t.Errorf("Misses() = %d, want 1", got)
	}
	if got := stats.Sets(); got != 1 {
		t.Errorf("Sets() = %d, want 1", got)
	}
}

func TestTTLCache_ConcurrentAccess(t *testing.T) {
	c := newTestCache(t, time.Minute)

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				key := fmt.Sprintf("g%d-k%d", g, i)
				if _, err := c.Set(key, "v"); err != nil {
					t.Errorf("Set(%q) error = %v", key, err)
				}
				c.Get(key)
				if i%5 == 0 {
					if _, err := c.Delete(key); err != nil {
						t.Errorf("Delete(%q) error = %v", key, err)
					}
				}
			}
		}()
	}
	wg.Wait()
}

func TestTTLCache_CloseStopsSweep(t *testing.T) {
	c := NewTTL[int](context.Background(), time.Minute, 10*time.Millisecond)
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// Second close must be a no-op.
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestTTLCache_ContextCancelStopsSweep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewTTL[int](ctx, time.Minute, 10*time.Millisecond)
	cancel()

	select {
	case <-c.done:
	case <-time.After(time.Second):
		t.Fatal("sweep goroutine did not stop after context cancellation")
	}
}
