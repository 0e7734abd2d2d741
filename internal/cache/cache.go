// Package cache provides a thread-safe in-memory TTL cache keyed by string.
// Injected into the timing optimizer so its per-user activity patterns can
// be swapped for an external keyed store without touching engine code.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a thread-safe in-memory cache with a fixed per-entry lifetime.
type TTL[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	ttl     time.Duration
}

// New creates a TTL cache. A background loop evicts expired entries every
// evictEvery; pass 0 to disable eviction (tests).
func New[V any](ttl, evictEvery time.Duration) *TTL[V] {
	c := &TTL[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
	}
	if evictEvery > 0 {
		go c.evictLoop(evictEvery)
	}
	return c
}

// Get retrieves a cached value. Expired entries count as misses.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, exists := c.entries[key]
	if !exists || time.Now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores a value for the cache's TTL.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Delete removes a key.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Stats returns cache statistics for health reporting.
func (c *TTL[V]) Stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	active := 0
	now := time.Now()
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			active++
		}
	}
	return map[string]interface{}{
		"total_keys":   len(c.entries),
		"active_keys":  active,
		"expired_keys": len(c.entries) - active,
	}
}

func (c *TTL[V]) evictLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for range ticker.C {
		c.evict()
	}
}

func (c *TTL[V]) evict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}
