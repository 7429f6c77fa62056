package async

import (
	"sync"
	"time"
)

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
	evictor   *time.Timer
}

// TTLCache is a mutex-guarded map with per-entry expiry and scheduled
// eviction. Reads of expired entries miss even if the evictor has not fired
// yet.
type TTLCache[V any] struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry[V]
	stopped bool
}

// NewTTLCache builds an empty cache.
func NewTTLCache[V any]() *TTLCache[V] {
	return &TTLCache[V]{entries: make(map[string]*cacheEntry[V])}
}

// Get returns a fresh entry for the key, if any.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero V
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return zero, false
	}
	return entry.value, true
}

// Set stores the value and schedules its eviction after ttl.
func (c *TTLCache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	if existing, ok := c.entries[key]; ok && existing.evictor != nil {
		existing.evictor.Stop()
	}
	c.entries[key] = &cacheEntry[V]{
		value:     value,
		expiresAt: time.Now().Add(ttl),
		evictor: time.AfterFunc(ttl, func() {
			c.Remove(key)
		}),
	}
}

// Remove drops the entry and cancels its evictor.
func (c *TTLCache[V]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		if entry.evictor != nil {
			entry.evictor.Stop()
		}
		delete(c.entries, key)
	}
}

// Len returns the number of stored entries, including any not yet evicted.
func (c *TTLCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Stop cancels every pending evictor and clears the cache. The cache rejects
// writes afterwards.
func (c *TTLCache[V]) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	for key, entry := range c.entries {
		if entry.evictor != nil {
			entry.evictor.Stop()
		}
		delete(c.entries, key)
	}
}
