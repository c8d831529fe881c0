package resilience

import (
	"sync"
	"time"
)

// stateCache is a process-local TTL cache over breaker state snapshots.
// It only exists to keep breaker decisions off the document store's hot
// path; entries going briefly stale is acceptable because breaker
// transitions are monotone-convergent across instances.
type stateCache struct {
	mu      sync.RWMutex
	entries map[string]stateEntry
	ttl     time.Duration
	now     func() time.Time
}

type stateEntry struct {
	value     any
	expiresAt time.Time
}

func newStateCache(ttl time.Duration) *stateCache {
	return &stateCache{
		entries: make(map[string]stateEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// get returns the cached value when present and fresh.
func (c *stateCache) get(key string) (any, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

// set stores the value with the cache-wide TTL.
func (c *stateCache) set(key string, value any) {
	c.mu.Lock()
	c.entries[key] = stateEntry{value: value, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// invalidate drops one entry.
func (c *stateCache) invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// purge drops every entry. Tests use it to force store reads.
func (c *stateCache) purge() {
	c.mu.Lock()
	c.entries = make(map[string]stateEntry)
	c.mu.Unlock()
}
