package core

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process Cache implementation. It backs webhook
// dedup and mapping lookups in tests and single-node deployments where no
// Redis is configured. Expired entries are lazily skipped on read and
// swept by a background janitor.
type MemoryStore struct {
	mu     sync.RWMutex
	store  map[string]memoryEntry
	logger Logger

	stopOnce sync.Once
	stop     chan struct{}
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemoryStore creates an in-memory store with a minute-interval janitor.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		store:  make(map[string]memoryEntry),
		logger: &NoOpLogger{},
		stop:   make(chan struct{}),
	}
	go m.janitor(time.Minute)
	return m
}

// SetLogger configures the logger for this store.
func (m *MemoryStore) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Get retrieves a value. A missing or expired key returns "" with no error.
func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.store[key]
	if !exists || entry.expired(time.Now()) {
		m.logger.Debug("Cache miss", map[string]interface{}{
			"operation": "cache_get",
			"key":       key,
		})
		return "", nil
	}
	return entry.value, nil
}

// Set stores a value with optional TTL. ttl <= 0 means no expiry.
func (m *MemoryStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.store[key] = entry
	return nil
}

// SetNX stores the value only when the key is absent or expired.
// Returns true when the value was written.
func (m *MemoryStore) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, exists := m.store[key]; exists && !entry.expired(time.Now()) {
		return false, nil
	}
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.store[key] = entry
	return true, nil
}

// Delete removes a key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key)
	return nil
}

// Exists reports whether the key is present and unexpired.
func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.store[key]
	if !exists || entry.expired(time.Now()) {
		return false, nil
	}
	return true, nil
}

// Len reports the number of live entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	n := 0
	for _, entry := range m.store {
		if !entry.expired(now) {
			n++
		}
	}
	return n
}

// Close stops the janitor. Safe to call more than once.
func (m *MemoryStore) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}

func (m *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

func (m *MemoryStore) sweep() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, entry := range m.store {
		if entry.expired(now) {
			delete(m.store, key)
		}
	}
}
