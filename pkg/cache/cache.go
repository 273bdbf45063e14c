package cache

import (
	"strings"
	"sync"
	"time"
)

// Cache is an in-memory store whose entries expire after a period without
// access. Expired entries are invisible to readers and are dropped by Purge.
type Cache[V any] struct {
	data map[string]*cacheEntry[V]
	ttl  time.Duration
	now  func() time.Time
	mu   sync.RWMutex
}

type cacheEntry[V any] struct {
	value      V
	expiration time.Time
}

// New creates a cache with the given idle TTL. A zero TTL disables expiry.
func New[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		data: make(map[string]*cacheEntry[V]),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (c *Cache[V]) expiry() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(c.ttl)
}

func (c *Cache[V]) expired(e *cacheEntry[V]) bool {
	return !e.expiration.IsZero() && c.now().After(e.expiration)
}

// Get retrieves a value and refreshes its expiration.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	entry, ok := c.data[key]
	if !ok || c.expired(entry) {
		return zero, false
	}
	entry.expiration = c.expiry()
	return entry.value, true
}

// GetOrCreate returns the live value for key, storing the result of create
// when there is none. create runs under the cache lock and must not block.
func (c *Cache[V]) GetOrCreate(key string, create func() V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.data[key]; ok && !c.expired(entry) {
		entry.expiration = c.expiry()
		return entry.value
	}
	v := create()
	c.data[key] = &cacheEntry[V]{value: v, expiration: c.expiry()}
	return v
}

// Set stores a value in the cache
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = &cacheEntry[V]{value: value, expiration: c.expiry()}
}

// Move re-keys an entry. It returns false when from is absent or expired.
func (c *Cache[V]) Move(from, to string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[from]
	if !ok || c.expired(entry) {
		return false
	}
	delete(c.data, from)
	entry.expiration = c.expiry()
	c.data[to] = entry
	return true
}

// Delete removes a value from the cache
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
}

// DeleteByPrefix removes all entries with keys starting with the given prefix
func (c *Cache[V]) DeleteByPrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.data {
		if strings.HasPrefix(key, prefix) {
			delete(c.data, key)
		}
	}
}

// Purge drops expired entries and returns how many were removed.
func (c *Cache[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.data {
		if c.expired(entry) {
			delete(c.data, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of entries, expired ones included.
func (c *Cache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.data)
}
