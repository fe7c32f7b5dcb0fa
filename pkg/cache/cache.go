// Package cache is a small in-memory TTL cache with a size bound.
package cache

import (
	"sync"
	"time"
)

type item[V any] struct {
	value     V
	expiresAt time.Time
	storedAt  time.Time
}

func (it item[V]) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && now.After(it.expiresAt)
}

// Options configure a Cache. A zero TTL never expires; a zero MaxItems is unbounded.
type Options struct {
	TTL      time.Duration
	MaxItems int
}

// Cache is a thread-safe map with expiration
type Cache[V any] struct {
	mu       sync.RWMutex
	items    map[string]item[V]
	ttl      time.Duration
	maxItems int
	now      func() time.Time
}

// New creates an empty cache
func New[V any](opts Options) *Cache[V] {
	return &Cache[V]{
		items:    make(map[string]item[V]),
		ttl:      opts.TTL,
		maxItems: opts.MaxItems,
		now:      time.Now,
	}
}

// Set stores value under key with the default TTL
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key with a specific TTL
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	now := c.now()
	it := item[V]{value: value, storedAt: now}
	if ttl > 0 {
		it.expiresAt = now.Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.maxItems > 0 && len(c.items) >= c.maxItems {
		c.deleteExpired(now)
		if len(c.items) >= c.maxItems {
			c.evictOldest()
		}
	}
	c.items[key] = it
}

// Get returns the live value stored under key
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()

	if !ok || it.expired(c.now()) {
		var zero V
		return zero, false
	}
	return it.value, true
}

// Delete removes key
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Flush removes every item
func (c *Cache[V]) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]item[V])
}

// Len returns the number of stored items, expired ones included
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache[V]) deleteExpired(now time.Time) {
	for k, it := range c.items {
		if it.expired(now) {
			delete(c.items, k)
		}
	}
}

// evictOldest removes the least recently stored item
func (c *Cache[V]) evictOldest() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, it := range c.items {
		if first || it.storedAt.Before(oldest) {
			oldestKey, oldest, first = k, it.storedAt, false
		}
	}
	if !first {
		delete(c.items, oldestKey)
	}
}
