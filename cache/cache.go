// Package cache holds small in-memory caches used to avoid repeating
// listing and metadata requests. Entries expire lazily: an expired entry is
// removed the next time it is looked up, never by a background sweep.
package cache

import (
	"strings"
	"sync"
	"time"
)

// DefaultTTL is used when a cache is created with a non-positive ttl
const DefaultTTL = 5 * time.Minute

type entry[T any] struct {
	data      T
	timestamp time.Time
}

// Cache is a key/value store whose entries are valid for a fixed ttl
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]entry[T]
	ttl     time.Duration
	now     func() time.Time
}

// New creates a cache. The ttl cannot be changed afterwards.
func New[T any](ttl time.Duration) *Cache[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[T]{
		entries: make(map[string]entry[T]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// TTL returns the cache's time-to-live
func (c *Cache[T]) TTL() time.Duration {
	return c.ttl
}

// Get returns the value stored under key if it has not expired
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookupLocked(key)
	if !ok {
		var zero T
		return zero, false
	}
	return e.data, true
}

// Has reports whether a valid entry exists for key
func (c *Cache[T]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.lookupLocked(key)
	return ok
}

// Peek returns an entry and its creation time without applying expiry
func (c *Cache[T]) Peek(key string) (T, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	return e.data, e.timestamp, ok
}

// Set stores data under key, replacing any previous entry and its timestamp
func (c *Cache[T]) Set(key string, data T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[T]{data: data, timestamp: c.now()}
}

// Invalidate removes the given keys. Called without keys it clears the cache.
func (c *Cache[T]) Invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(keys) == 0 {
		clear(c.entries)
		return
	}
	for _, key := range keys {
		delete(c.entries, key)
	}
}

// InvalidatePattern removes every entry whose key contains pattern
func (c *Cache[T]) InvalidatePattern(pattern string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if strings.Contains(key, pattern) {
			delete(c.entries, key)
		}
	}
}

// Len returns the number of stored entries, expired or not
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[T]) lookupLocked(key string) (entry[T], bool) {
	e, ok := c.entries[key]
	if !ok {
		return e, false
	}
	if c.now().Sub(e.timestamp) > c.ttl {
		delete(c.entries, key)
		return e, false
	}
	return e, true
}
