package cache

import (
	"fmt"
	"time"
)

// ItemsKey builds the key of one page of a paged listing. Callers must keep
// filters stable (for example an encoded query string) to get hits.
func ItemsKey(page, limit int, filters string) string {
	return fmt.Sprintf("items_p%d_l%d_%s", page, limit, filters)
}

// ItemsEntry is a cached page together with its freshness
type ItemsEntry[T any] struct {
	Data      T
	Timestamp time.Time
	Stale     bool
}

// ItemsCache keeps pages of a listing. Unlike Cache it never drops old
// pages on read; it marks them stale so callers can show them while
// refetching.
type ItemsCache[T any] struct {
	pages *Cache[T]
}

// NewItemsCache creates a page cache whose entries turn stale after ttl
func NewItemsCache[T any](ttl time.Duration) *ItemsCache[T] {
	return &ItemsCache[T]{pages: New[T](ttl)}
}

// Get returns the cached page and whether it is older than the ttl
func (c *ItemsCache[T]) Get(page, limit int, filters string) (ItemsEntry[T], bool) {
	data, ts, ok := c.pages.Peek(ItemsKey(page, limit, filters))
	if !ok {
		return ItemsEntry[T]{}, false
	}
	return ItemsEntry[T]{
		Data:      data,
		Timestamp: ts,
		Stale:     c.pages.now().Sub(ts) > c.pages.ttl,
	}, true
}

// Set stores a fresh page
func (c *ItemsCache[T]) Set(page, limit int, filters string, data T) {
	c.pages.Set(ItemsKey(page, limit, filters), data)
}

// Clear drops every page
func (c *ItemsCache[T]) Clear() {
	c.pages.Invalidate()
}

// InvalidatePattern drops the pages whose key contains pattern, e.g. every
// page of one filter
func (c *ItemsCache[T]) InvalidatePattern(pattern string) {
	c.pages.InvalidatePattern(pattern)
}

// Len returns the number of cached pages
func (c *ItemsCache[T]) Len() int {
	return c.pages.Len()
}
