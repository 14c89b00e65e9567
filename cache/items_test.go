package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemsKey(t *testing.T) {
	assert.Equal(t, "items_p2_l50_genre=rock", ItemsKey(2, 50, "genre=rock"))
	assert.Equal(t, "items_p1_l20_", ItemsKey(1, 20, ""))
}

func TestItemsCacheMarksStale(t *testing.T) {
	c := NewItemsCache[[]string](time.Minute)
	clock := newFakeClock()
	c.pages.now = clock.Now

	_, ok := c.Get(1, 20, "")
	assert.False(t, ok)

	c.Set(1, 20, "", []string{"a", "b"})

	entry, ok := c.Get(1, 20, "")
	require.True(t, ok)
	assert.False(t, entry.Stale)
	assert.Equal(t, []string{"a", "b"}, entry.Data)

	clock.Advance(2 * time.Minute)

	entry, ok = c.Get(1, 20, "")
	require.True(t, ok, "stale pages are kept")
	assert.True(t, entry.Stale)
	assert.Equal(t, []string{"a", "b"}, entry.Data)

	c.Set(1, 20, "", []string{"c"})
	entry, _ = c.Get(1, 20, "")
	assert.False(t, entry.Stale)
}

func TestItemsCacheInvalidation(t *testing.T) {
	c := NewItemsCache[int](time.Minute)
	c.Set(1, 20, "type=movie", 1)
	c.Set(2, 20, "type=movie", 2)
	c.Set(1, 20, "type=show", 3)

	c.InvalidatePattern("type=movie")
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get(1, 20, "type=show")
	assert.True(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}
