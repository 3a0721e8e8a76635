package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bridevmx/nanodb/internal/model"
)

func TestRecordCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	c.Set("posts:1", model.Record{"id": "1"})
	c.Set("posts:2", model.Record{"id": "2"})

	// Touch posts:1 so posts:2 becomes the least recently used entry.
	_, ok := c.Get("posts:1")
	require.True(t, ok)

	c.Set("posts:3", model.Record{"id": "3"})

	_, ok = c.Get("posts:2")
	require.False(t, ok, "posts:2 should have been evicted")

	_, ok = c.Get("posts:1")
	require.True(t, ok)
	_, ok = c.Get("posts:3")
	require.True(t, ok)
}

func TestRecordCache_Stats(t *testing.T) {
	c, err := New(10)
	require.NoError(t, err)

	c.Set("posts:1", model.Record{"id": "1"})
	_, _ = c.Get("posts:1")
	_, _ = c.Get("posts:missing")

	stats := c.Stats()
	require.Equal(t, 1, stats.Size)
	require.Equal(t, 10, stats.MaxSize)
	require.Equal(t, int64(1), stats.Hits)
	require.Equal(t, int64(1), stats.Misses)
}

func TestRecordCache_Delete(t *testing.T) {
	c, err := New(10)
	require.NoError(t, err)

	c.Set("posts:1", model.Record{"id": "1"})
	c.Delete("posts:1")

	_, ok := c.Get("posts:1")
	require.False(t, ok)
}
