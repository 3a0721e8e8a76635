package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bridevmx/nanodb/internal/model"
)

func TestCoalescingCache_DedupesConcurrentLoads(t *testing.T) {
	inner, err := New(100)
	require.NoError(t, err)
	cc := NewCoalescing(inner)

	var loadCount atomic.Int64
	start := make(chan struct{})

	loader := func(ctx context.Context, key string) (model.Record, bool, error) {
		loadCount.Add(1)
		time.Sleep(20 * time.Millisecond)
		return model.Record{"id": "1"}, true, nil
	}

	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			<-start
			rec, found, err := cc.Get(context.Background(), "posts:1", loader)
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, "1", rec.ID())
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, int64(1), loadCount.Load(), "loader should run exactly once under a thundering herd")
}

func TestCoalescingCache_MissDoesNotCache(t *testing.T) {
	inner, err := New(10)
	require.NoError(t, err)
	cc := NewCoalescing(inner)

	var loadCount atomic.Int64
	loader := func(ctx context.Context, key string) (model.Record, bool, error) {
		loadCount.Add(1)
		return nil, false, nil
	}

	_, found, err := cc.Get(context.Background(), "posts:missing", loader)
	require.NoError(t, err)
	require.False(t, found)

	_, found, err = cc.Get(context.Background(), "posts:missing", loader)
	require.NoError(t, err)
	require.False(t, found)

	require.Equal(t, int64(2), loadCount.Load(), "absence is never cached, so each Get re-runs the loader")
}

func TestCoalescingCache_HitAvoidsLoader(t *testing.T) {
	inner, err := New(10)
	require.NoError(t, err)
	cc := NewCoalescing(inner)
	cc.Set("posts:1", model.Record{"id": "1"})

	loader := func(ctx context.Context, key string) (model.Record, bool, error) {
		t.Fatal("loader should not run on a cache hit")
		return nil, false, nil
	}

	rec, found, err := cc.Get(context.Background(), "posts:1", loader)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "1", rec.ID())
}
