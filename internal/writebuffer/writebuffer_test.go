package writebuffer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bridevmx/nanodb/internal/kv"
)

type fakeCacheApplier struct {
	mu      sync.Mutex
	updates map[string]any
}

func newFakeCacheApplier() *fakeCacheApplier {
	return &fakeCacheApplier{updates: make(map[string]any)}
}

func (f *fakeCacheApplier) ApplyCacheUpdate(key string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[key] = value
}

func (f *fakeCacheApplier) get(key string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.updates[key]
	return v, ok
}

func awaitCallback(t *testing.T, timeout time.Duration) (func(error), <-chan error) {
	t.Helper()
	ch := make(chan error, 1)
	return func(err error) { ch <- err }, ch
}

func mustNoErr(t *testing.T, ch <-chan error, timeout time.Duration) {
	t.Helper()
	select {
	case err := <-ch:
		require.NoError(t, err)
	case <-time.After(timeout):
		t.Fatal("timed out waiting for callback")
	}
}

func TestBuffer_SafeModeCommitsAndAppliesCache(t *testing.T) {
	store := kv.NewMemoryStore()
	cache := newFakeCacheApplier()
	b := New(store, cache, Config{FlushInterval: 10 * time.Millisecond}, nil)
	defer func() { _ = b.Shutdown(context.Background()) }()

	cb, ch := awaitCallback(t, time.Second)
	b.Add(context.Background(), []kv.Op{kv.PutOp(kv.Main, "posts:1", []byte("v1"))},
		[]CacheUpdate{{Key: "posts:1", Value: "v1"}}, cb)

	mustNoErr(t, ch, time.Second)

	val, found, err := store.Get(context.Background(), kv.Main, "posts:1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v1"), val)

	cached, ok := cache.get("posts:1")
	require.True(t, ok)
	require.Equal(t, "v1", cached)
}

func TestBuffer_MaxBufferSizeTriggersImmediateFlush(t *testing.T) {
	store := kv.NewMemoryStore()
	b := New(store, nil, Config{FlushInterval: time.Hour, MaxBufferSize: 2}, nil)
	defer func() { _ = b.Shutdown(context.Background()) }()

	cb1, ch1 := awaitCallback(t, time.Second)
	cb2, ch2 := awaitCallback(t, time.Second)
	b.Add(context.Background(), []kv.Op{kv.PutOp(kv.Main, "a", []byte("1"))}, nil, cb1)
	b.Add(context.Background(), []kv.Op{kv.PutOp(kv.Main, "b", []byte("2"))}, nil, cb2)

	mustNoErr(t, ch1, time.Second)
	mustNoErr(t, ch2, time.Second)
}

// slowStore delays every Batch call so the flush queue backs up
// deterministically instead of relying on goroutine scheduling luck.
type slowStore struct {
	kv.Store
	delay time.Duration
}

func (s *slowStore) Batch(ctx context.Context, ops []kv.Op) error {
	time.Sleep(s.delay)
	return s.Store.Batch(ctx, ops)
}

func TestBuffer_OverloadRejectsWhenFlushQueueDeep(t *testing.T) {
	store := &slowStore{Store: kv.NewMemoryStore(), delay: 50 * time.Millisecond}
	b := New(store, nil, Config{FlushInterval: time.Hour, MaxBufferSize: 1, OverloadThreshold: 1}, nil)
	defer func() { _ = b.Shutdown(context.Background()) }()

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		i := i
		b.Add(context.Background(), []kv.Op{kv.PutOp(kv.Main, "k", []byte("v"))}, nil, func(err error) {
			errs[i] = err
			wg.Done()
		})
	}
	wg.Wait()

	var overloaded int
	for _, err := range errs {
		if err != nil {
			overloaded++
		}
	}
	require.Greater(t, overloaded, 0, "expected at least one overload rejection once the single flush worker falls behind")
}

func TestBuffer_OptimisticModeFiresCallbackBeforeCommitConfirmed(t *testing.T) {
	store := kv.NewMemoryStore()
	cache := newFakeCacheApplier()
	b := New(store, cache, Config{FlushInterval: time.Hour, Mode: Optimistic}, nil)
	defer func() { _ = b.Shutdown(context.Background()) }()

	cb, ch := awaitCallback(t, time.Second)
	b.Add(context.Background(), []kv.Op{kv.PutOp(kv.Main, "x", []byte("1"))},
		[]CacheUpdate{{Key: "x", Value: "1"}}, cb)

	mustNoErr(t, ch, time.Second)
	_, ok := cache.get("x")
	require.True(t, ok, "optimistic mode applies cache updates on enqueue, not on commit")
}

func TestBuffer_ShutdownDrainsPendingIngress(t *testing.T) {
	store := kv.NewMemoryStore()
	b := New(store, nil, Config{FlushInterval: time.Hour}, nil)

	cb, ch := awaitCallback(t, time.Second)
	b.Add(context.Background(), []kv.Op{kv.PutOp(kv.Main, "y", []byte("1"))}, nil, cb)

	require.NoError(t, b.Shutdown(context.Background()))
	mustNoErr(t, ch, time.Second)

	_, found, err := store.Get(context.Background(), kv.Main, "y")
	require.NoError(t, err)
	require.True(t, found)
}

func TestBuffer_AddAfterShutdownRunsSynchronously(t *testing.T) {
	store := kv.NewMemoryStore()
	b := New(store, nil, Config{FlushInterval: time.Hour}, nil)
	require.NoError(t, b.Shutdown(context.Background()))

	cb, ch := awaitCallback(t, time.Second)
	b.Add(context.Background(), []kv.Op{kv.PutOp(kv.Main, "z", []byte("1"))}, nil, cb)
	mustNoErr(t, ch, time.Second)

	_, found, err := store.Get(context.Background(), kv.Main, "z")
	require.NoError(t, err)
	require.True(t, found)
}

func TestBuffer_StatsReportsMode(t *testing.T) {
	store := kv.NewMemoryStore()
	b := New(store, nil, Config{Mode: Optimistic}, nil)
	defer func() { _ = b.Shutdown(context.Background()) }()

	require.Equal(t, Optimistic, b.Stats().Mode)
}
