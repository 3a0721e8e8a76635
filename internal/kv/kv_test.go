package kv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bridevmx/nanodb/internal/keycodec"
)

func storeImplementations(t *testing.T) map[string]Store {
	t.Helper()

	sqlitePath := filepath.Join(t.TempDir(), "test.db")
	sqliteStore, err := OpenSQLite(sqlitePath)
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := store.Get(context.Background(), Main, "posts:missing")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestStore_BatchIsAtomicAndVisible(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := store.Batch(ctx, []Op{
				PutOp(Main, "posts:1", []byte(`{"id":"1"}`)),
				PutOp(Indexes, "idx:posts:owner_id:u1:1", []byte("1")),
			})
			require.NoError(t, err)

			v, ok, err := store.Get(ctx, Main, "posts:1")
			require.NoError(t, err)
			require.True(t, ok)
			require.JSONEq(t, `{"id":"1"}`, string(v))

			v, ok, err = store.Get(ctx, Indexes, "idx:posts:owner_id:u1:1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "1", string(v))
		})
	}
}

func TestStore_RangeOrderedByKeyAndLimited(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ops := []Op{
				PutOp(Main, "posts:3", []byte("c")),
				PutOp(Main, "posts:1", []byte("a")),
				PutOp(Main, "posts:2", []byte("b")),
				PutOp(Main, "comments:1", []byte("x")),
			}
			require.NoError(t, store.Batch(ctx, ops))

			entries, err := store.Range(ctx, Main, RangeOptions{
				Start: "posts:",
				End:   "posts:" + keycodec.RangeHighSentinel,
			})
			require.NoError(t, err)
			require.Len(t, entries, 3)
			require.Equal(t, []string{"posts:1", "posts:2", "posts:3"}, []string{
				entries[0].Key, entries[1].Key, entries[2].Key,
			})

			limited, err := store.Range(ctx, Main, RangeOptions{
				Start: "posts:",
				End:   "posts:" + keycodec.RangeHighSentinel,
				Limit: 2,
			})
			require.NoError(t, err)
			require.Len(t, limited, 2)
		})
	}
}

func TestStore_BatchDeleteRemovesKey(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Batch(ctx, []Op{PutOp(Main, "posts:1", []byte("a"))}))
			require.NoError(t, store.Batch(ctx, []Op{DelOp(Main, "posts:1")}))

			_, ok, err := store.Get(ctx, Main, "posts:1")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestStore_Ping(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Ping(context.Background()))
		})
	}
}
