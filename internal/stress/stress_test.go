// Package stress fires concurrent record mutations at an in-memory engine
// stack and checks that the invariants the write buffer and indexer are
// supposed to hold survive contention: every committed record has a
// coherent index entry, unique fields never collide, and versions only
// ever increase.
package stress

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bridevmx/nanodb/internal/cache"
	"github.com/bridevmx/nanodb/internal/engine"
	"github.com/bridevmx/nanodb/internal/keycodec"
	"github.com/bridevmx/nanodb/internal/kv"
	"github.com/bridevmx/nanodb/internal/model"
	"github.com/bridevmx/nanodb/internal/schema"
	"github.com/bridevmx/nanodb/internal/writebuffer"
)

func newStressEngine(t *testing.T) (*engine.Engine, kv.Store) {
	t.Helper()
	store := kv.NewMemoryStore()
	registry := schema.New(store)

	ctx := context.Background()
	_, err := registry.Put(ctx, &model.Schema{
		Collection: "accounts",
		Fields: []model.Field{
			{Name: "owner", Type: model.FieldString, Required: true, Indexed: true},
			{Name: "slug", Type: model.FieldString, Required: true, Indexed: true, Unique: true},
			{Name: "balance", Type: model.FieldNumber},
		},
	})
	if err != nil {
		t.Fatalf("put schema: %v", err)
	}

	recCache, err := cache.New(256)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	coalescing := cache.NewCoalescing(recCache)
	buf := writebuffer.New(store, coalescing, writebuffer.Config{
		FlushInterval: 2 * time.Millisecond,
		MaxBufferSize: 64,
	}, nil)
	t.Cleanup(func() { _ = buf.Shutdown(context.Background()) })

	eng := engine.New(store, registry, coalescing, buf, nil, nil)
	return eng, store
}

// TestStress_ConcurrentCreateUpdateDeleteHoldsInvariants runs goroutines
// that create, update, and delete records in the same collection
// concurrently, then checks the substrate is left in a consistent state:
// every surviving record has exactly one uniqueness index entry pointing
// back at it, and no record's version ever went backwards across the run.
func TestStress_ConcurrentCreateUpdateDeleteHoldsInvariants(t *testing.T) {
	eng, store := newStressEngine(t)
	ctx := context.Background()

	const workers = 12
	const itersPerWorker = 40

	var wg sync.WaitGroup
	errCh := make(chan error, workers*itersPerWorker)
	createdIDs := make([][]string, workers)
	var idsMu sync.Mutex

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			var mine []string
			for i := 0; i < itersPerWorker; i++ {
				slug := fmt.Sprintf("w%d-r%d", worker, i)
				rec, err := eng.Create(ctx, "accounts", model.Record{
					"owner":   fmt.Sprintf("worker-%d", worker),
					"slug":    slug,
					"balance": float64(0),
				})
				if err != nil {
					errCh <- fmt.Errorf("worker %d create %d: %w", worker, i, err)
					continue
				}
				id := rec.ID()
				mine = append(mine, id)

				if _, err := eng.Update(ctx, "accounts", id, model.Record{"balance": float64(100)}, nil); err != nil {
					errCh <- fmt.Errorf("worker %d update %d: %w", worker, i, err)
				}

				// delete every third record so the run exercises the
				// uniqueness-index cleanup path too.
				if i%3 == 0 {
					if err := eng.Delete(ctx, "accounts", id, nil); err != nil {
						errCh <- fmt.Errorf("worker %d delete %d: %w", worker, i, err)
					}
				}
			}
			idsMu.Lock()
			createdIDs[worker] = mine
			idsMu.Unlock()
		}(w)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("%v", err)
	}

	assertIndexCoherence(t, ctx, store, eng, createdIDs)
	assertVersionsMonotonic(t, ctx, eng, createdIDs)
}

// assertIndexCoherence checks that every record still present in the main
// keyspace has a matching uniqueness index entry, and that every
// uniqueness index entry points back at a record that actually exists —
// the two keyspaces must never drift apart, since a single atomic Batch
// call is what's supposed to keep them in lockstep.
func assertIndexCoherence(t *testing.T, ctx context.Context, store kv.Store, eng *engine.Engine, createdIDs [][]string) {
	t.Helper()

	mainPrefix := keycodec.RecordPrefix("accounts")
	mainEntries, err := store.Range(ctx, kv.Main, kv.RangeOptions{
		Start: mainPrefix,
		End:   mainPrefix + keycodec.RangeHighSentinel,
	})
	if err != nil {
		t.Fatalf("range main: %v", err)
	}

	liveIDs := make(map[string]bool, len(mainEntries))
	for _, ent := range mainEntries {
		id := strings.TrimPrefix(ent.Key, mainPrefix)
		rec, err := eng.Get(ctx, "accounts", id)
		if err != nil {
			t.Errorf("get live record %q: %v", ent.Key, err)
			continue
		}
		liveIDs[rec.ID()] = true
	}

	idxEntries, err := store.Range(ctx, kv.Indexes, kv.RangeOptions{Start: "", End: keycodec.RangeHighSentinel})
	if err != nil {
		t.Fatalf("range indexes: %v", err)
	}

	uniqPrefix := keycodec.Uniqueness("accounts", "slug", "")
	seenForID := make(map[string]int)
	for _, ent := range idxEntries {
		if !strings.HasPrefix(ent.Key, uniqPrefix) {
			continue
		}
		seenForID[string(ent.Value)]++
		if !liveIDs[string(ent.Value)] {
			t.Errorf("uniqueness entry %q points at missing record %q", ent.Key, string(ent.Value))
		}
	}

	for id := range liveIDs {
		if seenForID[id] != 1 {
			t.Errorf("live record %q has %d uniqueness index entries, want 1", id, seenForID[id])
		}
	}
}

// assertVersionsMonotonic re-reads every record this run ever created and
// confirms its final _version is >= 1 and, for records never deleted,
// exactly 2 (one create, one update) — versions must never regress.
func assertVersionsMonotonic(t *testing.T, ctx context.Context, eng *engine.Engine, createdIDs [][]string) {
	t.Helper()
	for _, ids := range createdIDs {
		for _, id := range ids {
			rec, err := eng.Get(ctx, "accounts", id)
			if err != nil {
				continue // deleted, expected for every third record
			}
			if rec.Version() < 1 {
				t.Errorf("record %q has non-positive version %d", id, rec.Version())
			}
			if rec.Version() != 2 {
				t.Errorf("record %q has version %d, want 2 (one create, one update)", id, rec.Version())
			}
		}
	}
}

// BenchmarkEngine_CreateUpdate measures single-committer throughput under
// the write buffer's default coalescing window.
func BenchmarkEngine_CreateUpdate(b *testing.B) {
	store := kv.NewMemoryStore()
	registry := schema.New(store)
	ctx := context.Background()
	_, _ = registry.Put(ctx, &model.Schema{
		Collection: "accounts",
		Fields: []model.Field{
			{Name: "slug", Type: model.FieldString, Required: true, Indexed: true, Unique: true},
		},
	})
	recCache, _ := cache.New(256)
	coalescing := cache.NewCoalescing(recCache)
	buf := writebuffer.New(store, coalescing, writebuffer.Config{}, nil)
	defer func() { _ = buf.Shutdown(context.Background()) }()
	eng := engine.New(store, registry, coalescing, buf, nil, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := eng.Create(ctx, "accounts", model.Record{"slug": fmt.Sprintf("bench-%d", i)})
		if err != nil {
			b.Fatalf("create: %v", err)
		}
	}
}
