package cache

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/bridevmx/nanodb/internal/model"
)

// Loader fetches the authoritative value for key on a cache miss. found
// false with a nil error means "absent" (not found), distinct from an
// error.
type Loader func(ctx context.Context, key string) (model.Record, bool, error)

// CoalescingCache wraps a RecordCache with a single-flight group so that
// under a thundering herd of concurrent Get calls for the same cold key,
// the loader runs exactly once: the first caller starts the load, every
// other caller for the same key joins and awaits its result.
type CoalescingCache struct {
	cache    *RecordCache
	group    singleflight.Group
	inFlight atomic.Int64
}

// NewCoalescing wraps cache with single-flight de-duplication.
func NewCoalescing(cache *RecordCache) *CoalescingCache {
	return &CoalescingCache{cache: cache}
}

// Get returns the cached value for key, or runs load exactly once among any
// concurrently-waiting callers on a miss. A (nil, false, nil) result means
// the key is genuinely absent; it is not cached, so the next Get retries
// the loader.
func (c *CoalescingCache) Get(ctx context.Context, key string, load Loader) (model.Record, bool, error) {
	if v, ok := c.cache.Get(key); ok {
		return v, true, nil
	}

	c.inFlight.Add(1)
	v, err, _ := c.group.Do(key, func() (any, error) {
		rec, found, err := load(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, nil
		}
		c.cache.Set(key, rec)
		return rec, nil
	})
	c.inFlight.Add(-1)
	// singleflight.Group.Do's in-flight entry for key is removed
	// automatically once Do returns, regardless of success, satisfying the
	// "remove in the finally path" contract.
	if err != nil {
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	return v.(model.Record), true, nil
}

// Set writes directly to the underlying cache, bypassing the loader.
func (c *CoalescingCache) Set(key string, value model.Record) {
	c.cache.Set(key, value)
}

// Delete removes key from the underlying cache.
func (c *CoalescingCache) Delete(key string) {
	c.cache.Delete(key)
}

// Stats reports the underlying cache's occupancy and hit/miss counters.
func (c *CoalescingCache) Stats() Stats {
	return c.cache.Stats()
}

// InFlight reports how many callers are currently waiting on a
// single-flight load (joiners included), surfaced by /api/stats.
func (c *CoalescingCache) InFlight() int64 {
	return c.inFlight.Load()
}

// ApplyCacheUpdate satisfies writebuffer.CacheApplier structurally: a nil
// value means the write buffer committed a delete, so the cache entry is
// evicted rather than populated with a nil record.
func (c *CoalescingCache) ApplyCacheUpdate(key string, value any) {
	if value == nil {
		c.Delete(key)
		return
	}
	rec, ok := value.(model.Record)
	if !ok {
		return
	}
	c.Set(key, rec)
}
