// Package cache provides the bounded LRU record cache and the
// single-flight loader that sits in front of it.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bridevmx/nanodb/internal/model"
)

// Stats reports cache occupancy and hit/miss counters.
type Stats struct {
	Size    int   `json:"size"`
	MaxSize int   `json:"maxSize"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// RecordCache is a fixed-capacity mapping from "<collection>:<id>" to a
// decoded record. On capacity overflow the least-recently-used entry is
// evicted. The cache is a read-accelerator only: correctness is owned by
// the KV substrate.
type RecordCache struct {
	lru     *lru.Cache[string, model.Record]
	maxSize int

	hits   int64
	misses int64
}

// New returns a RecordCache bounded to maxSize entries.
func New(maxSize int) (*RecordCache, error) {
	if maxSize <= 0 {
		maxSize = 1
	}
	l, err := lru.New[string, model.Record](maxSize)
	if err != nil {
		return nil, err
	}
	return &RecordCache{lru: l, maxSize: maxSize}, nil
}

// Get returns the cached record for key, or (nil, false) on a miss.
func (c *RecordCache) Get(key string) (model.Record, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok
}

// Peek returns the cached record without affecting recency or hit/miss
// counters, for stats and diagnostics.
func (c *RecordCache) Peek(key string) (model.Record, bool) {
	return c.lru.Peek(key)
}

// Set writes (or overwrites) a record in the cache.
func (c *RecordCache) Set(key string, value model.Record) {
	c.lru.Add(key, value)
}

// Delete removes key from the cache, a no-op if absent.
func (c *RecordCache) Delete(key string) {
	c.lru.Remove(key)
}

// Stats reports current occupancy and hit/miss counters.
func (c *RecordCache) Stats() Stats {
	return Stats{
		Size:    c.lru.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
}
