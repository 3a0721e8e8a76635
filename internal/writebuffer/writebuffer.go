// Package writebuffer implements the group-commit coalescer that sits
// between the engine and the KV substrate: an ingress queue, a FIFO flush
// queue, and a single serialized flush worker.
package writebuffer

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/bridevmx/nanodb/internal/kv"
	"github.com/bridevmx/nanodb/internal/obs/errors"
	"github.com/bridevmx/nanodb/internal/obs/logging"
)

// Mode selects the durability/latency tradeoff.
type Mode string

const (
	// Safe fires Add's callback only after the batch durably commits.
	Safe Mode = "safe"
	// Optimistic applies cache updates and fires the callback on enqueue;
	// the disk commit happens in the background and a failure there is
	// logged, not surfaced to the original caller.
	Optimistic Mode = "optimistic"
)

// CacheUpdate is applied after an intent's batch durably commits. A nil
// Value means delete (tombstone).
type CacheUpdate struct {
	Key   string
	Value any // model.Record or nil
}

// intent is one atomic write request accepted by Add.
type intent struct {
	ops          []kv.Op
	cacheUpdates []CacheUpdate
	callback     func(error)
}

// CacheApplier writes a committed intent's cache updates into whatever
// cache the engine is using. Kept as an interface so this package does not
// depend on internal/cache's concrete record type.
type CacheApplier interface {
	ApplyCacheUpdate(key string, value any)
}

// Config controls coalescing thresholds and durability mode.
type Config struct {
	// FlushInterval is how long to wait after the first ingress of a batch
	// before flushing, absent a size trigger. Nominally 20-50ms.
	FlushInterval time.Duration
	// MaxBufferSize triggers an immediate flush once ingress reaches this
	// many intents.
	MaxBufferSize int
	// OverloadThreshold is the flush-queue depth at or beyond which new
	// intents fail fast with OverloadError.
	OverloadThreshold int
	// Mode is the durability mode. Safe by default.
	Mode Mode
}

func (c Config) withDefaults() Config {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 30 * time.Millisecond
	}
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = 500
	}
	if c.OverloadThreshold <= 0 {
		c.OverloadThreshold = 50
	}
	if c.Mode == "" {
		c.Mode = Safe
	}
	return c
}

// Buffer is the write coalescer. Zero value is not usable; construct with
// New.
type Buffer struct {
	store  kv.Store
	cache  CacheApplier
	cfg    Config
	logger *logging.Logger

	mu       sync.Mutex
	ingress  []intent
	timer    *time.Timer
	draining bool

	flushQueue   chan []intent
	flushQueueN  atomicCounter
	workerDone   chan struct{}
	shutdownOnce sync.Once
}

// atomicCounter is a tiny mutex-guarded counter; writebuffer's hot path is
// already mutex-serialized so this avoids pulling in sync/atomic for one
// int.
type atomicCounter struct {
	mu sync.Mutex
	n  int
}

func (c *atomicCounter) add(delta int) {
	c.mu.Lock()
	c.n += delta
	c.mu.Unlock()
}

func (c *atomicCounter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// New constructs a Buffer and starts its flush worker. Stop must be called
// to drain and release resources.
func New(store kv.Store, cache CacheApplier, cfg Config, logger *logging.Logger) *Buffer {
	cfg = cfg.withDefaults()
	b := &Buffer{
		store:      store,
		cache:      cache,
		cfg:        cfg,
		logger:     logger,
		flushQueue: make(chan []intent, 4096),
		workerDone: make(chan struct{}),
	}
	go b.flushWorker()
	return b
}

// Add accepts an atomic write intent: ops must be applied all-or-nothing,
// cacheUpdates are applied after the batch durably commits, and callback
// signals the outcome. The engine awaits callback before returning to its
// caller.
func (b *Buffer) Add(ctx context.Context, ops []kv.Op, cacheUpdates []CacheUpdate, callback func(error)) {
	it := intent{ops: ops, cacheUpdates: cacheUpdates, callback: callback}

	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		b.runSynchronously(ctx, it)
		return
	}

	if b.flushQueueN.get() >= b.cfg.OverloadThreshold {
		b.mu.Unlock()
		callback(errors.Overload(b.flushQueueN.get(), b.cfg.OverloadThreshold))
		return
	}

	b.ingress = append(b.ingress, it)
	if len(b.ingress) == 1 {
		b.armTimer()
	}
	trigger := len(b.ingress) >= b.cfg.MaxBufferSize
	b.mu.Unlock()

	if trigger {
		b.flush()
	}

	if b.cfg.Mode == Optimistic {
		b.applyCacheUpdates(it.cacheUpdates)
		callback(nil)
	}
}

// armTimer must be called with mu held.
func (b *Buffer) armTimer() {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.cfg.FlushInterval, b.flush)
}

// flush atomically swaps the ingress queue into a local batch and enqueues
// it on the flush queue for the single worker to drain.
func (b *Buffer) flush() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.ingress) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.ingress
	b.ingress = nil
	b.mu.Unlock()

	b.flushQueueN.add(1)
	b.flushQueue <- batch
}

// flushWorker is the single serialized committer. Exactly one goroutine
// ever runs this loop.
func (b *Buffer) flushWorker() {
	defer close(b.workerDone)

	processed := 0
	for batch := range b.flushQueue {
		b.commitBatch(batch)
		b.flushQueueN.add(-1)

		processed++
		if processed%8 == 0 && len(b.flushQueue) > 8 {
			// Yield back to the scheduler so ingress goroutines are not
			// starved when the flush queue is deep.
			runtime.Gosched()
		}
	}
}

func (b *Buffer) commitBatch(batch []intent) {
	var ops []kv.Op
	for _, it := range batch {
		ops = append(ops, it.ops...)
	}

	ctx := context.Background()
	err := b.store.Batch(ctx, ops)

	if b.cfg.Mode == Optimistic {
		if err != nil && b.logger != nil {
			b.logger.WithError(err).Error("background commit failed in optimistic mode")
		}
		return
	}

	if err != nil {
		wrapped := errors.Substrate("writebuffer.flush", err)
		for _, it := range batch {
			it.callback(wrapped)
		}
		return
	}

	for _, it := range batch {
		b.applyCacheUpdates(it.cacheUpdates)
		it.callback(nil)
	}
}

func (b *Buffer) applyCacheUpdates(updates []CacheUpdate) {
	if b.cache == nil {
		return
	}
	for _, u := range updates {
		b.cache.ApplyCacheUpdate(u.Key, u.Value)
	}
}

// runSynchronously submits a single intent directly, used once the buffer
// has entered its draining state.
func (b *Buffer) runSynchronously(ctx context.Context, it intent) {
	err := b.store.Batch(ctx, it.ops)
	if err != nil {
		it.callback(errors.Substrate("writebuffer.drain", err))
		return
	}
	b.applyCacheUpdates(it.cacheUpdates)
	it.callback(nil)
}

// Stats reports the buffer's current queue depths and configuration, for
// /api/stats/buffer.
type Stats struct {
	IngressDepth int  `json:"ingressDepth"`
	FlushDepth   int  `json:"flushQueueDepth"`
	Mode         Mode `json:"mode"`
	Draining     bool `json:"draining"`
}

// Stats returns a point-in-time snapshot of queue depths.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		IngressDepth: len(b.ingress),
		FlushDepth:   b.flushQueueN.get(),
		Mode:         b.cfg.Mode,
		Draining:     b.draining,
	}
}

// Shutdown switches the buffer into draining mode: it flushes any pending
// ingress onto the flush queue, waits for the flush worker to drain it,
// then returns. New intents submitted after Shutdown is called run
// synchronously. Safe to call once.
func (b *Buffer) Shutdown(ctx context.Context) error {
	var err error
	b.shutdownOnce.Do(func() {
		b.mu.Lock()
		b.draining = true
		b.mu.Unlock()

		b.flush() // move any remaining ingress onto the flush queue

		close(b.flushQueue)
		select {
		case <-b.workerDone:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}
