// Package realtime implements the change broadcaster that fans out record
// mutations to subscribed SSE sinks.
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/bridevmx/nanodb/internal/model"
	"github.com/bridevmx/nanodb/internal/obs/logging"
)

// Action is the kind of mutation a change event describes.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Event is one record mutation, already sanitized of private fields.
type Event struct {
	Collection string       `json:"collection"`
	Action     Action       `json:"action"`
	Record     model.Record `json:"record"`
}

// Sink receives events for the subscriptions it was registered with. The
// engine depends only on this interface, never on a concrete subscriber
// type, so realtime and engine do not import each other's concrete types.
type Sink interface {
	// Send delivers ev. It must not block past a short internal timeout;
	// a sink slow enough to violate that gets evicted by the broadcaster.
	Send(ev Event) bool
	// Closed reports whether the sink's connection has gone away.
	Closed() bool
}

const (
	sendTimeout     = 200 * time.Millisecond
	heartbeatPeriod = 30 * time.Second
	staleAfter      = 60 * time.Second
)

type subscription struct {
	sink         Sink
	collections  map[string]bool // empty/nil set means "all collections"
	lastActivity time.Time
}

func (s *subscription) matches(collection string) bool {
	if len(s.collections) == 0 {
		return true
	}
	return s.collections[collection]
}

// Broadcaster fans out Events to registered sinks. Delivery is best-effort:
// a sink that fails to keep up is evicted, never allowed to slow down or
// block writers.
type Broadcaster struct {
	logger *logging.Logger

	mu   sync.Mutex
	subs map[int64]*subscription
	next int64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New starts a Broadcaster and its heartbeat/staleness sweep goroutine.
func New(logger *logging.Logger) *Broadcaster {
	b := &Broadcaster{
		logger: logger,
		subs:   make(map[int64]*subscription),
		stopCh: make(chan struct{}),
	}
	b.wg.Add(1)
	go b.heartbeatLoop()
	return b
}

// Subscribe registers sink for events on collections (nil/empty means
// every collection) and returns an id Unsubscribe accepts.
func (b *Broadcaster) Subscribe(sink Sink, collections []string) int64 {
	set := make(map[string]bool, len(collections))
	for _, c := range collections {
		set[c] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	b.subs[id] = &subscription{sink: sink, collections: set, lastActivity: now()}
	return id
}

// Unsubscribe removes a sink registered by Subscribe.
func (b *Broadcaster) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// SinkCount reports how many sinks are currently registered, for
// /api/stats.
func (b *Broadcaster) SinkCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers ev to every matching, live sink. Called fire-and-forget
// by the engine after a write durably commits; never blocks the caller
// past iterating the current subscriber snapshot.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	snapshot := make([]int64, 0, len(b.subs))
	for id := range b.subs {
		snapshot = append(snapshot, id)
	}
	b.mu.Unlock()

	for _, id := range snapshot {
		b.mu.Lock()
		sub, ok := b.subs[id]
		b.mu.Unlock()
		if !ok {
			continue
		}

		if sub.sink.Closed() {
			b.Unsubscribe(id)
			continue
		}
		if !sub.matches(ev.Collection) {
			continue
		}

		if sub.sink.Send(ev) {
			b.mu.Lock()
			if s, ok := b.subs[id]; ok {
				s.lastActivity = now()
			}
			b.mu.Unlock()
		} else {
			if b.logger != nil {
				b.logger.Warn(context.Background(), "evicting slow or unresponsive realtime sink", map[string]interface{}{"subscriptionId": id})
			}
			b.Unsubscribe(id)
		}
	}
}

func (b *Broadcaster) heartbeatLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.sweep()
		}
	}
}

func (b *Broadcaster) sweep() {
	b.mu.Lock()
	stale := make([]int64, 0)
	for id, sub := range b.subs {
		if sub.sink.Closed() || now().Sub(sub.lastActivity) > staleAfter {
			stale = append(stale, id)
		}
	}
	b.mu.Unlock()

	for _, id := range stale {
		b.Unsubscribe(id)
	}
}

// Close stops the heartbeat goroutine. Registered sinks are left as-is;
// callers are expected to close their own connections.
func (b *Broadcaster) Close() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	b.wg.Wait()
}

// now is overridable in tests.
var now = time.Now
