package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bridevmx/nanodb/internal/realtime"
)

// sseSink adapts one open HTTP connection into a realtime.Sink. Send
// writes an SSE "message" event; a write error or timeout marks the sink
// closed so the broadcaster evicts it on the next Publish.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	closed atomic.Bool
}

func newSSESink(w http.ResponseWriter) (*sseSink, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseSink{w: w, flusher: flusher}, true
}

func (s *sseSink) Send(ev realtime.Event) bool {
	if s.closed.Load() {
		return false
	}

	payload, err := json.Marshal(struct {
		Collection string `json:"collection"`
		Action     string `json:"action"`
		Data       any    `json:"data"`
	}{Collection: ev.Collection, Action: string(ev.Action), Data: ev.Record})
	if err != nil {
		return false
	}

	done := make(chan bool, 1)
	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, werr := fmt.Fprintf(s.w, "event: message\ndata: %s\n\n", payload)
		if werr != nil {
			done <- false
			return
		}
		s.flusher.Flush()
		done <- true
	}()

	select {
	case ok := <-done:
		if !ok {
			s.closed.Store(true)
		}
		return ok
	case <-time.After(200 * time.Millisecond):
		s.closed.Store(true)
		return false
	}
}

func (s *sseSink) Closed() bool {
	return s.closed.Load()
}

func (s *sseSink) sendHeartbeat() bool {
	if s.closed.Load() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprint(s.w, "event: ping\ndata: {}\n\n"); err != nil {
		s.closed.Store(true)
		return false
	}
	s.flusher.Flush()
	return true
}

func (s *sseSink) markClosed() {
	s.closed.Store(true)
}
