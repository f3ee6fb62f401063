package console

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/google/uuid"
)

// Broadcaster fans order updates out to the browser displays over SSE.
// Slow subscribers drop events rather than stall the rest; displays recover
// through their periodic re-render anyway.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan displayEvent
	logger      aqm.Logger
	keepalive   time.Duration
}

type displayEvent struct {
	name string
	data []byte
}

func NewBroadcaster(logger aqm.Logger) *Broadcaster {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan displayEvent),
		logger:      logger,
		keepalive:   30 * time.Second,
	}
}

// Broadcast sends a named JSON event to every connected display.
func (b *Broadcaster) Broadcast(name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("failed to encode display event", "event", name, "error", err)
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- displayEvent{name: name, data: data}:
		default:
			b.logger.Info("subscriber channel full, dropping event", "subscriber_id", id, "event", name)
		}
	}
}

func (b *Broadcaster) subscribe(id string) <-chan displayEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan displayEvent, 100)
	b.subscribers[id] = ch
	b.logger.Info("new display connected", "subscriber_id", id, "total", len(b.subscribers))
	return ch
}

func (b *Broadcaster) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
		b.logger.Info("display disconnected", "subscriber_id", id, "total", len(b.subscribers))
	}
}

// ServeHTTP implements the SSE endpoint the displays attach to.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id := uuid.New().String()
	events := b.subscribe(id)
	defer b.unsubscribe(id)

	fmt.Fprintf(w, ": connected\n\n")
	fmt.Fprintf(w, "retry: 2000\n\n")
	flush(w)

	ticker := time.NewTicker(b.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flush(w)
		case evt, ok := <-events:
			if !ok {
				return
			}
			writeSSEEvent(w, evt.name, evt.data)
			flush(w)
		}
	}
}

// writeSSEEvent frames one event, prefixing each payload line with "data:".
func writeSSEEvent(w http.ResponseWriter, name string, data []byte) {
	fmt.Fprintf(w, "event: %s\n", name)
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprintf(w, "\n")
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
