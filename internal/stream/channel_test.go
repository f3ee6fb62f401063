package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestChannelDeliversEventsInOrder(t *testing.T) {
	body := "event: snapshot\ndata: {}\n\nevent: orders_changed\n\nevent: ping\n\n"
	srv := streamServer(t, body, true)

	var (
		mu    sync.Mutex
		kinds []EventKind
	)
	gotThree := make(chan struct{})

	ch := NewChannel(NewClient(srv.URL, nil), nil)
	handle := ch.Open(func(kind EventKind, payload json.RawMessage) {
		mu.Lock()
		kinds = append(kinds, kind)
		if len(kinds) == 3 {
			close(gotThree)
		}
		mu.Unlock()
	}, func(err error) {
		t.Errorf("onError fired unexpectedly: %v", err)
	})
	defer handle.Close()

	select {
	case <-gotThree:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []EventKind{KindSnapshot, KindChanged, KindKeepalive}
	for i, kind := range want {
		if kinds[i] != kind {
			t.Errorf("event #%d = %q, want %q", i, kinds[i], kind)
		}
	}
}

func TestChannelSignalsConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	errc := make(chan error, 1)
	ch := NewChannel(NewClient(srv.URL, nil), nil)
	handle := ch.Open(func(EventKind, json.RawMessage) {
		t.Error("onEvent fired for a stream that never opened")
	}, func(err error) {
		errc <- err
	})
	defer handle.Close()

	select {
	case err := <-errc:
		if err == nil {
			t.Error("onError received nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onError never fired for unreachable stream")
	}
}

func TestChannelSignalsStreamBreak(t *testing.T) {
	// The server ends the stream after one event; the channel must report
	// it so the consumer can fall back to polling.
	srv := streamServer(t, "event: ping\n\n", false)

	errc := make(chan error, 1)
	ch := NewChannel(NewClient(srv.URL, nil), nil)
	handle := ch.Open(func(EventKind, json.RawMessage) {}, func(err error) {
		errc <- err
	})
	defer handle.Close()

	select {
	case <-errc:
	case <-time.After(2 * time.Second):
		t.Fatal("onError never fired for a dropped stream")
	}
}

func TestHandleCloseSuppressesError(t *testing.T) {
	srv := streamServer(t, ": connected\n\n", true)

	ch := NewChannel(NewClient(srv.URL, nil), nil)
	handle := ch.Open(func(EventKind, json.RawMessage) {}, func(err error) {
		t.Errorf("onError fired after Close(): %v", err)
	})

	time.Sleep(50 * time.Millisecond)
	handle.Close()
	// Close() waits for the pump goroutine, so a stray onError would have
	// been observed by now.
}

func TestWatcherFallsBackToFastPolling(t *testing.T) {
	// Stream connects, sends nothing, and dies; the watcher must keep the
	// view fresh through the fast poll cadence.
	srv := streamServer(t, "", false)

	var (
		mu       sync.Mutex
		refreshs int
	)
	polled := make(chan struct{}, 16)

	w := NewWatcher(
		NewChannel(NewClient(srv.URL, nil), nil),
		func(EventKind, json.RawMessage) {},
		func(ctx context.Context) error {
			mu.Lock()
			refreshs++
			mu.Unlock()
			select {
			case polled <- struct{}{}:
			default:
			}
			return nil
		},
		nil,
	)
	w.fastPoll = 20 * time.Millisecond
	w.steadyPoll = time.Hour

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop(context.Background())

	// Initial warm refresh plus at least two fast polls.
	deadline := time.After(2 * time.Second)
	for i := 0; i < 3; i++ {
		select {
		case <-polled:
		case <-deadline:
			t.Fatalf("saw %d refreshes before timeout, want at least 3", i)
		}
	}
}

func TestWatcherStopHaltsPolling(t *testing.T) {
	srv := streamServer(t, ": connected\n\n", true)

	var (
		mu       sync.Mutex
		refreshs int
	)
	w := NewWatcher(
		NewChannel(NewClient(srv.URL, nil), nil),
		func(EventKind, json.RawMessage) {},
		func(ctx context.Context) error {
			mu.Lock()
			refreshs++
			mu.Unlock()
			return nil
		},
		nil,
	)
	w.steadyPoll = 20 * time.Millisecond

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	mu.Lock()
	afterStop := refreshs
	mu.Unlock()

	time.Sleep(80 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if refreshs != afterStop {
		t.Errorf("refresh ran %d more times after Stop()", refreshs-afterStop)
	}
}
