package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aquamarinepk/aqm"
)

// Polling cadences for the fallback strategy: fast polling kicks in right
// after a stream failure, while the steady backstop runs even when the
// stream is healthy to bound staleness from silently dropped connections.
const (
	FastPollInterval   = 10 * time.Second
	SteadyPollInterval = 30 * time.Second
)

// Watcher packages the live-stream-first, polling-fallback strategy shared
// by the customer, kitchen and admin views. It opens the status channel
// once, applies its events, and drives the refresh function on the two
// fallback cadences. The stream is never re-established; after a failure
// the fast cadence carries the view for the rest of its life.
type Watcher struct {
	channel *Channel
	apply   func(kind EventKind, payload json.RawMessage)
	refresh func(ctx context.Context) error
	logger  aqm.Logger

	fastPoll   time.Duration
	steadyPoll time.Duration

	mu       sync.Mutex
	handle   *Handle
	cancel   context.CancelFunc
	fallback sync.Once
	wg       sync.WaitGroup
}

func NewWatcher(
	channel *Channel,
	apply func(kind EventKind, payload json.RawMessage),
	refresh func(ctx context.Context) error,
	logger aqm.Logger,
) *Watcher {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Watcher{
		channel:    channel,
		apply:      apply,
		refresh:    refresh,
		logger:     logger,
		fastPoll:   FastPollInterval,
		steadyPoll: SteadyPollInterval,
	}
}

// Start performs an initial refresh, opens the stream, and launches the
// steady backstop. Implements the lifecycle shape the app runner expects.
func (w *Watcher) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())

	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	if err := w.refresh(runCtx); err != nil {
		// The poll loops will catch up; starting degraded beats not
		// starting at all on a flaky booth network.
		w.logger.Info("initial refresh failed", "error", err)
	}

	handle := w.channel.Open(w.apply, func(err error) {
		w.logger.Info("stream down, switching to fast polling", "error", err)
		w.fallback.Do(func() {
			w.poll(runCtx, w.fastPoll)
		})
	})

	w.mu.Lock()
	w.handle = handle
	w.mu.Unlock()

	w.poll(runCtx, w.steadyPoll)
	return nil
}

// poll launches a fixed-interval refresh loop.
func (w *Watcher) poll(ctx context.Context, interval time.Duration) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.refresh(ctx); err != nil {
					w.logger.Debug("poll refresh failed", "error", err)
				}
			}
		}
	}()
}

// Stop closes the stream handle and halts the poll loops.
func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	handle := w.handle
	cancel := w.cancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if handle != nil {
		handle.Close()
	}
	w.wg.Wait()
	return nil
}
