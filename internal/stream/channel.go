package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/aquamarinepk/aqm"
)

// Channel delivers order-state change notifications from the push stream.
// It does not retry the stream itself: when the stream cannot be established
// or breaks, onError fires once and the consumer is expected to switch to
// polling. Events are delivered in arrival order; identical consecutive
// snapshots are not deduplicated here.
type Channel struct {
	client *Client
	logger aqm.Logger
}

func NewChannel(client *Client, logger aqm.Logger) *Channel {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Channel{client: client, logger: logger}
}

// Handle controls one open subscription.
type Handle struct {
	once   sync.Once
	cancel context.CancelFunc
	closed chan struct{}
	sub    *Subscription

	mu sync.Mutex
}

// Close stops event delivery and releases the stream connection. In-flight
// submitter or admin calls are unaffected.
func (h *Handle) Close() {
	h.once.Do(func() {
		h.cancel()
		h.mu.Lock()
		if h.sub != nil {
			h.sub.Close()
		}
		h.mu.Unlock()
		<-h.closed
	})
}

func (h *Handle) setSub(sub *Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.closed:
		return false
	default:
	}
	h.sub = sub
	return true
}

// Open establishes the subscription and pumps events to onEvent until the
// stream ends, breaks, or the handle is closed. Failures to establish or
// sustain the stream are reported through onError exactly once; a closed
// handle never reports.
func (ch *Channel) Open(onEvent func(kind EventKind, payload json.RawMessage), onError func(error)) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{cancel: cancel, closed: make(chan struct{})}

	go func() {
		defer close(h.closed)

		sub, err := ch.client.Connect(ctx)
		if err != nil {
			if ctx.Err() == nil {
				ch.logger.Info("stream could not be established", "error", err)
				onError(err)
			}
			return
		}
		if !h.setSub(sub) {
			sub.Close()
			return
		}

		for {
			evt, err := sub.Next()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, io.EOF) {
					ch.logger.Info("stream closed by server")
				} else {
					ch.logger.Info("stream broke", "error", err)
				}
				onError(err)
				return
			}
			onEvent(evt.Kind, evt.Data)
		}
	}()

	return h
}
