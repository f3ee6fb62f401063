package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aquamarinepk/aqm"
)

// EventKind names the events the backend's push stream emits.
type EventKind string

const (
	// KindSnapshot carries the full current order state.
	KindSnapshot EventKind = "snapshot"
	// KindChanged is a delta signal: re-fetch the relevant slice.
	KindChanged EventKind = "orders_changed"
	// KindKeepalive carries nothing and only proves the stream is alive.
	KindKeepalive EventKind = "ping"
)

// Event is one typed stream event.
type Event struct {
	Kind EventKind
	Data json.RawMessage
}

// Client dials the backend's event-stream endpoint.
type Client struct {
	url    string
	hc     *http.Client
	logger aqm.Logger
}

func NewClient(url string, logger aqm.Logger) *Client {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Client{url: url, hc: &http.Client{}, logger: logger}
}

// Connect establishes the stream. The returned subscription is a lazy,
// non-restartable sequence of events; closing it releases the connection
// deterministically.
func (c *Client) Connect(ctx context.Context) (*Subscription, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream endpoint returned status %d", resp.StatusCode)
	}

	c.logger.Debug("stream connected", "url", c.url)
	return newSubscription(resp.Body), nil
}

// Subscription reads framed events off one stream connection.
type Subscription struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newSubscription(body io.ReadCloser) *Subscription {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Subscription{body: body, scanner: scanner}
}

// Next blocks until the next event arrives. Events are framed as blocks
// separated by blank lines, each block holding an "event:" line and zero or
// more "data:" lines; comment and retry lines are skipped. Returns io.EOF
// when the stream ends and a read error when it breaks.
func (s *Subscription) Next() (Event, error) {
	var (
		kind      string
		dataLines []string
	)

	for s.scanner.Scan() {
		line := s.scanner.Text()

		if line == "" {
			// Block boundary: dispatch if the block named an event,
			// otherwise it was comments only.
			if kind != "" {
				return buildEvent(kind, dataLines), nil
			}
			dataLines = nil
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// comment, ignore
		case strings.HasPrefix(line, "event:"):
			kind = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "retry:"):
			// reconnection hint for browsers, not used here
		}
	}

	if err := s.scanner.Err(); err != nil {
		return Event{}, err
	}
	// A final unterminated block still counts once the stream ends.
	if kind != "" {
		return buildEvent(kind, dataLines), nil
	}
	return Event{}, io.EOF
}

func buildEvent(kind string, dataLines []string) Event {
	evt := Event{Kind: EventKind(kind)}
	if len(dataLines) > 0 {
		evt.Data = json.RawMessage(strings.Join(dataLines, "\n"))
	}
	return evt
}

// Close releases the underlying connection. Any blocked or subsequent Next
// returns an error.
func (s *Subscription) Close() error {
	return s.body.Close()
}
