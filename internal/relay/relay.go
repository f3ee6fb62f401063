// Package relay republishes order status changes onto the booth's local NATS
// bus so peripherals (ticket printer, chime box) can react without their own
// backend access. The backend itself knows nothing about this bus.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// StatusTopic carries order status transitions.
	StatusTopic = "booth.orders.status"

	EventOrderStatusChanged = "order.status_changed"
)

// StatusEvent is the payload peripherals consume.
type StatusEvent struct {
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	OrderID    int64     `json:"order_id"`
	Status     string    `json:"status"`
	OrderType  string    `json:"order_type"`
	Table      string    `json:"table,omitempty"`
}

// Publisher is a thin wrapper over a NATS connection.
type Publisher struct {
	conn *nats.Conn
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Publisher{conn: conn}, nil
}

// PublishStatus emits one status transition.
func (p *Publisher) PublishStatus(ctx context.Context, evt StatusEvent) error {
	if evt.EventType == "" {
		evt.EventType = EventOrderStatusChanged
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.conn.Publish(StatusTopic, data)
}

func (p *Publisher) Close() error {
	p.conn.Close()
	return nil
}
