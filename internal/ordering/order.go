package ordering

import (
	"errors"
	"time"

	"github.com/boothclub/booth/internal/session"
)

// Status is an order's place in the preparation lifecycle. The backend owns
// the state machine; clients only request transitions and reflect what comes
// back.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusServed     Status = "served"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusServed || s == StatusCanceled
}

// Next returns the single legal forward status, if any. Cancellation is
// reachable from any non-terminal state and is not part of the forward path.
func (s Status) Next() (Status, bool) {
	switch s {
	case StatusPending:
		return StatusConfirmed, true
	case StatusConfirmed:
		return StatusInProgress, true
	case StatusInProgress:
		return StatusServed, true
	default:
		return "", false
	}
}

// OrderType is the ordering mode recorded on the order itself.
type OrderType string

const (
	OrderTypeDineIn  OrderType = "dine_in"
	OrderTypeTakeout OrderType = "takeout"
)

// OrderTypeFor maps a session channel to the order type it produces.
func OrderTypeFor(channel session.Channel) OrderType {
	if channel == session.ChannelTakeout {
		return OrderTypeTakeout
	}
	return OrderTypeDineIn
}

// Item is one cart line.
type Item struct {
	ProductID int64   `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Name      string  `json:"name"`
	LineTotal float64 `json:"line_total"`
}

// Cart is what the customer assembled before submitting.
type Cart struct {
	PayerName string `json:"payer_name"`
	Items     []Item `json:"items"`
}

// Total sums the line totals.
func (c Cart) Total() float64 {
	var total float64
	for _, item := range c.Items {
		total += item.LineTotal
	}
	return total
}

var (
	errEmptyCart   = errors.New("cart is empty, add something first")
	errBadQuantity = errors.New("item quantities must be at least 1")
)

// Validate rejects carts the backend would refuse anyway, before any network
// call is made.
func (c Cart) Validate() error {
	if len(c.Items) == 0 {
		return errEmptyCart
	}
	for _, item := range c.Items {
		if item.Quantity < 1 {
			return errBadQuantity
		}
	}
	return nil
}

// Order is the backend's view of a submitted order. The table is nil for
// takeout orders.
type Order struct {
	ID          int64     `json:"id"`
	Status      Status    `json:"status"`
	OrderType   OrderType `json:"order_type"`
	Table       *string   `json:"table"`
	PayerName   string    `json:"payer_name"`
	Items       []Item    `json:"items"`
	TotalAmount float64   `json:"total_amount"`
	CreatedAt   time.Time `json:"created_at"`
}

// Active reports whether the order is still in the preparation queue.
func (o Order) Active() bool {
	return !o.Status.Terminal()
}

// ActiveOrders is the admin-scoped active set, sliced the way the displays
// consume it.
type ActiveOrders struct {
	Urgent    []Order `json:"urgent"`
	Waiting   []Order `json:"waiting"`
	Preparing []Order `json:"preparing"`
}

// All flattens the slices in urgency order.
func (a ActiveOrders) All() []Order {
	out := make([]Order, 0, len(a.Urgent)+len(a.Waiting)+len(a.Preparing))
	out = append(out, a.Urgent...)
	out = append(out, a.Waiting...)
	out = append(out, a.Preparing...)
	return out
}
