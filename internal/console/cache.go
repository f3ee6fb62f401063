package console

import (
	"context"
	"sort"
	"sync"

	"github.com/aquamarinepk/aqm"

	"github.com/boothclub/booth/internal/ordering"
)

// Cache holds the staff displays' in-memory view of the active order set,
// indexed by status for the kitchen board. It is fed by the status stream
// with an HTTP fallback; both paths replace the whole set, since the backend
// is authoritative and the set is booth-sized.
type Cache struct {
	mu       sync.RWMutex
	orders   map[int64]ordering.Order
	byStatus map[ordering.Status][]int64

	data   *OrderDataAccess
	logger aqm.Logger
}

func NewCache(data *OrderDataAccess, logger aqm.Logger) *Cache {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Cache{
		orders:   make(map[int64]ordering.Order),
		byStatus: make(map[ordering.Status][]int64),
		data:     data,
		logger:   logger,
	}
}

// Warm loads the active set over HTTP. Used at startup and as the polling
// refresh when the stream is down.
func (c *Cache) Warm(ctx context.Context) error {
	if c.data == nil {
		c.logger.Info("no order data access configured, cache remains empty")
		return nil
	}

	set, err := c.data.ActiveOrders(ctx)
	if err != nil {
		return err
	}
	changed := c.ReplaceAll(set.All())
	c.logger.Debug("cache warmed", "orders", c.Len(), "changed", len(changed))
	return nil
}

// ReplaceAll swaps the cached set for the given one, dropping terminal
// orders, and returns the orders that are new or changed status since the
// previous view, for fan-out to displays.
func (c *Cache) ReplaceAll(orders []ordering.Order) []ordering.Order {
	c.mu.Lock()
	defer c.mu.Unlock()

	var changed []ordering.Order
	next := make(map[int64]ordering.Order, len(orders))
	for _, o := range orders {
		if o.Status.Terminal() {
			// A terminal order still in the feed is a transition the
			// displays should hear about once.
			if prev, ok := c.orders[o.ID]; ok && prev.Status != o.Status {
				changed = append(changed, o)
			}
			continue
		}
		next[o.ID] = o
		if prev, ok := c.orders[o.ID]; !ok || prev.Status != o.Status {
			changed = append(changed, o)
		}
	}

	c.orders = next
	c.byStatus = make(map[ordering.Status][]int64, 4)
	for id, o := range next {
		c.byStatus[o.Status] = append(c.byStatus[o.Status], id)
	}

	return changed
}

// Get returns the cached order and whether it is present.
func (c *Cache) Get(id int64) (ordering.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.orders[id]
	return o, ok
}

// ByStatus returns cached orders in the given status, oldest first.
func (c *Cache) ByStatus(statuses ...ordering.Status) []ordering.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []ordering.Order
	for _, status := range statuses {
		for _, id := range c.byStatus[status] {
			out = append(out, c.orders[id])
		}
	}
	sortByCreation(out)
	return out
}

// All returns every cached order, oldest first.
func (c *Cache) All() []ordering.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ordering.Order, 0, len(c.orders))
	for _, o := range c.orders {
		out = append(out, o)
	}
	sortByCreation(out)
	return out
}

// Len reports how many active orders are cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.orders)
}

func sortByCreation(orders []ordering.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
}
