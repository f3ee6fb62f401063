package console

import (
	"context"
	"fmt"
	"net/http"

	"github.com/boothclub/booth/internal/backend"
	"github.com/boothclub/booth/internal/ordering"
)

// OrderDataAccess centralizes decoding of the backend's active-order
// responses. With an admin token it hits the staff-scoped route; without one
// it reads the public slice the customer views use.
type OrderDataAccess struct {
	client     *backend.Client
	adminToken string
}

func NewOrderDataAccess(client *backend.Client, adminToken string) *OrderDataAccess {
	return &OrderDataAccess{client: client, adminToken: adminToken}
}

// ActiveOrders fetches the full active set.
func (da *OrderDataAccess) ActiveOrders(ctx context.Context) (ordering.ActiveOrders, error) {
	var set ordering.ActiveOrders
	if da == nil || da.client == nil {
		return set, fmt.Errorf("order client not configured")
	}

	resp, err := da.client.Do(ctx, backend.Request{
		Method:     http.MethodGet,
		Path:       "/orders/active",
		AdminToken: da.adminToken,
	})
	if err != nil {
		return set, err
	}

	if err := backend.DecodeData(resp, &set); err != nil {
		return set, fmt.Errorf("decode active orders: %w", err)
	}
	return set, nil
}
