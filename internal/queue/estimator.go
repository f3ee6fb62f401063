// Package queue computes customer-facing waiting positions from a shared
// order set. The rule is deterministic on purpose: every view (customer,
// kitchen, admin) must derive the identical answer from the same input.
package queue

import (
	"sort"
	"time"

	"github.com/boothclub/booth/internal/ordering"
)

// Position is a 1-based place in the preparation queue. A zero Position
// means the target order is no longer waiting (terminal or absent).
type Position struct {
	Position int `json:"position"`
	Ahead    int `json:"ahead"`
}

// Waiting filters the active set to non-terminal orders, sorts by creation
// time ascending with ties broken by stable input order, and locates the
// target.
func Waiting(orders []ordering.Order, targetID int64) Position {
	active := make([]ordering.Order, 0, len(orders))
	for _, o := range orders {
		if o.Active() {
			active = append(active, o)
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})

	for i, o := range active {
		if o.ID == targetID {
			return Position{Position: i + 1, Ahead: i}
		}
	}
	return Position{}
}

// DefaultPrepTime is the pacing assumed per queued order when the booth has
// not configured its own.
const DefaultPrepTime = 4 * time.Minute

// Wait estimates how long the target order will take, as queue position
// times the per-order preparation pacing. Zero when no longer waiting.
func Wait(p Position, perOrder time.Duration) time.Duration {
	if p.Position == 0 {
		return 0
	}
	if perOrder <= 0 {
		perOrder = DefaultPrepTime
	}
	return time.Duration(p.Position) * perOrder
}
