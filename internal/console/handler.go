package console

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/go-chi/chi/v5"

	"github.com/boothclub/booth/internal/admin"
	"github.com/boothclub/booth/internal/ordering"
	"github.com/boothclub/booth/internal/queue"
	"github.com/boothclub/booth/internal/relay"
	"github.com/boothclub/booth/internal/stream"
)

// StatusPublisher republishes transitions for booth peripherals. Optional.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, evt relay.StatusEvent) error
}

// Handler serves the kitchen and admin displays: queue reads from the shared
// cache, transition commands through the admin channel, and an SSE endpoint
// the displays subscribe to.
type Handler struct {
	cache       *Cache
	adminCh     *admin.Channel
	broadcaster *Broadcaster
	publisher   StatusPublisher
	prepTime    time.Duration
	logger      aqm.Logger
}

func NewHandler(cache *Cache, adminCh *admin.Channel, broadcaster *Broadcaster, logger aqm.Logger) *Handler {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Handler{
		cache:       cache,
		adminCh:     adminCh,
		broadcaster: broadcaster,
		prepTime:    queue.DefaultPrepTime,
		logger:      logger,
	}
}

// SetPublisher installs the peripheral relay.
func (h *Handler) SetPublisher(p StatusPublisher) {
	h.publisher = p
}

// SetPrepTime overrides the per-order pacing used for wait estimates.
func (h *Handler) SetPrepTime(d time.Duration) {
	if d > 0 {
		h.prepTime = d
	}
}

// RegisterRoutes registers the console routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/kitchen/orders", h.KitchenOrders)
	r.Get("/admin/orders", h.AdminOrders)
	r.Get("/admin/orders/{id}/position", h.Position)
	r.Post("/admin/orders/{id}/transition", h.Transition)
	if h.broadcaster != nil {
		r.Get("/events", h.broadcaster.ServeHTTP)
	}
}

// Refresh re-fetches the active set over HTTP and fans out whatever changed.
// This is both the polling fallback and the reaction to a change signal.
func (h *Handler) Refresh(ctx context.Context) error {
	if h.cache.data == nil {
		return nil
	}
	set, err := h.cache.data.ActiveOrders(ctx)
	if err != nil {
		return err
	}
	h.fanOut(ctx, h.cache.ReplaceAll(set.All()))
	return nil
}

// Apply consumes status-stream events. Snapshots replace the cached set;
// change signals trigger a re-fetch of the active slice; keepalives are
// dropped.
func (h *Handler) Apply(kind stream.EventKind, payload json.RawMessage) {
	switch kind {
	case stream.KindSnapshot:
		var set ordering.ActiveOrders
		if err := json.Unmarshal(payload, &set); err != nil {
			h.logger.Error("failed to decode snapshot", "error", err)
			return
		}
		h.fanOut(context.Background(), h.cache.ReplaceAll(set.All()))
	case stream.KindChanged:
		if err := h.Refresh(context.Background()); err != nil {
			h.logger.Debug("re-fetch after change signal failed", "error", err)
		}
	case stream.KindKeepalive:
	default:
		// Unknown kinds are ignored for forward compatibility.
	}
}

// fanOut pushes changed orders to the SSE displays and the peripheral bus.
func (h *Handler) fanOut(ctx context.Context, changed []ordering.Order) {
	if len(changed) == 0 {
		return
	}
	if h.broadcaster != nil {
		h.broadcaster.Broadcast("orders-update", changed)
	}
	if h.publisher != nil {
		for _, o := range changed {
			evt := relay.StatusEvent{
				OrderID:   o.ID,
				Status:    string(o.Status),
				OrderType: string(o.OrderType),
			}
			if o.Table != nil {
				evt.Table = *o.Table
			}
			if err := h.publisher.PublishStatus(ctx, evt); err != nil {
				h.logger.Debug("relay publish failed", "order_id", o.ID, "error", err)
			}
		}
	}
}

// KitchenOrders returns the preparation board: confirmed and in-progress
// orders, oldest first.
func (h *Handler) KitchenOrders(w http.ResponseWriter, r *http.Request) {
	orders := h.cache.ByStatus(ordering.StatusConfirmed, ordering.StatusInProgress)
	aqm.RespondSuccess(w, orders)
}

// AdminOrders returns the whole active set, oldest first.
func (h *Handler) AdminOrders(w http.ResponseWriter, r *http.Request) {
	aqm.RespondSuccess(w, h.cache.All())
}

// Position returns the queue position and wait estimate for one order,
// derived from the same rule every other view uses.
func (h *Handler) Position(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	pos := queue.Waiting(h.cache.All(), id)
	aqm.RespondSuccess(w, positionResponse{
		Position:    pos.Position,
		Ahead:       pos.Ahead,
		WaitMinutes: int(queue.Wait(pos, h.prepTime).Minutes()),
	})
}

type positionResponse struct {
	Position    int `json:"position"`
	Ahead       int `json:"ahead"`
	WaitMinutes int `json:"wait_minutes"`
}

type transitionRequest struct {
	Action string `json:"action"`
}

// Transition advances an order along its single legal forward edge. When
// the request names no action, the next one is derived from the cached
// status.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	var req transitionRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	action := admin.Action(req.Action)
	if action == "" {
		cached, ok := h.cache.Get(id)
		if !ok {
			aqm.RespondError(w, http.StatusNotFound, "Order not found")
			return
		}
		next, ok := admin.ActionFor(cached.Status)
		if !ok {
			aqm.RespondError(w, http.StatusConflict, "Order is already in a terminal state")
			return
		}
		action = next
	}

	if err := h.adminCh.Transition(r.Context(), id, action); err != nil {
		if errors.Is(err, admin.ErrSessionExpired) {
			aqm.RespondError(w, http.StatusUnauthorized, "Staff session expired, sign in again")
			return
		}
		h.logger.Error("transition failed", "order_id", id, "action", string(action), "error", err)
		aqm.RespondError(w, http.StatusBadGateway, err.Error())
		return
	}

	// The stream will confirm the change; refreshing now just narrows the
	// window where the display shows the old status.
	if err := h.Refresh(r.Context()); err != nil {
		h.logger.Debug("post-transition refresh failed", "error", err)
	}

	aqm.RespondSuccess(w, map[string]any{"order_id": id, "action": string(action)})
}
