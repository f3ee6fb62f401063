// Package kiosk is the customer-facing HTTP surface of the booth client. It
// fronts the session gate and the order submitter for the browser UI served
// at the table QR code.
package kiosk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/go-chi/chi/v5"

	"github.com/boothclub/booth/internal/backend"
	"github.com/boothclub/booth/internal/ordering"
	"github.com/boothclub/booth/internal/queue"
	"github.com/boothclub/booth/internal/session"
	"github.com/boothclub/booth/internal/stream"
)

// Handler exposes the customer flows: opening a session, submitting an
// order, and checking queue position.
type Handler struct {
	gate      *session.Gate
	submitter *ordering.Submitter
	client    *backend.Client
	stream    *stream.Client
	prepTime  time.Duration
	logger    aqm.Logger
}

func NewHandler(gate *session.Gate, submitter *ordering.Submitter, client *backend.Client, logger aqm.Logger) *Handler {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Handler{
		gate:      gate,
		submitter: submitter,
		client:    client,
		prepTime:  queue.DefaultPrepTime,
		logger:    logger,
	}
}

// SetPrepTime overrides the per-order pacing used for wait estimates.
func (h *Handler) SetPrepTime(d time.Duration) {
	if d > 0 {
		h.prepTime = d
	}
}

// SetStream enables the /events passthrough of the backend status stream.
func (h *Handler) SetStream(c *stream.Client) {
	h.stream = c
}

// RegisterRoutes registers the kiosk routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions/dinein", h.OpenDineIn)
	r.Post("/sessions/takeout", h.OpenTakeout)
	r.Post("/orders", h.SubmitOrder)
	r.Get("/orders/{id}/position", h.Position)
	if h.stream != nil {
		r.Get("/events", h.Events)
	}
}

type openDineInRequest struct {
	Slug string `json:"slug"`
	Code string `json:"code"`
}

type openTakeoutRequest struct {
	Slug string `json:"slug"`
}

type sessionResponse struct {
	Slug        string `json:"slug"`
	Channel     string `json:"channel"`
	TableNumber string `json:"table_number,omitempty"`
}

// OpenDineIn opens a code-gated dine-in session for a table slug.
func (h *Handler) OpenDineIn(w http.ResponseWriter, r *http.Request) {
	var req openDineInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Slug == "" {
		aqm.RespondError(w, http.StatusBadRequest, "Slug is required")
		return
	}
	if req.Code == "" {
		aqm.RespondError(w, http.StatusBadRequest, "Access code is required")
		return
	}

	sess, err := h.gate.OpenDineIn(r.Context(), req.Slug, req.Code)
	if err != nil {
		h.respondGateError(w, err)
		return
	}

	aqm.RespondSuccess(w, sessionResponse{
		Slug:        sess.Slug,
		Channel:     string(sess.Channel),
		TableNumber: sess.TableNum,
	})
}

// OpenTakeout opens an anonymous takeout session.
func (h *Handler) OpenTakeout(w http.ResponseWriter, r *http.Request) {
	var req openTakeoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Slug == "" {
		aqm.RespondError(w, http.StatusBadRequest, "Slug is required")
		return
	}

	sess, err := h.gate.OpenTakeout(r.Context(), req.Slug)
	if err != nil {
		h.respondGateError(w, err)
		return
	}

	aqm.RespondSuccess(w, sessionResponse{
		Slug:    sess.Slug,
		Channel: string(sess.Channel),
	})
}

type submitRequest struct {
	Slug      string          `json:"slug"`
	Channel   string          `json:"channel"`
	PayerName string          `json:"payer_name"`
	Items     []ordering.Item `json:"items"`
}

type submitResponse struct {
	OrderID int64 `json:"order_id"`
}

// SubmitOrder turns the assembled cart into an order.
func (h *Handler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Slug == "" {
		aqm.RespondError(w, http.StatusBadRequest, "Slug is required")
		return
	}

	channel := session.Channel(req.Channel)
	if channel != session.ChannelDineIn && channel != session.ChannelTakeout {
		aqm.RespondError(w, http.StatusBadRequest, "Channel must be DINEIN or TAKEOUT")
		return
	}

	cart := ordering.Cart{PayerName: req.PayerName, Items: req.Items}
	orderID, err := h.submitter.Submit(r.Context(), cart, req.Slug, channel)
	if err != nil {
		h.respondSubmitError(w, err)
		return
	}

	aqm.RespondSuccess(w, submitResponse{OrderID: orderID})
}

type positionResponse struct {
	Position    int `json:"position"`
	Ahead       int `json:"ahead"`
	WaitMinutes int `json:"wait_minutes"`
}

// Position reports the order's place in the waiting queue, computed from the
// backend's public active slice.
func (h *Handler) Position(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	orders, err := h.fetchActive(r.Context())
	if err != nil {
		h.logger.Error("failed to fetch active orders", "error", err)
		aqm.RespondError(w, http.StatusBadGateway, "Could not reach the ordering service")
		return
	}

	pos := queue.Waiting(orders, id)
	aqm.RespondSuccess(w, positionResponse{
		Position:    pos.Position,
		Ahead:       pos.Ahead,
		WaitMinutes: int(queue.Wait(pos, h.prepTime).Minutes()),
	})
}

// fetchActive reads the public active slice. No credential: customers see the
// same queue the pickup screen shows.
func (h *Handler) fetchActive(ctx context.Context) ([]ordering.Order, error) {
	resp, err := h.client.Do(ctx, backend.Request{
		Method: http.MethodGet,
		Path:   "/orders/active",
	})
	if err != nil {
		return nil, err
	}
	var set ordering.ActiveOrders
	if err := backend.DecodeData(resp, &set); err != nil {
		return nil, err
	}
	return set.All(), nil
}

// Events re-frames the backend status stream for the customer page. One
// upstream connection per browser; the page's EventSource handles reconnects,
// and its poll timer covers the gap when the upstream is down.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	sub, err := h.stream.Connect(r.Context())
	if err != nil {
		h.logger.Info("status stream unavailable", "error", err)
		aqm.RespondError(w, http.StatusBadGateway, "Live updates are unavailable, showing polled status")
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	fmt.Fprintf(w, ": connected\n\n")
	fmt.Fprintf(w, "retry: 2000\n\n")
	flush(w)

	for {
		evt, err := sub.Next()
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\n", string(evt.Kind))
		if len(evt.Data) > 0 {
			for _, line := range strings.Split(string(evt.Data), "\n") {
				fmt.Fprintf(w, "data: %s\n", line)
			}
		}
		fmt.Fprintf(w, "\n")
		flush(w)
	}
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// respondGateError maps session-gate failures to statuses the UI renders as
// distinct prompts.
func (h *Handler) respondGateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidCode):
		aqm.RespondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, session.ErrTableNotFound):
		aqm.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrBadSlug):
		aqm.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrServerMisconfigured):
		aqm.RespondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("session open failed", "error", err)
		aqm.RespondError(w, http.StatusBadGateway, "Could not reach the ordering service")
	}
}

func (h *Handler) respondSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNoSession):
		// Dine-in with no usable session: the UI must prompt for the code.
		aqm.RespondError(w, http.StatusUnauthorized, err.Error())
	case backend.IsCode(err, backend.CodeAuthExpired):
		aqm.RespondError(w, http.StatusUnauthorized, session.ErrNoSession.Error())
	case backend.IsCode(err, backend.CodeValidation):
		aqm.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		var be *backend.Error
		if !errors.As(err, &be) {
			// Local cart validation failures arrive as plain errors.
			if errors.Is(err, session.ErrTableNotFound) || errors.Is(err, session.ErrBadSlug) {
				h.respondGateError(w, err)
				return
			}
			aqm.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("order submission failed", "error", err)
		aqm.RespondError(w, http.StatusBadGateway, err.Error())
	}
}
