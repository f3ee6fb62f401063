// Package admin issues staff state-transition commands against a backend
// whose route layout is mid-migration, trying each known shape until one is
// accepted.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/aquamarinepk/aqm"

	"github.com/boothclub/booth/internal/backend"
	"github.com/boothclub/booth/internal/ordering"
)

// Action names the single legal forward edge from an order's current state.
type Action string

const (
	ActionConfirm        Action = "confirm"
	ActionStartPreparing Action = "start_preparing"
	ActionServe          Action = "serve"
)

// ActionFor returns the action that advances an order out of its current
// status, if one exists.
func ActionFor(status ordering.Status) (Action, bool) {
	switch status {
	case ordering.StatusPending:
		return ActionConfirm, true
	case ordering.StatusConfirmed:
		return ActionStartPreparing, true
	case ordering.StatusInProgress:
		return ActionServe, true
	default:
		return "", false
	}
}

// ErrSessionExpired means the staff credential was rejected and has been
// invalidated; the operator must sign in again.
var ErrSessionExpired = errors.New("staff session expired, sign in again")

// Channel issues transition commands with the staff credential.
type Channel struct {
	client *backend.Client
	logger aqm.Logger

	mu    sync.Mutex
	token string
}

func NewChannel(client *backend.Client, token string, logger aqm.Logger) *Channel {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Channel{client: client, token: token, logger: logger}
}

// SetToken installs a fresh staff credential after re-authentication.
func (c *Channel) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Authorized reports whether a credential is currently held.
func (c *Channel) Authorized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != ""
}

func (c *Channel) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Channel) invalidate() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// transitionVariant is one route/verb shape for the status command.
type transitionVariant struct {
	path        string
	actionQuery bool // action in the query string vs the request body
}

func variantsFor(orderID int64) []transitionVariant {
	direct := fmt.Sprintf("/orders/%d/status", orderID)
	prefixed := fmt.Sprintf("/admin/orders/%d/status", orderID)
	return []transitionVariant{
		{path: direct, actionQuery: true},
		{path: prefixed, actionQuery: true},
		{path: direct, actionQuery: false},
	}
}

// Transition requests the given action on the order, walking the route
// variants strictly in sequence. Route-shape rejections (404, 405, and 400s
// complaining about a missing action parameter) advance the ladder; any
// other failure is terminal. A 401 invalidates the credential immediately
// and surfaces ErrSessionExpired with no further variants tried.
func (c *Channel) Transition(ctx context.Context, orderID int64, action Action) error {
	token := c.currentToken()
	if token == "" {
		return ErrSessionExpired
	}

	var lastErr error
	for _, variant := range variantsFor(orderID) {
		req := backend.Request{
			Method:     http.MethodPatch,
			Path:       variant.path,
			AdminToken: token,
		}
		if variant.actionQuery {
			req.Query = url.Values{"action": []string{string(action)}}
		} else {
			req.Body = map[string]string{"action": string(action)}
		}

		_, err := c.client.Do(ctx, req)
		if err == nil {
			c.logger.Info("order transitioned", "order_id", orderID, "action", string(action))
			return nil
		}

		var be *backend.Error
		if !errors.As(err, &be) {
			return err
		}

		if be.Status == http.StatusUnauthorized {
			c.invalidate()
			return fmt.Errorf("%w: %v", ErrSessionExpired, be.Reason)
		}

		if routeShapeRejected(be) {
			c.logger.Debug("route variant rejected, trying next",
				"order_id", orderID,
				"path", variant.path,
				"status", be.Status,
			)
			lastErr = err
			continue
		}

		return err
	}

	return lastErr
}

// routeShapeRejected distinguishes "this route shape does not exist here"
// from a real rejection of the command.
func routeShapeRejected(be *backend.Error) bool {
	switch be.Status {
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return true
	case http.StatusBadRequest:
		m := strings.ToLower(be.Reason)
		return strings.Contains(m, "action") &&
			(strings.Contains(m, "missing") || strings.Contains(m, "required"))
	default:
		return false
	}
}
