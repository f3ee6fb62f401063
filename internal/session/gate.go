package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/google/uuid"

	"github.com/boothclub/booth/internal/backend"
)

// Gate failure reasons, each distinct so the view layer can render actionable
// guidance instead of a raw status code.
var (
	// ErrNoSession means a dine-in caller has no stored session; the user
	// must be prompted for the table access code.
	ErrNoSession = errors.New("no session for this table, enter the access code")

	// ErrInvalidCode means the entered access code was rejected.
	ErrInvalidCode = errors.New("access code was not accepted, enter it again")

	// ErrTableNotFound means the slug does not name an active table.
	ErrTableNotFound = errors.New("this table is not available right now")

	// ErrServerMisconfigured means the backend refused to open sessions at
	// all; staff need to check the booth configuration.
	ErrServerMisconfigured = errors.New("ordering is not set up yet, ask the staff")

	// ErrBadSlug means the takeout slug was malformed.
	ErrBadSlug = errors.New("this ordering link is not valid")
)

// Options tunes EnsureValid.
type Options struct {
	// AlwaysRefresh discards any stored session and opens a fresh one.
	// Used for takeout, where server-side session state may be stale and
	// identity is anonymous and safely re-mintable.
	AlwaysRefresh bool
}

// Gate acquires sessions and repairs ones that have expired or no longer
// match the caller's context. It owns no session state; the store does.
type Gate struct {
	store  *Store
	client *backend.Client
	logger aqm.Logger
}

func NewGate(store *Store, client *backend.Client, logger aqm.Logger) *Gate {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Gate{store: store, client: client, logger: logger}
}

// openSessionPayload mirrors the backend's session-open response.
type openSessionPayload struct {
	SessionToken string `json:"session_token"`
	SessionID    int64  `json:"session_id"`
	Table        struct {
		ID     int64  `json:"id"`
		Number string `json:"number"`
	} `json:"table"`
	Channel   string `json:"channel"`
	AbsTTLMin int    `json:"abs_ttl_min"`
}

// OpenDineIn opens a code-gated dine-in session for the table slug.
func (g *Gate) OpenDineIn(ctx context.Context, slug, code string) (*Session, error) {
	resp, err := g.client.Do(ctx, backend.Request{
		Method: http.MethodPost,
		Path:   "/sessions/open-by-slug",
		Body:   map[string]string{"slug": slug, "code": code},
	})
	if err != nil {
		return nil, mapOpenError(err, map[int]error{
			http.StatusUnprocessableEntity: ErrInvalidCode,
			http.StatusNotFound:            ErrTableNotFound,
			http.StatusUnauthorized:        ErrServerMisconfigured,
		})
	}

	sess, ttl, err := g.decodeSession(resp, slug)
	if err != nil {
		return nil, err
	}
	g.store.Set(slug, sess, ttl)
	g.logger.Info("opened dine-in session", "slug", slug, "session_id", sess.SessionID)
	return sess, nil
}

// OpenTakeout opens an anonymous takeout session. No code is required.
func (g *Gate) OpenTakeout(ctx context.Context, slug string) (*Session, error) {
	resp, err := g.client.Do(ctx, backend.Request{
		Method: http.MethodPost,
		Path:   "/sessions/takeout/open",
		Body:   map[string]string{"slug": slug},
	})
	if err != nil {
		return nil, mapOpenError(err, map[int]error{
			http.StatusBadRequest: ErrBadSlug,
			http.StatusNotFound:   ErrTableNotFound,
		})
	}

	sess, ttl, err := g.decodeSession(resp, slug)
	if err != nil {
		return nil, err
	}
	g.store.Set(slug, sess, ttl)
	g.logger.Info("opened takeout session", "slug", slug, "session_id", sess.SessionID)
	return sess, nil
}

// EnsureValid returns a usable session for the slug and channel, repairing
// stale state along the way:
//
//   - no session: takeout opens one silently, dine-in fails with ErrNoSession
//     so the caller can prompt for the access code;
//   - wrong channel, wrong slug, or expired: the record is removed and the
//     no-session policy above applies;
//   - opts.AlwaysRefresh: any stored session is discarded first.
//
// For takeout every path is idempotent from the caller's point of view.
func (g *Gate) EnsureValid(ctx context.Context, slug string, channel Channel, opts Options) (*Session, error) {
	if opts.AlwaysRefresh {
		g.store.Remove(slug)
	}

	if sess := g.store.Get(slug); sess != nil {
		if sess.Valid(slug, channel, time.Now()) {
			return sess, nil
		}
		g.logger.Debug("discarding unusable session",
			"slug", slug,
			"stored_channel", string(sess.Channel),
			"wanted_channel", string(channel),
		)
		g.store.Remove(slug)
	}

	if channel == ChannelTakeout {
		return g.OpenTakeout(ctx, slug)
	}
	return nil, ErrNoSession
}

// Invalidate removes the stored session for slug, typically after the
// backend rejected its token outright.
func (g *Gate) Invalidate(slug string) {
	g.store.Remove(slug)
}

func (g *Gate) decodeSession(resp *backend.Response, slug string) (*Session, time.Duration, error) {
	var payload openSessionPayload
	if err := backend.DecodeData(resp, &payload); err != nil {
		return nil, 0, fmt.Errorf("decode session response: %w", err)
	}
	if payload.SessionToken == "" {
		return nil, 0, errors.New("backend returned a session without a token")
	}

	channel := Channel(payload.Channel)
	if channel != ChannelDineIn && channel != ChannelTakeout {
		return nil, 0, fmt.Errorf("backend returned unknown channel %q", payload.Channel)
	}

	ttl := time.Duration(payload.AbsTTLMin) * time.Minute
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	return &Session{
		ID:        uuid.New().String(),
		Slug:      slug,
		Token:     payload.SessionToken,
		SessionID: payload.SessionID,
		TableID:   payload.Table.ID,
		TableNum:  payload.Table.Number,
		Channel:   channel,
	}, ttl, nil
}

// mapOpenError swaps backend rejections for the gate's user-facing reasons,
// keeping the original error in the chain.
func mapOpenError(err error, byStatus map[int]error) error {
	var be *backend.Error
	if errors.As(err, &be) {
		if mapped, ok := byStatus[be.Status]; ok {
			return fmt.Errorf("%w: %v", mapped, be.Reason)
		}
	}
	return err
}
