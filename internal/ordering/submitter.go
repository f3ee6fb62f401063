package ordering

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/google/uuid"

	"github.com/boothclub/booth/internal/backend"
	"github.com/boothclub/booth/internal/session"
)

// Submitter turns a cart into exactly one accepted order. Guarantees:
//
//   - one idempotency key per logical submission, reused verbatim across the
//     auth-presentation retries so the backend can deduplicate;
//   - a fresh key whenever a new session is minted, since that retry could
//     legitimately be a new order from the backend's point of view;
//   - takeout sessions rejected as stale are re-opened once and the attempt
//     replayed; dine-in rejections surface to the caller, whose user must
//     re-enter the table code.
type Submitter struct {
	gate   *session.Gate
	client *backend.Client
	logger aqm.Logger

	// mintKey is swappable in tests.
	mintKey func(slug string) string
}

func NewSubmitter(gate *session.Gate, client *backend.Client, logger aqm.Logger) *Submitter {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Submitter{
		gate:    gate,
		client:  client,
		logger:  logger,
		mintKey: mintIdempotencyKey,
	}
}

// mintIdempotencyKey builds a key unique per submission attempt, scoped to
// the slug with a timestamp and random suffix.
func mintIdempotencyKey(slug string) string {
	return fmt.Sprintf("%s-%d-%s", slug, time.Now().UnixMilli(), uuid.NewString()[:8])
}

// orderRequest is the wire payload for POST /orders.
type orderRequest struct {
	OrderType OrderType `json:"order_type"`
	PayerName string    `json:"payer_name"`
	Items     []Item    `json:"items"`
}

type orderIDPayload struct {
	OrderID int64 `json:"order_id"`
}

// Submit sends the cart as an order for the table slug and returns the
// accepted order id. The caller is responsible for remembering it; the
// submitter caches nothing.
func (s *Submitter) Submit(ctx context.Context, cart Cart, slug string, channel session.Channel) (int64, error) {
	if err := cart.Validate(); err != nil {
		return 0, err
	}

	sess, err := s.gate.EnsureValid(ctx, slug, channel, session.Options{})
	if err != nil {
		return 0, err
	}

	payload := orderRequest{
		OrderType: OrderTypeFor(channel),
		PayerName: cart.PayerName,
		Items:     cart.Items,
	}

	key := s.mintKey(slug)
	id, err := s.attempt(ctx, payload, sess, key)
	if err == nil {
		return id, nil
	}

	// A stale takeout session is a one-time recoverable condition: takeout
	// identity is anonymous and safely re-mintable. Dine-in identity is
	// tied to a human-entered code, so it is never refreshed silently.
	if channel == session.ChannelTakeout && backend.IsCode(err, backend.CodeAuthExpired) {
		s.logger.Info("takeout session rejected, re-opening and retrying", "slug", slug)
		s.gate.Invalidate(slug)

		sess, err = s.gate.EnsureValid(ctx, slug, channel, session.Options{AlwaysRefresh: true})
		if err != nil {
			return 0, err
		}

		// New session means the backend may treat the replay as a new
		// order, so the key must be fresh too.
		key = s.mintKey(slug)
		return s.attempt(ctx, payload, sess, key)
	}

	return 0, err
}

// attempt sends one logical submission, walking the auth-presentation ladder
// on auth-shaped rejections. Key and payload are identical on every rung;
// rungs run strictly sequentially. The first success wins; otherwise the last
// error is surfaced.
func (s *Submitter) attempt(ctx context.Context, payload orderRequest, sess *session.Session, key string) (int64, error) {
	var lastErr error

	for _, style := range backend.AuthLadder() {
		resp, err := s.client.Do(ctx, backend.Request{
			Method:         http.MethodPost,
			Path:           "/orders",
			Body:           payload,
			Token:          sess.Token,
			Style:          style,
			IdempotencyKey: key,
		})
		if err == nil {
			var accepted orderIDPayload
			if decodeErr := backend.DecodeData(resp, &accepted); decodeErr != nil {
				return 0, fmt.Errorf("decode order response: %w", decodeErr)
			}
			s.logger.Info("order accepted", "slug", sess.Slug, "order_id", accepted.OrderID)
			return accepted.OrderID, nil
		}

		lastErr = err
		if !backend.IsCode(err, backend.CodeAuthExpired) {
			// Only auth-presentation problems are worth another rung;
			// anything else is a real answer.
			break
		}
		s.logger.Debug("auth presentation rejected, trying next variant", "slug", sess.Slug)
	}

	return 0, lastErr
}
