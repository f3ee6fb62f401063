package session

import "time"

// Channel is the ordering mode a session was opened for.
type Channel string

const (
	ChannelDineIn  Channel = "DINEIN"
	ChannelTakeout Channel = "TAKEOUT"
)

// Session is one table-scoped session issued by the backend. It is keyed by
// slug in the store; the token is opaque and presented back to the backend on
// every authenticated call.
type Session struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Token     string    `json:"token"`
	SessionID int64     `json:"session_id"`
	TableID   int64     `json:"table_id"`
	TableNum  string    `json:"table_number,omitempty"`
	Channel   Channel   `json:"channel"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session's absolute TTL has passed.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Matches reports whether the session belongs to the caller's context.
func (s *Session) Matches(slug string, channel Channel) bool {
	return s.Slug == slug && s.Channel == channel
}

// Valid is the full usability check: right slug, right channel, not expired.
func (s *Session) Valid(slug string, channel Channel, now time.Time) bool {
	return s.Matches(slug, channel) && !s.Expired(now)
}
