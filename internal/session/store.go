package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aquamarinepk/aqm"
)

// Store keeps one session per slug. Expiry is checked at read time against
// the wall clock; there is no background sweeper. A legacy single-slot mirror
// of the most recently written session is maintained for older consumers and
// is never authoritative when a slug-keyed session exists.
//
// When a path is configured the store persists itself as JSON so sessions
// survive a kiosk restart, mirroring the browser storage the web views use.
type Store struct {
	mu       sync.RWMutex
	path     string
	sessions map[string]*Session
	legacy   *Session
	logger   aqm.Logger
	now      func() time.Time
}

// storeState is the persisted shape.
type storeState struct {
	Sessions map[string]*Session `json:"sessions"`
	Legacy   *Session            `json:"legacy,omitempty"`
}

// NewStore creates an in-memory store.
func NewStore(logger aqm.Logger) *Store {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Store{
		sessions: make(map[string]*Session),
		logger:   logger,
		now:      time.Now,
	}
}

// NewFileStore creates a store backed by a JSON file. A missing or unreadable
// file yields an empty store; corrupt state is discarded, not fatal.
func NewFileStore(path string, logger aqm.Logger) *Store {
	s := NewStore(logger)
	s.path = path

	raw, err := os.ReadFile(path)
	if err != nil {
		return s
	}

	var state storeState
	if err := json.Unmarshal(raw, &state); err != nil {
		s.logger.Info("discarding corrupt session file", "path", path, "error", err)
		return s
	}
	if state.Sessions != nil {
		s.sessions = state.Sessions
	}
	s.legacy = state.Legacy
	return s
}

// Get returns the session for slug, or nil when none exists or the stored
// record has expired. Expired records are removed on detection.
func (s *Store) Get(slug string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[slug]
	if !ok {
		return nil
	}
	if sess.Expired(s.now()) {
		s.removeLocked(slug)
		return nil
	}
	return sess
}

// Set upserts the session for slug, computing its expiry from the
// server-provided TTL at write time, and syncs the legacy slot.
func (s *Store) Set(slug string, sess *Session, ttl time.Duration) {
	if sess == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess.Slug = slug
	sess.CreatedAt = now
	sess.ExpiresAt = now.Add(ttl)

	s.sessions[slug] = sess
	s.legacy = sess
	s.persistLocked()
}

// Remove deletes the session for slug and clears the legacy slot when it
// mirrors the same session.
func (s *Store) Remove(slug string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(slug)
}

func (s *Store) removeLocked(slug string) {
	delete(s.sessions, slug)
	if s.legacy != nil && s.legacy.Slug == slug {
		s.legacy = nil
	}
	s.persistLocked()
}

// Legacy returns the ungated single-slot session, if any and unexpired.
// Callers holding a slug must prefer Get.
func (s *Store) Legacy() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.legacy == nil || s.legacy.Expired(s.now()) {
		return nil
	}
	return s.legacy
}

// Len reports how many slug-keyed sessions are held, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// persistLocked writes the store state to disk. Must be called with s.mu
// held. Failures are logged and otherwise ignored; the in-memory state stays
// authoritative for this process.
func (s *Store) persistLocked() {
	if s.path == "" {
		return
	}

	state := storeState{Sessions: s.sessions, Legacy: s.legacy}
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		s.logger.Error("failed to encode session state", "error", err)
		return
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.logger.Error("failed to create session dir", "error", err)
		return
	}
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		s.logger.Error("failed to write session file", "error", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.logger.Error("failed to replace session file", "error", err)
	}
}
