// Session registry with a hard cap, idle-LRU eviction, and a TTL
// reaper.
//
// Lock ordering: the registry mutex may be held while taking a
// per-session mutex, never the reverse. Sessions hold no reference to
// the registry, so the order cannot invert. Background scans copy the
// session slice under the registry lock, then query each session on
// its own lock.

package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ansari-project/ansari-agent/config"
)

// Store manages all live sessions.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	logger *slog.Logger
	done   chan struct{}
	once   sync.Once
}

// NewStore creates a store and starts its background reaper.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		sessions: make(map[string]*Session),
		logger:   logger,
		done:     make(chan struct{}),
	}
	go s.reapLoop()
	return s
}

// Create makes a new session tracking the given roster models. When the
// store is full it evicts the least recently used idle session; if
// every session is busy it returns ErrOverloaded. The capacity check,
// eviction, and insert happen in one write-locked section so concurrent
// creates cannot overshoot the cap.
func (s *Store) Create(modelIDs []string) (*Session, error) {
	sess := newSession(uuid.NewString(), modelIDs)

	var evicted string
	s.mu.Lock()
	if len(s.sessions) >= config.MaxSessions {
		var victim *Session
		for _, candidate := range s.sessions {
			if candidate.Busy() {
				continue
			}
			if victim == nil || candidate.LastActive().Before(victim.LastActive()) {
				victim = candidate
			}
		}
		if victim == nil {
			s.mu.Unlock()
			return nil, ErrOverloaded
		}
		delete(s.sessions, victim.ID)
		evicted = victim.ID
	}
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	if evicted != "" {
		s.logger.Info("session evicted", "session_id", evicted, "reason", "capacity")
	}
	s.logger.Info("session created", "session_id", sess.ID)
	return sess, nil
}

// Get returns the session with the given id.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Remove deletes a session outright.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Shutdown stops the reaper and cancels every active generation.
func (s *Store) Shutdown() {
	s.once.Do(func() { close(s.done) })
	for _, sess := range s.snapshot() {
		if sess.Cancel() {
			s.logger.Info("cancelled active generation on shutdown", "session_id", sess.ID)
		}
	}
}

// snapshot copies the session list so callers can inspect sessions
// without holding the registry lock.
func (s *Store) snapshot() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

func (s *Store) reapLoop() {
	ticker := time.NewTicker(config.ReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.reap()
		case <-s.done:
			return
		}
	}
}

// reap removes sessions idle past the TTL. Busy sessions are skipped;
// their TTL clock restarts when the generation ends.
func (s *Store) reap() {
	cutoff := time.Now().Add(-config.SessionTTL)
	for _, sess := range s.snapshot() {
		if sess.Busy() || sess.LastActive().After(cutoff) {
			continue
		}
		s.mu.Lock()
		delete(s.sessions, sess.ID)
		s.mu.Unlock()
		s.logger.Info("session expired", "session_id", sess.ID)
	}
}
