// Package session provides in-memory conversation state for the
// comparison engine: one session holds an independent history per
// roster model, plus the at-most-one-active-generation latch.
//
// Information Hiding:
// - Map storage structure hidden from users
// - Thread-safe access via per-session mutex
// - Truncation policy applied internally on user appends
//
// Nothing persists; every session dies with the process.

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ansari-project/ansari-agent/config"
	"github.com/ansari-project/ansari-agent/model"
)

var (
	// ErrNotFound is returned when no session has the given id.
	ErrNotFound = errors.New("session not found")
	// ErrBusy is returned when a session already has a generation running.
	ErrBusy = errors.New("session has an active generation")
	// ErrOverloaded is returned when the store is full of busy sessions.
	ErrOverloaded = errors.New("session store at capacity")
)

// Session is one user conversation. Each roster model keeps its own
// history so the backends never see each other's answers.
type Session struct {
	ID      string
	Created time.Time

	mu         sync.Mutex
	histories  map[string][]model.Turn
	modelIDs   []string
	lastActive time.Time
	cancel     context.CancelFunc // non-nil while a generation runs
}

func newSession(id string, modelIDs []string) *Session {
	now := time.Now()
	histories := make(map[string][]model.Turn, len(modelIDs))
	ids := make([]string, len(modelIDs))
	copy(ids, modelIDs)
	for _, m := range ids {
		histories[m] = nil
	}
	return &Session{
		ID:         id,
		Created:    now,
		histories:  histories,
		modelIDs:   ids,
		lastActive: now,
	}
}

// ModelIDs returns the roster ids this session tracks, in order.
func (s *Session) ModelIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.modelIDs))
	copy(ids, s.modelIDs)
	return ids
}

// LastActive returns the time of the last append, generation start, or
// generation end.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Busy reports whether a generation is currently running.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// AppendUserTurn appends the same user message to every model's history
// and truncates each to the retention policy.
func (s *Session) AppendUserTurn(text string) {
	turn := model.NewUserTurn(text)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.modelIDs {
		h := append(s.histories[m], turn)
		s.histories[m] = truncate(h)
	}
	s.lastActive = time.Now()
}

// CommitAssistantTurn appends one model's completed (or partial)
// assistant turn. Empty turns are dropped.
func (s *Session) CommitAssistantTurn(modelID string, turn model.Turn) {
	if len(turn.Blocks) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.histories[modelID]; !ok {
		return
	}
	s.histories[modelID] = append(s.histories[modelID], turn)
	s.lastActive = time.Now()
}

// History returns a deep copy of one model's history.
func (s *Session) History(modelID string) []model.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneHistory(s.histories[modelID])
}

// TurnCount returns the longest per-model history length, a cheap
// health signal.
func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := 0
	for _, h := range s.histories {
		if len(h) > max {
			max = len(h)
		}
	}
	return max
}

// BeginGeneration latches the session busy and records the cancel
// function for the running generation. Returns ErrBusy if one is
// already active.
func (s *Session) BeginGeneration(cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrBusy
	}
	s.cancel = cancel
	s.lastActive = time.Now()
	return nil
}

// EndGeneration releases the busy latch. Safe to call when idle.
func (s *Session) EndGeneration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = nil
	s.lastActive = time.Now()
}

// Cancel aborts the active generation if there is one. Idempotent:
// returns false when the session is idle.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// truncate keeps the newest turns, bounded by both the turn cap and the
// estimated token cap. Whole turns only; the newest turn always stays.
func truncate(history []model.Turn) []model.Turn {
	if len(history) > config.MaxHistoryTurns {
		history = history[len(history)-config.MaxHistoryTurns:]
	}

	total := 0
	for _, t := range history {
		total += t.EstimatedTokens()
	}
	for total > config.MaxHistoryTokens && len(history) > 1 {
		total -= history[0].EstimatedTokens()
		history = history[1:]
	}
	return history
}
