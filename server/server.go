// Package server exposes the comparison engine over HTTP: a query
// endpoint that starts a generation, an SSE endpoint that streams the
// merged event feed, and cancel/health/debug endpoints.
//
// Information Hiding:
// - Route table and middleware wiring hidden
// - Active-run registry and single-consumer claiming hidden
// - Drain state during graceful shutdown hidden

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ansari-project/ansari-agent/config"
	"github.com/ansari-project/ansari-agent/orchestration"
	"github.com/ansari-project/ansari-agent/session"
)

// Server is the HTTP front end.
type Server struct {
	settings config.Settings
	store    *session.Store
	orch     *orchestration.Orchestrator
	logger   *slog.Logger

	httpServer *http.Server

	mu       sync.Mutex
	runs     map[string]*activeRun
	draining bool
}

// activeRun pairs a run with its single-consumer claim. The merged
// event channel can only be read once; a second stream request for the
// same session is rejected.
type activeRun struct {
	run       *orchestration.Run
	claimed   bool
	claimedCh chan struct{} // closed on claim
}

// New creates the server with all routes registered.
func New(settings config.Settings, store *session.Store, orch *orchestration.Orchestrator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		settings: settings,
		store:    store,
		orch:     orch,
		logger:   logger,
		runs:     make(map[string]*activeRun),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/query", s.requireAuth(s.handleQuery))
	mux.HandleFunc("GET /api/stream/{id}", s.requireAuth(s.handleStream))
	mux.HandleFunc("POST /api/cancel/{id}", s.requireAuth(s.handleCancel))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /debug/memory", s.requireAuth(s.handleDebugMemory))

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", settings.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr, "auth", s.settings.AuthEnabled())
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains gracefully: new queries are refused, every active
// generation is cancelled, and in-flight responses get the grace
// period to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	s.store.Shutdown()
	return s.httpServer.Shutdown(ctx)
}

// registerRun records the session's active run, replacing any finished
// predecessor, and arms a watchdog that cancels runs nobody streams.
// A run that finishes before its consumer attaches stays claimable
// until the watchdog window lapses; its events wait in the merged
// channel's buffer.
func (s *Server) registerRun(sessionID string, run *orchestration.Run) {
	entry := &activeRun{run: run, claimedCh: make(chan struct{})}
	s.mu.Lock()
	s.runs[sessionID] = entry
	s.mu.Unlock()

	go func() {
		select {
		case <-entry.claimedCh:
			<-run.Done()
		case <-time.After(s.settings.StreamTimeout + 30*time.Second):
			s.logger.Warn("run watchdog fired", "session_id", sessionID)
			run.Cancel()
			<-run.Done()
		}
		s.mu.Lock()
		if cur, ok := s.runs[sessionID]; ok && cur == entry {
			delete(s.runs, sessionID)
		}
		s.mu.Unlock()
	}()
}

// claimRun hands the session's run to its one SSE consumer.
func (s *Server) claimRun(sessionID string) (*orchestration.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.runs[sessionID]
	if !ok {
		return nil, fmt.Errorf("no active generation")
	}
	if entry.claimed {
		return nil, fmt.Errorf("stream already consumed")
	}
	entry.claimed = true
	close(entry.claimedCh)
	return entry.run, nil
}

func (s *Server) isDraining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}
