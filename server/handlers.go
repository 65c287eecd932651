// HTTP handlers for the comparison API.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/ansari-project/ansari-agent/config"
	"github.com/ansari-project/ansari-agent/model"
	"github.com/ansari-project/ansari-agent/session"
)

type queryRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

type queryResponse struct {
	SessionID string   `json:"session_id"`
	Models    []string `json:"models"`
}

// handleQuery starts one generation: resolves or creates the session,
// appends the user message, and fans out to every backend. The caller
// then attaches to /api/stream/{id} for the events.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if s.isDraining() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxMessageBytes)
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "message too large", http.StatusBadRequest)
			return
		}
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	var sess *session.Session
	var err error
	if req.SessionID == "" {
		sess, err = s.store.Create(s.orch.ModelIDs())
		if err != nil {
			w.Header().Set("Retry-After", "10")
			http.Error(w, "server overloaded, try again later", http.StatusServiceUnavailable)
			return
		}
	} else {
		sess, err = s.store.Get(req.SessionID)
		if err != nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
	}

	// The run outlives this request; streaming happens on a second one.
	run, err := s.orch.Start(context.Background(), sess, req.Message)
	if err != nil {
		if errors.Is(err, session.ErrBusy) {
			http.Error(w, "generation already in progress", http.StatusConflict)
			return
		}
		http.Error(w, "failed to start generation", http.StatusInternalServerError)
		return
	}
	s.registerRun(sess.ID, run)

	s.logger.Info("query accepted", "session_id", sess.ID)
	writeJSON(w, http.StatusOK, queryResponse{SessionID: sess.ID, Models: s.orch.ModelIDs()})
}

// handleStream attaches the client to the merged event feed. The feed
// is single-consumer; disconnecting cancels the generation.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.Get(id); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	run, err := s.claimRun(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	emitter, err := newSSEEmitter(w)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	for {
		select {
		case ev, ok := <-run.Events:
			if !ok {
				return
			}
			if err := emitter.Emit(ev); err != nil {
				s.logger.Info("client write failed, cancelling", "session_id", id)
				run.Cancel()
				drain(run.Events)
				return
			}
		case <-r.Context().Done():
			s.logger.Info("client disconnected, cancelling", "session_id", id)
			run.Cancel()
			drain(run.Events)
			return
		}
	}
}

// handleCancel aborts the session's active generation. Idempotent: a
// session with nothing running still gets 204.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.store.Get(id)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if sess.Cancel() {
		s.logger.Info("generation cancelled", "session_id", id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth is unauthenticated so load balancers can probe it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"session_count": s.store.Count(),
		"models":        s.orch.ModelIDs(),
	})
}

// handleDebugMemory reports process memory, for chasing session leaks.
func (s *Server) handleDebugMemory(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	writeJSON(w, http.StatusOK, map[string]any{
		"rss_bytes":     readRSSBytes(),
		"alloc_bytes":   m.Alloc,
		"sys_bytes":     m.Sys,
		"heap_objects":  m.HeapObjects,
		"num_goroutine": runtime.NumGoroutine(),
		"session_count": s.store.Count(),
	})
}

// readRSSBytes reports the resident set size from /proc/self/statm,
// zero on platforms without it.
func readRSSBytes() uint64 {
	data, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0
	}
	pages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return pages * uint64(os.Getpagesize())
}

// drain discards the remainder of a cancelled feed so the producers
// can finish and commit partial turns.
func drain(events <-chan model.Event) {
	for range events {
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
