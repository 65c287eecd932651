// Server-Sent Events emitter.
//
// Information Hiding:
// - Frame formatting (event/data lines, comment keepalives) hidden
// - Proxy-buffering and reconnect headers hidden

package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ansari-project/ansari-agent/model"
)

// reconnectDelayMs is sent in the initial retry frame so browsers do
// not auto-reconnect to a finished stream for at least an hour.
const reconnectDelayMs = 3600000

// sseEmitter writes SSE frames to one response.
type sseEmitter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEEmitter sets the stream headers and sends the initial retry
// frame. Returns an error when the ResponseWriter cannot flush.
func newSSEEmitter(w http.ResponseWriter) (*sseEmitter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-store")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "retry: %d\n\n", reconnectDelayMs)
	flusher.Flush()

	return &sseEmitter{w: w, flusher: flusher}, nil
}

// Emit writes one event frame. Heartbeats go out as a comment line in
// addition to the event frame so intermediaries that strip unknown
// event types still see traffic.
func (e *sseEmitter) Emit(ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	if ev.Type == model.EventHeartbeat {
		if _, err := fmt.Fprint(e.w, ": hb\n\n"); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}
