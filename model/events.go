package model

import (
	"encoding/json"
	"time"
)

// EventType identifies a streamed event.
type EventType string

const (
	EventStart     EventType = "start"
	EventTTFT      EventType = "ttft"
	EventToken     EventType = "token"
	EventToolStart EventType = "tool_start"
	EventToolEnd   EventType = "tool_end"
	EventDone      EventType = "done"
	EventError     EventType = "error"
	EventHeartbeat EventType = "heartbeat"
)

// Event is the only type that crosses the adapter boundary, both
// internally (adapter to orchestrator to emitter) and on the wire.
// Which fields are meaningful depends on Type; MarshalJSON emits the
// exact per-type payload schema.
type Event struct {
	Type         EventType
	ModelID      string
	Timestamp    float64 // unix seconds
	TTFTMs       float64
	Content      string
	ToolName     string
	DurationMs   float64
	TotalMs      float64
	TokensIn     int
	TokensOut    int
	Error        string
	RetryAfterMs int // 0 means not retriable
}

// Terminal reports whether the event ends a model's stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// NewStartEvent marks stream initialization for one model.
func NewStartEvent(modelID string) Event {
	return Event{Type: EventStart, ModelID: modelID, Timestamp: now()}
}

// NewTTFTEvent reports time to first token, emitted exactly once per
// model before its first non-empty token.
func NewTTFTEvent(modelID string, ttftMs float64) Event {
	return Event{Type: EventTTFT, ModelID: modelID, Timestamp: now(), TTFTMs: ttftMs}
}

// NewTokenEvent carries an incremental chunk of assistant text.
func NewTokenEvent(modelID, content string) Event {
	return Event{Type: EventToken, ModelID: modelID, Timestamp: now(), Content: content}
}

// NewToolStartEvent marks the beginning of a tool invocation.
func NewToolStartEvent(modelID, toolName string) Event {
	return Event{Type: EventToolStart, ModelID: modelID, Timestamp: now(), ToolName: toolName}
}

// NewToolEndEvent marks the end of a tool invocation.
func NewToolEndEvent(modelID, toolName string, durationMs float64) Event {
	return Event{Type: EventToolEnd, ModelID: modelID, Timestamp: now(), ToolName: toolName, DurationMs: durationMs}
}

// NewDoneEvent marks successful completion for one model. Token counts
// are zero when the vendor did not report usage.
func NewDoneEvent(modelID string, totalMs float64, tokensIn, tokensOut int) Event {
	return Event{Type: EventDone, ModelID: modelID, Timestamp: now(), TotalMs: totalMs, TokensIn: tokensIn, TokensOut: tokensOut}
}

// NewErrorEvent marks terminal failure for one model. A positive
// retryAfterMs signals the client may retry the whole request later.
func NewErrorEvent(modelID, message string, retryAfterMs int) Event {
	return Event{Type: EventError, ModelID: modelID, Timestamp: now(), Error: message, RetryAfterMs: retryAfterMs}
}

// NewHeartbeatEvent is the keepalive frame; the only event without a
// model id.
func NewHeartbeatEvent() Event {
	return Event{Type: EventHeartbeat, Timestamp: now()}
}

// MarshalJSON serializes the per-type wire payload. Every payload
// carries its type tag; done always includes token counts, even zeros,
// and error includes retry_after_ms only when the failure is retriable.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventStart:
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			ModelID   string    `json:"model_id"`
			Timestamp float64   `json:"timestamp"`
		}{e.Type, e.ModelID, e.Timestamp})
	case EventTTFT:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			ModelID string    `json:"model_id"`
			TTFTMs  float64   `json:"ttft_ms"`
		}{e.Type, e.ModelID, e.TTFTMs})
	case EventToken:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			ModelID string    `json:"model_id"`
			Content string    `json:"content"`
		}{e.Type, e.ModelID, e.Content})
	case EventToolStart:
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			ModelID   string    `json:"model_id"`
			ToolName  string    `json:"tool_name"`
			Timestamp float64   `json:"timestamp"`
		}{e.Type, e.ModelID, e.ToolName, e.Timestamp})
	case EventToolEnd:
		return json.Marshal(struct {
			Type       EventType `json:"type"`
			ModelID    string    `json:"model_id"`
			ToolName   string    `json:"tool_name"`
			DurationMs float64   `json:"duration_ms"`
		}{e.Type, e.ModelID, e.ToolName, e.DurationMs})
	case EventDone:
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			ModelID   string    `json:"model_id"`
			TotalMs   float64   `json:"total_ms"`
			TokensIn  int       `json:"tokens_in"`
			TokensOut int       `json:"tokens_out"`
		}{e.Type, e.ModelID, e.TotalMs, e.TokensIn, e.TokensOut})
	case EventError:
		if e.RetryAfterMs > 0 {
			return json.Marshal(struct {
				Type         EventType `json:"type"`
				ModelID      string    `json:"model_id"`
				Error        string    `json:"error"`
				RetryAfterMs int       `json:"retry_after_ms"`
			}{e.Type, e.ModelID, e.Error, e.RetryAfterMs})
		}
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			ModelID string    `json:"model_id"`
			Error   string    `json:"error"`
		}{e.Type, e.ModelID, e.Error})
	case EventHeartbeat:
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			Timestamp float64   `json:"timestamp"`
		}{e.Type, e.Timestamp})
	}
	type plain Event
	return json.Marshal(plain(e))
}
