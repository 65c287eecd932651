// Package llm provides the model-backend layer: a low-level Provider
// contract implemented once per vendor, and the Adapter that drives the
// tool loop and guardrails on top of it.
//
// Provider implementations hide:
// - API client initialization and authentication
// - Request/response format conversion
// - Provider-specific streaming event shapes
//
// Nothing vendor-shaped escapes this package; the only types crossing
// the boundary outward are model.Event and model.Turn.

package llm

import (
	"context"

	"github.com/ansari-project/ansari-agent/model"
	"github.com/ansari-project/ansari-agent/tools"
)

// StopReason says how a vendor round ended.
type StopReason string

const (
	// StopEndTurn means the model finished its answer naturally.
	StopEndTurn StopReason = "end_turn"
	// StopToolUse means the model requested one or more tool calls.
	StopToolUse StopReason = "tool_use"
)

// TokenUsage contains token counts for one round. Zero values mean the
// vendor did not report usage.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// RoundRequest is one vendor submission. History is a working copy the
// provider may read but must not mutate; the adapter owns all reshaping
// (document-budget drops, coaching injections).
type RoundRequest struct {
	System      string
	History     []model.Turn
	Tools       []tools.Metadata // nil disables tool use for this round
	MaxTokens   int
	Temperature float64
}

// RoundResult is the outcome of one streaming round.
type RoundResult struct {
	Text       string
	ToolCalls  []model.ToolUseBlock
	Usage      TokenUsage
	StopReason StopReason
}

// Provider runs a single streaming round against one vendor. Text
// deltas are pushed through emit in arrival order; the full round
// outcome is returned once the vendor closes the stream. Implementations
// must stop promptly when ctx is cancelled.
type Provider interface {
	// Name returns the provider name (for logging).
	Name() string

	// Model returns the vendor model id this provider targets.
	Model() string

	// StreamRound submits the conversation and streams one response.
	StreamRound(ctx context.Context, req RoundRequest, emit func(textDelta string)) (RoundResult, error)
}
