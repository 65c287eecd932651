// Package tools provides the tool system exposed to model backends.
//
// Information Hiding:
// - Tool execution details hidden behind interface
// - Tool parameters and schemas hidden in implementations
// - Registry implementation details hidden from consumers
//
// Tools are pure async functions over their arguments: no shared
// mutable state, safe to invoke from any adapter goroutine.
package tools

import (
	"context"
	"encoding/json"

	"github.com/ansari-project/ansari-agent/model"
)

// Metadata describes what a tool does and how to call it.
type Metadata struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"` // JSON Schema
}

// Tool is the interface all tools implement. Invoke returns typed
// content blocks; the adapter wraps them into a tool_result and
// guarantees the document invariant.
type Tool interface {
	// Metadata returns the tool's name, description and input schema.
	Metadata() Metadata

	// Invoke runs the tool. Implementations must honor ctx cancellation
	// on any network call.
	Invoke(ctx context.Context, args json.RawMessage) ([]model.Block, error)
}
