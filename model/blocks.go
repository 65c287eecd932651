// Package model provides domain types shared across packages: typed
// content blocks, conversation turns, and the event union that crosses
// the adapter boundary.
//
// Information Hiding:
// - Block variants are a closed tagged union; construction sites enforce
//   the tool-result invariant instead of deep validation passes
// - Vendor SDK message shapes never appear here
package model

import "encoding/json"

// Block is a single typed content block inside a turn.
// The variants are TextBlock, ToolUseBlock, ToolResultBlock and
// DocumentBlock; nothing else implements the interface.
type Block interface {
	blockType() string
}

// TextBlock carries assistant or user text.
type TextBlock struct {
	Text string `json:"text"`
}

// ToolUseBlock records a tool invocation requested by the model.
type ToolUseBlock struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// DocumentBlock is a citable document carried inside a tool result.
type DocumentBlock struct {
	Title    string            `json:"title"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ToolResultBlock carries the outcome of a tool invocation. Its Blocks
// always contain at least one DocumentBlock; use NewToolResultBlock to
// construct one.
type ToolResultBlock struct {
	ToolUseID string  `json:"tool_use_id"`
	Blocks    []Block `json:"blocks"`
	IsError   bool    `json:"is_error"`
}

func (TextBlock) blockType() string { return "text" }

func (ToolUseBlock) blockType() string { return "tool_use" }

func (DocumentBlock) blockType() string { return "document" }

func (ToolResultBlock) blockType() string { return "tool_result" }

// NewToolResultBlock builds a tool result, inserting a synthetic
// "no content found" document when the tool returned no documents.
// This is the construction-time half of the tool-result invariant.
func NewToolResultBlock(toolUseID string, blocks []Block, isError bool) ToolResultBlock {
	hasDocument := false
	for _, b := range blocks {
		if _, ok := b.(DocumentBlock); ok {
			hasDocument = true
			break
		}
	}
	if !hasDocument {
		blocks = append(blocks, DocumentBlock{
			Title: "No results",
			Text:  "No content found.",
		})
	}
	return ToolResultBlock{ToolUseID: toolUseID, Blocks: blocks, IsError: isError}
}

// Documents returns the document blocks inside the result.
func (r ToolResultBlock) Documents() []DocumentBlock {
	var docs []DocumentBlock
	for _, b := range r.Blocks {
		if d, ok := b.(DocumentBlock); ok {
			docs = append(docs, d)
		}
	}
	return docs
}
