package model

import (
	"fmt"
	"strings"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one conversational turn in a per-model history. Tool rounds
// (tool_use plus the matching tool_result) live inside the assistant
// turn rather than as separate user turns.
type Turn struct {
	Role   Role
	Blocks []Block
}

// NewUserTurn builds a user turn from plain text.
func NewUserTurn(text string) Turn {
	return Turn{Role: RoleUser, Blocks: []Block{TextBlock{Text: text}}}
}

// NewAssistantTurn builds an assistant turn from the given blocks.
func NewAssistantTurn(blocks []Block) Turn {
	return Turn{Role: RoleAssistant, Blocks: blocks}
}

// Text concatenates the turn's text blocks.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, b := range t.Blocks {
		if tb, ok := b.(TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String()
}

// DocumentCount counts document blocks, including those nested inside
// tool results. Used by the adapter's document-budget guardrail.
func (t Turn) DocumentCount() int {
	n := 0
	for _, b := range t.Blocks {
		switch v := b.(type) {
		case DocumentBlock:
			n++
		case ToolResultBlock:
			n += len(v.Documents())
		}
	}
	return n
}

// EstimatedTokens estimates the token cost of the turn by the
// characters-over-four heuristic the truncation policy uses.
func (t Turn) EstimatedTokens() int {
	chars := 0
	for _, b := range t.Blocks {
		switch v := b.(type) {
		case TextBlock:
			chars += len(v.Text)
		case ToolUseBlock:
			chars += len(v.Name) + len(v.Args)
		case DocumentBlock:
			chars += len(v.Title) + len(v.Text)
		case ToolResultBlock:
			for _, d := range v.Documents() {
				chars += len(d.Title) + len(d.Text)
			}
		}
	}
	return chars / 4
}

// Validate checks the intra-turn invariants: every tool_use block is
// followed, within the turn, by a tool_result with the matching id, and
// every tool_result carries at least one document.
func (t Turn) Validate() error {
	pending := map[string]bool{}
	for _, b := range t.Blocks {
		switch v := b.(type) {
		case ToolUseBlock:
			pending[v.ID] = true
		case ToolResultBlock:
			if !pending[v.ToolUseID] {
				return fmt.Errorf("tool_result %q has no preceding tool_use", v.ToolUseID)
			}
			delete(pending, v.ToolUseID)
			if len(v.Documents()) == 0 {
				return fmt.Errorf("tool_result %q has no document block", v.ToolUseID)
			}
		}
	}
	if len(pending) > 0 {
		for id := range pending {
			return fmt.Errorf("tool_use %q has no matching tool_result", id)
		}
	}
	return nil
}

// CloneHistory deep-copies a turn slice so adapters can reshape a
// submission (document-budget drops, coaching injections) without
// touching the canonical history.
func CloneHistory(history []Turn) []Turn {
	out := make([]Turn, len(history))
	for i, t := range history {
		blocks := make([]Block, len(t.Blocks))
		copy(blocks, t.Blocks)
		out[i] = Turn{Role: t.Role, Blocks: blocks}
	}
	return out
}
