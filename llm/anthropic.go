// Anthropic Provider implementation using official anthropic-sdk-go.
//
// Information Hiding:
// - API endpoint and authentication
// - Request/response format for Anthropic Messages API
// - Streaming via official SDK
// - Prompt-caching beta header and cache_control marker

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ansari-project/ansari-agent/model"
	"github.com/ansari-project/ansari-agent/tools"
)

// promptCachingBeta is the beta flag required for the cache_control
// marker to take effect.
const promptCachingBeta = "prompt-caching-2024-07-31"

// AnthropicProvider implements the Provider interface for Anthropic Claude.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(apiKey, modelID string) *AnthropicProvider {
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithHeader("anthropic-beta", promptCachingBeta),
	)
	return &AnthropicProvider{client: client, model: modelID}
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Model returns the current model.
func (p *AnthropicProvider) Model() string {
	return p.model
}

// StreamRound submits one round and streams the response.
func (p *AnthropicProvider) StreamRound(ctx context.Context, req RoundRequest, emit func(string)) (RoundResult, error) {
	messages := convertToAnthropicMessages(req.History)
	markLastBlockCached(messages)

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   int64(req.MaxTokens),
		Messages:    messages,
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System},
		}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertToAnthropicTools(req.Tools)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	var acc anthropic.Message
	for stream.Next() {
		event := stream.Current()
		if err := acc.Accumulate(event); err != nil {
			return RoundResult{}, fmt.Errorf("accumulating stream event: %w", err)
		}

		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch deltaVariant := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if deltaVariant.Text != "" {
					emit(deltaVariant.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return RoundResult{}, fmt.Errorf("stream error: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return RoundResult{}, err
	}

	result := RoundResult{
		Usage: TokenUsage{
			InputTokens:  int(acc.Usage.InputTokens),
			OutputTokens: int(acc.Usage.OutputTokens),
		},
		StopReason: StopEndTurn,
	}
	if acc.StopReason == anthropic.StopReasonToolUse {
		result.StopReason = StopToolUse
	}

	for _, block := range acc.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			result.Text += variant.Text
		case anthropic.ToolUseBlock:
			inputJSON, _ := json.Marshal(variant.Input)
			result.ToolCalls = append(result.ToolCalls, model.ToolUseBlock{
				ID:   variant.ID,
				Name: variant.Name,
				Args: inputJSON,
			})
		}
	}

	return result, nil
}

// convertToAnthropicMessages converts turns to Anthropic messages. An
// assistant turn containing tool rounds is split at each tool_result:
// tool results travel in user-role messages on this API.
func convertToAnthropicMessages(history []model.Turn) []anthropic.MessageParam {
	var messages []anthropic.MessageParam

	var assistantContent []anthropic.ContentBlockParamUnion
	var toolResults []anthropic.ContentBlockParamUnion

	flushAssistant := func() {
		if len(assistantContent) > 0 {
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: assistantContent,
			})
			assistantContent = nil
		}
	}
	flushResults := func() {
		if len(toolResults) > 0 {
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: toolResults,
			})
			toolResults = nil
		}
	}

	for _, turn := range history {
		switch turn.Role {
		case model.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(turn.Text()),
			))
		case model.RoleAssistant:
			for _, b := range turn.Blocks {
				switch v := b.(type) {
				case model.TextBlock:
					flushResults()
					if v.Text != "" {
						assistantContent = append(assistantContent, anthropic.NewTextBlock(v.Text))
					}
				case model.ToolUseBlock:
					flushResults()
					var input map[string]interface{}
					_ = json.Unmarshal(v.Args, &input)
					assistantContent = append(assistantContent, anthropic.ContentBlockParamUnion{
						OfToolUse: &anthropic.ToolUseBlockParam{
							ID:    v.ID,
							Name:  v.Name,
							Input: input,
						},
					})
				case model.ToolResultBlock:
					flushAssistant()
					toolResults = append(toolResults, anthropic.NewToolResultBlock(
						v.ToolUseID, renderDocuments(v), v.IsError,
					))
				}
			}
			flushAssistant()
			flushResults()
		}
	}

	return messages
}

// markLastBlockCached sets the cache_control marker on the last content
// block of the last message, the placement the caching beta requires.
func markLastBlockCached(messages []anthropic.MessageParam) {
	if len(messages) == 0 {
		return
	}
	content := messages[len(messages)-1].Content
	if len(content) == 0 {
		return
	}
	last := &content[len(content)-1]
	cc := anthropic.NewCacheControlEphemeralParam()
	switch {
	case last.OfText != nil:
		last.OfText.CacheControl = cc
	case last.OfToolResult != nil:
		last.OfToolResult.CacheControl = cc
	case last.OfToolUse != nil:
		last.OfToolUse.CacheControl = cc
	}
}

// renderDocuments flattens a tool result's documents into the plain
// text form the Messages API accepts for tool_result content.
func renderDocuments(r model.ToolResultBlock) string {
	var sb strings.Builder
	for i, d := range r.Documents() {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(d.Title)
		sb.WriteString("\n")
		sb.WriteString(d.Text)
	}
	return sb.String()
}

// convertToAnthropicTools converts registry metadata to Anthropic format.
func convertToAnthropicTools(defs []tools.Metadata) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, len(defs))
	for i, t := range defs {
		properties, _ := t.InputSchema["properties"].(map[string]interface{})
		toolParam := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: properties,
				Required:   requiredFields(t.InputSchema),
			},
		}
		result[i] = anthropic.ToolUnionParam{OfTool: &toolParam}
	}
	return result
}

// requiredFields tolerates both []string and []any forms of the JSON
// schema "required" list.
func requiredFields(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []interface{}:
		var out []string
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Verify AnthropicProvider implements Provider
var _ Provider = (*AnthropicProvider)(nil)
