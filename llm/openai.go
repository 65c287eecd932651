// OpenAI-compatible Provider implementation using go-openai library.
//
// Information Hiding:
// - API endpoint and authentication
// - Request/response format for OpenAI Chat Completions API
// - Streaming tool-call accumulation across delta chunks

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ansari-project/ansari-agent/model"
	"github.com/ansari-project/ansari-agent/tools"
)

// OpenAIProvider implements the Provider interface for OpenAI and
// OpenAI-compatible endpoints.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(apiKey, modelID string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		model:  modelID,
	}
}

// NewOpenAICompatibleProvider creates a provider against a non-default
// base URL, for OpenAI-compatible gateways.
func NewOpenAICompatibleProvider(apiKey, baseURL, modelID string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  modelID,
	}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Model returns the current model.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// StreamRound submits one round and streams the response.
func (p *OpenAIProvider) StreamRound(ctx context.Context, req RoundRequest, emit func(string)) (RoundResult, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    convertToOpenAIMessages(req.System, req.History),
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Stream:      true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertToOpenAITools(req.Tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return RoundResult{}, fmt.Errorf("stream creation failed: %w", err)
	}
	defer stream.Close()

	var result RoundResult
	// Tool calls arrive fragmented across chunks, keyed by index.
	pending := make(map[int]*openai.ToolCall)
	finishReason := openai.FinishReasonStop

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result, fmt.Errorf("stream recv failed: %w", err)
		}

		// Usage travels on the final chunk
		if response.Usage != nil {
			result.Usage = TokenUsage{
				InputTokens:  response.Usage.PromptTokens,
				OutputTokens: response.Usage.CompletionTokens,
			}
		}

		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
		if choice.Delta.Content != "" {
			result.Text += choice.Delta.Content
			emit(choice.Delta.Content)
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			acc, ok := pending[idx]
			if !ok {
				acc = &openai.ToolCall{Type: openai.ToolTypeFunction}
				pending[idx] = acc
			}
			if tc.ID != "" {
				acc.ID = tc.ID
			}
			if tc.Function.Name != "" {
				acc.Function.Name = tc.Function.Name
			}
			acc.Function.Arguments += tc.Function.Arguments
		}
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	indexes := make([]int, 0, len(pending))
	for idx := range pending {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		tc := pending[idx]
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		result.ToolCalls = append(result.ToolCalls, model.ToolUseBlock{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: []byte(args),
		})
	}

	result.StopReason = StopEndTurn
	if finishReason == openai.FinishReasonToolCalls || len(result.ToolCalls) > 0 {
		result.StopReason = StopToolUse
	}
	return result, nil
}

// convertToOpenAIMessages converts turns to Chat Completions messages.
// Tool rounds inside an assistant turn become assistant messages with
// tool_calls followed by tool-role messages.
func convertToOpenAIMessages(system string, history []model.Turn) []openai.ChatCompletionMessage {
	var messages []openai.ChatCompletionMessage
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, turn := range history {
		switch turn.Role {
		case model.RoleUser:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: turn.Text(),
			})
		case model.RoleAssistant:
			assistant := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
			flushAssistant := func() {
				if assistant.Content != "" || len(assistant.ToolCalls) > 0 {
					messages = append(messages, assistant)
					assistant = openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
				}
			}
			for _, b := range turn.Blocks {
				switch v := b.(type) {
				case model.TextBlock:
					assistant.Content += v.Text
				case model.ToolUseBlock:
					assistant.ToolCalls = append(assistant.ToolCalls, openai.ToolCall{
						ID:   v.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      v.Name,
							Arguments: string(v.Args),
						},
					})
				case model.ToolResultBlock:
					flushAssistant()
					messages = append(messages, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						ToolCallID: v.ToolUseID,
						Content:    renderDocuments(v),
					})
				}
			}
			flushAssistant()
		}
	}
	return messages
}

// convertToOpenAITools converts registry metadata to OpenAI format.
func convertToOpenAITools(defs []tools.Metadata) []openai.Tool {
	result := make([]openai.Tool, len(defs))
	for i, t := range defs {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		}
	}
	return result
}

// Verify OpenAIProvider implements Provider
var _ Provider = (*OpenAIProvider)(nil)
