// Google Gemini Provider implementation using official google.golang.org/genai SDK.
//
// Information Hiding:
// - API authentication and client creation
// - Request/response format for Gemini API
// - System instruction handling via config
// - Streaming via official SDK iterator

package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/ansari-project/ansari-agent/model"
	"github.com/ansari-project/ansari-agent/tools"
)

// GeminiProvider implements the Provider interface for Google Gemini.
type GeminiProvider struct {
	client  *genai.Client
	model   string
	initErr error // Stores client initialization error for deferred reporting
}

// NewGeminiProvider creates a new Gemini provider.
// If client initialization fails, the error is stored and returned on first use.
func NewGeminiProvider(apiKey, modelID string) *GeminiProvider {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return &GeminiProvider{
			model:   modelID,
			initErr: fmt.Errorf("failed to initialize Gemini client: %w", err),
		}
	}
	return &GeminiProvider{client: client, model: modelID}
}

// Name returns the provider name.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Model returns the current model.
func (p *GeminiProvider) Model() string {
	return p.model
}

// StreamRound submits one round and streams the response.
func (p *GeminiProvider) StreamRound(ctx context.Context, req RoundRequest, emit func(string)) (RoundResult, error) {
	if p.initErr != nil {
		return RoundResult{}, p.initErr
	}
	if p.client == nil {
		return RoundResult{}, fmt.Errorf("gemini client not initialized")
	}

	contents := convertToGeminiContents(req.History)

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		config.Tools = convertToGeminiTools(req.Tools)
	}

	var result RoundResult

	// GenerateContentStream returns iter.Seq2[*GenerateContentResponse, error]
	for response, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, config) {
		if err != nil {
			return result, fmt.Errorf("stream error: %w", err)
		}

		if response.UsageMetadata != nil {
			result.Usage = TokenUsage{
				InputTokens:  int(response.UsageMetadata.PromptTokenCount),
				OutputTokens: int(response.UsageMetadata.CandidatesTokenCount),
			}
		}

		if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
			continue
		}
		for _, part := range response.Candidates[0].Content.Parts {
			if part.Text != "" {
				result.Text += part.Text
				emit(part.Text)
			}
			if part.FunctionCall != nil {
				argsJSON, _ := json.Marshal(part.FunctionCall.Args)
				result.ToolCalls = append(result.ToolCalls, model.ToolUseBlock{
					ID:   part.FunctionCall.Name, // Gemini uses name as ID
					Name: part.FunctionCall.Name,
					Args: argsJSON,
				})
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	result.StopReason = StopEndTurn
	if len(result.ToolCalls) > 0 {
		result.StopReason = StopToolUse
	}
	return result, nil
}

// convertToGeminiContents converts turns to Gemini contents. Tool calls
// travel as FunctionCall parts in model-role content; tool results as
// FunctionResponse parts in user-role content.
func convertToGeminiContents(history []model.Turn) []*genai.Content {
	var contents []*genai.Content

	for _, turn := range history {
		switch turn.Role {
		case model.RoleUser:
			contents = append(contents, genai.NewContentFromText(turn.Text(), genai.RoleUser))
		case model.RoleAssistant:
			assistant := &genai.Content{Role: genai.RoleModel}
			flushAssistant := func() {
				if len(assistant.Parts) > 0 {
					contents = append(contents, assistant)
					assistant = &genai.Content{Role: genai.RoleModel}
				}
			}
			for _, b := range turn.Blocks {
				switch v := b.(type) {
				case model.TextBlock:
					if v.Text != "" {
						assistant.Parts = append(assistant.Parts, &genai.Part{Text: v.Text})
					}
				case model.ToolUseBlock:
					var args map[string]any
					_ = json.Unmarshal(v.Args, &args)
					assistant.Parts = append(assistant.Parts, &genai.Part{
						FunctionCall: &genai.FunctionCall{
							Name: v.Name,
							Args: args,
						},
					})
				case model.ToolResultBlock:
					flushAssistant()
					contents = append(contents, &genai.Content{
						Role: genai.RoleUser, // Gemini expects tool results as user
						Parts: []*genai.Part{{
							FunctionResponse: &genai.FunctionResponse{
								Name:     v.ToolUseID,
								Response: documentsAsResponse(v),
							},
						}},
					})
				}
			}
			flushAssistant()
		}
	}

	return contents
}

// documentsAsResponse packs a tool result's documents into the map form
// FunctionResponse requires.
func documentsAsResponse(r model.ToolResultBlock) map[string]any {
	docs := r.Documents()
	results := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		results = append(results, map[string]any{
			"title": d.Title,
			"text":  d.Text,
		})
	}
	resp := map[string]any{"results": results}
	if r.IsError {
		resp["error"] = true
	}
	return resp
}

// convertToGeminiTools converts registry metadata to Gemini format.
func convertToGeminiTools(defs []tools.Metadata) []*genai.Tool {
	if len(defs) == 0 {
		return nil
	}

	var declarations []*genai.FunctionDeclaration
	for _, t := range defs {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertToGeminiSchema(t.InputSchema),
		})
	}

	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// convertToGeminiSchema recursively converts a parameter schema to Gemini format.
// Handles arrays by adding required 'items' field.
func convertToGeminiSchema(params map[string]interface{}) *genai.Schema {
	schema := &genai.Schema{
		Type: genai.TypeObject,
	}

	if t, ok := params["type"].(string); ok {
		schema.Type = mapToGeminiType(t)
	}

	if req, ok := params["required"].([]interface{}); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	// Also handle []string
	if req, ok := params["required"].([]string); ok {
		schema.Required = req
	}

	if props, ok := params["properties"].(map[string]interface{}); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			propMap, ok := prop.(map[string]interface{})
			if !ok {
				continue
			}
			schema.Properties[name] = convertPropertyToGeminiSchema(propMap)
		}
	}

	return schema
}

// convertPropertyToGeminiSchema converts a single property to Gemini schema.
func convertPropertyToGeminiSchema(prop map[string]interface{}) *genai.Schema {
	schema := &genai.Schema{}

	if t, ok := prop["type"].(string); ok {
		schema.Type = mapToGeminiType(t)
	}
	if d, ok := prop["description"].(string); ok {
		schema.Description = d
	}

	// Gemini requires 'items' for arrays
	if schema.Type == genai.TypeArray {
		if items, ok := prop["items"].(map[string]interface{}); ok {
			schema.Items = convertPropertyToGeminiSchema(items)
		} else {
			schema.Items = &genai.Schema{Type: genai.TypeString}
		}
	}

	if schema.Type == genai.TypeObject {
		if props, ok := prop["properties"].(map[string]interface{}); ok {
			schema.Properties = make(map[string]*genai.Schema)
			for name, p := range props {
				if pMap, ok := p.(map[string]interface{}); ok {
					schema.Properties[name] = convertPropertyToGeminiSchema(pMap)
				}
			}
		}
	}

	return schema
}

// mapToGeminiType maps JSON schema type to Gemini type.
func mapToGeminiType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "integer", "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

// Verify GeminiProvider implements Provider
var _ Provider = (*GeminiProvider)(nil)
