// Quran search tool backed by the Kalimat API.
//
// Information Hiding:
// - HTTP client pooling and time-outs hidden
// - Kalimat wire format hidden; callers see document blocks

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ansari-project/ansari-agent/model"
)

const (
	kalimatBaseURL    = "https://api.kalimat.dev/search"
	defaultNumResults = 10
)

// QuranSearchTool retrieves ayahs matching a topic query.
type QuranSearchTool struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewQuranSearchTool creates the tool with a pooled HTTP client.
func NewQuranSearchTool(apiKey string) *QuranSearchTool {
	return &QuranSearchTool{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL: kalimatBaseURL,
		apiKey:  apiKey,
	}
}

// WithBaseURL overrides the API endpoint. Used by tests.
func (t *QuranSearchTool) WithBaseURL(u string) *QuranSearchTool {
	t.baseURL = u
	return t
}

// Metadata returns the tool metadata.
func (t *QuranSearchTool) Metadata() Metadata {
	return Metadata{
		Name: "search_quran",
		Description: "Search and retrieve relevant ayahs based on a specific topic. " +
			"Returns multiple ayahs when applicable.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type": "string",
					"description": "Topic or subject matter to search for within the Holy Quran. " +
						"Make this as specific as possible. " +
						"Do not include the word quran in the request.",
				},
			},
			"required": []string{"query"},
		},
	}
}

type quranArgs struct {
	Query      string `json:"query"`
	NumResults int    `json:"num_results"`
}

// kalimatResult is one hit in the Kalimat response array.
type kalimatResult struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	EnText string `json:"en_text"`
}

// Invoke searches the Kalimat API and returns one document block per ayah.
func (t *QuranSearchTool) Invoke(ctx context.Context, args json.RawMessage) ([]model.Block, error) {
	var a quranArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if a.Query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if a.NumResults <= 0 {
		a.NumResults = defaultNumResults
	}

	params := url.Values{}
	params.Set("query", a.Query)
	params.Set("numResults", strconv.Itoa(a.NumResults))
	params.Set("getText", "1") // 1 = Quran

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kalimat request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kalimat API returned status %d", resp.StatusCode)
	}

	var results []kalimatResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("failed to decode kalimat response: %w", err)
	}

	blocks := make([]model.Block, 0, len(results))
	for _, r := range results {
		ayah := r.ID
		if ayah == "" {
			ayah = "Unknown"
		}
		blocks = append(blocks, model.DocumentBlock{
			Title: "Ayah " + ayah,
			Text:  fmt.Sprintf("Arabic Text: %s\n\nEnglish Text: %s", r.Text, r.EnText),
			Metadata: map[string]string{
				"citation":    ayah,
				"source_type": "quran",
				"query":       a.Query,
			},
		})
	}
	return blocks, nil
}

// Verify QuranSearchTool implements Tool
var _ Tool = (*QuranSearchTool)(nil)
