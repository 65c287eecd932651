// Provider factory keyed by the roster's provider field.

package llm

import (
	"fmt"
	"strings"

	"github.com/ansari-project/ansari-agent/config"
)

// NewProvider builds the vendor client for one roster entry. The API
// key comes from settings; a roster naming a provider without its key
// is rejected earlier by config validation.
func NewProvider(spec config.ModelSpec, settings config.Settings) (Provider, error) {
	switch strings.ToLower(spec.Provider) {
	case "anthropic", "claude":
		return NewAnthropicProvider(settings.AnthropicAPIKey, spec.ID), nil
	case "gemini", "google":
		return NewGeminiProvider(settings.GoogleAPIKey, spec.ID), nil
	case "openai", "gpt":
		return NewOpenAIProvider(settings.OpenAIAPIKey, spec.ID), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", spec.Provider)
	}
}
