// Package config provides application settings loaded from environment variables.
//
// Settings are created via New() which handles:
// - Environment variable parsing with validation
// - Default value application
// - Optional YAML model-roster loading
//
// Required API keys are checked by Validate() so the process fails fast
// at startup instead of at first request.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Fixed limits of the comparison engine. These are contracts of the
// core rather than tunables, so they are constants, not env vars.
const (
	MaxSessions      = 50
	SessionTTL       = 15 * time.Minute
	ReaperInterval   = 30 * time.Second
	MaxHistoryTurns  = 5
	MaxHistoryTokens = 8000

	HeartbeatInterval = 10 * time.Second
	MaxMessageBytes   = 16 * 1024

	Temperature     = 0.0
	MaxOutputTokens = 4096

	MaxToolCalls           = 10
	MaxConsecutiveSameTool = 3
	MaxDocumentBlocks      = 100

	DefaultStreamTimeout = 25 * time.Second
	ShutdownGrace        = 5 * time.Second
)

// ModelSpec names one backend in the comparison roster.
type ModelSpec struct {
	ID       string `yaml:"id"`
	Label    string `yaml:"label"`
	Provider string `yaml:"provider"` // anthropic | gemini | openai
}

// Settings holds all application configuration.
type Settings struct {
	Port int

	AnthropicAPIKey string
	GoogleAPIKey    string
	OpenAIAPIKey    string
	KalimatAPIKey   string

	AuthUsername string
	AuthPassword string // empty disables auth (dev only)

	LogLevel      string
	StreamTimeout time.Duration
	SystemPrompt  string

	Models []ModelSpec
}

// DefaultSystemPrompt is the assistant persona shared by every backend
// so the comparison stays fair.
const DefaultSystemPrompt = `You are Ansari, an Islamic knowledge assistant.

When answering questions about Islam, the Quran, or Islamic teachings:
- Use the search_quran tool to find relevant ayahs
- Provide accurate citations
- Be respectful and educational
- Cite your sources using the ayah references`

// defaultModels is the roster used when no MODELS_FILE is configured.
var defaultModels = []ModelSpec{
	{ID: "gemini-2.5-pro", Label: "Gemini 2.5 Pro", Provider: "gemini"},
	{ID: "gemini-2.5-flash", Label: "Gemini 2.5 Flash", Provider: "gemini"},
	{ID: "claude-opus-4-20250514", Label: "Claude Opus 4", Provider: "anthropic"},
	{ID: "claude-sonnet-4-5-20250929", Label: "Claude Sonnet 4.5", Provider: "anthropic"},
}

// New loads settings from environment variables, and from the YAML
// roster file named by MODELS_FILE when present.
func New() (Settings, error) {
	port, err := getEnvInt("PORT", 8000)
	if err != nil {
		return Settings{}, err
	}

	timeoutSecs, err := getEnvInt("STREAM_TIMEOUT_SECONDS", int(DefaultStreamTimeout/time.Second))
	if err != nil {
		return Settings{}, err
	}
	if timeoutSecs <= 0 {
		return Settings{}, fmt.Errorf("STREAM_TIMEOUT_SECONDS must be positive, got %d", timeoutSecs)
	}

	s := Settings{
		Port:            port,
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		GoogleAPIKey:    os.Getenv("GOOGLE_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		KalimatAPIKey:   os.Getenv("KALIMAT_API_KEY"),
		AuthUsername:    getEnvDefault("MODEL_COMPARISON_AUTH_USERNAME", "admin"),
		AuthPassword:    os.Getenv("MODEL_COMPARISON_AUTH_PASSWORD"),
		LogLevel:        getEnvDefault("LOG_LEVEL", "INFO"),
		StreamTimeout:   time.Duration(timeoutSecs) * time.Second,
		SystemPrompt:    getEnvDefault("SYSTEM_PROMPT", DefaultSystemPrompt),
		Models:          defaultModels,
	}

	if path := os.Getenv("MODELS_FILE"); path != "" {
		models, err := loadModelsFile(path)
		if err != nil {
			return Settings{}, err
		}
		s.Models = models
	}

	return s, nil
}

// Validate checks that every provider appearing in the roster has its
// API key configured, plus the tool-service key.
func (s Settings) Validate() error {
	var missing []string

	need := map[string]bool{}
	for _, m := range s.Models {
		need[m.Provider] = true
	}
	if need["anthropic"] && s.AnthropicAPIKey == "" {
		missing = append(missing, "ANTHROPIC_API_KEY")
	}
	if need["gemini"] && s.GoogleAPIKey == "" {
		missing = append(missing, "GOOGLE_API_KEY")
	}
	if need["openai"] && s.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if s.KalimatAPIKey == "" {
		missing = append(missing, "KALIMAT_API_KEY")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}

	if len(s.Models) == 0 {
		return fmt.Errorf("model roster is empty")
	}
	seen := map[string]bool{}
	for _, m := range s.Models {
		if m.ID == "" {
			return fmt.Errorf("model roster entry with empty id")
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate model id %q in roster", m.ID)
		}
		seen[m.ID] = true
		switch m.Provider {
		case "anthropic", "gemini", "openai":
		default:
			return fmt.Errorf("model %q: unknown provider %q", m.ID, m.Provider)
		}
	}
	return nil
}

// AuthEnabled reports whether HTTP Basic auth is required.
func (s Settings) AuthEnabled() bool {
	return s.AuthPassword != ""
}

// ModelIDs returns the roster ids in configuration order.
func (s Settings) ModelIDs() []string {
	ids := make([]string, len(s.Models))
	for i, m := range s.Models {
		ids[i] = m.ID
	}
	return ids
}

// modelsFile is the YAML shape of MODELS_FILE.
type modelsFile struct {
	Models []ModelSpec `yaml:"models"`
}

func loadModelsFile(path string) ([]ModelSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading models file: %w", err)
	}
	var f modelsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing models file %s: %w", path, err)
	}
	if len(f.Models) == 0 {
		return nil, fmt.Errorf("models file %s defines no models", path)
	}
	for i := range f.Models {
		if f.Models[i].Label == "" {
			f.Models[i].Label = f.Models[i].ID
		}
	}
	return f.Models, nil
}

// Environment variable helpers with proper error handling

func getEnvDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}
