package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setRequiredKeys(t *testing.T) {
	t.Helper()
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("GOOGLE_API_KEY", "goog-test")
	t.Setenv("KALIMAT_API_KEY", "kalimat-test")
}

func TestNewDefaults(t *testing.T) {
	setRequiredKeys(t)

	s, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if s.Port != 8000 {
		t.Errorf("Port = %d, want 8000", s.Port)
	}
	if s.StreamTimeout != DefaultStreamTimeout {
		t.Errorf("StreamTimeout = %v, want %v", s.StreamTimeout, DefaultStreamTimeout)
	}
	if s.AuthUsername != "admin" {
		t.Errorf("AuthUsername = %q, want admin", s.AuthUsername)
	}
	if s.AuthEnabled() {
		t.Error("auth enabled without password")
	}
	if len(s.Models) == 0 {
		t.Fatal("default roster is empty")
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() on defaults: %v", err)
	}
}

func TestNewRejectsBadTimeout(t *testing.T) {
	t.Setenv("STREAM_TIMEOUT_SECONDS", "abc")
	if _, err := New(); err == nil {
		t.Error("expected error for non-numeric STREAM_TIMEOUT_SECONDS")
	}

	t.Setenv("STREAM_TIMEOUT_SECONDS", "0")
	if _, err := New(); err == nil {
		t.Error("expected error for zero STREAM_TIMEOUT_SECONDS")
	}
}

func TestNewCustomTimeout(t *testing.T) {
	setRequiredKeys(t)
	t.Setenv("STREAM_TIMEOUT_SECONDS", "40")

	s, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if s.StreamTimeout != 40*time.Second {
		t.Errorf("StreamTimeout = %v, want 40s", s.StreamTimeout)
	}
}

func TestValidateMissingKeys(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "goog-test")
	t.Setenv("KALIMAT_API_KEY", "kalimat-test")

	s, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	err = s.Validate()
	if err == nil {
		t.Fatal("expected validation error for missing ANTHROPIC_API_KEY")
	}
	if !strings.Contains(err.Error(), "ANTHROPIC_API_KEY") {
		t.Errorf("error does not name the missing variable: %v", err)
	}
}

func TestValidateSkipsUnusedProviders(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "goog-test")
	t.Setenv("KALIMAT_API_KEY", "kalimat-test")
	t.Setenv("ANTHROPIC_API_KEY", "")

	s, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	s.Models = []ModelSpec{
		{ID: "gemini-2.5-pro", Label: "Gemini", Provider: "gemini"},
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() with gemini-only roster: %v", err)
	}
}

func TestValidateRejectsBadRoster(t *testing.T) {
	setRequiredKeys(t)
	s, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	s.Models = []ModelSpec{
		{ID: "m1", Provider: "anthropic"},
		{ID: "m1", Provider: "anthropic"},
	}
	if err := s.Validate(); err == nil {
		t.Error("duplicate model ids accepted")
	}

	s.Models = []ModelSpec{{ID: "m1", Provider: "cohere"}}
	if err := s.Validate(); err == nil {
		t.Error("unknown provider accepted")
	}

	s.Models = nil
	if err := s.Validate(); err == nil {
		t.Error("empty roster accepted")
	}
}

func TestModelsFile(t *testing.T) {
	setRequiredKeys(t)

	path := filepath.Join(t.TempDir(), "models.yaml")
	content := `models:
  - id: claude-sonnet-4-5-20250929
    label: Claude Sonnet 4.5
    provider: anthropic
  - id: gemini-2.5-flash
    provider: gemini
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MODELS_FILE", path)

	s, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if len(s.Models) != 2 {
		t.Fatalf("roster length = %d, want 2", len(s.Models))
	}
	// Label defaults to the id when omitted.
	if s.Models[1].Label != "gemini-2.5-flash" {
		t.Errorf("default label = %q", s.Models[1].Label)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate(): %v", err)
	}
}

func TestModelsFileErrors(t *testing.T) {
	setRequiredKeys(t)

	t.Setenv("MODELS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := New(); err == nil {
		t.Error("missing models file accepted")
	}

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(empty, []byte("models: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MODELS_FILE", empty)
	if _, err := New(); err == nil {
		t.Error("empty models file accepted")
	}
}

func TestAuthEnabled(t *testing.T) {
	setRequiredKeys(t)
	t.Setenv("MODEL_COMPARISON_AUTH_PASSWORD", "secret")

	s, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if !s.AuthEnabled() {
		t.Error("auth disabled despite password")
	}
}
