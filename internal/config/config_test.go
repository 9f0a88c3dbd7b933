// Package config provides configuration loading and management.
package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfig_LoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "condcoach.toml")
	os.WriteFile(configPath, []byte(`
[llm]
provider = "anthropic"
model = "claude-3-5-sonnet"
api_key_env = "ANTHROPIC_API_KEY"
max_tokens = 2048

[pipeline]
max_attempts = 3

[store]
path = "/data/condcoach.db"

[experiment]
directiveness = "HIGH"
choice_framing = "ABSENT"
within_subject = true

[log]
level = "debug"
format = "json"
`), 0644)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}

	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("expected provider 'anthropic', got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.Model != "claude-3-5-sonnet" {
		t.Errorf("expected model 'claude-3-5-sonnet', got %s", cfg.LLM.Model)
	}
	if cfg.LLM.MaxTokens != 2048 {
		t.Errorf("expected max_tokens 2048, got %d", cfg.LLM.MaxTokens)
	}
	if cfg.Pipeline.MaxAttempts != 3 {
		t.Errorf("expected max_attempts 3, got %d", cfg.Pipeline.MaxAttempts)
	}
	if cfg.Store.Path != "/data/condcoach.db" {
		t.Errorf("expected store path '/data/condcoach.db', got %s", cfg.Store.Path)
	}
	if cfg.Experiment.Directiveness != "HIGH" || cfg.Experiment.ChoiceFraming != "ABSENT" {
		t.Errorf("unexpected experiment defaults: %+v", cfg.Experiment)
	}
	if !cfg.Experiment.WithinSubject {
		t.Error("expected within_subject true")
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log config: %+v", cfg.Log)
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := New()

	if cfg.LLM.MaxTokens != 4096 {
		t.Errorf("default max_tokens should be 4096, got %d", cfg.LLM.MaxTokens)
	}
	if cfg.Pipeline.MaxAttempts != 2 {
		t.Errorf("default max_attempts should be 2, got %d", cfg.Pipeline.MaxAttempts)
	}
	if cfg.Store.Path != "condcoach.db" {
		t.Errorf("default store path should be 'condcoach.db', got %s", cfg.Store.Path)
	}
	if cfg.Experiment.Directiveness != "AUTO" || cfg.Experiment.ChoiceFraming != "AUTO" {
		t.Errorf("default conditions should be AUTO, got %+v", cfg.Experiment)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default log level should be 'info', got %s", cfg.Log.Level)
	}
}

func TestConfig_LoadDefault_MissingFile(t *testing.T) {
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd)
	os.Chdir(tmpDir)

	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Pipeline.MaxAttempts != 2 {
		t.Error("missing config file should yield built-in defaults")
	}
}

func TestConfig_LoadDefault(t *testing.T) {
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd)
	os.Chdir(tmpDir)

	os.WriteFile("condcoach.toml", []byte(`
[llm]
model = "gpt-4o"
`), 0644)

	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Errorf("expected model 'gpt-4o', got %s", cfg.LLM.Model)
	}
}

func TestConfig_InvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "condcoach.toml")
	os.WriteFile(configPath, []byte(`[invalid`), 0644)

	_, err := LoadFile(configPath)
	if err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestConfig_GetAPIKey(t *testing.T) {
	os.Setenv("TEST_API_KEY", "secret123")
	defer os.Unsetenv("TEST_API_KEY")

	cfg := New()
	cfg.LLM.APIKeyEnv = "TEST_API_KEY"

	key := cfg.GetAPIKey()
	if key != "secret123" {
		t.Errorf("expected 'secret123', got %s", key)
	}
}

func TestConfig_GetAPIKey_Default(t *testing.T) {
	os.Setenv("ANTHROPIC_API_KEY", "default-anthropic-key")
	defer os.Unsetenv("ANTHROPIC_API_KEY")

	cfg := New()
	cfg.LLM.Provider = "anthropic"

	key := cfg.GetAPIKey()
	if key != "default-anthropic-key" {
		t.Errorf("expected 'default-anthropic-key', got %s", key)
	}
}

func TestDefaultAPIKeyEnv(t *testing.T) {
	tests := []struct {
		provider string
		expected string
	}{
		{"anthropic", "ANTHROPIC_API_KEY"},
		{"openai", "OPENAI_API_KEY"},
		{"google", "GOOGLE_API_KEY"},
		{"mistral", "MISTRAL_API_KEY"},
		{"groq", "GROQ_API_KEY"},
		{"unknown", ""},
	}

	for _, tt := range tests {
		result := DefaultAPIKeyEnv(tt.provider)
		if result != tt.expected {
			t.Errorf("DefaultAPIKeyEnv(%q) = %q, want %q", tt.provider, result, tt.expected)
		}
	}
}
