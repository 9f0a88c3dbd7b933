// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the experiment runner configuration.
type Config struct {
	LLM        LLMConfig        `toml:"llm"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Store      StoreConfig      `toml:"store"`
	Experiment ExperimentConfig `toml:"experiment"`
	Log        LogConfig        `toml:"log"`
}

// LLMConfig contains LLM provider settings.
type LLMConfig struct {
	Provider  string `toml:"provider"`
	Model     string `toml:"model"`
	APIKeyEnv string `toml:"api_key_env"`
	BaseURL   string `toml:"base_url"` // openai-compatible endpoints only
	MaxTokens int    `toml:"max_tokens"`
}

// PipelineConfig bounds the corrective rendering loop.
type PipelineConfig struct {
	MaxAttempts int `toml:"max_attempts"`
}

// StoreConfig contains session storage settings.
type StoreConfig struct {
	Path string `toml:"path"`
}

// ExperimentConfig carries defaults for new sessions.
type ExperimentConfig struct {
	Directiveness string `toml:"directiveness"`  // HIGH, LOW, or AUTO
	ChoiceFraming string `toml:"choice_framing"` // PRESENT, ABSENT, or AUTO
	WithinSubject bool   `toml:"within_subject"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text or json
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		LLM: LLMConfig{
			MaxTokens: 4096,
		},
		Pipeline: PipelineConfig{
			MaxAttempts: 2,
		},
		Store: StoreConfig{
			Path: "condcoach.db",
		},
		Experiment: ExperimentConfig{
			Directiveness: "AUTO",
			ChoiceFraming: "AUTO",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFile loads configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads configuration from condcoach.toml in the current
// directory, falling back to built-in defaults when the file is absent.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	path := filepath.Join(cwd, "condcoach.toml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return New(), nil
	}
	return LoadFile(path)
}

// GetAPIKey returns the API key from the configured environment variable.
// If api_key_env is not set, uses the default env var for the provider.
func (c *Config) GetAPIKey() string {
	envVar := c.LLM.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(c.LLM.Provider)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// DefaultAPIKeyEnv returns the default environment variable name for a provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "mistral":
		return "MISTRAL_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	default:
		return ""
	}
}
