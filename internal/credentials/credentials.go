// Package credentials loads API keys from standard locations.
package credentials

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Credentials holds API keys loaded from credentials.toml
type Credentials struct {
	Anthropic *ProviderCreds `toml:"anthropic"`
	OpenAI    *ProviderCreds `toml:"openai"`
	Google    *ProviderCreds `toml:"google"`
	Mistral   *ProviderCreds `toml:"mistral"`
	Groq      *ProviderCreds `toml:"groq"`
}

// ProviderCreds holds credentials for a single provider
type ProviderCreds struct {
	APIKey string `toml:"api_key"`
}

// StandardPaths returns the credential file locations in order of priority.
func StandardPaths() []string {
	paths := []string{"credentials.toml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "condcoach", "credentials.toml"),
			filepath.Join(home, ".condcoach", "credentials.toml"),
		)
	}

	return paths
}

// Load loads credentials from the first available standard location.
// A missing file is not an error.
func Load() (*Credentials, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			creds, err := LoadFile(path)
			if err != nil {
				return nil, path, err
			}
			return creds, path, nil
		}
	}
	return nil, "", nil
}

// LoadFile loads credentials from a specific file
func LoadFile(path string) (*Credentials, error) {
	var creds Credentials
	if _, err := toml.DecodeFile(path, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// Apply sets provider environment variables from loaded credentials.
// Variables already present in the environment win.
func (c *Credentials) Apply() {
	if c == nil {
		return
	}

	for env, creds := range map[string]*ProviderCreds{
		"ANTHROPIC_API_KEY": c.Anthropic,
		"OPENAI_API_KEY":    c.OpenAI,
		"GOOGLE_API_KEY":    c.Google,
		"MISTRAL_API_KEY":   c.Mistral,
		"GROQ_API_KEY":      c.Groq,
	} {
		if creds != nil && creds.APIKey != "" && os.Getenv(env) == "" {
			os.Setenv(env, creds.APIKey)
		}
	}
}
