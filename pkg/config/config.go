// Package config loads the process-level configuration for cmd/agentcored:
// the provider binding, the installed extension catalog, and server
// options, the way the teacher's pkg/config loads its YAML + .env
// configuration (adapted here to agentcore's much smaller surface).
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/goose-run/agentcore/pkg/provider"
	"github.com/goose-run/agentcore/pkg/session"
)

// ProviderConfig names the single LLM binding the reference server uses
// to exercise C1 end to end (§1 "one real binding so the engine is
// exercisable end to end").
type ProviderConfig struct {
	Name    string  `yaml:"name"`
	BaseURL string  `yaml:"base_url"`
	APIKey  string  `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`
	Model   string  `yaml:"model"`
	Temperature     float64 `yaml:"temperature"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
	ContextLimit    int     `yaml:"context_limit"`
}

// Config is the top-level shape of an agentcored YAML config file.
type Config struct {
	Port       int                             `yaml:"port"`
	StorePath  string                          `yaml:"store_path"`
	Provider   ProviderConfig                  `yaml:"provider"`
	Extensions []session.ExtensionDescriptor   `yaml:"extensions"`
}

// ModelConfig converts the loaded provider config into the Provider
// package's wire type.
func (c Config) ModelConfig() provider.ModelConfig {
	return provider.ModelConfig{
		Model:           c.Provider.Model,
		Temperature:     c.Provider.Temperature,
		MaxOutputTokens: c.Provider.MaxOutputTokens,
		ContextLimit:    c.Provider.ContextLimit,
	}
}

// APIKey resolves the provider API key, preferring an explicit literal
// value and falling back to the named environment variable.
func (c Config) APIKey() string {
	if c.Provider.APIKey != "" {
		return c.Provider.APIKey
	}
	if c.Provider.APIKeyEnv != "" {
		return os.Getenv(c.Provider.APIKeyEnv)
	}
	return ""
}

// Default returns a minimal zero-config Config, used when no config file
// is supplied (mirrors the teacher's zero-config CreateZeroConfig path).
func Default() Config {
	return Config{
		Port:      8080,
		StorePath: "agentcore.db",
		Provider: ProviderConfig{
			Name:            "openai-compatible",
			BaseURL:         "https://api.openai.com/v1",
			APIKeyEnv:       "OPENAI_API_KEY",
			Model:           "gpt-4o-mini",
			Temperature:     0.7,
			MaxOutputTokens: 4096,
			ContextLimit:    128000,
		},
	}
}

// Load reads and parses a YAML config file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadEnvFiles loads .env.local then .env from the working directory
// into the process environment, ignoring a missing file (local-dev
// convenience only; never required for production deployment).
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("config: load %s: %w", file, err)
		}
	}
	return nil
}
