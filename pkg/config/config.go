// Package config loads and validates the conductor configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported model providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderMock      = "mock"
)

// Defaults applied when the config file omits a field.
const (
	DefaultModel            = "claude-sonnet-4-20250514"
	DefaultDatabasePath     = "conductor.db"
	DefaultToolTimeoutSecs  = 30
	DefaultMaxRetries       = 3
	DefaultInitialBackoffMs = 1000
	DefaultMaxBackoffMs     = 30000
	DefaultContextTokens    = 8000
	DefaultMaxResubmissions = 2
)

// Config is the whole conductor configuration. Durations are integer fields
// (seconds or milliseconds) so the file stays plain YAML scalars.
//
//nolint:govet // struct alignment optimization not critical for this type
type Config struct {
	Provider           string   `yaml:"provider"`
	Model              string   `yaml:"model"`
	OllamaHost         string   `yaml:"ollama_host,omitempty"`
	DatabasePath       string   `yaml:"database_path"`
	ToolTimeoutSeconds int      `yaml:"tool_timeout_seconds"`
	MaxRetries         int      `yaml:"max_retries"`
	InitialBackoffMs   int      `yaml:"initial_backoff_ms"`
	MaxBackoffMs       int      `yaml:"max_backoff_ms"`
	ContextTokens      int      `yaml:"context_tokens"`
	MaxResubmissions   int      `yaml:"max_resubmissions"`
	ClosingPhrases     []string `yaml:"closing_phrases,omitempty"`
}

// ToolTimeout returns the per-tool execution bound.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.ToolTimeoutSeconds) * time.Second
}

// InitialBackoff returns the first retry delay for model queries.
func (c *Config) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMs) * time.Millisecond
}

// MaxBackoff returns the retry delay ceiling for model queries.
func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMs) * time.Millisecond
}

// DefaultConfig returns a config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider:           ProviderAnthropic,
		Model:              DefaultModel,
		DatabasePath:       DefaultDatabasePath,
		ToolTimeoutSeconds: DefaultToolTimeoutSecs,
		MaxRetries:         DefaultMaxRetries,
		InitialBackoffMs:   DefaultInitialBackoffMs,
		MaxBackoffMs:       DefaultMaxBackoffMs,
		ContextTokens:      DefaultContextTokens,
		MaxResubmissions:   DefaultMaxResubmissions,
	}
}

// LoadConfig reads a YAML config file, applies defaults for omitted fields,
// and validates the result. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = DefaultDatabasePath
	}
	if cfg.ToolTimeoutSeconds <= 0 {
		cfg.ToolTimeoutSeconds = DefaultToolTimeoutSecs
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.InitialBackoffMs <= 0 {
		cfg.InitialBackoffMs = DefaultInitialBackoffMs
	}
	if cfg.MaxBackoffMs <= 0 {
		cfg.MaxBackoffMs = DefaultMaxBackoffMs
	}
	if cfg.ContextTokens <= 0 {
		cfg.ContextTokens = DefaultContextTokens
	}
	if cfg.MaxResubmissions < 0 {
		cfg.MaxResubmissions = DefaultMaxResubmissions
	}
}

// Validate checks the configuration for contradictions before use.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderOllama, ProviderMock:
	case "":
		return fmt.Errorf("provider is required")
	default:
		return fmt.Errorf("unknown provider: %s", c.Provider)
	}

	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.InitialBackoffMs > c.MaxBackoffMs {
		return fmt.Errorf("initial_backoff_ms %d exceeds max_backoff_ms %d", c.InitialBackoffMs, c.MaxBackoffMs)
	}
	return nil
}
