// Package llmimpl constructs concrete LLM backends from configuration.
package llmimpl

import (
	"fmt"

	"conductor/pkg/agent"
	"conductor/pkg/agent/llmimpl/anthropic"
	"conductor/pkg/agent/llmimpl/ollama"
	"conductor/pkg/agent/llmimpl/openai"
	"conductor/pkg/config"
)

// API key secret names per provider.
const (
	anthropicKeyName = "ANTHROPIC_API_KEY"
	openaiKeyName    = "OPENAI_API_KEY"
)

// NewClient builds the configured backend wrapped in retry middleware. The
// mock provider returns an unscripted mock; tests enqueue their own script.
func NewClient(cfg *config.Config) (agent.LLMClient, error) {
	base, err := newRawClient(cfg)
	if err != nil {
		return nil, err
	}

	retryCfg := agent.DefaultRetryConfig
	retryCfg.MaxRetries = cfg.MaxRetries
	retryCfg.InitialDelay = cfg.InitialBackoff()
	retryCfg.MaxDelay = cfg.MaxBackoff()
	return agent.NewRetryableClient(base, retryCfg), nil
}

func newRawClient(cfg *config.Config) (agent.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		apiKey, err := config.GetSecret(anthropicKeyName)
		if err != nil {
			return nil, fmt.Errorf("anthropic provider: %w", err)
		}
		return anthropic.NewClaudeClient(apiKey, cfg.Model), nil
	case config.ProviderOpenAI:
		apiKey, err := config.GetSecret(openaiKeyName)
		if err != nil {
			return nil, fmt.Errorf("openai provider: %w", err)
		}
		return openai.NewClient(apiKey, cfg.Model), nil
	case config.ProviderOllama:
		return ollama.NewClient(cfg.OllamaHost, cfg.Model), nil
	case config.ProviderMock:
		return agent.NewMockLLMClient(), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}
