// Package classify is the boundary to the external classification
// capability. It holds the LLM provider clients, the response parsing
// ladder, and the deterministic fallbacks that keep the pipeline total when
// the external service fails or returns garbage.
package classify

import (
	"context"
	"fmt"
	"os"

	"divrecon/internal/config"
)

// LLMClient is the minimal completion interface the adapter needs.
type LLMClient interface {
	// Complete sends a prompt and returns the raw completion text.
	Complete(ctx context.Context, prompt string) (string, error)
	// CompleteWithSystem sends a prompt with a system message.
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// GetModel returns the active model identifier.
	GetModel() string
}

// Provider identifies an LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

// NewClient builds the configured provider client. Provider resolution:
// explicit config value, then API-key environment variables in priority
// order (ANTHROPIC before GEMINI).
func NewClient(cfg config.LLMConfig) (LLMClient, error) {
	provider := Provider(cfg.Provider)
	apiKey := cfg.APIKey

	if provider == "" {
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			provider, apiKey = ProviderAnthropic, key
		} else if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			provider, apiKey = ProviderGemini, key
		} else {
			return nil, fmt.Errorf("no provider configured; set llm.provider or ANTHROPIC_API_KEY / GEMINI_API_KEY")
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no API key for provider %s", provider)
	}

	switch provider {
	case ProviderAnthropic:
		client := NewAnthropicClient(apiKey, cfg)
		return client, nil
	case ProviderGemini:
		client := NewGeminiClient(apiKey, cfg)
		return client, nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}
