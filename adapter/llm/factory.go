package llm

import (
	"context"
	"fmt"
	"strings"
)

// Provider names accepted by New.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderBedrock   = "bedrock"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderMock      = "mock"
)

// Providers lists the supported provider names.
func Providers() []string {
	return []string{ProviderGemini, ProviderOpenAI, ProviderBedrock, ProviderAnthropic, ProviderOllama, ProviderMock}
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	// BaseURL points the OpenAI adapter at a compatible endpoint, the
	// Anthropic adapter at a proxy and the Ollama adapter at its server.
	BaseURL string
	// Region and Profile configure Bedrock.
	Region  string
	Profile string
	// MockRules answer calls when Provider is "mock".
	MockRules []MockRule
}

// New creates the adapter for cfg.Provider.
func New(ctx context.Context, cfg Config) (LLM, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderGemini:
		return NewGeminiLLM(ctx, cfg.APIKey, cfg.Model)
	case ProviderOpenAI:
		if cfg.BaseURL != "" {
			return NewOpenAILLMWithBaseURL(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
		}
		return NewOpenAILLM(cfg.APIKey, cfg.Model), nil
	case ProviderBedrock:
		return NewBedrockLLM(ctx, BedrockConfig{ModelID: cfg.Model, Region: cfg.Region, Profile: cfg.Profile})
	case ProviderAnthropic:
		return NewAnthropicLLMWithBaseURL(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case ProviderOllama:
		return NewOllamaLLM(cfg.Model, cfg.BaseURL), nil
	case ProviderMock:
		return NewMockLLM(cfg.MockRules...), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q (supported: %s)", cfg.Provider, strings.Join(Providers(), ", "))
	}
}
