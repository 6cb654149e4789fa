package llm

import (
	"fmt"
	"strings"

	"github.com/rajashekarcs2023/weather-marketplace/config"
)

// NewProvider builds the provider named by cfg.Provider.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm: anthropic provider requires an API key")
		}
		return NewAnthropicProvider(AnthropicOptions{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   int64(cfg.MaxTokens),
		}), nil
	case ProviderOpenAI:
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("llm: openai provider requires an API key or a base URL")
		}
		return NewOpenAIProvider(OpenAIOptions{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   int64(cfg.MaxTokens),
		}), nil
	case ProviderMock:
		return &MockProvider{}, nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
