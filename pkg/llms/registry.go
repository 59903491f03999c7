package llms

import (
	"fmt"

	"github.com/donnahq/donna/pkg/config"
)

// NewProvider creates a Provider from config.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case config.LLMProviderOpenAI:
		return NewOpenAIProvider(cfg), nil
	case config.LLMProviderAnthropic:
		return NewAnthropicProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}
