package config

import (
	"fmt"
	"os"
)

// LLMProvider identifies the LLM provider type.
type LLMProvider string

const (
	LLMProviderOpenAI    LLMProvider = "openai"
	LLMProviderAnthropic LLMProvider = "anthropic"
)

// LLMConfig configures the LLM gateway's provider.
type LLMConfig struct {
	// Provider type (openai, anthropic).
	Provider LLMProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"enum=openai,enum=anthropic,default=openai"`

	// Model is the default model for all pipeline stages.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"minimum=0,maximum=2,default=0.3"`
	MaxTokens   int      `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"minimum=1,default=2500"`

	// Timeout per request, seconds.
	Timeout int `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"default=30"`

	// MaxRetries for transient provider errors.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty" jsonschema:"default=2"`

	// JSONRetries is the number of re-asks when the provider returns
	// malformed JSON in JSON mode.
	JSONRetries int `yaml:"json_retries,omitempty" json:"json_retries,omitempty" jsonschema:"default=1"`
}

// SetDefaults applies default values, reading API keys from the
// conventional environment variables when unset.
func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = detectProviderFromEnv()
	}
	if c.Model == "" {
		switch c.Provider {
		case LLMProviderOpenAI:
			c.Model = "gpt-4o"
		case LLMProviderAnthropic:
			c.Model = "claude-sonnet-4-20250514"
		}
	}
	if c.APIKey == "" {
		c.APIKey = apiKeyFromEnv(c.Provider)
	}
	if c.Temperature == nil {
		temp := 0.3
		c.Temperature = &temp
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2500
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.JSONRetries == 0 {
		c.JSONRetries = 1
	}
}

// Validate checks provider settings.
func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case LLMProviderOpenAI, LLMProviderAnthropic:
	default:
		return fmt.Errorf("unsupported llm.provider: %s (supported: openai, anthropic)", c.Provider)
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("llm.temperature must be in [0, 2], got %g", *c.Temperature)
	}
	return nil
}

func detectProviderFromEnv() LLMProvider {
	if os.Getenv("ANTHROPIC_API_KEY") != "" && os.Getenv("OPENAI_API_KEY") == "" {
		return LLMProviderAnthropic
	}
	return LLMProviderOpenAI
}

func apiKeyFromEnv(p LLMProvider) string {
	switch p {
	case LLMProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case LLMProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	}
	return ""
}
