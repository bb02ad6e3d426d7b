package llm

import (
	"fmt"
	"os"
	"time"

	"winterfox/internal/types"
)

// AdapterSpec describes one configured LLM adapter: provider name,
// model id, and the environment variable holding its API key.
type AdapterSpec struct {
	Provider  string
	Model     string
	APIKeyEnv string
	BaseURL   string
	Timeout   time.Duration
}

// NewClient builds an adapter from a spec. The API key is read from
// the named environment variable at construction time.
func NewClient(spec AdapterSpec) (types.LLMClient, error) {
	apiKey := os.Getenv(spec.APIKeyEnv)

	switch spec.Provider {
	case "openai", "openai-compatible":
		cfg := DefaultOpenAIConfig(apiKey)
		if spec.Model != "" {
			cfg.Model = spec.Model
		}
		if spec.BaseURL != "" {
			cfg.BaseURL = spec.BaseURL
		}
		if spec.Timeout != 0 {
			cfg.Timeout = spec.Timeout
		}
		return NewOpenAIClient(cfg), nil

	case "anthropic":
		cfg := DefaultAnthropicConfig(apiKey)
		if spec.Model != "" {
			cfg.Model = spec.Model
		}
		if spec.BaseURL != "" {
			cfg.BaseURL = spec.BaseURL
		}
		if spec.Timeout != 0 {
			cfg.Timeout = spec.Timeout
		}
		return NewAnthropicClient(cfg), nil

	case "gemini", "google":
		cfg := DefaultGeminiConfig(apiKey)
		if spec.Model != "" {
			cfg.Model = spec.Model
		}
		if spec.BaseURL != "" {
			cfg.BaseURL = spec.BaseURL
		}
		if spec.Timeout != 0 {
			cfg.Timeout = spec.Timeout
		}
		return NewGeminiClient(cfg), nil

	default:
		return nil, fmt.Errorf("unknown LLM provider %q", spec.Provider)
	}
}
