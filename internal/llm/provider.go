package llm

import (
	"fmt"
	"os"
	"strings"
)

// Provider identifies an LLM provider.
type Provider string

const (
	ProviderNone      Provider = ""
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
)

// Config selects and configures a provider.
type Config struct {
	Provider string `yaml:"provider" env:"PROVIDER"`
	Model    string `yaml:"model" env:"MODEL"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL"`
	APIKey   string `yaml:"api_key" env:"API_KEY"`
}

// NewFromConfig builds the configured client. It returns nil and no error
// when no provider is configured; callers then skip LLM-backed work.
//
// Environment variables used when the config leaves them empty:
//
//	ANTHROPIC_API_KEY  - Anthropic API key (read by SDK automatically)
//	OPENAI_API_KEY     - OpenAI API key
//	OPENAI_BASE_URL    - Custom OpenAI-compatible base URL
//	OLLAMA_HOST        - Ollama server address (default: http://localhost:11434)
func NewFromConfig(cfg Config) (Client, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(cfg.Provider))) {
	case ProviderNone:
		return nil, nil
	case ProviderAnthropic:
		return NewAnthropicClient(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case ProviderOpenAI:
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = os.Getenv("OPENAI_BASE_URL")
		}
		return NewOpenAIClient(baseURL, apiKey, cfg.Model), nil
	case ProviderOllama:
		return NewOllamaClient(cfg.BaseURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q (valid: anthropic, openai, ollama)", cfg.Provider)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
