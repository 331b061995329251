package completion

import (
	"fmt"
	"strings"
	"time"
)

// Config holds completion provider configuration
type Config struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64 // Zero uses DefaultTemperature
	MaxTokens   int     // Zero uses DefaultMaxTokens
	Timeout     time.Duration
}

func (c Config) withDefaults(model, baseURL string) Config {
	if c.Model == "" {
		c.Model = model
	}
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	return c
}

// SupportedProviders lists the provider tags accepted by New
func SupportedProviders() []string {
	return []string{ProviderOpenAI, ProviderOllama, ProviderGemini}
}

// New creates the completion provider named by cfg.Provider
func New(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg)
	case ProviderOllama:
		return NewOllamaProvider(cfg)
	case ProviderGemini:
		return NewGeminiProvider(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, cfg.Provider)
	}
}
