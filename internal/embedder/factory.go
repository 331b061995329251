package embedder

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// EnvProvider selects the provider in NewFromEnv
const EnvProvider = "REPORAG_EMBEDDING_PROVIDER"

// Config holds embedder configuration
type Config struct {
	Provider   string
	APIKey     string
	BaseURL    string
	Model      string
	Dimension  int // Zero uses the provider default
	Timeout    time.Duration
	MaxRetries int

	// CacheSize enables the in-memory LRU cache when positive.
	// RedisURL, when set, takes precedence and shares the cache across processes.
	CacheSize int
	RedisURL  string
	CacheTTL  time.Duration
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	cache, err := newCache(cfg)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderJina:
		return NewJinaProvider(cfg, cache)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg, cache)
	case ProviderOllama:
		return NewOllamaProvider(cfg, cache)
	case ProviderGemini:
		return NewGeminiProvider(cfg, cache)
	case ProviderLocal, "":
		return NewLocalProvider(cfg, cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

func newCache(cfg Config) (Cache, error) {
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		cache, err := NewRedisCache(ctx, cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("embedding cache: %w", err)
		}
		return cache, nil
	}
	if cfg.CacheSize > 0 {
		return NewMemoryCache(cfg.CacheSize), nil
	}
	return nil, nil
}

// NewFromEnv creates an embedder based on environment variables.
// Priority:
// 1. REPORAG_EMBEDDING_PROVIDER (jina, openai, ollama, gemini, local)
// 2. Check for API keys: JINA_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY
// 3. Default to local if no API keys found
func NewFromEnv() (Embedder, error) {
	return New(Config{
		Provider:  DetectProvider(),
		CacheSize: DefaultCacheSize,
	})
}

// SupportedProviders lists the provider tags accepted by New
func SupportedProviders() []string {
	return []string{ProviderOpenAI, ProviderJina, ProviderOllama, ProviderGemini, ProviderLocal}
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	if provider := os.Getenv(EnvProvider); provider != "" {
		return strings.ToLower(provider)
	}

	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	if os.Getenv(EnvGeminiAPIKey) != "" {
		return ProviderGemini
	}

	return ProviderLocal
}
