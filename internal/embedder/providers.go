package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
	ProviderLocal  = "local"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultOllamaModel = "bge-m3"
	DefaultGeminiModel = "gemini-embedding-001"
	DefaultLocalModel  = "local-hashing"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	OllamaDimension = 1024
	GeminiDimension = 1536
	LocalDimension  = 384

	// Base URLs
	DefaultJinaURL   = "https://api.jina.ai/v1"
	DefaultOpenAIURL = "https://api.openai.com/v1"
	DefaultOllamaURL = "http://localhost:11434"
	DefaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta"

	DefaultTimeout = 30 * time.Second
)

// Environment variables consulted when no API key is configured
const (
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvOllamaURL    = "OLLAMA_BASE_URL"
)

func newBatchEmbedder(provider string, cfg Config, defaultModel string, defaultDim int, cache Cache) batchEmbedder {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = defaultDim
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retry := DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxRetries = cfg.MaxRetries
	}

	return batchEmbedder{
		provider:   provider,
		model:      model,
		dimension:  dim,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
		retry:      retry,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// OpenAIProvider implements Embedder using the OpenAI embeddings API.
// Any OpenAI-compatible endpoint can be used by setting BaseURL.
type OpenAIProvider struct {
	batchEmbedder
	apiKey  string
	baseURL string
	// requestDimensions is sent as "dimensions" when explicitly configured
	requestDimensions int
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(cfg Config, cache Cache) (*OpenAIProvider, error) {
	return newOpenAICompatible(ProviderOpenAI, cfg, cache, EnvOpenAIAPIKey, DefaultOpenAIURL, DefaultOpenAIModel, OpenAIDimension)
}

// NewJinaProvider creates a Jina AI embedder. Jina serves the OpenAI wire format.
func NewJinaProvider(cfg Config, cache Cache) (*OpenAIProvider, error) {
	return newOpenAICompatible(ProviderJina, cfg, cache, EnvJinaAPIKey, DefaultJinaURL, DefaultJinaModel, JinaDimension)
}

func newOpenAICompatible(provider string, cfg Config, cache Cache, envKey, defaultURL, defaultModel string, defaultDim int) (*OpenAIProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(envKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, envKey)
	}

	p := &OpenAIProvider{
		batchEmbedder:     newBatchEmbedder(provider, cfg, defaultModel, defaultDim, cache),
		apiKey:            apiKey,
		baseURL:           strings.TrimRight(orDefault(cfg.BaseURL, defaultURL), "/"),
		requestDimensions: cfg.Dimension,
	}
	p.embed = p.callAPI
	return p, nil
}

func (o *OpenAIProvider) callAPI(ctx context.Context, texts []string, model string) ([][]float32, error) {
	reqBody := map[string]interface{}{
		"input": texts,
		"model": model,
	}
	if o.requestDimensions > 0 {
		reqBody["dimensions"] = o.requestDimensions
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}

	headers := map[string]string{"Authorization": "Bearer " + o.apiKey}
	if err := postJSON(ctx, o.httpClient, o.provider, o.baseURL+"/embeddings", headers, reqBody, &apiResp); err != nil {
		return nil, err
	}

	// Entries carry their input index; place them rather than trusting response order
	vectors := make([][]float32, len(texts))
	for _, data := range apiResp.Data {
		if data.Index < 0 || data.Index >= len(vectors) || vectors[data.Index] != nil {
			return nil, fmt.Errorf("%w: invalid index %d", ErrUnexpectedResponse, data.Index)
		}
		vectors[data.Index] = data.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("%w: missing embedding for input %d", ErrUnexpectedResponse, i)
		}
	}

	return vectors, nil
}

// LocalProvider produces deterministic embeddings without any network access.
// Each text is tokenized into lowercase words whose hashes are summed into a
// fixed number of signed buckets and L2-normalized, so texts that share
// vocabulary land close together. Useful for offline use and tests.
type LocalProvider struct {
	batchEmbedder
}

// NewLocalProvider creates a new local embedder
func NewLocalProvider(cfg Config, cache Cache) (*LocalProvider, error) {
	b := newBatchEmbedder(ProviderLocal, cfg, DefaultLocalModel, LocalDimension, cache)
	b.httpClient = nil
	b.retry.MaxRetries = 1

	l := &LocalProvider{batchEmbedder: b}
	l.embed = l.hashTexts
	return l, nil
}

func (l *LocalProvider) hashTexts(ctx context.Context, texts []string, _ string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = HashingVector(text, l.dimension)
	}
	return vectors, nil
}

// HashingVector maps text to a unit vector of length dim using signed feature hashing
func HashingVector(text string, dim int) []float32 {
	vector := make([]float32, dim)

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	if len(tokens) == 0 {
		tokens = []string{text}
	}

	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()

		bucket := int(sum % uint64(dim))
		if sum&(1<<63) != 0 {
			vector[bucket]--
		} else {
			vector[bucket]++
		}
	}

	normalized := NormalizeVector(vector)
	allZero := true
	for _, v := range normalized {
		if v != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		// Opposite-signed collisions cancelled out; fall back to a fixed axis
		normalized[0] = 1
	}
	return normalized
}
