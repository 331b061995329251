package embedder

import (
	"context"
	"os"
	"strings"
)

// OllamaProvider implements Embedder using the Ollama /api/embed endpoint
type OllamaProvider struct {
	batchEmbedder
	baseURL string
	token   string // Bearer token for hosted Ollama; empty means no auth
}

// NewOllamaProvider creates an Ollama embedder. The base URL falls back to
// OLLAMA_BASE_URL and then to a local daemon.
func NewOllamaProvider(cfg Config, cache Cache) (*OllamaProvider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = orDefault(os.Getenv(EnvOllamaURL), DefaultOllamaURL)
	}

	p := &OllamaProvider{
		batchEmbedder: newBatchEmbedder(ProviderOllama, cfg, DefaultOllamaModel, OllamaDimension, cache),
		baseURL:       strings.TrimRight(baseURL, "/"),
		token:         cfg.APIKey,
	}
	p.embed = p.callAPI
	return p, nil
}

func (o *OllamaProvider) callAPI(ctx context.Context, texts []string, model string) ([][]float32, error) {
	payload := map[string]interface{}{
		"model": model,
		"input": texts,
	}

	var headers map[string]string
	if o.token != "" {
		headers = map[string]string{"Authorization": "Bearer " + o.token}
	}

	var resp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := postJSON(ctx, o.httpClient, ProviderOllama, o.baseURL+"/api/embed", headers, payload, &resp); err != nil {
		return nil, err
	}

	return resp.Embeddings, nil
}
