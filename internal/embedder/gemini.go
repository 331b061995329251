package embedder

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// GeminiProvider implements Embedder using the Gemini batchEmbedContents API
type GeminiProvider struct {
	batchEmbedder
	apiKey  string
	baseURL string
}

// NewGeminiProvider creates a Gemini embedder. Output dimensionality is
// requested explicitly so the stored vectors match Dimension().
func NewGeminiProvider(cfg Config, cache Cache) (*GeminiProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(EnvGeminiAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvGeminiAPIKey)
	}

	p := &GeminiProvider{
		batchEmbedder: newBatchEmbedder(ProviderGemini, cfg, DefaultGeminiModel, GeminiDimension, cache),
		apiKey:        apiKey,
		baseURL:       strings.TrimRight(orDefault(cfg.BaseURL, DefaultGeminiURL), "/"),
	}
	p.embed = p.callAPI
	return p, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiEmbedRequest struct {
	Model                string        `json:"model"`
	Content              geminiContent `json:"content"`
	TaskType             string        `json:"taskType,omitempty"`
	OutputDimensionality int           `json:"outputDimensionality,omitempty"`
}

func (g *GeminiProvider) callAPI(ctx context.Context, texts []string, model string) ([][]float32, error) {
	model = strings.TrimPrefix(model, "models/")

	requests := make([]geminiEmbedRequest, len(texts))
	for i, text := range texts {
		requests[i] = geminiEmbedRequest{
			Model:                "models/" + model,
			Content:              geminiContent{Parts: []geminiPart{{Text: text}}},
			OutputDimensionality: g.dimension,
		}
	}

	var resp struct {
		Embeddings []struct {
			Values []float32 `json:"values"`
		} `json:"embeddings"`
	}

	url := fmt.Sprintf("%s/models/%s:batchEmbedContents", g.baseURL, model)
	headers := map[string]string{"x-goog-api-key": g.apiKey}
	if err := postJSON(ctx, g.httpClient, ProviderGemini, url, headers, map[string]interface{}{"requests": requests}, &resp); err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		vectors[i] = e.Values
	}
	return vectors, nil
}
