package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Batch limits
const (
	DefaultBatchSize = 50
	MaxBatchSize     = 100
)

// embedFunc sends texts to a provider and returns one vector per text, in order
type embedFunc func(ctx context.Context, texts []string, model string) ([][]float32, error)

// batchEmbedder implements Embedder on top of a provider-specific embedFunc.
// It owns validation, caching, retry and response shape checks so that each
// provider only has to speak its wire format.
type batchEmbedder struct {
	provider   string
	model      string
	dimension  int
	httpClient *http.Client
	cache      Cache
	retry      RetryConfig
	embed      embedFunc
}

func (b *batchEmbedder) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := b.GenerateBatch(ctx, BatchEmbeddingRequest{
		Texts: []string{req.Text},
		Model: req.Model,
	})
	if err != nil {
		return nil, err
	}

	return resp.Embeddings[0], nil
}

func (b *batchEmbedder) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed, got %d", ErrBatchTooLarge, MaxBatchSize, len(req.Texts))
	}

	model := req.Model
	if model == "" {
		model = b.model
	}

	embeddings := make([]*Embedding, len(req.Texts))
	var pending []int
	for i, text := range req.Texts {
		if b.cache != nil {
			if emb, ok := b.cache.Get(ctx, cacheKey(b.provider, model, text)); ok && b.acceptDimension(len(emb.Vector)) {
				emb.Provider, emb.Model, emb.Hash = b.provider, model, ComputeHash(text)
				embeddings[i] = emb
				continue
			}
		}
		pending = append(pending, i)
	}

	if len(pending) > 0 {
		texts := make([]string, len(pending))
		for j, i := range pending {
			texts[j] = req.Texts[i]
		}

		vectors, err := retryWithBackoff(ctx, b.retry, func() ([][]float32, error) {
			return b.embed(ctx, texts, model)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrProviderFailed, b.provider, err)
		}

		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("%w: %w: %s returned %d vectors for %d texts",
				ErrProviderFailed, ErrUnexpectedResponse, b.provider, len(vectors), len(texts))
		}

		for j, i := range pending {
			if !b.acceptDimension(len(vectors[j])) {
				return nil, fmt.Errorf("%w: %w: got %d, want %d",
					ErrProviderFailed, ErrDimensionMismatch, len(vectors[j]), b.dimension)
			}

			emb := &Embedding{
				Vector:    vectors[j],
				Dimension: len(vectors[j]),
				Provider:  b.provider,
				Model:     model,
				Hash:      ComputeHash(texts[j]),
			}
			if b.cache != nil {
				b.cache.Set(ctx, cacheKey(b.provider, model, texts[j]), emb)
			}
			embeddings[i] = emb
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   b.provider,
		Model:      model,
	}, nil
}

func (b *batchEmbedder) acceptDimension(n int) bool {
	return n > 0 && (b.dimension <= 0 || n == b.dimension)
}

func (b *batchEmbedder) Dimension() int {
	return b.dimension
}

func (b *batchEmbedder) Provider() string {
	return b.provider
}

func (b *batchEmbedder) Model() string {
	return b.model
}

func (b *batchEmbedder) Close() error {
	if b.httpClient != nil {
		b.httpClient.CloseIdleConnections()
	}
	return nil
}

// postJSON sends payload to url and decodes a 200 response into out.
// Non-200 responses are returned as *StatusError.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Provider: provider, StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
