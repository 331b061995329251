package integration

import (
	"context"
	"fmt"
	"sync"

	"github.com/dshills/reporag/internal/embedder"
)

// MockEmbedder provides a fake embedder for testing.
// Vectors are the bag-of-words hashing vectors of the local provider, so
// texts sharing identifiers land close together.
type MockEmbedder struct {
	dimension int
	provider  string
	model     string

	mu       sync.Mutex
	calls    int
	texts    int
	failCall map[int]error // 1-based GenerateBatch call number -> error
}

// NewMockEmbedder creates a new mock embedder
func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{
		dimension: dimension,
		provider:  "mock",
		model:     "mock-v1",
		failCall:  make(map[int]error),
	}
}

// FailCall makes the n-th GenerateBatch call (1-based) return err
func (m *MockEmbedder) FailCall(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCall[n] = err
}

// Calls returns how many GenerateBatch calls were made
func (m *MockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// TextsEmbedded returns how many texts were embedded by successful calls
func (m *MockEmbedder) TextsEmbedded() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.texts
}

// Reset clears call counters and injected failures
func (m *MockEmbedder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls, m.texts = 0, 0
	m.failCall = make(map[int]error)
}

// GenerateEmbedding generates a deterministic fake embedding
func (m *MockEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	if req.Text == "" {
		return nil, embedder.ErrEmptyText
	}
	return &embedder.Embedding{
		Vector:    embedder.HashingVector(req.Text, m.dimension),
		Dimension: m.dimension,
		Provider:  m.provider,
		Model:     m.model,
		Hash:      embedder.ComputeHash(req.Text),
	}, nil
}

// GenerateBatch generates embeddings for multiple texts
func (m *MockEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}

	m.mu.Lock()
	m.calls++
	err := m.failCall[m.calls]
	if err == nil {
		m.texts += len(req.Texts)
	}
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	embeddings := make([]*embedder.Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := m.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}

	return &embedder.BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   m.provider,
		Model:      m.model,
	}, nil
}

// Dimension returns the embedding dimension
func (m *MockEmbedder) Dimension() int {
	return m.dimension
}

// Provider returns the provider name
func (m *MockEmbedder) Provider() string {
	return m.provider
}

// Model returns the model name
func (m *MockEmbedder) Model() string {
	return m.model
}

// Close releases resources (no-op for mock)
func (m *MockEmbedder) Close() error {
	return nil
}
