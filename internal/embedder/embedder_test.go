package embedder

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHash(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "empty string",
			text: "",
			want: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name: "simple text",
			text: "hello world",
			want: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeHash(tt.text))
		})
	}
}

func TestCacheKey_ScopedByModel(t *testing.T) {
	a := cacheKey(ProviderOpenAI, "m1", "text")
	b := cacheKey(ProviderOpenAI, "m2", "text")
	c := cacheKey(ProviderJina, "m1", "text")

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, a, cacheKey(ProviderOpenAI, "m1", "text"))
}

func TestValidateRequest(t *testing.T) {
	assert.NoError(t, ValidateRequest(EmbeddingRequest{Text: "test text"}))
	assert.NoError(t, ValidateRequest(EmbeddingRequest{Text: "test", Model: "custom-model"}))
	assert.ErrorIs(t, ValidateRequest(EmbeddingRequest{}), ErrEmptyText)
}

func TestValidateBatchRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     BatchEmbeddingRequest
		wantErr error
	}{
		{"valid", BatchEmbeddingRequest{Texts: []string{"a", "b"}}, nil},
		{"empty batch", BatchEmbeddingRequest{}, ErrInvalidInput},
		{"empty text", BatchEmbeddingRequest{Texts: []string{"a", ""}}, ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatchRequest(tt.req)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()

	t.Run("get returns a copy", func(t *testing.T) {
		cache := NewMemoryCache(10)
		cache.Set(ctx, "k", &Embedding{Vector: []float32{1, 2, 3}, Dimension: 3})

		got, ok := cache.Get(ctx, "k")
		require.True(t, ok)
		got.Vector[0] = 99

		again, ok := cache.Get(ctx, "k")
		require.True(t, ok)
		assert.Equal(t, float32(1), again.Vector[0])
	})

	t.Run("set stores a copy", func(t *testing.T) {
		cache := NewMemoryCache(10)
		emb := &Embedding{Vector: []float32{1, 2, 3}}
		cache.Set(ctx, "k", emb)
		emb.Vector[0] = 42

		got, _ := cache.Get(ctx, "k")
		assert.Equal(t, float32(1), got.Vector[0])
	})

	t.Run("lru eviction", func(t *testing.T) {
		cache := NewMemoryCache(2)
		cache.Set(ctx, "a", &Embedding{Vector: []float32{1}})
		cache.Set(ctx, "b", &Embedding{Vector: []float32{2}})
		cache.Set(ctx, "c", &Embedding{Vector: []float32{3}})

		assert.Equal(t, 2, cache.Size())
		_, ok := cache.Get(ctx, "a")
		assert.False(t, ok)

		cache.Clear()
		assert.Equal(t, 0, cache.Size())
	})

	t.Run("default size", func(t *testing.T) {
		cache := NewMemoryCache(0)
		require.NotNil(t, cache)
	})

	t.Run("concurrent access", func(t *testing.T) {
		cache := NewMemoryCache(100)
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					key := fmt.Sprintf("k%d", (n+j)%20)
					cache.Set(ctx, key, &Embedding{Vector: []float32{float32(j)}})
					cache.Get(ctx, key)
				}
			}(i)
		}
		wg.Wait()
		assert.LessOrEqual(t, cache.Size(), 20)
	})
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0, 1.5, -2.25, float32(math.Pi)}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
	assert.Len(t, encodeVector(v), 16)
}

func TestLocalProvider(t *testing.T) {
	ctx := context.Background()
	p, err := NewLocalProvider(Config{}, NewMemoryCache(10))
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, ProviderLocal, p.Provider())
	assert.Equal(t, DefaultLocalModel, p.Model())
	assert.Equal(t, LocalDimension, p.Dimension())

	t.Run("deterministic unit vectors", func(t *testing.T) {
		a, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "func ParseFile(path string) error"})
		require.NoError(t, err)
		b, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "func ParseFile(path string) error"})
		require.NoError(t, err)

		assert.Equal(t, a.Vector, b.Vector)
		assert.Len(t, a.Vector, LocalDimension)
		assert.InDelta(t, 1.0, norm(a.Vector), 1e-5)
		assert.Equal(t, ComputeHash("func ParseFile(path string) error"), a.Hash)
	})

	t.Run("shared vocabulary is closer", func(t *testing.T) {
		resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{
			"parse the config file from disk",
			"load and parse the config file",
			"render a triangle with opengl shaders",
		}})
		require.NoError(t, err)
		require.Len(t, resp.Embeddings, 3)

		v := resp.Vectors()
		assert.Greater(t, dot(v[0], v[1]), dot(v[0], v[2]))
	})

	t.Run("empty text rejected", func(t *testing.T) {
		_, err := p.GenerateEmbedding(ctx, EmbeddingRequest{})
		assert.ErrorIs(t, err, ErrEmptyText)
	})

	t.Run("batch too large", func(t *testing.T) {
		texts := make([]string, MaxBatchSize+1)
		for i := range texts {
			texts[i] = fmt.Sprintf("text %d", i)
		}
		_, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts})
		assert.ErrorIs(t, err, ErrBatchTooLarge)
	})

	t.Run("custom dimension", func(t *testing.T) {
		small, err := NewLocalProvider(Config{Dimension: 16}, nil)
		require.NoError(t, err)
		emb, err := small.GenerateEmbedding(ctx, EmbeddingRequest{Text: "hello"})
		require.NoError(t, err)
		assert.Len(t, emb.Vector, 16)
	})
}

func TestHashingVector_NonWordText(t *testing.T) {
	v := HashingVector("{}();", 32)
	assert.Len(t, v, 32)
	assert.InDelta(t, 1.0, norm(v), 1e-5)
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0}
	assert.Equal(t, zero, NormalizeVector(zero))
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
