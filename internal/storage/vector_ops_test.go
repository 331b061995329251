package storage

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/reporag/pkg/types"
)

func TestSerializeVector(t *testing.T) {
	vec := []float32{0, 1.5, -2.25, float32(math.Pi)}
	blob := SerializeVector(vec)
	assert.Len(t, blob, 16)
	assert.Equal(t, vec, DeserializeVector(blob))
	assert.Empty(t, DeserializeVector(nil))
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineDistance(tt.a, tt.b), 1e-9)
		})
	}
}

func TestTopCandidates(t *testing.T) {
	candidates := []candidate{
		{id: 4, distance: 0.5},
		{id: 2, distance: 0.1},
		{id: 3, distance: 0.5},
		{id: 1, distance: 0.9},
	}

	top := topCandidates(candidates, 3)
	require.Len(t, top, 3)
	assert.Equal(t, int64(2), top[0].id)
	assert.Equal(t, int64(3), top[1].id, "ties break by ascending id")
	assert.Equal(t, int64(4), top[2].id)

	assert.Len(t, topCandidates([]candidate{{id: 1}}, 10), 1)
}

// seedVectors stores one record per vector under a fresh repository
func seedVectors(t *testing.T, s *SQLiteStorage, vectors ...[]float32) string {
	t.Helper()
	ctx := context.Background()

	repo := &Repository{Name: t.Name(), RootPath: "/src"}
	require.NoError(t, s.CreateRepository(ctx, repo))

	for i, vec := range vectors {
		content := fmt.Sprintf("chunk %d", i)
		require.NoError(t, s.UpsertChunk(ctx, &types.IndexedChunk{
			RepositoryID: repo.ID,
			FilePath:     "main.go",
			ChunkIndex:   i,
			ContentHash:  types.HashContent(content),
			Content:      content,
			Language:     "go",
			StartLine:    i + 1,
			EndLine:      i + 1,
			Embedding:    vec,
		}))
	}
	return repo.ID
}

func TestSearchNearest_OrdersByDistance(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()

	repoID := seedVectors(t, s,
		[]float32{0, 1, 0},
		[]float32{1, 0, 0},
		[]float32{0.9, 0.1, 0},
		[]float32{-1, 0, 0},
	)

	results, err := s.SearchNearest(context.Background(), repoID, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, 1, results[0].ChunkIndex)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
	assert.Equal(t, 2, results[1].ChunkIndex)
	assert.Equal(t, 0, results[2].ChunkIndex)
	assert.InDelta(t, 1, results[2].Distance, 1e-6)

	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
	}
	assert.Equal(t, []float32{1, 0, 0}, results[0].Embedding)
	assert.Equal(t, "chunk 1", results[0].Content)
}

func TestSearchNearest_TiesBreakByID(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()

	repoID := seedVectors(t, s,
		[]float32{1, 1},
		[]float32{2, 2},
		[]float32{3, 3},
	)

	results, err := s.SearchNearest(context.Background(), repoID, []float32{1, 1}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Less(t, results[0].ID, results[1].ID)
	assert.Equal(t, 0, results[0].ChunkIndex)
}

func TestSearchNearest_FiltersByDimension(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()

	repoID := seedVectors(t, s,
		[]float32{1, 0},
		[]float32{1, 0, 0},
		[]float32{0, 1},
	)

	results, err := s.SearchNearest(context.Background(), repoID, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Len(t, r.Embedding, 2)
	}
}

func TestSearchNearest_ScopedToRepository(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()

	repoA := seedVectors(t, s, []float32{1, 0})

	ctx := context.Background()
	repoB := &Repository{Name: "other"}
	require.NoError(t, s.CreateRepository(ctx, repoB))

	results, err := s.SearchNearest(ctx, repoB.ID, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = s.SearchNearest(ctx, repoA, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchNearest_EdgeCases(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()

	repoID := seedVectors(t, s, []float32{1, 0})
	ctx := context.Background()

	tests := []struct {
		name   string
		repoID string
		vector []float32
		k      int
	}{
		{"empty query vector", repoID, []float32{}, 10},
		{"zero k", repoID, []float32{1, 0}, 0},
		{"negative k", repoID, []float32{1, 0}, -1},
		{"unknown repository", "missing", []float32{1, 0}, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := s.SearchNearest(ctx, tt.repoID, tt.vector, tt.k)
			require.NoError(t, err)
			assert.NotNil(t, results)
			assert.Empty(t, results)
		})
	}
}

// TestSearchNearest_OptimizedMatchesFallback checks the sqlite-vec path against the Go path
func TestSearchNearest_OptimizedMatchesFallback(t *testing.T) {
	if !VectorExtensionAvailable {
		t.Skip("sqlite-vec extension not available")
	}

	s := setupTestDB(t)
	defer s.Close()

	vectors := make([][]float32, 20)
	for i := range vectors {
		vec := make([]float32, 16)
		for j := range vec {
			vec[j] = float32(math.Sin(float64(i*16 + j)))
		}
		vectors[i] = vec
	}
	repoID := seedVectors(t, s, vectors...)

	query := vectors[7]
	ctx := context.Background()
	optimized, err := searchNearestOptimized(ctx, s.db, repoID, query, 5)
	require.NoError(t, err)
	fallback, err := searchNearestFallback(ctx, s.db, repoID, query, 5)
	require.NoError(t, err)

	require.Equal(t, len(fallback), len(optimized))
	assert.Equal(t, fallback[0].ID, optimized[0].ID)
	for i := range optimized {
		assert.InDelta(t, fallback[i].Distance, optimized[i].Distance, 1e-4)
	}
}

func BenchmarkSearchNearest(b *testing.B) {
	s, err := NewSQLiteStorage(":memory:")
	require.NoError(b, err)
	defer s.Close()

	ctx := context.Background()
	repo := &Repository{Name: "bench"}
	require.NoError(b, s.CreateRepository(ctx, repo))

	const dim = 384
	for i := 0; i < 1000; i++ {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = float32(math.Cos(float64(i + j)))
		}
		require.NoError(b, s.UpsertChunk(ctx, &types.IndexedChunk{
			RepositoryID: repo.ID,
			FilePath:     fmt.Sprintf("file%d.go", i/10),
			ChunkIndex:   i % 10,
			ContentHash:  "h",
			Content:      "x",
			Language:     "go",
			StartLine:    1,
			EndLine:      1,
			Embedding:    vec,
		}))
	}

	query := make([]float32, dim)
	for i := range query {
		query[i] = float32(i) * 0.01
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.SearchNearest(ctx, repo.ID, query, 10); err != nil {
			b.Fatal(err)
		}
	}
}
