package integration

import (
	"context"
	"fmt"
	"testing"

	"github.com/dshills/reporag/internal/indexer"
	"github.com/dshills/reporag/internal/rag"
	"github.com/dshills/reporag/internal/retriever"
	"github.com/dshills/reporag/internal/storage"
)

// setupSearchBenchmark indexes the fixtures and returns an engine ready to search
func setupSearchBenchmark(b *testing.B, cfg rag.Config) (storage.Storage, *rag.Engine, string) {
	b.Helper()
	store, engine, repoID := benchEngine(b, cfg)
	if summary := engine.Index(context.Background(), repoID, fixturesDir(b)); !summary.Complete() {
		_ = store.Close()
		b.Fatal(summary.ErrorMessages)
	}
	return store, engine, repoID
}

// BenchmarkVectorSearch benchmarks nearest-neighbour retrieval
func BenchmarkVectorSearch(b *testing.B) {
	store, engine, repoID := setupSearchBenchmark(b, engineConfig(indexer.DefaultBatchSize, true))
	defer store.Close()

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := engine.Search(context.Background(), repoID, "session token validation", 5); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkCachedSearch benchmarks repeated queries served by the result cache
func BenchmarkCachedSearch(b *testing.B) {
	cfg := engineConfig(indexer.DefaultBatchSize, true)
	cfg.Retriever = retriever.Config{CacheSize: 128}
	store, engine, repoID := setupSearchBenchmark(b, cfg)
	defer store.Close()

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := engine.Search(context.Background(), repoID, "session token validation", 5); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSearchLimits benchmarks different result limits
func BenchmarkSearchLimits(b *testing.B) {
	store, engine, repoID := setupSearchBenchmark(b, engineConfig(indexer.DefaultBatchSize, true))
	defer store.Close()

	for _, limit := range []int{1, 5, 10, 20, 50} {
		b.Run(fmt.Sprintf("limit_%d", limit), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if _, err := engine.Search(context.Background(), repoID, "invoice router login", limit); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkQuery benchmarks retrieval plus a streamed answer
func BenchmarkQuery(b *testing.B) {
	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		b.Fatal(err)
	}
	defer store.Close()

	engine := rag.New(store, NewMockEmbedder(testDimension), NewMockProvider(), engineConfig(indexer.DefaultBatchSize, true), nil)
	repo, err := engine.RegisterRepository(context.Background(), "bench", fixturesDir(b))
	if err != nil {
		b.Fatal(err)
	}
	engine.Index(context.Background(), repo.ID, repo.RootPath)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		answer, err := engine.Query(context.Background(), repo.ID, "How are login attempts rate limited?")
		if err != nil {
			b.Fatal(err)
		}
		if _, err := answer.Text(); err != nil {
			b.Fatal(err)
		}
	}
}
