package retriever

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/reporag/internal/embedder"
	"github.com/dshills/reporag/internal/storage"
	"github.com/dshills/reporag/pkg/types"
)

// DefaultTopK is used when a caller passes topK <= 0
const DefaultTopK = 5

var (
	// ErrEmptyQuery is returned for a blank query string
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrMissingRepository is returned when no repository ID is given
	ErrMissingRepository = errors.New("repository ID is required")
)

// Config contains configuration for the retriever
type Config struct {
	DefaultTopK int           // Used when topK <= 0 (default: 5)
	CacheSize   int           // Cached result sets; 0 disables the cache
	CacheTTL    time.Duration // Lifetime of a cached result set (default: 1 hour)
}

// cacheKey identifies one retrieval
type cacheKey struct {
	repositoryID string
	query        [32]byte
	topK         int
}

// cacheEntry represents a cached result set with expiration time
type cacheEntry struct {
	results   []types.ScoredChunk
	expiresAt time.Time
}

// Retriever embeds a query and returns the nearest chunks of one repository.
// It is read-only with respect to the index.
type Retriever struct {
	storage     storage.Storage
	embedder    embedder.Embedder
	logger      *slog.Logger
	defaultTopK int
	cache       *lru.Cache[cacheKey, *cacheEntry]
	cacheTTL    time.Duration
}

// New creates a Retriever. A nil logger uses slog.Default().
func New(store storage.Storage, emb embedder.Embedder, cfg Config, logger *slog.Logger) *Retriever {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = DefaultTopK
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Retriever{
		storage:     store,
		embedder:    emb,
		logger:      logger,
		defaultTopK: cfg.DefaultTopK,
		cacheTTL:    cfg.CacheTTL,
	}

	if cfg.CacheSize > 0 {
		cache, err := lru.New[cacheKey, *cacheEntry](cfg.CacheSize)
		if err != nil {
			// Only reachable with a non-positive size
			panic(fmt.Sprintf("failed to create LRU cache: %v", err))
		}
		r.cache = cache
	}

	return r
}

// Retrieve returns up to topK chunks ordered by ascending cosine distance to
// the query. Results are not re-ranked, deduplicated or thresholded; fewer
// than topK are returned when the repository holds fewer chunks.
func (r *Retriever) Retrieve(ctx context.Context, repositoryID, query string, topK int) ([]types.ScoredChunk, error) {
	if repositoryID == "" {
		return nil, ErrMissingRepository
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = r.defaultTopK
	}

	key := cacheKey{repositoryID: repositoryID, query: sha256.Sum256([]byte(query)), topK: topK}
	if cached, ok := r.checkCache(key); ok {
		return cached, nil
	}

	start := time.Now()
	emb, err := r.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: query})
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	results, err := r.storage.SearchNearest(ctx, repositoryID, emb.Vector, topK)
	if err != nil {
		return nil, fmt.Errorf("nearest-neighbour search failed: %w", err)
	}

	r.logger.Debug("retrieval",
		"repository_id", repositoryID,
		"top_k", topK,
		"results", len(results),
		"duration", time.Since(start))

	r.storeInCache(key, results)
	return results, nil
}

// checkCache returns a copy of a live cached result set
func (r *Retriever) checkCache(key cacheKey) ([]types.ScoredChunk, bool) {
	if r.cache == nil {
		return nil, false
	}
	entry, ok := r.cache.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		r.cache.Remove(key)
		return nil, false
	}
	return copyResults(entry.results), true
}

func (r *Retriever) storeInCache(key cacheKey, results []types.ScoredChunk) {
	if r.cache == nil {
		return
	}
	r.cache.Add(key, &cacheEntry{
		results:   copyResults(results),
		expiresAt: time.Now().Add(r.cacheTTL),
	})
}

// Invalidate drops cached result sets for one repository. Call it after
// indexing or deindexing so later queries see the new snapshot.
func (r *Retriever) Invalidate(repositoryID string) {
	if r.cache == nil {
		return
	}
	for _, key := range r.cache.Keys() {
		if key.repositoryID == repositoryID {
			r.cache.Remove(key)
		}
	}
}

// copyResults copies the result slice and each embedding so callers cannot
// mutate a cached snapshot
func copyResults(src []types.ScoredChunk) []types.ScoredChunk {
	dst := make([]types.ScoredChunk, len(src))
	for i, r := range src {
		dst[i] = r
		dst[i].Embedding = append([]float32(nil), r.Embedding...)
	}
	return dst
}
