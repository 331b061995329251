package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dshills/reporag/internal/completion"
	"github.com/dshills/reporag/internal/embedder"
	"github.com/dshills/reporag/internal/generator"
	"github.com/dshills/reporag/internal/indexer"
	"github.com/dshills/reporag/internal/retriever"
	"github.com/dshills/reporag/internal/storage"
	"github.com/dshills/reporag/pkg/types"
)

// ErrNoCompletionProvider is returned by Query when the engine was built
// without a completion provider
var ErrNoCompletionProvider = errors.New("no completion provider configured")

// Config carries the sections of the application config the engine needs
type Config struct {
	Indexer   indexer.Config
	Retriever retriever.Config
	TopK      int // Chunks retrieved per question (default: 5)
}

// Engine composes indexing, retrieval and answer generation over one store.
// It does not own its collaborators; the caller closes them.
type Engine struct {
	store     storage.Storage
	embedder  embedder.Embedder
	indexer   *indexer.Indexer
	retriever *retriever.Retriever
	generator *generator.Generator
	topK      int
	logger    *slog.Logger
}

// New wires an engine. provider may be nil for index/search-only use.
func New(store storage.Storage, emb embedder.Embedder, provider completion.Provider, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = retriever.DefaultTopK
	}

	e := &Engine{
		store:     store,
		embedder:  emb,
		indexer:   indexer.New(store, emb, cfg.Indexer, logger.With("component", "indexer")),
		retriever: retriever.New(store, emb, cfg.Retriever, logger.With("component", "retriever")),
		topK:      cfg.TopK,
		logger:    logger,
	}
	if provider != nil {
		e.generator = generator.New(provider, logger.With("component", "generator"))
	}
	return e
}

// Embedder returns the embedding provider used for both indexing and queries
func (e *Engine) Embedder() embedder.Embedder {
	return e.embedder
}

// Index brings the repository's index up to date with rootPath.
// See indexer.Indexer.Index for the failure policy; it never returns an error.
func (e *Engine) Index(ctx context.Context, repositoryID, rootPath string) *types.Summary {
	summary := e.indexer.Index(ctx, repositoryID, rootPath)
	if summary.ChunksCommitted() > 0 {
		e.retriever.Invalidate(repositoryID)
	}
	return summary
}

// Search returns the topK nearest chunks without generating an answer
func (e *Engine) Search(ctx context.Context, repositoryID, query string, topK int) ([]types.ScoredChunk, error) {
	if topK <= 0 {
		topK = e.topK
	}
	results, err := e.retriever.Retrieve(ctx, repositoryID, query, topK)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return results, nil
}

// Query retrieves context for question and starts a streamed answer.
// The caller must Close the returned answer.
func (e *Engine) Query(ctx context.Context, repositoryID, question string) (*generator.Answer, error) {
	if e.generator == nil {
		return nil, ErrNoCompletionProvider
	}

	results, err := e.retriever.Retrieve(ctx, repositoryID, question, e.topK)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	answer, err := e.generator.Answer(ctx, results, question)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	e.logger.Info("query answered",
		"repository_id", repositoryID,
		"sources", len(results))
	return answer, nil
}

// Ask is the non-streaming form of Query. It returns the full answer and
// the chunks it was grounded on.
func (e *Engine) Ask(ctx context.Context, repositoryID, question string) (string, []types.ScoredChunk, error) {
	if e.generator == nil {
		return "", nil, ErrNoCompletionProvider
	}

	results, err := e.retriever.Retrieve(ctx, repositoryID, question, e.topK)
	if err != nil {
		return "", nil, fmt.Errorf("query failed: %w", err)
	}

	text, err := e.generator.Complete(ctx, results, question)
	if err != nil {
		return "", nil, fmt.Errorf("query failed: %w", err)
	}
	return text, results, nil
}

// RegisterRepository returns the repository called name, creating it when
// it does not exist yet
func (e *Engine) RegisterRepository(ctx context.Context, name, rootPath string) (*storage.Repository, error) {
	name = strings.TrimSpace(name)
	repo, err := e.store.GetRepositoryByName(ctx, name)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	repo = &storage.Repository{Name: name, RootPath: rootPath}
	if err := e.store.CreateRepository(ctx, repo); err != nil {
		// Lost a race with a concurrent registration
		if errors.Is(err, storage.ErrAlreadyExists) {
			return e.store.GetRepositoryByName(ctx, name)
		}
		return nil, err
	}

	e.logger.Info("repository registered", "repository_id", repo.ID, "name", name)
	return repo, nil
}

// ResolveRepository looks a repository up by ID, then by name
func (e *Engine) ResolveRepository(ctx context.Context, ref string) (*storage.Repository, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, storage.ErrNotFound
	}
	repo, err := e.store.GetRepository(ctx, ref)
	if err == nil || !errors.Is(err, storage.ErrNotFound) {
		return repo, err
	}
	return e.store.GetRepositoryByName(ctx, ref)
}

// Repositories lists registered repositories by name
func (e *Engine) Repositories(ctx context.Context) ([]*storage.Repository, error) {
	return e.store.ListRepositories(ctx)
}

// Status reports index statistics for a repository
func (e *Engine) Status(ctx context.Context, repositoryID string) (*storage.RepositoryStatus, error) {
	return e.store.GetStatus(ctx, repositoryID)
}

// Deindex removes every chunk record of a repository and returns how many
// were deleted. The repository itself stays registered.
func (e *Engine) Deindex(ctx context.Context, repositoryID string) (int64, error) {
	n, err := e.store.DeleteRepositoryChunks(ctx, repositoryID)
	if err != nil {
		return 0, fmt.Errorf("deindex failed: %w", err)
	}
	e.retriever.Invalidate(repositoryID)
	e.logger.Info("repository deindexed", "repository_id", repositoryID, "chunks", n)
	return n, nil
}
