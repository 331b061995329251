package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/reporag/internal/chunker"
	"github.com/dshills/reporag/internal/embedder"
	"github.com/dshills/reporag/internal/storage"
	"github.com/dshills/reporag/pkg/types"
)

// DefaultBatchSize is the number of chunks embedded and committed together
const DefaultBatchSize = embedder.DefaultBatchSize

// ErrNotUTF8 marks files skipped because their content is not valid UTF-8
var ErrNotUTF8 = errors.New("content is not valid UTF-8")

// skipDirs are version-control metadata directories never descended into
var skipDirs = map[string]bool{
	".git": true,
	".hg":  true,
	".svn": true,
}

// Indexer coordinates the indexing pipeline: walk -> chunk -> batch -> embed -> upsert
type Indexer struct {
	storage  storage.Storage
	embedder embedder.Embedder
	chunker  *chunker.Chunker
	filter   *chunker.ExtensionFilter
	logger   *slog.Logger

	batchSize     int
	workers       int
	skipUnchanged bool
}

// Config contains configuration for the indexer
type Config struct {
	BatchSize     int      // Chunks per embedding call and transaction (default: 50)
	Workers       int      // Concurrent file readers (default: runtime.NumCPU())
	Extensions    []string // Allow-list of file extensions (default: chunker.DefaultExtensions)
	SkipUnchanged bool     // Drop chunks whose stored hash already matches
	ChunkSize     int
	Overlap       int
}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig() Config {
	return Config{
		BatchSize:     DefaultBatchSize,
		Workers:       runtime.NumCPU(),
		Extensions:    chunker.DefaultExtensions,
		SkipUnchanged: true,
		ChunkSize:     chunker.DefaultChunkSize,
		Overlap:       chunker.DefaultOverlap,
	}
}

// New creates a new Indexer instance. A nil logger uses slog.Default().
func New(store storage.Storage, emb embedder.Embedder, cfg Config, logger *slog.Logger) *Indexer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > embedder.MaxBatchSize {
		cfg.BatchSize = embedder.MaxBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Indexer{
		storage:       store,
		embedder:      emb,
		chunker:       chunker.NewWithConfig(chunker.Config{ChunkSize: cfg.ChunkSize, Overlap: cfg.Overlap}),
		filter:        chunker.NewExtensionFilter(cfg.Extensions),
		logger:        logger,
		batchSize:     cfg.BatchSize,
		workers:       cfg.Workers,
		skipUnchanged: cfg.SkipUnchanged,
	}
}

// Index walks rootPath and brings the repository's index up to date.
//
// It never returns an error: unreadable files are skipped, and a sub-batch
// whose embedding or persistence fails is rolled back and recorded in the
// summary while the run continues with the next one.
func (idx *Indexer) Index(ctx context.Context, repositoryID, rootPath string) *types.Summary {
	summary := &types.Summary{
		RepositoryID:  repositoryID,
		StartTime:     time.Now(),
		ErrorMessages: make([]string, 0),
	}
	defer func() { summary.Duration = time.Since(summary.StartTime) }()

	log := idx.logger.With("repository_id", repositoryID)
	log.Info("indexing run started", "root", rootPath)

	files, err := idx.discoverFiles(rootPath, summary)
	if err != nil {
		log.Error("file discovery failed", "root", rootPath, "error", err)
		summary.ErrorMessages = append(summary.ErrorMessages, fmt.Sprintf("discover %s: %v", rootPath, err))
		return summary
	}
	summary.FilesDiscovered = len(files)

	chunks := idx.loadChunks(ctx, rootPath, files, summary)
	summary.ChunksTotal = len(chunks)

	if idx.skipUnchanged && len(chunks) > 0 {
		chunks = idx.dropUnchanged(ctx, repositoryID, chunks, summary)
	}

	if len(chunks) == 0 {
		log.Info("nothing to embed",
			"files", summary.FilesDiscovered,
			"unchanged", summary.ChunksUnchanged)
		return summary
	}

	for i, start := 0, 0; start < len(chunks); i, start = i+1, start+idx.batchSize {
		end := min(start+idx.batchSize, len(chunks))
		batch := chunks[start:end]

		result := types.BatchResult{Index: i, Status: types.BatchCommitted, Count: len(batch)}
		if err := idx.indexBatch(ctx, repositoryID, batch); err != nil {
			result.Status = types.BatchFailed
			result.Err = err
			summary.ErrorMessages = append(summary.ErrorMessages, fmt.Sprintf("batch %d: %v", i, err))
			log.Warn("sub-batch failed", "batch", i, "chunks", len(batch), "error", err)
		} else {
			log.Debug("sub-batch committed", "batch", i, "chunks", len(batch))
		}
		summary.Batches = append(summary.Batches, result)
	}

	if summary.ChunksCommitted() > 0 {
		if err := idx.storage.TouchRepository(ctx, repositoryID, summary.StartTime); err != nil {
			log.Warn("failed to record index time", "error", err)
		}
	}

	log.Info("indexing run finished",
		"files", summary.FilesDiscovered,
		"files_skipped", summary.FilesSkipped,
		"chunks", summary.ChunksTotal,
		"unchanged", summary.ChunksUnchanged,
		"committed", summary.ChunksCommitted(),
		"failed", summary.ChunksFailed(),
		"duration", time.Since(summary.StartTime))

	return summary
}

// discoverFiles returns allowed files under rootPath as slash-separated
// relative paths, in lexical walk order
func (idx *Indexer) discoverFiles(rootPath string, summary *types.Summary) ([]string, error) {
	info, err := os.Stat(rootPath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", rootPath)
	}

	var files []string
	err = filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtree: record and keep walking
			if path == rootPath {
				return err
			}
			idx.logger.Warn("skipping unreadable path", "path", path, "error", err)
			summary.ErrorMessages = append(summary.ErrorMessages, fmt.Sprintf("%s: %v", path, err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(rootPath, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !idx.filter.Allowed(rel) {
			return nil
		}

		files = append(files, rel)
		return nil
	})

	return files, err
}

// loadChunks reads and chunks files on a bounded worker pool. The result
// preserves the order of files regardless of scheduling.
func (idx *Indexer) loadChunks(ctx context.Context, rootPath string, files []string, summary *types.Summary) []types.Chunk {
	perFile := make([][]types.Chunk, len(files))
	failures := make([]error, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)

	for i, rel := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				failures[i] = err
				return nil
			}
			perFile[i], failures[i] = idx.chunkFile(rootPath, rel)
			return nil
		})
	}
	_ = g.Wait()

	var chunks []types.Chunk
	for i, rel := range files {
		if err := failures[i]; err != nil {
			summary.FilesSkipped++
			summary.ErrorMessages = append(summary.ErrorMessages, fmt.Sprintf("%s: %v", rel, err))
			idx.logger.Warn("skipping file", "path", rel, "error", err)
			continue
		}
		summary.FilesChunked++
		chunks = append(chunks, perFile[i]...)
	}

	return chunks
}

// chunkFile reads one file and returns its embeddable chunks
func (idx *Indexer) chunkFile(rootPath, rel string) ([]types.Chunk, error) {
	data, err := os.ReadFile(filepath.Join(rootPath, filepath.FromSlash(rel)))
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(data) {
		return nil, ErrNotUTF8
	}

	chunks := idx.chunker.Chunk(rel, string(data))

	// Providers reject empty input, so whitespace-only chunks are never embedded.
	// They keep their index; a record stored earlier at that key is left as is.
	out := chunks[:0]
	for _, c := range chunks {
		if strings.TrimSpace(c.Content) != "" {
			out = append(out, c)
		}
	}
	return out, nil
}

// dropUnchanged removes chunks whose stored hash equals the new one.
// A lookup failure disables the skip for this run.
func (idx *Indexer) dropUnchanged(ctx context.Context, repositoryID string, chunks []types.Chunk, summary *types.Summary) []types.Chunk {
	stored, err := idx.storage.ChunkHashes(ctx, repositoryID)
	if err != nil {
		idx.logger.Warn("could not read stored hashes; re-embedding everything",
			"repository_id", repositoryID, "error", err)
		return chunks
	}

	changed := make([]types.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if hash, ok := stored[c.Key()]; ok && hash == c.ContentHash {
			summary.ChunksUnchanged++
			continue
		}
		changed = append(changed, c)
	}
	return changed
}

// indexBatch embeds one sub-batch and commits it in a single transaction
func (idx *Indexer) indexBatch(ctx context.Context, repositoryID string, batch []types.Chunk) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Content
	}

	resp, err := idx.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		return fmt.Errorf("embedding failed: %w", err)
	}
	vectors := resp.Vectors()
	if len(vectors) != len(batch) {
		return fmt.Errorf("%w: got %d vectors for %d chunks", embedder.ErrUnexpectedResponse, len(vectors), len(batch))
	}

	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, c := range batch {
		if err := tx.UpsertChunk(ctx, types.NewIndexedChunk(repositoryID, c, vectors[i])); err != nil {
			return fmt.Errorf("failed to store chunk %s#%d: %w", c.FilePath, c.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
