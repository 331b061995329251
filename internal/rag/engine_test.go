package rag

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/reporag/internal/completion"
	"github.com/dshills/reporag/internal/embedder"
	"github.com/dshills/reporag/internal/indexer"
	"github.com/dshills/reporag/internal/retriever"
	"github.com/dshills/reporag/internal/storage"
)

// echoProvider answers with the number of context files it was given
type echoProvider struct {
	last []completion.Message
}

func (p *echoProvider) Stream(ctx context.Context, messages []completion.Message) (*completion.Stream, error) {
	p.last = messages
	n := strings.Count(messages[len(messages)-1].Content, "File: ")
	return completion.NewStaticStream("grounded on ", strings.Repeat("#", n)), nil
}

func (p *echoProvider) Complete(ctx context.Context, messages []completion.Message) (string, error) {
	s, _ := p.Stream(ctx, messages)
	return completion.Collect(s)
}

func (p *echoProvider) Provider() string { return "echo" }
func (p *echoProvider) Model() string    { return "echo" }
func (p *echoProvider) Close() error     { return nil }

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func setupEngine(t *testing.T, provider completion.Provider, cfg Config) *Engine {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb, err := embedder.New(embedder.Config{Provider: embedder.ProviderLocal, Dimension: embedder.LocalDimension})
	require.NoError(t, err)

	if cfg.Indexer.BatchSize == 0 {
		cfg.Indexer = indexer.DefaultConfig()
	}
	return New(store, emb, provider, cfg, nil)
}

func sampleRepo(t *testing.T) string {
	dir := t.TempDir()
	writeFile(t, dir, "config/load.py", "def load_config(path):\n    with open(path) as f:\n        return yaml.safe_load(f)\n")
	writeFile(t, dir, "server/http.go", "package server\n\nfunc ListenAndServe(addr string) error {\n\treturn http.ListenAndServe(addr, nil)\n}\n")
	writeFile(t, dir, "README.md", "# Demo\n\nA small service.\n")
	return dir
}

func TestRegisterRepository(t *testing.T) {
	e := setupEngine(t, nil, Config{})
	ctx := context.Background()

	first, err := e.RegisterRepository(ctx, "acme/api", "/src/api")
	require.NoError(t, err)
	second, err := e.RegisterRepository(ctx, " acme/api ", "/elsewhere")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "/src/api", second.RootPath)

	repos, err := e.Repositories(ctx)
	require.NoError(t, err)
	assert.Len(t, repos, 1)
}

func TestResolveRepository(t *testing.T) {
	e := setupEngine(t, nil, Config{})
	ctx := context.Background()

	repo, err := e.RegisterRepository(ctx, "acme/api", "")
	require.NoError(t, err)

	byID, err := e.ResolveRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.Name, byID.Name)

	byName, err := e.ResolveRepository(ctx, "acme/api")
	require.NoError(t, err)
	assert.Equal(t, repo.ID, byName.ID)

	_, err = e.ResolveRepository(ctx, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = e.ResolveRepository(ctx, "")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIndexSearchQuery(t *testing.T) {
	provider := &echoProvider{}
	e := setupEngine(t, provider, Config{TopK: 2})
	ctx := context.Background()

	repo, err := e.RegisterRepository(ctx, "acme/api", sampleRepo(t))
	require.NoError(t, err)

	summary := e.Index(ctx, repo.ID, repo.RootPath)
	require.True(t, summary.Complete(), summary.ErrorMessages)
	assert.Equal(t, 3, summary.ChunksCommitted())

	results, err := e.Search(ctx, repo.ID, "load_config yaml", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "config/load.py", results[0].FilePath)
	assert.Less(t, results[0].Distance, results[1].Distance)

	answer, err := e.Query(ctx, repo.ID, "How is the config loaded?")
	require.NoError(t, err)
	assert.Len(t, answer.Sources, 2)

	text, err := answer.Text()
	require.NoError(t, err)
	assert.Equal(t, "grounded on ##", text)
	assert.Contains(t, provider.last[1].Content, "Question:\nHow is the config loaded?")

	text, sources, err := e.Ask(ctx, repo.ID, "Where is the server started?")
	require.NoError(t, err)
	assert.Equal(t, "grounded on ##", text)
	assert.Len(t, sources, 2)

	status, err := e.Status(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, status.ChunksCount)
	assert.Equal(t, 3, status.FilesCount)
}

func TestQuery_Errors(t *testing.T) {
	ctx := context.Background()

	e := setupEngine(t, nil, Config{})
	_, err := e.Query(ctx, "repo", "q")
	assert.ErrorIs(t, err, ErrNoCompletionProvider)

	_, _, err = e.Ask(ctx, "repo", "q")
	assert.ErrorIs(t, err, ErrNoCompletionProvider)

	e = setupEngine(t, &echoProvider{}, Config{})
	_, err = e.Query(ctx, "repo", "   ")
	assert.ErrorIs(t, err, retriever.ErrEmptyQuery)
	_, _, err = e.Ask(ctx, "repo", "")
	assert.ErrorIs(t, err, retriever.ErrEmptyQuery)
}

func TestDeindex(t *testing.T) {
	e := setupEngine(t, nil, Config{Retriever: retriever.Config{CacheSize: 16, CacheTTL: time.Hour}})
	ctx := context.Background()

	repo, err := e.RegisterRepository(ctx, "acme/api", sampleRepo(t))
	require.NoError(t, err)
	e.Index(ctx, repo.ID, repo.RootPath)

	results, err := e.Search(ctx, repo.ID, "server", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	n, err := e.Deindex(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// Cached results for the repository are dropped too
	results, err = e.Search(ctx, repo.ID, "server", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = e.ResolveRepository(ctx, repo.ID)
	assert.NoError(t, err, "deindex keeps the registration")
}

func TestIndex_InvalidatesCachedSearch(t *testing.T) {
	e := setupEngine(t, nil, Config{Retriever: retriever.Config{CacheSize: 16, CacheTTL: time.Hour}})
	ctx := context.Background()

	dir := t.TempDir()
	writeFile(t, dir, "a.py", "alpha = 1\n")
	repo, err := e.RegisterRepository(ctx, "acme/api", dir)
	require.NoError(t, err)
	e.Index(ctx, repo.ID, dir)

	before, err := e.Search(ctx, repo.ID, "alpha", 5)
	require.NoError(t, err)
	require.Len(t, before, 1)

	writeFile(t, dir, "b.py", "beta = 2\n")
	e.Index(ctx, repo.ID, dir)

	after, err := e.Search(ctx, repo.ID, "alpha", 5)
	require.NoError(t, err)
	assert.Len(t, after, 2)
}
