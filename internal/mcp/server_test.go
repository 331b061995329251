package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/reporag/internal/completion"
	"github.com/dshills/reporag/internal/embedder"
	"github.com/dshills/reporag/internal/indexer"
	"github.com/dshills/reporag/internal/rag"
	"github.com/dshills/reporag/internal/storage"
)

// cannedProvider always answers with the same text
type cannedProvider struct{}

func (cannedProvider) Stream(ctx context.Context, messages []completion.Message) (*completion.Stream, error) {
	return completion.NewStaticStream("See ", "`auth/login.py`."), nil
}

func (p cannedProvider) Complete(ctx context.Context, messages []completion.Message) (string, error) {
	s, _ := p.Stream(ctx, messages)
	return completion.Collect(s)
}

func (cannedProvider) Provider() string { return "canned" }
func (cannedProvider) Model() string    { return "canned" }
func (cannedProvider) Close() error     { return nil }

func setupServer(t *testing.T, provider completion.Provider) *Server {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb, err := embedder.New(embedder.Config{Provider: embedder.ProviderLocal, Dimension: 32})
	require.NoError(t, err)

	engine := rag.New(store, emb, provider, rag.Config{Indexer: indexer.DefaultConfig()}, nil)
	return NewServer(engine, nil)
}

func sourceTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "auth"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "auth", "login.py"),
		[]byte("def login(user, password):\n    return check(user, password)\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"),
		[]byte("package main\n\nfunc main() {}\n"), 0o644))
	return dir
}

func callTool(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	}
}

func decodeResult(t *testing.T, result *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func requireMCPCode(t *testing.T, err error, code int) {
	t.Helper()
	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, code, mcpErr.Code, mcpErr.Message)
}

func TestServer_ToolsRegistered(t *testing.T) {
	s := setupServer(t, nil)

	resp := s.mcp.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	for _, name := range []string{"index_repository", "search_repository", "ask_repository", "get_status", "deindex_repository"} {
		assert.Contains(t, string(raw), `"`+name+`"`)
	}
}

func TestIndexSearchAsk(t *testing.T) {
	s := setupServer(t, cannedProvider{})
	ctx := context.Background()
	dir := sourceTree(t)

	result, err := s.handleIndexRepository(ctx, callTool("index_repository", map[string]interface{}{
		"repository": "acme/auth",
		"path":       dir,
	}))
	require.NoError(t, err)
	out := decodeResult(t, result)
	assert.Equal(t, true, out["indexed"])
	assert.Equal(t, true, out["complete"])
	assert.EqualValues(t, 2, out["chunks_committed"])

	// A second run without a path reuses the stored root and skips everything
	result, err = s.handleIndexRepository(ctx, callTool("index_repository", map[string]interface{}{
		"repository": "acme/auth",
	}))
	require.NoError(t, err)
	out = decodeResult(t, result)
	assert.EqualValues(t, 0, out["chunks_committed"])
	assert.EqualValues(t, 2, out["chunks_unchanged"])

	result, err = s.handleSearchRepository(ctx, callTool("search_repository", map[string]interface{}{
		"repository": "acme/auth",
		"query":      "def login(user, password):\n    return check(user, password)\n",
		"limit":      float64(1),
	}))
	require.NoError(t, err)
	out = decodeResult(t, result)
	results := out["results"].([]interface{})
	require.Len(t, results, 1)
	assert.Equal(t, "auth/login.py", results[0].(map[string]interface{})["file_path"])

	result, err = s.handleAskRepository(ctx, callTool("ask_repository", map[string]interface{}{
		"repository": "acme/auth",
		"question":   "Where is login handled?",
	}))
	require.NoError(t, err)
	out = decodeResult(t, result)
	assert.Equal(t, "See `auth/login.py`.", out["answer"])
	assert.Len(t, out["sources"], 2)
}

func TestIndexRepository_Validation(t *testing.T) {
	s := setupServer(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]interface{}
		code int
	}{
		{"missing repository", map[string]interface{}{"path": t.TempDir()}, ErrorCodeInvalidParams},
		{"relative path", map[string]interface{}{"repository": "r", "path": "src"}, ErrorCodeInvalidParams},
		{"nonexistent path", map[string]interface{}{"repository": "r", "path": "/nonexistent/path/to/nowhere"}, ErrorCodeInvalidParams},
		{"new repository without path", map[string]interface{}{"repository": "r"}, ErrorCodeInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.handleIndexRepository(ctx, callTool("index_repository", tt.args))
			requireMCPCode(t, err, tt.code)
		})
	}

	_, err := s.handleIndexRepository(ctx, mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: "nope"}})
	requireMCPCode(t, err, ErrorCodeInvalidParams)
}

func TestIndexRepository_InProgress(t *testing.T) {
	s := setupServer(t, nil)
	ctx := context.Background()
	dir := sourceTree(t)

	repo, err := s.engine.RegisterRepository(ctx, "acme/auth", dir)
	require.NoError(t, err)

	require.True(t, s.locks.TryAcquire(repo.ID))
	_, err = s.handleIndexRepository(ctx, callTool("index_repository", map[string]interface{}{"repository": "acme/auth"}))
	requireMCPCode(t, err, ErrorCodeIndexingInProgress)

	_, err = s.handleDeindexRepository(ctx, callTool("deindex_repository", map[string]interface{}{"repository": repo.ID}))
	requireMCPCode(t, err, ErrorCodeIndexingInProgress)

	result, err := s.handleGetStatus(ctx, callTool("get_status", map[string]interface{}{"repository": "acme/auth"}))
	require.NoError(t, err)
	assert.Equal(t, true, decodeResult(t, result)["in_progress"])

	s.locks.Release(repo.ID)
	_, err = s.handleIndexRepository(ctx, callTool("index_repository", map[string]interface{}{"repository": "acme/auth"}))
	assert.NoError(t, err)
}

func TestSearchRepository_Errors(t *testing.T) {
	s := setupServer(t, nil)
	ctx := context.Background()

	_, err := s.handleSearchRepository(ctx, callTool("search_repository", map[string]interface{}{"repository": "x", "query": ""}))
	requireMCPCode(t, err, ErrorCodeEmptyQuery)

	_, err = s.handleSearchRepository(ctx, callTool("search_repository", map[string]interface{}{"repository": "x", "query": "q", "limit": float64(0)}))
	requireMCPCode(t, err, ErrorCodeInvalidParams)

	_, err = s.handleSearchRepository(ctx, callTool("search_repository", map[string]interface{}{"repository": "missing", "query": "q"}))
	requireMCPCode(t, err, ErrorCodeRepositoryNotFound)

	_, err = s.engine.RegisterRepository(ctx, "acme/empty", "")
	require.NoError(t, err)
	_, err = s.handleSearchRepository(ctx, callTool("search_repository", map[string]interface{}{"repository": "acme/empty", "query": "   "}))
	requireMCPCode(t, err, ErrorCodeEmptyQuery)
}

func TestAskRepository_NoProvider(t *testing.T) {
	s := setupServer(t, nil)
	ctx := context.Background()

	_, err := s.engine.RegisterRepository(ctx, "acme/auth", "")
	require.NoError(t, err)

	_, err = s.handleAskRepository(ctx, callTool("ask_repository", map[string]interface{}{
		"repository": "acme/auth",
		"question":   "anything",
	}))
	requireMCPCode(t, err, ErrorCodeNoCompletionProvider)
}

func TestGetStatus(t *testing.T) {
	s := setupServer(t, nil)
	ctx := context.Background()

	result, err := s.handleGetStatus(ctx, callTool("get_status", map[string]interface{}{"repository": "acme/none"}))
	require.NoError(t, err)
	out := decodeResult(t, result)
	assert.Equal(t, false, out["indexed"])

	_, err = s.handleIndexRepository(ctx, callTool("index_repository", map[string]interface{}{
		"repository": "acme/auth",
		"path":       sourceTree(t),
	}))
	require.NoError(t, err)

	result, err = s.handleGetStatus(ctx, callTool("get_status", map[string]interface{}{"repository": "acme/auth"}))
	require.NoError(t, err)
	out = decodeResult(t, result)
	assert.Equal(t, true, out["indexed"])
	assert.Equal(t, false, out["in_progress"])

	stats := out["statistics"].(map[string]interface{})
	assert.EqualValues(t, 2, stats["files_count"])
	assert.EqualValues(t, 2, stats["chunks_count"])

	repo := out["repository"].(map[string]interface{})
	assert.NotEmpty(t, repo["last_indexed_at"])
}

func TestDeindexRepository(t *testing.T) {
	s := setupServer(t, nil)
	ctx := context.Background()

	_, err := s.handleIndexRepository(ctx, callTool("index_repository", map[string]interface{}{
		"repository": "acme/auth",
		"path":       sourceTree(t),
	}))
	require.NoError(t, err)

	result, err := s.handleDeindexRepository(ctx, callTool("deindex_repository", map[string]interface{}{"repository": "acme/auth"}))
	require.NoError(t, err)
	assert.EqualValues(t, 2, decodeResult(t, result)["chunks_deleted"])

	result, err = s.handleGetStatus(ctx, callTool("get_status", map[string]interface{}{"repository": "acme/auth"}))
	require.NoError(t, err)
	assert.Equal(t, false, decodeResult(t, result)["indexed"])

	_, err = s.handleDeindexRepository(ctx, callTool("deindex_repository", map[string]interface{}{"repository": "nope"}))
	requireMCPCode(t, err, ErrorCodeRepositoryNotFound)
}
