package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/reporag/internal/generator"
	"github.com/dshills/reporag/internal/rag"
	"github.com/dshills/reporag/internal/retriever"
	"github.com/dshills/reporag/internal/storage"
	"github.com/dshills/reporag/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams        = -32602 // Invalid method parameters
	ErrorCodeInternalError        = -32603 // Internal JSON-RPC error
	ErrorCodeRepositoryNotFound   = -32001 // Repository is not registered
	ErrorCodeIndexingInProgress   = -32002 // Another indexing operation is already running
	ErrorCodeEmptyQuery           = -32004 // Query parameter is empty
	ErrorCodeNoCompletionProvider = -32005 // No completion provider is configured
)

// maxErrorsReported caps the error messages echoed back from an indexing run
const maxErrorsReported = 5

// handleIndexRepository handles the index_repository tool invocation
func (s *Server) handleIndexRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	ref, err := requireString(args, "repository")
	if err != nil {
		return nil, err
	}
	path := getStringDefault(args, "path", "")
	if path != "" {
		if err := validatePath(path); err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
				"param":  "path",
				"reason": err.Error(),
			})
		}
	}

	repo, err := s.engine.ResolveRepository(ctx, ref)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if path == "" {
			return nil, newMCPError(ErrorCodeInvalidParams, "path is required to index a new repository", map[string]interface{}{
				"param":  "path",
				"reason": "missing for unregistered repository",
			})
		}
		repo, err = s.engine.RegisterRepository(ctx, ref, path)
		if err != nil {
			return nil, internalError("failed to register repository", err)
		}
	case err != nil:
		return nil, internalError("failed to resolve repository", err)
	}

	if path == "" {
		path = repo.RootPath
	}
	if path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "repository has no root path; pass path", nil)
	}

	if !s.locks.TryAcquire(repo.ID) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "repository is already being indexed", map[string]interface{}{
			"repository_id": repo.ID,
		})
	}
	defer s.locks.Release(repo.ID)

	summary := s.engine.Index(ctx, repo.ID, path)

	response := map[string]interface{}{
		"indexed":          summary.ChunksCommitted()+summary.ChunksUnchanged > 0,
		"complete":         summary.Complete(),
		"repository_id":    repo.ID,
		"repository":       repo.Name,
		"files_discovered": summary.FilesDiscovered,
		"files_chunked":    summary.FilesChunked,
		"files_skipped":    summary.FilesSkipped,
		"chunks_total":     summary.ChunksTotal,
		"chunks_unchanged": summary.ChunksUnchanged,
		"chunks_committed": summary.ChunksCommitted(),
		"chunks_failed":    summary.ChunksFailed(),
		"failed_batches":   len(summary.FailedBatches()),
		"duration_ms":      summary.Duration.Milliseconds(),
	}

	if n := len(summary.ErrorMessages); n > 0 {
		if n > maxErrorsReported {
			response["errors"] = summary.ErrorMessages[:maxErrorsReported]
			response["error_count"] = n
		} else {
			response["errors"] = summary.ErrorMessages
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchRepository handles the search_repository tool invocation
func (s *Server) handleSearchRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	ref, err := requireString(args, "repository")
	if err != nil {
		return nil, err
	}
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", retriever.DefaultTopK)
	if limit < 1 || limit > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	repo, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	results, err := s.engine.Search(ctx, repo.ID, query, limit)
	if err != nil {
		return nil, queryError("search failed", err)
	}

	items := make([]map[string]interface{}, 0, len(results))
	for i, r := range results {
		items = append(items, map[string]interface{}{
			"rank":       i + 1,
			"file_path":  r.FilePath,
			"start_line": r.StartLine,
			"end_line":   r.EndLine,
			"language":   r.Language,
			"similarity": fmt.Sprintf("%.4f", r.Similarity()),
			"content":    r.Content,
		})
	}

	response := map[string]interface{}{
		"repository": repo.Name,
		"query":      query,
		"results":    items,
		"total":      len(items),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleAskRepository handles the ask_repository tool invocation.
// The answer stream is drained before responding.
func (s *Server) handleAskRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	ref, err := requireString(args, "repository")
	if err != nil {
		return nil, err
	}
	question, ok := args["question"].(string)
	if !ok || question == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "question parameter is required and cannot be empty", map[string]interface{}{
			"param":  "question",
			"reason": "missing or empty",
		})
	}

	repo, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	text, sources, err := s.engine.Ask(ctx, repo.ID, question)
	if err != nil {
		return nil, queryError("query failed", err)
	}

	response := map[string]interface{}{
		"repository": repo.Name,
		"answer":     text,
		"sources":    sourceList(sources),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	ref, err := requireString(args, "repository")
	if err != nil {
		return nil, err
	}

	repo, err := s.engine.ResolveRepository(ctx, ref)
	if errors.Is(err, storage.ErrNotFound) {
		response := map[string]interface{}{
			"indexed":    false,
			"repository": ref,
			"message":    "Repository not registered. Use index_repository with a path to index it.",
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}
	if err != nil {
		return nil, internalError("failed to get repository", err)
	}

	status, err := s.engine.Status(ctx, repo.ID)
	if err != nil {
		return nil, internalError("failed to get status", err)
	}

	lastIndexed := ""
	if !status.LastIndexedAt.IsZero() {
		lastIndexed = status.LastIndexedAt.Format(time.RFC3339)
	}

	response := map[string]interface{}{
		"indexed":     status.ChunksCount > 0,
		"in_progress": s.locks.Held(repo.ID),
		"repository": map[string]interface{}{
			"id":              repo.ID,
			"name":            repo.Name,
			"root_path":       repo.RootPath,
			"last_indexed_at": lastIndexed,
		},
		"statistics": map[string]interface{}{
			"files_count":   status.FilesCount,
			"chunks_count":  status.ChunksCount,
			"dimensions":    status.Dimensions,
			"index_size_mb": fmt.Sprintf("%.2f", status.IndexSizeMB),
		},
		"health": map[string]interface{}{
			"database_accessible":  status.Health.DatabaseAccessible,
			"embeddings_available": status.Health.EmbeddingsAvailable,
			"vector_extension":     status.Health.VectorExtension,
		},
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleDeindexRepository handles the deindex_repository tool invocation
func (s *Server) handleDeindexRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	ref, err := requireString(args, "repository")
	if err != nil {
		return nil, err
	}
	repo, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	if !s.locks.TryAcquire(repo.ID) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "repository is being indexed", map[string]interface{}{
			"repository_id": repo.ID,
		})
	}
	defer s.locks.Release(repo.ID)

	n, err := s.engine.Deindex(ctx, repo.ID)
	if err != nil {
		return nil, internalError("deindex failed", err)
	}

	response := map[string]interface{}{
		"repository":     repo.Name,
		"chunks_deleted": n,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// resolve looks up a repository and maps a miss to ErrorCodeRepositoryNotFound
func (s *Server) resolve(ctx context.Context, ref string) (*storage.Repository, error) {
	repo, err := s.engine.ResolveRepository(ctx, ref)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newMCPError(ErrorCodeRepositoryNotFound, "repository not found", map[string]interface{}{
			"repository": ref,
		})
	}
	if err != nil {
		return nil, internalError("failed to resolve repository", err)
	}
	return repo, nil
}

// queryError maps retrieval and answer errors to MCP codes
func queryError(message string, err error) error {
	switch {
	case errors.Is(err, retriever.ErrEmptyQuery), errors.Is(err, generator.ErrEmptyQuestion):
		return newMCPError(ErrorCodeEmptyQuery, message, map[string]interface{}{"error": err.Error()})
	case errors.Is(err, rag.ErrNoCompletionProvider):
		return newMCPError(ErrorCodeNoCompletionProvider, message, map[string]interface{}{"error": err.Error()})
	default:
		return internalError(message, err)
	}
}

func internalError(message string, err error) error {
	return newMCPError(ErrorCodeInternalError, message, map[string]interface{}{
		"error": err.Error(),
	})
}

// sourceList renders retrieval results as answer citations
func sourceList(results []types.ScoredChunk) []map[string]interface{} {
	sources := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		sources = append(sources, map[string]interface{}{
			"file_path":  r.FilePath,
			"start_line": r.StartLine,
			"end_line":   r.EndLine,
		})
	}
	return sources
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks that path is an absolute, readable directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// requireString extracts a non-empty string parameter
func requireString(args map[string]interface{}, key string) (string, error) {
	val, ok := args[key].(string)
	if !ok || val == "" {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return val, nil
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
