package mcp

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/reporag/internal/indexer"
	"github.com/dshills/reporag/internal/rag"
)

const (
	// ServerName is the MCP server name
	ServerName = "reporag"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server exposes a rag.Engine as MCP tools
type Server struct {
	mcp    *server.MCPServer
	engine *rag.Engine
	locks  *indexer.RepoLocks
	logger *slog.Logger
}

// NewServer registers the tools for engine. The engine's store, embedder
// and completion provider stay owned by the caller.
func NewServer(engine *rag.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp:    server.NewMCPServer(ServerName, ServerVersion),
		engine: engine,
		locks:  indexer.NewRepoLocks(),
		logger: logger,
	}
	s.registerTools()
	return s
}

// Serve runs the MCP protocol on stdio until ctx is cancelled or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	return s.ServeIO(ctx, os.Stdin, os.Stdout)
}

// ServeIO runs the MCP protocol over the given streams
func (s *Server) ServeIO(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	s.logger.Info("mcp server ready", "transport", "stdio")
	return stdio.Listen(ctx, in, out)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(indexRepositoryTool(), s.handleIndexRepository)
	s.mcp.AddTool(searchRepositoryTool(), s.handleSearchRepository)
	s.mcp.AddTool(askRepositoryTool(), s.handleAskRepository)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(deindexRepositoryTool(), s.handleDeindexRepository)
}
