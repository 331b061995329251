// Package mcp implements the Model Context Protocol (MCP) server for reporag.
//
// The MCP server exposes five tools to AI coding assistants:
//   - index_repository: Chunk, embed and store a source tree
//   - search_repository: Return the chunks nearest to a query
//   - ask_repository: Answer a question grounded on retrieved chunks
//   - get_status: Report index statistics for a repository
//   - deindex_repository: Delete a repository's chunks
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server is started via the serve command:
//
//	reporag serve
//
// It then reads MCP messages from stdin and writes responses to stdout.
// Logs go to stderr.
//
// # Tool: index_repository
//
//	Request:
//	{
//	  "name": "index_repository",
//	  "arguments": {
//	    "repository": "acme/api",
//	    "path": "/src/acme/api"
//	  }
//	}
//
//	Response:
//	{
//	  "indexed": true,
//	  "complete": true,
//	  "repository_id": "6f1c...",
//	  "files_discovered": 42,
//	  "chunks_total": 310,
//	  "chunks_unchanged": 250,
//	  "chunks_committed": 60,
//	  "chunks_failed": 0,
//	  "duration_ms": 1830
//	}
//
// A repository that is not registered yet is registered under the given
// name, so path is required on first use. Later runs may omit it and reuse
// the stored root path.
//
// # Tool: search_repository
//
//	Request:
//	{
//	  "name": "search_repository",
//	  "arguments": {"repository": "acme/api", "query": "config loading", "limit": 3}
//	}
//
//	Response:
//	{
//	  "results": [
//	    {
//	      "rank": 1,
//	      "file_path": "internal/config/load.go",
//	      "start_line": 1,
//	      "end_line": 48,
//	      "similarity": "0.8123",
//	      "content": "..."
//	    }
//	  ],
//	  "total": 1
//	}
//
// # Tool: ask_repository
//
// The answer is streamed from the completion provider and drained before
// the tool responds:
//
//	{
//	  "answer": "Configuration is loaded in `internal/config/load.go` ...",
//	  "sources": [{"file_path": "internal/config/load.go", "start_line": 1, "end_line": 48}]
//	}
//
// # Error Handling
//
// Handlers return *MCPError values:
//   - -32602: Invalid params (missing/invalid arguments)
//   - -32603: Internal error (database, provider, etc.)
//   - -32001: Repository not found
//   - -32002: Indexing in progress for the repository
//   - -32004: Empty query or question
//   - -32005: No completion provider configured
//
// # Concurrency
//
// index_repository and deindex_repository take a per-repository try-lock.
// A second run for the same repository is rejected with -32002 rather than
// queued; runs for different repositories proceed in parallel.
package mcp
