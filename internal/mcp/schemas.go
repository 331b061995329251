package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var repositoryProperty = map[string]interface{}{
	"type":        "string",
	"description": "Repository name (e.g. owner/repo) or ID",
}

// indexRepositoryTool returns the tool definition for index_repository
func indexRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_repository",
		Description: "Chunk, embed and store a source tree so it can be searched and asked about. Unchanged chunks are skipped.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repository": repositoryProperty,
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the source tree. Required the first time a repository is indexed.",
				},
			},
			Required: []string{"repository"},
		},
	}
}

// searchRepositoryTool returns the tool definition for search_repository
func searchRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_repository",
		Description: "Return the code chunks most similar to a natural language query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repository": repositoryProperty,
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or code)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     5,
					"minimum":     1,
					"maximum":     100,
				},
			},
			Required: []string{"repository", "query"},
		},
	}
}

// askRepositoryTool returns the tool definition for ask_repository
func askRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ask_repository",
		Description: "Answer a question about an indexed repository, grounded on its most relevant code chunks",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repository": repositoryProperty,
				"question": map[string]interface{}{
					"type":        "string",
					"description": "Question about the codebase",
				},
			},
			Required: []string{"repository", "question"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Query indexing status and statistics for a repository",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repository": repositoryProperty,
			},
			Required: []string{"repository"},
		},
	}
}

// deindexRepositoryTool returns the tool definition for deindex_repository
func deindexRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "deindex_repository",
		Description: "Delete every indexed chunk of a repository. The repository stays registered.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repository": repositoryProperty,
			},
			Required: []string{"repository"},
		},
	}
}
