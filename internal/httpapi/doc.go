// Package httpapi serves a rag.Engine over HTTP with Fiber.
//
// Routes, all under /api/v1:
//
//	GET    /health
//	GET    /repos
//	POST   /repos                {"name", "root_path"}
//	GET    /repos/:id            repository plus index statistics
//	POST   /repos/:id/index      {"root_path"} optional; 202 with a job id
//	DELETE /repos/:id/chunks     deindex
//	GET    /jobs/:id
//	POST   /search               {"repo_id", "query", "top_k"}
//	POST   /chat/query           {"repo_id", "message"}; streamed text/plain
//
// Repository references accept an ID or a registered name.
//
// Index runs happen in the background. Requests for a repository that
// already has a run in flight join it through a singleflight group, so
// each gets its own job ID but they share one summary. Deindexing takes
// the same per-repository lock and returns 409 while a run holds it.
//
// The chat endpoint writes the sources block first, then "\n---\n", then
// answer fragments as the provider produces them.
package httpapi
