package httpapi

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/dshills/reporag/internal/generator"
	"github.com/dshills/reporag/internal/rag"
	"github.com/dshills/reporag/internal/retriever"
	"github.com/dshills/reporag/internal/storage"
	"github.com/dshills/reporag/pkg/types"
)

// repositoryView is the JSON form of a registered repository
type repositoryView struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	RootPath      string     `json:"root_path"`
	LastIndexedAt *time.Time `json:"last_indexed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func newRepositoryView(r *storage.Repository) repositoryView {
	v := repositoryView{
		ID:        r.ID,
		Name:      r.Name,
		RootPath:  r.RootPath,
		CreatedAt: r.CreatedAt,
	}
	if !r.LastIndexedAt.IsZero() {
		t := r.LastIndexedAt
		v.LastIndexedAt = &t
	}
	return v
}

// resultView is the JSON form of one retrieval result
type resultView struct {
	FilePath   string  `json:"file_path"`
	ChunkIndex int     `json:"chunk_index"`
	StartLine  int     `json:"start_line"`
	EndLine    int     `json:"end_line"`
	Language   string  `json:"language"`
	Distance   float64 `json:"distance"`
	Similarity float64 `json:"similarity"`
	Content    string  `json:"content"`
}

func newResultViews(results []types.ScoredChunk) []resultView {
	views := make([]resultView, 0, len(results))
	for _, r := range results {
		views = append(views, resultView{
			FilePath:   r.FilePath,
			ChunkIndex: r.ChunkIndex,
			StartLine:  r.StartLine,
			EndLine:    r.EndLine,
			Language:   r.Language,
			Distance:   r.Distance,
			Similarity: r.Similarity(),
			Content:    r.Content,
		})
	}
	return views
}

func errorJSON(c fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// statusFor maps engine errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, retriever.ErrEmptyQuery),
		errors.Is(err, retriever.ErrMissingRepository),
		errors.Is(err, generator.ErrEmptyQuestion):
		return fiber.StatusBadRequest
	case errors.Is(err, rag.ErrNoCompletionProvider):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, ErrRepositoryBusy):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) health(c fiber.Ctx) error {
	emb := s.engine.Embedder()
	return c.JSON(fiber.Map{
		"status":             "healthy",
		"version":            s.version,
		"embedding_provider": emb.Provider(),
		"embedding_model":    emb.Model(),
	})
}

func (s *Server) listRepositories(c fiber.Ctx) error {
	repos, err := s.engine.Repositories(c.Context())
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	views := make([]repositoryView, 0, len(repos))
	for _, r := range repos {
		views = append(views, newRepositoryView(r))
	}
	return c.JSON(fiber.Map{"repositories": views})
}

func (s *Server) registerRepository(c fiber.Ctx) error {
	var body struct {
		Name     string `json:"name"`
		RootPath string `json:"root_path"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(body.Name) == "" {
		return errorJSON(c, fiber.StatusBadRequest, "name is required")
	}

	repo, err := s.engine.RegisterRepository(c.Context(), body.Name, body.RootPath)
	if err != nil {
		return errorJSON(c, statusFor(err), err.Error())
	}
	return c.Status(fiber.StatusCreated).JSON(newRepositoryView(repo))
}

func (s *Server) getRepository(c fiber.Ctx) error {
	repo, err := s.engine.ResolveRepository(c.Context(), c.Params("id"))
	if err != nil {
		return errorJSON(c, statusFor(err), "repository not found")
	}

	status, err := s.engine.Status(c.Context(), repo.ID)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(fiber.Map{
		"repository":       newRepositoryView(repo),
		"files_count":      status.FilesCount,
		"chunks_count":     status.ChunksCount,
		"dimensions":       status.Dimensions,
		"index_size_mb":    status.IndexSizeMB,
		"vector_extension": status.Health.VectorExtension,
		"indexing":         s.locks.Held(repo.ID),
	})
}

// startIndex queues a background index run. The body may override the
// registered root path.
func (s *Server) startIndex(c fiber.Ctx) error {
	repo, err := s.engine.ResolveRepository(c.Context(), c.Params("id"))
	if err != nil {
		return errorJSON(c, statusFor(err), "repository not found")
	}

	var body struct {
		RootPath string `json:"root_path"`
	}
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&body); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
		}
	}
	root := body.RootPath
	if root == "" {
		root = repo.RootPath
	}
	if root == "" {
		return errorJSON(c, fiber.StatusBadRequest, "repository has no root_path")
	}

	jobID := s.runIndex(repo.ID, root)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id":        jobID,
		"repository_id": repo.ID,
		"status":        JobRunning,
	})
}

func (s *Server) deindex(c fiber.Ctx) error {
	repo, err := s.engine.ResolveRepository(c.Context(), c.Params("id"))
	if err != nil {
		return errorJSON(c, statusFor(err), "repository not found")
	}

	if !s.locks.TryAcquire(repo.ID) {
		return errorJSON(c, fiber.StatusConflict, "repository is being indexed")
	}
	defer s.locks.Release(repo.ID)

	n, err := s.engine.Deindex(c.Context(), repo.ID)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"repository_id": repo.ID, "chunks_deleted": n})
}

func (s *Server) getJob(c fiber.Ctx) error {
	job, ok := s.jobs.Get(c.Params("id"))
	if !ok {
		return errorJSON(c, fiber.StatusNotFound, "job not found")
	}
	return c.JSON(job)
}

func (s *Server) search(c fiber.Ctx) error {
	var body struct {
		RepoID string `json:"repo_id"`
		Query  string `json:"query"`
		TopK   int    `json:"top_k"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}

	repo, err := s.engine.ResolveRepository(c.Context(), body.RepoID)
	if err != nil {
		return errorJSON(c, statusFor(err), "repository not found")
	}

	results, err := s.engine.Search(c.Context(), repo.ID, body.Query, body.TopK)
	if err != nil {
		return errorJSON(c, statusFor(err), err.Error())
	}
	return c.JSON(fiber.Map{
		"repository_id": repo.ID,
		"results":       newResultViews(results),
	})
}

// chatQuery streams a grounded answer as text/plain: the sources block,
// the separator, then answer tokens as they arrive. Errors before the
// first byte are JSON; a provider error mid-stream ends the body with an
// error line.
func (s *Server) chatQuery(c fiber.Ctx) error {
	var body struct {
		RepoID  string `json:"repo_id"`
		Message string `json:"message"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}

	repo, err := s.engine.ResolveRepository(c.Context(), body.RepoID)
	if err != nil {
		return errorJSON(c, statusFor(err), "repository not found")
	}

	answer, err := s.engine.Query(c.Context(), repo.ID, body.Message)
	if err != nil {
		return errorJSON(c, statusFor(err), err.Error())
	}

	c.Set("Content-Type", "text/plain; charset=utf-8")
	c.Set("Cache-Control", "no-cache")
	c.Set("X-Content-Type-Options", "nosniff")

	logger := s.logger
	repoID := repo.ID
	return c.SendStreamWriter(func(w *bufio.Writer) {
		if err := generator.StreamTo(w, answer, w.Flush); err != nil {
			logger.Warn("answer stream ended early", "repository_id", repoID, "error", err)
			_, _ = fmt.Fprintf(w, "\n\n[error: %v]\n", err)
			_ = w.Flush()
		}
	})
}
