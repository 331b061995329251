package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/reporag/internal/indexer"
	"github.com/dshills/reporag/internal/rag"
	"github.com/dshills/reporag/pkg/types"
)

// ErrRepositoryBusy is returned when a repository is locked by another run
var ErrRepositoryBusy = errors.New("repository is busy")

// Config holds HTTP server settings
type Config struct {
	AppName      string
	Version      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server serves the REST API for one rag.Engine
type Server struct {
	app     *fiber.App
	engine  *rag.Engine
	jobs    *JobTracker
	locks   *indexer.RepoLocks
	flights singleflight.Group
	version string
	logger  *slog.Logger

	// Background index runs outlive their request; ctx is cancelled by Shutdown
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the Fiber app and registers the /api/v1 routes
func New(engine *rag.Engine, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AppName == "" {
		cfg.AppName = "reporag"
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:      cfg.AppName,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}),
		engine:  engine,
		jobs:    NewJobTracker(),
		locks:   indexer.NewRepoLocks(),
		version: cfg.Version,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}

	s.app.Use(recover.New())
	s.app.Use(requestLogger(logger))
	s.registerRoutes()
	return s
}

// App exposes the underlying Fiber app, mainly for app.Test
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown
func (s *Server) Listen(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	return s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops accepting requests, cancels background index runs and
// waits for them to return
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (s *Server) registerRoutes() {
	api := s.app.Group("/api/v1")

	api.Get("/health", s.health)

	repos := api.Group("/repos")
	repos.Get("/", s.listRepositories)
	repos.Post("/", s.registerRepository)
	repos.Get("/:id", s.getRepository)
	repos.Post("/:id/index", s.startIndex)
	repos.Delete("/:id/chunks", s.deindex)

	api.Get("/jobs/:id", s.getJob)

	api.Post("/chat/query", s.chatQuery)
	api.Post("/search", s.search)
}

// runIndex indexes a repository in the background under a new job.
// Requests that arrive while a run for the same repository is in flight
// join that run and report its summary.
func (s *Server) runIndex(repositoryID, rootPath string) string {
	jobID := s.jobs.Create(repositoryID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		v, err, shared := s.flights.Do(repositoryID, func() (interface{}, error) {
			if !s.locks.TryAcquire(repositoryID) {
				return nil, ErrRepositoryBusy
			}
			defer s.locks.Release(repositoryID)
			return s.engine.Index(s.ctx, repositoryID, rootPath), nil
		})

		var summary *types.Summary
		if err == nil {
			summary = v.(*types.Summary)
			s.logger.Info("index job finished",
				"job_id", jobID,
				"repository_id", repositoryID,
				"shared", shared,
				"chunks_committed", summary.ChunksCommitted(),
				"chunks_failed", summary.ChunksFailed())
		} else {
			err = fmt.Errorf("index job: %w", err)
			s.logger.Warn("index job failed", "job_id", jobID, "repository_id", repositoryID, "error", err)
		}
		s.jobs.Complete(jobID, summary, shared, err)
	}()

	return jobID
}

// requestLogger logs one line per request
func requestLogger(logger *slog.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		// Capture request data before the handler, Fiber reuses context objects
		method := c.Method()
		path := c.Path()

		err := c.Next()

		logger.Info("http request",
			"method", method,
			"path", path,
			"status", c.Response().StatusCode(),
			"duration_ms", time.Since(start).Milliseconds())
		return err
	}
}
