package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/reporag/internal/completion"
	"github.com/dshills/reporag/internal/config"
	"github.com/dshills/reporag/internal/embedder"
	"github.com/dshills/reporag/internal/rag"
	"github.com/dshills/reporag/internal/storage"
)

// runtime holds everything a command needs and closes it in reverse order
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    storage.Storage
	embedder embedder.Embedder
	provider completion.Provider
	engine   *rag.Engine
}

// loadConfig reads the --config file and applies the --db override
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Storage.Path = db
	}
	return cfg, nil
}

// newLogger builds the process logger. Logs always go to w, never stdout,
// since stdout carries MCP frames and answers.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openRuntime loads configuration and wires storage, embedder, completion
// provider and engine. A completion provider that cannot be built is only
// fatal when requireCompletion is set; otherwise the engine runs without
// answer generation.
func openRuntime(ctx context.Context, cmd *cobra.Command, requireCompletion bool) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newRuntime(ctx, cfg, newLogger(cfg.Log, cmd.ErrOrStderr()), requireCompletion)
}

func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, requireCompletion bool) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}
	slog.SetDefault(logger)

	storageCfg := cfg.StorageConfig()
	if storageCfg.Driver != storage.DriverPostgres && storageCfg.Path != "" && storageCfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(storageCfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	store, err := storage.New(ctx, storageCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	rt.store = store

	emb, err := embedder.New(cfg.EmbedderConfig())
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	rt.embedder = emb

	if cfg.Completion.Provider != "" {
		provider, err := completion.New(cfg.CompletionConfig())
		switch {
		case err == nil:
			rt.provider = provider
		case requireCompletion:
			rt.Close()
			return nil, fmt.Errorf("failed to create completion provider: %w", err)
		default:
			logger.Warn("answer generation disabled", "provider", cfg.Completion.Provider, "error", err)
		}
	}

	rt.engine = rag.New(store, emb, rt.provider, rag.Config{
		Indexer:   cfg.IndexerConfig(),
		Retriever: cfg.RetrieverConfig(),
		TopK:      cfg.Retriever.TopK,
	}, logger)

	logger.Debug("runtime ready",
		"storage", storageCfg.Driver,
		"embedding_provider", emb.Provider(),
		"embedding_model", emb.Model(),
		"completion", rt.provider != nil)
	return rt, nil
}

// Close releases the provider, embedder and store
func (rt *runtime) Close() {
	if rt.provider != nil {
		if err := rt.provider.Close(); err != nil {
			rt.logger.Warn("failed to close completion provider", "error", err)
		}
	}
	if rt.embedder != nil {
		if err := rt.embedder.Close(); err != nil {
			rt.logger.Warn("failed to close embedder", "error", err)
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn("failed to close storage", "error", err)
		}
	}
}
