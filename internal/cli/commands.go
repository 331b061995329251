package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dshills/reporag/internal/config"
	"github.com/dshills/reporag/internal/generator"
	"github.com/dshills/reporag/internal/httpapi"
	"github.com/dshills/reporag/internal/mcp"
	"github.com/dshills/reporag/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// shutdownTimeout bounds how long the HTTP server waits for in-flight work
const shutdownTimeout = 15 * time.Second

var rootCmd = &cobra.Command{
	Use:   "reporag",
	Short: "reporag - ask questions about your source code",
	Long: `reporag indexes source repositories into vector embeddings and answers
questions about them with an LLM, grounded on the retrieved code.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context(), cmd, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		rt.logger.Info("reporag MCP server starting",
			"version", version,
			"build_mode", storage.BuildMode,
			"driver", storage.DriverName,
			"vector_extension", storage.VectorExtensionAvailable)

		err = mcp.NewServer(rt.engine, rt.logger).Serve(cmd.Context())
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp server: %w", err)
		}
		rt.logger.Info("server stopped")
		return nil
	},
}

var httpCmd = &cobra.Command{
	Use:   "http",
	Short: "Run the REST API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context(), cmd, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = rt.cfg.Server.Addr
		}

		srv := httpapi.New(rt.engine, httpapi.Config{
			Version:      version,
			ReadTimeout:  rt.cfg.Server.ReadTimeout,
			WriteTimeout: rt.cfg.Server.WriteTimeout,
		}, rt.logger)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Listen(addr) }()

		select {
		case err := <-errCh:
			return fmt.Errorf("http server: %w", err)
		case <-cmd.Context().Done():
		}

		rt.logger.Info("shutting down http server")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		rt.logger.Info("server stopped")
		return nil
	},
}

var indexCmd = &cobra.Command{
	Use:   "index <repository> [path]",
	Short: "Index a repository, registering it on first use",
	Long: `Index walks path (default: the registered root, or the current directory
for a new repository), chunks every supported file and embeds the chunks.
Unchanged chunks are skipped unless --force is given.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if force, _ := cmd.Flags().GetBool("force"); force {
			cfg.Indexer.SkipUnchanged = false
		}

		rt, err := newRuntime(cmd.Context(), cfg, newLogger(cfg.Log, cmd.ErrOrStderr()), false)
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx := cmd.Context()
		ref := args[0]

		repo, err := rt.engine.ResolveRepository(ctx, ref)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			root := "."
			if len(args) > 1 {
				root = args[1]
			}
			abs, err := filepath.Abs(root)
			if err != nil {
				return fmt.Errorf("invalid path: %w", err)
			}
			repo, err = rt.engine.RegisterRepository(ctx, ref, abs)
			if err != nil {
				return err
			}
		case err != nil:
			return err
		}

		root := repo.RootPath
		if len(args) > 1 {
			if root, err = filepath.Abs(args[1]); err != nil {
				return fmt.Errorf("invalid path: %w", err)
			}
		}
		if info, err := os.Stat(root); err != nil || !info.IsDir() {
			return fmt.Errorf("not a directory: %s", root)
		}

		summary := rt.engine.Index(ctx, repo.ID, root)
		printSummary(cmd.OutOrStdout(), repo.Name, summary)
		if summary.ChunksFailed() > 0 {
			return fmt.Errorf("index incomplete: %d of %d chunks failed", summary.ChunksFailed(), summary.ChunksTotal)
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <repository> <query>",
	Short: "Show the chunks nearest to a query",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context(), cmd, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		repo, err := rt.engine.ResolveRepository(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("repository %q: %w", args[0], err)
		}

		topK, _ := cmd.Flags().GetInt("top-k")
		verbose, _ := cmd.Flags().GetBool("verbose")

		results, err := rt.engine.Search(cmd.Context(), repo.ID, strings.Join(args[1:], " "), topK)
		if err != nil {
			return err
		}
		printResults(cmd.OutOrStdout(), results, verbose)
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <repository> <question>",
	Short: "Answer a question about a repository",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context(), cmd, true)
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx := cmd.Context()
		repo, err := rt.engine.ResolveRepository(ctx, args[0])
		if err != nil {
			return fmt.Errorf("repository %q: %w", args[0], err)
		}
		question := strings.Join(args[1:], " ")
		out := cmd.OutOrStdout()

		if noStream, _ := cmd.Flags().GetBool("no-stream"); noStream {
			text, sources, err := rt.engine.Ask(ctx, repo.ID, question)
			if err != nil {
				return err
			}
			if err := generator.WriteSources(out, sources); err != nil {
				return err
			}
			fmt.Fprintln(out, text)
			return nil
		}

		answer, err := rt.engine.Query(ctx, repo.ID, question)
		if err != nil {
			return err
		}
		w := bufio.NewWriter(out)
		err = generator.StreamTo(w, answer, w.Flush)
		fmt.Fprintln(w)
		_ = w.Flush()
		return err
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [repository]",
	Short: "List repositories or show index statistics for one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context(), cmd, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx := cmd.Context()
		if len(args) == 0 {
			repos, err := rt.engine.Repositories(ctx)
			if err != nil {
				return err
			}
			printRepositories(cmd.OutOrStdout(), repos)
			return nil
		}

		repo, err := rt.engine.ResolveRepository(ctx, args[0])
		if err != nil {
			return fmt.Errorf("repository %q: %w", args[0], err)
		}
		st, err := rt.engine.Status(ctx, repo.ID)
		if err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), st)
		return nil
	},
}

var deindexCmd = &cobra.Command{
	Use:   "deindex <repository>",
	Short: "Delete every indexed chunk of a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context(), cmd, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		repo, err := rt.engine.ResolveRepository(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("repository %q: %w", args[0], err)
		}
		n, err := rt.engine.Deindex(cmd.Context(), repo.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d chunks from %s\n", n, repo.Name)
		return nil
	},
}

// Config command group

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage reporag configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init <path>",
	Short: "Write a config file with default settings (.yaml or .toml)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg.Embedder.APIKey = mask(cfg.Embedder.APIKey)
		cfg.Completion.APIKey = mask(cfg.Completion.APIKey)
		cfg.Storage.DSN = mask(cfg.Storage.DSN)

		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "reporag\n")
		fmt.Fprintf(w, "Version: %s\n", version)
		fmt.Fprintf(w, "Build Time: %s\n", buildTime)
		fmt.Fprintf(w, "Build Mode: %s\n", storage.BuildMode)
		fmt.Fprintf(w, "SQLite Driver: %s\n", storage.DriverName)
		fmt.Fprintf(w, "Vector Extension: %v\n", storage.VectorExtensionAvailable)
	},
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (overrides config)")

	httpCmd.Flags().String("addr", "", "Listen address (default from config)")

	indexCmd.Flags().BoolP("force", "f", false, "Re-embed chunks even if unchanged")

	searchCmd.Flags().IntP("top-k", "k", 0, "Number of results (default from config)")
	searchCmd.Flags().BoolP("verbose", "v", false, "Print chunk content")

	askCmd.Flags().Bool("no-stream", false, "Wait for the full answer instead of streaming")

	configInitCmd.Flags().BoolP("force", "f", false, "Overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(httpCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(deindexCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
