package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cindex-dev/cindex/internal/backend"
	"github.com/cindex-dev/cindex/internal/config"
	"github.com/cindex-dev/cindex/internal/index"
	"github.com/cindex-dev/cindex/internal/logging"
	"github.com/cindex-dev/cindex/internal/model"
	"github.com/cindex-dev/cindex/internal/store"
	"github.com/cindex-dev/cindex/internal/ui"
)

// indexOptions holds CLI flags for index.
type indexOptions struct {
	name        string
	repoID      string
	kind        string
	version     string
	upstreamURL string
	force       bool
	plain       bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a repository",
		Long: `Index a repository into the store.

The pipeline discovers files, parses and chunks them, generates
summaries and embeddings, extracts symbols, and detects workspaces,
services, and API endpoints. Unchanged files are skipped by content
hash; use --force to rebuild everything.

Examples:
  cindex index
  cindex index ~/src/payments --kind microservice
  cindex index ~/ref/stdlib --kind reference --version go1.24
  cindex index . --force --plain`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runIndex(ctx, cmd, path, opts)
		},
	}

	cmd.Flags().StringVar(&opts.name, "name", "", "Human-readable repository name (default: directory name)")
	cmd.Flags().StringVar(&opts.repoID, "repo-id", "", "Pin the repository ID (default: derived from name and path)")
	cmd.Flags().StringVar(&opts.kind, "kind", "", "Repository kind: monolithic, monorepo, microservice, library, reference, documentation")
	cmd.Flags().StringVar(&opts.version, "repo-version", "", "Version tag; unchanged reference repos are not re-indexed")
	cmd.Flags().StringVar(&opts.upstreamURL, "upstream-url", "", "Origin URL recorded with the repository")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Re-index every file, ignoring content hashes")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Line-oriented output instead of the TUI")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, path string, opts indexOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Keep run logs out of the progress display.
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	if cfg.Logging.File != "" {
		logCfg.FilePath = cfg.Logging.File
	}
	logCfg.WriteToStderr = false
	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return err
	}
	defer logCleanup()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	pg, err := connectStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pg.Close()

	client, err := connectBackend(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer client.Close()

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.plain),
		ui.WithNoColor(ui.DetectNoColor()),
		ui.WithRootPath(abs),
	))
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()

	stats, err := runIndexOnce(ctx, pg, client, cfg, logger, index.Request{
		Path:         abs,
		Name:         opts.name,
		RepoID:       opts.repoID,
		Kind:         model.RepoKind(opts.kind),
		Version:      opts.version,
		UpstreamURL:  opts.upstreamURL,
		ForceReindex: opts.force,
	}, renderer.Update)
	if err != nil {
		return err
	}

	renderer.Complete(*stats)
	return nil
}

// runIndexOnce builds a runner and executes a single indexing run. Shared
// with the watch command, which re-runs it on every trigger.
func runIndexOnce(ctx context.Context, pg *store.PG, client *backend.Client, cfg *config.Config, logger *slog.Logger, req index.Request, progress index.ProgressFunc) (*index.Stats, error) {
	runner, err := newRunner(pg, client, cfg, logger, progress)
	if err != nil {
		return nil, err
	}
	return runner.Run(ctx, req)
}

func newRunner(pg *store.PG, client *backend.Client, cfg *config.Config, logger *slog.Logger, progress index.ProgressFunc) (*index.Runner, error) {
	// Rule-based summaries run without a generator.
	var generator backend.Generator
	if cfg.Indexing.SummaryMethod != "rule" {
		generator = client
	}
	return index.NewRunner(index.Dependencies{
		Store:     pg,
		Embedder:  client,
		Generator: generator,
		Config:    cfg,
		Logger:    logger,
		Progress:  progress,
	})
}
