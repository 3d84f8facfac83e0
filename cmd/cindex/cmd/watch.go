package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cindex-dev/cindex/internal/index"
	"github.com/cindex-dev/cindex/internal/logging"
	"github.com/cindex-dev/cindex/internal/model"
	"github.com/cindex-dev/cindex/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var (
		debounce time.Duration
		kind     string
	)

	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Watch a repository and re-index on change",
		Long: `Index a repository, then watch it for filesystem changes and
re-index after each burst of activity. Re-runs are incremental:
unchanged files are skipped by content hash, so a typical edit
re-indexes only the touched files.

Stop with Ctrl+C.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd, path, debounce, kind)
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", 2*time.Second, "Quiet period before a change triggers re-indexing")
	cmd.Flags().StringVar(&kind, "kind", "", "Repository kind for the initial index")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, path string, debounce time.Duration, kind string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

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

	out := cmd.OutOrStdout()
	req := index.Request{Path: abs, Kind: model.RepoKind(kind)}

	stats, err := runIndexOnce(ctx, pg, client, cfg, logger, req, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Indexed %s: %d files, %d chunks (%s)\n",
		abs, stats.FilesIndexed, stats.ChunksCreated, stats.Duration.Round(time.Millisecond))

	w, err := watcher.New(watcher.Options{DebounceWindow: debounce}, logger)
	if err != nil {
		return err
	}
	if err := w.Start(ctx, abs); err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	fmt.Fprintf(out, "Watching %s for changes...\n", abs)

	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			logger.Warn("watch error", slog.String("error", err.Error()))

		case trigger, ok := <-w.Triggers():
			if !ok {
				return nil
			}
			logger.Info("change detected",
				slog.Int("events", trigger.Events),
				slog.Bool("gitignore_changed", trigger.GitignoreChanged))

			stats, err := runIndexOnce(ctx, pg, client, cfg, logger, req, nil)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				fmt.Fprintf(out, "re-index failed: %v\n", err)
				continue
			}
			if stats.NoOp {
				continue
			}
			fmt.Fprintf(out, "Re-indexed: %d files changed, %d unchanged, %d deleted (%s)\n",
				stats.FilesIndexed, stats.FilesSkipped, stats.FilesDeleted,
				stats.Duration.Round(time.Millisecond))
		}
	}
}
