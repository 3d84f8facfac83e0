package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cindex-dev/cindex/internal/logging"
	mcpserver "github.com/cindex-dev/cindex/internal/mcp"
	"github.com/cindex-dev/cindex/internal/retrieve"
	"github.com/cindex-dev/cindex/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server over stdio",
		Long: `Run cindex as an MCP server. Tools cover searching, context
retrieval, symbol lookup, topology queries, and indexing.

Stdio carries JSON-RPC exclusively, so all logs go to the log file.
Register with an MCP client by pointing it at this command, e.g.:

  {"command": "cindex", "args": ["serve"]}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	return cmd
}

func runServe(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		// Stdout is not claimed by the protocol yet; stderr is safe here.
		fmt.Fprintf(os.Stderr, "cindex: %v\n", err)
		return err
	}

	// From this point on nothing may write to stdout or stderr.
	cleanup, err := logging.SetupMCPMode(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cindex: %v\n", err)
		return err
	}
	defer cleanup()
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := connectStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("store connect failed", slog.String("error", err.Error()))
		return err
	}
	defer pg.Close()

	client, err := connectBackend(ctx, cfg, logger, false)
	if err != nil {
		logger.Error("backend client failed", slog.String("error", err.Error()))
		return err
	}
	defer client.Close()
	if !client.Available(ctx) {
		logger.Warn("backend not ready at startup; tools will retry per call",
			slog.String("host", cfg.Backend.Host),
			slog.String("model", cfg.Backend.EmbeddingModel))
	}

	metricsStore, err := telemetry.NewPostgresMetricsStore(pg.Pool())
	if err != nil {
		return err
	}
	metrics := telemetry.NewQueryMetrics(metricsStore)
	defer func() { _ = metrics.Close() }()

	engine, err := retrieve.NewEngine(pg, client, cfg,
		retrieve.WithLogger(logger),
		retrieve.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	server, err := mcpserver.NewServer(mcpserver.Dependencies{
		Engine:    engine,
		Store:     pg,
		Embedder:  client,
		Generator: client,
		Config:    cfg,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	server.SetMetrics(metrics)

	err = server.Serve(ctx)

	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if ferr := metrics.Flush(flushCtx); ferr != nil {
		logger.Warn("metrics flush on shutdown failed", slog.String("error", ferr.Error()))
	}
	return err
}
