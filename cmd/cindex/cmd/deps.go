package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/cindex-dev/cindex/internal/backend"
	"github.com/cindex-dev/cindex/internal/config"
	"github.com/cindex-dev/cindex/internal/store"
)

// loadConfig builds the effective configuration, honoring --config.
func loadConfig() (*config.Config, error) {
	return config.Load(configFile)
}

// connectStore opens the PostgreSQL store and applies migrations.
func connectStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.PG, error) {
	pg, err := store.Connect(ctx, store.Options{
		DSN:            cfg.Store.DSN(),
		Dimensions:     cfg.Backend.EmbeddingDimensions,
		MaxConns:       int32(cfg.Store.MaxConnections),
		EfSearch:       cfg.Store.HNSWEfSearch,
		EfConstruction: cfg.Store.HNSWEfConstruction,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}

// connectBackend creates the Ollama client. verify controls the startup
// model-presence and dimension probe: indexing wants the hard check, the
// server prefers to start and surface backend errors per call.
func connectBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger, verify bool) (*backend.Client, error) {
	return backend.NewClient(ctx, backend.Config{
		Host:                   cfg.Backend.Host,
		EmbeddingModel:         cfg.Backend.EmbeddingModel,
		EmbeddingDimensions:    cfg.Backend.EmbeddingDimensions,
		EmbeddingContextWindow: cfg.Backend.EmbeddingContextWindow,
		SummaryModel:           cfg.Backend.SummaryModel,
		SummaryContextWindow:   cfg.Backend.SummaryContextWindow,
		Timeout:                cfg.Backend.Timeout,
		MaxRetries:             cfg.Backend.MaxRetries,
		SkipVerify:             !verify,
	}, logger)
}

// shutdownTimeout bounds cleanup work after the serve context ends.
const shutdownTimeout = 5 * time.Second
