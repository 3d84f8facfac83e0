package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cindex-dev/cindex/internal/backend"
	"github.com/cindex-dev/cindex/internal/cache"
	"github.com/cindex-dev/cindex/internal/config"
	"github.com/cindex-dev/cindex/internal/store"
	"github.com/cindex-dev/cindex/internal/telemetry"
)

// Engine runs the retrieval pipeline against an indexed store. One Engine
// serves concurrent queries; the caches are the only shared mutable state
// and handle their own locking.
type Engine struct {
	store     store.Store
	embedder  backend.Embedder
	cfg       *config.Config
	queries   *cache.QueryCache
	endpoints *cache.EndpointCache
	logger    *slog.Logger
	metrics   *telemetry.QueryMetrics // Optional query telemetry collector
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets an optional query telemetry collector. When set, query
// shape, result counts and latency are recorded per search.
func WithMetrics(m *telemetry.QueryMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates a retrieval engine with the given dependencies. The
// query and endpoint caches are sized from configuration; the query cache is
// keyed by the embedder's model so a model switch never serves stale
// vectors.
func NewEngine(st store.Store, embedder backend.Embedder, cfg *config.Config, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	e := &Engine{
		store:     st,
		embedder:  embedder,
		cfg:       cfg,
		queries:   cache.NewQueryCache(cfg.Search.QueryCacheSize, cfg.Search.QueryCacheTTL, embedder.ModelName()),
		endpoints: cache.NewEndpointCache(cfg.Search.QueryCacheSize, cfg.Search.QueryCacheTTL),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "retrieve")
	return e, nil
}

// Search runs stages 0 through 8 and returns the assembled context. Stages
// 0-3 run in order; symbol resolution, import expansion and API enrichment
// run concurrently off the stage-2/3 outputs; deduplication and assembly
// join them.
func (e *Engine) Search(ctx context.Context, rawQuery string, opts Options) (*Result, error) {
	start := time.Now()
	opts = e.applyDefaults(opts)

	sc, err := e.resolveScope(ctx, opts.Scope)
	if err != nil {
		return nil, err
	}

	q, err := e.processQuery(ctx, rawQuery)
	if err != nil {
		return nil, err
	}

	files, err := e.retrieveFiles(ctx, q, sc, opts.TopFiles)
	if err != nil {
		return nil, err
	}
	chunks, err := e.retrieveChunks(ctx, q, sc, files, opts.MaxChunks)
	if err != nil {
		return nil, err
	}

	var (
		symbols []SymbolGroup
		chains  []ChainEntry
		enr     *apiEnrichment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		symbols, err = e.resolveSymbols(gctx, sc, chunks)
		return err
	})
	g.Go(func() error {
		var err error
		chains, err = e.expandImports(gctx, sc, files)
		return err
	})
	g.Go(func() error {
		var err error
		enr, err = e.enrichAPI(gctx, q, sc, files, chunks, opts)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	chunks = dedupChunks(chunks, e.cfg.Search.DedupThreshold)

	res := &Result{Query: *q, Scope: sc.summary()}
	e.assemble(res, files, chunks, symbols, chains, enr)
	res.ElapsedMS = time.Since(start).Milliseconds()

	e.logger.Debug("search complete",
		slog.String("query_type", string(q.Type)),
		slog.String("scope_mode", string(sc.mode)),
		slog.Int("files", res.TotalFiles()),
		slog.Int("chunks", res.TotalChunks()),
		slog.Int("tokens_used", res.TokensUsed),
		slog.Int64("elapsed_ms", res.ElapsedMS))
	e.recordMetrics(q, res.TotalChunks(), time.Since(start))
	return res, nil
}

// applyDefaults fills unset request knobs from configuration. Boundary depth
// is deliberately left alone: zero means the start repository only, and the
// tool layer substitutes the configured default when the input omits the
// field entirely.
func (e *Engine) applyDefaults(opts Options) Options {
	if opts.Scope.Mode == "" {
		opts.Scope.Mode = ScopeGlobal
	}
	if opts.TopFiles <= 0 {
		opts.TopFiles = e.cfg.Search.TopFiles
	}
	if opts.MaxChunks <= 0 {
		opts.MaxChunks = e.cfg.Search.MaxChunks
	}
	return opts
}

func (e *Engine) recordMetrics(q *Query, results int, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.Record(telemetry.QueryEvent{
		Query:       q.NormalizedText,
		QueryType:   telemetry.QueryType(q.Type),
		ResultCount: results,
		Latency:     elapsed,
		Timestamp:   time.Now(),
	})
	if len(q.Embedding) > 0 {
		e.metrics.RecordQueryEmbedding(q.Embedding)
	}
}

// CacheStats exposes the query and endpoint cache counters for status
// reporting.
func (e *Engine) CacheStats() (query, endpoint cache.Stats) {
	return e.queries.Stats(), e.endpoints.Stats()
}

// PurgeCaches drops both caches. Indexing runs call this after commit so
// stale vectors never outlive the data they were computed against.
func (e *Engine) PurgeCaches() {
	e.queries.Purge()
	e.endpoints.Purge()
}
