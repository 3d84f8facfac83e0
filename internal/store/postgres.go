package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cindex-dev/cindex/internal/cerrors"
)

// Options configures the PostgreSQL store.
type Options struct {
	// DSN is the pgx connection string.
	DSN string

	// Dimensions is the embedding size used in vector column definitions.
	Dimensions int

	// MaxConns bounds the connection pool.
	MaxConns int32

	// EfSearch is the HNSW query-time search width, set per session.
	EfSearch int

	// EfConstruction is the HNSW build-time width used in index DDL.
	EfConstruction int

	// ConnectRetries bounds startup connection attempts.
	ConnectRetries int

	// ConnectBaseDelay seeds the backoff between connection attempts.
	ConnectBaseDelay time.Duration

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxConns <= 0 {
		o.MaxConns = 8
	}
	if o.EfSearch <= 0 {
		o.EfSearch = 128
	}
	if o.EfConstruction <= 0 {
		o.EfConstruction = 128
	}
	if o.ConnectRetries <= 0 {
		o.ConnectRetries = 5
	}
	if o.ConnectBaseDelay <= 0 {
		o.ConnectBaseDelay = 500 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// PG is the PostgreSQL-backed Store.
type PG struct {
	pool   *pgxpool.Pool
	opts   Options
	logger *slog.Logger
}

var _ Store = (*PG)(nil)

// Connect opens the pool and verifies connectivity, retrying transient
// failures with exponential backoff before giving up.
func Connect(ctx context.Context, opts Options) (*PG, error) {
	opts = opts.withDefaults()

	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeConfigParse, err, "invalid store DSN")
	}
	cfg.MaxConns = opts.MaxConns

	// hnsw.ef_search is a session GUC; apply it to every pooled connection
	// so vector scans use the configured recall/latency trade-off.
	efSearch := opts.EfSearch
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, fmt.Sprintf("SET hnsw.ef_search = %d", efSearch))
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreUnavailable, err, "create connection pool")
	}

	s := &PG{pool: pool, opts: opts, logger: opts.Logger}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.ConnectBaseDelay
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		if err := pool.Ping(ctx); err != nil {
			s.logger.Debug("store connect retry",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(opts.ConnectRetries)), ctx))
	if err != nil {
		pool.Close()
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreUnavailable, err, "connect to PostgreSQL").
			WithSuggestion("Check that PostgreSQL is running and POSTGRES_HOST/POSTGRES_PORT are correct")
	}

	return s, nil
}

// Ping verifies connectivity.
func (s *PG) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return cerrors.Wrapf(cerrors.ErrCodeStoreUnavailable, err, "ping store")
	}
	return nil
}

// Close releases the connection pool.
func (s *PG) Close() { s.pool.Close() }

// Pool exposes the underlying connection pool for components that share the
// store's database, such as telemetry persistence.
func (s *PG) Pool() *pgxpool.Pool { return s.pool }

// Migrate applies the schema. Statements are idempotent; dimension changes
// require dropping the database and re-indexing.
func (s *PG) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(schemaDDL, s.opts.Dimensions, s.opts.EfConstruction)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return cerrors.Wrapf(cerrors.ErrCodeStoreSchema, err, "apply schema").
			WithSuggestion("Check that the pgvector extension is installed (CREATE EXTENSION vector)")
	}
	return nil
}

// schemaDDL takes two fmt args: embedding dimensions and HNSW ef_construction.
const schemaDDL = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS repositories (
  repo_id          TEXT PRIMARY KEY,
  name             TEXT NOT NULL,
  root_path        TEXT NOT NULL,
  kind             TEXT NOT NULL,
  version          TEXT NOT NULL DEFAULT '',
  upstream_url     TEXT NOT NULL DEFAULT '',
  workspace_config TEXT NOT NULL DEFAULT '',
  indexed_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS code_files (
  repo_id           TEXT NOT NULL REFERENCES repositories(repo_id) ON DELETE CASCADE,
  path              TEXT NOT NULL,
  language          TEXT NOT NULL DEFAULT '',
  line_count        INT NOT NULL DEFAULT 0,
  imports           TEXT[] NOT NULL DEFAULT '{}',
  exports           TEXT[] NOT NULL DEFAULT '{}',
  summary           TEXT NOT NULL DEFAULT '',
  summary_embedding vector(%[1]d) NOT NULL,
  workspace_id      TEXT NOT NULL DEFAULT '',
  service_id        TEXT NOT NULL DEFAULT '',
  package_name      TEXT NOT NULL DEFAULT '',
  content_hash      TEXT NOT NULL,
  indexed_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
  search_text       tsvector GENERATED ALWAYS AS (
    setweight(
      to_tsvector('english',
        regexp_replace(coalesce(path, ''), '[^A-Za-z0-9]+', ' ', 'g')
      ), 'A'
    ) ||
    setweight(to_tsvector('english', coalesce(summary, '')), 'B')
  ) STORED,
  PRIMARY KEY (repo_id, path)
);

CREATE TABLE IF NOT EXISTS code_chunks (
  chunk_id    TEXT PRIMARY KEY,
  repo_id     TEXT NOT NULL,
  file_path   TEXT NOT NULL,
  chunk_type  TEXT NOT NULL,
  content     TEXT NOT NULL,
  start_line  INT NOT NULL DEFAULT 0,
  end_line    INT NOT NULL DEFAULT 0,
  token_count INT NOT NULL DEFAULT 0,
  metadata    JSONB NOT NULL DEFAULT '{}',
  embedding   vector(%[1]d) NOT NULL,
  search_text tsvector GENERATED ALWAYS AS (
    setweight(
      to_tsvector('english',
        regexp_replace(coalesce(file_path, ''), '[^A-Za-z0-9]+', ' ', 'g')
      ), 'A'
    ) ||
    setweight(to_tsvector('english', coalesce(content, '')), 'C')
  ) STORED,
  FOREIGN KEY (repo_id, file_path) REFERENCES code_files(repo_id, path) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS code_symbols (
  symbol_id    TEXT PRIMARY KEY,
  repo_id      TEXT NOT NULL,
  name         TEXT NOT NULL,
  kind         TEXT NOT NULL,
  file_path    TEXT NOT NULL,
  line         INT NOT NULL DEFAULT 0,
  definition   TEXT NOT NULL DEFAULT '',
  scope        TEXT NOT NULL DEFAULT 'internal',
  workspace_id TEXT NOT NULL DEFAULT '',
  service_id   TEXT NOT NULL DEFAULT '',
  embedding    vector(%[1]d) NOT NULL,
  FOREIGN KEY (repo_id, file_path) REFERENCES code_files(repo_id, path) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS workspaces (
  repo_id       TEXT NOT NULL REFERENCES repositories(repo_id) ON DELETE CASCADE,
  workspace_id  TEXT NOT NULL,
  name          TEXT NOT NULL,
  absolute_path TEXT NOT NULL DEFAULT '',
  relative_path TEXT NOT NULL DEFAULT '',
  private       BOOLEAN NOT NULL DEFAULT false,
  PRIMARY KEY (repo_id, workspace_id)
);

CREATE TABLE IF NOT EXISTS workspace_dependencies (
  repo_id      TEXT NOT NULL,
  workspace_id TEXT NOT NULL,
  depends_on   TEXT NOT NULL,
  dev          BOOLEAN NOT NULL DEFAULT false,
  PRIMARY KEY (repo_id, workspace_id, depends_on, dev),
  FOREIGN KEY (repo_id, workspace_id) REFERENCES workspaces(repo_id, workspace_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS services (
  repo_id    TEXT NOT NULL REFERENCES repositories(repo_id) ON DELETE CASCADE,
  service_id TEXT NOT NULL,
  name       TEXT NOT NULL,
  kind       TEXT NOT NULL DEFAULT 'other',
  files      TEXT[] NOT NULL DEFAULT '{}',
  PRIMARY KEY (repo_id, service_id)
);

CREATE TABLE IF NOT EXISTS api_endpoints (
  endpoint_id     TEXT PRIMARY KEY,
  repo_id         TEXT NOT NULL REFERENCES repositories(repo_id) ON DELETE CASCADE,
  service_id      TEXT NOT NULL DEFAULT '',
  api_type        TEXT NOT NULL,
  path            TEXT NOT NULL,
  method          TEXT NOT NULL DEFAULT '',
  description     TEXT NOT NULL DEFAULT '',
  request_schema  TEXT NOT NULL DEFAULT '',
  response_schema TEXT NOT NULL DEFAULT '',
  implementation  JSONB,
  deprecated      BOOLEAN NOT NULL DEFAULT false,
  tags            TEXT[] NOT NULL DEFAULT '{}',
  embedding       vector(%[1]d) NOT NULL
);

CREATE TABLE IF NOT EXISTS cross_repo_dependencies (
  source_repo_id TEXT NOT NULL REFERENCES repositories(repo_id) ON DELETE CASCADE,
  target_repo_id TEXT NOT NULL REFERENCES repositories(repo_id) ON DELETE CASCADE,
  PRIMARY KEY (source_repo_id, target_repo_id)
);

CREATE TABLE IF NOT EXISTS documentation_sets (
  doc_id     TEXT PRIMARY KEY,
  name       TEXT NOT NULL,
  root_path  TEXT NOT NULL,
  file_count INT NOT NULL DEFAULT 0,
  indexed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS documentation_chunks (
  chunk_id     TEXT PRIMARY KEY,
  doc_id       TEXT NOT NULL REFERENCES documentation_sets(doc_id) ON DELETE CASCADE,
  file_path    TEXT NOT NULL,
  heading_path TEXT[] NOT NULL DEFAULT '{}',
  heading_text TEXT NOT NULL DEFAULT '',
  content      TEXT NOT NULL,
  start_line   INT NOT NULL DEFAULT 0,
  end_line     INT NOT NULL DEFAULT 0,
  token_count  INT NOT NULL DEFAULT 0,
  language     TEXT NOT NULL DEFAULT '',
  embedding    vector(%[1]d) NOT NULL,
  search_text  tsvector GENERATED ALWAYS AS (
    setweight(to_tsvector('english', coalesce(heading_text, '')), 'A') ||
    setweight(to_tsvector('english', coalesce(content, '')), 'C')
  ) STORED
);

CREATE INDEX IF NOT EXISTS code_files_search_gin ON code_files USING GIN (search_text);
CREATE INDEX IF NOT EXISTS code_chunks_search_gin ON code_chunks USING GIN (search_text);
CREATE INDEX IF NOT EXISTS documentation_chunks_search_gin ON documentation_chunks USING GIN (search_text);

CREATE INDEX IF NOT EXISTS code_files_summary_hnsw ON code_files
  USING hnsw (summary_embedding vector_cosine_ops) WITH (m = 16, ef_construction = %[2]d);
CREATE INDEX IF NOT EXISTS code_chunks_embedding_hnsw ON code_chunks
  USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = %[2]d);
CREATE INDEX IF NOT EXISTS api_endpoints_embedding_hnsw ON api_endpoints
  USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = %[2]d);
CREATE INDEX IF NOT EXISTS documentation_chunks_embedding_hnsw ON documentation_chunks
  USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = %[2]d);

CREATE INDEX IF NOT EXISTS code_chunks_file_idx ON code_chunks (repo_id, file_path);
CREATE INDEX IF NOT EXISTS code_symbols_name_idx ON code_symbols (name);
CREATE INDEX IF NOT EXISTS code_symbols_file_idx ON code_symbols (repo_id, file_path);
CREATE INDEX IF NOT EXISTS api_endpoints_repo_idx ON api_endpoints (repo_id);
CREATE INDEX IF NOT EXISTS api_endpoints_service_idx ON api_endpoints (repo_id, service_id);
CREATE INDEX IF NOT EXISTS documentation_chunks_doc_idx ON documentation_chunks (doc_id);
`
