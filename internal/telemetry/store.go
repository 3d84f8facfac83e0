package telemetry

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cindex-dev/cindex/internal/cerrors"
)

// zeroResultRetention is how many zero-result queries the store keeps.
const zeroResultRetention = 100

// PostgresMetricsStore implements QueryMetricsStore on the shared index
// database pool.
type PostgresMetricsStore struct {
	pool *pgxpool.Pool
}

var _ QueryMetricsStore = (*PostgresMetricsStore)(nil)

// NewPostgresMetricsStore wraps the given pool. Call Migrate before first use.
func NewPostgresMetricsStore(pool *pgxpool.Pool) (*PostgresMetricsStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	return &PostgresMetricsStore{pool: pool}, nil
}

// Migrate applies the telemetry schema. Statements are idempotent.
func (s *PostgresMetricsStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, telemetryDDL); err != nil {
		return cerrors.Wrapf(cerrors.ErrCodeStoreSchema, err, "apply telemetry schema")
	}
	return nil
}

const telemetryDDL = `
CREATE TABLE IF NOT EXISTS query_type_stats (
  day        DATE NOT NULL,
  query_type TEXT NOT NULL,
  count      BIGINT NOT NULL DEFAULT 0,
  PRIMARY KEY (day, query_type)
);

CREATE TABLE IF NOT EXISTS query_terms (
  term      TEXT PRIMARY KEY,
  count     BIGINT NOT NULL DEFAULT 1,
  last_seen TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS query_terms_count_idx ON query_terms (count DESC);

CREATE TABLE IF NOT EXISTS zero_result_queries (
  id          BIGSERIAL PRIMARY KEY,
  query       TEXT NOT NULL,
  occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS query_latency_stats (
  day    DATE NOT NULL,
  bucket TEXT NOT NULL,
  count  BIGINT NOT NULL DEFAULT 0,
  PRIMARY KEY (day, bucket)
);
`

func (s *PostgresMetricsStore) SaveQueryTypeCounts(ctx context.Context, day string, counts map[QueryType]int64) error {
	if len(counts) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for qt, count := range counts {
		b.Queue(`
INSERT INTO query_type_stats (day, query_type, count)
VALUES ($1, $2, $3)
ON CONFLICT (day, query_type) DO UPDATE SET count = query_type_stats.count + EXCLUDED.count`,
			day, string(qt), count)
	}
	if err := s.pool.SendBatch(ctx, b).Close(); err != nil {
		return cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "save query type counts")
	}
	return nil
}

func (s *PostgresMetricsStore) GetQueryTypeCounts(ctx context.Context, from, to string) (map[QueryType]int64, error) {
	rows, err := s.pool.Query(ctx, `
SELECT query_type, SUM(count)
FROM query_type_stats
WHERE day >= $1 AND day <= $2
GROUP BY query_type`, from, to)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "get query type counts")
	}
	defer rows.Close()

	counts := make(map[QueryType]int64)
	for rows.Next() {
		var qt string
		var count int64
		if err := rows.Scan(&qt, &count); err != nil {
			return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "scan query type count")
		}
		counts[QueryType(qt)] = count
	}
	return counts, rows.Err()
}

func (s *PostgresMetricsStore) UpsertTermCounts(ctx context.Context, terms map[string]int64) error {
	if len(terms) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for term, count := range terms {
		b.Queue(`
INSERT INTO query_terms (term, count, last_seen)
VALUES ($1, $2, now())
ON CONFLICT (term) DO UPDATE SET
  count = query_terms.count + EXCLUDED.count,
  last_seen = now()`,
			term, count)
	}
	if err := s.pool.SendBatch(ctx, b).Close(); err != nil {
		return cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "upsert term counts")
	}
	return nil
}

func (s *PostgresMetricsStore) GetTopTerms(ctx context.Context, limit int) ([]TermCount, error) {
	rows, err := s.pool.Query(ctx, `
SELECT term, count
FROM query_terms
ORDER BY count DESC, term ASC
LIMIT $1`, limit)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "get top terms")
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "scan term count")
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

func (s *PostgresMetricsStore) AddZeroResultQueries(ctx context.Context, queries []ZeroResultQuery) error {
	if len(queries) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, q := range queries {
		b.Queue(`INSERT INTO zero_result_queries (query, occurred_at) VALUES ($1, $2)`, q.Query, q.At)
	}
	// Keep only the newest rows.
	b.Queue(`
DELETE FROM zero_result_queries
WHERE id NOT IN (
  SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT $1
)`, zeroResultRetention)
	if err := s.pool.SendBatch(ctx, b).Close(); err != nil {
		return cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "add zero-result queries")
	}
	return nil
}

func (s *PostgresMetricsStore) GetZeroResultQueries(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
SELECT query
FROM zero_result_queries
ORDER BY id DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "get zero-result queries")
	}
	defer rows.Close()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "scan zero-result query")
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

func (s *PostgresMetricsStore) SaveLatencyCounts(ctx context.Context, day string, counts map[LatencyBucket]int64) error {
	if len(counts) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for bucket, count := range counts {
		b.Queue(`
INSERT INTO query_latency_stats (day, bucket, count)
VALUES ($1, $2, $3)
ON CONFLICT (day, bucket) DO UPDATE SET count = query_latency_stats.count + EXCLUDED.count`,
			day, string(bucket), count)
	}
	if err := s.pool.SendBatch(ctx, b).Close(); err != nil {
		return cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "save latency counts")
	}
	return nil
}

func (s *PostgresMetricsStore) GetLatencyCounts(ctx context.Context, from, to string) (map[LatencyBucket]int64, error) {
	rows, err := s.pool.Query(ctx, `
SELECT bucket, SUM(count)
FROM query_latency_stats
WHERE day >= $1 AND day <= $2
GROUP BY bucket`, from, to)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "get latency counts")
	}
	defer rows.Close()

	counts := make(map[LatencyBucket]int64)
	for rows.Next() {
		var bucket string
		var count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "scan latency count")
		}
		counts[LatencyBucket(bucket)] = count
	}
	return counts, rows.Err()
}

// Close is a no-op. The pool belongs to the index store and is closed there.
func (s *PostgresMetricsStore) Close() error {
	return nil
}
