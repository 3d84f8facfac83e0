package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/cindex-dev/cindex/internal/cerrors"
	"github.com/cindex-dev/cindex/internal/model"
)

const chunkColumns = `chunk_id, repo_id, file_path, chunk_type, content,
start_line, end_line, token_count, metadata, embedding`

func chunkScanDests(c *model.Chunk, emb *pgvector.Vector) []any {
	return []any{
		&c.ChunkID, &c.RepoID, &c.FilePath, &c.Type, &c.Content,
		&c.StartLine, &c.EndLine, &c.TokenCount, &c.Metadata, emb,
	}
}

func (s *PG) ChunksByFile(ctx context.Context, repoID, path string) ([]model.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+chunkColumns+` FROM code_chunks
		 WHERE repo_id = $1 AND file_path = $2
		 ORDER BY start_line, chunk_id`,
		repoID, path)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "chunks by file %q", path)
	}
	return collectChunks(rows)
}

func (s *PG) ChunksByIDs(ctx context.Context, chunkIDs []string) ([]model.Chunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+chunkColumns+` FROM code_chunks
		 WHERE chunk_id = ANY($1)
		 ORDER BY file_path, start_line`,
		chunkIDs)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "chunks by ids")
	}
	return collectChunks(rows)
}

func collectChunks(rows pgx.Rows) ([]model.Chunk, error) {
	defer rows.Close()

	var chunks []model.Chunk
	for rows.Next() {
		var c model.Chunk
		var emb pgvector.Vector
		if err := rows.Scan(chunkScanDests(&c, &emb)...); err != nil {
			return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "scan chunk")
		}
		c.Embedding = emb.Slice()
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "read chunks")
	}
	return chunks, nil
}
