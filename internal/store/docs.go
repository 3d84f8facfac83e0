package store

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/cindex-dev/cindex/internal/cerrors"
	"github.com/cindex-dev/cindex/internal/model"
)

// SaveDocumentation replaces the documentation set and its chunks in one
// transaction. Re-indexing a set swaps its content atomically.
func (s *PG) SaveDocumentation(ctx context.Context, set *model.DocumentationSet, chunks []model.DocumentationChunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "begin documentation transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	b := &pgx.Batch{}
	b.Queue(`DELETE FROM documentation_sets WHERE doc_id = $1`, set.DocID)
	b.Queue(`
INSERT INTO documentation_sets (doc_id, name, root_path, file_count, indexed_at)
VALUES ($1, $2, $3, $4, now())`,
		set.DocID, set.Name, set.RootPath, set.FileCount)
	for i := range chunks {
		ch := &chunks[i]
		b.Queue(`
INSERT INTO documentation_chunks
  (chunk_id, doc_id, file_path, heading_path, heading_text, content,
   start_line, end_line, token_count, language, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			ch.ChunkID, ch.DocID, ch.FilePath, orEmpty(ch.HeadingPath),
			strings.Join(ch.HeadingPath, " "), ch.Content,
			ch.StartLine, ch.EndLine, ch.TokenCount, ch.Language,
			pgvector.NewVector(ch.Embedding))
	}
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "save documentation set %q", set.DocID)
	}

	if err := tx.Commit(ctx); err != nil {
		return cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "commit documentation set %q", set.DocID)
	}
	return nil
}

func (s *PG) ListDocumentation(ctx context.Context) ([]model.DocumentationSet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc_id, name, root_path, file_count, indexed_at FROM documentation_sets ORDER BY name, doc_id`)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "list documentation sets")
	}
	defer rows.Close()

	var sets []model.DocumentationSet
	for rows.Next() {
		var set model.DocumentationSet
		if err := rows.Scan(&set.DocID, &set.Name, &set.RootPath, &set.FileCount, &set.IndexedAt); err != nil {
			return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "scan documentation set")
		}
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "list documentation sets")
	}
	return sets, nil
}

func (s *PG) DeleteDocumentation(ctx context.Context, docID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documentation_sets WHERE doc_id = $1`, docID)
	if err != nil {
		return cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "delete documentation set %q", docID)
	}
	if tag.RowsAffected() == 0 {
		return cerrors.Newf(cerrors.ErrCodeStoreNotFound, "documentation set %q is not indexed", docID).
			WithSuggestion("Run list_documentation to see what is indexed")
	}
	return nil
}
