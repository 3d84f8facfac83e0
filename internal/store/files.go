package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/cindex-dev/cindex/internal/cerrors"
	"github.com/cindex-dev/cindex/internal/model"
)

const fileColumns = `repo_id, path, language, line_count, imports, exports, summary,
summary_embedding, workspace_id, service_id, package_name, content_hash, indexed_at`

func fileScanDests(f *model.File, emb *pgvector.Vector) []any {
	return []any{
		&f.RepoID, &f.Path, &f.Language, &f.LineCount, &f.Imports, &f.Exports, &f.Summary,
		emb, &f.WorkspaceID, &f.ServiceID, &f.PackageName, &f.ContentHash, &f.IndexedAt,
	}
}

func (s *PG) GetFile(ctx context.Context, repoID, path string) (*model.File, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM code_files WHERE repo_id = $1 AND path = $2`,
		repoID, path)

	var f model.File
	var emb pgvector.Vector
	if err := row.Scan(fileScanDests(&f, &emb)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cerrors.Newf(cerrors.ErrCodeStoreNotFound, "file %q is not indexed in repository %q", path, repoID)
		}
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "get file %q", path)
	}
	f.SummaryEmbedding = emb.Slice()
	return &f, nil
}

func (s *PG) FilesByPaths(ctx context.Context, repoID string, paths []string) ([]model.File, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+fileColumns+` FROM code_files WHERE repo_id = $1 AND path = ANY($2) ORDER BY path`,
		repoID, paths)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "files by paths")
	}
	defer rows.Close()

	var files []model.File
	for rows.Next() {
		var f model.File
		var emb pgvector.Vector
		if err := rows.Scan(fileScanDests(&f, &emb)...); err != nil {
			return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "scan file")
		}
		f.SummaryEmbedding = emb.Slice()
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "files by paths")
	}
	return files, nil
}

// ListFiles loads every file row of a repository without the summary
// embedding column. Import tracing walks the full listing, so the vectors
// would only waste transfer.
func (s *PG) ListFiles(ctx context.Context, repoID string) ([]model.File, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT repo_id, path, language, line_count, imports, exports, summary,
workspace_id, service_id, package_name, content_hash, indexed_at
FROM code_files WHERE repo_id = $1 ORDER BY path`, repoID)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "list files for %q", repoID)
	}
	defer rows.Close()

	var files []model.File
	for rows.Next() {
		var f model.File
		if err := rows.Scan(
			&f.RepoID, &f.Path, &f.Language, &f.LineCount, &f.Imports, &f.Exports, &f.Summary,
			&f.WorkspaceID, &f.ServiceID, &f.PackageName, &f.ContentHash, &f.IndexedAt,
		); err != nil {
			return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "scan file row")
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "list files for %q", repoID)
	}
	return files, nil
}

// FileHashes loads the path → content hash map used by incremental indexing
// to decide which files changed since the last run.
func (s *PG) FileHashes(ctx context.Context, repoID string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT path, content_hash FROM code_files WHERE repo_id = $1`, repoID)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "file hashes for %q", repoID)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "scan file hash")
		}
		hashes[path] = hash
	}
	if err := rows.Err(); err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "file hashes for %q", repoID)
	}
	return hashes, nil
}
