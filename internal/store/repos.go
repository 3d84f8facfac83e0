package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/cindex-dev/cindex/internal/cerrors"
	"github.com/cindex-dev/cindex/internal/model"
)

const repoColumns = `repo_id, name, root_path, kind, version, upstream_url, workspace_config, indexed_at`

func repoScanDests(r *model.Repository) []any {
	return []any{
		&r.RepoID, &r.Name, &r.RootPath, &r.Kind,
		&r.Version, &r.UpstreamURL, &r.WorkspaceConfig, &r.IndexedAt,
	}
}

func (s *PG) GetRepository(ctx context.Context, repoID string) (*model.Repository, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+repoColumns+` FROM repositories WHERE repo_id = $1`, repoID)

	var r model.Repository
	if err := row.Scan(repoScanDests(&r)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cerrors.Newf(cerrors.ErrCodeStoreNotFound, "repository %q is not indexed", repoID).
				WithSuggestion("Run list_repositories to see what is indexed, or index_repository to add it")
		}
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "get repository %q", repoID)
	}
	return &r, nil
}

func (s *PG) GetRepositoryByPath(ctx context.Context, rootPath string) (*model.Repository, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+repoColumns+` FROM repositories WHERE root_path = $1`, rootPath)

	var r model.Repository
	if err := row.Scan(repoScanDests(&r)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cerrors.Newf(cerrors.ErrCodeStoreNotFound, "no indexed repository at %q", rootPath)
		}
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "get repository by path")
	}
	return &r, nil
}

func (s *PG) ListRepositories(ctx context.Context) ([]model.Repository, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+repoColumns+` FROM repositories ORDER BY name, repo_id`)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "list repositories")
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		var r model.Repository
		if err := rows.Scan(repoScanDests(&r)...); err != nil {
			return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "scan repository")
		}
		repos = append(repos, r)
	}
	if err := rows.Err(); err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "list repositories")
	}
	return repos, nil
}

// DeleteRepository removes the repository row; files, chunks, symbols,
// workspaces, services, endpoints, and cross-repo edges cascade with it.
func (s *PG) DeleteRepository(ctx context.Context, repoID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM repositories WHERE repo_id = $1`, repoID)
	if err != nil {
		return cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "delete repository %q", repoID)
	}
	if tag.RowsAffected() == 0 {
		return cerrors.Newf(cerrors.ErrCodeStoreNotFound, "repository %q is not indexed", repoID).
			WithSuggestion("Run list_repositories to see what is indexed")
	}
	return nil
}

func (s *PG) RepositoryStats(ctx context.Context, repoID string) (*RepoStats, error) {
	row := s.pool.QueryRow(ctx, `
SELECT
  (SELECT count(*) FROM repositories  WHERE repo_id = $1),
  (SELECT count(*) FROM code_files    WHERE repo_id = $1),
  (SELECT count(*) FROM code_chunks   WHERE repo_id = $1),
  (SELECT count(*) FROM code_symbols  WHERE repo_id = $1),
  (SELECT count(*) FROM workspaces    WHERE repo_id = $1),
  (SELECT count(*) FROM services      WHERE repo_id = $1),
  (SELECT count(*) FROM api_endpoints WHERE repo_id = $1)`,
		repoID)

	var present int
	st := RepoStats{RepoID: repoID}
	err := row.Scan(&present, &st.Files, &st.Chunks, &st.Symbols, &st.Workspaces, &st.Services, &st.Endpoints)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "repository stats for %q", repoID)
	}
	if present == 0 {
		return nil, cerrors.Newf(cerrors.ErrCodeStoreNotFound, "repository %q is not indexed", repoID)
	}
	return &st, nil
}
