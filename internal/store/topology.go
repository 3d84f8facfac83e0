package store

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/cindex-dev/cindex/internal/cerrors"
	"github.com/cindex-dev/cindex/internal/model"
)

func (s *PG) WorkspacesByRepo(ctx context.Context, repoID string) ([]model.Workspace, error) {
	rows, err := s.pool.Query(ctx, `
SELECT w.workspace_id, w.repo_id, w.name, w.absolute_path, w.relative_path, w.private,
       coalesce(array_agg(d.depends_on ORDER BY d.depends_on) FILTER (WHERE d.dev = false), '{}'),
       coalesce(array_agg(d.depends_on ORDER BY d.depends_on) FILTER (WHERE d.dev = true), '{}')
FROM workspaces w
LEFT JOIN workspace_dependencies d
  ON d.repo_id = w.repo_id AND d.workspace_id = w.workspace_id
WHERE w.repo_id = $1
GROUP BY w.repo_id, w.workspace_id
ORDER BY w.workspace_id`,
		repoID)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "workspaces for %q", repoID)
	}
	defer rows.Close()

	var wss []model.Workspace
	for rows.Next() {
		var ws model.Workspace
		err := rows.Scan(&ws.WorkspaceID, &ws.RepoID, &ws.Name, &ws.AbsolutePath, &ws.RelativePath,
			&ws.Private, &ws.Dependencies, &ws.DevDependencies)
		if err != nil {
			return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "scan workspace")
		}
		wss = append(wss, ws)
	}
	if err := rows.Err(); err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "workspaces for %q", repoID)
	}
	return wss, nil
}

func (s *PG) ServicesByRepo(ctx context.Context, repoID string) ([]model.Service, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT service_id, repo_id, name, kind, files FROM services WHERE repo_id = $1 ORDER BY service_id`,
		repoID)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "services for %q", repoID)
	}
	defer rows.Close()

	var svcs []model.Service
	for rows.Next() {
		var svc model.Service
		if err := rows.Scan(&svc.ServiceID, &svc.RepoID, &svc.Name, &svc.Kind, &svc.Files); err != nil {
			return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "scan service")
		}
		svcs = append(svcs, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "services for %q", repoID)
	}
	return svcs, nil
}

const endpointColumns = `endpoint_id, repo_id, service_id, api_type, path, method, description,
request_schema, response_schema, implementation, deprecated, tags, embedding`

func endpointScanDests(e *model.APIEndpoint, emb *pgvector.Vector) []any {
	return []any{
		&e.EndpointID, &e.RepoID, &e.ServiceID, &e.APIType, &e.Path, &e.Method, &e.Description,
		&e.RequestSchema, &e.ResponseSchema, &e.Implementation, &e.Deprecated, &e.Tags, emb,
	}
}

func (s *PG) Endpoints(ctx context.Context, filter EndpointFilter) ([]model.APIEndpoint, error) {
	w := newWhere()
	if len(filter.RepoIDs) > 0 {
		w.add(`repo_id = ANY($%d)`, filter.RepoIDs)
	}
	if len(filter.ServiceIDs) > 0 {
		w.add(`service_id = ANY($%d)`, filter.ServiceIDs)
	}
	if filter.APIType != "" {
		w.add(`api_type = $%d`, string(filter.APIType))
	}
	if !filter.IncludeDeprecated {
		w.addLiteral(`deprecated = false`)
	}

	q := `SELECT ` + endpointColumns + ` FROM api_endpoints` + w.clause() +
		` ORDER BY repo_id, service_id, path, method`
	if filter.Limit > 0 {
		q += fmt.Sprintf(` LIMIT $%d`, w.bind(filter.Limit))
	}

	rows, err := s.pool.Query(ctx, q, w.args...)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "list endpoints")
	}
	defer rows.Close()

	var eps []model.APIEndpoint
	for rows.Next() {
		var e model.APIEndpoint
		var emb pgvector.Vector
		if err := rows.Scan(endpointScanDests(&e, &emb)...); err != nil {
			return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "scan endpoint")
		}
		e.Embedding = emb.Slice()
		eps = append(eps, e)
	}
	if err := rows.Err(); err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "list endpoints")
	}
	return eps, nil
}

func (s *PG) CrossRepoDependencies(ctx context.Context, repoID string) ([]model.CrossRepoDependency, error) {
	rows, err := s.pool.Query(ctx, `
SELECT source_repo_id, target_repo_id FROM cross_repo_dependencies
WHERE source_repo_id = $1 OR target_repo_id = $1
ORDER BY source_repo_id, target_repo_id`,
		repoID)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "cross-repo dependencies for %q", repoID)
	}
	defer rows.Close()

	var deps []model.CrossRepoDependency
	for rows.Next() {
		var d model.CrossRepoDependency
		if err := rows.Scan(&d.SourceRepoID, &d.TargetRepoID); err != nil {
			return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "scan cross-repo dependency")
		}
		deps = append(deps, d)
	}
	if err := rows.Err(); err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "cross-repo dependencies for %q", repoID)
	}
	return deps, nil
}
