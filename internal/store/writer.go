package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/cindex-dev/cindex/internal/cerrors"
	"github.com/cindex-dev/cindex/internal/model"
)

// BeginIndex opens the writer transaction for one indexing run. Readers keep
// seeing the previous generation until Commit.
func (s *PG) BeginIndex(ctx context.Context, repoID string) (IndexWriter, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "begin indexing transaction for %q", repoID)
	}
	return &pgWriter{tx: tx, repoID: repoID, logger: s.logger}, nil
}

type pgWriter struct {
	tx     pgx.Tx
	repoID string
	logger *slog.Logger
}

var _ IndexWriter = (*pgWriter)(nil)

func (w *pgWriter) UpsertRepository(ctx context.Context, repo *model.Repository) error {
	_, err := w.tx.Exec(ctx, `
INSERT INTO repositories (repo_id, name, root_path, kind, version, upstream_url, workspace_config, indexed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
ON CONFLICT (repo_id) DO UPDATE SET
  name = EXCLUDED.name,
  root_path = EXCLUDED.root_path,
  kind = EXCLUDED.kind,
  version = EXCLUDED.version,
  upstream_url = EXCLUDED.upstream_url,
  workspace_config = EXCLUDED.workspace_config,
  indexed_at = now()`,
		repo.RepoID, repo.Name, repo.RootPath, string(repo.Kind),
		repo.Version, repo.UpstreamURL, repo.WorkspaceConfig)
	if err != nil {
		return cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "upsert repository %q", repo.RepoID)
	}
	return nil
}

// ReplaceFile upserts the file row and swaps its chunks and symbols. The
// whole replacement is queued as one batch round trip.
func (w *pgWriter) ReplaceFile(ctx context.Context, file *model.File, chunks []model.Chunk, symbols []model.Symbol) error {
	b := &pgx.Batch{}
	b.Queue(`DELETE FROM code_chunks WHERE repo_id = $1 AND file_path = $2`, w.repoID, file.Path)
	b.Queue(`DELETE FROM code_symbols WHERE repo_id = $1 AND file_path = $2`, w.repoID, file.Path)
	b.Queue(`
INSERT INTO code_files
  (repo_id, path, language, line_count, imports, exports, summary, summary_embedding,
   workspace_id, service_id, package_name, content_hash, indexed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
ON CONFLICT (repo_id, path) DO UPDATE SET
  language = EXCLUDED.language,
  line_count = EXCLUDED.line_count,
  imports = EXCLUDED.imports,
  exports = EXCLUDED.exports,
  summary = EXCLUDED.summary,
  summary_embedding = EXCLUDED.summary_embedding,
  workspace_id = EXCLUDED.workspace_id,
  service_id = EXCLUDED.service_id,
  package_name = EXCLUDED.package_name,
  content_hash = EXCLUDED.content_hash,
  indexed_at = now()`,
		w.repoID, file.Path, file.Language, file.LineCount,
		orEmpty(file.Imports), orEmpty(file.Exports), file.Summary,
		pgvector.NewVector(file.SummaryEmbedding),
		file.WorkspaceID, file.ServiceID, file.PackageName, file.ContentHash)

	for i := range chunks {
		ch := &chunks[i]
		b.Queue(`
INSERT INTO code_chunks
  (chunk_id, repo_id, file_path, chunk_type, content, start_line, end_line,
   token_count, metadata, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			ch.ChunkID, w.repoID, file.Path, string(ch.Type), ch.Content,
			ch.StartLine, ch.EndLine, ch.TokenCount, ch.Metadata,
			pgvector.NewVector(ch.Embedding))
	}
	for i := range symbols {
		sym := &symbols[i]
		b.Queue(`
INSERT INTO code_symbols
  (symbol_id, repo_id, name, kind, file_path, line, definition, scope,
   workspace_id, service_id, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			sym.SymbolID, w.repoID, sym.Name, string(sym.Kind), file.Path, sym.Line,
			sym.Definition, string(sym.Scope), sym.WorkspaceID, sym.ServiceID,
			pgvector.NewVector(sym.Embedding))
	}

	if err := w.tx.SendBatch(ctx, b).Close(); err != nil {
		return cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "replace file %q", file.Path)
	}
	return nil
}

func (w *pgWriter) DeleteFiles(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	// Chunks and symbols cascade with the file rows.
	_, err := w.tx.Exec(ctx,
		`DELETE FROM code_files WHERE repo_id = $1 AND path = ANY($2)`, w.repoID, paths)
	if err != nil {
		return cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "delete %d files", len(paths))
	}
	return nil
}

func (w *pgWriter) ReplaceWorkspaces(ctx context.Context, workspaces []model.Workspace) error {
	b := &pgx.Batch{}
	b.Queue(`DELETE FROM workspaces WHERE repo_id = $1`, w.repoID)
	for i := range workspaces {
		ws := &workspaces[i]
		b.Queue(`
INSERT INTO workspaces (repo_id, workspace_id, name, absolute_path, relative_path, private)
VALUES ($1, $2, $3, $4, $5, $6)`,
			w.repoID, ws.WorkspaceID, ws.Name, ws.AbsolutePath, ws.RelativePath, ws.Private)
		for _, dep := range ws.Dependencies {
			b.Queue(`
INSERT INTO workspace_dependencies (repo_id, workspace_id, depends_on, dev)
VALUES ($1, $2, $3, false)
ON CONFLICT DO NOTHING`,
				w.repoID, ws.WorkspaceID, dep)
		}
		for _, dep := range ws.DevDependencies {
			b.Queue(`
INSERT INTO workspace_dependencies (repo_id, workspace_id, depends_on, dev)
VALUES ($1, $2, $3, true)
ON CONFLICT DO NOTHING`,
				w.repoID, ws.WorkspaceID, dep)
		}
	}
	if err := w.tx.SendBatch(ctx, b).Close(); err != nil {
		return cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "replace workspaces")
	}
	return nil
}

func (w *pgWriter) ReplaceServices(ctx context.Context, services []model.Service) error {
	b := &pgx.Batch{}
	b.Queue(`DELETE FROM services WHERE repo_id = $1`, w.repoID)
	for i := range services {
		svc := &services[i]
		b.Queue(`
INSERT INTO services (repo_id, service_id, name, kind, files)
VALUES ($1, $2, $3, $4, $5)`,
			w.repoID, svc.ServiceID, svc.Name, string(svc.Kind), orEmpty(svc.Files))
	}
	if err := w.tx.SendBatch(ctx, b).Close(); err != nil {
		return cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "replace services")
	}
	return nil
}

func (w *pgWriter) ReplaceEndpoints(ctx context.Context, endpoints []model.APIEndpoint) error {
	b := &pgx.Batch{}
	b.Queue(`DELETE FROM api_endpoints WHERE repo_id = $1`, w.repoID)
	for i := range endpoints {
		e := &endpoints[i]
		var impl any
		if e.Implementation != nil {
			impl = e.Implementation
		}
		b.Queue(`
INSERT INTO api_endpoints
  (endpoint_id, repo_id, service_id, api_type, path, method, description,
   request_schema, response_schema, implementation, deprecated, tags, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			e.EndpointID, w.repoID, e.ServiceID, string(e.APIType), e.Path, e.Method,
			e.Description, e.RequestSchema, e.ResponseSchema, impl, e.Deprecated,
			orEmpty(e.Tags), pgvector.NewVector(e.Embedding))
	}
	if err := w.tx.SendBatch(ctx, b).Close(); err != nil {
		return cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "replace endpoints")
	}
	return nil
}

// ReplaceCrossRepoDeps swaps outgoing edges. Targets must already be indexed;
// the foreign key rejects edges to unknown repositories.
func (w *pgWriter) ReplaceCrossRepoDeps(ctx context.Context, targetRepoIDs []string) error {
	b := &pgx.Batch{}
	b.Queue(`DELETE FROM cross_repo_dependencies WHERE source_repo_id = $1`, w.repoID)
	for _, target := range targetRepoIDs {
		if target == w.repoID {
			continue
		}
		b.Queue(`
INSERT INTO cross_repo_dependencies (source_repo_id, target_repo_id)
VALUES ($1, $2)
ON CONFLICT DO NOTHING`,
			w.repoID, target)
	}
	if err := w.tx.SendBatch(ctx, b).Close(); err != nil {
		return cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "replace cross-repo dependencies")
	}
	return nil
}

func (w *pgWriter) Commit(ctx context.Context) error {
	if err := w.tx.Commit(ctx); err != nil {
		return cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "commit indexing transaction for %q", w.repoID)
	}
	w.logger.Debug("indexing transaction committed", slog.String("repo", w.repoID))
	return nil
}

// Rollback discards the run. Calling it after Commit is a no-op so callers
// can defer it unconditionally.
func (w *pgWriter) Rollback(ctx context.Context) error {
	err := w.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "rollback indexing transaction for %q", w.repoID)
	}
	return nil
}
