package mcp

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cindex-dev/cindex/internal/cerrors"
	"github.com/cindex-dev/cindex/internal/model"
	"github.com/cindex-dev/cindex/internal/store"
)

// ListReposInput is the list_indexed_repos input schema.
type ListReposInput struct{}

// RepositorySummary is one repository with its row counts.
type RepositorySummary struct {
	Repository model.Repository `json:"repository"`
	Stats      store.RepoStats  `json:"stats"`
}

// ListReposOutput enumerates indexed repositories.
type ListReposOutput struct {
	Repositories []RepositorySummary `json:"repositories"`
	Count        int                 `json:"count"`
}

func (s *Server) handleListRepos(ctx context.Context, _ ListReposInput) (ListReposOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	repos, err := s.store.ListRepositories(ctx)
	if err != nil {
		return ListReposOutput{}, err
	}

	out := ListReposOutput{Repositories: make([]RepositorySummary, 0, len(repos))}
	for _, r := range repos {
		stats, err := s.store.RepositoryStats(ctx, r.RepoID)
		if err != nil {
			return ListReposOutput{}, err
		}
		out.Repositories = append(out.Repositories, RepositorySummary{Repository: r, Stats: *stats})
	}
	out.Count = len(out.Repositories)

	s.logger.Info("mcp.tool.done",
		slog.String("tool", "list_indexed_repos"),
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("repositories", out.Count))
	return out, nil
}

func (s *Server) mcpListReposHandler(ctx context.Context, _ *mcp.CallToolRequest, in ListReposInput) (
	*mcp.CallToolResult,
	ListReposOutput,
	error,
) {
	out, err := s.handleListRepos(ctx, in)
	if err != nil {
		return nil, ListReposOutput{}, MapError(err)
	}
	return nil, out, nil
}

// ListWorkspacesInput is the list_workspaces input schema.
type ListWorkspacesInput struct {
	RepoID string `json:"repo_id,omitempty" jsonschema:"restrict to one repository"`
}

// ListWorkspacesOutput enumerates detected workspaces.
type ListWorkspacesOutput struct {
	Workspaces []model.Workspace `json:"workspaces"`
	Count      int               `json:"count"`
}

func (s *Server) handleListWorkspaces(ctx context.Context, in ListWorkspacesInput) (ListWorkspacesOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	repoIDs, err := s.listScopeRepos(ctx, in.RepoID)
	if err != nil {
		return ListWorkspacesOutput{}, err
	}

	out := ListWorkspacesOutput{Workspaces: []model.Workspace{}}
	for _, id := range repoIDs {
		ws, err := s.store.WorkspacesByRepo(ctx, id)
		if err != nil {
			return ListWorkspacesOutput{}, err
		}
		out.Workspaces = append(out.Workspaces, ws...)
	}
	out.Count = len(out.Workspaces)

	s.logger.Info("mcp.tool.done",
		slog.String("tool", "list_workspaces"),
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("workspaces", out.Count))
	return out, nil
}

func (s *Server) mcpListWorkspacesHandler(ctx context.Context, _ *mcp.CallToolRequest, in ListWorkspacesInput) (
	*mcp.CallToolResult,
	ListWorkspacesOutput,
	error,
) {
	out, err := s.handleListWorkspaces(ctx, in)
	if err != nil {
		return nil, ListWorkspacesOutput{}, MapError(err)
	}
	return nil, out, nil
}

// ListServicesInput is the list_services input schema.
type ListServicesInput struct {
	RepoID string `json:"repo_id,omitempty" jsonschema:"restrict to one repository"`
}

// ListServicesOutput enumerates detected services.
type ListServicesOutput struct {
	Services []model.Service `json:"services"`
	Count    int             `json:"count"`
}

func (s *Server) handleListServices(ctx context.Context, in ListServicesInput) (ListServicesOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	repoIDs, err := s.listScopeRepos(ctx, in.RepoID)
	if err != nil {
		return ListServicesOutput{}, err
	}

	out := ListServicesOutput{Services: []model.Service{}}
	for _, id := range repoIDs {
		svcs, err := s.store.ServicesByRepo(ctx, id)
		if err != nil {
			return ListServicesOutput{}, err
		}
		out.Services = append(out.Services, svcs...)
	}
	out.Count = len(out.Services)

	s.logger.Info("mcp.tool.done",
		slog.String("tool", "list_services"),
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("services", out.Count))
	return out, nil
}

func (s *Server) mcpListServicesHandler(ctx context.Context, _ *mcp.CallToolRequest, in ListServicesInput) (
	*mcp.CallToolResult,
	ListServicesOutput,
	error,
) {
	out, err := s.handleListServices(ctx, in)
	if err != nil {
		return nil, ListServicesOutput{}, MapError(err)
	}
	return nil, out, nil
}

// listScopeRepos resolves an optional repo_id filter to the repository set
// a listing walks. A named repository is verified to exist.
func (s *Server) listScopeRepos(ctx context.Context, repoID string) ([]string, error) {
	if repoID != "" {
		if _, err := s.store.GetRepository(ctx, repoID); err != nil {
			return nil, err
		}
		return []string{repoID}, nil
	}
	repos, err := s.store.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(repos))
	for _, r := range repos {
		ids = append(ids, r.RepoID)
	}
	return ids, nil
}

// ListDocumentationInput is the list_documentation input schema.
type ListDocumentationInput struct{}

// ListDocumentationOutput enumerates indexed documentation sets.
type ListDocumentationOutput struct {
	Sets  []model.DocumentationSet `json:"sets"`
	Count int                      `json:"count"`
}

func (s *Server) handleListDocumentation(ctx context.Context, _ ListDocumentationInput) (ListDocumentationOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	sets, err := s.store.ListDocumentation(ctx)
	if err != nil {
		return ListDocumentationOutput{}, err
	}
	if sets == nil {
		sets = []model.DocumentationSet{}
	}

	s.logger.Info("mcp.tool.done",
		slog.String("tool", "list_documentation"),
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("sets", len(sets)))
	return ListDocumentationOutput{Sets: sets, Count: len(sets)}, nil
}

func (s *Server) mcpListDocumentationHandler(ctx context.Context, _ *mcp.CallToolRequest, in ListDocumentationInput) (
	*mcp.CallToolResult,
	ListDocumentationOutput,
	error,
) {
	out, err := s.handleListDocumentation(ctx, in)
	if err != nil {
		return nil, ListDocumentationOutput{}, MapError(err)
	}
	return nil, out, nil
}

// DeleteRepositoryInput is the delete_repository input schema.
type DeleteRepositoryInput struct {
	RepoIDs []string `json:"repo_ids" jsonschema:"repository IDs to delete"`
	Confirm bool     `json:"confirm,omitempty" jsonschema:"must be true; deletion is irreversible"`
}

// DeleteRepositoryOutput lists what was removed.
type DeleteRepositoryOutput struct {
	Deleted []string `json:"deleted"`
	Count   int      `json:"count"`
}

func (s *Server) handleDeleteRepository(ctx context.Context, in DeleteRepositoryInput) (DeleteRepositoryOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	if len(in.RepoIDs) == 0 {
		return DeleteRepositoryOutput{}, cerrors.New(cerrors.ErrCodeMissingField,
			"repo_ids is required", nil).
			WithSuggestion("Pass the repository IDs to delete, from list_indexed_repos")
	}
	if !in.Confirm {
		return DeleteRepositoryOutput{}, cerrors.New(cerrors.ErrCodeConfirmRequired,
			"delete_repository removes all indexed data for the listed repositories", nil).
			WithSuggestion("Set confirm=true to proceed")
	}

	// Verify every ID first so a typo cannot half-delete the batch.
	for _, id := range in.RepoIDs {
		if _, err := s.store.GetRepository(ctx, id); err != nil {
			return DeleteRepositoryOutput{}, err
		}
	}

	deleted := make([]string, 0, len(in.RepoIDs))
	for _, id := range in.RepoIDs {
		if err := s.store.DeleteRepository(ctx, id); err != nil {
			return DeleteRepositoryOutput{Deleted: deleted, Count: len(deleted)}, err
		}
		deleted = append(deleted, id)
	}

	// Cached queries and endpoints may reference the deleted repositories.
	s.engine.PurgeCaches()

	s.logger.Info("mcp.tool.done",
		slog.String("tool", "delete_repository"),
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("deleted", len(deleted)))
	return DeleteRepositoryOutput{Deleted: deleted, Count: len(deleted)}, nil
}

func (s *Server) mcpDeleteRepositoryHandler(ctx context.Context, _ *mcp.CallToolRequest, in DeleteRepositoryInput) (
	*mcp.CallToolResult,
	DeleteRepositoryOutput,
	error,
) {
	out, err := s.handleDeleteRepository(ctx, in)
	if err != nil {
		return nil, DeleteRepositoryOutput{}, MapError(err)
	}
	return nil, out, nil
}

// DeleteDocumentationInput is the delete_documentation input schema.
type DeleteDocumentationInput struct {
	DocIDs  []string `json:"doc_ids" jsonschema:"documentation set IDs to delete"`
	Confirm bool     `json:"confirm,omitempty" jsonschema:"must be true; deletion is irreversible"`
}

// DeleteDocumentationOutput lists what was removed.
type DeleteDocumentationOutput struct {
	Deleted []string `json:"deleted"`
	Count   int      `json:"count"`
}

func (s *Server) handleDeleteDocumentation(ctx context.Context, in DeleteDocumentationInput) (DeleteDocumentationOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	if len(in.DocIDs) == 0 {
		return DeleteDocumentationOutput{}, cerrors.New(cerrors.ErrCodeMissingField,
			"doc_ids is required", nil).
			WithSuggestion("Pass the documentation set IDs to delete, from list_documentation")
	}
	if !in.Confirm {
		return DeleteDocumentationOutput{}, cerrors.New(cerrors.ErrCodeConfirmRequired,
			"delete_documentation removes the listed sets and their chunks", nil).
			WithSuggestion("Set confirm=true to proceed")
	}

	sets, err := s.store.ListDocumentation(ctx)
	if err != nil {
		return DeleteDocumentationOutput{}, err
	}
	known := make(map[string]struct{}, len(sets))
	for _, set := range sets {
		known[set.DocID] = struct{}{}
	}
	for _, id := range in.DocIDs {
		if _, ok := known[id]; !ok {
			return DeleteDocumentationOutput{}, cerrors.Newf(cerrors.ErrCodeStoreNotFound,
				"documentation set %q is not indexed", id).
				WithSuggestion("Run list_documentation to see known set IDs")
		}
	}

	deleted := make([]string, 0, len(in.DocIDs))
	for _, id := range in.DocIDs {
		if err := s.store.DeleteDocumentation(ctx, id); err != nil {
			return DeleteDocumentationOutput{Deleted: deleted, Count: len(deleted)}, err
		}
		deleted = append(deleted, id)
	}

	s.logger.Info("mcp.tool.done",
		slog.String("tool", "delete_documentation"),
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("deleted", len(deleted)))
	return DeleteDocumentationOutput{Deleted: deleted, Count: len(deleted)}, nil
}

func (s *Server) mcpDeleteDocumentationHandler(ctx context.Context, _ *mcp.CallToolRequest, in DeleteDocumentationInput) (
	*mcp.CallToolResult,
	DeleteDocumentationOutput,
	error,
) {
	out, err := s.handleDeleteDocumentation(ctx, in)
	if err != nil {
		return nil, DeleteDocumentationOutput{}, MapError(err)
	}
	return nil, out, nil
}
