package mcp

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cindex-dev/cindex/internal/cerrors"
	"github.com/cindex-dev/cindex/internal/retrieve"
)

// resolveFileRepo finds the repository owning a file path when the input
// leaves repo_id empty. Probing stops at the first repository that has the
// path; pass repo_id to disambiguate duplicates.
func (s *Server) resolveFileRepo(ctx context.Context, repoID, path string) (string, error) {
	if repoID != "" {
		return repoID, nil
	}
	repos, err := s.store.ListRepositories(ctx)
	if err != nil {
		return "", err
	}
	for _, r := range repos {
		_, err := s.store.GetFile(ctx, r.RepoID, path)
		if err == nil {
			return r.RepoID, nil
		}
		if cerrors.GetCode(err) != cerrors.ErrCodeStoreNotFound {
			return "", err
		}
	}
	return "", cerrors.Newf(cerrors.ErrCodeStoreNotFound,
		"file %q is not indexed in any repository", path).
		WithSuggestion("Check the path against get_file_context of a known file, or pass repo_id")
}

// workspaceKey picks the workspace lookup key from the two accepted inputs.
func workspaceKey(workspaceID, packageName string) (string, error) {
	key := workspaceID
	if key == "" {
		key = packageName
	}
	if key == "" {
		return "", cerrors.New(cerrors.ErrCodeMissingField,
			"workspace_id or package_name is required", nil).
			WithSuggestion("Pass the workspace ID or its package name from list_workspaces")
	}
	return key, nil
}

// FileContextInput is the get_file_context input schema.
type FileContextInput struct {
	RepoID   string `json:"repo_id,omitempty" jsonschema:"repository ID; resolved automatically when the path is unique across repositories"`
	FilePath string `json:"file_path" jsonschema:"repository-relative file path"`
}

// FileContextOutput wraps the assembled file context.
type FileContextOutput struct {
	Result *retrieve.FileContext `json:"result"`
}

func (s *Server) handleFileContext(ctx context.Context, in FileContextInput) (FileContextOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	if in.FilePath == "" {
		return FileContextOutput{}, cerrors.New(cerrors.ErrCodeMissingField,
			"file_path is required", nil).
			WithSuggestion("Pass the repository-relative path of the file")
	}

	s.logger.Info("mcp.tool.start",
		slog.String("tool", "get_file_context"),
		slog.String("request_id", requestID),
		slog.String("file_path", in.FilePath))

	repoID, err := s.resolveFileRepo(ctx, in.RepoID, in.FilePath)
	if err != nil {
		return FileContextOutput{}, err
	}

	res, err := s.engine.FileContext(ctx, repoID, in.FilePath)
	if err != nil {
		s.logger.Error("mcp.tool.fail",
			slog.String("tool", "get_file_context"),
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return FileContextOutput{}, err
	}

	s.logger.Info("mcp.tool.done",
		slog.String("tool", "get_file_context"),
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("chunks", len(res.Chunks)),
		slog.Int("imports", len(res.Imports)),
		slog.Int("callers", len(res.Callers)))
	return FileContextOutput{Result: res}, nil
}

func (s *Server) mcpFileContextHandler(ctx context.Context, _ *mcp.CallToolRequest, in FileContextInput) (
	*mcp.CallToolResult,
	FileContextOutput,
	error,
) {
	out, err := s.handleFileContext(ctx, in)
	if err != nil {
		return nil, FileContextOutput{}, MapError(err)
	}
	return nil, out, nil
}

// WorkspaceContextInput is the get_workspace_context input schema. One of
// workspace_id or package_name is required.
type WorkspaceContextInput struct {
	RepoID      string `json:"repo_id,omitempty" jsonschema:"repository ID; all repositories are searched when omitted"`
	WorkspaceID string `json:"workspace_id,omitempty" jsonschema:"workspace ID"`
	PackageName string `json:"package_name,omitempty" jsonschema:"workspace package name, e.g. @acme/ui"`
}

// WorkspaceContextOutput wraps the workspace dependency context.
type WorkspaceContextOutput struct {
	Result *retrieve.WorkspaceContext `json:"result"`
}

func (s *Server) handleWorkspaceContext(ctx context.Context, in WorkspaceContextInput) (WorkspaceContextOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	key, err := workspaceKey(in.WorkspaceID, in.PackageName)
	if err != nil {
		return WorkspaceContextOutput{}, err
	}

	s.logger.Info("mcp.tool.start",
		slog.String("tool", "get_workspace_context"),
		slog.String("request_id", requestID),
		slog.String("workspace", key))

	res, err := s.engine.WorkspaceContext(ctx, in.RepoID, key)
	if err != nil {
		s.logger.Error("mcp.tool.fail",
			slog.String("tool", "get_workspace_context"),
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return WorkspaceContextOutput{}, err
	}

	s.logger.Info("mcp.tool.done",
		slog.String("tool", "get_workspace_context"),
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("depends_on", len(res.DependsOn)),
		slog.Int("dependents", len(res.Dependents)))
	return WorkspaceContextOutput{Result: res}, nil
}

func (s *Server) mcpWorkspaceContextHandler(ctx context.Context, _ *mcp.CallToolRequest, in WorkspaceContextInput) (
	*mcp.CallToolResult,
	WorkspaceContextOutput,
	error,
) {
	out, err := s.handleWorkspaceContext(ctx, in)
	if err != nil {
		return nil, WorkspaceContextOutput{}, MapError(err)
	}
	return nil, out, nil
}

// ServiceContextInput is the get_service_context input schema.
type ServiceContextInput struct {
	ServiceID string `json:"service_id" jsonschema:"service ID; a service name also resolves"`
}

// ServiceContextOutput wraps the service contract context.
type ServiceContextOutput struct {
	Result *retrieve.ServiceContext `json:"result"`
}

func (s *Server) handleServiceContext(ctx context.Context, in ServiceContextInput) (ServiceContextOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	if in.ServiceID == "" {
		return ServiceContextOutput{}, cerrors.New(cerrors.ErrCodeMissingField,
			"service_id is required", nil).
			WithSuggestion("Pass a service ID or name from list_services")
	}

	s.logger.Info("mcp.tool.start",
		slog.String("tool", "get_service_context"),
		slog.String("request_id", requestID),
		slog.String("service", in.ServiceID))

	res, err := s.engine.ServiceContext(ctx, in.ServiceID)
	if err != nil {
		s.logger.Error("mcp.tool.fail",
			slog.String("tool", "get_service_context"),
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return ServiceContextOutput{}, err
	}

	s.logger.Info("mcp.tool.done",
		slog.String("tool", "get_service_context"),
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("endpoints", len(res.Endpoints)),
		slog.Int("outbound_calls", len(res.OutboundCalls)))
	return ServiceContextOutput{Result: res}, nil
}

func (s *Server) mcpServiceContextHandler(ctx context.Context, _ *mcp.CallToolRequest, in ServiceContextInput) (
	*mcp.CallToolResult,
	ServiceContextOutput,
	error,
) {
	out, err := s.handleServiceContext(ctx, in)
	if err != nil {
		return nil, ServiceContextOutput{}, MapError(err)
	}
	return nil, out, nil
}

// CrossWorkspaceUsagesInput is the find_cross_workspace_usages input schema.
type CrossWorkspaceUsagesInput struct {
	RepoID          string `json:"repo_id,omitempty" jsonschema:"repository ID; all repositories are searched when omitted"`
	WorkspaceID     string `json:"workspace_id,omitempty" jsonschema:"workspace ID"`
	PackageName     string `json:"package_name,omitempty" jsonschema:"workspace package name"`
	IncludeIndirect bool   `json:"include_indirect,omitempty" jsonschema:"request transitive usage tracing; currently reported as unsupported in notes"`
}

// CrossWorkspaceUsagesOutput wraps the usage trace.
type CrossWorkspaceUsagesOutput struct {
	Result *retrieve.WorkspaceUsages `json:"result"`
}

func (s *Server) handleCrossWorkspaceUsages(ctx context.Context, in CrossWorkspaceUsagesInput) (CrossWorkspaceUsagesOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	key, err := workspaceKey(in.WorkspaceID, in.PackageName)
	if err != nil {
		return CrossWorkspaceUsagesOutput{}, err
	}

	s.logger.Info("mcp.tool.start",
		slog.String("tool", "find_cross_workspace_usages"),
		slog.String("request_id", requestID),
		slog.String("workspace", key))

	res, err := s.engine.CrossWorkspaceUsages(ctx, in.RepoID, key, in.IncludeIndirect)
	if err != nil {
		s.logger.Error("mcp.tool.fail",
			slog.String("tool", "find_cross_workspace_usages"),
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return CrossWorkspaceUsagesOutput{}, err
	}

	s.logger.Info("mcp.tool.done",
		slog.String("tool", "find_cross_workspace_usages"),
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("usages", len(res.Usages)))
	return CrossWorkspaceUsagesOutput{Result: res}, nil
}

func (s *Server) mcpCrossWorkspaceUsagesHandler(ctx context.Context, _ *mcp.CallToolRequest, in CrossWorkspaceUsagesInput) (
	*mcp.CallToolResult,
	CrossWorkspaceUsagesOutput,
	error,
) {
	out, err := s.handleCrossWorkspaceUsages(ctx, in)
	if err != nil {
		return nil, CrossWorkspaceUsagesOutput{}, MapError(err)
	}
	return nil, out, nil
}

// CrossServiceCallsInput is the find_cross_service_calls input schema. All
// filters are optional; an empty input traces every service in scope.
type CrossServiceCallsInput struct {
	Repositories     []string `json:"repositories,omitempty" jsonschema:"restrict to repository IDs"`
	ServiceID        string   `json:"service_id,omitempty" jsonschema:"trace only this service's outbound calls"`
	CrossServiceOnly bool     `json:"cross_service_only,omitempty" jsonschema:"drop calls a service makes to its own endpoints"`
}

// CrossServiceCallsOutput lists detected outbound call sites.
type CrossServiceCallsOutput struct {
	Calls []retrieve.OutboundCall `json:"calls"`
	Count int                     `json:"count"`
}

func (s *Server) handleCrossServiceCalls(ctx context.Context, in CrossServiceCallsInput) (CrossServiceCallsOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	s.logger.Info("mcp.tool.start",
		slog.String("tool", "find_cross_service_calls"),
		slog.String("request_id", requestID),
		slog.String("service", in.ServiceID))

	calls, err := s.engine.CrossServiceCalls(ctx, retrieve.CallOptions{
		RepoIDs:          in.Repositories,
		ServiceID:        in.ServiceID,
		CrossServiceOnly: in.CrossServiceOnly,
	})
	if err != nil {
		s.logger.Error("mcp.tool.fail",
			slog.String("tool", "find_cross_service_calls"),
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return CrossServiceCallsOutput{}, err
	}

	s.logger.Info("mcp.tool.done",
		slog.String("tool", "find_cross_service_calls"),
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("calls", len(calls)))
	return CrossServiceCallsOutput{Calls: calls, Count: len(calls)}, nil
}

func (s *Server) mcpCrossServiceCallsHandler(ctx context.Context, _ *mcp.CallToolRequest, in CrossServiceCallsInput) (
	*mcp.CallToolResult,
	CrossServiceCallsOutput,
	error,
) {
	out, err := s.handleCrossServiceCalls(ctx, in)
	if err != nil {
		return nil, CrossServiceCallsOutput{}, MapError(err)
	}
	return nil, out, nil
}
