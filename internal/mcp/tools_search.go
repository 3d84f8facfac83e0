package mcp

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cindex-dev/cindex/internal/cerrors"
	"github.com/cindex-dev/cindex/internal/model"
	"github.com/cindex-dev/cindex/internal/retrieve"
)

// Upper bounds on client-supplied limits. Defaults come from config when
// the input leaves a limit unset.
const (
	maxTopFilesLimit = 100
	maxChunksLimit   = 500
	maxLookupLimit   = 200
)

// ScopeInput narrows a search to repositories, services, or a dependency
// boundary. Empty input means global scope.
type ScopeInput struct {
	Mode               string   `json:"mode,omitempty" jsonschema:"scope mode: global, repository, service, or boundary; inferred from the populated fields when omitted"`
	Repositories       []string `json:"repositories,omitempty" jsonschema:"repository IDs for repository mode"`
	Services           []string `json:"services,omitempty" jsonschema:"service IDs for service mode"`
	StartRepo          string   `json:"start_repo,omitempty" jsonschema:"starting repository ID for boundary mode"`
	FollowDependencies bool     `json:"follow_dependencies,omitempty" jsonschema:"follow cross-repo dependency edges breadth-first from start_repo"`
	MaxDepth           *int     `json:"max_depth,omitempty" jsonschema:"boundary traversal depth; 0 means only start_repo; defaults to the configured max_repo_depth"`
	ExcludeRepos       []string `json:"exclude_repos,omitempty" jsonschema:"repository IDs dropped after scope resolution"`
	ExcludeServices    []string `json:"exclude_services,omitempty" jsonschema:"service IDs dropped after scope resolution"`
	ExcludeWorkspaces  []string `json:"exclude_workspaces,omitempty" jsonschema:"workspace IDs dropped after scope resolution"`
}

// scopeOptions validates a scope input and converts it to engine options.
// An omitted mode is inferred from whichever selector field is populated.
func (s *Server) scopeOptions(in *ScopeInput) (retrieve.ScopeOptions, error) {
	if in == nil {
		return retrieve.ScopeOptions{Mode: retrieve.ScopeGlobal}, nil
	}

	mode := retrieve.ScopeMode(in.Mode)
	if in.Mode == "" {
		switch {
		case len(in.Repositories) > 0:
			mode = retrieve.ScopeRepository
		case len(in.Services) > 0:
			mode = retrieve.ScopeService
		case in.StartRepo != "":
			mode = retrieve.ScopeBoundary
		default:
			mode = retrieve.ScopeGlobal
		}
	}
	switch mode {
	case retrieve.ScopeGlobal, retrieve.ScopeRepository, retrieve.ScopeService, retrieve.ScopeBoundary:
	default:
		return retrieve.ScopeOptions{}, cerrors.Newf(cerrors.ErrCodeUnknownEnum,
			"unknown scope mode %q", in.Mode).
			WithSuggestion("Use one of: global, repository, service, boundary")
	}

	// MaxDepth is literal in the engine; the configured default applies
	// only when the input omits it.
	maxDepth := s.cfg.Search.MaxRepoDepth
	if in.MaxDepth != nil {
		if *in.MaxDepth < 0 {
			return retrieve.ScopeOptions{}, cerrors.Newf(cerrors.ErrCodeOutOfRange,
				"max_depth must be >= 0, got %d", *in.MaxDepth)
		}
		maxDepth = *in.MaxDepth
	}

	return retrieve.ScopeOptions{
		Mode:               mode,
		RepoIDs:            in.Repositories,
		ServiceIDs:         in.Services,
		StartRepo:          in.StartRepo,
		FollowDependencies: in.FollowDependencies,
		MaxDepth:           maxDepth,
		ExcludeRepos:       in.ExcludeRepos,
		ExcludeServices:    in.ExcludeServices,
		ExcludeWorkspaces:  in.ExcludeWorkspaces,
	}, nil
}

// parseAPIType validates an optional api_type filter.
func parseAPIType(raw string) (model.APIType, error) {
	if raw == "" {
		return "", nil
	}
	t := model.APIType(strings.ToLower(raw))
	if !t.Valid() {
		return "", cerrors.Newf(cerrors.ErrCodeUnknownEnum, "unknown api_type %q", raw).
			WithSuggestion("Use one of: rest, graphql, grpc, websocket")
	}
	return t, nil
}

// parseSymbolKinds validates an optional symbol kind filter.
func parseSymbolKinds(raw []string) ([]model.SymbolKind, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	kinds := make([]model.SymbolKind, 0, len(raw))
	for _, r := range raw {
		k := model.SymbolKind(strings.ToLower(r))
		if !k.Valid() {
			return nil, cerrors.Newf(cerrors.ErrCodeUnknownEnum, "unknown symbol kind %q", r).
				WithSuggestion("Use one of: function, class, variable, interface, type, constant, method")
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// preview truncates query text for log lines.
func preview(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// SearchCodebaseInput is the search_codebase input schema.
type SearchCodebaseInput struct {
	Query                      string      `json:"query" jsonschema:"the search query: a natural-language question or a code snippet"`
	Scope                      *ScopeInput `json:"scope,omitempty" jsonschema:"restricts the repositories and services searched"`
	TopFiles                   int         `json:"top_files,omitempty" jsonschema:"maximum files retrieved by the file stage, default 10"`
	MaxChunks                  int         `json:"max_chunks,omitempty" jsonschema:"maximum chunks retrieved by the chunk stage, default 100"`
	APIType                    string      `json:"api_type,omitempty" jsonschema:"restrict endpoint enrichment to one API type: rest, graphql, grpc, websocket"`
	IncludeDeprecated          bool        `json:"include_deprecated,omitempty" jsonschema:"include deprecated endpoints in enrichment"`
	RequireImplementationMatch bool        `json:"require_implementation_match,omitempty" jsonschema:"only report endpoints whose implementation chunk was retrieved"`
}

// SearchCodebaseOutput wraps the assembled retrieval result.
type SearchCodebaseOutput struct {
	Result *retrieve.Result `json:"result"`
}

func (s *Server) handleSearchCodebase(ctx context.Context, in SearchCodebaseInput) (SearchCodebaseOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	scope, err := s.scopeOptions(in.Scope)
	if err != nil {
		return SearchCodebaseOutput{}, err
	}
	apiType, err := parseAPIType(in.APIType)
	if err != nil {
		return SearchCodebaseOutput{}, err
	}

	s.logger.Info("mcp.tool.start",
		slog.String("tool", "search_codebase"),
		slog.String("request_id", requestID),
		slog.String("query", preview(in.Query)),
		slog.String("scope_mode", string(scope.Mode)))

	res, err := s.engine.Search(ctx, in.Query, retrieve.Options{
		Scope:                      scope,
		TopFiles:                   clampLimit(in.TopFiles, 0, 1, maxTopFilesLimit),
		MaxChunks:                  clampLimit(in.MaxChunks, 0, 1, maxChunksLimit),
		APIType:                    apiType,
		IncludeDeprecated:          in.IncludeDeprecated,
		RequireImplementationMatch: in.RequireImplementationMatch,
	})
	if err != nil {
		s.logger.Error("mcp.tool.fail",
			slog.String("tool", "search_codebase"),
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return SearchCodebaseOutput{}, err
	}

	s.logger.Info("mcp.tool.done",
		slog.String("tool", "search_codebase"),
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("chunks", res.TotalChunks()),
		slog.Int("tokens_used", res.TokensUsed))
	return SearchCodebaseOutput{Result: res}, nil
}

func (s *Server) mcpSearchCodebaseHandler(ctx context.Context, _ *mcp.CallToolRequest, in SearchCodebaseInput) (
	*mcp.CallToolResult,
	SearchCodebaseOutput,
	error,
) {
	out, err := s.handleSearchCodebase(ctx, in)
	if err != nil {
		return nil, SearchCodebaseOutput{}, MapError(err)
	}
	return nil, out, nil
}

// SearchReferencesInput is the search_references input schema.
type SearchReferencesInput struct {
	Query     string `json:"query" jsonschema:"the search query"`
	MaxChunks int    `json:"max_chunks,omitempty" jsonschema:"maximum chunks retrieved, default 100"`
}

func (s *Server) handleSearchReferences(ctx context.Context, in SearchReferencesInput) (SearchCodebaseOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	s.logger.Info("mcp.tool.start",
		slog.String("tool", "search_references"),
		slog.String("request_id", requestID),
		slog.String("query", preview(in.Query)))

	// Global scope with References set covers exactly the repository kinds
	// search_codebase excludes.
	res, err := s.engine.Search(ctx, in.Query, retrieve.Options{
		Scope:     retrieve.ScopeOptions{Mode: retrieve.ScopeGlobal, References: true},
		MaxChunks: clampLimit(in.MaxChunks, 0, 1, maxChunksLimit),
	})
	if err != nil {
		s.logger.Error("mcp.tool.fail",
			slog.String("tool", "search_references"),
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return SearchCodebaseOutput{}, err
	}

	s.logger.Info("mcp.tool.done",
		slog.String("tool", "search_references"),
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("chunks", res.TotalChunks()))
	return SearchCodebaseOutput{Result: res}, nil
}

func (s *Server) mcpSearchReferencesHandler(ctx context.Context, _ *mcp.CallToolRequest, in SearchReferencesInput) (
	*mcp.CallToolResult,
	SearchCodebaseOutput,
	error,
) {
	out, err := s.handleSearchReferences(ctx, in)
	if err != nil {
		return nil, SearchCodebaseOutput{}, MapError(err)
	}
	return nil, out, nil
}

// SearchDocumentationInput is the search_documentation input schema.
type SearchDocumentationInput struct {
	Query  string   `json:"query" jsonschema:"the search query"`
	DocIDs []string `json:"doc_ids,omitempty" jsonschema:"restrict to specific documentation sets"`
	Limit  int      `json:"limit,omitempty" jsonschema:"maximum results, default 100"`
}

// SearchDocumentationOutput lists scored documentation chunks.
type SearchDocumentationOutput struct {
	Results []retrieve.DocResult `json:"results"`
	Count   int                  `json:"count"`
}

func (s *Server) handleSearchDocumentation(ctx context.Context, in SearchDocumentationInput) (SearchDocumentationOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	s.logger.Info("mcp.tool.start",
		slog.String("tool", "search_documentation"),
		slog.String("request_id", requestID),
		slog.String("query", preview(in.Query)))

	results, err := s.engine.SearchDocumentation(ctx, in.Query, retrieve.DocOptions{
		DocIDs: in.DocIDs,
		Limit:  clampLimit(in.Limit, 0, 1, maxLookupLimit),
	})
	if err != nil {
		s.logger.Error("mcp.tool.fail",
			slog.String("tool", "search_documentation"),
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return SearchDocumentationOutput{}, err
	}

	s.logger.Info("mcp.tool.done",
		slog.String("tool", "search_documentation"),
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("results", len(results)))
	return SearchDocumentationOutput{Results: results, Count: len(results)}, nil
}

func (s *Server) mcpSearchDocumentationHandler(ctx context.Context, _ *mcp.CallToolRequest, in SearchDocumentationInput) (
	*mcp.CallToolResult,
	SearchDocumentationOutput,
	error,
) {
	out, err := s.handleSearchDocumentation(ctx, in)
	if err != nil {
		return nil, SearchDocumentationOutput{}, MapError(err)
	}
	return nil, out, nil
}

// SearchAPIContractsInput is the search_api_contracts input schema.
type SearchAPIContractsInput struct {
	Query             string   `json:"query" jsonschema:"the search query"`
	Repositories      []string `json:"repositories,omitempty" jsonschema:"restrict to repository IDs"`
	Services          []string `json:"services,omitempty" jsonschema:"restrict to service IDs"`
	APIType           string   `json:"api_type,omitempty" jsonschema:"restrict to one API type: rest, graphql, grpc, websocket"`
	IncludeDeprecated bool     `json:"include_deprecated,omitempty" jsonschema:"include deprecated endpoints"`
	Limit             int      `json:"limit,omitempty" jsonschema:"maximum results, default 50"`
}

// SearchAPIContractsOutput lists scored endpoints. Endpoints keep their
// stored api_type; websocket is reported as websocket, not rest.
type SearchAPIContractsOutput struct {
	Results []retrieve.EndpointResult `json:"results"`
	Count   int                       `json:"count"`
}

func (s *Server) handleSearchAPIContracts(ctx context.Context, in SearchAPIContractsInput) (SearchAPIContractsOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	apiType, err := parseAPIType(in.APIType)
	if err != nil {
		return SearchAPIContractsOutput{}, err
	}

	s.logger.Info("mcp.tool.start",
		slog.String("tool", "search_api_contracts"),
		slog.String("request_id", requestID),
		slog.String("query", preview(in.Query)))

	results, err := s.engine.SearchAPIContracts(ctx, in.Query, retrieve.ContractOptions{
		RepoIDs:           in.Repositories,
		ServiceIDs:        in.Services,
		APIType:           apiType,
		IncludeDeprecated: in.IncludeDeprecated,
		Limit:             clampLimit(in.Limit, 0, 1, maxLookupLimit),
	})
	if err != nil {
		s.logger.Error("mcp.tool.fail",
			slog.String("tool", "search_api_contracts"),
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return SearchAPIContractsOutput{}, err
	}

	s.logger.Info("mcp.tool.done",
		slog.String("tool", "search_api_contracts"),
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("results", len(results)))
	return SearchAPIContractsOutput{Results: results, Count: len(results)}, nil
}

func (s *Server) mcpSearchAPIContractsHandler(ctx context.Context, _ *mcp.CallToolRequest, in SearchAPIContractsInput) (
	*mcp.CallToolResult,
	SearchAPIContractsOutput,
	error,
) {
	out, err := s.handleSearchAPIContracts(ctx, in)
	if err != nil {
		return nil, SearchAPIContractsOutput{}, MapError(err)
	}
	return nil, out, nil
}

// FindSymbolInput is the find_symbol_definition input schema.
type FindSymbolInput struct {
	SymbolName    string   `json:"symbol_name" jsonschema:"the symbol name to look up"`
	Repositories  []string `json:"repositories,omitempty" jsonschema:"restrict to repository IDs"`
	Kinds         []string `json:"kinds,omitempty" jsonschema:"restrict to symbol kinds: function, class, variable, interface, type, constant, method"`
	IncludeUsages bool     `json:"include_usages,omitempty" jsonschema:"also return code chunks referencing the symbol"`
	Limit         int      `json:"limit,omitempty" jsonschema:"maximum usage chunks, default 100"`
}

// FindSymbolOutput wraps the definition lookup result.
type FindSymbolOutput struct {
	Result *retrieve.SymbolResult `json:"result"`
}

func (s *Server) handleFindSymbol(ctx context.Context, in FindSymbolInput) (FindSymbolOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	kinds, err := parseSymbolKinds(in.Kinds)
	if err != nil {
		return FindSymbolOutput{}, err
	}

	s.logger.Info("mcp.tool.start",
		slog.String("tool", "find_symbol_definition"),
		slog.String("request_id", requestID),
		slog.String("symbol", in.SymbolName))

	res, err := s.engine.FindSymbol(ctx, in.SymbolName, retrieve.SymbolOptions{
		RepoIDs:       in.Repositories,
		Kinds:         kinds,
		IncludeUsages: in.IncludeUsages,
		Limit:         clampLimit(in.Limit, 0, 1, maxLookupLimit),
	})
	if err != nil {
		s.logger.Error("mcp.tool.fail",
			slog.String("tool", "find_symbol_definition"),
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return FindSymbolOutput{}, err
	}

	s.logger.Info("mcp.tool.done",
		slog.String("tool", "find_symbol_definition"),
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("definitions", len(res.Definitions)),
		slog.Bool("exact", res.Exact))
	return FindSymbolOutput{Result: res}, nil
}

func (s *Server) mcpFindSymbolHandler(ctx context.Context, _ *mcp.CallToolRequest, in FindSymbolInput) (
	*mcp.CallToolResult,
	FindSymbolOutput,
	error,
) {
	out, err := s.handleFindSymbol(ctx, in)
	if err != nil {
		return nil, FindSymbolOutput{}, MapError(err)
	}
	return nil, out, nil
}
