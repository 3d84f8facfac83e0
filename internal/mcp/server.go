package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cindex-dev/cindex/internal/backend"
	"github.com/cindex-dev/cindex/internal/config"
	"github.com/cindex-dev/cindex/internal/index"
	"github.com/cindex-dev/cindex/internal/retrieve"
	"github.com/cindex-dev/cindex/internal/store"
	"github.com/cindex-dev/cindex/internal/telemetry"
	"github.com/cindex-dev/cindex/pkg/version"
)

// Retriever is the retrieval surface the tool handlers dispatch to.
type Retriever interface {
	Search(ctx context.Context, rawQuery string, opts retrieve.Options) (*retrieve.Result, error)
	SearchDocumentation(ctx context.Context, rawQuery string, opts retrieve.DocOptions) ([]retrieve.DocResult, error)
	SearchAPIContracts(ctx context.Context, rawQuery string, opts retrieve.ContractOptions) ([]retrieve.EndpointResult, error)
	FindSymbol(ctx context.Context, name string, opts retrieve.SymbolOptions) (*retrieve.SymbolResult, error)
	FileContext(ctx context.Context, repoID, path string) (*retrieve.FileContext, error)
	WorkspaceContext(ctx context.Context, repoID, key string) (*retrieve.WorkspaceContext, error)
	ServiceContext(ctx context.Context, key string) (*retrieve.ServiceContext, error)
	CrossWorkspaceUsages(ctx context.Context, repoID, key string, includeIndirect bool) (*retrieve.WorkspaceUsages, error)
	CrossServiceCalls(ctx context.Context, opts retrieve.CallOptions) ([]retrieve.OutboundCall, error)
	PurgeCaches()
}

var _ Retriever = (*retrieve.Engine)(nil)

// indexRunner is the slice of the indexing pipeline the tools use. Runners
// are built per call so each run can stream progress to its own session.
type indexRunner interface {
	Run(ctx context.Context, req index.Request) (*index.Stats, error)
	RunDocumentation(ctx context.Context, paths []string, name string) ([]index.DocStats, error)
}

// Dependencies contains the injected dependencies for Server.
type Dependencies struct {
	// Engine answers search and context tools (required).
	Engine Retriever

	// Store answers listing tools and executes deletions (required).
	Store store.Store

	// Embedder and Generator feed per-call indexing runners. Embedder is
	// required; a nil Generator pins rule-based summaries.
	Embedder  backend.Embedder
	Generator backend.Generator

	// Config is the loaded configuration (required).
	Config *config.Config

	// Logger for structured server logs. Nil falls back to slog.Default.
	Logger *slog.Logger

	// LockDir overrides where per-repo indexing locks live.
	LockDir string
}

// Server exposes the retrieval engine and indexing pipeline as MCP tools
// over stdio.
type Server struct {
	mcp    *mcp.Server
	engine Retriever
	store  store.Store
	cfg    *config.Config
	logger *slog.Logger

	embedder  backend.Embedder
	generator backend.Generator
	lockDir   string

	// newRunner builds the per-call indexing runner. Tests swap it out.
	newRunner func(progress index.ProgressFunc) (indexRunner, error)

	// metrics is the optional query telemetry collector (set via SetMetrics).
	metrics *telemetry.QueryMetrics

	mu sync.RWMutex
}

// NewServer wires the tool surface. The MCP server advertises capabilities
// inferred from the registered tools and resources.
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Engine == nil {
		return nil, errors.New("retrieval engine is required")
	}
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if deps.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if deps.Config == nil {
		return nil, errors.New("config is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		engine:    deps.Engine,
		store:     deps.Store,
		cfg:       deps.Config,
		logger:    logger,
		embedder:  deps.Embedder,
		generator: deps.Generator,
		lockDir:   deps.LockDir,
	}
	s.newRunner = s.buildRunner

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "cindex",
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()

	return s, nil
}

// buildRunner is the production runner factory.
func (s *Server) buildRunner(progress index.ProgressFunc) (indexRunner, error) {
	return index.NewRunner(index.Dependencies{
		Store:     s.store,
		Embedder:  s.embedder,
		Generator: s.generator,
		Config:    s.cfg,
		Logger:    s.logger,
		Progress:  progress,
		LockDir:   s.lockDir,
	})
}

// SetMetrics sets the query telemetry collector and registers the
// query_metrics resource exposing its snapshot.
func (s *Server) SetMetrics(m *telemetry.QueryMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m

	if m != nil {
		s.registerQueryMetricsResource()
	}
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "cindex", version.Version
}

// Serve runs the server over stdio until the context is canceled. Stdout
// and stderr carry JSON-RPC; logs must already be routed to a file.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp.serve.start", slog.String("transport", "stdio"))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp.serve.stop", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp.serve.stop")
	return nil
}

// registerTools registers the tool surface. Tool names are part of the
// protocol contract; renames break clients.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_codebase",
		Description: "Primary semantic code search across all indexed repositories. Runs the full retrieval pipeline: hybrid vector plus keyword search, symbol resolution, import-chain expansion, API enrichment, and token-budgeted context assembly. Requires query; accepts a scope to narrow by repository, service, or dependency boundary.",
	}, s.mcpSearchCodebaseHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_references",
		Description: "Semantic search restricted to reference and documentation repositories (library sources, vendored upstreams). The complement of search_codebase, which never returns these kinds. Requires query.",
	}, s.mcpSearchReferencesHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_documentation",
		Description: "Hybrid search over indexed markdown documentation sets. Results carry heading paths so matches stay anchored in the document structure. Requires query; doc_ids narrows to specific sets.",
	}, s.mcpSearchDocumentationHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_api_contracts",
		Description: "Semantic search over detected API endpoints (rest, graphql, grpc, websocket) with similarity scores. Requires query; filters by repository, service, api_type, and deprecation.",
	}, s.mcpSearchAPIContractsHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "find_symbol_definition",
		Description: "Locate definitions of a symbol by exact name, falling back to substring matching. Returns all matching definitions ordered by name and file path; include_usages adds code chunks that reference the symbol. Requires symbol_name.",
	}, s.mcpFindSymbolHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_file_context",
		Description: "Full context of one indexed file: its chunks, the files it imports, and the files importing it. Requires file_path; repo_id disambiguates when the path exists in several repositories.",
	}, s.mcpFileContextHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_workspace_context",
		Description: "One monorepo workspace with its internal dependency edges: the workspaces it depends on, the workspaces depending on it, and its file count. Requires workspace_id or package_name.",
	}, s.mcpWorkspaceContextHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_service_context",
		Description: "One service with its API endpoints and detected outbound calls to other services. Requires service_id (a service name also resolves).",
	}, s.mcpServiceContextHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_repository",
		Description: "Index or incrementally re-index a repository from a local path. Emits structured progress notifications while running. Requires repo_path; kind classifies the repository (monolithic, monorepo, microservice, library, reference, documentation).",
	}, s.mcpIndexRepositoryHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_documentation",
		Description: "Index one or more markdown collections as documentation sets searchable via search_documentation. Requires paths.",
	}, s.mcpIndexDocumentationHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_indexed_repos",
		Description: "Enumerate indexed repositories with their kind, version, last indexing time, and per-repo counts of files, chunks, symbols, workspaces, services, and endpoints.",
	}, s.mcpListReposHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_workspaces",
		Description: "Enumerate detected monorepo workspaces, optionally restricted to one repository.",
	}, s.mcpListWorkspacesHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_services",
		Description: "Enumerate detected services, optionally restricted to one repository.",
	}, s.mcpListServicesHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_documentation",
		Description: "Enumerate indexed documentation sets with their chunk counts.",
	}, s.mcpListDocumentationHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "find_cross_workspace_usages",
		Description: "Trace which files outside a workspace import it, by package name or relative path. Requires workspace_id or package_name.",
	}, s.mcpCrossWorkspaceUsagesHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "find_cross_service_calls",
		Description: "Trace outbound HTTP and RPC call sites between services and match them against known endpoints. Filters by repositories or a single service; cross_service_only drops calls a service makes to itself.",
	}, s.mcpCrossServiceCallsHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete_repository",
		Description: "Remove repositories and all their indexed data (files, chunks, symbols, workspaces, services, endpoints). Destructive; requires repo_ids and confirm=true.",
	}, s.mcpDeleteRepositoryHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete_documentation",
		Description: "Remove documentation sets and their chunks. Destructive; requires doc_ids and confirm=true.",
	}, s.mcpDeleteDocumentationHandler)

	s.logger.Info("mcp.tools.registered", slog.Int("count", 18))
}

// clampLimit bounds a client-supplied limit, substituting the default when
// the input is unset or non-positive.
func clampLimit(limit, defaultVal, min, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
