package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/cindex-dev/cindex/internal/backend"
	"github.com/cindex-dev/cindex/internal/cerrors"
	"github.com/cindex-dev/cindex/internal/config"
	"github.com/cindex-dev/cindex/internal/index"
	"github.com/cindex-dev/cindex/internal/model"
	"github.com/cindex-dev/cindex/internal/retrieve"
	"github.com/cindex-dev/cindex/internal/store"
)

// mockRetriever implements Retriever with overridable functions. Unset
// functions return empty results.
type mockRetriever struct {
	SearchFn               func(ctx context.Context, rawQuery string, opts retrieve.Options) (*retrieve.Result, error)
	SearchDocumentationFn  func(ctx context.Context, rawQuery string, opts retrieve.DocOptions) ([]retrieve.DocResult, error)
	SearchAPIContractsFn   func(ctx context.Context, rawQuery string, opts retrieve.ContractOptions) ([]retrieve.EndpointResult, error)
	FindSymbolFn           func(ctx context.Context, name string, opts retrieve.SymbolOptions) (*retrieve.SymbolResult, error)
	FileContextFn          func(ctx context.Context, repoID, path string) (*retrieve.FileContext, error)
	WorkspaceContextFn     func(ctx context.Context, repoID, key string) (*retrieve.WorkspaceContext, error)
	ServiceContextFn       func(ctx context.Context, key string) (*retrieve.ServiceContext, error)
	CrossWorkspaceUsagesFn func(ctx context.Context, repoID, key string, includeIndirect bool) (*retrieve.WorkspaceUsages, error)
	CrossServiceCallsFn    func(ctx context.Context, opts retrieve.CallOptions) ([]retrieve.OutboundCall, error)

	mu     sync.Mutex
	purges int
}

var _ Retriever = (*mockRetriever)(nil)

func (m *mockRetriever) Search(ctx context.Context, rawQuery string, opts retrieve.Options) (*retrieve.Result, error) {
	if m.SearchFn != nil {
		return m.SearchFn(ctx, rawQuery, opts)
	}
	return &retrieve.Result{}, nil
}

func (m *mockRetriever) SearchDocumentation(ctx context.Context, rawQuery string, opts retrieve.DocOptions) ([]retrieve.DocResult, error) {
	if m.SearchDocumentationFn != nil {
		return m.SearchDocumentationFn(ctx, rawQuery, opts)
	}
	return nil, nil
}

func (m *mockRetriever) SearchAPIContracts(ctx context.Context, rawQuery string, opts retrieve.ContractOptions) ([]retrieve.EndpointResult, error) {
	if m.SearchAPIContractsFn != nil {
		return m.SearchAPIContractsFn(ctx, rawQuery, opts)
	}
	return nil, nil
}

func (m *mockRetriever) FindSymbol(ctx context.Context, name string, opts retrieve.SymbolOptions) (*retrieve.SymbolResult, error) {
	if m.FindSymbolFn != nil {
		return m.FindSymbolFn(ctx, name, opts)
	}
	return &retrieve.SymbolResult{Name: name}, nil
}

func (m *mockRetriever) FileContext(ctx context.Context, repoID, path string) (*retrieve.FileContext, error) {
	if m.FileContextFn != nil {
		return m.FileContextFn(ctx, repoID, path)
	}
	return &retrieve.FileContext{}, nil
}

func (m *mockRetriever) WorkspaceContext(ctx context.Context, repoID, key string) (*retrieve.WorkspaceContext, error) {
	if m.WorkspaceContextFn != nil {
		return m.WorkspaceContextFn(ctx, repoID, key)
	}
	return &retrieve.WorkspaceContext{}, nil
}

func (m *mockRetriever) ServiceContext(ctx context.Context, key string) (*retrieve.ServiceContext, error) {
	if m.ServiceContextFn != nil {
		return m.ServiceContextFn(ctx, key)
	}
	return &retrieve.ServiceContext{}, nil
}

func (m *mockRetriever) CrossWorkspaceUsages(ctx context.Context, repoID, key string, includeIndirect bool) (*retrieve.WorkspaceUsages, error) {
	if m.CrossWorkspaceUsagesFn != nil {
		return m.CrossWorkspaceUsagesFn(ctx, repoID, key, includeIndirect)
	}
	return &retrieve.WorkspaceUsages{}, nil
}

func (m *mockRetriever) CrossServiceCalls(ctx context.Context, opts retrieve.CallOptions) ([]retrieve.OutboundCall, error) {
	if m.CrossServiceCallsFn != nil {
		return m.CrossServiceCallsFn(ctx, opts)
	}
	return nil, nil
}

func (m *mockRetriever) PurgeCaches() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purges++
}

func (m *mockRetriever) purgeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purges
}

// mockStore implements store.Store over in-memory fixtures. Listing and
// deletion back the admin tools; search methods are unused here and return
// empty results.
type mockStore struct {
	repos      []model.Repository
	stats      map[string]*store.RepoStats
	workspaces map[string][]model.Workspace
	services   map[string][]model.Service
	docSets    []model.DocumentationSet
	files      map[string]map[string]*model.File // repoID -> path -> file
	fileErr    error                             // overrides GetFile when set

	mu          sync.Mutex
	deletedRepo []string
	deletedDocs []string
}

var _ store.Store = (*mockStore)(nil)

func newMockStore() *mockStore {
	return &mockStore{
		stats:      make(map[string]*store.RepoStats),
		workspaces: make(map[string][]model.Workspace),
		services:   make(map[string][]model.Service),
		files:      make(map[string]map[string]*model.File),
	}
}

func (m *mockStore) addRepo(r model.Repository, stats *store.RepoStats) {
	m.repos = append(m.repos, r)
	if stats == nil {
		stats = &store.RepoStats{RepoID: r.RepoID}
	}
	m.stats[r.RepoID] = stats
}

func (m *mockStore) addFile(repoID string, f model.File) {
	if m.files[repoID] == nil {
		m.files[repoID] = make(map[string]*model.File)
	}
	f.RepoID = repoID
	m.files[repoID][f.Path] = &f
}

func (m *mockStore) GetRepository(_ context.Context, repoID string) (*model.Repository, error) {
	for _, r := range m.repos {
		if r.RepoID == repoID {
			repo := r
			return &repo, nil
		}
	}
	return nil, cerrNotFound("repository %q is not indexed", repoID)
}

func (m *mockStore) GetRepositoryByPath(_ context.Context, rootPath string) (*model.Repository, error) {
	for _, r := range m.repos {
		if r.RootPath == rootPath {
			repo := r
			return &repo, nil
		}
	}
	return nil, cerrNotFound("no indexed repository at %q", rootPath)
}

func (m *mockStore) ListRepositories(_ context.Context) ([]model.Repository, error) {
	return append([]model.Repository(nil), m.repos...), nil
}

func (m *mockStore) DeleteRepository(_ context.Context, repoID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedRepo = append(m.deletedRepo, repoID)
	return nil
}

func (m *mockStore) RepositoryStats(_ context.Context, repoID string) (*store.RepoStats, error) {
	if st, ok := m.stats[repoID]; ok {
		return st, nil
	}
	return nil, cerrNotFound("repository %q is not indexed", repoID)
}

func (m *mockStore) GetFile(_ context.Context, repoID, path string) (*model.File, error) {
	if m.fileErr != nil {
		return nil, m.fileErr
	}
	if f, ok := m.files[repoID][path]; ok {
		return f, nil
	}
	return nil, cerrNotFound("file %q is not indexed in repository %q", path, repoID)
}

func (m *mockStore) FilesByPaths(_ context.Context, _ string, _ []string) ([]model.File, error) {
	return nil, nil
}

func (m *mockStore) ListFiles(_ context.Context, _ string) ([]model.File, error) { return nil, nil }

func (m *mockStore) FileHashes(_ context.Context, _ string) (map[string]string, error) {
	return nil, nil
}

func (m *mockStore) ChunksByFile(_ context.Context, _, _ string) ([]model.Chunk, error) {
	return nil, nil
}

func (m *mockStore) ChunksByIDs(_ context.Context, _ []string) ([]model.Chunk, error) {
	return nil, nil
}

func (m *mockStore) SymbolsByNames(_ context.Context, _ []string, _ []string) ([]model.Symbol, error) {
	return nil, nil
}

func (m *mockStore) SearchSymbols(_ context.Context, _ []string, _ string, _ []model.SymbolKind, _ int) ([]model.Symbol, error) {
	return nil, nil
}

func (m *mockStore) WorkspacesByRepo(_ context.Context, repoID string) ([]model.Workspace, error) {
	return m.workspaces[repoID], nil
}

func (m *mockStore) ServicesByRepo(_ context.Context, repoID string) ([]model.Service, error) {
	return m.services[repoID], nil
}

func (m *mockStore) Endpoints(_ context.Context, _ store.EndpointFilter) ([]model.APIEndpoint, error) {
	return nil, nil
}

func (m *mockStore) CrossRepoDependencies(_ context.Context, _ string) ([]model.CrossRepoDependency, error) {
	return nil, nil
}

func (m *mockStore) SearchFiles(_ context.Context, _ store.SearchQuery) ([]store.FileHit, error) {
	return nil, nil
}

func (m *mockStore) SearchChunks(_ context.Context, _ store.SearchQuery) ([]store.ChunkHit, error) {
	return nil, nil
}

func (m *mockStore) SearchEndpoints(_ context.Context, _ store.EndpointSearchQuery) ([]store.EndpointHit, error) {
	return nil, nil
}

func (m *mockStore) SearchDocs(_ context.Context, _ store.DocSearchQuery) ([]store.DocHit, error) {
	return nil, nil
}

func (m *mockStore) SaveDocumentation(_ context.Context, _ *model.DocumentationSet, _ []model.DocumentationChunk) error {
	return nil
}

func (m *mockStore) ListDocumentation(_ context.Context) ([]model.DocumentationSet, error) {
	return append([]model.DocumentationSet(nil), m.docSets...), nil
}

func (m *mockStore) DeleteDocumentation(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedDocs = append(m.deletedDocs, docID)
	return nil
}

func (m *mockStore) BeginIndex(_ context.Context, _ string) (store.IndexWriter, error) {
	return nil, errors.New("not supported")
}

func (m *mockStore) Migrate(_ context.Context) error { return nil }
func (m *mockStore) Ping(_ context.Context) error    { return nil }
func (m *mockStore) Close()                          {}

func (m *mockStore) deletedRepos() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deletedRepo...)
}

func (m *mockStore) deletedDocIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deletedDocs...)
}

func cerrNotFound(format string, args ...any) error {
	return cerrors.Newf(cerrors.ErrCodeStoreNotFound, format, args...)
}

// mockRunner implements indexRunner.
type mockRunner struct {
	RunFn    func(ctx context.Context, req index.Request) (*index.Stats, error)
	RunDocFn func(ctx context.Context, paths []string, name string) ([]index.DocStats, error)
}

func (m *mockRunner) Run(ctx context.Context, req index.Request) (*index.Stats, error) {
	if m.RunFn != nil {
		return m.RunFn(ctx, req)
	}
	return &index.Stats{RepoID: req.RepoID}, nil
}

func (m *mockRunner) RunDocumentation(ctx context.Context, paths []string, name string) ([]index.DocStats, error) {
	if m.RunDocFn != nil {
		return m.RunDocFn(ctx, paths, name)
	}
	return nil, nil
}

// fakeSession records the logging notifications a run emits.
type fakeSession struct {
	mu     sync.Mutex
	params []*mcp.LoggingMessageParams
	err    error
}

func (f *fakeSession) Log(_ context.Context, params *mcp.LoggingMessageParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, params)
	return f.err
}

func (f *fakeSession) logged() []*mcp.LoggingMessageParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mcp.LoggingMessageParams(nil), f.params...)
}

// newTestServer builds a server over the mocks with a discarding logger.
func newTestServer(t *testing.T, engine *mockRetriever, st *mockStore) *Server {
	t.Helper()
	if engine == nil {
		engine = &mockRetriever{}
	}
	if st == nil {
		st = newMockStore()
	}
	srv, err := NewServer(Dependencies{
		Engine:   engine,
		Store:    st,
		Embedder: backend.NewStaticEmbedder(8),
		Config:   config.New(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return srv
}
