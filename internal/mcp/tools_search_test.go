package mcp

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cindex-dev/cindex/internal/cerrors"
	"github.com/cindex-dev/cindex/internal/model"
	"github.com/cindex-dev/cindex/internal/retrieve"
)

func TestScopeOptions_NilMeansGlobal(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	scope, err := srv.scopeOptions(nil)

	require.NoError(t, err)
	assert.Equal(t, retrieve.ScopeGlobal, scope.Mode)
}

func TestScopeOptions_ModeInference(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	tests := []struct {
		name string
		in   *ScopeInput
		want retrieve.ScopeMode
	}{
		{"repositories imply repository", &ScopeInput{Repositories: []string{"api"}}, retrieve.ScopeRepository},
		{"services imply service", &ScopeInput{Services: []string{"billing"}}, retrieve.ScopeService},
		{"start_repo implies boundary", &ScopeInput{StartRepo: "api"}, retrieve.ScopeBoundary},
		{"empty implies global", &ScopeInput{}, retrieve.ScopeGlobal},
		{"explicit mode wins", &ScopeInput{Mode: "global", Repositories: []string{"api"}}, retrieve.ScopeGlobal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope, err := srv.scopeOptions(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, scope.Mode)
		})
	}
}

func TestScopeOptions_UnknownModeRejected(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	_, err := srv.scopeOptions(&ScopeInput{Mode: "galaxy"})

	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeUnknownEnum, cerrors.GetCode(err))
	assert.Contains(t, err.Error(), "galaxy")
}

func TestScopeOptions_MaxDepth(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	// Omitted depth falls back to the configured default.
	scope, err := srv.scopeOptions(&ScopeInput{StartRepo: "api"})
	require.NoError(t, err)
	assert.Equal(t, srv.cfg.Search.MaxRepoDepth, scope.MaxDepth)

	// Zero is literal: only the start repo.
	zero := 0
	scope, err = srv.scopeOptions(&ScopeInput{StartRepo: "api", MaxDepth: &zero})
	require.NoError(t, err)
	assert.Equal(t, 0, scope.MaxDepth)

	neg := -1
	_, err = srv.scopeOptions(&ScopeInput{StartRepo: "api", MaxDepth: &neg})
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeOutOfRange, cerrors.GetCode(err))
}

func TestScopeOptions_PassesSelectorsThrough(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	scope, err := srv.scopeOptions(&ScopeInput{
		Mode:               "boundary",
		StartRepo:          "api",
		FollowDependencies: true,
		ExcludeRepos:       []string{"legacy"},
		ExcludeServices:    []string{"cron"},
		ExcludeWorkspaces:  []string{"tooling"},
	})

	require.NoError(t, err)
	assert.Equal(t, "api", scope.StartRepo)
	assert.True(t, scope.FollowDependencies)
	assert.Equal(t, []string{"legacy"}, scope.ExcludeRepos)
	assert.Equal(t, []string{"cron"}, scope.ExcludeServices)
	assert.Equal(t, []string{"tooling"}, scope.ExcludeWorkspaces)
}

func TestParseAPIType(t *testing.T) {
	apiType, err := parseAPIType("")
	require.NoError(t, err)
	assert.Equal(t, model.APIType(""), apiType)

	apiType, err = parseAPIType("REST")
	require.NoError(t, err)
	assert.Equal(t, model.APITypeRest, apiType)

	_, err = parseAPIType("soap")
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeUnknownEnum, cerrors.GetCode(err))
}

func TestParseSymbolKinds(t *testing.T) {
	kinds, err := parseSymbolKinds(nil)
	require.NoError(t, err)
	assert.Nil(t, kinds)

	kinds, err = parseSymbolKinds([]string{"Function", "method"})
	require.NoError(t, err)
	assert.Equal(t, []model.SymbolKind{model.SymbolKindFunction, model.SymbolKindMethod}, kinds)

	_, err = parseSymbolKinds([]string{"banana"})
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeUnknownEnum, cerrors.GetCode(err))
}

func TestPreview_TruncatesLongQueries(t *testing.T) {
	short := "how does auth work"
	assert.Equal(t, short, preview(short))

	long := strings.Repeat("q", 200)
	got := preview(long)
	assert.Len(t, got, 123)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestHandleSearchCodebase_PassesOptions(t *testing.T) {
	var gotQuery string
	var gotOpts retrieve.Options
	engine := &mockRetriever{
		SearchFn: func(_ context.Context, rawQuery string, opts retrieve.Options) (*retrieve.Result, error) {
			gotQuery = rawQuery
			gotOpts = opts
			return &retrieve.Result{TokensUsed: 1200}, nil
		},
	}
	srv := newTestServer(t, engine, nil)

	out, err := srv.handleSearchCodebase(context.Background(), SearchCodebaseInput{
		Query:             "parse config",
		Scope:             &ScopeInput{Repositories: []string{"api"}},
		TopFiles:          15,
		MaxChunks:         9999,
		APIType:           "grpc",
		IncludeDeprecated: true,
	})

	require.NoError(t, err)
	assert.Equal(t, "parse config", gotQuery)
	assert.Equal(t, retrieve.ScopeRepository, gotOpts.Scope.Mode)
	assert.Equal(t, []string{"api"}, gotOpts.Scope.RepoIDs)
	assert.Equal(t, 15, gotOpts.TopFiles)
	assert.Equal(t, maxChunksLimit, gotOpts.MaxChunks)
	assert.Equal(t, model.APITypeGRPC, gotOpts.APIType)
	assert.True(t, gotOpts.IncludeDeprecated)
	assert.Equal(t, 1200, out.Result.TokensUsed)
}

func TestHandleSearchCodebase_UnsetLimitsDeferToEngine(t *testing.T) {
	var gotOpts retrieve.Options
	engine := &mockRetriever{
		SearchFn: func(_ context.Context, _ string, opts retrieve.Options) (*retrieve.Result, error) {
			gotOpts = opts
			return &retrieve.Result{}, nil
		},
	}
	srv := newTestServer(t, engine, nil)

	_, err := srv.handleSearchCodebase(context.Background(), SearchCodebaseInput{Query: "q"})

	require.NoError(t, err)
	assert.Equal(t, 0, gotOpts.TopFiles)
	assert.Equal(t, 0, gotOpts.MaxChunks)
}

func TestHandleSearchCodebase_BadScopeSkipsEngine(t *testing.T) {
	called := false
	engine := &mockRetriever{
		SearchFn: func(_ context.Context, _ string, _ retrieve.Options) (*retrieve.Result, error) {
			called = true
			return &retrieve.Result{}, nil
		},
	}
	srv := newTestServer(t, engine, nil)

	_, err := srv.handleSearchCodebase(context.Background(), SearchCodebaseInput{
		Query: "q",
		Scope: &ScopeInput{Mode: "nope"},
	})

	require.Error(t, err)
	assert.False(t, called)
}

func TestHandleSearchCodebase_EngineErrorPropagates(t *testing.T) {
	engine := &mockRetriever{
		SearchFn: func(_ context.Context, _ string, _ retrieve.Options) (*retrieve.Result, error) {
			return nil, cerrors.New(cerrors.ErrCodeQueryEmpty, "query is empty", nil)
		},
	}
	srv := newTestServer(t, engine, nil)

	_, err := srv.handleSearchCodebase(context.Background(), SearchCodebaseInput{})

	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeQueryEmpty, cerrors.GetCode(err))
}

func TestMCPSearchCodebaseHandler_MapsErrors(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	_, _, err := srv.mcpSearchCodebaseHandler(context.Background(), nil, SearchCodebaseInput{
		Query: "q",
		Scope: &ScopeInput{Mode: "nope"},
	})

	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
	assert.Equal(t, cerrors.ErrCodeUnknownEnum, mcpErr.Data["code"])
}

func TestHandleSearchReferences_ForcesReferenceScope(t *testing.T) {
	var gotOpts retrieve.Options
	engine := &mockRetriever{
		SearchFn: func(_ context.Context, _ string, opts retrieve.Options) (*retrieve.Result, error) {
			gotOpts = opts
			return &retrieve.Result{}, nil
		},
	}
	srv := newTestServer(t, engine, nil)

	_, err := srv.handleSearchReferences(context.Background(), SearchReferencesInput{
		Query:     "lru eviction",
		MaxChunks: 50,
	})

	require.NoError(t, err)
	assert.Equal(t, retrieve.ScopeGlobal, gotOpts.Scope.Mode)
	assert.True(t, gotOpts.Scope.References)
	assert.Equal(t, 50, gotOpts.MaxChunks)
}

func TestHandleSearchDocumentation_ReturnsCount(t *testing.T) {
	engine := &mockRetriever{
		SearchDocumentationFn: func(_ context.Context, _ string, opts retrieve.DocOptions) ([]retrieve.DocResult, error) {
			assert.Equal(t, []string{"doc-1"}, opts.DocIDs)
			return []retrieve.DocResult{
				{Score: 0.9},
				{Score: 0.7},
			}, nil
		},
	}
	srv := newTestServer(t, engine, nil)

	out, err := srv.handleSearchDocumentation(context.Background(), SearchDocumentationInput{
		Query:  "setup",
		DocIDs: []string{"doc-1"},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, out.Count)
	assert.Len(t, out.Results, 2)
}

func TestHandleSearchAPIContracts_ValidatesAPIType(t *testing.T) {
	called := false
	engine := &mockRetriever{
		SearchAPIContractsFn: func(_ context.Context, _ string, _ retrieve.ContractOptions) ([]retrieve.EndpointResult, error) {
			called = true
			return nil, nil
		},
	}
	srv := newTestServer(t, engine, nil)

	_, err := srv.handleSearchAPIContracts(context.Background(), SearchAPIContractsInput{
		Query:   "create user",
		APIType: "soap",
	})

	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeUnknownEnum, cerrors.GetCode(err))
	assert.False(t, called)
}

func TestHandleSearchAPIContracts_PassesFilters(t *testing.T) {
	var gotOpts retrieve.ContractOptions
	engine := &mockRetriever{
		SearchAPIContractsFn: func(_ context.Context, _ string, opts retrieve.ContractOptions) ([]retrieve.EndpointResult, error) {
			gotOpts = opts
			return []retrieve.EndpointResult{{Score: 0.8}}, nil
		},
	}
	srv := newTestServer(t, engine, nil)

	out, err := srv.handleSearchAPIContracts(context.Background(), SearchAPIContractsInput{
		Query:             "create user",
		Repositories:      []string{"api"},
		Services:          []string{"users"},
		APIType:           "rest",
		IncludeDeprecated: true,
		Limit:             25,
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"api"}, gotOpts.RepoIDs)
	assert.Equal(t, []string{"users"}, gotOpts.ServiceIDs)
	assert.Equal(t, model.APITypeRest, gotOpts.APIType)
	assert.True(t, gotOpts.IncludeDeprecated)
	assert.Equal(t, 25, gotOpts.Limit)
	assert.Equal(t, 1, out.Count)
}

func TestHandleFindSymbol_ValidatesKinds(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	_, err := srv.handleFindSymbol(context.Background(), FindSymbolInput{
		SymbolName: "NewServer",
		Kinds:      []string{"gadget"},
	})

	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeUnknownEnum, cerrors.GetCode(err))
}

func TestHandleFindSymbol_PassesOptions(t *testing.T) {
	var gotName string
	var gotOpts retrieve.SymbolOptions
	engine := &mockRetriever{
		FindSymbolFn: func(_ context.Context, name string, opts retrieve.SymbolOptions) (*retrieve.SymbolResult, error) {
			gotName = name
			gotOpts = opts
			return &retrieve.SymbolResult{Name: name, Exact: true}, nil
		},
	}
	srv := newTestServer(t, engine, nil)

	out, err := srv.handleFindSymbol(context.Background(), FindSymbolInput{
		SymbolName:    "NewServer",
		Repositories:  []string{"api"},
		Kinds:         []string{"function", "method"},
		IncludeUsages: true,
		Limit:         30,
	})

	require.NoError(t, err)
	assert.Equal(t, "NewServer", gotName)
	assert.Equal(t, []string{"api"}, gotOpts.RepoIDs)
	assert.Equal(t, []model.SymbolKind{model.SymbolKindFunction, model.SymbolKindMethod}, gotOpts.Kinds)
	assert.True(t, gotOpts.IncludeUsages)
	assert.Equal(t, 30, gotOpts.Limit)
	assert.True(t, out.Result.Exact)
}
