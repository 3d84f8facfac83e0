package retrieve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cindex-dev/cindex/internal/cerrors"
	"github.com/cindex-dev/cindex/internal/model"
	"github.com/cindex-dev/cindex/internal/store"
)

func TestSearchDocumentationFiltersBySet(t *testing.T) {
	st := newSearchStore()
	st.docHits = []store.DocHit{
		{Chunk: model.DocumentationChunk{ChunkID: "d1", DocID: "react", Content: "hooks run on render"}, Score: 0.9},
		{Chunk: model.DocumentationChunk{ChunkID: "d2", DocID: "vue", Content: "composition api"}, Score: 0.8},
		{Chunk: model.DocumentationChunk{ChunkID: "d3", DocID: "react", Content: "legacy context"}, Score: 0.2},
	}
	e := newTestEngine(t, st)

	out, err := e.SearchDocumentation(context.Background(), "how do hooks work?", DocOptions{DocIDs: []string{"react"}})
	require.NoError(t, err)

	// d2 is outside the requested set; d3 falls under the chunk threshold.
	require.Len(t, out, 1)
	assert.Equal(t, "d1", out[0].Chunk.ChunkID)
	assert.Equal(t, 0.9, out[0].Score)

	qs := st.docQueryLog()
	require.Len(t, qs, 1)
	assert.Equal(t, []string{"react"}, qs[0].DocIDs)
	assert.Equal(t, e.cfg.Search.ChunkSimilarityThreshold, qs[0].Threshold)
	assert.Equal(t, e.cfg.Search.MaxChunks, qs[0].Limit)
	assert.Equal(t, "how do hooks work", qs[0].Text)
	assert.NotEmpty(t, qs[0].Vector)
}

func TestSearchAPIContractsReportsScores(t *testing.T) {
	st := newSearchStore()
	st.endpointHits = []store.EndpointHit{
		{Endpoint: model.APIEndpoint{EndpointID: "ep1", ServiceID: "svc-a", APIType: model.APITypeRest, Method: "GET", Path: "/api/users"}, Score: 0.9},
		{Endpoint: model.APIEndpoint{EndpointID: "ep2", ServiceID: "svc-a", APIType: model.APITypeRest, Method: "POST", Path: "/api/users"}, Score: 0.5},
	}
	e := newTestEngine(t, st)

	opts := ContractOptions{ServiceIDs: []string{"svc-a"}, APIType: model.APITypeRest}
	out, err := e.SearchAPIContracts(context.Background(), "user listing endpoint", opts)
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, "ep1", out[0].Endpoint.EndpointID)
	assert.Equal(t, 0.9, out[0].Score)

	qs := st.endpointQueryLog()
	require.Len(t, qs, 1)
	assert.Equal(t, []string{"svc-a"}, qs[0].ServiceIDs)
	assert.Equal(t, model.APITypeRest, qs[0].APIType)
	assert.Equal(t, e.cfg.Search.APISimilarityThreshold, qs[0].Threshold)
	assert.Equal(t, e.cfg.Search.MaxEndpoints, qs[0].Limit)

	// Contract search reports scores, so it never reuses the endpoint cache.
	_, err = e.SearchAPIContracts(context.Background(), "user listing endpoint", opts)
	require.NoError(t, err)
	assert.Len(t, st.endpointQueryLog(), 2)
}

func TestFindSymbolRequiresName(t *testing.T) {
	e := newTestEngine(t, newSearchStore())

	_, err := e.FindSymbol(context.Background(), "   ", SymbolOptions{})
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeMissingField, cerrors.GetCode(err))
}

func TestFindSymbolExactMatch(t *testing.T) {
	st := newSearchStore()
	st.addRepo(testRepo("app", model.RepoKindMonolithic))
	st.addRepo(testRepo("oss", model.RepoKindReference))
	st.addSymbols("app",
		model.Symbol{SymbolID: "s1", RepoID: "app", Name: "ParseToken", Kind: model.SymbolKindFunction, FilePath: "src/auth.ts", Definition: "func ParseToken()"},
		model.Symbol{SymbolID: "s2", RepoID: "app", Name: "ParseToken", Kind: model.SymbolKindMethod, FilePath: "src/session.ts", Definition: "method"},
	)
	st.addSymbols("oss",
		model.Symbol{SymbolID: "s3", RepoID: "oss", Name: "ParseToken", Kind: model.SymbolKindFunction, FilePath: "pkg/auth.ts"},
	)
	e := newTestEngine(t, st)

	res, err := e.FindSymbol(context.Background(), "ParseToken", SymbolOptions{})
	require.NoError(t, err)
	assert.True(t, res.Exact)
	// The reference repo sits outside the default scope.
	require.Len(t, res.Definitions, 2)
	assert.Equal(t, "src/auth.ts", res.Definitions[0].FilePath)
	assert.Equal(t, "src/session.ts", res.Definitions[1].FilePath)
	assert.Empty(t, res.Usages)

	res, err = e.FindSymbol(context.Background(), "ParseToken", SymbolOptions{
		Kinds: []model.SymbolKind{model.SymbolKindMethod},
	})
	require.NoError(t, err)
	assert.True(t, res.Exact)
	require.Len(t, res.Definitions, 1)
	assert.Equal(t, "s2", res.Definitions[0].SymbolID)
}

func TestFindSymbolSubstringFallback(t *testing.T) {
	st := newSearchStore()
	st.addRepo(testRepo("app", model.RepoKindMonolithic))
	st.addSymbols("app",
		model.Symbol{SymbolID: "s1", RepoID: "app", Name: "ParseToken", Kind: model.SymbolKindFunction, FilePath: "src/auth.ts"},
		model.Symbol{SymbolID: "s2", RepoID: "app", Name: "formatDate", Kind: model.SymbolKindFunction, FilePath: "src/time.ts"},
	)
	e := newTestEngine(t, st)

	res, err := e.FindSymbol(context.Background(), "parse", SymbolOptions{})
	require.NoError(t, err)
	assert.False(t, res.Exact)
	require.Len(t, res.Definitions, 1)
	assert.Equal(t, "ParseToken", res.Definitions[0].Name)
}

func TestFindSymbolIncludeUsages(t *testing.T) {
	st := newSearchStore()
	st.addRepo(testRepo("app", model.RepoKindMonolithic))
	st.addSymbols("app",
		model.Symbol{SymbolID: "s1", RepoID: "app", Name: "ParseToken", Kind: model.SymbolKindFunction, FilePath: "src/auth.ts"},
	)
	caller := testChunk("app", "src/login.ts", "ch-login", "const claims = ParseToken(header)")
	vague := testChunk("app", "src/misc.ts", "ch-misc", "token parsing happens elsewhere")
	st.chunkHits = []store.ChunkHit{
		{Chunk: caller, Score: 0.8},
		{Chunk: vague, Score: 0.75},
	}
	e := newTestEngine(t, st)

	res, err := e.FindSymbol(context.Background(), "ParseToken", SymbolOptions{IncludeUsages: true})
	require.NoError(t, err)
	assert.True(t, res.Exact)

	// Hits that never spell the name out are dropped.
	require.Len(t, res.Usages, 1)
	assert.Equal(t, "ch-login", res.Usages[0].Chunk.ChunkID)
	assert.Equal(t, model.RepoKindMonolithic, res.Usages[0].RepoKind)
	assert.Equal(t, 1.0, res.Usages[0].Priority)
}

func TestFindSymbolScopesToRepos(t *testing.T) {
	st := newSearchStore()
	st.addRepo(testRepo("app", model.RepoKindMonolithic))
	st.addRepo(testRepo("core", model.RepoKindMicroservice))
	st.addSymbols("app",
		model.Symbol{SymbolID: "s1", RepoID: "app", Name: "retry", Kind: model.SymbolKindFunction, FilePath: "src/retry.ts"},
	)
	st.addSymbols("core",
		model.Symbol{SymbolID: "s2", RepoID: "core", Name: "retry", Kind: model.SymbolKindFunction, FilePath: "lib/retry.ts"},
	)
	e := newTestEngine(t, st)

	res, err := e.FindSymbol(context.Background(), "retry", SymbolOptions{RepoIDs: []string{"core"}})
	require.NoError(t, err)
	require.Len(t, res.Definitions, 1)
	assert.Equal(t, "s2", res.Definitions[0].SymbolID)
}
