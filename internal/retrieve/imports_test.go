package retrieve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cindex-dev/cindex/internal/config"
	"github.com/cindex-dev/cindex/internal/model"
)

func importFile(repoID, path string, imports ...string) model.File {
	f := testFile(repoID, path)
	f.Imports = imports
	return f
}

func globalScope(t *testing.T, e *Engine) *resolvedScope {
	t.Helper()
	sc, err := e.resolveScope(context.Background(), ScopeOptions{})
	require.NoError(t, err)
	return sc
}

func TestExpandImportsDepthLimit(t *testing.T) {
	st := newSearchStore()
	st.addRepo(testRepo("app", model.RepoKindMonolithic))
	a := importFile("app", "src/a.ts", "./b")
	st.addFile(a)
	st.addFile(importFile("app", "src/b.ts", "./c"))
	st.addFile(importFile("app", "src/c.ts", "./d"))
	st.addFile(importFile("app", "src/d.ts"))
	e := newTestEngine(t, st)

	entries, err := e.expandImports(context.Background(), globalScope(t, e),
		[]FileResult{{File: a}})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "src/b.ts", entries[0].FilePath)
	assert.Equal(t, "src/a.ts", entries[0].ImportedFrom)
	assert.Equal(t, 1, entries[0].Depth)
	assert.False(t, entries[0].Truncated)
	assert.Equal(t, "summary of src/b.ts", entries[0].FileSummary)

	assert.Equal(t, "src/c.ts", entries[1].FilePath)
	assert.Equal(t, 2, entries[1].Depth)
	assert.False(t, entries[1].Truncated)

	assert.Equal(t, "src/d.ts", entries[2].FilePath)
	assert.Equal(t, 3, entries[2].Depth)
	assert.True(t, entries[2].Truncated)
	assert.Equal(t, TruncationDepthLimit, entries[2].TruncationReason)
}

func TestExpandImportsCircular(t *testing.T) {
	st := newSearchStore()
	st.addRepo(testRepo("app", model.RepoKindMonolithic))
	a := importFile("app", "src/a.ts", "./b")
	st.addFile(a)
	st.addFile(importFile("app", "src/b.ts", "./a"))
	e := newTestEngine(t, st)

	entries, err := e.expandImports(context.Background(), globalScope(t, e),
		[]FileResult{{File: a}})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "src/b.ts", entries[0].FilePath)
	assert.False(t, entries[0].Circular)

	assert.Equal(t, "src/a.ts", entries[1].FilePath)
	assert.Equal(t, "src/b.ts", entries[1].ImportedFrom)
	assert.True(t, entries[1].Circular)
	assert.True(t, entries[1].Truncated)
}

func TestExpandImportsExternal(t *testing.T) {
	st := newSearchStore()
	st.addRepo(testRepo("app", model.RepoKindMonolithic))
	a := importFile("app", "src/a.ts",
		"node:fs", "https://cdn.example.com/x.js", "leftpad", "./b")
	st.addFile(a)
	st.addFile(importFile("app", "src/b.ts"))
	e := newTestEngine(t, st)

	entries, err := e.expandImports(context.Background(), globalScope(t, e),
		[]FileResult{{File: a}})
	require.NoError(t, err)
	require.Len(t, entries, 4)

	for _, ext := range entries[:3] {
		assert.True(t, ext.Truncated)
		assert.Equal(t, TruncationExternal, ext.TruncationReason)
	}
	assert.Equal(t, "node:fs", entries[0].FilePath)
	assert.Equal(t, "https://cdn.example.com/x.js", entries[1].FilePath)
	assert.Equal(t, "leftpad", entries[2].FilePath)
	assert.Equal(t, "src/b.ts", entries[3].FilePath)
	assert.False(t, entries[3].Truncated)
}

func TestExpandImportsAliasResolution(t *testing.T) {
	st := newSearchStore()
	repo := testRepo("app", model.RepoKindMonorepo)
	repo.WorkspaceConfig = `{"packages":{"@acme/ui":"packages/ui"},"paths":{"@app/*":["src/*"]}}`
	st.addRepo(repo)
	a := importFile("app", "src/a.ts", "@acme/ui/button", "@app/util")
	st.addFile(a)
	st.addFile(importFile("app", "packages/ui/button.tsx"))
	st.addFile(importFile("app", "src/util.ts"))
	e := newTestEngine(t, st)

	entries, err := e.expandImports(context.Background(), globalScope(t, e),
		[]FileResult{{File: a}})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "packages/ui/button.tsx", entries[0].FilePath)
	assert.Equal(t, "src/util.ts", entries[1].FilePath)
}

func TestExpandImportsProbesCompiledAndIndexPaths(t *testing.T) {
	st := newSearchStore()
	st.addRepo(testRepo("app", model.RepoKindMonolithic))
	a := importFile("app", "src/a.ts", "./helper.js", "./lib")
	st.addFile(a)
	st.addFile(importFile("app", "src/helper.ts"))
	st.addFile(importFile("app", "src/lib/index.ts"))
	e := newTestEngine(t, st)

	entries, err := e.expandImports(context.Background(), globalScope(t, e),
		[]FileResult{{File: a}})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "src/helper.ts", entries[0].FilePath)
	assert.Equal(t, "src/lib/index.ts", entries[1].FilePath)
}

func TestExpandImportsBoundaryShrink(t *testing.T) {
	st := newSearchStore()
	st.addRepo(testRepo("app", model.RepoKindMonolithic))
	a := importFile("app", "src/a.ts", "./b")
	a.ServiceID = "svc-a"
	st.addFile(a)
	b := importFile("app", "src/b.ts", "./c")
	b.ServiceID = "svc-b"
	st.addFile(b)
	c := importFile("app", "src/c.ts")
	c.ServiceID = "svc-b"
	st.addFile(c)

	e := newTestEngine(t, st, func(cfg *config.Config) {
		cfg.Search.ServiceDepth = 0
	})
	ctx := context.Background()

	// In boundary scope the service crossing exhausts the remaining depth.
	sc, err := e.resolveScope(ctx, ScopeOptions{Mode: ScopeBoundary, StartRepo: "app"})
	require.NoError(t, err)
	entries, err := e.expandImports(ctx, sc, []FileResult{{File: a}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].CrossService)
	assert.True(t, entries[0].Truncated)
	assert.Equal(t, TruncationBoundaryCrossed, entries[0].TruncationReason)

	// Any other scope records the crossing but keeps walking.
	entries, err = e.expandImports(ctx, globalScope(t, e), []FileResult{{File: a}})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].CrossService)
	assert.False(t, entries[0].Truncated)
	assert.Equal(t, "src/c.ts", entries[1].FilePath)
}
