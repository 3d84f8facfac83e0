package retrieve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cindex-dev/cindex/internal/cerrors"
	"github.com/cindex-dev/cindex/internal/model"
)

// topologyStore seeds four repositories of distinct kinds plus a dependency
// chain app -> shared -> core used by the boundary tests.
func topologyStore() *searchStore {
	st := newSearchStore()
	st.addRepo(testRepo("app", model.RepoKindMonolithic))
	st.addRepo(testRepo("shared", model.RepoKindLibrary))
	st.addRepo(testRepo("core", model.RepoKindMicroservice))
	st.addRepo(testRepo("oss-mirror", model.RepoKindReference))
	st.addRepo(testRepo("handbook", model.RepoKindDocumentation))
	st.crossDeps["app"] = []string{"shared"}
	st.crossDeps["shared"] = []string{"core"}
	return st
}

func TestResolveScopeGlobalExcludesReferenceKinds(t *testing.T) {
	st := topologyStore()
	e := newTestEngine(t, st)

	sc, err := e.resolveScope(context.Background(), ScopeOptions{})
	require.NoError(t, err)
	assert.Equal(t, ScopeGlobal, sc.mode)
	assert.Equal(t, []string{"app", "core", "shared"}, sc.repoIDs)
}

func TestResolveScopeReferencesComplement(t *testing.T) {
	st := topologyStore()
	e := newTestEngine(t, st)

	sc, err := e.resolveScope(context.Background(), ScopeOptions{References: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"handbook", "oss-mirror"}, sc.repoIDs)
}

func TestResolveScopeRepositoryMode(t *testing.T) {
	st := topologyStore()
	e := newTestEngine(t, st)
	ctx := context.Background()

	sc, err := e.resolveScope(ctx, ScopeOptions{
		Mode:    ScopeRepository,
		RepoIDs: []string{"core", "app"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"app", "core"}, sc.repoIDs)

	// Reference repositories are reachable when named explicitly.
	sc, err = e.resolveScope(ctx, ScopeOptions{
		Mode:    ScopeRepository,
		RepoIDs: []string{"oss-mirror"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"oss-mirror"}, sc.repoIDs)

	_, err = e.resolveScope(ctx, ScopeOptions{Mode: ScopeRepository})
	assert.Equal(t, cerrors.ErrCodeMissingField, cerrors.GetCode(err))

	_, err = e.resolveScope(ctx, ScopeOptions{
		Mode:    ScopeRepository,
		RepoIDs: []string{"ghost"},
	})
	assert.Equal(t, cerrors.ErrCodeStoreNotFound, cerrors.GetCode(err))
}

func TestResolveScopeServiceMode(t *testing.T) {
	st := topologyStore()
	st.services["app"] = []model.Service{
		{ServiceID: "svc-auth", RepoID: "app", Name: "auth"},
	}
	st.services["core"] = []model.Service{
		{ServiceID: "svc-billing", RepoID: "core", Name: "billing"},
	}
	e := newTestEngine(t, st)
	ctx := context.Background()

	sc, err := e.resolveScope(ctx, ScopeOptions{
		Mode:       ScopeService,
		ServiceIDs: []string{"svc-billing", "svc-auth"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"app", "core"}, sc.repoIDs)
	assert.Equal(t, []string{"svc-auth", "svc-billing"}, sc.serviceIDs)

	_, err = e.resolveScope(ctx, ScopeOptions{Mode: ScopeService})
	assert.Equal(t, cerrors.ErrCodeMissingField, cerrors.GetCode(err))

	_, err = e.resolveScope(ctx, ScopeOptions{
		Mode:       ScopeService,
		ServiceIDs: []string{"svc-ghost"},
	})
	assert.Equal(t, cerrors.ErrCodeStoreNotFound, cerrors.GetCode(err))
}

func TestResolveScopeBoundaryWalk(t *testing.T) {
	st := topologyStore()
	e := newTestEngine(t, st)
	ctx := context.Background()

	// Depth 0 stays on the start repository even with follow enabled.
	sc, err := e.resolveScope(ctx, ScopeOptions{
		Mode:               ScopeBoundary,
		StartRepo:          "app",
		FollowDependencies: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"app"}, sc.repoIDs)

	// One hop reaches shared but not core.
	sc, err = e.resolveScope(ctx, ScopeOptions{
		Mode:               ScopeBoundary,
		StartRepo:          "app",
		FollowDependencies: true,
		MaxDepth:           1,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"app", "shared"}, sc.repoIDs)

	// Two hops reach the full chain.
	sc, err = e.resolveScope(ctx, ScopeOptions{
		Mode:               ScopeBoundary,
		StartRepo:          "app",
		FollowDependencies: true,
		MaxDepth:           2,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"app", "core", "shared"}, sc.repoIDs)

	// Without FollowDependencies depth is ignored.
	sc, err = e.resolveScope(ctx, ScopeOptions{
		Mode:      ScopeBoundary,
		StartRepo: "app",
		MaxDepth:  5,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"app"}, sc.repoIDs)

	_, err = e.resolveScope(ctx, ScopeOptions{Mode: ScopeBoundary})
	assert.Equal(t, cerrors.ErrCodeMissingField, cerrors.GetCode(err))
}

func TestResolveScopeBoundarySkipsReferenceTargets(t *testing.T) {
	st := topologyStore()
	st.crossDeps["app"] = []string{"shared", "oss-mirror"}
	e := newTestEngine(t, st)

	sc, err := e.resolveScope(context.Background(), ScopeOptions{
		Mode:               ScopeBoundary,
		StartRepo:          "app",
		FollowDependencies: true,
		MaxDepth:           1,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"app", "shared"}, sc.repoIDs)
}

func TestResolveScopeExclusions(t *testing.T) {
	st := topologyStore()
	e := newTestEngine(t, st)

	sc, err := e.resolveScope(context.Background(), ScopeOptions{
		ExcludeRepos:      []string{"shared"},
		ExcludeServices:   []string{"svc-auth"},
		ExcludeWorkspaces: []string{"ws-ui"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"app", "core"}, sc.repoIDs)

	assert.False(t, sc.allowsFile(&model.File{RepoID: "app", ServiceID: "svc-auth"}))
	assert.False(t, sc.allowsFile(&model.File{RepoID: "app", WorkspaceID: "ws-ui"}))
	assert.True(t, sc.allowsFile(&model.File{RepoID: "app", ServiceID: "svc-billing"}))
}

func TestResolveScopeUnknownMode(t *testing.T) {
	st := topologyStore()
	e := newTestEngine(t, st)

	_, err := e.resolveScope(context.Background(), ScopeOptions{Mode: ScopeMode("galaxy")})
	assert.Equal(t, cerrors.ErrCodeUnknownEnum, cerrors.GetCode(err))
}
