package retrieve

import (
	"github.com/cindex-dev/cindex/internal/model"
)

// ScopeMode selects how stage 0 resolves the repository set.
type ScopeMode string

const (
	// ScopeGlobal covers every repository except reference and
	// documentation kinds.
	ScopeGlobal ScopeMode = "global"

	// ScopeRepository restricts to explicitly named repositories.
	ScopeRepository ScopeMode = "repository"

	// ScopeService restricts to the repositories owning explicitly named
	// services.
	ScopeService ScopeMode = "service"

	// ScopeBoundary starts from one repository and optionally follows
	// cross-repo dependency edges breadth-first.
	ScopeBoundary ScopeMode = "boundary"
)

// ScopeOptions selects the repositories and services a query runs over.
type ScopeOptions struct {
	Mode       ScopeMode
	RepoIDs    []string // repository mode
	ServiceIDs []string // service mode

	// Boundary mode. MaxDepth is taken literally: 0 hops means only the
	// start repository. Callers apply the configured default when the
	// input omits it.
	StartRepo          string
	FollowDependencies bool
	MaxDepth           int

	// Exclusions applied after mode resolution.
	ExcludeRepos      []string
	ExcludeServices   []string
	ExcludeWorkspaces []string

	// References flips global mode to its complement: only reference and
	// documentation repositories. Used by the reference search path.
	References bool
}

// Options parameterizes one Search call. Zero values fall back to the
// configured defaults.
type Options struct {
	Scope ScopeOptions

	// TopFiles bounds stage 2; MaxChunks bounds stage 3.
	TopFiles  int
	MaxChunks int

	// API enrichment filters.
	APIType                    model.APIType
	IncludeDeprecated          bool
	RequireImplementationMatch bool
}

// DocOptions parameterizes documentation search.
type DocOptions struct {
	DocIDs []string // empty = all indexed sets
	Limit  int
}

// ContractOptions parameterizes endpoint contract search.
type ContractOptions struct {
	RepoIDs           []string
	ServiceIDs        []string
	APIType           model.APIType
	IncludeDeprecated bool
	Limit             int
}

// SymbolOptions parameterizes symbol definition lookup.
type SymbolOptions struct {
	RepoIDs []string
	Kinds   []model.SymbolKind

	// IncludeUsages adds chunks that reference the symbol name.
	IncludeUsages bool
	Limit         int
}

// CallOptions parameterizes cross-service call tracing.
type CallOptions struct {
	RepoIDs   []string
	ServiceID string

	// CrossServiceOnly drops calls resolved to the caller's own service.
	CrossServiceOnly bool
}
