package retrieve

import (
	"context"
	"sort"

	"github.com/cindex-dev/cindex/internal/cerrors"
	"github.com/cindex-dev/cindex/internal/model"
)

// resolvedScope is the stage-0 output: the concrete repository and service
// sets every later stage filters on.
type resolvedScope struct {
	mode    ScopeMode
	repoIDs []string // sorted
	repos   map[string]model.Repository

	// serviceIDs is populated in service mode; other modes derive touched
	// services from retrieved files.
	serviceIDs []string

	excludeServices   map[string]struct{}
	excludeWorkspaces map[string]struct{}
}

func (sc *resolvedScope) kind(repoID string) model.RepoKind {
	return sc.repos[repoID].Kind
}

// allowsFile applies the workspace and service exclusion lists to a file.
func (sc *resolvedScope) allowsFile(f *model.File) bool {
	if f.WorkspaceID != "" {
		if _, drop := sc.excludeWorkspaces[f.WorkspaceID]; drop {
			return false
		}
	}
	if f.ServiceID != "" {
		if _, drop := sc.excludeServices[f.ServiceID]; drop {
			return false
		}
	}
	if sc.mode == ScopeService && len(sc.serviceIDs) > 0 {
		return containsString(sc.serviceIDs, f.ServiceID)
	}
	return true
}

func (sc *resolvedScope) summary() ScopeSummary {
	return ScopeSummary{Mode: sc.mode, RepoIDs: sc.repoIDs, ServiceIDs: sc.serviceIDs}
}

// excludedKind reports kinds outside default code search.
func excludedKind(k model.RepoKind) bool {
	return k == model.RepoKindReference || k == model.RepoKindDocumentation
}

// resolveScope runs stage 0. Global mode covers all repos except reference
// and documentation kinds (or exactly those, for the reference search path);
// repository and service modes demand explicit IDs; boundary mode walks
// cross-repo dependency edges breadth-first from a start repository.
func (e *Engine) resolveScope(ctx context.Context, opts ScopeOptions) (*resolvedScope, error) {
	repos, err := e.store.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Repository, len(repos))
	for _, r := range repos {
		byID[r.RepoID] = r
	}

	mode := opts.Mode
	if mode == "" {
		mode = ScopeGlobal
	}

	sc := &resolvedScope{
		mode:              mode,
		repos:             byID,
		excludeServices:   toSet(opts.ExcludeServices),
		excludeWorkspaces: toSet(opts.ExcludeWorkspaces),
	}

	var selected []string
	switch mode {
	case ScopeGlobal:
		for _, r := range repos {
			if excludedKind(r.Kind) == opts.References {
				selected = append(selected, r.RepoID)
			}
		}

	case ScopeRepository:
		if len(opts.RepoIDs) == 0 {
			return nil, cerrors.New(cerrors.ErrCodeMissingField,
				"repository scope requires repo_ids", nil).
				WithSuggestion("Pass repo_ids or use global scope")
		}
		for _, id := range opts.RepoIDs {
			if _, ok := byID[id]; !ok {
				return nil, cerrors.Newf(cerrors.ErrCodeStoreNotFound,
					"repository %q is not indexed", id).
					WithSuggestion("Run index_repository first or list_indexed_repos to see known IDs")
			}
			selected = append(selected, id)
		}

	case ScopeService:
		if len(opts.ServiceIDs) == 0 {
			return nil, cerrors.New(cerrors.ErrCodeMissingField,
				"service scope requires service_ids", nil).
				WithSuggestion("Pass service_ids or use global scope")
		}
		wanted := toSet(opts.ServiceIDs)
		seen := make(map[string]struct{})
		for _, r := range repos {
			services, err := e.store.ServicesByRepo(ctx, r.RepoID)
			if err != nil {
				return nil, err
			}
			for _, svc := range services {
				if _, ok := wanted[svc.ServiceID]; !ok {
					continue
				}
				delete(wanted, svc.ServiceID)
				sc.serviceIDs = append(sc.serviceIDs, svc.ServiceID)
				if _, dup := seen[r.RepoID]; !dup {
					seen[r.RepoID] = struct{}{}
					selected = append(selected, r.RepoID)
				}
			}
		}
		for id := range wanted {
			return nil, cerrors.Newf(cerrors.ErrCodeStoreNotFound,
				"service %q is not indexed", id).
				WithSuggestion("Use list_services to see known service IDs")
		}
		sort.Strings(sc.serviceIDs)

	case ScopeBoundary:
		if opts.StartRepo == "" {
			return nil, cerrors.New(cerrors.ErrCodeMissingField,
				"boundary scope requires start_repo", nil).
				WithSuggestion("Pass start_repo or use global scope")
		}
		start, ok := byID[opts.StartRepo]
		if !ok {
			return nil, cerrors.Newf(cerrors.ErrCodeStoreNotFound,
				"repository %q is not indexed", opts.StartRepo)
		}
		selected, err = e.walkBoundary(ctx, start, byID, opts)
		if err != nil {
			return nil, err
		}

	default:
		return nil, cerrors.Newf(cerrors.ErrCodeUnknownEnum,
			"unknown scope mode %q", mode).
			WithSuggestion("Use global, repository, service, or boundary")
	}

	exclude := toSet(opts.ExcludeRepos)
	for _, id := range selected {
		if _, drop := exclude[id]; !drop {
			sc.repoIDs = append(sc.repoIDs, id)
		}
	}
	sort.Strings(sc.repoIDs)
	return sc, nil
}

// walkBoundary BFSes outgoing cross-repo dependency edges from start, up to
// MaxDepth hops, skipping reference and documentation repositories. Without
// FollowDependencies the walk is just the start repo.
func (e *Engine) walkBoundary(ctx context.Context, start model.Repository, byID map[string]model.Repository, opts ScopeOptions) ([]string, error) {
	selected := []string{start.RepoID}
	if !opts.FollowDependencies || opts.MaxDepth <= 0 {
		return selected, nil
	}
	maxDepth := opts.MaxDepth

	visited := map[string]struct{}{start.RepoID: {}}
	frontier := []string{start.RepoID}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			edges, err := e.store.CrossRepoDependencies(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, edge := range edges {
				if edge.SourceRepoID != id {
					continue
				}
				target, ok := byID[edge.TargetRepoID]
				if !ok || excludedKind(target.Kind) {
					continue
				}
				if _, seen := visited[target.RepoID]; seen {
					continue
				}
				visited[target.RepoID] = struct{}{}
				selected = append(selected, target.RepoID)
				next = append(next, target.RepoID)
			}
		}
		frontier = next
	}
	return selected, nil
}

func toSet(ss []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		out[s] = struct{}{}
	}
	return out
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
