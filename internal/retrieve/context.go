package retrieve

import (
	"context"
	"sort"
	"strings"

	"github.com/cindex-dev/cindex/internal/cerrors"
	"github.com/cindex-dev/cindex/internal/model"
	"github.com/cindex-dev/cindex/internal/store"
)

// maxCallScanFiles bounds how many files of a service a call trace reads.
const maxCallScanFiles = 100

// FileContext is one file with its chunks, direct imports, and the files
// that import it.
type FileContext struct {
	File    model.File    `json:"file"`
	Chunks  []model.Chunk `json:"chunks"`
	Imports []ChainEntry  `json:"imports,omitempty"`
	Callers []string      `json:"callers,omitempty"`
}

// FileContext assembles the context of a single indexed file: its row, its
// chunks, the files it imports (one level), and the files importing it.
// Reverse edges come from resolving every indexed file's imports against
// this path.
func (e *Engine) FileContext(ctx context.Context, repoID, path string) (*FileContext, error) {
	sc, err := e.resolveScope(ctx, repoScope([]string{repoID}))
	if err != nil {
		return nil, err
	}

	file, err := e.store.GetFile(ctx, repoID, path)
	if err != nil {
		return nil, err
	}
	chunks, err := e.store.ChunksByFile(ctx, repoID, path)
	if err != nil {
		return nil, err
	}

	w := newImportWalker(e, sc)
	w.visited[fileKey(repoID, path)] = struct{}{}
	w.rows[fileKey(repoID, path)] = file
	if err := w.walk(ctx, file, 0, 1); err != nil {
		return nil, err
	}

	callers, err := e.reverseImports(ctx, w, repoID, path)
	if err != nil {
		return nil, err
	}

	return &FileContext{
		File:    *file,
		Chunks:  chunks,
		Imports: w.entries,
		Callers: callers,
	}, nil
}

// reverseImports lists files whose imports resolve to target. The listing
// arrives path-ordered, so the result is too.
func (e *Engine) reverseImports(ctx context.Context, w *importWalker, repoID, target string) ([]string, error) {
	files, err := e.store.ListFiles(ctx, repoID)
	if err != nil {
		return nil, err
	}
	var callers []string
	for i := range files {
		f := &files[i]
		if f.Path == target {
			continue
		}
		for _, spec := range f.Imports {
			resolved, _, err := w.resolve(ctx, f, spec)
			if err != nil {
				return nil, err
			}
			if resolved == target {
				callers = append(callers, f.Path)
				break
			}
		}
	}
	return callers, nil
}

// WorkspaceContext is a workspace with its dependency edges to sibling
// workspaces of the same repository.
type WorkspaceContext struct {
	Workspace  model.Workspace   `json:"workspace"`
	DependsOn  []model.Workspace `json:"depends_on,omitempty"`
	Dependents []model.Workspace `json:"dependents,omitempty"`
	FileCount  int               `json:"file_count"`
}

// WorkspaceContext resolves a workspace by ID or package name and reports
// its dependency graph within the repository. An empty repoID searches every
// indexed repository.
func (e *Engine) WorkspaceContext(ctx context.Context, repoID, key string) (*WorkspaceContext, error) {
	ws, siblings, err := e.findWorkspace(ctx, repoID, key)
	if err != nil {
		return nil, err
	}

	wanted := toSet(ws.Dependencies)
	res := &WorkspaceContext{Workspace: *ws}
	for i := range siblings {
		sib := &siblings[i]
		if sib.WorkspaceID == ws.WorkspaceID {
			continue
		}
		if _, ok := wanted[sib.Name]; ok {
			res.DependsOn = append(res.DependsOn, *sib)
		}
		if containsString(sib.Dependencies, ws.Name) {
			res.Dependents = append(res.Dependents, *sib)
		}
	}

	files, err := e.store.ListFiles(ctx, ws.RepoID)
	if err != nil {
		return nil, err
	}
	for i := range files {
		if files[i].WorkspaceID == ws.WorkspaceID {
			res.FileCount++
		}
	}
	return res, nil
}

// findWorkspace locates a workspace by ID or package name, returning it with
// its repository's full workspace set.
func (e *Engine) findWorkspace(ctx context.Context, repoID, key string) (*model.Workspace, []model.Workspace, error) {
	repoIDs := []string{repoID}
	if repoID == "" {
		repos, err := e.store.ListRepositories(ctx)
		if err != nil {
			return nil, nil, err
		}
		repoIDs = repoIDs[:0]
		for _, r := range repos {
			repoIDs = append(repoIDs, r.RepoID)
		}
	}
	for _, id := range repoIDs {
		workspaces, err := e.store.WorkspacesByRepo(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		for i := range workspaces {
			if workspaces[i].WorkspaceID == key || workspaces[i].Name == key {
				return &workspaces[i], workspaces, nil
			}
		}
	}
	return nil, nil, cerrors.Newf(cerrors.ErrCodeStoreNotFound,
		"workspace %q is not indexed", key).
		WithSuggestion("Use list_workspaces to see known workspace IDs and names")
}

// ServiceContext is a service with its API surface and the outbound calls
// its files make.
type ServiceContext struct {
	Service       model.Service       `json:"service"`
	Endpoints     []model.APIEndpoint `json:"endpoints,omitempty"`
	OutboundCalls []OutboundCall      `json:"outbound_calls,omitempty"`
}

// ServiceContext resolves a service by ID or name and reports its endpoints
// and the API calls its own files make, matched against every known
// endpoint.
func (e *Engine) ServiceContext(ctx context.Context, key string) (*ServiceContext, error) {
	svc, err := e.findService(ctx, key)
	if err != nil {
		return nil, err
	}

	endpoints, err := e.store.Endpoints(ctx, store.EndpointFilter{
		ServiceIDs:        []string{svc.ServiceID},
		IncludeDeprecated: true,
	})
	if err != nil {
		return nil, err
	}

	known, err := e.store.Endpoints(ctx, store.EndpointFilter{IncludeDeprecated: true})
	if err != nil {
		return nil, err
	}
	calls, err := e.scanServiceCalls(ctx, svc, known)
	if err != nil {
		return nil, err
	}

	return &ServiceContext{
		Service:       *svc,
		Endpoints:     endpoints,
		OutboundCalls: calls,
	}, nil
}

// findService locates a service by ID or name across all repositories.
func (e *Engine) findService(ctx context.Context, key string) (*model.Service, error) {
	repos, err := e.store.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range repos {
		services, err := e.store.ServicesByRepo(ctx, r.RepoID)
		if err != nil {
			return nil, err
		}
		for i := range services {
			if services[i].ServiceID == key || services[i].Name == key {
				return &services[i], nil
			}
		}
	}
	return nil, cerrors.Newf(cerrors.ErrCodeStoreNotFound,
		"service %q is not indexed", key).
		WithSuggestion("Use list_services to see known service IDs")
}

// scanServiceCalls detects outbound API calls in the service's files.
func (e *Engine) scanServiceCalls(ctx context.Context, svc *model.Service, known []model.APIEndpoint) ([]OutboundCall, error) {
	files := svc.Files
	if len(files) > maxCallScanFiles {
		files = files[:maxCallScanFiles]
	}
	var rows []model.Chunk
	for _, p := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunks, err := e.store.ChunksByFile(ctx, svc.RepoID, p)
		if err != nil {
			return nil, err
		}
		rows = append(rows, chunks...)
	}
	id := svc.ServiceID
	return scanChunkCalls(rows, func(*model.Chunk) string { return id }, known), nil
}

// WorkspaceUsage is one import of a workspace from outside it.
type WorkspaceUsage struct {
	FilePath    string `json:"file_path"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	Import      string `json:"import"`
	Resolved    string `json:"resolved,omitempty"`
}

// WorkspaceUsages reports who imports a workspace.
type WorkspaceUsages struct {
	Workspace model.Workspace   `json:"workspace"`
	Usages    []WorkspaceUsage  `json:"usages"`
	Notes     map[string]string `json:"notes,omitempty"`
}

// CrossWorkspaceUsages finds files outside a workspace that import it,
// either by package name or through a path that resolves into the
// workspace's directory. Transitive tracking is not supported; asking for it
// returns direct usages with a note.
func (e *Engine) CrossWorkspaceUsages(ctx context.Context, repoID, key string, includeIndirect bool) (*WorkspaceUsages, error) {
	ws, _, err := e.findWorkspace(ctx, repoID, key)
	if err != nil {
		return nil, err
	}
	sc, err := e.resolveScope(ctx, repoScope([]string{ws.RepoID}))
	if err != nil {
		return nil, err
	}

	files, err := e.store.ListFiles(ctx, ws.RepoID)
	if err != nil {
		return nil, err
	}

	w := newImportWalker(e, sc)
	prefix := workspacePrefix(ws.RelativePath)
	res := &WorkspaceUsages{Workspace: *ws, Usages: []WorkspaceUsage{}}
	for i := range files {
		f := &files[i]
		if f.WorkspaceID == ws.WorkspaceID {
			continue
		}
		for _, spec := range f.Imports {
			if spec == ws.Name || strings.HasPrefix(spec, ws.Name+"/") {
				res.Usages = append(res.Usages, WorkspaceUsage{
					FilePath:    f.Path,
					WorkspaceID: f.WorkspaceID,
					Import:      spec,
				})
				continue
			}
			if prefix == "" {
				continue
			}
			resolved, _, err := w.resolve(ctx, f, spec)
			if err != nil {
				return nil, err
			}
			if resolved != "" && (resolved == prefix || strings.HasPrefix(resolved, prefix+"/")) {
				res.Usages = append(res.Usages, WorkspaceUsage{
					FilePath:    f.Path,
					WorkspaceID: f.WorkspaceID,
					Import:      spec,
					Resolved:    resolved,
				})
			}
		}
	}

	if includeIndirect {
		res.Notes = map[string]string{"transitive_tracking": "unsupported"}
	}
	return res, nil
}

// workspacePrefix normalizes a workspace directory for prefix matching.
// Root-level workspaces have no usable prefix; only package-name imports
// can identify them.
func workspacePrefix(rel string) string {
	rel = strings.Trim(rel, "/")
	if rel == "" || rel == "." {
		return ""
	}
	return rel
}

// CrossServiceCalls traces outbound API calls from services. Without an
// explicit service, every service of the scope repositories is scanned.
func (e *Engine) CrossServiceCalls(ctx context.Context, opts CallOptions) ([]OutboundCall, error) {
	sc, err := e.resolveScope(ctx, repoScope(opts.RepoIDs))
	if err != nil {
		return nil, err
	}

	known, err := e.store.Endpoints(ctx, store.EndpointFilter{IncludeDeprecated: true})
	if err != nil {
		return nil, err
	}

	var services []model.Service
	if opts.ServiceID != "" {
		svc, err := e.findService(ctx, opts.ServiceID)
		if err != nil {
			return nil, err
		}
		services = append(services, *svc)
	} else {
		for _, repoID := range sc.repoIDs {
			svcs, err := e.store.ServicesByRepo(ctx, repoID)
			if err != nil {
				return nil, err
			}
			services = append(services, svcs...)
		}
	}
	sort.Slice(services, func(i, j int) bool { return services[i].ServiceID < services[j].ServiceID })

	var calls []OutboundCall
	for i := range services {
		cs, err := e.scanServiceCalls(ctx, &services[i], known)
		if err != nil {
			return nil, err
		}
		calls = append(calls, cs...)
	}

	if opts.CrossServiceOnly {
		kept := calls[:0]
		for _, c := range calls {
			if c.EndpointFound && c.TargetServiceID == c.SourceServiceID {
				continue
			}
			kept = append(kept, c)
		}
		calls = kept
	}
	return calls, nil
}
