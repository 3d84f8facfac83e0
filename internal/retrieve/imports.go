package retrieve

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"github.com/cindex-dev/cindex/internal/detect"
	"github.com/cindex-dev/cindex/internal/model"
)

// probeExtensions is the resolution order for extensionless import paths.
var probeExtensions = []string{".ts", ".tsx", ".js", ".jsx"}

// importKind classifies an import specifier.
type importKind int

const (
	importExternal importKind = iota
	importRelative
	importAliased
)

// classifyImport separates module-external specifiers from ones that can
// resolve inside the repository. Aliased covers workspace package names and
// tsconfig path prefixes; whether they actually resolve is decided against
// the stored workspace config.
func classifyImport(spec string) importKind {
	switch {
	case spec == "":
		return importExternal
	case strings.HasPrefix(spec, "node:"),
		strings.HasPrefix(spec, "http://"),
		strings.HasPrefix(spec, "https://"):
		return importExternal
	case strings.HasPrefix(spec, "./"), strings.HasPrefix(spec, "../"),
		strings.HasPrefix(spec, "/"):
		return importRelative
	default:
		return importAliased
	}
}

// importWalker carries the state of one import expansion: the global
// visited set, lazily loaded per-repo alias tables and indexed path sets,
// and the fetched file rows.
type importWalker struct {
	engine   *Engine
	scope    *resolvedScope
	boundary bool

	visited map[string]struct{}
	aliases map[string]*detect.WorkspaceConfig
	paths   map[string]map[string]struct{}
	rows    map[string]*model.File

	entries []ChainEntry
}

func newImportWalker(e *Engine, sc *resolvedScope) *importWalker {
	return &importWalker{
		engine:   e,
		scope:    sc,
		boundary: sc.mode == ScopeBoundary,
		visited:  make(map[string]struct{}),
		aliases:  make(map[string]*detect.WorkspaceConfig),
		paths:    make(map[string]map[string]struct{}),
		rows:     make(map[string]*model.File),
	}
}

// expandImports runs stage 5: from the top files, walk import edges up to
// the configured depth. External imports and revisits become truncated
// leaves; in boundary-aware scope the remaining depth shrinks after
// workspace and service crossings.
func (e *Engine) expandImports(ctx context.Context, sc *resolvedScope, files []FileResult) ([]ChainEntry, error) {
	if len(files) == 0 {
		return nil, nil
	}
	top := files
	if len(top) > e.cfg.Search.TopFiles {
		top = top[:e.cfg.Search.TopFiles]
	}

	w := newImportWalker(e, sc)

	for i := range top {
		f := &top[i].File
		key := fileKey(f.RepoID, f.Path)
		if _, seen := w.visited[key]; seen {
			continue
		}
		w.visited[key] = struct{}{}
		w.rows[key] = f
		if err := w.walk(ctx, f, 0, e.cfg.Search.ImportDepth); err != nil {
			return nil, err
		}
	}
	return w.entries, nil
}

// walk expands the imports of f. depth is f's own depth; remaining is how
// many more levels the walk may descend.
func (w *importWalker) walk(ctx context.Context, f *model.File, depth, remaining int) error {
	for _, spec := range f.Imports {
		if err := ctx.Err(); err != nil {
			return err
		}

		resolved, external, err := w.resolve(ctx, f, spec)
		if err != nil {
			return err
		}
		if external {
			w.entries = append(w.entries, ChainEntry{
				FilePath:         spec,
				ImportedFrom:     f.Path,
				Depth:            depth + 1,
				Truncated:        true,
				TruncationReason: TruncationExternal,
			})
			continue
		}
		if resolved == "" {
			continue
		}

		key := fileKey(f.RepoID, resolved)
		if _, seen := w.visited[key]; seen {
			w.entries = append(w.entries, ChainEntry{
				FilePath:     resolved,
				ImportedFrom: f.Path,
				Depth:        depth + 1,
				Circular:     true,
				Truncated:    true,
			})
			continue
		}
		w.visited[key] = struct{}{}

		row, err := w.rowFor(ctx, f.RepoID, resolved)
		if err != nil {
			return err
		}
		if row == nil {
			continue
		}

		crossWS := row.WorkspaceID != f.WorkspaceID
		crossSvc := row.ServiceID != f.ServiceID

		childRemaining := remaining - 1
		reason := ""
		if childRemaining <= 0 {
			reason = TruncationDepthLimit
		}
		if w.boundary {
			beforeShrink := childRemaining
			if crossWS && childRemaining > w.engine.cfg.Search.WorkspaceDepth {
				childRemaining = w.engine.cfg.Search.WorkspaceDepth
			}
			if crossSvc && childRemaining > w.engine.cfg.Search.ServiceDepth {
				childRemaining = w.engine.cfg.Search.ServiceDepth
			}
			if childRemaining <= 0 && beforeShrink > 0 {
				reason = TruncationBoundaryCrossed
			}
		}

		w.entries = append(w.entries, ChainEntry{
			FilePath:         resolved,
			ImportedFrom:     f.Path,
			Depth:            depth + 1,
			FileSummary:      row.Summary,
			Exports:          row.Exports,
			Truncated:        childRemaining <= 0,
			TruncationReason: reason,
			CrossWorkspace:   crossWS,
			CrossService:     crossSvc,
			WorkspaceID:      row.WorkspaceID,
			ServiceID:        row.ServiceID,
		})

		if childRemaining > 0 {
			if err := w.walk(ctx, row, depth+1, childRemaining); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolve maps an import specifier to an indexed repo-relative path.
// external=true means the specifier leaves the module (runtime builtins,
// URLs, unresolvable package names). An empty resolved path with
// external=false is a relative import pointing at nothing indexed.
func (w *importWalker) resolve(ctx context.Context, f *model.File, spec string) (resolved string, external bool, err error) {
	var stem string
	switch classifyImport(spec) {
	case importExternal:
		return "", true, nil

	case importRelative:
		if strings.HasPrefix(spec, "/") {
			stem = path.Clean(strings.TrimPrefix(spec, "/"))
		} else {
			stem = path.Clean(path.Join(path.Dir(f.Path), spec))
		}

	case importAliased:
		cfg := w.aliasesFor(f.RepoID)
		if cfg == nil {
			return "", true, nil
		}
		mapped, ok := cfg.Resolve(spec)
		if !ok {
			return "", true, nil
		}
		stem = path.Clean(mapped)
	}

	known, err := w.pathsFor(ctx, f.RepoID)
	if err != nil {
		return "", false, err
	}
	if hit := probePath(known, stem); hit != "" {
		return hit, false, nil
	}
	w.engine.logger.Debug("import did not resolve to an indexed file",
		slog.String("repo_id", f.RepoID),
		slog.String("from", f.Path),
		slog.String("import", spec))
	return "", false, nil
}

// probePath tries the stem itself, JS-to-TS rewrites, common extensions,
// and index files, in that order.
func probePath(known map[string]struct{}, stem string) string {
	if stem == "" || stem == "." {
		return ""
	}
	if _, ok := known[stem]; ok {
		return stem
	}
	if base, found := strings.CutSuffix(stem, ".js"); found {
		for _, ext := range []string{".ts", ".tsx"} {
			if _, ok := known[base+ext]; ok {
				return base + ext
			}
		}
	}
	if base, found := strings.CutSuffix(stem, ".jsx"); found {
		if _, ok := known[base+".tsx"]; ok {
			return base + ".tsx"
		}
	}
	for _, ext := range probeExtensions {
		if _, ok := known[stem+ext]; ok {
			return stem + ext
		}
	}
	for _, ext := range probeExtensions {
		candidate := stem + "/index" + ext
		if _, ok := known[candidate]; ok {
			return candidate
		}
	}
	return ""
}

// aliasesFor lazily parses the repository's stored workspace config.
func (w *importWalker) aliasesFor(repoID string) *detect.WorkspaceConfig {
	if cfg, ok := w.aliases[repoID]; ok {
		return cfg
	}
	var cfg *detect.WorkspaceConfig
	if repo, ok := w.scope.repos[repoID]; ok {
		parsed, err := detect.ParseWorkspaceConfig(repo.WorkspaceConfig)
		if err != nil {
			w.engine.logger.Debug("workspace config unparsable",
				slog.String("repo_id", repoID), slog.String("error", err.Error()))
		} else {
			cfg = parsed
		}
	}
	w.aliases[repoID] = cfg
	return cfg
}

// pathsFor lazily loads the indexed path set of a repository.
func (w *importWalker) pathsFor(ctx context.Context, repoID string) (map[string]struct{}, error) {
	if set, ok := w.paths[repoID]; ok {
		return set, nil
	}
	hashes, err := w.engine.store.FileHashes(ctx, repoID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(hashes))
	for p := range hashes {
		set[p] = struct{}{}
	}
	w.paths[repoID] = set
	return set, nil
}

// rowFor fetches and caches a file row.
func (w *importWalker) rowFor(ctx context.Context, repoID, p string) (*model.File, error) {
	key := fileKey(repoID, p)
	if row, ok := w.rows[key]; ok {
		return row, nil
	}
	files, err := w.engine.store.FilesByPaths(ctx, repoID, []string{p})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		w.rows[key] = nil
		return nil, nil
	}
	row := &files[0]
	w.rows[key] = row
	return row, nil
}

func fileKey(repoID, p string) string {
	return repoID + "\x00" + p
}
