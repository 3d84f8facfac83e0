package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cindex-dev/cindex/internal/model"
)

// WorkspaceTopology is the result of workspace detection: the packages, the
// tool that declared them, and the persisted resolution config.
type WorkspaceTopology struct {
	Tool       string
	Workspaces []model.Workspace
	Config     *WorkspaceConfig
}

// WorkspaceDetector probes a repository root for monorepo workspace
// manifests and resolves their package globs.
type WorkspaceDetector struct {
	logger *slog.Logger
}

func NewWorkspaceDetector(logger *slog.Logger) *WorkspaceDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkspaceDetector{logger: logger}
}

// packageManifest is the subset of package.json the detector reads.
type packageManifest struct {
	Name            string            `json:"name"`
	Private         bool              `json:"private"`
	Workspaces      json.RawMessage   `json:"workspaces"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// Detect probes the manifests in precedence order (pnpm, npm/yarn
// workspaces, lerna, rush, nx/turbo markers), resolves package globs to
// directories, reads each package manifest, and loads tsconfig aliases.
// A repo without workspace manifests returns an empty topology, not an
// error.
func (d *WorkspaceDetector) Detect(ctx context.Context, root, repoID string) (*WorkspaceTopology, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tool, globs, err := d.probe(root)
	if err != nil {
		return nil, err
	}
	topo := &WorkspaceTopology{Tool: tool, Config: &WorkspaceConfig{Tool: tool}}
	if tool == "" {
		return topo, nil
	}

	dirs := resolvePackageGlobs(root, globs)
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ws, ok := d.readPackage(root, dir, repoID)
		if !ok {
			continue
		}
		topo.Workspaces = append(topo.Workspaces, ws)
	}
	sort.Slice(topo.Workspaces, func(i, j int) bool {
		return topo.Workspaces[i].RelativePath < topo.Workspaces[j].RelativePath
	})

	topo.Config.Packages = make(map[string]string, len(topo.Workspaces))
	for _, ws := range topo.Workspaces {
		topo.Config.Packages[ws.Name] = ws.RelativePath
	}
	if err := LoadTSConfigAliases(root, topo.Config); err != nil {
		d.logger.Debug("tsconfig alias parse failed",
			slog.String("root", root),
			slog.String("error", err.Error()))
	}

	d.logger.Debug("workspace detection done",
		slog.String("tool", tool),
		slog.Int("workspaces", len(topo.Workspaces)))
	return topo, nil
}

// probe finds the first workspace manifest and returns its package globs.
func (d *WorkspaceDetector) probe(root string) (tool string, globs []string, err error) {
	if content, e := os.ReadFile(filepath.Join(root, "pnpm-workspace.yaml")); e == nil {
		var pw struct {
			Packages []string `yaml:"packages"`
		}
		if err := yaml.Unmarshal(content, &pw); err != nil {
			return "", nil, fmt.Errorf("pnpm-workspace.yaml: %w", err)
		}
		return "pnpm", pw.Packages, nil
	}

	rootManifest, manifestErr := readManifest(filepath.Join(root, "package.json"))
	if manifestErr == nil && len(rootManifest.Workspaces) > 0 {
		globs, err := workspaceGlobs(rootManifest.Workspaces)
		if err != nil {
			return "", nil, fmt.Errorf("package.json workspaces: %w", err)
		}
		return "npm", globs, nil
	}

	if content, e := os.ReadFile(filepath.Join(root, "lerna.json")); e == nil {
		var lerna struct {
			Packages []string `json:"packages"`
		}
		if err := json.Unmarshal(content, &lerna); err != nil {
			return "", nil, fmt.Errorf("lerna.json: %w", err)
		}
		if len(lerna.Packages) == 0 {
			lerna.Packages = []string{"packages/*"}
		}
		return "lerna", lerna.Packages, nil
	}

	if content, e := os.ReadFile(filepath.Join(root, "rush.json")); e == nil {
		var rush struct {
			Projects []struct {
				ProjectFolder string `json:"projectFolder"`
			} `json:"projects"`
		}
		if err := json.Unmarshal(stripJSONC(content), &rush); err != nil {
			return "", nil, fmt.Errorf("rush.json: %w", err)
		}
		var folders []string
		for _, p := range rush.Projects {
			if p.ProjectFolder != "" {
				folders = append(folders, p.ProjectFolder)
			}
		}
		return "rush", folders, nil
	}

	// nx/turbo alone imply conventional layouts when package.json carries
	// no workspaces field.
	for _, marker := range []string{"nx.json", "turbo.json"} {
		if _, e := os.Stat(filepath.Join(root, marker)); e == nil {
			return strings.TrimSuffix(marker, ".json"), []string{"packages/*", "apps/*", "libs/*"}, nil
		}
	}

	return "", nil, nil
}

// workspaceGlobs decodes package.json "workspaces": a string array or an
// object with a "packages" array.
func workspaceGlobs(raw json.RawMessage) ([]string, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr, nil
	}
	var obj struct {
		Packages []string `json:"packages"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	return obj.Packages, nil
}

// resolvePackageGlobs expands workspace globs to repo-relative directories
// containing a package.json. Negation patterns are applied after expansion.
func resolvePackageGlobs(root string, globs []string) []string {
	seen := make(map[string]bool)
	var dirs []string
	var negations []string

	for _, g := range globs {
		g = strings.TrimSpace(strings.TrimSuffix(g, "/"))
		if g == "" {
			continue
		}
		if strings.HasPrefix(g, "!") {
			negations = append(negations, strings.TrimPrefix(g, "!"))
			continue
		}
		for _, dir := range expandGlob(root, g) {
			if !seen[dir] {
				seen[dir] = true
				dirs = append(dirs, dir)
			}
		}
	}

	if len(negations) == 0 {
		sort.Strings(dirs)
		return dirs
	}
	var kept []string
	for _, dir := range dirs {
		excluded := false
		for _, n := range negations {
			if ok, _ := filepath.Match(n, dir); ok || strings.HasPrefix(dir, strings.TrimSuffix(n, "/*")+"/") {
				excluded = true
				break
			}
		}
		if !excluded {
			kept = append(kept, dir)
		}
	}
	sort.Strings(kept)
	return kept
}

// expandGlob lists directories matching one glob. Patterns with ** walk the
// tree under the static prefix; plain globs go through filepath.Glob.
func expandGlob(root, pattern string) []string {
	var out []string

	if strings.Contains(pattern, "**") {
		prefix, _, _ := strings.Cut(pattern, "**")
		prefix = strings.TrimSuffix(prefix, "/")
		base := filepath.Join(root, filepath.FromSlash(prefix))
		_ = filepath.WalkDir(base, func(p string, entry os.DirEntry, err error) error {
			if err != nil || !entry.IsDir() {
				return nil
			}
			if entry.Name() == "node_modules" || strings.HasPrefix(entry.Name(), ".") && p != base {
				return filepath.SkipDir
			}
			if hasPackageManifest(p) {
				if rel, err := filepath.Rel(root, p); err == nil && rel != "." {
					out = append(out, filepath.ToSlash(rel))
				}
			}
			return nil
		})
		return out
	}

	matches, err := filepath.Glob(filepath.Join(root, filepath.FromSlash(pattern)))
	if err != nil {
		return nil
	}
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.IsDir() || !hasPackageManifest(m) {
			continue
		}
		if rel, err := filepath.Rel(root, m); err == nil {
			out = append(out, filepath.ToSlash(rel))
		}
	}
	return out
}

func hasPackageManifest(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "package.json"))
	return err == nil
}

// readPackage loads one workspace package manifest.
func (d *WorkspaceDetector) readPackage(root, relDir, repoID string) (model.Workspace, bool) {
	abs := filepath.Join(root, filepath.FromSlash(relDir))
	manifest, err := readManifest(filepath.Join(abs, "package.json"))
	if err != nil {
		d.logger.Debug("workspace manifest unreadable",
			slog.String("dir", relDir),
			slog.String("error", err.Error()))
		return model.Workspace{}, false
	}

	name := manifest.Name
	if name == "" {
		name = filepath.Base(relDir)
	}
	return model.Workspace{
		WorkspaceID:     name,
		RepoID:          repoID,
		Name:            name,
		AbsolutePath:    abs,
		RelativePath:    relDir,
		Dependencies:    sortedKeys(manifest.Dependencies),
		DevDependencies: sortedKeys(manifest.DevDependencies),
		Private:         manifest.Private,
	}, true
}

func readManifest(path string) (*packageManifest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m packageManifest
	if err := json.Unmarshal(content, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// InternalDependencies filters each workspace's dependency set down to
// sibling workspaces of the same repository, the edges of the intra-repo
// graph.
func InternalDependencies(workspaces []model.Workspace) map[string][]string {
	names := make(map[string]bool, len(workspaces))
	for _, ws := range workspaces {
		names[ws.Name] = true
	}

	edges := make(map[string][]string, len(workspaces))
	for _, ws := range workspaces {
		var internal []string
		for _, dep := range ws.Dependencies {
			if names[dep] && dep != ws.Name {
				internal = append(internal, dep)
			}
		}
		for _, dep := range ws.DevDependencies {
			if names[dep] && dep != ws.Name && !contains(internal, dep) {
				internal = append(internal, dep)
			}
		}
		sort.Strings(internal)
		edges[ws.Name] = internal
	}
	return edges
}

func contains(items []string, v string) bool {
	for _, item := range items {
		if item == v {
			return true
		}
	}
	return false
}

// WorkspaceFor maps a repo-relative file path to the workspace owning it,
// deepest path first.
func WorkspaceFor(workspaces []model.Workspace, filePath string) (string, bool) {
	best := ""
	bestLen := -1
	for _, ws := range workspaces {
		prefix := ws.RelativePath + "/"
		if strings.HasPrefix(filePath, prefix) && len(ws.RelativePath) > bestLen {
			best = ws.WorkspaceID
			bestLen = len(ws.RelativePath)
		}
	}
	return best, bestLen >= 0
}
