package detect

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cindex-dev/cindex/internal/model"
)

// serviceDirs are the layout roots probed for per-directory services.
var serviceDirs = []string{"services", "apps"}

// composeNames are the docker-compose manifests probed at the repo root.
var composeNames = []string{
	"docker-compose.yml", "docker-compose.yaml", "compose.yml", "compose.yaml",
}

// ServiceTopology holds detected services and the directory each one owns.
type ServiceTopology struct {
	Services []model.Service

	dirs map[string]string // service ID → repo-relative dir, "" = whole repo
}

// ServiceFor maps a repo-relative file path to the owning service, deepest
// directory first.
func (t *ServiceTopology) ServiceFor(filePath string) (string, bool) {
	best := ""
	bestLen := -1
	for id, dir := range t.dirs {
		if dir == "" {
			if bestLen < 0 {
				best, bestLen = id, 0
			}
			continue
		}
		if strings.HasPrefix(filePath, dir+"/") && len(dir) > bestLen {
			best, bestLen = id, len(dir)
		}
	}
	return best, bestLen >= 0
}

// AssignFiles distributes repo-relative paths onto the services' file sets.
func (t *ServiceTopology) AssignFiles(paths []string) {
	byID := make(map[string][]string)
	for _, p := range paths {
		if id, ok := t.ServiceFor(p); ok {
			byID[id] = append(byID[id], p)
		}
	}
	for i := range t.Services {
		files := byID[t.Services[i].ServiceID]
		sort.Strings(files)
		t.Services[i].Files = files
	}
}

// Dir returns the directory a service owns.
func (t *ServiceTopology) Dir(serviceID string) string {
	return t.dirs[serviceID]
}

// AddRootService registers a whole-repo service and returns its ID. Used
// when endpoints were extracted but no service boundary was detected, so
// the endpoints still have an owner.
func (t *ServiceTopology) AddRootService(repoID, name string, kind model.ServiceKind) string {
	id := serviceID(name)
	if id == "" {
		id = repoID
	}
	if t.dirs == nil {
		t.dirs = make(map[string]string)
	}
	if _, exists := t.dirs[id]; exists {
		return id
	}
	t.dirs[id] = ""
	t.Services = append(t.Services, model.Service{
		ServiceID: id,
		RepoID:    repoID,
		Name:      name,
		Kind:      kind,
	})
	return id
}

// ServiceDetector infers service boundaries from compose files, service
// manifests, and directory layout.
type ServiceDetector struct {
	logger *slog.Logger
}

func NewServiceDetector(logger *slog.Logger) *ServiceDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ServiceDetector{logger: logger}
}

// Detect probes root for services. Compose entries come first, then layout
// directories (services/, apps/) not already claimed, then a root-level
// fallback when the repo itself ships a Dockerfile or serverless manifest.
// A repo with no service markers returns an empty topology.
func (d *ServiceDetector) Detect(ctx context.Context, root, repoID string) (*ServiceTopology, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	topo := &ServiceTopology{dirs: make(map[string]string)}

	composeDirs, err := d.composeServices(root, repoID, topo)
	if err != nil {
		return nil, err
	}

	for _, layout := range serviceDirs {
		entries, err := os.ReadDir(filepath.Join(root, layout))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			dir := layout + "/" + entry.Name()
			if composeDirs[dir] || !hasServiceManifest(filepath.Join(root, dir)) {
				continue
			}
			d.addService(topo, repoID, entry.Name(), dir, d.dirKind(filepath.Join(root, dir)))
		}
	}

	if len(topo.Services) == 0 {
		if kind, ok := d.rootKind(root); ok {
			name := filepath.Base(root)
			d.addService(topo, repoID, name, "", kind)
		}
	}

	sort.Slice(topo.Services, func(i, j int) bool {
		return topo.Services[i].ServiceID < topo.Services[j].ServiceID
	})
	d.logger.Debug("service detection done", slog.Int("services", len(topo.Services)))
	return topo, nil
}

// composeServices reads the first compose manifest and registers one docker
// service per entry. Returns the set of directories claimed by build
// contexts.
func (d *ServiceDetector) composeServices(root, repoID string, topo *ServiceTopology) (map[string]bool, error) {
	claimed := make(map[string]bool)

	var content []byte
	for _, name := range composeNames {
		c, err := os.ReadFile(filepath.Join(root, name))
		if err == nil {
			content = c
			break
		}
	}
	if content == nil {
		return claimed, nil
	}

	var compose struct {
		Services map[string]struct {
			Build any    `yaml:"build"`
			Image string `yaml:"image"`
		} `yaml:"services"`
	}
	if err := yaml.Unmarshal(content, &compose); err != nil {
		d.logger.Debug("compose manifest parse failed", slog.String("error", err.Error()))
		return claimed, nil
	}

	names := make([]string, 0, len(compose.Services))
	for name := range compose.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		svc := compose.Services[name]
		dir := buildContext(svc.Build)
		if dir != "" {
			claimed[dir] = true
		}
		d.addService(topo, repoID, name, dir, model.ServiceKindDocker)
	}
	return claimed, nil
}

// buildContext extracts the build context directory from a compose build
// value (either a string or a mapping with "context").
func buildContext(build any) string {
	var ctx string
	switch v := build.(type) {
	case string:
		ctx = v
	case map[string]any:
		if c, ok := v["context"].(string); ok {
			ctx = c
		}
	}
	ctx = strings.TrimPrefix(ctx, "./")
	ctx = strings.TrimSuffix(ctx, "/")
	if ctx == "." {
		return ""
	}
	return ctx
}

// dirKind classifies a layout-directory service.
func (d *ServiceDetector) dirKind(abs string) model.ServiceKind {
	if _, err := os.Stat(filepath.Join(abs, "Dockerfile")); err == nil {
		return model.ServiceKindDocker
	}
	if hasServerlessManifest(abs) {
		return model.ServiceKindServerless
	}
	manifest, err := readManifest(filepath.Join(abs, "package.json"))
	if err == nil {
		if isMobileManifest(manifest) {
			return model.ServiceKindMobile
		}
		if isLibraryManifest(abs, manifest) {
			return model.ServiceKindLibrary
		}
	}
	return model.ServiceKindOther
}

// rootKind decides whether the repository root itself is one service.
func (d *ServiceDetector) rootKind(root string) (model.ServiceKind, bool) {
	if hasServerlessManifest(root) {
		return model.ServiceKindServerless, true
	}
	if _, err := os.Stat(filepath.Join(root, "Dockerfile")); err == nil {
		return model.ServiceKindDocker, true
	}
	if manifest, err := readManifest(filepath.Join(root, "package.json")); err == nil && isMobileManifest(manifest) {
		return model.ServiceKindMobile, true
	}
	return "", false
}

func (d *ServiceDetector) addService(topo *ServiceTopology, repoID, name, dir string, kind model.ServiceKind) {
	id := serviceID(name)
	if _, exists := topo.dirs[id]; exists {
		return
	}
	topo.dirs[id] = dir
	topo.Services = append(topo.Services, model.Service{
		ServiceID: id,
		RepoID:    repoID,
		Name:      name,
		Kind:      kind,
	})
}

// hasServiceManifest reports whether a directory looks like a buildable
// service rather than a stray folder.
func hasServiceManifest(abs string) bool {
	for _, name := range []string{"package.json", "go.mod", "pyproject.toml", "requirements.txt", "pom.xml", "Dockerfile", "Cargo.toml"} {
		if _, err := os.Stat(filepath.Join(abs, name)); err == nil {
			return true
		}
	}
	return false
}

func hasServerlessManifest(abs string) bool {
	for _, name := range []string{"serverless.yml", "serverless.yaml"} {
		if _, err := os.Stat(filepath.Join(abs, name)); err == nil {
			return true
		}
	}
	return false
}

// isMobileManifest checks for react-native or expo dependencies.
func isMobileManifest(m *packageManifest) bool {
	for dep := range m.Dependencies {
		if dep == "react-native" || dep == "expo" {
			return true
		}
	}
	return false
}

// isLibraryManifest treats a package with an entry point and no Dockerfile
// as a library.
func isLibraryManifest(abs string, m *packageManifest) bool {
	content, err := os.ReadFile(filepath.Join(abs, "package.json"))
	if err != nil {
		return false
	}
	var entry struct {
		Main    string          `json:"main"`
		Module  string          `json:"module"`
		Exports json.RawMessage `json:"exports"`
	}
	if err := json.Unmarshal(content, &entry); err != nil {
		return false
	}
	return entry.Main != "" || entry.Module != "" || len(entry.Exports) > 0
}

// serviceID slugs a service name into a stable identifier.
func serviceID(name string) string {
	id := strings.ToLower(strings.TrimSpace(name))
	id = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ', r == '/', r == '.':
			return '-'
		}
		return -1
	}, id)
	return strings.Trim(id, "-")
}
