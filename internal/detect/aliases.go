package detect

import (
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// WorkspaceConfig is the workspace-resolution state persisted on the
// repository row. Import expansion loads it back at query time to resolve
// aliased imports without re-probing manifests.
type WorkspaceConfig struct {
	Tool     string              `json:"tool,omitempty"`     // manifest that matched (pnpm, npm, lerna, ...)
	Packages map[string]string   `json:"packages,omitempty"` // package name → repo-relative dir
	BaseURL  string              `json:"base_url,omitempty"` // tsconfig compilerOptions.baseUrl
	Paths    map[string][]string `json:"paths,omitempty"`    // tsconfig compilerOptions.paths
}

// ParseWorkspaceConfig decodes a stored blob; empty input yields an empty
// config rather than an error.
func ParseWorkspaceConfig(blob string) (*WorkspaceConfig, error) {
	cfg := &WorkspaceConfig{}
	if strings.TrimSpace(blob) == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(blob), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Encode renders the config as the blob stored on the repository row.
func (c *WorkspaceConfig) Encode() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Resolve maps an aliased or package import to a repo-relative path prefix.
// Precedence: exact workspace package name (or a subpath under one), then
// tsconfig paths patterns in order of decreasing specificity, then baseUrl.
// The result is a directory or file stem; extension probing is the caller's
// concern.
func (c *WorkspaceConfig) Resolve(importPath string) (string, bool) {
	if importPath == "" {
		return "", false
	}

	if dir, ok := c.Packages[importPath]; ok {
		return dir, true
	}
	for name, dir := range c.Packages {
		if strings.HasPrefix(importPath, name+"/") {
			return path.Join(dir, strings.TrimPrefix(importPath, name+"/")), true
		}
	}

	for _, pattern := range sortedPatterns(c.Paths) {
		targets := c.Paths[pattern]
		if len(targets) == 0 {
			continue
		}
		if sub, ok := matchAliasPattern(pattern, importPath); ok {
			resolved := substituteAlias(targets[0], sub)
			return path.Join(c.BaseURL, resolved), true
		}
	}

	if c.BaseURL != "" && !strings.HasPrefix(importPath, ".") {
		return path.Join(c.BaseURL, importPath), true
	}
	return "", false
}

// sortedPatterns orders alias patterns longest-prefix-first so the most
// specific pattern wins, with a stable tie-break.
func sortedPatterns(paths map[string][]string) []string {
	out := make([]string, 0, len(paths))
	for p := range paths {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := strings.TrimSuffix(out[i], "*"), strings.TrimSuffix(out[j], "*")
		if len(pi) != len(pj) {
			return len(pi) > len(pj)
		}
		return out[i] < out[j]
	})
	return out
}

// matchAliasPattern matches a tsconfig paths key ("@app/*" or exact) and
// returns the wildcard remainder.
func matchAliasPattern(pattern, importPath string) (string, bool) {
	if !strings.Contains(pattern, "*") {
		return "", pattern == importPath
	}
	prefix, suffix, _ := strings.Cut(pattern, "*")
	if !strings.HasPrefix(importPath, prefix) || !strings.HasSuffix(importPath, suffix) {
		return "", false
	}
	return importPath[len(prefix) : len(importPath)-len(suffix)], true
}

func substituteAlias(target, sub string) string {
	if strings.Contains(target, "*") {
		return strings.Replace(target, "*", sub, 1)
	}
	return target
}

// tsconfig is the subset of tsconfig.json/jsconfig.json the resolver needs.
type tsconfig struct {
	CompilerOptions struct {
		BaseURL string              `json:"baseUrl"`
		Paths   map[string][]string `json:"paths"`
	} `json:"compilerOptions"`
}

// LoadTSConfigAliases reads tsconfig.json (or jsconfig.json) under root and
// fills the alias fields. Missing files are not an error.
func LoadTSConfigAliases(root string, cfg *WorkspaceConfig) error {
	for _, name := range []string{"tsconfig.json", "jsconfig.json"} {
		content, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		return ParseTSConfigAliases(content, cfg)
	}
	return nil
}

// ParseTSConfigAliases extracts baseUrl and paths from tsconfig content.
// tsconfig allows comments and trailing commas, so those are stripped
// before decoding.
func ParseTSConfigAliases(content []byte, cfg *WorkspaceConfig) error {
	var tc tsconfig
	if err := json.Unmarshal(stripJSONC(content), &tc); err != nil {
		return err
	}
	base := strings.TrimPrefix(tc.CompilerOptions.BaseURL, "./")
	if base == "." {
		base = ""
	}
	cfg.BaseURL = base
	if len(tc.CompilerOptions.Paths) > 0 {
		cfg.Paths = make(map[string][]string, len(tc.CompilerOptions.Paths))
		for k, v := range tc.CompilerOptions.Paths {
			cleaned := make([]string, 0, len(v))
			for _, t := range v {
				cleaned = append(cleaned, strings.TrimPrefix(t, "./"))
			}
			cfg.Paths[k] = cleaned
		}
	}
	return nil
}

// stripJSONC removes // and /* */ comments plus trailing commas so the
// stdlib decoder accepts tsconfig-flavored JSON.
func stripJSONC(content []byte) []byte {
	out := make([]byte, 0, len(content))
	inString := false
	inLine := false
	inBlock := false

	for i := 0; i < len(content); i++ {
		c := content[i]
		switch {
		case inLine:
			if c == '\n' {
				inLine = false
				out = append(out, c)
			}
		case inBlock:
			if c == '*' && i+1 < len(content) && content[i+1] == '/' {
				inBlock = false
				i++
			}
		case inString:
			out = append(out, c)
			if c == '\\' && i+1 < len(content) {
				i++
				out = append(out, content[i])
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
			out = append(out, c)
		case c == '/' && i+1 < len(content) && content[i+1] == '/':
			inLine = true
			i++
		case c == '/' && i+1 < len(content) && content[i+1] == '*':
			inBlock = true
			i++
		default:
			out = append(out, c)
		}
	}
	return stripTrailingCommas(out)
}

func stripTrailingCommas(content []byte) []byte {
	out := make([]byte, 0, len(content))
	inString := false
	for i := 0; i < len(content); i++ {
		c := content[i]
		if inString {
			out = append(out, c)
			if c == '\\' && i+1 < len(content) {
				i++
				out = append(out, content[i])
			} else if c == '"' {
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out = append(out, c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(content) && (content[j] == ' ' || content[j] == '\t' || content[j] == '\n' || content[j] == '\r') {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}
