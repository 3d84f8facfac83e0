// Package detect holds the indexing-time detectors: the secret-file and
// large-file gates, workspace and service topology discovery, and API
// endpoint extraction from code and specification files.
package detect

import (
	"path"
	"strings"
	"sync"
)

// DefaultSecretPatterns are the path globs excluded from indexing unless
// the operator replaces them. Patterns without a slash match the base name.
var DefaultSecretPatterns = []string{
	".env",
	".env.*",
	"*credentials*",
	"*secret*",
	"*password*",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*.jks",
	"*.keystore",
	".npmrc",
	".pypirc",
	".netrc",
	".dockercfg",
}

// envAllowlist names the .env variants that carry no real values and stay
// indexable.
var envAllowlist = map[string]bool{
	".env.example":  true,
	".env.sample":   true,
	".env.template": true,
	".env.dist":     true,
	".env.tmpl":     true,
}

// SecretFilter matches file paths against secret globs and counts matches
// per pattern. Safe for concurrent use.
type SecretFilter struct {
	patterns []string

	mu     sync.Mutex
	counts map[string]int64
}

// NewSecretFilter builds a filter from the defaults plus custom patterns.
// With replace set, custom patterns substitute the defaults entirely.
func NewSecretFilter(custom []string, replace bool) *SecretFilter {
	var patterns []string
	if !replace {
		patterns = append(patterns, DefaultSecretPatterns...)
	}
	for _, p := range custom {
		p = strings.TrimSpace(p)
		if p != "" {
			patterns = append(patterns, p)
		}
	}
	return &SecretFilter{
		patterns: patterns,
		counts:   make(map[string]int64),
	}
}

// Match reports whether the slash-separated relative path hits a secret
// pattern, returning the pattern that matched. Matching is case-insensitive;
// allowlisted .env variants never match.
func (f *SecretFilter) Match(relPath string) (string, bool) {
	base := strings.ToLower(path.Base(relPath))
	if envAllowlist[base] {
		return "", false
	}
	lowered := strings.ToLower(relPath)

	for _, pattern := range f.patterns {
		target := base
		if strings.Contains(pattern, "/") {
			target = lowered
		}
		ok, err := path.Match(strings.ToLower(pattern), target)
		if err != nil || !ok {
			continue
		}
		f.mu.Lock()
		f.counts[pattern]++
		f.mu.Unlock()
		return pattern, true
	}
	return "", false
}

// Counts returns a copy of the per-pattern match counters.
func (f *SecretFilter) Counts() map[string]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64, len(f.counts))
	for k, v := range f.counts {
		out[k] = v
	}
	return out
}

// Patterns returns the active pattern list.
func (f *SecretFilter) Patterns() []string {
	out := make([]string, len(f.patterns))
	copy(out, f.patterns)
	return out
}
