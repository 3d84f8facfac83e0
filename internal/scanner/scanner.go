// Package scanner walks a repository root and streams the files worth
// indexing. The walk prunes ignored directories, honors the .gitignore chain
// (root plus nested files), skips symlinks, binaries, and oversized files,
// and emits line counts and content hashes for incremental reconciliation.
package scanner

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cindex-dev/cindex/internal/gitignore"
)

// DefaultMaxFileBytes caps how large a file the scanner will read. The
// line-count gate runs later; this guard only keeps huge artifacts from
// being read at all.
const DefaultMaxFileBytes = 10 * 1024 * 1024

// matcherCacheSize bounds the per-directory gitignore matcher cache.
const matcherCacheSize = 1024

// Options configures one scan.
type Options struct {
	// Root is the repository root to walk.
	Root string

	// RespectGitignore enables the .gitignore chain.
	RespectGitignore bool

	// FollowSymlinks includes symlinked files. Off by default; symlink
	// cycles are the caller's problem when enabled.
	FollowSymlinks bool

	// MaxFileBytes overrides DefaultMaxFileBytes when positive.
	MaxFileBytes int64
}

// DiscoveredFile is one file that passed every gate.
type DiscoveredFile struct {
	Path        string // relative to root, slash-separated
	AbsPath     string
	Size        int64
	ModTime     time.Time
	Lines       int
	Language    string
	ContentType ContentType
	ContentHash string // hex SHA-256 of the content
}

// Result carries either a discovered file or a per-file error. Errors are
// non-fatal; the stream continues past them.
type Result struct {
	File *DiscoveredFile
	Err  error
}

// Scanner discovers indexable files. One Scanner may serve many scans; the
// gitignore matcher cache is shared and LRU-bounded.
type Scanner struct {
	matchers *lru.Cache[string, *gitignore.Matcher]
}

func New() (*Scanner, error) {
	cache, err := lru.New[string, *gitignore.Matcher](matcherCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create matcher cache: %w", err)
	}
	return &Scanner{matchers: cache}, nil
}

// Scan walks opts.Root and streams results. The channel closes when the walk
// finishes or ctx is cancelled. The walk itself is sequential; consumers fan
// out from the channel.
func (s *Scanner) Scan(ctx context.Context, opts Options) (<-chan Result, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", root)
	}

	maxBytes := opts.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}

	results := make(chan Result, 64)
	go func() {
		defer close(results)
		s.walk(ctx, root, opts, maxBytes, results)
	}()
	return results, nil
}

func (s *Scanner) walk(ctx context.Context, root string, opts Options, maxBytes int64, results chan<- Result) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return nil // unreadable entry, keep walking
		}

		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if ignoredDirs[d.Name()] {
				return filepath.SkipDir
			}
			// Re-inclusion under an ignored directory is impossible in
			// gitignore, so pruning here cannot hide wanted files.
			if opts.RespectGitignore && s.gitignored(root, rel, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 && !opts.FollowSymlinks {
			return nil
		}
		if ignoredFile(d.Name()) {
			return nil
		}
		if opts.RespectGitignore && s.gitignored(root, rel, false) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > maxBytes {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			send(ctx, results, Result{Err: fmt.Errorf("read %s: %w", rel, err)})
			return nil
		}
		if isBinary(content) {
			return nil
		}

		lang := DetectLanguage(rel)
		sum := sha256.Sum256(content)
		f := &DiscoveredFile{
			Path:        rel,
			AbsPath:     path,
			Size:        info.Size(),
			ModTime:     info.ModTime(),
			Lines:       countLines(content),
			Language:    lang,
			ContentType: ContentTypeFor(lang),
			ContentHash: hex.EncodeToString(sum[:]),
		}
		if !send(ctx, results, Result{File: f}) {
			return ctx.Err()
		}
		return nil
	})

	if err != nil && err != context.Canceled {
		send(ctx, results, Result{Err: err})
	}
}

func send(ctx context.Context, results chan<- Result, r Result) bool {
	select {
	case results <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// gitignored checks rel against the root .gitignore and every nested
// .gitignore on the path to it.
func (s *Scanner) gitignored(root, rel string, isDir bool) bool {
	if m := s.matcher(root, ""); m != nil && m.Match(rel, isDir) {
		return true
	}

	dir := filepath.Dir(rel)
	if dir == "." {
		return false
	}
	base := ""
	for _, part := range strings.Split(dir, "/") {
		if base == "" {
			base = part
		} else {
			base = base + "/" + part
		}
		if m := s.matcher(filepath.Join(root, filepath.FromSlash(base)), base); m != nil && m.Match(rel, isDir) {
			return true
		}
	}
	return false
}

// matcher returns the cached matcher for dir, or nil when dir has no
// .gitignore. Negative results are cached too.
func (s *Scanner) matcher(dir, base string) *gitignore.Matcher {
	if m, ok := s.matchers.Get(dir); ok {
		return m
	}

	var m *gitignore.Matcher
	path := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(path); err == nil {
		m = gitignore.New()
		if err := m.Load(path, base); err != nil {
			m = nil
		}
	}
	s.matchers.Add(dir, m)
	return m
}

// InvalidateMatchers drops every cached gitignore matcher. The watcher calls
// this when a .gitignore file changes.
func (s *Scanner) InvalidateMatchers() {
	s.matchers.Purge()
}

func isBinary(content []byte) bool {
	head := content
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.IndexByte(head, 0) >= 0
}

func countLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := bytes.Count(content, []byte{'\n'})
	if content[len(content)-1] != '\n' {
		n++
	}
	return n
}

// ignoredDirs are directory names never worth descending into: dependency
// trees, build output, VCS metadata, IDE state, and credential directories.
var ignoredDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"out":          true,
	".next":        true,
	".nuxt":        true,
	".cache":       true,
	"coverage":     true,
	".idea":        true,
	".vscode":      true,
	".terraform":   true,
	".aws":         true,
	".gcp":         true,
	".azure":       true,
	".ssh":         true,
}

// IgnoredDir reports whether a directory name is never worth watching or
// walking. Shared with the filesystem watcher so both prune the same trees.
func IgnoredDir(name string) bool {
	return ignoredDirs[name]
}

var ignoredFileSuffixes = []string{
	".min.js",
	".min.css",
	".map",
	".lock",
}

var ignoredFileNames = map[string]bool{
	"package-lock.json": true,
	"pnpm-lock.yaml":    true,
	"go.sum":            true,
	".DS_Store":         true,
}

func ignoredFile(name string) bool {
	if ignoredFileNames[name] {
		return true
	}
	for _, suffix := range ignoredFileSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
