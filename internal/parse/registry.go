package parse

import (
	"context"
	"errors"

	"github.com/cindex-dev/cindex/internal/scanner"
)

// Mode selects how code files are parsed.
type Mode string

const (
	// ModeAuto tries the tree-sitter grammar first and falls back to the
	// regex parser when the grammar fails outright.
	ModeAuto Mode = "auto"
	// ModeTreeSitter parses grammar languages only.
	ModeTreeSitter Mode = "treesitter"
	// ModeRegex uses line patterns only.
	ModeRegex Mode = "regex"
)

// Registry routes files to parsers by language.
type Registry struct {
	mode     Mode
	tree     map[string]*TreeSitterParser
	regex    map[string]*RegexParser
	markdown *MarkdownParser
}

func NewRegistry(mode Mode) *Registry {
	if mode == "" {
		mode = ModeAuto
	}
	r := &Registry{
		mode:     mode,
		tree:     make(map[string]*TreeSitterParser),
		regex:    make(map[string]*RegexParser),
		markdown: NewMarkdown(),
	}
	if mode != ModeRegex {
		for _, lang := range TreeSitterLanguages() {
			if p, err := NewTreeSitter(lang); err == nil {
				r.tree[lang] = p
			}
		}
	}
	if mode != ModeTreeSitter {
		for _, lang := range RegexLanguages() {
			if p, err := NewRegex(lang); err == nil {
				r.regex[lang] = p
			}
		}
	}
	return r
}

// Supports reports whether any parser handles the language.
func (r *Registry) Supports(language string) bool {
	if language == "markdown" {
		return true
	}
	return r.tree[language] != nil || r.regex[language] != nil
}

// Parse detects the language from the path and routes to ParseAs.
func (r *Registry) Parse(ctx context.Context, path string, content []byte) (*Result, error) {
	return r.ParseAs(ctx, scanner.DetectLanguage(path), path, content)
}

// ParseAs parses content already classified as language. ErrUnsupported
// means the caller should treat the file as plain text.
func (r *Registry) ParseAs(ctx context.Context, language, path string, content []byte) (*Result, error) {
	if language == "markdown" {
		return r.markdown.Parse(ctx, path, content)
	}

	ts := r.tree[language]
	rx := r.regex[language]
	switch r.mode {
	case ModeTreeSitter:
		if ts == nil {
			return nil, ErrUnsupported
		}
		return ts.Parse(ctx, path, content)
	case ModeRegex:
		if rx == nil {
			return nil, ErrUnsupported
		}
		return rx.Parse(ctx, path, content)
	}

	if ts != nil {
		res, err := ts.Parse(ctx, path, content)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
	}
	if rx == nil {
		return nil, ErrUnsupported
	}
	res, err := rx.Parse(ctx, path, content)
	if err != nil {
		return nil, err
	}
	if ts != nil {
		// The grammar failed on this input; pattern spans are estimates.
		res.Partial = true
	}
	return res, nil
}
