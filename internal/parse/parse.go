// Package parse turns source files into structural facts: imports, exports,
// top-level declarations with spans, and markdown sections. Parsers are
// pluggable per language; the registry prefers tree-sitter grammars and falls
// back to regex extraction. Malformed input yields a best-effort result with
// Partial set instead of an error.
package parse

import (
	"context"
	"errors"

	"github.com/cindex-dev/cindex/internal/model"
)

// ErrUnsupported is returned when no parser handles the file. Callers treat
// the file as plain text.
var ErrUnsupported = errors.New("no parser supports this file")

// Parser extracts structure from one family of files.
type Parser interface {
	CanParse(path string) bool
	Parse(ctx context.Context, path string, content []byte) (*Result, error)
	SupportedExtensions() []string
}

// Declaration is a named definition with its source span. StartLine is the
// line of the declaration itself; DocLines counts the comment lines
// immediately above it.
type Declaration struct {
	Name      string
	Kind      model.SymbolKind
	StartLine int // 1-indexed
	EndLine   int // inclusive
	Signature string
	Doc       string
	DocLines  int
	Exported  bool

	// Members holds the methods of class-like declarations, one level deep.
	Members []Declaration
}

// Import is one import statement. Symbols lists the named symbols the
// statement brings into scope, for languages that import symbols rather
// than modules.
type Import struct {
	Path    string
	Alias   string
	Symbols []string
}

// Section is a markdown heading section. HeadingPath is the chain of titles
// from the top level down to this section.
type Section struct {
	Level       int
	Title       string
	HeadingPath []string
	StartLine   int // 1-indexed, the heading line (or 1 for preamble)
	EndLine     int // inclusive
}

// Fence is a fenced code block inside a markdown file.
type Fence struct {
	Language  string
	StartLine int
	EndLine   int
}

// Result is the structure extracted from one file. Code parsers fill
// Imports/Exports/Declarations; the markdown parser fills Sections/Fences.
type Result struct {
	Language     string
	Package      string
	Imports      []Import
	Exports      []string
	Declarations []Declaration
	Sections     []Section
	Fences       []Fence
	Partial      bool
}

// ImportPaths returns the import targets in order.
func (r *Result) ImportPaths() []string {
	if len(r.Imports) == 0 {
		return nil
	}
	paths := make([]string, 0, len(r.Imports))
	for _, imp := range r.Imports {
		paths = append(paths, imp.Path)
	}
	return paths
}

// ImportedSymbols returns every named symbol brought in by imports, in order.
func (r *Result) ImportedSymbols() []string {
	var names []string
	for _, imp := range r.Imports {
		names = append(names, imp.Symbols...)
	}
	return names
}

// FunctionNames returns function and method names, members included.
func (r *Result) FunctionNames() []string {
	var names []string
	for _, d := range r.Declarations {
		if d.Kind == model.SymbolKindFunction || d.Kind == model.SymbolKindMethod {
			names = append(names, d.Name)
		}
		for _, m := range d.Members {
			if m.Kind == model.SymbolKindFunction || m.Kind == model.SymbolKindMethod {
				names = append(names, m.Name)
			}
		}
	}
	return names
}

// ClassNames returns class, interface, and named type declarations.
func (r *Result) ClassNames() []string {
	var names []string
	for _, d := range r.Declarations {
		switch d.Kind {
		case model.SymbolKindClass, model.SymbolKindInterface, model.SymbolKindType:
			names = append(names, d.Name)
		}
	}
	return names
}
