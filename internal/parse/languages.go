package parse

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/cindex-dev/cindex/internal/model"
)

// grammar binds a language name to its tree-sitter grammar and the node
// types the extractor recognizes while walking the tree.
type grammar struct {
	Name       string
	Language   *sitter.Language
	Extensions []string

	// DeclNodes maps declaration node types to the symbol kind they
	// produce. Kinds are refined per language during extraction (a Go
	// type_declaration becomes class/interface/type depending on the
	// underlying type).
	DeclNodes map[string]model.SymbolKind

	// ImportNodes holds the node types of import statements.
	ImportNodes map[string]bool

	// CommentNodes holds comment node types, used to attach doc comments
	// to the declaration below them.
	CommentNodes map[string]bool

	// PackageNode is the node type declaring the compilation unit's
	// package or module, when the language has one.
	PackageNode string

	// ExportNode wraps exported declarations in languages with explicit
	// export statements.
	ExportNode string
}

var goGrammar = &grammar{
	Name:       "go",
	Language:   golang.GetLanguage(),
	Extensions: []string{".go"},
	DeclNodes: map[string]model.SymbolKind{
		"function_declaration": model.SymbolKindFunction,
		"method_declaration":   model.SymbolKindMethod,
		"type_declaration":     model.SymbolKindType,
		"const_declaration":    model.SymbolKindConstant,
		"var_declaration":      model.SymbolKindVariable,
	},
	ImportNodes:  map[string]bool{"import_declaration": true},
	CommentNodes: map[string]bool{"comment": true},
	PackageNode:  "package_clause",
}

var javascriptGrammar = &grammar{
	Name:       "javascript",
	Language:   javascript.GetLanguage(),
	Extensions: []string{".js", ".jsx", ".mjs", ".cjs"},
	DeclNodes: map[string]model.SymbolKind{
		"function_declaration":           model.SymbolKindFunction,
		"generator_function_declaration": model.SymbolKindFunction,
		"class_declaration":              model.SymbolKindClass,
		"lexical_declaration":            model.SymbolKindVariable,
		"variable_declaration":           model.SymbolKindVariable,
	},
	ImportNodes:  map[string]bool{"import_statement": true},
	CommentNodes: map[string]bool{"comment": true},
	ExportNode:   "export_statement",
}

func typescriptDecls() map[string]model.SymbolKind {
	return map[string]model.SymbolKind{
		"function_declaration":           model.SymbolKindFunction,
		"generator_function_declaration": model.SymbolKindFunction,
		"class_declaration":              model.SymbolKindClass,
		"abstract_class_declaration":     model.SymbolKindClass,
		"interface_declaration":          model.SymbolKindInterface,
		"type_alias_declaration":         model.SymbolKindType,
		"enum_declaration":               model.SymbolKindType,
		"lexical_declaration":            model.SymbolKindVariable,
		"variable_declaration":           model.SymbolKindVariable,
	}
}

var typescriptGrammar = &grammar{
	Name:         "typescript",
	Language:     typescript.GetLanguage(),
	Extensions:   []string{".ts"},
	DeclNodes:    typescriptDecls(),
	ImportNodes:  map[string]bool{"import_statement": true},
	CommentNodes: map[string]bool{"comment": true},
	ExportNode:   "export_statement",
}

var tsxGrammar = &grammar{
	Name:         "tsx",
	Language:     tsx.GetLanguage(),
	Extensions:   []string{".tsx"},
	DeclNodes:    typescriptDecls(),
	ImportNodes:  map[string]bool{"import_statement": true},
	CommentNodes: map[string]bool{"comment": true},
	ExportNode:   "export_statement",
}

var pythonGrammar = &grammar{
	Name:       "python",
	Language:   python.GetLanguage(),
	Extensions: []string{".py", ".pyi"},
	DeclNodes: map[string]model.SymbolKind{
		"function_definition":  model.SymbolKindFunction,
		"class_definition":     model.SymbolKindClass,
		"decorated_definition": model.SymbolKindFunction,
	},
	ImportNodes: map[string]bool{
		"import_statement":      true,
		"import_from_statement": true,
	},
	CommentNodes: map[string]bool{"comment": true},
}

var javaGrammar = &grammar{
	Name:       "java",
	Language:   java.GetLanguage(),
	Extensions: []string{".java"},
	DeclNodes: map[string]model.SymbolKind{
		"class_declaration":     model.SymbolKindClass,
		"interface_declaration": model.SymbolKindInterface,
		"enum_declaration":      model.SymbolKindClass,
		"record_declaration":    model.SymbolKindClass,
	},
	ImportNodes: map[string]bool{"import_declaration": true},
	CommentNodes: map[string]bool{
		"line_comment":  true,
		"block_comment": true,
	},
	PackageNode: "package_declaration",
}

// grammars is keyed by the language names the scanner emits.
var grammars = map[string]*grammar{
	"go":         goGrammar,
	"javascript": javascriptGrammar,
	"typescript": typescriptGrammar,
	"tsx":        tsxGrammar,
	"python":     pythonGrammar,
	"java":       javaGrammar,
}

// grammarFor returns the tree-sitter grammar for a language, or nil when the
// language has no grammar and must go through the regex fallback.
func grammarFor(language string) *grammar {
	return grammars[language]
}

// TreeSitterLanguages lists the languages with a compiled grammar.
func TreeSitterLanguages() []string {
	names := make([]string, 0, len(grammars))
	for name := range grammars {
		names = append(names, name)
	}
	return names
}
