package parse

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/cindex-dev/cindex/internal/model"
)

// maxScanLines bounds the forward scan when estimating where a declaration
// body ends.
const maxScanLines = 2000

// declPattern matches one declaration form. name is the capture group
// holding the identifier; indent-based languages put the leading whitespace
// in group 1 and the name in group 2.
type declPattern struct {
	re   *regexp.Regexp
	kind model.SymbolKind
	name int
}

type regexRules struct {
	language    string
	extensions  []string
	importREs   []*regexp.Regexp // group 1 is the import target
	decls       []declPattern
	indentBased bool
	closer      string   // block-terminating keyword for indent languages
	comments    []string // line prefixes treated as comments
}

var braceComments = []string{"//", "/*", "*/", "*"}

func pat(kind model.SymbolKind, name int, expr string) declPattern {
	return declPattern{re: regexp.MustCompile(expr), kind: kind, name: name}
}

func imps(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, expr := range exprs {
		out[i] = regexp.MustCompile(expr)
	}
	return out
}

// Go import blocks are stateful, so goRules carries no importREs; the parse
// loop tracks import ( ... ) groups itself.
var goImportSpecRE = regexp.MustCompile(`^(?:(\w+|\.)\s+)?"([^"]+)"`)

var goRules = &regexRules{
	language:   "go",
	extensions: []string{".go"},
	decls: []declPattern{
		pat(model.SymbolKindMethod, 1, `^func\s+\([^)]*\)\s+(\w+)\s*[([]`),
		pat(model.SymbolKindFunction, 1, `^func\s+(\w+)\s*[([]`),
		pat(model.SymbolKindClass, 1, `^type\s+(\w+)\s+struct\b`),
		pat(model.SymbolKindInterface, 1, `^type\s+(\w+)\s+interface\b`),
		pat(model.SymbolKindType, 1, `^type\s+(\w+)\b`),
		pat(model.SymbolKindConstant, 1, `^const\s+(\w+)\b`),
		pat(model.SymbolKindVariable, 1, `^var\s+(\w+)\b`),
	},
	comments: braceComments,
}

func jsDeclPatterns() []declPattern {
	return []declPattern{
		pat(model.SymbolKindFunction, 1, `^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*(\w+)\s*\(`),
		pat(model.SymbolKindClass, 1, `^\s*(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+(\w+)`),
		pat(model.SymbolKindInterface, 1, `^\s*(?:export\s+)?interface\s+(\w+)`),
		pat(model.SymbolKindType, 1, `^\s*(?:export\s+)?type\s+(\w+)\s*=`),
		pat(model.SymbolKindType, 1, `^\s*(?:export\s+)?(?:const\s+)?enum\s+(\w+)`),
		pat(model.SymbolKindFunction, 1, `^\s*(?:export\s+)?(?:const|let|var)\s+(\w+)\s*(?::[^=]+)?=\s*(?:async\s+)?(?:\([^)]*\)|\w+)\s*=>`),
		pat(model.SymbolKindVariable, 1, `^\s*(?:export\s+)?(?:const|let|var)\s+(\w+)\b`),
	}
}

var jsImportREs = []string{
	`^\s*import\s+.*?from\s+['"]([^'"]+)['"]`,
	`^\s*import\s+['"]([^'"]+)['"]`,
	`^\s*export\s+.*?from\s+['"]([^'"]+)['"]`,
	`require\(\s*['"]([^'"]+)['"]\s*\)`,
}

var javascriptRules = &regexRules{
	language:   "javascript",
	extensions: []string{".js", ".jsx", ".mjs", ".cjs"},
	importREs:  imps(jsImportREs...),
	decls:      jsDeclPatterns(),
	comments:   braceComments,
}

var typescriptRules = &regexRules{
	language:   "typescript",
	extensions: []string{".ts"},
	importREs:  imps(jsImportREs...),
	decls:      jsDeclPatterns(),
	comments:   braceComments,
}

var tsxRules = &regexRules{
	language:   "tsx",
	extensions: []string{".tsx"},
	importREs:  imps(jsImportREs...),
	decls:      jsDeclPatterns(),
	comments:   braceComments,
}

var pythonFromImportRE = regexp.MustCompile(`^from\s+([\w.]+)\s+import\s+(.+)$`)

var pythonRules = &regexRules{
	language:    "python",
	extensions:  []string{".py", ".pyi"},
	importREs:   imps(`^import\s+([\w.]+)`),
	indentBased: true,
	decls: []declPattern{
		pat(model.SymbolKindFunction, 2, `^(\s*)(?:async\s+)?def\s+(\w+)\s*\(`),
		pat(model.SymbolKindClass, 2, `^(\s*)class\s+(\w+)`),
	},
	comments: []string{"#"},
}

var javaRules = &regexRules{
	language:   "java",
	extensions: []string{".java"},
	importREs:  imps(`^import\s+(?:static\s+)?([\w.*]+)\s*;`),
	decls: []declPattern{
		pat(model.SymbolKindClass, 1, `^(?:(?:public|protected|private|abstract|final|static)\s+)*class\s+(\w+)`),
		pat(model.SymbolKindInterface, 1, `^(?:(?:public|protected|private|abstract)\s+)*interface\s+(\w+)`),
		pat(model.SymbolKindClass, 1, `^(?:(?:public|protected|private|static)\s+)*(?:enum|record)\s+(\w+)`),
	},
	comments: braceComments,
}

var rubyRules = &regexRules{
	language:    "ruby",
	extensions:  []string{".rb", ".rake"},
	importREs:   imps(`^require(?:_relative)?\s+['"]([^'"]+)['"]`),
	indentBased: true,
	closer:      "end",
	decls: []declPattern{
		pat(model.SymbolKindFunction, 2, `^(\s*)def\s+(?:self\.)?([\w?!]+)`),
		pat(model.SymbolKindClass, 2, `^(\s*)class\s+([A-Z]\w*)`),
		pat(model.SymbolKindClass, 2, `^(\s*)module\s+([A-Z]\w*)`),
	},
	comments: []string{"#"},
}

var rustRules = &regexRules{
	language:   "rust",
	extensions: []string{".rs"},
	importREs:  imps(`^\s*use\s+([\w:]+)`),
	decls: []declPattern{
		pat(model.SymbolKindFunction, 1, `^\s*(?:pub(?:\([^)]*\))?\s+)?(?:async\s+)?(?:unsafe\s+)?fn\s+(\w+)`),
		pat(model.SymbolKindClass, 1, `^\s*(?:pub(?:\([^)]*\))?\s+)?struct\s+(\w+)`),
		pat(model.SymbolKindType, 1, `^\s*(?:pub(?:\([^)]*\))?\s+)?enum\s+(\w+)`),
		pat(model.SymbolKindInterface, 1, `^\s*(?:pub(?:\([^)]*\))?\s+)?trait\s+(\w+)`),
		pat(model.SymbolKindType, 1, `^\s*(?:pub(?:\([^)]*\))?\s+)?type\s+(\w+)`),
		pat(model.SymbolKindConstant, 1, `^\s*(?:pub(?:\([^)]*\))?\s+)?(?:const|static)\s+(\w+)`),
	},
	comments: braceComments,
}

func cDeclPatterns() []declPattern {
	return []declPattern{
		pat(model.SymbolKindClass, 1, `^(?:typedef\s+)?struct\s+(\w+)`),
		pat(model.SymbolKindType, 1, `^(?:typedef\s+)?enum\s+(\w+)`),
		pat(model.SymbolKindConstant, 1, `^#define\s+(\w+)`),
		pat(model.SymbolKindFunction, 1, `^[A-Za-z_][\w\s*]*?\b(\w+)\s*\([^;]*$`),
		pat(model.SymbolKindFunction, 1, `^[A-Za-z_][\w\s*]*?\b(\w+)\s*\([^;]*\)\s*\{\s*$`),
	}
}

var cRules = &regexRules{
	language:   "c",
	extensions: []string{".c", ".h"},
	importREs:  imps(`^#include\s+[<"]([^>"]+)[>"]`),
	decls:      cDeclPatterns(),
	comments:   braceComments,
}

var cppRules = &regexRules{
	language:   "cpp",
	extensions: []string{".cpp", ".cc", ".cxx", ".hpp"},
	importREs:  imps(`^#include\s+[<"]([^>"]+)[>"]`),
	decls: append([]declPattern{
		pat(model.SymbolKindClass, 1, `^(?:template\s*<[^>]*>\s*)?class\s+(\w+)`),
		pat(model.SymbolKindType, 1, `^using\s+(\w+)\s*=`),
	}, cDeclPatterns()...),
	comments: braceComments,
}

var csharpRules = &regexRules{
	language:   "csharp",
	extensions: []string{".cs"},
	importREs:  imps(`^using\s+([\w.]+)\s*;`),
	decls: []declPattern{
		pat(model.SymbolKindClass, 1, `^\s*(?:(?:public|private|protected|internal|abstract|sealed|static|partial)\s+)*class\s+(\w+)`),
		pat(model.SymbolKindInterface, 1, `^\s*(?:(?:public|private|protected|internal)\s+)*interface\s+(\w+)`),
		pat(model.SymbolKindClass, 1, `^\s*(?:(?:public|private|protected|internal)\s+)*(?:struct|record)\s+(\w+)`),
		pat(model.SymbolKindType, 1, `^\s*(?:(?:public|private|protected|internal)\s+)*enum\s+(\w+)`),
	},
	comments: braceComments,
}

var phpRules = &regexRules{
	language:   "php",
	extensions: []string{".php"},
	importREs: imps(
		`^use\s+([\w\\]+)`,
		`(?:require|include)(?:_once)?\s*\(?\s*['"]([^'"]+)['"]`,
	),
	decls: []declPattern{
		pat(model.SymbolKindFunction, 1, `^\s*(?:(?:public|private|protected|static|abstract|final)\s+)*function\s+(\w+)\s*\(`),
		pat(model.SymbolKindClass, 1, `^(?:abstract\s+|final\s+)?class\s+(\w+)`),
		pat(model.SymbolKindInterface, 1, `^interface\s+(\w+)`),
		pat(model.SymbolKindClass, 1, `^trait\s+(\w+)`),
	},
	comments: append([]string{"#"}, braceComments...),
}

var kotlinRules = &regexRules{
	language:   "kotlin",
	extensions: []string{".kt", ".kts"},
	importREs:  imps(`^import\s+([\w.*]+)`),
	decls: []declPattern{
		pat(model.SymbolKindFunction, 1, `^\s*(?:(?:public|private|internal|protected|suspend|inline|override)\s+)*fun\s+(?:<[^>]*>\s*)?(?:[\w<>.?]+\.)?(\w+)\s*\(`),
		pat(model.SymbolKindClass, 1, `^(?:(?:public|private|internal|data|sealed|abstract|open|enum|annotation)\s+)*class\s+(\w+)`),
		pat(model.SymbolKindInterface, 1, `^(?:(?:public|private|internal|sealed)\s+)*interface\s+(\w+)`),
		pat(model.SymbolKindClass, 1, `^(?:(?:public|private|internal)\s+)*object\s+(\w+)`),
		pat(model.SymbolKindConstant, 1, `^(?:(?:public|private|internal)\s+)*const\s+val\s+(\w+)`),
	},
	comments: braceComments,
}

var swiftRules = &regexRules{
	language:   "swift",
	extensions: []string{".swift"},
	importREs:  imps(`^import\s+([\w.]+)`),
	decls: []declPattern{
		pat(model.SymbolKindFunction, 1, `^\s*(?:(?:public|open|internal|private|fileprivate|static|override)\s+)*func\s+(\w+)\s*[(<]`),
		pat(model.SymbolKindClass, 1, `^(?:(?:public|open|internal|private|final)\s+)*class\s+(\w+)`),
		pat(model.SymbolKindClass, 1, `^(?:(?:public|internal|private)\s+)*struct\s+(\w+)`),
		pat(model.SymbolKindInterface, 1, `^(?:(?:public|internal|private)\s+)*protocol\s+(\w+)`),
		pat(model.SymbolKindType, 1, `^(?:(?:public|internal|private)\s+)*enum\s+(\w+)`),
	},
	comments: braceComments,
}

var scalaRules = &regexRules{
	language:   "scala",
	extensions: []string{".scala"},
	importREs:  imps(`^import\s+([\w.]+)`),
	decls: []declPattern{
		pat(model.SymbolKindFunction, 1, `^\s*(?:(?:private|protected|override|final)\s+)*def\s+(\w+)`),
		pat(model.SymbolKindClass, 1, `^(?:(?:private|abstract|final|sealed|case)\s+)*class\s+(\w+)`),
		pat(model.SymbolKindClass, 1, `^(?:(?:private|case)\s+)*object\s+(\w+)`),
		pat(model.SymbolKindInterface, 1, `^(?:(?:private|sealed)\s+)*trait\s+(\w+)`),
	},
	comments: braceComments,
}

var shellRules = &regexRules{
	language:   "shell",
	extensions: []string{".sh", ".bash", ".zsh"},
	importREs:  imps(`^(?:source|\.)\s+(\S+)`),
	decls: []declPattern{
		pat(model.SymbolKindFunction, 1, `^(?:function\s+)?([\w-]+)\s*\(\)\s*\{`),
	},
	comments: []string{"#"},
}

var regexTables = map[string]*regexRules{
	"go":         goRules,
	"javascript": javascriptRules,
	"typescript": typescriptRules,
	"tsx":        tsxRules,
	"python":     pythonRules,
	"java":       javaRules,
	"ruby":       rubyRules,
	"rust":       rustRules,
	"c":          cRules,
	"cpp":        cppRules,
	"csharp":     csharpRules,
	"php":        phpRules,
	"kotlin":     kotlinRules,
	"swift":      swiftRules,
	"scala":      scalaRules,
	"shell":      shellRules,
}

// reservedNames are control keywords a loose function pattern can mistake
// for an identifier.
var reservedNames = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "return": true,
	"catch": true, "sizeof": true, "defined": true, "do": true, "else": true,
}

// RegexLanguages lists the languages with a regex fallback table.
func RegexLanguages() []string {
	names := make([]string, 0, len(regexTables))
	for name := range regexTables {
		names = append(names, name)
	}
	return names
}

// RegexParser extracts structure with line-oriented patterns. It is the
// fallback when no grammar exists or tree-sitter fails on the input, so
// spans and kinds are best-effort.
type RegexParser struct {
	rules *regexRules
}

func NewRegex(language string) (*RegexParser, error) {
	rules, ok := regexTables[language]
	if !ok {
		return nil, fmt.Errorf("parse: no regex rules for %q", language)
	}
	return &RegexParser{rules: rules}, nil
}

func (p *RegexParser) Language() string { return p.rules.language }

func (p *RegexParser) CanParse(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return slices.Contains(p.rules.extensions, ext)
}

func (p *RegexParser) SupportedExtensions() []string {
	return p.rules.extensions
}

func (p *RegexParser) Parse(ctx context.Context, path string, content []byte) (*Result, error) {
	lines := strings.Split(string(content), "\n")
	res := &Result{Language: p.rules.language}

	classIndent := -1
	classIdx := -1
	inGoImports := false
	for i, line := range lines {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if p.rules.language == "go" {
			if imp, ok, skip := matchGoImport(line, &inGoImports); ok {
				res.Imports = append(res.Imports, imp)
				continue
			} else if skip {
				continue
			}
		}
		if imp, ok := p.matchImport(line); ok {
			res.Imports = append(res.Imports, imp)
			continue
		}
		d, indent, ok := p.matchDecl(lines, i)
		if !ok {
			continue
		}
		if p.rules.indentBased {
			if classIndent >= 0 && indent <= classIndent {
				classIndent, classIdx = -1, -1
			}
			if classIndent >= 0 && d.Kind == model.SymbolKindFunction {
				d.Kind = model.SymbolKindMethod
				res.Declarations[classIdx].Members = append(res.Declarations[classIdx].Members, d)
				continue
			}
			if d.Kind == model.SymbolKindClass {
				classIndent = indent
				classIdx = len(res.Declarations)
			}
		}
		res.Declarations = append(res.Declarations, d)
	}

	deriveExports(res)
	return res, nil
}

// matchGoImport tracks import ( ... ) blocks across lines. skip reports that
// the line belongs to import syntax even when it yields no import.
func matchGoImport(line string, inBlock *bool) (imp Import, ok, skip bool) {
	trimmed := strings.TrimSpace(line)
	if *inBlock {
		if strings.HasPrefix(trimmed, ")") {
			*inBlock = false
			return Import{}, false, true
		}
		if m := goImportSpecRE.FindStringSubmatch(trimmed); m != nil {
			return Import{Path: m[2], Alias: m[1]}, true, false
		}
		return Import{}, false, true
	}
	if !strings.HasPrefix(trimmed, "import") {
		return Import{}, false, false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "import"))
	if strings.HasPrefix(rest, "(") {
		*inBlock = true
		return Import{}, false, true
	}
	if m := goImportSpecRE.FindStringSubmatch(rest); m != nil {
		return Import{Path: m[2], Alias: m[1]}, true, false
	}
	return Import{}, false, false
}

func (p *RegexParser) matchImport(line string) (Import, bool) {
	if p.rules.language == "python" {
		if m := pythonFromImportRE.FindStringSubmatch(line); m != nil {
			imp := Import{Path: m[1]}
			for _, sym := range strings.Split(strings.Trim(m[2], "() "), ",") {
				fields := strings.Fields(sym)
				switch {
				case len(fields) == 3 && fields[1] == "as":
					imp.Symbols = append(imp.Symbols, fields[2])
				case len(fields) > 0:
					imp.Symbols = append(imp.Symbols, fields[0])
				}
			}
			return imp, true
		}
	}
	for _, re := range p.rules.importREs {
		if m := re.FindStringSubmatch(line); m != nil {
			return Import{Path: m[1]}, true
		}
	}
	return Import{}, false
}

func (p *RegexParser) matchDecl(lines []string, idx int) (Declaration, int, bool) {
	line := lines[idx]
	for _, dp := range p.rules.decls {
		m := dp.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := m[dp.name]
		if name == "" || reservedNames[name] {
			continue
		}
		indent := 0
		if p.rules.indentBased {
			indent = indentWidth(m[1])
		}
		end := idx + 1
		if p.rules.indentBased {
			end = indentEnd(lines, idx, indent, p.rules.closer)
		} else if dp.kind != model.SymbolKindConstant && dp.kind != model.SymbolKindVariable {
			end = braceEnd(lines, idx)
		}
		doc, docLines := p.docAbove(lines, idx)
		sig := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(line), "{: "))
		if len(sig) > maxSignatureLen {
			sig = sig[:maxSignatureLen]
		}
		return Declaration{
			Name:      name,
			Kind:      dp.kind,
			StartLine: idx + 1,
			EndLine:   end,
			Signature: sig,
			Doc:       doc,
			DocLines:  docLines,
			Exported:  p.exported(name, line),
		}, indent, true
	}
	return Declaration{}, 0, false
}

func (p *RegexParser) exported(name, line string) bool {
	switch p.rules.language {
	case "go":
		return exportedGoName(name)
	case "python", "ruby":
		return !strings.HasPrefix(name, "_")
	case "rust":
		return strings.Contains(line, "pub ") || strings.Contains(line, "pub(")
	case "javascript", "typescript", "tsx":
		return strings.Contains(line, "export ")
	default:
		if strings.Contains(line, "private ") {
			return false
		}
		return !strings.HasPrefix(name, "_")
	}
}

func (p *RegexParser) docAbove(lines []string, idx int) (string, int) {
	var parts []string
	for j := idx - 1; j >= 0; j-- {
		t := strings.TrimSpace(lines[j])
		if t == "" || !hasCommentPrefix(t, p.rules.comments) {
			break
		}
		parts = append(parts, cleanComment(t))
	}
	if len(parts) == 0 {
		return "", 0
	}
	count := len(parts)
	slices.Reverse(parts)
	return strings.TrimSpace(strings.Join(parts, "\n")), count
}

func hasCommentPrefix(line string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// braceEnd scans forward until the brace depth opened by the declaration
// returns to zero. Braces inside strings are not tracked; the result is an
// estimate.
func braceEnd(lines []string, start int) int {
	depth := 0
	opened := false
	limit := min(len(lines), start+maxScanLines)
	for i := start; i < limit; i++ {
		for _, ch := range lines[i] {
			switch ch {
			case '{':
				depth++
				opened = true
			case '}':
				depth--
				if opened && depth <= 0 {
					return i + 1
				}
			}
		}
		if !opened && i >= start+2 {
			return start + 1
		}
	}
	if !opened {
		return start + 1
	}
	return limit
}

// indentEnd finds the last line of an indentation-delimited block. When the
// language closes blocks with a keyword (ruby's "end"), a closer at the
// block's own indent is included.
func indentEnd(lines []string, start, indent int, closer string) int {
	end := start + 1
	limit := min(len(lines), start+maxScanLines)
	for i := start + 1; i < limit; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		width := indentWidth(lines[i])
		if width <= indent {
			if closer != "" && trimmed == closer && width == indent {
				return i + 1
			}
			return end
		}
		end = i + 1
	}
	return end
}

func indentWidth(s string) int {
	width := 0
	for _, ch := range s {
		switch ch {
		case ' ':
			width++
		case '\t':
			width += 4
		default:
			return width
		}
	}
	return width
}

// deriveExports fills Result.Exports from exported declarations, keeping any
// names already recorded from explicit export clauses.
func deriveExports(res *Result) {
	seen := make(map[string]bool, len(res.Exports))
	for _, name := range res.Exports {
		seen[name] = true
	}
	for _, d := range res.Declarations {
		if d.Exported && !seen[d.Name] {
			res.Exports = append(res.Exports, d.Name)
			seen[d.Name] = true
		}
	}
}
