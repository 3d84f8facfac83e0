package parse

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/cindex-dev/cindex/internal/model"
)

const maxSignatureLen = 300

// TreeSitterParser extracts structure through a tree-sitter grammar. A fresh
// sitter parser is created per call, so Parse is safe to use from concurrent
// indexing workers.
type TreeSitterParser struct {
	gram *grammar
}

// NewTreeSitter returns a parser for the given language name.
func NewTreeSitter(language string) (*TreeSitterParser, error) {
	gram := grammarFor(language)
	if gram == nil {
		return nil, fmt.Errorf("parse: no tree-sitter grammar for %q", language)
	}
	return &TreeSitterParser{gram: gram}, nil
}

func (p *TreeSitterParser) Language() string { return p.gram.Name }

func (p *TreeSitterParser) CanParse(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return slices.Contains(p.gram.Extensions, ext)
}

func (p *TreeSitterParser) SupportedExtensions() []string {
	return p.gram.Extensions
}

func (p *TreeSitterParser) Parse(ctx context.Context, path string, content []byte) (*Result, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(p.gram.Language)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	res := &Result{Language: p.gram.Name, Partial: root.HasError()}
	ex := &extractor{gram: p.gram, src: content, res: res}
	ex.walkRoot(root)
	ex.finish()
	return res, nil
}

// extractor walks one parsed tree and accumulates into res.
type extractor struct {
	gram *grammar
	src  []byte
	res  *Result
}

func (e *extractor) walkRoot(root *sitter.Node) {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		t := n.Type()
		switch {
		case e.gram.PackageNode != "" && t == e.gram.PackageNode:
			e.res.Package = e.packageName(n)
		case e.gram.ImportNodes[t]:
			e.res.Imports = append(e.res.Imports, e.imports(n)...)
		case e.gram.ExportNode != "" && t == e.gram.ExportNode:
			e.exportStatement(n)
		default:
			if kind, ok := e.gram.DeclNodes[t]; ok {
				e.res.Declarations = append(e.res.Declarations, e.declare(n, kind, false)...)
			}
		}
	}
}

func (e *extractor) finish() {
	deriveExports(e.res)
}

func (e *extractor) packageName(n *sitter.Node) string {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "package_identifier", "scoped_identifier", "identifier":
			return child.Content(e.src)
		}
	}
	return ""
}

func (e *extractor) declare(n *sitter.Node, kind model.SymbolKind, exported bool) []Declaration {
	switch e.gram.Name {
	case "go":
		return e.goDeclare(n, kind)
	case "javascript", "typescript", "tsx":
		return e.jsDeclare(n, kind, exported)
	case "python":
		return e.pyDeclare(n)
	case "java":
		return e.javaDeclare(n, kind)
	}
	return nil
}

func (e *extractor) imports(n *sitter.Node) []Import {
	switch e.gram.Name {
	case "go":
		return e.goImports(n)
	case "javascript", "typescript", "tsx":
		return e.jsImports(n)
	case "python":
		return e.pyImports(n)
	case "java":
		return e.javaImports(n)
	}
	return nil
}

// --- Go ---

func (e *extractor) goDeclare(n *sitter.Node, kind model.SymbolKind) []Declaration {
	switch n.Type() {
	case "function_declaration", "method_declaration":
		name := e.fieldContent(n, "name")
		if name == "" {
			return nil
		}
		d := e.newDecl(n, name, kind)
		d.Exported = exportedGoName(name)
		return []Declaration{d}
	case "type_declaration":
		return e.goTypeSpecs(n)
	default: // const_declaration, var_declaration
		return e.goValueSpecs(n, kind)
	}
}

func (e *extractor) goTypeSpecs(n *sitter.Node) []Declaration {
	specs := namedChildrenOfType(n, "type_spec", "type_alias")
	single := len(specs) == 1
	var out []Declaration
	for _, spec := range specs {
		name := e.fieldContent(spec, "name")
		if name == "" {
			continue
		}
		kind := model.SymbolKindType
		if t := spec.ChildByFieldName("type"); t != nil {
			switch t.Type() {
			case "struct_type":
				kind = model.SymbolKindClass
			case "interface_type":
				kind = model.SymbolKindInterface
			}
		}
		span := spec
		if single {
			span = n
		}
		d := e.newDecl(span, name, kind)
		d.Exported = exportedGoName(name)
		out = append(out, d)
	}
	return out
}

func (e *extractor) goValueSpecs(n *sitter.Node, kind model.SymbolKind) []Declaration {
	specs := namedChildrenOfType(n, "const_spec", "var_spec")
	single := len(specs) == 1
	var out []Declaration
	for _, spec := range specs {
		span := spec
		if single {
			span = n
		}
		for _, name := range specNames(spec, e.src) {
			d := e.newDecl(span, name, kind)
			d.Exported = exportedGoName(name)
			out = append(out, d)
		}
	}
	return out
}

// specNames collects the declared identifiers of a const_spec or var_spec,
// stopping at the assignment so initializer identifiers are not picked up.
func specNames(spec *sitter.Node, src []byte) []string {
	var names []string
	for i := 0; i < int(spec.ChildCount()); i++ {
		child := spec.Child(i)
		if child.Type() == "=" {
			break
		}
		if child.Type() == "identifier" {
			names = append(names, child.Content(src))
		}
	}
	return names
}

func (e *extractor) goImports(n *sitter.Node) []Import {
	var out []Import
	var walk func(*sitter.Node)
	walk = func(node *sitter.Node) {
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			switch child.Type() {
			case "import_spec_list":
				walk(child)
			case "import_spec":
				imp := Import{}
				if p := child.ChildByFieldName("path"); p != nil {
					imp.Path = trimQuotes(p.Content(e.src))
				}
				if name := child.ChildByFieldName("name"); name != nil {
					imp.Alias = name.Content(e.src)
				}
				if imp.Path != "" {
					out = append(out, imp)
				}
			}
		}
	}
	walk(n)
	return out
}

// --- JavaScript / TypeScript ---

func (e *extractor) jsDeclare(n *sitter.Node, kind model.SymbolKind, exported bool) []Declaration {
	switch n.Type() {
	case "lexical_declaration", "variable_declaration":
		return e.jsDeclarators(n, exported)
	case "class_declaration", "abstract_class_declaration":
		name := e.fieldContent(n, "name")
		if name == "" {
			return nil
		}
		d := e.newDecl(n, name, model.SymbolKindClass)
		d.Exported = exported
		d.Members = e.jsMembers(n)
		return []Declaration{d}
	case "interface_declaration":
		name := e.fieldContent(n, "name")
		if name == "" {
			return nil
		}
		d := e.newDecl(n, name, model.SymbolKindInterface)
		d.Exported = exported
		return []Declaration{d}
	case "type_alias_declaration", "enum_declaration":
		name := e.fieldContent(n, "name")
		if name == "" {
			return nil
		}
		d := e.newDecl(n, name, model.SymbolKindType)
		d.Exported = exported
		return []Declaration{d}
	default: // function_declaration, generator_function_declaration
		name := e.fieldContent(n, "name")
		if name == "" {
			return nil
		}
		d := e.newDecl(n, name, kind)
		d.Exported = exported
		return []Declaration{d}
	}
}

// jsDeclarators emits one declaration per declarator; a declarator whose
// value is a function expression counts as a function.
func (e *extractor) jsDeclarators(n *sitter.Node, exported bool) []Declaration {
	var out []Declaration
	for i := 0; i < int(n.NamedChildCount()); i++ {
		decl := n.NamedChild(i)
		if decl.Type() != "variable_declarator" {
			continue
		}
		name := e.fieldContent(decl, "name")
		if name == "" {
			continue
		}
		kind := model.SymbolKindVariable
		if v := decl.ChildByFieldName("value"); v != nil {
			switch v.Type() {
			case "arrow_function", "function", "function_expression", "generator_function":
				kind = model.SymbolKindFunction
			}
		}
		d := e.newDecl(n, name, kind)
		d.Exported = exported
		out = append(out, d)
	}
	return out
}

func (e *extractor) jsMembers(class *sitter.Node) []Declaration {
	body := class.ChildByFieldName("body")
	if body == nil {
		return nil
	}
	var out []Declaration
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		if member.Type() != "method_definition" {
			continue
		}
		name := e.fieldContent(member, "name")
		if name == "" {
			continue
		}
		d := e.newDecl(member, name, model.SymbolKindMethod)
		d.Exported = !strings.HasPrefix(name, "#") && !strings.HasPrefix(name, "_")
		out = append(out, d)
	}
	return out
}

func (e *extractor) exportStatement(n *sitter.Node) {
	if decl := n.ChildByFieldName("declaration"); decl != nil {
		kind, ok := e.gram.DeclNodes[decl.Type()]
		if !ok {
			return
		}
		ds := e.jsDeclare(decl, kind, true)
		if len(ds) == 0 {
			if hasChildToken(n, "default") {
				e.res.Exports = append(e.res.Exports, "default")
			}
			return
		}
		doc, docLines := e.docFor(n)
		for i := range ds {
			ds[i].StartLine = startLine(n)
			if doc != "" {
				ds[i].Doc, ds[i].DocLines = doc, docLines
			}
		}
		e.res.Declarations = append(e.res.Declarations, ds...)
		return
	}
	if n.ChildByFieldName("value") != nil {
		e.res.Exports = append(e.res.Exports, "default")
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() != "export_clause" {
			continue
		}
		for j := 0; j < int(child.NamedChildCount()); j++ {
			spec := child.NamedChild(j)
			if spec.Type() != "export_specifier" {
				continue
			}
			name := e.fieldContent(spec, "alias")
			if name == "" {
				name = e.fieldContent(spec, "name")
			}
			if name != "" {
				e.res.Exports = append(e.res.Exports, name)
			}
		}
	}
}

func (e *extractor) jsImports(n *sitter.Node) []Import {
	imp := Import{}
	if src := n.ChildByFieldName("source"); src != nil {
		imp.Path = trimQuotes(src.Content(e.src))
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() != "import_clause" {
			continue
		}
		for j := 0; j < int(child.NamedChildCount()); j++ {
			part := child.NamedChild(j)
			switch part.Type() {
			case "identifier": // default import
				imp.Symbols = append(imp.Symbols, part.Content(e.src))
			case "namespace_import": // import * as ns
				for k := 0; k < int(part.NamedChildCount()); k++ {
					if id := part.NamedChild(k); id.Type() == "identifier" {
						imp.Alias = id.Content(e.src)
					}
				}
			case "named_imports":
				for k := 0; k < int(part.NamedChildCount()); k++ {
					spec := part.NamedChild(k)
					if spec.Type() != "import_specifier" {
						continue
					}
					name := e.fieldContent(spec, "alias")
					if name == "" {
						name = e.fieldContent(spec, "name")
					}
					if name != "" {
						imp.Symbols = append(imp.Symbols, name)
					}
				}
			}
		}
	}
	if imp.Path == "" {
		return nil
	}
	return []Import{imp}
}

// --- Python ---

func (e *extractor) pyDeclare(n *sitter.Node) []Declaration {
	span, inner := n, n
	if n.Type() == "decorated_definition" {
		def := n.ChildByFieldName("definition")
		if def == nil {
			return nil
		}
		inner = def
	}
	name := e.fieldContent(inner, "name")
	if name == "" {
		return nil
	}
	kind := model.SymbolKindFunction
	if inner.Type() == "class_definition" {
		kind = model.SymbolKindClass
	}
	d := e.newDecl(span, name, kind)
	d.Signature = e.signature(inner)
	d.Exported = !strings.HasPrefix(name, "_")
	if d.Doc == "" {
		d.Doc = pyDocstring(inner, e.src)
	}
	if kind == model.SymbolKindClass {
		d.Members = e.pyMembers(inner)
	}
	return []Declaration{d}
}

func (e *extractor) pyMembers(class *sitter.Node) []Declaration {
	body := class.ChildByFieldName("body")
	if body == nil {
		return nil
	}
	var out []Declaration
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		span, inner := member, member
		if member.Type() == "decorated_definition" {
			def := member.ChildByFieldName("definition")
			if def == nil {
				continue
			}
			inner = def
		}
		if inner.Type() != "function_definition" {
			continue
		}
		name := e.fieldContent(inner, "name")
		if name == "" {
			continue
		}
		d := e.newDecl(span, name, model.SymbolKindMethod)
		d.Signature = e.signature(inner)
		d.Exported = !strings.HasPrefix(name, "_")
		if d.Doc == "" {
			d.Doc = pyDocstring(inner, e.src)
		}
		out = append(out, d)
	}
	return out
}

// pyDocstring returns the leading string literal of a definition body.
func pyDocstring(def *sitter.Node, src []byte) string {
	body := def.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return ""
	}
	return strings.TrimSpace(strings.Trim(str.Content(src), `"'`))
}

func (e *extractor) pyImports(n *sitter.Node) []Import {
	if n.Type() == "import_from_statement" {
		imp := Import{}
		mod := n.ChildByFieldName("module_name")
		if mod != nil {
			imp.Path = mod.Content(e.src)
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			if mod != nil && child.StartByte() == mod.StartByte() {
				continue
			}
			switch child.Type() {
			case "dotted_name":
				imp.Symbols = append(imp.Symbols, child.Content(e.src))
			case "aliased_import":
				if alias := child.ChildByFieldName("alias"); alias != nil {
					imp.Symbols = append(imp.Symbols, alias.Content(e.src))
				} else if name := child.ChildByFieldName("name"); name != nil {
					imp.Symbols = append(imp.Symbols, name.Content(e.src))
				}
			case "wildcard_import":
				imp.Symbols = append(imp.Symbols, "*")
			}
		}
		if imp.Path == "" {
			return nil
		}
		return []Import{imp}
	}
	var out []Import
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			out = append(out, Import{Path: child.Content(e.src)})
		case "aliased_import":
			imp := Import{}
			if name := child.ChildByFieldName("name"); name != nil {
				imp.Path = name.Content(e.src)
			}
			if alias := child.ChildByFieldName("alias"); alias != nil {
				imp.Alias = alias.Content(e.src)
			}
			if imp.Path != "" {
				out = append(out, imp)
			}
		}
	}
	return out
}

// --- Java ---

func (e *extractor) javaDeclare(n *sitter.Node, kind model.SymbolKind) []Declaration {
	name := e.fieldContent(n, "name")
	if name == "" {
		return nil
	}
	d := e.newDecl(n, name, kind)
	d.Exported = javaPublic(n, e.src)
	if kind == model.SymbolKindClass {
		d.Members = e.javaMembers(n)
	}
	return []Declaration{d}
}

func (e *extractor) javaMembers(class *sitter.Node) []Declaration {
	body := class.ChildByFieldName("body")
	if body == nil {
		return nil
	}
	var out []Declaration
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		switch member.Type() {
		case "method_declaration", "constructor_declaration":
		default:
			continue
		}
		name := e.fieldContent(member, "name")
		if name == "" {
			continue
		}
		d := e.newDecl(member, name, model.SymbolKindMethod)
		d.Exported = javaPublic(member, e.src)
		out = append(out, d)
	}
	return out
}

func javaPublic(n *sitter.Node, src []byte) bool {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == "modifiers" {
			return strings.Contains(child.Content(src), "public")
		}
	}
	return false
}

func (e *extractor) javaImports(n *sitter.Node) []Import {
	text := strings.TrimSuffix(strings.TrimSpace(n.Content(e.src)), ";")
	text = strings.TrimSpace(strings.TrimPrefix(text, "import"))
	text = strings.TrimSpace(strings.TrimPrefix(text, "static"))
	if text == "" {
		return nil
	}
	return []Import{{Path: text}}
}

// --- shared helpers ---

func (e *extractor) newDecl(n *sitter.Node, name string, kind model.SymbolKind) Declaration {
	doc, docLines := e.docFor(n)
	return Declaration{
		Name:      name,
		Kind:      kind,
		StartLine: startLine(n),
		EndLine:   endLine(n),
		Signature: e.signature(n),
		Doc:       doc,
		DocLines:  docLines,
	}
}

// signature is the declaration text up to its body, collapsed to one line.
func (e *extractor) signature(n *sitter.Node) string {
	text := n.Content(e.src)
	if body := n.ChildByFieldName("body"); body != nil && body.StartByte() > n.StartByte() {
		text = string(e.src[n.StartByte():body.StartByte()])
	} else if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	text = strings.Join(strings.Fields(text), " ")
	text = strings.TrimRight(text, "{: ")
	if len(text) > maxSignatureLen {
		text = text[:maxSignatureLen]
	}
	return strings.TrimSpace(text)
}

// docFor collects the comment block sitting directly above the node. Each
// comment must touch the line above its successor; a blank line breaks the
// chain.
func (e *extractor) docFor(n *sitter.Node) (string, int) {
	var parts []string
	lines := 0
	row := int(n.StartPoint().Row)
	for prev := n.PrevNamedSibling(); prev != nil && e.gram.CommentNodes[prev.Type()]; prev = prev.PrevNamedSibling() {
		if int(prev.EndPoint().Row) != row-1 {
			break
		}
		parts = append(parts, cleanComment(prev.Content(e.src)))
		lines += int(prev.EndPoint().Row) - int(prev.StartPoint().Row) + 1
		row = int(prev.StartPoint().Row)
	}
	slices.Reverse(parts)
	return strings.TrimSpace(strings.Join(parts, "\n")), lines
}

func cleanComment(text string) string {
	text = strings.TrimSpace(text)
	var out []string
	if strings.HasPrefix(text, "/*") {
		text = strings.TrimSuffix(strings.TrimPrefix(text, "/*"), "*/")
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			line = strings.TrimPrefix(line, "*")
			out = append(out, strings.TrimSpace(line))
		}
		return strings.TrimSpace(strings.Join(out, "\n"))
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "//")
		line = strings.TrimPrefix(line, "/") // third slash of /// doc comments
		line = strings.TrimPrefix(line, "!")
		line = strings.TrimPrefix(line, "#")
		out = append(out, strings.TrimSpace(line))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func (e *extractor) fieldContent(n *sitter.Node, field string) string {
	child := n.ChildByFieldName(field)
	if child == nil {
		return ""
	}
	return child.Content(e.src)
}

func namedChildrenOfType(n *sitter.Node, types ...string) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if slices.Contains(types, child.Type()) {
			out = append(out, child)
		}
	}
	return out
}

func hasChildToken(n *sitter.Node, token string) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.Child(i).Type() == token {
			return true
		}
	}
	return false
}

func startLine(n *sitter.Node) int { return int(n.StartPoint().Row) + 1 }
func endLine(n *sitter.Node) int   { return int(n.EndPoint().Row) + 1 }

func trimQuotes(s string) string {
	return strings.Trim(s, "\"'`")
}

func exportedGoName(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}
