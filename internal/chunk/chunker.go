package chunk

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/cindex-dev/cindex/internal/model"
	"github.com/cindex-dev/cindex/internal/parse"
	"github.com/cindex-dev/cindex/internal/scanner"
)

// Chunker turns parsed files into chunks.
type Chunker struct {
	opts Options
}

func NewChunker(opts Options) *Chunker {
	return &Chunker{opts: opts.withDefaults()}
}

// ChunkFile chunks with the strategy picked from the file's line count.
func (c *Chunker) ChunkFile(ctx context.Context, in FileInput) ([]model.Chunk, error) {
	return c.ChunkFileAs(ctx, in, StrategyAuto)
}

// ChunkFileAs chunks with a forced strategy; the large-file gate uses this
// to demand structure or section chunking regardless of line count.
func (c *Chunker) ChunkFileAs(ctx context.Context, in FileInput, strategy Strategy) ([]model.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lines := splitLines(in.Content)
	if len(lines) == 0 {
		return nil, nil
	}

	if in.ContentType == scanner.ContentTypeMarkdown && in.Parse != nil {
		return c.markdownChunks(in, lines), nil
	}
	if in.Parse == nil || (len(in.Parse.Declarations) == 0 && len(in.Parse.Imports) == 0) {
		return c.plainChunks(in, lines), nil
	}

	if strategy == StrategyAuto || strategy == "" {
		switch {
		case len(lines) > c.opts.VeryLargeFileLines:
			strategy = StrategyStructure
		case len(lines) > c.opts.SmallFileLines:
			strategy = StrategySection
		default:
			strategy = StrategySyntactic
		}
	}
	switch strategy {
	case StrategyStructure:
		return c.structureChunks(in, lines), nil
	case StrategySection:
		return c.sectionChunks(in, lines), nil
	default:
		return c.syntacticChunks(in, lines), nil
	}
}

// FileSummaryChunk wraps a generated file summary as the file's summary
// chunk. It spans no lines; at most one exists per file.
func FileSummaryChunk(in FileInput, summary string) model.Chunk {
	return model.Chunk{
		ChunkID:    ID(in.Path, 0, summary),
		RepoID:     in.RepoID,
		FilePath:   in.Path,
		Type:       model.ChunkTypeFileSummary,
		Content:    summary,
		TokenCount: EstimateTokens(summary),
		Metadata:   baseMetadata(in),
	}
}

// syntacticChunks emits one chunk per top-level declaration span, doc
// comments included, with section chunks for the uncovered stretches in
// between (imports, package headers, loose statements).
func (c *Chunker) syntacticChunks(in FileInput, lines []string) []model.Chunk {
	toks := lineTokens(lines)
	spans := declSpans(in.Parse.Declarations, len(lines))

	var chunks []model.Chunk
	cursor := 1
	for _, sp := range spans {
		if sp.start > cursor {
			chunks = append(chunks, c.gapChunks(in, lines, toks, cursor, sp.start-1)...)
		}
		md := withNames(baseMetadata(in), sp.decls)
		chunks = append(chunks, c.windowed(in, chunkTypeFor(sp.decls), lines, toks, sp.start, sp.end, md)...)
		cursor = sp.end + 1
	}
	if cursor <= len(lines) {
		chunks = append(chunks, c.gapChunks(in, lines, toks, cursor, len(lines))...)
	}
	return chunks
}

// sectionChunks packs consecutive coverage units (declaration spans and the
// gaps between them) into token windows, cutting only at unit boundaries.
func (c *Chunker) sectionChunks(in FileInput, lines []string) []model.Chunk {
	toks := lineTokens(lines)
	units := coverageUnits(in.Parse.Declarations, len(lines))

	var chunks []model.Chunk
	var curDecls []parse.Declaration
	curStart, curEnd, curTokens := 0, 0, 0

	flush := func() {
		if curStart == 0 {
			return
		}
		md := withNames(baseMetadata(in), curDecls)
		chunks = append(chunks, c.windowed(in, model.ChunkTypeSection, lines, toks, curStart, curEnd, md)...)
		curStart, curEnd, curTokens = 0, 0, 0
		curDecls = nil
	}

	for _, u := range units {
		uTokens := sumTokens(toks, u.start-1, u.end-1)
		if curStart != 0 && curTokens+uTokens > c.opts.TargetTokens {
			flush()
		}
		if curStart == 0 {
			curStart = u.start
		}
		curEnd = u.end
		curTokens += uTokens
		curDecls = append(curDecls, u.decls...)
	}
	flush()
	return chunks
}

// structureChunks keeps only the outline of a very large file: header,
// imports, and declaration signatures with their spans.
func (c *Chunker) structureChunks(in FileInput, lines []string) []model.Chunk {
	res := in.Parse

	var header strings.Builder
	fmt.Fprintf(&header, "file: %s\n", in.Path)
	fmt.Fprintf(&header, "language: %s (%d lines, structure only)\n", in.Language, len(lines))
	if res.Package != "" {
		fmt.Fprintf(&header, "package: %s\n", res.Package)
	}
	if paths := res.ImportPaths(); len(paths) > 0 {
		fmt.Fprintf(&header, "imports: %s\n", strings.Join(paths, ", "))
	}
	if len(res.Exports) > 0 {
		fmt.Fprintf(&header, "exports: %s\n", strings.Join(res.Exports, ", "))
	}

	spans := declSpans(res.Declarations, len(lines))
	type entry struct {
		text       string
		start, end int
	}
	entries := make([]entry, 0, len(spans))
	for _, sp := range spans {
		var b strings.Builder
		for _, d := range sp.decls {
			b.WriteString(outlineLine(d, ""))
			for _, m := range d.Members {
				b.WriteString(outlineLine(m, "  "))
			}
		}
		entries = append(entries, entry{text: b.String(), start: sp.start, end: sp.end})
	}

	md := withNames(baseMetadata(in), res.Declarations)
	if len(entries) == 0 {
		content := header.String()
		ch := model.Chunk{
			ChunkID:    ID(in.Path, 1, content),
			RepoID:     in.RepoID,
			FilePath:   in.Path,
			Type:       model.ChunkTypeStructure,
			Content:    content,
			StartLine:  1,
			EndLine:    len(lines),
			TokenCount: EstimateTokens(content),
			Metadata:   md,
		}
		return []model.Chunk{ch}
	}

	var chunks []model.Chunk
	var body strings.Builder
	body.WriteString(header.String())
	body.WriteString("\n")
	batchStart, batchEnd := 1, 0
	acc := EstimateTokens(header.String())

	emit := func(endLine int) {
		content := body.String()
		chunks = append(chunks, model.Chunk{
			ChunkID:    ID(in.Path, batchStart, content),
			RepoID:     in.RepoID,
			FilePath:   in.Path,
			Type:       model.ChunkTypeStructure,
			Content:    content,
			StartLine:  batchStart,
			EndLine:    endLine,
			TokenCount: EstimateTokens(content),
			Metadata:   md,
		})
		body.Reset()
		acc = 0
	}

	for i, e := range entries {
		t := EstimateTokens(e.text)
		if acc > 0 && acc+t > c.opts.TargetTokens && batchEnd >= batchStart {
			emit(batchEnd)
			batchStart = e.start
		}
		body.WriteString(e.text)
		acc += t
		batchEnd = e.end
		if i == len(entries)-1 {
			emit(len(lines))
		}
	}
	return chunks
}

// plainChunks covers unparsed content (config, text, unknown languages)
// with windowed section chunks.
func (c *Chunker) plainChunks(in FileInput, lines []string) []model.Chunk {
	if blankRange(lines, 1, len(lines)) {
		return nil
	}
	toks := lineTokens(lines)
	return c.windowed(in, model.ChunkTypeSection, lines, toks, 1, len(lines), baseMetadata(in))
}

// gapChunks emits section chunks for the uncovered stretch between
// declarations. Blank padding is trimmed, but any remaining content gets a
// chunk, however small: top-level statements (route registrations, module
// wiring) often live outside every declaration, and a line no chunk covers
// is invisible to both search and endpoint implementation linking.
func (c *Chunker) gapChunks(in FileInput, lines []string, toks []int, start, end int) []model.Chunk {
	for start <= end && strings.TrimSpace(lines[start-1]) == "" {
		start++
	}
	for end >= start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	if start > end {
		return nil
	}
	return c.windowed(in, model.ChunkTypeSection, lines, toks, start, end, baseMetadata(in))
}

// windowed emits one chunk for the range, or several token-window chunks
// when the range exceeds the target. Split chunks are marked partial since
// none holds the whole unit.
func (c *Chunker) windowed(in FileInput, t model.ChunkType, lines []string, toks []int, start, end int, md model.ChunkMetadata) []model.Chunk {
	if end > len(lines) {
		end = len(lines)
	}
	if start < 1 {
		start = 1
	}
	if start > end {
		return nil
	}
	if sumTokens(toks, start-1, end-1) <= c.opts.TargetTokens {
		return []model.Chunk{c.newChunk(in, t, lines, start, end, md)}
	}

	var out []model.Chunk
	winStart := start
	acc := 0
	for line := start; line <= end; line++ {
		acc += toks[line-1]
		if acc >= c.opts.TargetTokens && line < end {
			wmd := md
			wmd.Partial = true
			out = append(out, c.newChunk(in, t, lines, winStart, line, wmd))
			winStart = line + 1
			acc = 0
		}
	}
	if winStart <= end {
		wmd := md
		wmd.Partial = true
		out = append(out, c.newChunk(in, t, lines, winStart, end, wmd))
	}
	return out
}

func (c *Chunker) newChunk(in FileInput, t model.ChunkType, lines []string, start, end int, md model.ChunkMetadata) model.Chunk {
	content := strings.Join(lines[start-1:end], "\n")
	return model.Chunk{
		ChunkID:    ID(in.Path, start, content),
		RepoID:     in.RepoID,
		FilePath:   in.Path,
		Type:       t,
		Content:    content,
		StartLine:  start,
		EndLine:    end,
		TokenCount: EstimateTokens(content),
		Metadata:   md,
	}
}

// span is a disjoint run of lines owned by one or more declarations
// (grouped specs and overlapping spans merge).
type span struct {
	start, end int
	decls      []parse.Declaration
}

func declSpans(decls []parse.Declaration, lineCount int) []span {
	if len(decls) == 0 {
		return nil
	}
	sorted := slices.Clone(decls)
	slices.SortFunc(sorted, func(a, b parse.Declaration) int {
		as, bs := a.StartLine-a.DocLines, b.StartLine-b.DocLines
		if as != bs {
			return as - bs
		}
		return a.EndLine - b.EndLine
	})

	var out []span
	for _, d := range sorted {
		start := max(1, d.StartLine-d.DocLines)
		end := min(max(d.EndLine, start), lineCount)
		if end < start {
			continue
		}
		if n := len(out); n > 0 && start <= out[n-1].end {
			if end > out[n-1].end {
				out[n-1].end = end
			}
			out[n-1].decls = append(out[n-1].decls, d)
			continue
		}
		out = append(out, span{start: start, end: end, decls: []parse.Declaration{d}})
	}
	return out
}

// coverageUnits partitions 1..lineCount into declaration spans and the gaps
// between them.
func coverageUnits(decls []parse.Declaration, lineCount int) []span {
	spans := declSpans(decls, lineCount)
	var units []span
	cursor := 1
	for _, sp := range spans {
		if sp.start > cursor {
			units = append(units, span{start: cursor, end: sp.start - 1})
		}
		units = append(units, sp)
		cursor = sp.end + 1
	}
	if cursor <= lineCount {
		units = append(units, span{start: cursor, end: lineCount})
	}
	return units
}

func chunkTypeFor(decls []parse.Declaration) model.ChunkType {
	var t model.ChunkType
	for _, d := range decls {
		var dt model.ChunkType
		switch d.Kind {
		case model.SymbolKindFunction:
			dt = model.ChunkTypeFunction
		case model.SymbolKindMethod:
			dt = model.ChunkTypeMethod
		case model.SymbolKindClass, model.SymbolKindInterface, model.SymbolKindType:
			dt = model.ChunkTypeClass
		default:
			dt = model.ChunkTypeSection
		}
		if t == "" {
			t = dt
		} else if t != dt {
			return model.ChunkTypeSection
		}
	}
	if t == "" {
		return model.ChunkTypeSection
	}
	return t
}

func baseMetadata(in FileInput) model.ChunkMetadata {
	md := model.ChunkMetadata{Language: in.Language}
	if in.Parse != nil {
		md.Dependencies = in.Parse.ImportPaths()
		md.ImportedSymbols = in.Parse.ImportedSymbols()
		md.Partial = in.Parse.Partial
	}
	return md
}

func withNames(md model.ChunkMetadata, decls []parse.Declaration) model.ChunkMetadata {
	for _, d := range decls {
		switch d.Kind {
		case model.SymbolKindFunction, model.SymbolKindMethod:
			md.FunctionNames = append(md.FunctionNames, d.Name)
		case model.SymbolKindClass, model.SymbolKindInterface, model.SymbolKindType:
			md.ClassNames = append(md.ClassNames, d.Name)
		}
		for _, m := range d.Members {
			if m.Kind == model.SymbolKindFunction || m.Kind == model.SymbolKindMethod {
				md.FunctionNames = append(md.FunctionNames, m.Name)
			}
		}
	}
	return md
}

func outlineLine(d parse.Declaration, indent string) string {
	sig := d.Signature
	if sig == "" {
		sig = fmt.Sprintf("%s %s", d.Kind, d.Name)
	}
	return fmt.Sprintf("%s%s  [%d-%d]\n", indent, sig, d.StartLine, d.EndLine)
}

func splitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	lines := strings.Split(string(content), "\n")
	if n := len(lines); n > 1 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

func blankRange(lines []string, start, end int) bool {
	for i := start; i <= end && i <= len(lines); i++ {
		if strings.TrimSpace(lines[i-1]) != "" {
			return false
		}
	}
	return true
}
