package chunk

import (
	"github.com/cindex-dev/cindex/internal/model"
	"github.com/cindex-dev/cindex/internal/parse"
)

// markdownChunks emits one section chunk per heading's exclusive text (the
// lines before its first child heading) and carves fenced code blocks out
// into code_block chunks so ranges stay disjoint.
func (c *Chunker) markdownChunks(in FileInput, lines []string) []model.Chunk {
	res := in.Parse
	toks := lineTokens(lines)

	var chunks []model.Chunk
	for i, s := range res.Sections {
		exEnd := s.EndLine
		if i+1 < len(res.Sections) && res.Sections[i+1].StartLine-1 < exEnd {
			exEnd = res.Sections[i+1].StartLine - 1
		}
		if exEnd < s.StartLine {
			continue
		}
		for _, p := range carveFences(s.StartLine, exEnd, res.Fences) {
			if blankRange(lines, p.start, p.end) {
				continue
			}
			md := model.ChunkMetadata{
				Language:    "markdown",
				HeadingPath: s.HeadingPath,
				Partial:     res.Partial,
			}
			t := model.ChunkTypeSection
			if p.fence != nil {
				t = model.ChunkTypeCodeBlock
				if p.fence.Language != "" {
					md.Language = p.fence.Language
				}
			}
			chunks = append(chunks, c.windowed(in, t, lines, toks, p.start, p.end, md)...)
		}
	}
	return chunks
}

type mdPiece struct {
	start, end int
	fence      *parse.Fence
}

// carveFences splits [start,end] into text pieces and fence pieces, in
// order.
func carveFences(start, end int, fences []parse.Fence) []mdPiece {
	var pieces []mdPiece
	cursor := start
	for i := range fences {
		f := fences[i]
		if f.EndLine < cursor || f.StartLine > end {
			continue
		}
		fStart := max(f.StartLine, cursor)
		fEnd := min(f.EndLine, end)
		if fStart > cursor {
			pieces = append(pieces, mdPiece{start: cursor, end: fStart - 1})
		}
		pieces = append(pieces, mdPiece{start: fStart, end: fEnd, fence: &fences[i]})
		cursor = fEnd + 1
		if cursor > end {
			break
		}
	}
	if cursor <= end {
		pieces = append(pieces, mdPiece{start: cursor, end: end})
	}
	return pieces
}
