package parse

import (
	"context"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

// MarkdownParser extracts ATX heading sections and fenced code blocks.
// Sections nest: each one's HeadingPath is the chain of titles from the top
// level down to and including its own.
type MarkdownParser struct{}

func NewMarkdown() *MarkdownParser { return &MarkdownParser{} }

var markdownExtensions = []string{".md", ".mdx", ".markdown"}

func (p *MarkdownParser) CanParse(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return slices.Contains(markdownExtensions, ext)
}

func (p *MarkdownParser) SupportedExtensions() []string {
	return markdownExtensions
}

var (
	headingRE = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*#*\s*$`)
	fenceRE   = regexp.MustCompile("^ {0,3}(`{3,}|~{3,})(.*)$")
)

func (p *MarkdownParser) Parse(ctx context.Context, path string, content []byte) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lines := strings.Split(string(content), "\n")
	last := len(lines)
	if last > 1 && lines[last-1] == "" {
		last--
	}

	res := &Result{Language: "markdown"}
	var open []Section // innermost last
	var fence *Fence
	fenceMark := ""

	closeTo := func(level, endLine int) {
		for len(open) > 0 && open[len(open)-1].Level >= level {
			s := open[len(open)-1]
			open = open[:len(open)-1]
			s.EndLine = endLine
			res.Sections = append(res.Sections, s)
		}
	}

	sawHeading := false
	preambleHasText := false
	for i, line := range lines {
		lineNo := i + 1

		if fence != nil {
			if m := fenceRE.FindStringSubmatch(line); m != nil &&
				m[1][0] == fenceMark[0] && len(m[1]) >= len(fenceMark) && strings.TrimSpace(m[2]) == "" {
				fence.EndLine = lineNo
				res.Fences = append(res.Fences, *fence)
				fence = nil
			}
			continue
		}

		if m := fenceRE.FindStringSubmatch(line); m != nil {
			info := strings.TrimSpace(m[2])
			lang := ""
			if fields := strings.Fields(info); len(fields) > 0 {
				lang = strings.Trim(fields[0], "{}.")
			}
			fence = &Fence{Language: lang, StartLine: lineNo}
			fenceMark = m[1]
			continue
		}

		m := headingRE.FindStringSubmatch(line)
		if m == nil {
			if !sawHeading && strings.TrimSpace(line) != "" {
				preambleHasText = true
			}
			continue
		}

		level := len(m[1])
		title := strings.TrimSpace(m[2])
		if !sawHeading {
			sawHeading = true
			if preambleHasText && lineNo > 1 {
				res.Sections = append(res.Sections, Section{StartLine: 1, EndLine: lineNo - 1})
			}
		}
		closeTo(level, lineNo-1)

		headingPath := make([]string, 0, len(open)+1)
		for _, s := range open {
			headingPath = append(headingPath, s.Title)
		}
		headingPath = append(headingPath, title)
		open = append(open, Section{
			Level:       level,
			Title:       title,
			HeadingPath: headingPath,
			StartLine:   lineNo,
		})
	}

	if fence != nil {
		fence.EndLine = last
		res.Fences = append(res.Fences, *fence)
		res.Partial = true
	}
	closeTo(0, last)
	if !sawHeading && preambleHasText {
		res.Sections = append(res.Sections, Section{StartLine: 1, EndLine: last})
	}

	slices.SortFunc(res.Sections, func(a, b Section) int { return a.StartLine - b.StartLine })
	return res, nil
}
