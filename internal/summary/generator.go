// Package summary produces the per-file natural-language summaries that
// seed file-level search. The llm method asks the generation model for a
// short description; rule-based synthesis from parse results covers
// timeouts, errors, and runs without a generation model. Rule output is
// deterministic so re-index runs stay stable.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/cindex-dev/cindex/internal/backend"
	"github.com/cindex-dev/cindex/internal/parse"
	"github.com/cindex-dev/cindex/internal/scanner"
)

// Method identifies how a summary was produced.
type Method string

const (
	MethodLLM  Method = "llm"
	MethodRule Method = "rule"
)

const (
	// maxPromptContent bounds the file content embedded in a prompt.
	maxPromptContent = 2000

	// maxSummaryLen bounds model output; anything longer is cut at a word.
	maxSummaryLen = 500

	// maxHeadlines caps the symbols named in a rule-based summary.
	maxHeadlines = 6

	// maxImports caps the import paths named in a rule-based summary.
	maxImports = 8
)

const codePromptTemplate = `You are analyzing code. Write a 1-3 sentence summary of this file.

File: %s
Language: %s

%s

Instructions:
- Describe the file's purpose and main exports
- Be specific about function and type names
- Keep it under 100 tokens
- Output ONLY the summary, no preamble

Summary:`

const markdownPromptTemplate = `You are analyzing documentation. Write a 1-3 sentence summary of this document.

Document: %s

%s

Instructions:
- Summarize what the document explains
- Name the main topics covered
- Keep it under 100 tokens
- Output ONLY the summary, no preamble

Summary:`

// Input carries what the generator needs to describe one file.
type Input struct {
	Path        string
	Language    string
	ContentType scanner.ContentType
	Content     []byte
	Parse       *parse.Result
}

// Result is a produced summary and the method that produced it.
type Result struct {
	Text   string
	Method Method
}

// Generator produces file summaries, preferring the generation model and
// degrading to rule-based synthesis.
type Generator struct {
	gen       backend.Generator
	method    Method
	logger    *slog.Logger
	fallbacks atomic.Int64
}

// New builds a generator. A nil backend generator or MethodRule pins
// rule-based synthesis; otherwise the model is tried first.
func New(gen backend.Generator, method Method, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if gen == nil || method == MethodRule {
		method = MethodRule
	} else {
		method = MethodLLM
	}
	return &Generator{gen: gen, method: method, logger: logger}
}

// Summarize describes one file. Model failures and empty responses degrade
// to the rule-based summary; only context cancellation is an error.
func (g *Generator) Summarize(ctx context.Context, in Input) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if g.method == MethodLLM {
		text, err := g.llmSummary(ctx, in)
		switch {
		case err != nil && ctx.Err() != nil:
			return Result{}, ctx.Err()
		case err != nil:
			g.fallbacks.Add(1)
			g.logger.Debug("summary fell back to rules",
				slog.String("path", in.Path),
				slog.String("error", err.Error()))
		case text == "":
			g.fallbacks.Add(1)
			g.logger.Debug("summary model returned empty response",
				slog.String("path", in.Path))
		default:
			return Result{Text: text, Method: MethodLLM}, nil
		}
	}

	return Result{Text: RuleSummary(in), Method: MethodRule}, nil
}

// Fallbacks returns how many llm summaries degraded to rules.
func (g *Generator) Fallbacks() int64 {
	return g.fallbacks.Load()
}

// ModelName reports the active summary source.
func (g *Generator) ModelName() string {
	if g.method == MethodLLM {
		return g.gen.SummaryModel()
	}
	return "rule-based"
}

func (g *Generator) llmSummary(ctx context.Context, in Input) (string, error) {
	content := truncate(string(in.Content), maxPromptContent)

	var prompt string
	if in.ContentType == scanner.ContentTypeMarkdown {
		prompt = fmt.Sprintf(markdownPromptTemplate, in.Path, content)
	} else {
		prompt = fmt.Sprintf(codePromptTemplate, in.Path, in.Language, content)
	}

	response, err := g.gen.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	return cleanResponse(response), nil
}

// RuleSummary synthesizes a deterministic summary from the parse result:
// imports list, exported symbol headlines, and section titles for markdown.
func RuleSummary(in Input) string {
	res := in.Parse

	if in.ContentType == scanner.ContentTypeMarkdown && res != nil {
		parts := []string{fmt.Sprintf("Document: %s", in.Path)}
		if titles := sectionTitles(res.Sections); len(titles) > 0 {
			parts = append(parts, "Sections: "+joinCapped(titles, maxHeadlines))
		}
		return strings.Join(parts, ". ") + "."
	}

	parts := []string{fmt.Sprintf("File: %s", in.Path)}
	if in.Language != "" {
		parts = append(parts, fmt.Sprintf("Language: %s", in.Language))
	}
	if res != nil {
		if res.Package != "" {
			parts = append(parts, fmt.Sprintf("Package: %s", res.Package))
		}
		if headlines := symbolHeadlines(res.Declarations); len(headlines) > 0 {
			parts = append(parts, "Defines: "+joinCapped(headlines, maxHeadlines))
		}
		if doc := firstDocSentence(res.Declarations); doc != "" {
			parts = append(parts, "Purpose: "+doc)
		}
		if paths := res.ImportPaths(); len(paths) > 0 {
			parts = append(parts, "Imports: "+joinCapped(paths, maxImports))
		}
	}
	return strings.Join(parts, ". ") + "."
}

// symbolHeadlines lists declarations as "kind Name", exported ones first.
// Files with nothing exported fall back to all declarations.
func symbolHeadlines(decls []parse.Declaration) []string {
	var exported, all []string
	for _, d := range decls {
		h := fmt.Sprintf("%s %s", d.Kind, d.Name)
		all = append(all, h)
		if d.Exported {
			exported = append(exported, h)
		}
	}
	if len(exported) > 0 {
		return exported
	}
	return all
}

// firstDocSentence returns the first sentence of the first documented
// declaration, exported declarations taking precedence.
func firstDocSentence(decls []parse.Declaration) string {
	var fallback string
	for _, d := range decls {
		if d.Doc == "" {
			continue
		}
		s := firstSentence(d.Doc)
		if s == "" {
			continue
		}
		if d.Exported {
			return s
		}
		if fallback == "" {
			fallback = s
		}
	}
	return fallback
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	for i, r := range text {
		if r == '.' || r == '\n' {
			return strings.TrimSuffix(strings.TrimSpace(text[:i+1]), ".")
		}
	}
	if len(text) > 100 {
		return text[:100] + "..."
	}
	return text
}

// sectionTitles keeps top-two-level headings, in document order, no dups.
func sectionTitles(sections []parse.Section) []string {
	seen := make(map[string]bool)
	var titles []string
	for _, s := range sections {
		if s.Level == 0 || s.Level > 2 || s.Title == "" || seen[s.Title] {
			continue
		}
		seen[s.Title] = true
		titles = append(titles, s.Title)
	}
	return titles
}

func joinCapped(items []string, limit int) string {
	if len(items) > limit {
		items = append(items[:limit:limit], "...")
	}
	return strings.Join(items, ", ")
}

func cleanResponse(response string) string {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "Summary:")
	response = strings.Join(strings.Fields(response), " ")
	if len(response) > maxSummaryLen {
		cut := response[:maxSummaryLen]
		if i := strings.LastIndexByte(cut, ' '); i > 0 {
			cut = cut[:i]
		}
		response = cut
	}
	return response
}

func truncate(content string, maxLen int) string {
	if len(content) <= maxLen {
		return content
	}
	return content[:maxLen] + "\n... [truncated]"
}
