package retrieve

import (
	"context"
	"strings"
	"time"

	"github.com/cindex-dev/cindex/internal/cerrors"
)

// Classification vocabularies, checked in order: code keywords, code
// symbols, special-character density. Everything else, questions and search
// phrasings included, is natural language.
var (
	codeKeywords = map[string]struct{}{
		"function": {}, "const": {}, "let": {}, "var": {},
		"class": {}, "interface": {}, "type": {}, "import": {},
		"export": {}, "return": {}, "async": {}, "await": {},
		"def": {}, "public": {}, "private": {}, "static": {},
	}

	codeSymbols = []string{"=>", "===", "!==", "++", "--", "&&", "||", "::"}
)

const specialDensityThreshold = 0.10

// Classify determines whether raw query text is a code snippet or natural
// language. Code signals win; questions and search phrasings fall to
// natural language, which is also the default.
func Classify(text string) QueryType {
	if countCodeKeywords(text) >= 2 {
		return QueryTypeCodeSnippet
	}
	for _, sym := range codeSymbols {
		if strings.Contains(text, sym) {
			return QueryTypeCodeSnippet
		}
	}
	if specialDensity(text) > specialDensityThreshold {
		return QueryTypeCodeSnippet
	}
	return QueryTypeNaturalLanguage
}

func countCodeKeywords(text string) int {
	n := 0
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '_'
	}) {
		if _, ok := codeKeywords[tok]; ok {
			n++
		}
	}
	return n
}

func specialDensity(text string) float64 {
	if text == "" {
		return 0
	}
	n := 0
	for _, r := range text {
		switch r {
		case '{', '}', '(', ')', '[', ']', '=', '<', '>':
			n++
		}
	}
	return float64(n) / float64(len(text))
}

// Normalize canonicalizes query text for caching and keyword search. Code
// snippets keep their exact text since whitespace and punctuation carry
// meaning; natural-language queries are trimmed, whitespace-collapsed, and
// stripped of trailing sentence punctuation.
func Normalize(text string, qt QueryType) string {
	if qt == QueryTypeCodeSnippet {
		return text
	}
	collapsed := strings.Join(strings.Fields(text), " ")
	return strings.TrimRight(collapsed, ".!?")
}

// processQuery runs stage 1: classification, normalization, and embedding
// through the query cache.
func (e *Engine) processQuery(ctx context.Context, raw string) (*Query, error) {
	start := time.Now()

	if strings.TrimSpace(raw) == "" {
		return nil, cerrors.New(cerrors.ErrCodeQueryEmpty, "query is empty", nil).
			WithSuggestion("Provide a search query")
	}

	qt := Classify(raw)
	normalized := Normalize(raw, qt)

	q := &Query{
		NormalizedText: normalized,
		Type:           qt,
	}

	if vec, ok := e.queries.Get(normalized); ok {
		q.Embedding = vec
		q.CacheHit = true
		q.ElapsedMS = time.Since(start).Milliseconds()
		return q, nil
	}

	vec, err := e.embedder.Embed(ctx, normalized)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeEmbeddingFailed, err, "embed query").
			WithSuggestion("Check that the embedding backend is running")
	}
	e.queries.Add(normalized, vec)

	q.Embedding = vec
	q.ElapsedMS = time.Since(start).Milliseconds()
	return q, nil
}
