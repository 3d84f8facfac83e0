package retrieve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cindex-dev/cindex/internal/cerrors"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		text string
		want QueryType
	}{
		{"plain question", "how does authentication work?", QueryTypeNaturalLanguage},
		{"search phrasing", "find the retry helper for http clients", QueryTypeNaturalLanguage},
		{"single keyword is not enough", "the function that parses configs", QueryTypeNaturalLanguage},
		{"two keywords", "async function handler", QueryTypeCodeSnippet},
		{"arrow operator", "users.map(u => u.id)", QueryTypeCodeSnippet},
		{"strict equality", "if (a === b) return", QueryTypeCodeSnippet},
		{"scope resolution", "std::vector push_back", QueryTypeCodeSnippet},
		{"dense brackets", "foo(bar[0], {x: 1})", QueryTypeCodeSnippet},
		{"keyword inside word does not count", "classification of returnees", QueryTypeNaturalLanguage},
		{"empty-ish", " ", QueryTypeNaturalLanguage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.text))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "how does auth work",
		Normalize("  how   does auth\twork?? ", QueryTypeNaturalLanguage))
	assert.Equal(t, "where is the parser",
		Normalize("where is the parser.", QueryTypeNaturalLanguage))

	// Code snippets keep their exact text, whitespace included.
	snippet := "  const x = {a: 1}\n"
	assert.Equal(t, snippet, Normalize(snippet, QueryTypeCodeSnippet))
}

func TestProcessQueryRejectsEmpty(t *testing.T) {
	st := newSearchStore()
	e := newTestEngine(t, st)

	_, err := e.processQuery(context.Background(), "   \t ")
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeQueryEmpty, cerrors.GetCode(err))
}

func TestProcessQueryCachesEmbedding(t *testing.T) {
	st := newSearchStore()
	e := newTestEngine(t, st)
	ctx := context.Background()

	first, err := e.processQuery(ctx, "where is the session store?")
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	require.NotEmpty(t, first.Embedding)

	// Different surface form, same normalized text.
	second, err := e.processQuery(ctx, "  where   is the session store ")
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.NormalizedText, second.NormalizedText)
	assert.Equal(t, first.Embedding, second.Embedding)

	stats, _ := e.CacheStats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Hits)
}
