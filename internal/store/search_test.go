package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQualifies(t *testing.T) {
	tests := []struct {
		name        string
		vector, kw  float64
		threshold   float64
		want        bool
	}{
		{"strong vector match with no keyword rank", 0.95, 0.0, 0.70, true},
		{"keyword rank alone clears the floor", 0.20, 0.10, 0.70, true},
		{"neither component qualifies", 0.50, 0.005, 0.70, false},
		{"vector exactly at threshold does not qualify", 0.70, 0.0, 0.70, false},
		{"keyword exactly at floor does not qualify", 0.0, 0.01, 0.70, false},
		{"just above the floor qualifies", 0.0, 0.011, 0.70, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Qualifies(tt.vector, tt.kw, tt.threshold))
		})
	}
}

func TestHybridScore_PureModes(t *testing.T) {
	// Pure vector weights reduce to the vector component.
	assert.InDelta(t, 0.85, HybridScore(0.85, 0.4, 1.0, 0.0), 1e-9)
	// Pure keyword weights reduce to the full-text rank.
	assert.InDelta(t, 0.12, HybridScore(0.85, 0.12, 0.0, 1.0), 1e-9)
	// Defaults blend both.
	assert.InDelta(t, 0.7*0.9+0.3*0.2, HybridScore(0.9, 0.2, 0.7, 0.3), 1e-9)
}

func TestHybridScore_KeywordOnlyOrdering(t *testing.T) {
	// With w_v=0, w_k=1 the file the keyword rank favors must outrank the
	// file the vector favors, and both must pass or fail on their own
	// components.
	authVec, authKw := 0.85, 0.12
	otherVec, otherKw := 0.90, 0.0

	assert.Greater(t,
		HybridScore(authVec, authKw, 0, 1),
		HybridScore(otherVec, otherKw, 0, 1))
	assert.True(t, Qualifies(authVec, authKw, 0.70))
	assert.True(t, Qualifies(otherVec, otherKw, 0.70), "vector similarity still gates it in")
}

func hybridQuery() SearchQuery {
	return SearchQuery{
		Vector:        []float32{0.1, 0.2},
		Text:          "bcrypt authentication",
		VectorWeight:  0.7,
		KeywordWeight: 0.3,
		Threshold:     0.70,
		Limit:         10,
	}
}

func TestBuildFileSearchSQL_HybridGatesOnComponents(t *testing.T) {
	sql, args := buildFileSearchSQL(hybridQuery())

	assert.Contains(t, sql, "ts_rank_cd")
	assert.Contains(t, sql, "OR keyword_score > 0.01")
	require.Contains(t, sql, "WHERE vector_score > $")
	assert.NotContains(t, sql, "score >= $", "the combined score never gates")
	assert.Contains(t, sql, "ORDER BY score DESC, vector_score DESC, path ASC")
	assert.Contains(t, args, 0.70)
	assert.Contains(t, args, 0.3)
}

func TestBuildFileSearchSQL_VectorOnlyUsesDistanceOrder(t *testing.T) {
	q := hybridQuery()
	q.KeywordWeight = 0

	sql, _ := buildFileSearchSQL(q)

	assert.NotContains(t, sql, "ts_rank_cd")
	assert.Contains(t, sql, "ORDER BY summary_embedding <=> $1::vector ASC, path ASC")
	assert.Contains(t, sql, "(1 - (summary_embedding <=> $1::vector)) > $")
}

func TestBuildFileSearchSQL_NoTermsFallsBackToVector(t *testing.T) {
	q := hybridQuery()
	q.Text = "-- ?? ++" // sanitizes to nothing

	sql, _ := buildFileSearchSQL(q)
	assert.NotContains(t, sql, "ts_rank_cd")
	assert.Contains(t, sql, "ORDER BY summary_embedding <=> $1::vector ASC")
}

func TestBuildChunkSearchSQL(t *testing.T) {
	q := hybridQuery()
	q.FilePaths = []string{"src/auth.ts"}

	sql, _ := buildChunkSearchSQL(q)
	assert.Contains(t, sql, "chunk_type <> 'file_summary'")
	assert.Contains(t, sql, "OR keyword_score > 0.01")
	assert.Contains(t, sql, "WHERE vector_score > $")
	assert.Contains(t, sql, "ORDER BY score DESC, vector_score DESC, file_path ASC, start_line ASC")

	q.KeywordWeight = 0
	sql, _ = buildChunkSearchSQL(q)
	assert.Contains(t, sql, "ORDER BY embedding <=> $1::vector ASC, file_path ASC, start_line ASC")
	assert.True(t, strings.Contains(sql, "chunk_type <> 'file_summary'"))
}

func TestBuildDocSearchSQL(t *testing.T) {
	q := DocSearchQuery{
		Vector:        []float32{0.1, 0.2},
		Text:          "getting started",
		VectorWeight:  0.7,
		KeywordWeight: 0.3,
		Threshold:     0.30,
		DocIDs:        []string{"guides"},
	}

	sql, args := buildDocSearchSQL(q)
	assert.Contains(t, sql, "documentation_chunks")
	assert.Contains(t, sql, "OR keyword_score > 0.01")
	assert.Contains(t, sql, "WHERE vector_score > $")
	assert.Contains(t, args, []string{"guides"})

	q.Text = ""
	sql, _ = buildDocSearchSQL(q)
	assert.Contains(t, sql, "ORDER BY embedding <=> $1::vector ASC, file_path ASC, start_line ASC")
}
