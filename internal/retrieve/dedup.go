package retrieve

import (
	"math"
	"sort"

	"github.com/cindex-dev/cindex/internal/model"
)

// dedupChunks runs stage 7: near-duplicate collapse followed by priority
// ranking. Chunks whose embeddings exceed the similarity threshold are
// duplicates. Within one repository the higher-scored copy survives. Across
// repositories a reference-kind copy of mainline code survives too, tagged
// similar_to_main_code so clients can fold it away. Any other cross-repo
// pair stays intact.
func dedupChunks(chunks []ChunkResult, threshold float64) []ChunkResult {
	dropped := make([]bool, len(chunks))
	for i := 0; i < len(chunks); i++ {
		if dropped[i] {
			continue
		}
		for j := i + 1; j < len(chunks); j++ {
			if dropped[j] {
				continue
			}
			sim := cosineSimilarity(chunks[i].Chunk.Embedding, chunks[j].Chunk.Embedding)
			if sim <= threshold {
				continue
			}
			a, b := &chunks[i], &chunks[j]
			switch {
			case a.Chunk.RepoID == b.Chunk.RepoID:
				// Input arrives score-descending, so ties keep the earlier.
				if b.Score > a.Score {
					dropped[i] = true
				} else {
					dropped[j] = true
				}
			case (a.RepoKind == model.RepoKindReference) != (b.RepoKind == model.RepoKindReference):
				if a.RepoKind == model.RepoKindReference {
					a.SimilarToMainCode = true
				} else {
					b.SimilarToMainCode = true
				}
			}
			if dropped[i] {
				break
			}
		}
	}

	kept := make([]ChunkResult, 0, len(chunks))
	for i := range chunks {
		if !dropped[i] {
			kept = append(kept, chunks[i])
		}
	}
	rankChunks(kept)
	return kept
}

// rankChunks orders by score weighted by repo-kind priority. Ties fall back
// to file path then start line so output order is stable across runs.
func rankChunks(chunks []ChunkResult) {
	sort.SliceStable(chunks, func(i, j int) bool {
		ri := chunks[i].Score * chunks[i].Priority
		rj := chunks[j].Score * chunks[j].Priority
		if ri != rj {
			return ri > rj
		}
		if chunks[i].Chunk.FilePath != chunks[j].Chunk.FilePath {
			return chunks[i].Chunk.FilePath < chunks[j].Chunk.FilePath
		}
		return chunks[i].Chunk.StartLine < chunks[j].Chunk.StartLine
	})
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
