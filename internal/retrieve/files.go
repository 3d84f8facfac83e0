package retrieve

import (
	"context"

	"github.com/cindex-dev/cindex/internal/store"
)

// retrieveFiles runs stage 2: hybrid search over file summaries within the
// resolved scope. Workspace and service exclusions apply after the store
// query since the search predicates are repo-level.
func (e *Engine) retrieveFiles(ctx context.Context, q *Query, sc *resolvedScope, limit int) ([]FileResult, error) {
	if len(sc.repoIDs) == 0 {
		return nil, nil
	}

	hits, err := e.store.SearchFiles(ctx, store.SearchQuery{
		Vector:        q.Embedding,
		Text:          q.NormalizedText,
		VectorWeight:  e.vectorWeight(),
		KeywordWeight: e.keywordWeight(),
		Threshold:     e.cfg.Search.SimilarityThreshold,
		Limit:         limit,
		RepoIDs:       sc.repoIDs,
	})
	if err != nil {
		return nil, err
	}

	results := make([]FileResult, 0, len(hits))
	for _, h := range hits {
		if !sc.allowsFile(&h.File) {
			continue
		}
		results = append(results, FileResult{
			File:         h.File,
			RepoKind:     sc.kind(h.File.RepoID),
			Score:        h.Score,
			VectorScore:  h.VectorScore,
			KeywordScore: h.KeywordScore,
		})
	}
	return results, nil
}

// vectorWeight and keywordWeight fold the hybrid toggle into the weights:
// with hybrid search off the keyword component disappears and vector
// similarity carries full weight.
func (e *Engine) vectorWeight() float64 {
	if !e.cfg.Search.HybridSearch {
		return 1.0
	}
	return e.cfg.Search.HybridVectorWeight
}

func (e *Engine) keywordWeight() float64 {
	if !e.cfg.Search.HybridSearch {
		return 0
	}
	return e.cfg.Search.HybridKeywordWeight
}
