package retrieve

import (
	"context"

	"github.com/cindex-dev/cindex/internal/store"
)

// retrieveChunks runs stage 3: hybrid search over the chunks of the stage-2
// file candidates. The store excludes summary chunks and returns embeddings
// so the deduplicator can compare results without re-fetching.
func (e *Engine) retrieveChunks(ctx context.Context, q *Query, sc *resolvedScope, files []FileResult, limit int) ([]ChunkResult, error) {
	if len(files) == 0 {
		return nil, nil
	}

	paths := make([]string, 0, len(files))
	repoSet := make(map[string]struct{}, len(files))
	var repoIDs []string
	for _, f := range files {
		paths = append(paths, f.File.Path)
		if _, ok := repoSet[f.File.RepoID]; !ok {
			repoSet[f.File.RepoID] = struct{}{}
			repoIDs = append(repoIDs, f.File.RepoID)
		}
	}

	hits, err := e.store.SearchChunks(ctx, store.SearchQuery{
		Vector:        q.Embedding,
		Text:          q.NormalizedText,
		VectorWeight:  e.vectorWeight(),
		KeywordWeight: e.keywordWeight(),
		Threshold:     e.cfg.Search.ChunkSimilarityThreshold,
		Limit:         limit,
		RepoIDs:       repoIDs,
		FilePaths:     paths,
	})
	if err != nil {
		return nil, err
	}

	// Same-named paths can exist in several repos; keep only chunks whose
	// (repo, path) pair was an actual stage-2 candidate.
	candidates := make(map[string]struct{}, len(files))
	for _, f := range files {
		candidates[f.File.RepoID+"\x00"+f.File.Path] = struct{}{}
	}

	results := make([]ChunkResult, 0, len(hits))
	for _, h := range hits {
		if _, ok := candidates[h.Chunk.RepoID+"\x00"+h.Chunk.FilePath]; !ok {
			continue
		}
		kind := sc.kind(h.Chunk.RepoID)
		results = append(results, ChunkResult{
			Chunk:    h.Chunk,
			RepoKind: kind,
			Score:    h.Score,
			Priority: kind.PriorityWeight(),
		})
	}
	return results, nil
}
