package retrieve

import (
	"context"
	"strings"

	"github.com/cindex-dev/cindex/internal/cerrors"
	"github.com/cindex-dev/cindex/internal/model"
	"github.com/cindex-dev/cindex/internal/store"
)

// DocResult is one documentation search hit.
type DocResult struct {
	Chunk model.DocumentationChunk `json:"chunk"`
	Score float64                  `json:"score"`
}

// SearchDocumentation runs a hybrid search over indexed documentation
// chunks. Query processing is identical to code search; the corpus is the
// documentation tables instead of the code tables.
func (e *Engine) SearchDocumentation(ctx context.Context, rawQuery string, opts DocOptions) ([]DocResult, error) {
	q, err := e.processQuery(ctx, rawQuery)
	if err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = e.cfg.Search.MaxChunks
	}
	hits, err := e.store.SearchDocs(ctx, store.DocSearchQuery{
		Vector:        q.Embedding,
		Text:          q.NormalizedText,
		VectorWeight:  e.vectorWeight(),
		KeywordWeight: e.keywordWeight(),
		Threshold:     e.cfg.Search.ChunkSimilarityThreshold,
		Limit:         limit,
		DocIDs:        opts.DocIDs,
	})
	if err != nil {
		return nil, err
	}
	out := make([]DocResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, DocResult{Chunk: h.Chunk, Score: h.Score})
	}
	return out, nil
}

// EndpointResult is one API contract search hit.
type EndpointResult struct {
	Endpoint model.APIEndpoint `json:"endpoint"`
	Score    float64           `json:"score"`
}

// SearchAPIContracts ranks endpoints against the query embedding. Unlike the
// stage-6 enrichment this path reports scores, so it queries the store
// directly instead of the endpoint cache.
func (e *Engine) SearchAPIContracts(ctx context.Context, rawQuery string, opts ContractOptions) ([]EndpointResult, error) {
	q, err := e.processQuery(ctx, rawQuery)
	if err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = e.cfg.Search.MaxEndpoints
	}
	hits, err := e.store.SearchEndpoints(ctx, store.EndpointSearchQuery{
		Vector:            q.Embedding,
		RepoIDs:           opts.RepoIDs,
		ServiceIDs:        opts.ServiceIDs,
		APIType:           opts.APIType,
		IncludeDeprecated: opts.IncludeDeprecated,
		Threshold:         e.cfg.Search.APISimilarityThreshold,
		Limit:             limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]EndpointResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, EndpointResult{Endpoint: h.Endpoint, Score: h.Score})
	}
	return out, nil
}

// SymbolResult is the output of a symbol definition lookup.
type SymbolResult struct {
	Name        string         `json:"name"`
	Definitions []model.Symbol `json:"definitions"`

	// Exact is false when the definitions came from substring matching.
	Exact bool `json:"exact"`

	Usages []ChunkResult `json:"usages,omitempty"`
}

// FindSymbol locates definitions of a symbol name. Exact matches win; when
// none exist the lookup falls back to case-insensitive substring matching.
// With IncludeUsages set, chunks referencing the name are searched too.
func (e *Engine) FindSymbol(ctx context.Context, name string, opts SymbolOptions) (*SymbolResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, cerrors.New(cerrors.ErrCodeMissingField, "symbol name is required", nil).
			WithSuggestion("Provide the symbol name to look up")
	}
	sc, err := e.resolveScope(ctx, repoScope(opts.RepoIDs))
	if err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = e.cfg.Search.MaxChunks
	}

	defs, err := e.store.SymbolsByNames(ctx, sc.repoIDs, []string{name})
	if err != nil {
		return nil, err
	}
	defs = filterSymbolKinds(defs, opts.Kinds)
	res := &SymbolResult{Name: name, Definitions: defs, Exact: true}

	if len(defs) == 0 {
		res.Exact = false
		res.Definitions, err = e.store.SearchSymbols(ctx, sc.repoIDs, name, opts.Kinds, limit)
		if err != nil {
			return nil, err
		}
	}

	if opts.IncludeUsages {
		res.Usages, err = e.symbolUsages(ctx, sc, name, limit)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// repoScope builds a repository scope from explicit IDs, widening to global
// when none are named.
func repoScope(repoIDs []string) ScopeOptions {
	if len(repoIDs) == 0 {
		return ScopeOptions{Mode: ScopeGlobal}
	}
	return ScopeOptions{Mode: ScopeRepository, RepoIDs: repoIDs}
}

func filterSymbolKinds(symbols []model.Symbol, kinds []model.SymbolKind) []model.Symbol {
	if len(kinds) == 0 {
		return symbols
	}
	kept := symbols[:0]
	for _, s := range symbols {
		for _, k := range kinds {
			if s.Kind == k {
				kept = append(kept, s)
				break
			}
		}
	}
	return kept
}

// symbolUsages finds chunks that reference the name. The hybrid search uses
// the name as both embedding input and keyword text; hits that never spell
// the name out are dropped.
func (e *Engine) symbolUsages(ctx context.Context, sc *resolvedScope, name string, limit int) ([]ChunkResult, error) {
	q, err := e.processQuery(ctx, name)
	if err != nil {
		return nil, err
	}
	hits, err := e.store.SearchChunks(ctx, store.SearchQuery{
		Vector:        q.Embedding,
		Text:          q.NormalizedText,
		VectorWeight:  e.vectorWeight(),
		KeywordWeight: e.keywordWeight(),
		Threshold:     e.cfg.Search.ChunkSimilarityThreshold,
		Limit:         limit,
		RepoIDs:       sc.repoIDs,
	})
	if err != nil {
		return nil, err
	}
	usages := make([]ChunkResult, 0, len(hits))
	for _, h := range hits {
		if !strings.Contains(h.Chunk.Content, name) {
			continue
		}
		kind := sc.kind(h.Chunk.RepoID)
		usages = append(usages, ChunkResult{
			Chunk:    h.Chunk,
			RepoKind: kind,
			Score:    h.Score,
			Priority: kind.PriorityWeight(),
		})
	}
	return usages, nil
}
