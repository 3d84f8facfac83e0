package retrieve

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cindex-dev/cindex/internal/backend"
	"github.com/cindex-dev/cindex/internal/cerrors"
	"github.com/cindex-dev/cindex/internal/config"
	"github.com/cindex-dev/cindex/internal/model"
	"github.com/cindex-dev/cindex/internal/store"
)

// searchStore is an in-memory read side of store.Store. Row lookups come
// from maps; the ranked search methods replay scripted hits after applying
// the same repo, path, threshold and limit predicates the real store would.
type searchStore struct {
	mu sync.Mutex

	repos      map[string]model.Repository
	files      map[string]map[string]model.File
	chunks     map[string][]model.Chunk // keyed by repoID+"\x00"+path
	symbols    map[string][]model.Symbol
	workspaces map[string][]model.Workspace
	services   map[string][]model.Service
	endpoints  []model.APIEndpoint
	crossDeps  map[string][]string

	fileHits     []store.FileHit
	chunkHits    []store.ChunkHit
	endpointHits []store.EndpointHit
	docHits      []store.DocHit

	fileQueries     []store.SearchQuery
	chunkQueries    []store.SearchQuery
	endpointQueries []store.EndpointSearchQuery
	docQueries      []store.DocSearchQuery
	listings        []store.EndpointFilter
}

var _ store.Store = (*searchStore)(nil)

func newSearchStore() *searchStore {
	return &searchStore{
		repos:      make(map[string]model.Repository),
		files:      make(map[string]map[string]model.File),
		chunks:     make(map[string][]model.Chunk),
		symbols:    make(map[string][]model.Symbol),
		workspaces: make(map[string][]model.Workspace),
		services:   make(map[string][]model.Service),
		crossDeps:  make(map[string][]string),
	}
}

func (s *searchStore) addRepo(r model.Repository) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repos[r.RepoID] = r
}

func (s *searchStore) addFile(f model.File, chunks ...model.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPath := s.files[f.RepoID]
	if byPath == nil {
		byPath = make(map[string]model.File)
		s.files[f.RepoID] = byPath
	}
	byPath[f.Path] = f
	s.chunks[f.RepoID+"\x00"+f.Path] = append([]model.Chunk(nil), chunks...)
}

func (s *searchStore) addSymbols(repoID string, syms ...model.Symbol) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols[repoID] = append(s.symbols[repoID], syms...)
}

func (s *searchStore) GetRepository(_ context.Context, repoID string) (*model.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.repos[repoID]; ok {
		return &r, nil
	}
	return nil, cerrors.Newf(cerrors.ErrCodeStoreNotFound, "repository not found: %s", repoID)
}

func (s *searchStore) GetRepositoryByPath(_ context.Context, rootPath string) (*model.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.repos {
		if r.RootPath == rootPath {
			return &r, nil
		}
	}
	return nil, cerrors.Newf(cerrors.ErrCodeStoreNotFound, "no repository at %s", rootPath)
}

func (s *searchStore) ListRepositories(_ context.Context) ([]model.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Repository, 0, len(s.repos))
	for _, r := range s.repos {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RepoID < out[j].RepoID })
	return out, nil
}

func (s *searchStore) DeleteRepository(_ context.Context, repoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.repos, repoID)
	delete(s.files, repoID)
	return nil
}

func (s *searchStore) RepositoryStats(_ context.Context, repoID string) (*store.RepoStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &store.RepoStats{RepoID: repoID, Files: len(s.files[repoID])}, nil
}

func (s *searchStore) GetFile(_ context.Context, repoID, path string) (*model.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[repoID][path]; ok {
		return &f, nil
	}
	return nil, cerrors.Newf(cerrors.ErrCodeStoreNotFound,
		"file %q is not indexed in repository %q", path, repoID)
}

func (s *searchStore) FilesByPaths(_ context.Context, repoID string, paths []string) ([]model.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.File
	for _, p := range paths {
		if f, ok := s.files[repoID][p]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *searchStore) ListFiles(_ context.Context, repoID string) ([]model.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.files[repoID]))
	for p := range s.files[repoID] {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	out := make([]model.File, 0, len(paths))
	for _, p := range paths {
		out = append(out, s.files[repoID][p])
	}
	return out, nil
}

func (s *searchStore) FileHashes(_ context.Context, repoID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	for p, f := range s.files[repoID] {
		out[p] = f.ContentHash
	}
	return out, nil
}

func (s *searchStore) ChunksByFile(_ context.Context, repoID, path string) ([]model.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Chunk(nil), s.chunks[repoID+"\x00"+path]...), nil
}

func (s *searchStore) ChunksByIDs(_ context.Context, chunkIDs []string) ([]model.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := toSet(chunkIDs)
	var out []model.Chunk
	for _, rows := range s.chunks {
		for _, c := range rows {
			if _, ok := want[c.ChunkID]; ok {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (s *searchStore) SymbolsByNames(_ context.Context, repoIDs []string, names []string) ([]model.Symbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := toSet(names)
	var out []model.Symbol
	for _, repoID := range repoIDs {
		for _, sym := range s.symbols[repoID] {
			if _, ok := want[sym.Name]; ok {
				out = append(out, sym)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].FilePath < out[j].FilePath
	})
	return out, nil
}

func (s *searchStore) SearchSymbols(_ context.Context, repoIDs []string, query string, kinds []model.SymbolKind, limit int) ([]model.Symbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lower := strings.ToLower(query)
	var out []model.Symbol
	for _, repoID := range repoIDs {
		for _, sym := range s.symbols[repoID] {
			if !strings.Contains(strings.ToLower(sym.Name), lower) {
				continue
			}
			if len(kinds) > 0 && !containsKind(kinds, sym.Kind) {
				continue
			}
			out = append(out, sym)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func containsKind(kinds []model.SymbolKind, k model.SymbolKind) bool {
	for _, v := range kinds {
		if v == k {
			return true
		}
	}
	return false
}

func (s *searchStore) WorkspacesByRepo(_ context.Context, repoID string) ([]model.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Workspace(nil), s.workspaces[repoID]...), nil
}

func (s *searchStore) ServicesByRepo(_ context.Context, repoID string) ([]model.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Service(nil), s.services[repoID]...), nil
}

func (s *searchStore) Endpoints(_ context.Context, filter store.EndpointFilter) ([]model.APIEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings = append(s.listings, filter)

	repoSet := toSet(filter.RepoIDs)
	svcSet := toSet(filter.ServiceIDs)
	var out []model.APIEndpoint
	for _, ep := range s.endpoints {
		if len(repoSet) > 0 {
			if _, ok := repoSet[ep.RepoID]; !ok {
				continue
			}
		}
		if len(svcSet) > 0 {
			if _, ok := svcSet[ep.ServiceID]; !ok {
				continue
			}
		}
		if filter.APIType != "" && ep.APIType != filter.APIType {
			continue
		}
		if !filter.IncludeDeprecated && ep.Deprecated {
			continue
		}
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.RepoID != b.RepoID {
			return a.RepoID < b.RepoID
		}
		if a.ServiceID != b.ServiceID {
			return a.ServiceID < b.ServiceID
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Method < b.Method
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *searchStore) CrossRepoDependencies(_ context.Context, repoID string) ([]model.CrossRepoDependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CrossRepoDependency
	for _, target := range s.crossDeps[repoID] {
		out = append(out, model.CrossRepoDependency{SourceRepoID: repoID, TargetRepoID: target})
	}
	return out, nil
}

func (s *searchStore) SearchFiles(_ context.Context, q store.SearchQuery) ([]store.FileHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileQueries = append(s.fileQueries, q)

	// Scores come from the seeded components through the store's own
	// scoring math, so weight and qualification behavior match Postgres.
	repoSet := toSet(q.RepoIDs)
	var out []store.FileHit
	for _, h := range s.fileHits {
		if len(repoSet) > 0 {
			if _, ok := repoSet[h.File.RepoID]; !ok {
				continue
			}
		}
		// The keyword component joins only when the query has text and the
		// keyword weight is positive, mirroring the store's SQL builder.
		kw := h.KeywordScore
		if q.Text == "" || q.KeywordWeight <= 0 {
			kw = 0
		}
		if !store.Qualifies(h.VectorScore, kw, q.Threshold) {
			continue
		}
		h.KeywordScore = kw
		h.Score = store.HybridScore(h.VectorScore, kw, q.VectorWeight, q.KeywordWeight)
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].File.Path < out[j].File.Path
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *searchStore) SearchChunks(_ context.Context, q store.SearchQuery) ([]store.ChunkHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunkQueries = append(s.chunkQueries, q)

	repoSet := toSet(q.RepoIDs)
	pathSet := toSet(q.FilePaths)
	var out []store.ChunkHit
	for _, h := range s.chunkHits {
		if h.Chunk.Type == model.ChunkTypeFileSummary {
			continue
		}
		if len(repoSet) > 0 {
			if _, ok := repoSet[h.Chunk.RepoID]; !ok {
				continue
			}
		}
		if len(pathSet) > 0 {
			if _, ok := pathSet[h.Chunk.FilePath]; !ok {
				continue
			}
		}
		if h.Score < q.Threshold {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *searchStore) SearchEndpoints(_ context.Context, q store.EndpointSearchQuery) ([]store.EndpointHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpointQueries = append(s.endpointQueries, q)

	repoSet := toSet(q.RepoIDs)
	svcSet := toSet(q.ServiceIDs)
	var out []store.EndpointHit
	for _, h := range s.endpointHits {
		if len(repoSet) > 0 {
			if _, ok := repoSet[h.Endpoint.RepoID]; !ok {
				continue
			}
		}
		if len(svcSet) > 0 {
			if _, ok := svcSet[h.Endpoint.ServiceID]; !ok {
				continue
			}
		}
		if q.APIType != "" && h.Endpoint.APIType != q.APIType {
			continue
		}
		if !q.IncludeDeprecated && h.Endpoint.Deprecated {
			continue
		}
		if h.Score < q.Threshold {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *searchStore) SearchDocs(_ context.Context, q store.DocSearchQuery) ([]store.DocHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docQueries = append(s.docQueries, q)

	docSet := toSet(q.DocIDs)
	var out []store.DocHit
	for _, h := range s.docHits {
		if len(docSet) > 0 {
			if _, ok := docSet[h.Chunk.DocID]; !ok {
				continue
			}
		}
		if h.Score < q.Threshold {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *searchStore) SaveDocumentation(_ context.Context, _ *model.DocumentationSet, _ []model.DocumentationChunk) error {
	return fmt.Errorf("read-only store")
}

func (s *searchStore) ListDocumentation(_ context.Context) ([]model.DocumentationSet, error) {
	return nil, nil
}

func (s *searchStore) DeleteDocumentation(_ context.Context, _ string) error {
	return fmt.Errorf("read-only store")
}

func (s *searchStore) BeginIndex(_ context.Context, _ string) (store.IndexWriter, error) {
	return nil, fmt.Errorf("read-only store")
}

func (s *searchStore) Migrate(_ context.Context) error { return nil }
func (s *searchStore) Ping(_ context.Context) error    { return nil }
func (s *searchStore) Close()                          {}

// Recorded-query accessors for assertions.

func (s *searchStore) fileQueryLog() []store.SearchQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.SearchQuery(nil), s.fileQueries...)
}

func (s *searchStore) chunkQueryLog() []store.SearchQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.SearchQuery(nil), s.chunkQueries...)
}

func (s *searchStore) endpointQueryLog() []store.EndpointSearchQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.EndpointSearchQuery(nil), s.endpointQueries...)
}

func (s *searchStore) docQueryLog() []store.DocSearchQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.DocSearchQuery(nil), s.docQueries...)
}

func (s *searchStore) listingLog() []store.EndpointFilter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.EndpointFilter(nil), s.listings...)
}

func newTestEngine(t *testing.T, st store.Store, mutate ...func(*config.Config)) *Engine {
	t.Helper()
	cfg := config.New()
	for _, m := range mutate {
		m(cfg)
	}
	e, err := NewEngine(st, backend.NewStaticEmbedder(8), cfg,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return e
}

// Fixture builders. Scores are chosen above the default thresholds so a
// scripted hit survives unless a test lowers it on purpose.

func testRepo(id string, kind model.RepoKind) model.Repository {
	return model.Repository{RepoID: id, Name: id, RootPath: "/src/" + id, Kind: kind}
}

func testFile(repoID, path string) model.File {
	return model.File{RepoID: repoID, Path: path, Summary: "summary of " + path}
}

func testChunk(repoID, path, id, content string) model.Chunk {
	return model.Chunk{
		ChunkID:   id,
		RepoID:    repoID,
		FilePath:  path,
		Type:      model.ChunkTypeFunction,
		Content:   content,
		StartLine: 1,
		EndLine:   10,
	}
}

// unitVec builds an embedding with a single non-zero axis, so distinct axes
// are orthogonal and identical axes are exact duplicates under cosine.
func unitVec(axis int) []float32 {
	v := make([]float32, 8)
	v[axis%8] = 1
	return v
}
