package index

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
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

// storedFile is a committed file row with its chunks and symbols.
type storedFile struct {
	file    model.File
	chunks  []model.Chunk
	symbols []model.Symbol
}

// fakeStore is an in-memory store.Store. Writes buffer in a fakeWriter and
// apply on Commit, so incremental-run tests observe real visibility rules.
type fakeStore struct {
	mu sync.Mutex

	repos      map[string]*model.Repository
	files      map[string]map[string]*storedFile
	workspaces map[string][]model.Workspace
	services   map[string][]model.Service
	endpoints  map[string][]model.APIEndpoint
	crossDeps  map[string][]string

	docs      map[string]*model.DocumentationSet
	docChunks map[string][]model.DocumentationChunk

	begins    int
	commits   int
	rollbacks int

	failCommit bool
}

var _ store.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		repos:      make(map[string]*model.Repository),
		files:      make(map[string]map[string]*storedFile),
		workspaces: make(map[string][]model.Workspace),
		services:   make(map[string][]model.Service),
		endpoints:  make(map[string][]model.APIEndpoint),
		crossDeps:  make(map[string][]string),
		docs:       make(map[string]*model.DocumentationSet),
		docChunks:  make(map[string][]model.DocumentationChunk),
	}
}

func (s *fakeStore) GetRepository(_ context.Context, repoID string) (*model.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.repos[repoID]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, cerrors.Newf(cerrors.ErrCodeStoreNotFound, "repository not found: %s", repoID)
}

func (s *fakeStore) GetRepositoryByPath(_ context.Context, rootPath string) (*model.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.repos {
		if r.RootPath == rootPath {
			cp := *r
			return &cp, nil
		}
	}
	return nil, cerrors.Newf(cerrors.ErrCodeStoreNotFound, "no repository at %s", rootPath)
}

func (s *fakeStore) ListRepositories(_ context.Context) ([]model.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Repository, 0, len(s.repos))
	for _, r := range s.repos {
		out = append(out, *r)
	}
	return out, nil
}

func (s *fakeStore) DeleteRepository(_ context.Context, repoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.repos, repoID)
	delete(s.files, repoID)
	delete(s.workspaces, repoID)
	delete(s.services, repoID)
	delete(s.endpoints, repoID)
	delete(s.crossDeps, repoID)
	return nil
}

func (s *fakeStore) RepositoryStats(_ context.Context, repoID string) (*store.RepoStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &store.RepoStats{RepoID: repoID}
	for _, f := range s.files[repoID] {
		st.Files++
		st.Chunks += len(f.chunks)
		st.Symbols += len(f.symbols)
	}
	st.Workspaces = len(s.workspaces[repoID])
	st.Services = len(s.services[repoID])
	st.Endpoints = len(s.endpoints[repoID])
	return st, nil
}

func (s *fakeStore) GetFile(_ context.Context, repoID, path string) (*model.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[repoID][path]; ok {
		cp := f.file
		return &cp, nil
	}
	return nil, cerrors.Newf(cerrors.ErrCodeStoreNotFound, "file not found: %s", path)
}

func (s *fakeStore) FilesByPaths(_ context.Context, repoID string, paths []string) ([]model.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.File
	for _, p := range paths {
		if f, ok := s.files[repoID][p]; ok {
			out = append(out, f.file)
		}
	}
	return out, nil
}

func (s *fakeStore) ListFiles(_ context.Context, repoID string) ([]model.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.files[repoID]))
	for p := range s.files[repoID] {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	out := make([]model.File, 0, len(paths))
	for _, p := range paths {
		out = append(out, s.files[repoID][p].file)
	}
	return out, nil
}

func (s *fakeStore) FileHashes(_ context.Context, repoID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	for p, f := range s.files[repoID] {
		out[p] = f.file.ContentHash
	}
	return out, nil
}

func (s *fakeStore) ChunksByFile(_ context.Context, repoID, path string) ([]model.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[repoID][path]; ok {
		return append([]model.Chunk(nil), f.chunks...), nil
	}
	return nil, nil
}

func (s *fakeStore) ChunksByIDs(_ context.Context, chunkIDs []string) ([]model.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		want[id] = true
	}
	var out []model.Chunk
	for _, repo := range s.files {
		for _, f := range repo {
			for _, c := range f.chunks {
				if want[c.ChunkID] {
					out = append(out, c)
				}
			}
		}
	}
	return out, nil
}

func (s *fakeStore) SymbolsByNames(_ context.Context, repoIDs []string, names []string) ([]model.Symbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []model.Symbol
	for _, repoID := range repoIDs {
		for _, f := range s.files[repoID] {
			for _, sym := range f.symbols {
				if want[sym.Name] {
					out = append(out, sym)
				}
			}
		}
	}
	return out, nil
}

func (s *fakeStore) SearchSymbols(_ context.Context, _ []string, _ string, _ []model.SymbolKind, _ int) ([]model.Symbol, error) {
	return nil, nil
}

func (s *fakeStore) WorkspacesByRepo(_ context.Context, repoID string) ([]model.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Workspace(nil), s.workspaces[repoID]...), nil
}

func (s *fakeStore) ServicesByRepo(_ context.Context, repoID string) ([]model.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Service(nil), s.services[repoID]...), nil
}

func (s *fakeStore) Endpoints(_ context.Context, filter store.EndpointFilter) ([]model.APIEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.APIEndpoint
	for _, repoID := range filter.RepoIDs {
		out = append(out, s.endpoints[repoID]...)
	}
	return out, nil
}

func (s *fakeStore) CrossRepoDependencies(_ context.Context, repoID string) ([]model.CrossRepoDependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CrossRepoDependency
	for _, target := range s.crossDeps[repoID] {
		out = append(out, model.CrossRepoDependency{SourceRepoID: repoID, TargetRepoID: target})
	}
	return out, nil
}

func (s *fakeStore) SaveDocumentation(_ context.Context, set *model.DocumentationSet, chunks []model.DocumentationChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *set
	s.docs[set.DocID] = &cp
	s.docChunks[set.DocID] = append([]model.DocumentationChunk(nil), chunks...)
	return nil
}

func (s *fakeStore) ListDocumentation(_ context.Context) ([]model.DocumentationSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.DocumentationSet, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, *d)
	}
	return out, nil
}

func (s *fakeStore) DeleteDocumentation(_ context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, docID)
	delete(s.docChunks, docID)
	return nil
}

func (s *fakeStore) SearchFiles(_ context.Context, _ store.SearchQuery) ([]store.FileHit, error) {
	return nil, nil
}

func (s *fakeStore) SearchChunks(_ context.Context, _ store.SearchQuery) ([]store.ChunkHit, error) {
	return nil, nil
}

func (s *fakeStore) SearchEndpoints(_ context.Context, _ store.EndpointSearchQuery) ([]store.EndpointHit, error) {
	return nil, nil
}

func (s *fakeStore) SearchDocs(_ context.Context, _ store.DocSearchQuery) ([]store.DocHit, error) {
	return nil, nil
}

func (s *fakeStore) BeginIndex(_ context.Context, repoID string) (store.IndexWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begins++
	return &fakeWriter{parent: s, repoID: repoID}, nil
}

func (s *fakeStore) Migrate(_ context.Context) error { return nil }
func (s *fakeStore) Ping(_ context.Context) error    { return nil }
func (s *fakeStore) Close()                          {}

// Accessors for assertions.

func (s *fakeStore) repo(repoID string) *model.Repository {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repos[repoID]
}

func (s *fakeStore) storedPaths(repoID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for p := range s.files[repoID] {
		out = append(out, p)
	}
	return out
}

func (s *fakeStore) fileRow(repoID, path string) *storedFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files[repoID][path]
}

func (s *fakeStore) storedEndpoints(repoID string) []model.APIEndpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.APIEndpoint(nil), s.endpoints[repoID]...)
}

func (s *fakeStore) docChunksFor(docID string) []model.DocumentationChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.DocumentationChunk(nil), s.docChunks[docID]...)
}

func (s *fakeStore) counts() (begins, commits, rollbacks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begins, s.commits, s.rollbacks
}

// fakeWriter buffers one run's mutations and applies them to the parent on
// Commit.
type fakeWriter struct {
	parent *fakeStore
	repoID string

	repo     *model.Repository
	replaced []*storedFile
	deleted  []string

	workspaces []model.Workspace
	services   []model.Service
	endpoints  []model.APIEndpoint
	crossDeps  []string

	wsSet, svcSet, epSet, depSet bool
	done                         bool
}

var _ store.IndexWriter = (*fakeWriter)(nil)

func (w *fakeWriter) UpsertRepository(_ context.Context, repo *model.Repository) error {
	cp := *repo
	w.repo = &cp
	return nil
}

func (w *fakeWriter) ReplaceFile(_ context.Context, file *model.File, chunks []model.Chunk, symbols []model.Symbol) error {
	w.replaced = append(w.replaced, &storedFile{
		file:    *file,
		chunks:  append([]model.Chunk(nil), chunks...),
		symbols: append([]model.Symbol(nil), symbols...),
	})
	return nil
}

func (w *fakeWriter) DeleteFiles(_ context.Context, paths []string) error {
	w.deleted = append(w.deleted, paths...)
	return nil
}

func (w *fakeWriter) ReplaceWorkspaces(_ context.Context, workspaces []model.Workspace) error {
	w.workspaces, w.wsSet = append([]model.Workspace(nil), workspaces...), true
	return nil
}

func (w *fakeWriter) ReplaceServices(_ context.Context, services []model.Service) error {
	w.services, w.svcSet = append([]model.Service(nil), services...), true
	return nil
}

func (w *fakeWriter) ReplaceEndpoints(_ context.Context, endpoints []model.APIEndpoint) error {
	w.endpoints, w.epSet = append([]model.APIEndpoint(nil), endpoints...), true
	return nil
}

func (w *fakeWriter) ReplaceCrossRepoDeps(_ context.Context, targetRepoIDs []string) error {
	w.crossDeps, w.depSet = append([]string(nil), targetRepoIDs...), true
	return nil
}

func (w *fakeWriter) Commit(_ context.Context) error {
	s := w.parent
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.done {
		return fmt.Errorf("transaction already finished")
	}
	if s.failCommit {
		return fmt.Errorf("forced commit failure")
	}
	w.done = true
	s.commits++

	if w.repo != nil {
		s.repos[w.repoID] = w.repo
	}
	byPath := s.files[w.repoID]
	if byPath == nil {
		byPath = make(map[string]*storedFile)
		s.files[w.repoID] = byPath
	}
	for _, f := range w.replaced {
		byPath[f.file.Path] = f
	}
	for _, p := range w.deleted {
		delete(byPath, p)
	}
	if w.wsSet {
		s.workspaces[w.repoID] = w.workspaces
	}
	if w.svcSet {
		s.services[w.repoID] = w.services
	}
	if w.epSet {
		s.endpoints[w.repoID] = w.endpoints
	}
	if w.depSet {
		s.crossDeps[w.repoID] = w.crossDeps
	}
	return nil
}

func (w *fakeWriter) Rollback(_ context.Context) error {
	s := w.parent
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.done {
		return nil
	}
	w.done = true
	s.rollbacks++
	return nil
}

// failingEmbedder rejects batches containing the marker text. Everything
// else delegates to the wrapped embedder.
type failingEmbedder struct {
	backend.Embedder
	marker string
}

func (e *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if strings.Contains(t, e.marker) {
			return nil, fmt.Errorf("marked text rejected")
		}
	}
	return e.Embedder.EmbedBatch(ctx, texts)
}

func testConfig() *config.Config {
	cfg := config.New()
	cfg.Store.Password = "test"
	cfg.Indexing.BatchSize = 2
	cfg.Indexing.SummaryMethod = "rule"
	return cfg
}

func newTestRunner(t *testing.T, st store.Store, opts ...func(*Dependencies)) *Runner {
	t.Helper()
	deps := Dependencies{
		Store:    st,
		Embedder: backend.NewStaticEmbedder(32),
		Config:   testConfig(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		LockDir:  t.TempDir(),
	}
	for _, o := range opts {
		o(&deps)
	}
	r, err := NewRunner(deps)
	require.NoError(t, err)
	return r
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

// writeFixtureRepo lays out a small polyglot repository: two Go files, an
// Express router, and a readme.
func writeFixtureRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "main.go", `package main

import "fmt"

// Run prints a greeting.
func Run() {
	fmt.Println("hello")
}
`)
	writeFile(t, root, "internal/util/strings.go", `package util

// Upper is a tiny wrapper kept for call-site clarity.
func Upper(s string) string {
	return s
}
`)
	writeFile(t, root, "routes.js", `const app = require('express')();

app.get('/users', (req, res) => res.json([]));
app.post('/users', (req, res) => res.status(201).end());
`)
	writeFile(t, root, "README.md", `# Fixture

A small repository used by the indexing tests.
`)
	return root
}

// eventLog collects progress events for assertions.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) byStage(stage Stage) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Stage == stage {
			out = append(out, ev)
		}
	}
	return out
}
