// Package store persists repositories, files, chunks, symbols, and topology
// records in PostgreSQL. Vector similarity runs on pgvector (HNSW, cosine);
// keyword relevance runs on generated tsvector columns with GIN indexes.
// All indexing mutations for a repository happen inside one IndexWriter
// transaction so readers never observe a half-indexed repository.
package store

import (
	"context"

	"github.com/cindex-dev/cindex/internal/model"
)

// Store is the complete persistence surface.
type Store interface {
	RepositoryStore
	FileStore
	ChunkStore
	SymbolStore
	TopologyStore
	DocStore
	SearchStore

	// BeginIndex opens the single writer transaction for an indexing run.
	BeginIndex(ctx context.Context, repoID string) (IndexWriter, error)

	// Migrate creates or updates the schema, including the vector extension.
	Migrate(ctx context.Context) error

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases the connection pool.
	Close()
}

// RepositoryStore reads and deletes repository rows.
type RepositoryStore interface {
	GetRepository(ctx context.Context, repoID string) (*model.Repository, error)
	GetRepositoryByPath(ctx context.Context, rootPath string) (*model.Repository, error)
	ListRepositories(ctx context.Context) ([]model.Repository, error)

	// DeleteRepository removes the repository and everything it owns.
	// Cross-repo dependency edges touching it drop with it.
	DeleteRepository(ctx context.Context, repoID string) error

	// RepositoryStats aggregates row counts for one repository.
	RepositoryStats(ctx context.Context, repoID string) (*RepoStats, error)
}

// RepoStats summarizes what an indexed repository contains.
type RepoStats struct {
	RepoID     string `json:"repo_id"`
	Files      int    `json:"files"`
	Chunks     int    `json:"chunks"`
	Symbols    int    `json:"symbols"`
	Workspaces int    `json:"workspaces"`
	Services   int    `json:"services"`
	Endpoints  int    `json:"endpoints"`
}

// FileStore reads indexed file rows.
type FileStore interface {
	GetFile(ctx context.Context, repoID, path string) (*model.File, error)
	FilesByPaths(ctx context.Context, repoID string, paths []string) ([]model.File, error)

	// ListFiles returns every file row of a repository ordered by path,
	// without summary embeddings. Import tracing resolves reverse edges over
	// this listing.
	ListFiles(ctx context.Context, repoID string) ([]model.File, error)

	// FileHashes returns path → content hash for incremental reconciliation.
	FileHashes(ctx context.Context, repoID string) (map[string]string, error)
}

// ChunkStore reads chunk rows.
type ChunkStore interface {
	ChunksByFile(ctx context.Context, repoID, path string) ([]model.Chunk, error)
	ChunksByIDs(ctx context.Context, chunkIDs []string) ([]model.Chunk, error)
}

// SymbolStore resolves symbol definitions.
type SymbolStore interface {
	// SymbolsByNames returns every definition matching any of the names,
	// ordered by (name, file_path).
	SymbolsByNames(ctx context.Context, repoIDs []string, names []string) ([]model.Symbol, error)

	// SearchSymbols matches symbol names by case-insensitive substring,
	// optionally restricted to kinds.
	SearchSymbols(ctx context.Context, repoIDs []string, query string, kinds []model.SymbolKind, limit int) ([]model.Symbol, error)
}

// TopologyStore reads workspace, service, endpoint, and cross-repo rows.
type TopologyStore interface {
	WorkspacesByRepo(ctx context.Context, repoID string) ([]model.Workspace, error)
	ServicesByRepo(ctx context.Context, repoID string) ([]model.Service, error)

	// Endpoints lists endpoint rows with optional filters. Empty serviceIDs
	// means all services of the given repositories.
	Endpoints(ctx context.Context, filter EndpointFilter) ([]model.APIEndpoint, error)

	// CrossRepoDependencies returns edges where repoID is either endpoint.
	CrossRepoDependencies(ctx context.Context, repoID string) ([]model.CrossRepoDependency, error)
}

// EndpointFilter restricts Endpoints listings.
type EndpointFilter struct {
	RepoIDs           []string
	ServiceIDs        []string
	APIType           model.APIType // empty = all
	IncludeDeprecated bool
	Limit             int
}

// DocStore persists documentation sets. Writes run in their own transaction;
// documentation indexing does not share the repository writer.
type DocStore interface {
	// SaveDocumentation replaces the set and its chunks atomically.
	SaveDocumentation(ctx context.Context, set *model.DocumentationSet, chunks []model.DocumentationChunk) error
	ListDocumentation(ctx context.Context) ([]model.DocumentationSet, error)
	DeleteDocumentation(ctx context.Context, docID string) error
}

// SearchStore runs hybrid vector + keyword queries.
type SearchStore interface {
	// SearchFiles ranks files by their summary embedding and summary text.
	SearchFiles(ctx context.Context, q SearchQuery) ([]FileHit, error)

	// SearchChunks ranks chunks by embedding and content text.
	SearchChunks(ctx context.Context, q SearchQuery) ([]ChunkHit, error)

	// SearchEndpoints ranks API endpoints by embedding similarity.
	SearchEndpoints(ctx context.Context, q EndpointSearchQuery) ([]EndpointHit, error)

	// SearchDocs ranks documentation chunks by embedding and content text.
	SearchDocs(ctx context.Context, q DocSearchQuery) ([]DocHit, error)
}

// SearchQuery parameterizes a hybrid search. Score is
// VectorWeight*(1-cosine_distance) + KeywordWeight*ts_rank_cd and orders
// the result only; a row qualifies when its vector similarity alone exceeds
// Threshold or its full-text rank clears a small floor (see Qualifies).
// Ties break on vector distance, then (file_path, start_line) ascending.
type SearchQuery struct {
	Vector        []float32
	Text          string // raw query text; sanitized before tsquery
	VectorWeight  float64
	KeywordWeight float64 // 0 disables the keyword component
	Threshold     float64
	Limit         int

	// Scope filters. Empty slices mean unrestricted.
	RepoIDs      []string
	PathPrefixes []string // any-of prefix match on file path
	FilePaths    []string // exact-path restriction (chunk search within files)
}

// FileHit is one file-level search result.
type FileHit struct {
	File         model.File
	Score        float64
	VectorScore  float64
	KeywordScore float64
}

// ChunkHit is one chunk-level search result. Embedding is populated so the
// deduplicator can compute pairwise cosine similarity without re-fetching.
type ChunkHit struct {
	Chunk model.Chunk
	Score float64
}

// EndpointSearchQuery parameterizes endpoint vector search.
type EndpointSearchQuery struct {
	Vector            []float32
	RepoIDs           []string
	ServiceIDs        []string
	APIType           model.APIType
	IncludeDeprecated bool
	Threshold         float64
	Limit             int
}

// EndpointHit is one endpoint search result.
type EndpointHit struct {
	Endpoint model.APIEndpoint
	Score    float64
}

// DocSearchQuery parameterizes documentation search.
type DocSearchQuery struct {
	Vector        []float32
	Text          string
	VectorWeight  float64
	KeywordWeight float64
	Threshold     float64
	Limit         int
	DocIDs        []string // empty = all sets
}

// DocHit is one documentation search result.
type DocHit struct {
	Chunk model.DocumentationChunk
	Score float64
}

// IndexWriter is the single transaction that persists one indexing run.
// Nothing is visible to readers until Commit; Rollback discards everything.
type IndexWriter interface {
	// UpsertRepository writes the repository row and bumps indexed_at.
	UpsertRepository(ctx context.Context, repo *model.Repository) error

	// ReplaceFile upserts the file row and swaps its chunks and symbols.
	ReplaceFile(ctx context.Context, file *model.File, chunks []model.Chunk, symbols []model.Symbol) error

	// DeleteFiles removes files that disappeared from disk, with their
	// chunks and symbols.
	DeleteFiles(ctx context.Context, paths []string) error

	// ReplaceWorkspaces swaps the repository's workspace set.
	ReplaceWorkspaces(ctx context.Context, workspaces []model.Workspace) error

	// ReplaceServices swaps the repository's service set.
	ReplaceServices(ctx context.Context, services []model.Service) error

	// ReplaceEndpoints swaps the repository's endpoint set.
	ReplaceEndpoints(ctx context.Context, endpoints []model.APIEndpoint) error

	// ReplaceCrossRepoDeps swaps outgoing cross-repo dependency edges.
	ReplaceCrossRepoDeps(ctx context.Context, targetRepoIDs []string) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
