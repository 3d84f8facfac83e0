// Package model defines the persisted entities shared by the indexing
// pipeline, the retrieval pipeline, and the data store.
package model

import (
	"time"
)

// RepoKind classifies an indexed repository. The kind drives scope filtering
// and result prioritization: reference and documentation repos are excluded
// from default code search and carry lower priority weights.
type RepoKind string

const (
	RepoKindMonolithic    RepoKind = "monolithic"
	RepoKindMonorepo      RepoKind = "monorepo"
	RepoKindMicroservice  RepoKind = "microservice"
	RepoKindLibrary       RepoKind = "library"
	RepoKindReference     RepoKind = "reference"
	RepoKindDocumentation RepoKind = "documentation"
)

// Valid reports whether k is a known repository kind.
func (k RepoKind) Valid() bool {
	switch k {
	case RepoKindMonolithic, RepoKindMonorepo, RepoKindMicroservice,
		RepoKindLibrary, RepoKindReference, RepoKindDocumentation:
		return true
	}
	return false
}

// PriorityWeight returns the ranking multiplier for results from this kind.
func (k RepoKind) PriorityWeight() float64 {
	switch k {
	case RepoKindLibrary:
		return 0.9
	case RepoKindReference:
		return 0.6
	case RepoKindDocumentation:
		return 0.5
	default:
		return 1.0
	}
}

// Repository is an indexed source tree. Exactly one row per RepoID; the kind
// is immutable once chosen (changing it requires delete + re-index).
type Repository struct {
	RepoID          string    // Stable ID; derived from root basename when absent
	Name            string    // Human-readable name
	RootPath        string    // Absolute path at index time
	Kind            RepoKind  // monolithic, monorepo, ...
	Version         string    // Optional; gates force-reindex of reference repos
	UpstreamURL     string    // Optional origin URL
	WorkspaceConfig string    // Optional raw workspace-config blob (JSON)
	IndexedAt       time.Time // Last successful index commit
}

// File is one indexed source file. (RepoID, Path) is unique. The summary
// embedding is present iff the file was part of the last successful pass;
// ContentHash drives incremental skip.
type File struct {
	RepoID           string
	Path             string // Relative to repository root
	Language         string
	LineCount        int
	Imports          []string // Ordered as they appear
	Exports          []string // Ordered as they appear
	Summary          string
	SummaryEmbedding []float32
	WorkspaceID      string // Nullable linkage
	ServiceID        string // Nullable linkage
	PackageName      string // Nullable linkage
	ContentHash      string // SHA256 of content
	IndexedAt        time.Time
}

// ChunkType classifies a chunk within its parent file.
type ChunkType string

const (
	ChunkTypeFileSummary ChunkType = "file_summary"
	ChunkTypeFunction    ChunkType = "function"
	ChunkTypeClass       ChunkType = "class"
	ChunkTypeMethod      ChunkType = "method"
	ChunkTypeSection     ChunkType = "section"
	ChunkTypeCodeBlock   ChunkType = "code_block"
	ChunkTypeStructure   ChunkType = "structure"
)

// ChunkMetadata carries the soft references a chunk makes to symbols and
// modules. Values feed symbol resolution (stage 4) and import expansion
// (stage 5); no field is authoritative beyond the indexed generation.
type ChunkMetadata struct {
	Dependencies    []string `json:"dependencies,omitempty"`
	ImportedSymbols []string `json:"imported_symbols,omitempty"`
	FunctionNames   []string `json:"function_names,omitempty"`
	ClassNames      []string `json:"class_names,omitempty"`
	HeadingPath     []string `json:"heading_path,omitempty"`
	Language        string   `json:"language,omitempty"`
	Partial         bool     `json:"partial,omitempty"`
}

// Chunk is a contiguous span of a source file with its own embedding and
// full-text entry. ChunkID is content-addressed and therefore stable across
// re-indexing of unchanged content. Per file there is at most one
// file_summary chunk; all other chunks cover disjoint line ranges.
type Chunk struct {
	ChunkID    string
	RepoID     string
	FilePath   string
	Type       ChunkType
	Content    string
	StartLine  int // 1-indexed
	EndLine    int // Inclusive
	TokenCount int
	Metadata   ChunkMetadata
	Embedding  []float32
}

// SymbolKind classifies a symbol definition.
type SymbolKind string

const (
	SymbolKindFunction  SymbolKind = "function"
	SymbolKindClass     SymbolKind = "class"
	SymbolKindVariable  SymbolKind = "variable"
	SymbolKindInterface SymbolKind = "interface"
	SymbolKindType      SymbolKind = "type"
	SymbolKindConstant  SymbolKind = "constant"
	SymbolKindMethod    SymbolKind = "method"
)

// Valid reports whether k is a known symbol kind.
func (k SymbolKind) Valid() bool {
	switch k {
	case SymbolKindFunction, SymbolKindClass, SymbolKindVariable,
		SymbolKindInterface, SymbolKindType, SymbolKindConstant,
		SymbolKindMethod:
		return true
	}
	return false
}

// SymbolScope is the visibility of a symbol.
type SymbolScope string

const (
	SymbolScopeExported SymbolScope = "exported"
	SymbolScopeInternal SymbolScope = "internal"
)

// Symbol is a named definition. A name may resolve to multiple definitions;
// resolution returns all matches ordered by (name, file_path).
type Symbol struct {
	SymbolID    string
	RepoID      string
	Name        string
	Kind        SymbolKind
	FilePath    string
	Line        int
	Definition  string // Definition snippet
	Scope       SymbolScope
	WorkspaceID string // Nullable linkage
	ServiceID   string // Nullable linkage
	Embedding   []float32
}

// Workspace is a monorepo package discovered from a workspace manifest.
// Internal dependency edges reference workspaces of the same repository.
type Workspace struct {
	WorkspaceID     string
	RepoID          string
	Name            string // From the package manifest
	AbsolutePath    string
	RelativePath    string
	Dependencies    []string // Package names
	DevDependencies []string
	Private         bool
}

// ServiceKind classifies how a service is deployed.
type ServiceKind string

const (
	ServiceKindDocker     ServiceKind = "docker"
	ServiceKindServerless ServiceKind = "serverless"
	ServiceKindMobile     ServiceKind = "mobile"
	ServiceKindLibrary    ServiceKind = "library"
	ServiceKindOther      ServiceKind = "other"
)

// Service is a microservice boundary. (RepoID, ServiceID) is unique.
type Service struct {
	ServiceID string
	RepoID    string
	Name      string
	Kind      ServiceKind
	Files     []string // Relative paths owned by the service
}

// APIType is the protocol family of an endpoint.
type APIType string

const (
	APITypeRest      APIType = "rest"
	APITypeGraphQL   APIType = "graphql"
	APITypeGRPC      APIType = "grpc"
	APITypeWebsocket APIType = "websocket"
)

// Valid reports whether t is a known API type.
func (t APIType) Valid() bool {
	switch t {
	case APITypeRest, APITypeGraphQL, APITypeGRPC, APITypeWebsocket:
		return true
	}
	return false
}

// Implementation points an endpoint at the chunk that implements it.
// At most one implementation link per endpoint.
type Implementation struct {
	ChunkID   string `json:"chunk_id"`
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Function  string `json:"function,omitempty"`
}

// APIEndpoint is one operation exposed by a service, extracted from code or
// from an API specification file.
type APIEndpoint struct {
	EndpointID     string
	ServiceID      string
	RepoID         string
	APIType        APIType
	Path           string
	Method         string
	Description    string
	RequestSchema  string // Optional raw schema snippet
	ResponseSchema string
	Implementation *Implementation // Nullable
	Deprecated     bool
	Tags           []string
	Embedding      []float32
}

// CrossRepoDependency is a directed edge between indexed repositories.
// The edge drops when either endpoint repository is deleted.
type CrossRepoDependency struct {
	SourceRepoID string
	TargetRepoID string
}

// DocumentationSet is an indexed markdown collection.
type DocumentationSet struct {
	DocID     string
	Name      string
	RootPath  string
	FileCount int
	IndexedAt time.Time
}

// DocumentationChunk parallels Chunk for markdown content, keyed by its
// documentation set and carrying the heading path for context.
type DocumentationChunk struct {
	ChunkID     string
	DocID       string
	FilePath    string
	HeadingPath []string
	Content     string
	StartLine   int
	EndLine     int
	TokenCount  int
	Language    string // Set for fenced code blocks
	Embedding   []float32
}
