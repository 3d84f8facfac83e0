// Package retrieve implements the staged retrieval pipeline: scope
// resolution, query processing, hybrid file and chunk search, symbol
// resolution, import-chain expansion, API enrichment, deduplication, and
// token-budgeted context assembly.
package retrieve

import (
	"github.com/cindex-dev/cindex/internal/model"
)

// QueryType classifies raw query text.
type QueryType string

const (
	QueryTypeCodeSnippet     QueryType = "code_snippet"
	QueryTypeNaturalLanguage QueryType = "natural_language"
)

// Query is the processed form of the raw query text. Code snippets keep
// their exact text; natural-language queries are whitespace-collapsed with
// trailing punctuation removed.
type Query struct {
	NormalizedText string    `json:"normalized_text"`
	Type           QueryType `json:"query_type"`
	Embedding      []float32 `json:"-"`
	CacheHit       bool      `json:"cache_hit,omitempty"`
	ElapsedMS      int64     `json:"elapsed_ms"`
}

// FileResult is one file-level hit with its hybrid score breakdown.
type FileResult struct {
	File         model.File     `json:"file"`
	RepoKind     model.RepoKind `json:"repo_kind"`
	Score        float64        `json:"score"`
	VectorScore  float64        `json:"vector_score"`
	KeywordScore float64        `json:"keyword_score"`
}

// ChunkResult is one chunk-level hit. Priority is the repo-kind weight;
// final ranking multiplies it into the similarity score.
type ChunkResult struct {
	Chunk    model.Chunk    `json:"chunk"`
	RepoKind model.RepoKind `json:"repo_kind"`
	Score    float64        `json:"score"`
	Priority float64        `json:"priority"`

	// SimilarToMainCode marks a reference-repo chunk kept alongside a
	// near-duplicate from a non-reference repo.
	SimilarToMainCode bool `json:"similar_to_main_code,omitempty"`
}

// SymbolGroup collects every definition sharing one name.
type SymbolGroup struct {
	Name        string         `json:"name"`
	Definitions []model.Symbol `json:"definitions"`
}

// Truncation reasons recorded on import-chain entries.
const (
	TruncationDepthLimit      = "depth_limit"
	TruncationExternal        = "external_dependency"
	TruncationBoundaryCrossed = "boundary_crossed"
)

// ChainEntry is one edge of an expanded import chain. External imports and
// revisited files appear as truncated leaves.
type ChainEntry struct {
	FilePath         string   `json:"file_path"`
	ImportedFrom     string   `json:"imported_from,omitempty"`
	Depth            int      `json:"depth"`
	FileSummary      string   `json:"file_summary,omitempty"`
	Exports          []string `json:"exports,omitempty"`
	Circular         bool     `json:"circular,omitempty"`
	Truncated        bool     `json:"truncated,omitempty"`
	TruncationReason string   `json:"truncation_reason,omitempty"`
	CrossWorkspace   bool     `json:"cross_workspace,omitempty"`
	CrossService     bool     `json:"cross_service,omitempty"`
	WorkspaceID      string   `json:"workspace_id,omitempty"`
	ServiceID        string   `json:"service_id,omitempty"`
}

// OutboundCall is a detected outgoing API call inside a retrieved chunk,
// matched (when possible) to a known endpoint.
type OutboundCall struct {
	SourceChunkID   string             `json:"source_chunk_id"`
	SourceFile      string             `json:"source_file"`
	SourceServiceID string             `json:"source_service_id,omitempty"`
	TargetServiceID string             `json:"target_service_id,omitempty"`
	EndpointPath    string             `json:"endpoint_path"`
	Method          string             `json:"method"`
	CallType        string             `json:"call_type"`
	EndpointFound   bool               `json:"endpoint_found"`
	MatchedEndpoint *model.APIEndpoint `json:"matched_endpoint,omitempty"`
}

// ContractLink ties an endpoint to a retrieved chunk that implements it.
type ContractLink struct {
	EndpointID string  `json:"endpoint_id"`
	ChunkID    string  `json:"chunk_id"`
	Confidence float64 `json:"confidence"`
}

// Warning codes attached to results.
const (
	WarnPartialResults        = "partial_results"
	WarnDeprecatedEndpoint    = "deprecated_endpoint"
	WarnUnresolvedCall        = "unresolved_call"
	WarnMissingImplementation = "missing_implementation"
)

// Warning is a non-fatal finding surfaced with the result.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// GroupName buckets results by the kind of repository they came from.
type GroupName string

const (
	GroupPrimaryCode   GroupName = "primary_code"
	GroupLibraries     GroupName = "libraries"
	GroupReferences    GroupName = "references"
	GroupDocumentation GroupName = "documentation"
)

// groupFor maps a repository kind to its result group.
func groupFor(kind model.RepoKind) GroupName {
	switch kind {
	case model.RepoKindLibrary:
		return GroupLibraries
	case model.RepoKindReference:
		return GroupReferences
	case model.RepoKindDocumentation:
		return GroupDocumentation
	default:
		return GroupPrimaryCode
	}
}

// Group is one repo-kind bucket of the assembled context.
type Group struct {
	Name   GroupName     `json:"name"`
	Files  []FileResult  `json:"files,omitempty"`
	Chunks []ChunkResult `json:"chunks,omitempty"`
}

// ScopeSummary reports what stage 0 resolved to.
type ScopeSummary struct {
	Mode       ScopeMode `json:"mode"`
	RepoIDs    []string  `json:"repo_ids"`
	ServiceIDs []string  `json:"service_ids,omitempty"`
}

// Result is the assembled context returned by Search.
type Result struct {
	Query             Query               `json:"query"`
	Scope             ScopeSummary        `json:"scope"`
	Groups            []Group             `json:"groups,omitempty"`
	Symbols           []SymbolGroup       `json:"symbols,omitempty"`
	ImportChains      []ChainEntry        `json:"import_chains,omitempty"`
	Endpoints         []model.APIEndpoint `json:"endpoints,omitempty"`
	CrossServiceCalls []OutboundCall      `json:"cross_service_calls,omitempty"`
	ContractLinks     []ContractLink      `json:"contract_links,omitempty"`
	Warnings          []Warning           `json:"warnings,omitempty"`
	TokensUsed        int                 `json:"tokens_used"`
	ElapsedMS         int64               `json:"elapsed_ms"`
}

// TotalChunks counts chunks across groups.
func (r *Result) TotalChunks() int {
	n := 0
	for _, g := range r.Groups {
		n += len(g.Chunks)
	}
	return n
}

// TotalFiles counts files across groups.
func (r *Result) TotalFiles() int {
	n := 0
	for _, g := range r.Groups {
		n += len(g.Files)
	}
	return n
}
