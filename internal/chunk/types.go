// Package chunk splits parsed files into ordered, non-overlapping retrieval
// units. The strategy scales with file size: small files chunk along
// declarations, large files fall back to token-window sections, and very
// large files keep only a structural outline.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/cindex-dev/cindex/internal/parse"
	"github.com/cindex-dev/cindex/internal/scanner"
)

// Strategy selects how a file is chunked.
type Strategy string

const (
	// StrategyAuto picks by line count.
	StrategyAuto Strategy = "auto"
	// StrategySyntactic chunks along top-level declarations.
	StrategySyntactic Strategy = "syntactic"
	// StrategySection chunks fixed token windows aligned to declaration
	// starts.
	StrategySection Strategy = "section"
	// StrategyStructure keeps only imports, exports, and signatures.
	StrategyStructure Strategy = "structure"
)

// Size thresholds and the token window, shared with the large-file gate.
const (
	SmallFileLines     = 1000
	VeryLargeFileLines = 5000

	// DefaultTargetTokens is the per-chunk token window.
	DefaultTargetTokens = 2048
)

// FileInput is one file to chunk. Parse may be nil when no parser supports
// the file; the content then becomes plain section chunks.
type FileInput struct {
	RepoID      string
	Path        string
	Language    string
	ContentType scanner.ContentType
	Content     []byte
	Parse       *parse.Result
}

// Options tune the chunker. Zero values take defaults.
type Options struct {
	SmallFileLines     int
	VeryLargeFileLines int
	TargetTokens       int
}

func (o Options) withDefaults() Options {
	if o.SmallFileLines <= 0 {
		o.SmallFileLines = SmallFileLines
	}
	if o.VeryLargeFileLines <= 0 {
		o.VeryLargeFileLines = VeryLargeFileLines
	}
	if o.TargetTokens <= 0 {
		o.TargetTokens = DefaultTargetTokens
	}
	return o
}

// ID derives a chunk ID from the file path, the chunk's first line, and a
// digest of its content. Unchanged content at the same position keeps its ID
// across re-indexing.
func ID(filePath string, startLine int, content string) string {
	contentHash := sha256.Sum256([]byte(content))
	contentPart := hex.EncodeToString(contentHash[:])[:16]
	input := fmt.Sprintf("%s:%d:%s", filePath, startLine, contentPart)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}
