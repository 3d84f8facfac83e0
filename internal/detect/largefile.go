package detect

import (
	"path"
	"strings"
)

// FileStrategy is the gate's verdict on how a file should be chunked.
type FileStrategy string

const (
	// FileNormal chunks by the size-tiered default.
	FileNormal FileStrategy = "normal"

	// FileSectionChunking forces section packing regardless of line count.
	FileSectionChunking FileStrategy = "section_chunking"

	// FileStructureOnly keeps only the outline.
	FileStructureOnly FileStrategy = "structure_only"

	// FileSkip drops the file from the index.
	FileSkip FileStrategy = "skip"
)

const (
	minifiedMinLines    = 10
	longLineThreshold   = 500
	longLineCount       = 5
	varianceThreshold   = 10.0
	spaceRatioThreshold = 0.05
)

// lockfiles are exact base names of dependency lockfiles.
var lockfiles = map[string]bool{
	"package-lock.json": true,
	"yarn.lock":         true,
	"pnpm-lock.yaml":    true,
	"go.sum":            true,
	"cargo.lock":        true,
	"poetry.lock":       true,
	"gemfile.lock":      true,
	"composer.lock":     true,
}

// buildOutputDirs are path segments that mark build artifacts.
var buildOutputDirs = map[string]bool{
	"dist":     true,
	"build":    true,
	"out":      true,
	".next":    true,
	".nuxt":    true,
	"coverage": true,
	"target":   true,
}

// minifiedSuffixes mark files minified by convention.
var minifiedSuffixes = []string{".min.js", ".min.css", ".bundle.js"}

// LargeFileGate picks a chunking strategy from path conventions, content
// heuristics, and line count.
type LargeFileGate struct {
	sectionLines   int
	structureLines int
}

// NewLargeFileGate builds a gate with the line thresholds for section and
// structure-only chunking. Non-positive values take the defaults 1000/5000.
func NewLargeFileGate(sectionLines, structureLines int) *LargeFileGate {
	if sectionLines <= 0 {
		sectionLines = 1000
	}
	if structureLines <= 0 {
		structureLines = 5000
	}
	return &LargeFileGate{sectionLines: sectionLines, structureLines: structureLines}
}

// Strategy decides how relPath should be chunked. Minified and lockfile
// content is skipped outright; generated artifacts keep their outline only.
func (g *LargeFileGate) Strategy(relPath string, content []byte, lineCount int) FileStrategy {
	base := strings.ToLower(path.Base(relPath))

	if lockfiles[base] || strings.HasSuffix(base, ".map") {
		return FileSkip
	}
	for _, suffix := range minifiedSuffixes {
		if strings.HasSuffix(base, suffix) {
			return FileSkip
		}
	}
	if IsMinified(content) {
		return FileSkip
	}

	if IsGeneratedPath(relPath) {
		return FileStructureOnly
	}

	switch {
	case lineCount > g.structureLines:
		return FileStructureOnly
	case lineCount > g.sectionLines:
		return FileSectionChunking
	}
	return FileNormal
}

// IsGeneratedPath reports whether the path looks machine-written: type
// declaration bundles, *_generated.* names, or build output directories.
func IsGeneratedPath(relPath string) bool {
	base := strings.ToLower(path.Base(relPath))
	if strings.HasSuffix(base, ".d.ts") {
		return true
	}
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		if strings.HasSuffix(base[:i], "_generated") {
			return true
		}
	}
	for _, seg := range strings.Split(path.Dir(strings.ToLower(relPath)), "/") {
		if buildOutputDirs[seg] {
			return true
		}
	}
	return false
}

// IsMinified applies the line-shape heuristics: a file of at least ten
// lines is minified when it has more than five lines over 500 characters,
// near-uniform line lengths, or almost no spaces.
func IsMinified(content []byte) bool {
	if len(content) == 0 {
		return false
	}
	lines := strings.Split(string(content), "\n")
	if n := len(lines); n > 1 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	if len(lines) < minifiedMinLines {
		return false
	}

	long := 0
	totalChars := 0
	spaces := 0
	mean := 0.0
	for _, line := range lines {
		if len(line) > longLineThreshold {
			long++
		}
		totalChars += len(line)
		spaces += strings.Count(line, " ")
		mean += float64(len(line))
	}
	if long > longLineCount {
		return true
	}

	mean /= float64(len(lines))
	variance := 0.0
	for _, line := range lines {
		d := float64(len(line)) - mean
		variance += d * d
	}
	variance /= float64(len(lines))
	if variance < varianceThreshold {
		return true
	}

	return totalChars > 0 && float64(spaces)/float64(totalChars) < spaceRatioThreshold
}
