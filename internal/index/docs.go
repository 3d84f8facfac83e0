package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cindex-dev/cindex/internal/cerrors"
	"github.com/cindex-dev/cindex/internal/chunk"
	"github.com/cindex-dev/cindex/internal/model"
	"github.com/cindex-dev/cindex/internal/parse"
	"github.com/cindex-dev/cindex/internal/scanner"
)

// DocStats summarizes one indexed documentation set.
type DocStats struct {
	DocID    string        `json:"doc_id"`
	Name     string        `json:"name"`
	RootPath string        `json:"root_path"`
	Files    int           `json:"files"`
	Chunks   int           `json:"chunks"`
	Errors   []FileError   `json:"errors,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunDocumentation indexes markdown collections. Each path becomes its own
// documentation set; name applies when a single path is given, otherwise
// sets are named after their basenames. A path may be a directory or a
// single markdown file.
func (r *Runner) RunDocumentation(ctx context.Context, paths []string, name string) ([]DocStats, error) {
	if len(paths) == 0 {
		return nil, cerrors.New(cerrors.ErrCodeMissingField, "paths is required", nil).
			WithSuggestion("Pass at least one directory or markdown file")
	}
	if len(paths) > 1 {
		name = ""
	}

	var all []DocStats
	for _, p := range paths {
		st, err := r.runDocumentationSet(ctx, p, name)
		if err != nil {
			return all, err
		}
		all = append(all, *st)
	}
	return all, nil
}

func (r *Runner) runDocumentationSet(ctx context.Context, path, name string) (*DocStats, error) {
	start := time.Now()

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeInvalidInput, err, "resolve path %q", path)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, cerrors.Newf(cerrors.ErrCodeFileNotFound, "documentation path not found: %s", abs).
			WithSuggestion("Check the paths argument; entries must exist")
	}

	if name == "" {
		name = strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	}
	docID := DeriveRepoID(name, abs)
	stats := &DocStats{DocID: docID, Name: name, RootPath: abs}

	lock := NewRepoLock(r.lockDir, docID)
	if err := lock.Lock(ctx); err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeIndexFailed, err, "lock documentation %s", docID)
	}
	defer lock.Unlock() //nolint:errcheck

	tr := newProgressTracker(r.progress, r.progressInterval)

	files, err := r.discoverDocuments(ctx, abs, info.IsDir(), tr, stats)
	if err != nil {
		return nil, err
	}

	tr.begin(StageChunk, len(files), "")
	tr.begin(StageEmbed, len(files), "")
	var chunks []model.DocumentationChunk
	indexed := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dcs, ferr, err := r.documentChunks(ctx, docID, f)
		if err != nil {
			return nil, err
		}
		if ferr != nil {
			stats.Errors = append(stats.Errors, *ferr)
			continue
		}
		chunks = append(chunks, dcs...)
		indexed++
		tr.advance(StageChunk, f.Path)
		tr.step(StageEmbed, f.Path)
	}
	tr.finish(StageChunk, "")
	tr.finish(StageEmbed, "")

	set := &model.DocumentationSet{
		DocID:     docID,
		Name:      name,
		RootPath:  abs,
		FileCount: indexed,
		IndexedAt: time.Now().UTC(),
	}
	tr.begin(StagePersist, 0, "")
	if err := r.store.SaveDocumentation(ctx, set, chunks); err != nil {
		return nil, err
	}
	tr.finish(StagePersist, "committed")

	stats.Files = indexed
	stats.Chunks = len(chunks)
	stats.Duration = time.Since(start)
	r.logger.Info("documentation indexed",
		slog.String("doc_id", docID),
		slog.Int("files", stats.Files),
		slog.Int("chunks", stats.Chunks),
		slog.Int("errors", len(stats.Errors)),
		slog.Duration("duration", stats.Duration))
	return stats, nil
}

// discoverDocuments lists the markdown files of a set: the whole tree for a
// directory root, or the single named file.
func (r *Runner) discoverDocuments(ctx context.Context, abs string, isDir bool, tr *progressTracker, stats *DocStats) ([]*scanner.DiscoveredFile, error) {
	if !isDir {
		if scanner.ContentTypeFor(scanner.DetectLanguage(abs)) != scanner.ContentTypeMarkdown {
			return nil, cerrors.Newf(cerrors.ErrCodeInvalidInput, "not a markdown document: %s", abs)
		}
		return []*scanner.DiscoveredFile{{
			Path:        filepath.Base(abs),
			AbsPath:     abs,
			Language:    "markdown",
			ContentType: scanner.ContentTypeMarkdown,
		}}, nil
	}

	tr.begin(StageDiscover, 0, abs)
	stream, err := r.scanner.Scan(ctx, scanner.Options{Root: abs, RespectGitignore: true})
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeIndexFailed, err, "scan %s", abs)
	}

	var files []*scanner.DiscoveredFile
	for res := range stream {
		if res.Err != nil {
			stats.Errors = append(stats.Errors, FileError{Stage: StageDiscover, Error: res.Err.Error()})
			continue
		}
		if res.File.ContentType != scanner.ContentTypeMarkdown {
			continue
		}
		files = append(files, res.File)
		tr.advance(StageDiscover, res.File.Path)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tr.finish(StageDiscover, fmt.Sprintf("%d documents", len(files)))
	return files, nil
}

// documentChunks chunks and embeds one markdown file. The FileError return
// carries per-file failures; the error return is context cancellation only.
func (r *Runner) documentChunks(ctx context.Context, docID string, f *scanner.DiscoveredFile) ([]model.DocumentationChunk, *FileError, error) {
	content, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return nil, &FileError{File: f.Path, Stage: StageChunk, Error: err.Error()}, nil
	}

	pres, err := r.parsers.Parse(ctx, f.Path, content)
	if err != nil && !errors.Is(err, parse.ErrUnsupported) {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, &FileError{File: f.Path, Stage: StageParse, Error: err.Error()}, nil
	}

	mchunks, err := r.chunker.ChunkFile(ctx, chunk.FileInput{
		RepoID:      docID,
		Path:        f.Path,
		Language:    f.Language,
		ContentType: f.ContentType,
		Content:     content,
		Parse:       pres,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, &FileError{File: f.Path, Stage: StageChunk, Error: err.Error()}, nil
	}
	if len(mchunks) == 0 {
		return nil, nil, nil
	}

	texts := make([]string, len(mchunks))
	for i, c := range mchunks {
		texts[i] = c.Content
	}
	vecs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, &FileError{File: f.Path, Stage: StageEmbed, Error: err.Error()}, nil
	}
	if len(vecs) != len(texts) {
		return nil, &FileError{File: f.Path, Stage: StageEmbed,
			Error: fmt.Sprintf("embedding count mismatch: %d texts, %d vectors", len(texts), len(vecs))}, nil
	}

	out := make([]model.DocumentationChunk, 0, len(mchunks))
	for i, c := range mchunks {
		dc := model.DocumentationChunk{
			ChunkID:     c.ChunkID,
			DocID:       docID,
			FilePath:    f.Path,
			HeadingPath: c.Metadata.HeadingPath,
			Content:     c.Content,
			StartLine:   c.StartLine,
			EndLine:     c.EndLine,
			TokenCount:  c.TokenCount,
			Embedding:   vecs[i],
		}
		if c.Type == model.ChunkTypeCodeBlock {
			dc.Language = c.Metadata.Language
		}
		out = append(out, dc)
	}
	return out, nil, nil
}
