package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cindex-dev/cindex/internal/cerrors"
	"github.com/cindex-dev/cindex/internal/chunk"
	"github.com/cindex-dev/cindex/internal/detect"
	"github.com/cindex-dev/cindex/internal/model"
	"github.com/cindex-dev/cindex/internal/parse"
	"github.com/cindex-dev/cindex/internal/scanner"
	"github.com/cindex-dev/cindex/internal/summary"
)

// fileResult is one file's trip through the per-file pipeline. Exactly one
// of file, failure, or artifactSkip is meaningful.
type fileResult struct {
	path      string
	file      *model.File
	chunks    []model.Chunk
	symbols   []model.Symbol
	endpoints []detect.Endpoint

	artifactSkip bool
	failure      *FileError
}

// perFileStages are the pipeline stages each file passes through, in order.
var perFileStages = []Stage{
	StageParse, StageChunk, StageSummarize, StageEmbed, StageExtractSymbols,
}

// discover walks the repository root and applies the path-level gates:
// secret patterns and the line-count ceiling. Content-level gates run in the
// workers, which read the files anyway.
func (r *Runner) discover(ctx context.Context, absRoot string, tr *progressTracker, stats *Stats) ([]*scanner.DiscoveredFile, error) {
	tr.begin(StageDiscover, 0, absRoot)

	stream, err := r.scanner.Scan(ctx, scanner.Options{Root: absRoot, RespectGitignore: true})
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeIndexFailed, err, "scan %s", absRoot)
	}

	protect := r.cfg.Detection.ProtectSecrets
	maxLines := r.cfg.Limits.MaxFileSize

	var files []*scanner.DiscoveredFile
	for res := range stream {
		if res.Err != nil {
			stats.Errors = append(stats.Errors, FileError{Stage: StageDiscover, Error: res.Err.Error()})
			continue
		}
		f := res.File
		if protect {
			if pattern, blocked := r.secrets.Match(f.Path); blocked {
				stats.Detector.SecretsSkipped++
				r.logger.Debug("secret-protected file skipped",
					slog.String("path", f.Path),
					slog.String("pattern", pattern))
				continue
			}
		}
		if maxLines > 0 && f.Lines > maxLines {
			stats.Detector.OversizeSkipped++
			r.logger.Debug("oversize file skipped",
				slog.String("path", f.Path),
				slog.Int("lines", f.Lines))
			continue
		}
		files = append(files, f)
		tr.advance(StageDiscover, f.Path)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tr.finish(StageDiscover, fmt.Sprintf("%d files", len(files)))
	return files, nil
}

// processFiles runs the per-file pipeline over a bounded worker pool. The
// returned error is context cancellation only; per-file failures come back
// inside the results.
func (r *Runner) processFiles(ctx context.Context, repoID string, work []*scanner.DiscoveredFile, started time.Time, detectEndpoints bool, tr *progressTracker) ([]*fileResult, error) {
	if len(work) == 0 {
		return nil, nil
	}

	workers := r.cfg.Indexing.BatchSize
	if workers < 1 {
		workers = 1
	}
	if workers > len(work) {
		workers = len(work)
	}

	for _, st := range perFileStages {
		tr.begin(st, len(work), "")
	}

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan *scanner.DiscoveredFile)
	out := make(chan *fileResult, workers)

	g.Go(func() error {
		defer close(jobs)
		for _, f := range work {
			select {
			case jobs <- f:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			defer wg.Done()
			for f := range jobs {
				res, err := r.processFile(gctx, repoID, f, started, detectEndpoints, tr)
				if err != nil {
					return err
				}
				select {
				case out <- res:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	results := make([]*fileResult, 0, len(work))
	for res := range out {
		results = append(results, res)
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, st := range perFileStages {
		tr.finish(st, "")
	}
	return results, nil
}

// processFile runs one file through parse, chunk, summarize, embed, and
// symbol extraction. Failures are recorded on the result; the returned error
// is context cancellation only.
func (r *Runner) processFile(ctx context.Context, repoID string, f *scanner.DiscoveredFile, started time.Time, detectEndpoints bool, tr *progressTracker) (*fileResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := &fileResult{path: f.Path}

	fail := func(stage Stage, err error) (*fileResult, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		res.failure = &FileError{File: f.Path, Stage: stage, Error: err.Error()}
		tr.step(stage, f.Path)
		return res, nil
	}

	content, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return fail(StageParse, err)
	}

	strategy := r.gate.Strategy(f.Path, content, f.Lines)
	if strategy == detect.FileSkip {
		res.artifactSkip = true
		tr.step(StageParse, f.Path)
		return res, nil
	}

	pres, err := r.parsers.Parse(ctx, f.Path, content)
	if err != nil && !errors.Is(err, parse.ErrUnsupported) {
		return fail(StageParse, err)
	}
	tr.advance(StageParse, f.Path)

	in := chunk.FileInput{
		RepoID:      repoID,
		Path:        f.Path,
		Language:    f.Language,
		ContentType: f.ContentType,
		Content:     content,
		Parse:       pres,
	}
	var chunks []model.Chunk
	switch strategy {
	case detect.FileStructureOnly:
		chunks, err = r.chunker.ChunkFileAs(ctx, in, chunk.StrategyStructure)
	case detect.FileSectionChunking:
		chunks, err = r.chunker.ChunkFileAs(ctx, in, chunk.StrategySection)
	default:
		chunks, err = r.chunker.ChunkFile(ctx, in)
	}
	if err != nil {
		return fail(StageChunk, err)
	}
	tr.advance(StageChunk, f.Path)

	sum, err := r.summarizer.Summarize(ctx, summary.Input{
		Path:        f.Path,
		Language:    f.Language,
		ContentType: f.ContentType,
		Content:     content,
		Parse:       pres,
	})
	if err != nil {
		return fail(StageSummarize, err)
	}
	chunks = append(chunks, chunk.FileSummaryChunk(in, sum.Text))
	tr.advance(StageSummarize, f.Path)

	symbols := extractSymbols(repoID, f.Path, pres)

	if detectEndpoints {
		res.endpoints = r.api.Detect(f.Path, f.Language, content)
		// Spec-file endpoints carry the contract; only code endpoints
		// link to an implementation chunk.
		if !detect.IsSpecFile(f.Path, content) {
			detect.LinkImplementations(res.endpoints, f.Path, chunks)
		}
	}

	texts := make([]string, 0, len(chunks)+len(symbols))
	for _, c := range chunks {
		texts = append(texts, c.Content)
	}
	for _, s := range symbols {
		texts = append(texts, s.Definition)
	}
	vecs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fail(StageEmbed, cerrors.Wrapf(cerrors.ErrCodeEmbeddingFailed, err, "embed %s", f.Path))
	}
	if len(vecs) != len(texts) {
		return fail(StageEmbed, fmt.Errorf("embedding count mismatch: %d texts, %d vectors", len(texts), len(vecs)))
	}
	for i := range chunks {
		chunks[i].Embedding = vecs[i]
	}
	for j := range symbols {
		symbols[j].Embedding = vecs[len(chunks)+j]
	}
	tr.advance(StageEmbed, f.Path)

	res.file = &model.File{
		RepoID:      repoID,
		Path:        f.Path,
		Language:    f.Language,
		LineCount:   f.Lines,
		Summary:     sum.Text,
		ContentHash: f.ContentHash,
		IndexedAt:   started,
	}
	// The file row reuses the summary chunk's vector; the summary chunk is
	// appended last.
	res.file.SummaryEmbedding = chunks[len(chunks)-1].Embedding
	if pres != nil {
		res.file.Imports = pres.ImportPaths()
		res.file.Exports = pres.Exports
	}
	res.chunks = chunks
	res.symbols = symbols

	tr.step(StageExtractSymbols, f.Path)
	return res, nil
}

// extractSymbols flattens the parse declarations, members included, into
// symbol rows.
func extractSymbols(repoID, path string, res *parse.Result) []model.Symbol {
	if res == nil {
		return nil
	}
	var symbols []model.Symbol
	for _, d := range res.Declarations {
		symbols = append(symbols, newSymbol(repoID, path, d))
		for _, m := range d.Members {
			symbols = append(symbols, newSymbol(repoID, path, m))
		}
	}
	return symbols
}

func newSymbol(repoID, path string, d parse.Declaration) model.Symbol {
	scope := model.SymbolScopeInternal
	if d.Exported {
		scope = model.SymbolScopeExported
	}
	def := d.Signature
	if def == "" {
		def = d.Name
	}
	return model.Symbol{
		SymbolID:   symbolID(repoID, path, d.Name, d.StartLine),
		RepoID:     repoID,
		Name:       d.Name,
		Kind:       d.Kind,
		FilePath:   path,
		Line:       d.StartLine,
		Definition: def,
		Scope:      scope,
	}
}

func symbolID(repoID, path, name string, line int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s:%d", repoID, path, name, line)))
	return "sym_" + hex.EncodeToString(sum[:])[:16]
}

// refreshEndpoints re-extracts endpoints from files the hash skip left
// untouched. ReplaceEndpoints swaps the whole set, so endpoints from
// unchanged files must be supplied on every run; implementation links come
// from the stored chunks.
func (r *Runner) refreshEndpoints(ctx context.Context, repoID string, unchanged []*scanner.DiscoveredFile, byFile map[string][]detect.Endpoint) {
	for _, f := range unchanged {
		if ctx.Err() != nil {
			return
		}
		if f.ContentType != scanner.ContentTypeCode && f.ContentType != scanner.ContentTypeConfig {
			continue
		}
		content, err := os.ReadFile(f.AbsPath)
		if err != nil {
			r.logger.Warn("endpoint refresh read failed",
				slog.String("path", f.Path),
				slog.String("error", err.Error()))
			continue
		}
		eps := r.api.Detect(f.Path, f.Language, content)
		if len(eps) == 0 {
			continue
		}
		if detect.IsSpecFile(f.Path, content) {
			byFile[f.Path] = eps
			continue
		}
		chunks, err := r.store.ChunksByFile(ctx, repoID, f.Path)
		if err != nil {
			r.logger.Warn("endpoint refresh chunk lookup failed",
				slog.String("path", f.Path),
				slog.String("error", err.Error()))
		} else {
			detect.LinkImplementations(eps, f.Path, chunks)
		}
		byFile[f.Path] = eps
	}
}

// detectWorkspaces probes for monorepo packages and stores the resolution
// config on the repository row. Detection failures degrade to an empty
// topology; tsconfig aliases load even for single-package repos.
func (r *Runner) detectWorkspaces(ctx context.Context, absRoot string, repo *model.Repository, tr *progressTracker) *detect.WorkspaceTopology {
	tr.begin(StageDetectWorkspaces, 0, "")

	topo, err := r.workspaces.Detect(ctx, absRoot, repo.RepoID)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		r.logger.Warn("workspace detection failed", slog.String("error", err.Error()))
		topo = &detect.WorkspaceTopology{Config: &detect.WorkspaceConfig{}}
	}
	if topo.Config == nil {
		topo.Config = &detect.WorkspaceConfig{}
	}
	if topo.Tool == "" {
		if err := detect.LoadTSConfigAliases(absRoot, topo.Config); err != nil {
			r.logger.Debug("tsconfig alias parse failed", slog.String("error", err.Error()))
		}
	}

	if len(topo.Config.Packages) > 0 || len(topo.Config.Paths) > 0 || topo.Config.BaseURL != "" {
		blob, err := topo.Config.Encode()
		if err != nil {
			r.logger.Warn("workspace config encode failed", slog.String("error", err.Error()))
		} else {
			repo.WorkspaceConfig = blob
		}
	}

	tr.finish(StageDetectWorkspaces, fmt.Sprintf("%d workspaces", len(topo.Workspaces)))
	return topo
}

// linkWorkspaces stamps workspace ownership onto the files and symbols of
// this run. Unchanged files keep their stored linkage until their content
// changes.
func linkWorkspaces(processed []*fileResult, topo *detect.WorkspaceTopology) {
	if len(topo.Workspaces) == 0 {
		return
	}
	names := make(map[string]string, len(topo.Workspaces))
	for _, ws := range topo.Workspaces {
		names[ws.WorkspaceID] = ws.Name
	}
	for _, res := range processed {
		id, ok := detect.WorkspaceFor(topo.Workspaces, res.path)
		if !ok {
			continue
		}
		res.file.WorkspaceID = id
		res.file.PackageName = names[id]
		for i := range res.symbols {
			res.symbols[i].WorkspaceID = id
		}
	}
}

// detectServices infers service boundaries, assigns files to them, and
// finalizes the endpoint set. When endpoints exist but no boundary was
// found, a synthetic whole-repo service owns them.
func (r *Runner) detectServices(
	ctx context.Context,
	absRoot string,
	repo *model.Repository,
	processed []*fileResult,
	unchanged []*scanner.DiscoveredFile,
	endpointsByFile map[string][]detect.Endpoint,
	tr *progressTracker,
) (*detect.ServiceTopology, []model.APIEndpoint, error) {
	svcOn := r.cfg.Detection.DetectServices && repo.Kind != model.RepoKindDocumentation
	apiOn := r.cfg.Detection.DetectAPIEndpoints && repo.Kind != model.RepoKindDocumentation
	if !svcOn && !apiOn {
		return nil, nil, nil
	}
	tr.begin(StageDetectServices, 0, "")

	var topo *detect.ServiceTopology
	if svcOn {
		var err error
		topo, err = r.services.Detect(ctx, absRoot, repo.RepoID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			r.logger.Warn("service detection failed", slog.String("error", err.Error()))
			topo = &detect.ServiceTopology{}
		}
	}
	if apiOn && len(endpointsByFile) > 0 {
		if topo == nil {
			topo = &detect.ServiceTopology{}
		}
		if len(topo.Services) == 0 {
			topo.AddRootService(repo.RepoID, repo.Name, model.ServiceKindOther)
		}
	}

	if topo != nil {
		paths := make([]string, 0, len(processed)+len(unchanged))
		for _, res := range processed {
			paths = append(paths, res.path)
		}
		for _, f := range unchanged {
			paths = append(paths, f.Path)
		}
		sort.Strings(paths)
		topo.AssignFiles(paths)

		for _, res := range processed {
			id, ok := topo.ServiceFor(res.path)
			if !ok {
				continue
			}
			res.file.ServiceID = id
			for i := range res.symbols {
				res.symbols[i].ServiceID = id
			}
		}
	}

	var endpoints []model.APIEndpoint
	if apiOn {
		var err error
		endpoints, err = r.assembleEndpoints(ctx, repo.RepoID, topo, endpointsByFile)
		if err != nil {
			return nil, nil, err
		}
	}

	services := 0
	if topo != nil {
		services = len(topo.Services)
	}
	tr.finish(StageDetectServices, fmt.Sprintf("%d services, %d endpoints", services, len(endpoints)))
	return topo, endpoints, nil
}

// assembleEndpoints stamps identity and service ownership onto the extracted
// endpoints, merges duplicates (a spec-file copy and a code copy of the same
// operation fold together), and embeds the descriptors.
func (r *Runner) assembleEndpoints(ctx context.Context, repoID string, topo *detect.ServiceTopology, byFile map[string][]detect.Endpoint) ([]model.APIEndpoint, error) {
	files := make([]string, 0, len(byFile))
	for p := range byFile {
		files = append(files, p)
	}
	sort.Strings(files)

	endpoints := make([]model.APIEndpoint, 0)
	index := make(map[string]int)
	for _, p := range files {
		var sid string
		if topo != nil {
			sid, _ = topo.ServiceFor(p)
		}
		for _, ep := range byFile[p] {
			e := ep.APIEndpoint
			e.RepoID = repoID
			e.ServiceID = sid
			e.EndpointID = detect.EndpointID(sid, e.APIType, e.Path, e.Method)
			if j, ok := index[e.EndpointID]; ok {
				merged := &endpoints[j]
				if merged.Implementation == nil {
					merged.Implementation = e.Implementation
				}
				if merged.Description == "" {
					merged.Description = e.Description
				}
				if merged.RequestSchema == "" {
					merged.RequestSchema = e.RequestSchema
				}
				if merged.ResponseSchema == "" {
					merged.ResponseSchema = e.ResponseSchema
				}
				merged.Deprecated = merged.Deprecated || e.Deprecated
				continue
			}
			index[e.EndpointID] = len(endpoints)
			endpoints = append(endpoints, e)
		}
	}

	if len(endpoints) > 0 {
		texts := make([]string, len(endpoints))
		for i, e := range endpoints {
			texts[i] = endpointDescriptor(e)
		}
		vecs, err := r.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, cerrors.Wrapf(cerrors.ErrCodeEmbeddingFailed, err, "embed %d endpoint descriptors", len(endpoints))
		}
		if len(vecs) != len(texts) {
			return nil, cerrors.Newf(cerrors.ErrCodeEmbeddingFailed,
				"endpoint embedding count mismatch: %d texts, %d vectors", len(texts), len(vecs))
		}
		for i := range endpoints {
			endpoints[i].Embedding = vecs[i]
		}
	}
	return endpoints, nil
}

// endpointDescriptor renders the text the endpoint is embedded by: protocol,
// method, path, description, and tags in one line.
func endpointDescriptor(e model.APIEndpoint) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(string(e.APIType)))
	b.WriteString(" ")
	if e.Method != "" {
		b.WriteString(e.Method)
		b.WriteString(" ")
	}
	b.WriteString(e.Path)
	if e.Description != "" {
		b.WriteString(": ")
		b.WriteString(e.Description)
	}
	if len(e.Tags) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Tags, ", "))
		b.WriteString("]")
	}
	if e.Deprecated {
		b.WriteString(" (deprecated)")
	}
	return b.String()
}

// crossRepoTargets matches this repository's package dependencies against the
// names and workspace packages of every other indexed repository. Failures
// skip the scan; edges refresh on the next run.
func (r *Runner) crossRepoTargets(ctx context.Context, repo *model.Repository, wsTopo *detect.WorkspaceTopology, absRoot string) []string {
	deps := make(map[string]bool)
	if wsTopo != nil {
		for _, ws := range wsTopo.Workspaces {
			for _, d := range ws.Dependencies {
				deps[d] = true
			}
			for _, d := range ws.DevDependencies {
				deps[d] = true
			}
		}
	}
	rootManifestDeps(absRoot, deps)
	if len(deps) == 0 {
		return nil
	}

	repos, err := r.store.ListRepositories(ctx)
	if err != nil {
		r.logger.Warn("cross-repo dependency scan skipped", slog.String("error", err.Error()))
		return nil
	}

	var targets []string
	for _, other := range repos {
		if other.RepoID == repo.RepoID {
			continue
		}
		match := deps[other.Name]
		if !match {
			wss, err := r.store.WorkspacesByRepo(ctx, other.RepoID)
			if err != nil {
				continue
			}
			for _, ws := range wss {
				if deps[ws.Name] {
					match = true
					break
				}
			}
		}
		if match {
			targets = append(targets, other.RepoID)
		}
	}
	sort.Strings(targets)
	return targets
}

// rootManifestDeps folds the root package.json dependencies into deps, for
// repositories that are not monorepos.
func rootManifestDeps(absRoot string, deps map[string]bool) {
	content, err := os.ReadFile(filepath.Join(absRoot, "package.json"))
	if err != nil {
		return
	}
	var m struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(content, &m); err != nil {
		return
	}
	for d := range m.Dependencies {
		deps[d] = true
	}
	for d := range m.DevDependencies {
		deps[d] = true
	}
}
