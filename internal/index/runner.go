// Package index drives the indexing pipeline for one repository: discovery,
// the parse/chunk/summarize/embed/extract worker pool, topology detection,
// and the single persisting transaction. Progress events stream to a
// caller-supplied function; per-file failures are collected, not fatal.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cindex-dev/cindex/internal/backend"
	"github.com/cindex-dev/cindex/internal/cerrors"
	"github.com/cindex-dev/cindex/internal/chunk"
	"github.com/cindex-dev/cindex/internal/config"
	"github.com/cindex-dev/cindex/internal/detect"
	"github.com/cindex-dev/cindex/internal/model"
	"github.com/cindex-dev/cindex/internal/parse"
	"github.com/cindex-dev/cindex/internal/scanner"
	"github.com/cindex-dev/cindex/internal/store"
	"github.com/cindex-dev/cindex/internal/summary"
)

// Dependencies contains the injected dependencies for Runner.
type Dependencies struct {
	// Store persists indexing artefacts (required).
	Store store.Store

	// Embedder generates embeddings (required).
	Embedder backend.Embedder

	// Generator produces llm file summaries. Nil pins rule-based summaries.
	Generator backend.Generator

	// Config is the loaded configuration (required).
	Config *config.Config

	// Logger for structured run logs. Nil falls back to slog.Default.
	Logger *slog.Logger

	// Progress receives progress events. Nil disables reporting.
	Progress ProgressFunc

	// LockDir overrides where per-repo lock files live.
	LockDir string
}

// Runner executes indexing runs. One Runner may serve many runs; per-repo
// locks keep concurrent runs on the same repository exclusive.
type Runner struct {
	store    store.Store
	embedder backend.Embedder
	cfg      *config.Config
	logger   *slog.Logger
	progress ProgressFunc
	lockDir  string

	scanner    *scanner.Scanner
	parsers    *parse.Registry
	chunker    *chunk.Chunker
	summarizer *summary.Generator
	secrets    *detect.SecretFilter
	gate       *detect.LargeFileGate
	api        *detect.APIDetector
	workspaces *detect.WorkspaceDetector
	services   *detect.ServiceDetector

	// progressInterval overrides the emit throttle in tests.
	progressInterval time.Duration
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps Dependencies) (*Runner, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sc, err := scanner.New()
	if err != nil {
		return nil, err
	}

	cfg := deps.Config
	return &Runner{
		store:      deps.Store,
		embedder:   deps.Embedder,
		cfg:        cfg,
		logger:     logger,
		progress:   deps.Progress,
		lockDir:    deps.LockDir,
		scanner:    sc,
		parsers:    parse.NewRegistry(parse.ModeAuto),
		chunker:    chunk.NewChunker(chunk.Options{}),
		summarizer: summary.New(deps.Generator, summary.Method(cfg.Indexing.SummaryMethod), logger),
		secrets:    detect.NewSecretFilter(cfg.Detection.SecretPatterns, false),
		gate:       detect.NewLargeFileGate(0, 0),
		api:        detect.NewAPIDetector(logger),
		workspaces: detect.NewWorkspaceDetector(logger),
		services:   detect.NewServiceDetector(logger),
	}, nil
}

// Request describes one indexing run.
type Request struct {
	// Path is the repository root to index (required).
	Path string

	// Name overrides the human-readable name. Defaults to the root basename.
	Name string

	// RepoID pins the repository identity. Derived from Path when empty.
	RepoID string

	// Kind classifies the repository. Defaults to monolithic for new repos;
	// immutable for repos already indexed.
	Kind model.RepoKind

	// Version tags the indexed tree. A reference repo whose version has not
	// changed is not re-indexed, force or not.
	Version string

	// UpstreamURL records the origin of the tree.
	UpstreamURL string

	// ForceReindex bypasses the content-hash skip.
	ForceReindex bool
}

// Run indexes one repository and returns the run stats. Per-file failures
// land in Stats.Errors; only invalid input, lock, store, and persist
// failures (and context cancellation) abort the run.
func (r *Runner) Run(ctx context.Context, req Request) (*Stats, error) {
	start := time.Now()

	if req.Path == "" {
		return nil, cerrors.New(cerrors.ErrCodeMissingField, "repository path is required", nil).
			WithSuggestion("Pass the repository root directory as repo_path")
	}
	absRoot, err := filepath.Abs(req.Path)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeInvalidInput, err, "resolve path %q", req.Path)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, cerrors.Newf(cerrors.ErrCodeFileNotFound, "repository path not found: %s", absRoot).
			WithSuggestion("Check the repo_path argument; it must be an existing directory")
	}
	if !info.IsDir() {
		return nil, cerrors.Newf(cerrors.ErrCodeInvalidInput, "repository path is not a directory: %s", absRoot)
	}
	if req.Kind != "" && !req.Kind.Valid() {
		return nil, cerrors.Newf(cerrors.ErrCodeUnknownEnum, "unknown repository kind %q", req.Kind).
			WithSuggestion("Use one of: monolithic, monorepo, microservice, library, reference, documentation")
	}

	repo, existing, err := r.resolveRepository(ctx, req, absRoot)
	if err != nil {
		return nil, err
	}

	stats := &Stats{RepoID: repo.RepoID, RunID: uuid.NewString()}

	// Reference repos are pinned by version: same version, nothing to do.
	if existing != nil && repo.Kind == model.RepoKindReference &&
		repo.Version != "" && repo.Version == existing.Version && !existing.IndexedAt.IsZero() {
		prev, err := r.store.RepositoryStats(ctx, repo.RepoID)
		if err != nil {
			return nil, err
		}
		stats.NoOp = true
		stats.FilesIndexed = prev.Files
		stats.ChunksCreated = prev.Chunks
		stats.SymbolsExtracted = prev.Symbols
		stats.WorkspacesDetected = prev.Workspaces
		stats.ServicesDetected = prev.Services
		stats.EndpointsDetected = prev.Endpoints
		stats.Duration = time.Since(start)
		r.logger.Info("reference repository version unchanged, skipping",
			slog.String("repo_id", repo.RepoID),
			slog.String("version", repo.Version))
		return stats, nil
	}

	lock := NewRepoLock(r.lockDir, repo.RepoID)
	if err := lock.Lock(ctx); err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeIndexFailed, err, "lock repository %s", repo.RepoID)
	}
	defer lock.Unlock() //nolint:errcheck

	r.logger.Info("indexing started",
		slog.String("repo_id", repo.RepoID),
		slog.String("run_id", stats.RunID),
		slog.String("root", absRoot),
		slog.String("kind", string(repo.Kind)),
		slog.Bool("force", req.ForceReindex))

	tr := newProgressTracker(r.progress, r.progressInterval)
	fallbacksBefore := r.summarizer.Fallbacks()

	discovered, err := r.discover(ctx, absRoot, tr, stats)
	if err != nil {
		return nil, err
	}

	prior := map[string]string{}
	if existing != nil {
		prior, err = r.store.FileHashes(ctx, repo.RepoID)
		if err != nil {
			return nil, err
		}
	}

	var work, unchanged []*scanner.DiscoveredFile
	for _, f := range discovered {
		if !req.ForceReindex && prior[f.Path] == f.ContentHash {
			unchanged = append(unchanged, f)
			continue
		}
		work = append(work, f)
	}
	stats.FilesSkipped = len(unchanged)

	detectEP := r.cfg.Detection.DetectAPIEndpoints && repo.Kind != model.RepoKindDocumentation
	results, err := r.processFiles(ctx, repo.RepoID, work, start, detectEP, tr)
	if err != nil {
		return nil, err
	}

	var processed []*fileResult
	seen := make(map[string]bool, len(results)+len(unchanged))
	for _, res := range results {
		switch {
		case res.artifactSkip:
			stats.Detector.ArtifactsSkipped++
		case res.failure != nil:
			stats.Errors = append(stats.Errors, *res.failure)
			seen[res.path] = true
		default:
			processed = append(processed, res)
			seen[res.path] = true
			stats.ChunksCreated += len(res.chunks)
			stats.SymbolsExtracted += len(res.symbols)
		}
	}
	for _, f := range unchanged {
		seen[f.Path] = true
	}
	sort.Slice(stats.Errors, func(i, j int) bool { return stats.Errors[i].File < stats.Errors[j].File })

	endpointsByFile := make(map[string][]detect.Endpoint)
	if detectEP {
		for _, res := range processed {
			if len(res.endpoints) > 0 {
				endpointsByFile[res.path] = res.endpoints
			}
		}
		r.refreshEndpoints(ctx, repo.RepoID, unchanged, endpointsByFile)
	}

	var wsTopo *detect.WorkspaceTopology
	if r.cfg.Detection.DetectWorkspaces && repo.Kind != model.RepoKindDocumentation {
		wsTopo = r.detectWorkspaces(ctx, absRoot, repo, tr)
		if wsTopo != nil {
			linkWorkspaces(processed, wsTopo)
			stats.WorkspacesDetected = len(wsTopo.Workspaces)
		}
	}

	svcTopo, endpoints, err := r.detectServices(ctx, absRoot, repo, processed, unchanged, endpointsByFile, tr)
	if err != nil {
		return nil, err
	}
	if svcTopo != nil {
		stats.ServicesDetected = len(svcTopo.Services)
	}
	stats.EndpointsDetected = len(endpoints)

	var crossRepoTargets []string
	if r.cfg.Detection.MultiRepoMode {
		crossRepoTargets = r.crossRepoTargets(ctx, repo, wsTopo, absRoot)
	}

	var stale []string
	for p := range prior {
		if !seen[p] {
			stale = append(stale, p)
		}
	}
	sort.Strings(stale)
	stats.FilesDeleted = len(stale)

	if err := r.persist(ctx, repo, processed, stale, wsTopo, svcTopo, endpoints, crossRepoTargets, tr); err != nil {
		return nil, err
	}

	stats.FilesIndexed = len(processed)
	stats.SummaryFallbacks = r.summarizer.Fallbacks() - fallbacksBefore
	stats.Duration = time.Since(start)

	r.logger.Info("indexing finished",
		slog.String("repo_id", repo.RepoID),
		slog.String("run_id", stats.RunID),
		slog.Int("files_indexed", stats.FilesIndexed),
		slog.Int("files_skipped", stats.FilesSkipped),
		slog.Int("files_deleted", stats.FilesDeleted),
		slog.Int("chunks", stats.ChunksCreated),
		slog.Int("symbols", stats.SymbolsExtracted),
		slog.Int("endpoints", stats.EndpointsDetected),
		slog.Int("errors", len(stats.Errors)),
		slog.Duration("duration", stats.Duration))
	return stats, nil
}

// resolveRepository loads the existing row (by explicit ID or by path) and
// merges it with the request into the row this run will write. The kind of
// an indexed repository cannot change.
func (r *Runner) resolveRepository(ctx context.Context, req Request, absRoot string) (*model.Repository, *model.Repository, error) {
	var existing *model.Repository
	var err error
	if req.RepoID != "" {
		existing, err = r.store.GetRepository(ctx, req.RepoID)
	} else {
		existing, err = r.store.GetRepositoryByPath(ctx, absRoot)
	}
	if err != nil {
		if cerrors.GetCode(err) != cerrors.ErrCodeStoreNotFound {
			return nil, nil, err
		}
		existing = nil
	}

	repo := &model.Repository{
		RepoID:      req.RepoID,
		Name:        req.Name,
		RootPath:    absRoot,
		Kind:        req.Kind,
		Version:     req.Version,
		UpstreamURL: req.UpstreamURL,
	}
	if existing != nil {
		if req.Kind != "" && req.Kind != existing.Kind {
			return nil, nil, cerrors.Newf(cerrors.ErrCodeStoreConflict,
				"repository %s is indexed as kind %q; kind is immutable", existing.RepoID, existing.Kind).
				WithSuggestion("Delete the repository and index it again to change its kind")
		}
		repo.RepoID = existing.RepoID
		repo.Kind = existing.Kind
		if repo.Name == "" {
			repo.Name = existing.Name
		}
		if repo.Version == "" {
			repo.Version = existing.Version
		}
		if repo.UpstreamURL == "" {
			repo.UpstreamURL = existing.UpstreamURL
		}
		repo.WorkspaceConfig = existing.WorkspaceConfig
	}
	if repo.Name == "" {
		repo.Name = filepath.Base(absRoot)
	}
	if repo.Kind == "" {
		repo.Kind = model.RepoKindMonolithic
	}
	if repo.RepoID == "" {
		repo.RepoID = DeriveRepoID(repo.Name, absRoot)
	}
	return repo, existing, nil
}

// DeriveRepoID builds a stable repository ID from the name and the absolute
// root path: a slug of the name plus a short path digest, so two checkouts
// with the same basename stay distinct.
func DeriveRepoID(name, absRoot string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
			return c
		case c == ' ', c == '_', c == '.', c == '/':
			return '-'
		}
		return -1
	}, slug)
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "repo"
	}
	sum := sha256.Sum256([]byte(absRoot))
	return slug + "-" + hex.EncodeToString(sum[:])[:8]
}

// persist writes every artefact of the run in one transaction. Any failure
// rolls back; readers keep the previous generation.
func (r *Runner) persist(
	ctx context.Context,
	repo *model.Repository,
	processed []*fileResult,
	stale []string,
	wsTopo *detect.WorkspaceTopology,
	svcTopo *detect.ServiceTopology,
	endpoints []model.APIEndpoint,
	crossRepoTargets []string,
	tr *progressTracker,
) error {
	tr.begin(StagePersist, len(processed), "")

	writer, err := r.store.BeginIndex(ctx, repo.RepoID)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := writer.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				r.logger.Error("rollback failed", slog.String("error", rbErr.Error()))
			}
		}
	}()

	repo.IndexedAt = time.Now().UTC()
	if err := writer.UpsertRepository(ctx, repo); err != nil {
		return err
	}

	for _, res := range processed {
		if err := writer.ReplaceFile(ctx, res.file, res.chunks, res.symbols); err != nil {
			return err
		}
		tr.advance(StagePersist, res.path)
	}

	if len(stale) > 0 {
		if err := writer.DeleteFiles(ctx, stale); err != nil {
			return err
		}
	}

	if wsTopo != nil {
		if err := writer.ReplaceWorkspaces(ctx, wsTopo.Workspaces); err != nil {
			return err
		}
	}
	if svcTopo != nil {
		if err := writer.ReplaceServices(ctx, svcTopo.Services); err != nil {
			return err
		}
	}
	if endpoints != nil {
		if err := writer.ReplaceEndpoints(ctx, endpoints); err != nil {
			return err
		}
	}
	if r.cfg.Detection.MultiRepoMode {
		if err := writer.ReplaceCrossRepoDeps(ctx, crossRepoTargets); err != nil {
			return err
		}
	}

	if err := writer.Commit(ctx); err != nil {
		return cerrors.Wrapf(cerrors.ErrCodeIndexFailed, err, "commit index for %s", repo.RepoID)
	}
	committed = true
	tr.finish(StagePersist, "committed")
	return nil
}
