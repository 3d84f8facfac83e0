package mcp

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cindex-dev/cindex/internal/cerrors"
	"github.com/cindex-dev/cindex/internal/index"
	"github.com/cindex-dev/cindex/internal/model"
)

// progressLoggerName is the logger field of progress notifications; clients
// filter on it.
const progressLoggerName = "cindex.indexing"

// logSession is the slice of the MCP session used for progress
// notifications. Nil sessions (direct handler calls in tests) disable them.
type logSession interface {
	Log(ctx context.Context, params *mcp.LoggingMessageParams) error
}

// sessionOf extracts the notification session from a tool request.
func sessionOf(req *mcp.CallToolRequest) logSession {
	if req == nil || req.Session == nil {
		return nil
	}
	return req.Session
}

// progressPayload is the data field of one progress notification.
type progressPayload struct {
	Type       string  `json:"type"`
	Stage      string  `json:"stage"`
	Current    int     `json:"current"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	Message    string  `json:"message,omitempty"`
	ETASeconds float64 `json:"eta_seconds,omitempty"`
	Timestamp  string  `json:"timestamp"`
}

// progressNotifier adapts pipeline progress events into MCP logging
// notifications. Notification failures are logged and dropped; they never
// interrupt the run.
func (s *Server) progressNotifier(ctx context.Context, sess logSession) index.ProgressFunc {
	if sess == nil {
		return nil
	}
	return func(ev index.Event) {
		var pct float64
		if ev.Total > 0 {
			pct = float64(ev.Current) / float64(ev.Total) * 100
		}
		err := sess.Log(ctx, &mcp.LoggingMessageParams{
			Level:  "info",
			Logger: progressLoggerName,
			Data: progressPayload{
				Type:       "progress",
				Stage:      string(ev.Stage),
				Current:    ev.Current,
				Total:      ev.Total,
				Percentage: pct,
				Message:    ev.Message,
				ETASeconds: ev.ETASeconds,
				Timestamp:  time.Now().UTC().Format(time.RFC3339),
			},
		})
		if err != nil {
			s.logger.Debug("mcp.progress.drop", slog.String("error", err.Error()))
		}
	}
}

// IndexRepositoryInput is the index_repository input schema.
type IndexRepositoryInput struct {
	RepoPath     string `json:"repo_path" jsonschema:"local filesystem path of the repository root"`
	Name         string `json:"name,omitempty" jsonschema:"human-readable name; defaults to the root directory basename"`
	RepoID       string `json:"repo_id,omitempty" jsonschema:"pins the repository identity; derived from the path when omitted"`
	Kind         string `json:"kind,omitempty" jsonschema:"repository kind: monolithic, monorepo, microservice, library, reference, documentation; defaults to monolithic"`
	Version      string `json:"version,omitempty" jsonschema:"version tag; reference repositories with an unchanged version are not re-indexed"`
	UpstreamURL  string `json:"upstream_url,omitempty" jsonschema:"origin URL of the tree"`
	ForceReindex bool   `json:"force_reindex,omitempty" jsonschema:"bypass the content-hash skip and re-index every file"`
}

// IndexRepositoryOutput wraps the run statistics.
type IndexRepositoryOutput struct {
	Stats *index.Stats `json:"stats"`
}

func (s *Server) handleIndexRepository(ctx context.Context, sess logSession, in IndexRepositoryInput) (IndexRepositoryOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	if in.RepoPath == "" {
		return IndexRepositoryOutput{}, cerrors.New(cerrors.ErrCodeMissingField,
			"repo_path is required", nil).
			WithSuggestion("Pass the local path of the repository root")
	}
	if in.Kind != "" && !model.RepoKind(in.Kind).Valid() {
		return IndexRepositoryOutput{}, cerrors.Newf(cerrors.ErrCodeUnknownEnum,
			"unknown repository kind %q", in.Kind).
			WithSuggestion("Use one of: monolithic, monorepo, microservice, library, reference, documentation")
	}

	s.logger.Info("mcp.tool.start",
		slog.String("tool", "index_repository"),
		slog.String("request_id", requestID),
		slog.String("repo_path", in.RepoPath),
		slog.Bool("force", in.ForceReindex))

	// A fresh runner per call binds this session's notifier to the run.
	runner, err := s.newRunner(s.progressNotifier(ctx, sess))
	if err != nil {
		return IndexRepositoryOutput{}, err
	}

	stats, err := runner.Run(ctx, index.Request{
		Path:         in.RepoPath,
		Name:         in.Name,
		RepoID:       in.RepoID,
		Kind:         model.RepoKind(in.Kind),
		Version:      in.Version,
		UpstreamURL:  in.UpstreamURL,
		ForceReindex: in.ForceReindex,
	})
	if err != nil {
		s.logger.Error("mcp.tool.fail",
			slog.String("tool", "index_repository"),
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return IndexRepositoryOutput{}, err
	}

	// Search caches may hold results for the previous generation.
	s.engine.PurgeCaches()

	s.logger.Info("mcp.tool.done",
		slog.String("tool", "index_repository"),
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.String("repo_id", stats.RepoID),
		slog.Int("files_indexed", stats.FilesIndexed),
		slog.Int("chunks_created", stats.ChunksCreated),
		slog.Int("file_errors", len(stats.Errors)))
	return IndexRepositoryOutput{Stats: stats}, nil
}

func (s *Server) mcpIndexRepositoryHandler(ctx context.Context, req *mcp.CallToolRequest, in IndexRepositoryInput) (
	*mcp.CallToolResult,
	IndexRepositoryOutput,
	error,
) {
	out, err := s.handleIndexRepository(ctx, sessionOf(req), in)
	if err != nil {
		return nil, IndexRepositoryOutput{}, MapError(err)
	}
	return nil, out, nil
}

// IndexDocumentationInput is the index_documentation input schema.
type IndexDocumentationInput struct {
	Paths []string `json:"paths" jsonschema:"directories or markdown files; each path becomes its own documentation set"`
	Name  string   `json:"name,omitempty" jsonschema:"set name; applies only when a single path is given"`
}

// IndexDocumentationOutput wraps per-set statistics.
type IndexDocumentationOutput struct {
	Sets []index.DocStats `json:"sets"`
}

func (s *Server) handleIndexDocumentation(ctx context.Context, sess logSession, in IndexDocumentationInput) (IndexDocumentationOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	s.logger.Info("mcp.tool.start",
		slog.String("tool", "index_documentation"),
		slog.String("request_id", requestID),
		slog.Int("paths", len(in.Paths)))

	runner, err := s.newRunner(s.progressNotifier(ctx, sess))
	if err != nil {
		return IndexDocumentationOutput{}, err
	}

	sets, err := runner.RunDocumentation(ctx, in.Paths, in.Name)
	if err != nil {
		s.logger.Error("mcp.tool.fail",
			slog.String("tool", "index_documentation"),
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return IndexDocumentationOutput{}, err
	}

	s.logger.Info("mcp.tool.done",
		slog.String("tool", "index_documentation"),
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("sets", len(sets)))
	return IndexDocumentationOutput{Sets: sets}, nil
}

func (s *Server) mcpIndexDocumentationHandler(ctx context.Context, req *mcp.CallToolRequest, in IndexDocumentationInput) (
	*mcp.CallToolResult,
	IndexDocumentationOutput,
	error,
) {
	out, err := s.handleIndexDocumentation(ctx, sessionOf(req), in)
	if err != nil {
		return nil, IndexDocumentationOutput{}, MapError(err)
	}
	return nil, out, nil
}
