package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cindex-dev/cindex/internal/index"
)

// maxErrorLines caps the per-file error listing in the run summary.
const maxErrorLines = 10

// PlainRenderer writes line-oriented progress for pipes and CI. Every event
// carrying a message or a known total prints one line, so logs show the
// files going by.
type PlainRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPlainRenderer creates a line-oriented renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// Update implements Renderer.
func (r *PlainRenderer) Update(event index.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tag := stageTag(event.Stage)
	switch {
	case event.Total > 0 && event.Message != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d %s\n", tag, event.Current, event.Total, event.Message)
	case event.Total > 0:
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d\n", tag, event.Current, event.Total)
	case event.Message != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", tag, event.Message)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats index.Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stats.NoOp {
		_, _ = fmt.Fprintln(r.out, "No changes detected; index is up to date.")
		return
	}

	_, _ = fmt.Fprintf(r.out, "Indexed %d files (%d chunks, %d symbols) in %s\n",
		stats.FilesIndexed, stats.ChunksCreated, stats.SymbolsExtracted,
		stats.Duration.Round(100*time.Millisecond))

	if stats.WorkspacesDetected > 0 || stats.ServicesDetected > 0 || stats.EndpointsDetected > 0 {
		_, _ = fmt.Fprintf(r.out, "Detected %d workspaces, %d services, %d endpoints\n",
			stats.WorkspacesDetected, stats.ServicesDetected, stats.EndpointsDetected)
	}
	if stats.FilesSkipped > 0 {
		_, _ = fmt.Fprintf(r.out, "Skipped %d files (artifacts %d, secrets %d, oversize %d)\n",
			stats.FilesSkipped, stats.Detector.ArtifactsSkipped,
			stats.Detector.SecretsSkipped, stats.Detector.OversizeSkipped)
	}
	if stats.FilesDeleted > 0 {
		_, _ = fmt.Fprintf(r.out, "Removed %d deleted files\n", stats.FilesDeleted)
	}
	if stats.SummaryFallbacks > 0 {
		_, _ = fmt.Fprintf(r.out, "%d summaries fell back to extractive text\n", stats.SummaryFallbacks)
	}

	if len(stats.Errors) > 0 {
		_, _ = fmt.Fprintf(r.out, "Errors: %d\n", len(stats.Errors))
		shown := stats.Errors
		if len(shown) > maxErrorLines {
			shown = shown[:maxErrorLines]
		}
		for _, fe := range shown {
			_, _ = fmt.Fprintf(r.out, "  %s (%s): %s\n", fe.File, fe.Stage, fe.Error)
		}
		if extra := len(stats.Errors) - len(shown); extra > 0 {
			_, _ = fmt.Fprintf(r.out, "  ... and %d more\n", extra)
		}
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}
