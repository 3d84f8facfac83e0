// Package ui renders indexing progress and index status for the CLI. An
// interactive terminal gets a bubbletea TUI; pipes, CI and --plain get
// line-oriented output. Renderers consume the indexing pipeline's progress
// events directly.
package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/cindex-dev/cindex/internal/index"
)

// Renderer displays one indexing run.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// Update feeds one pipeline progress event.
	Update(event index.Event)

	// Complete shows the run summary and ends the display.
	Complete(stats index.Stats)

	// Stop tears the renderer down. Safe after Complete.
	Stop() error
}

// Config configures renderer selection and appearance.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool

	// RootPath is the indexed path shown in the header.
	RootPath string
}

// Option modifies a Config.
type Option func(*Config)

// WithForcePlain forces line-oriented output regardless of TTY detection.
func WithForcePlain(force bool) Option {
	return func(c *Config) { c.ForcePlain = force }
}

// WithNoColor disables styled output.
func WithNoColor(noColor bool) Option {
	return func(c *Config) { c.NoColor = noColor }
}

// WithRootPath sets the indexed path shown in the header.
func WithRootPath(path string) Option {
	return func(c *Config) { c.RootPath = path }
}

// NewConfig builds a Config for the given output.
func NewConfig(output io.Writer, opts ...Option) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer picks a renderer for the environment: the TUI on an
// interactive terminal, plain output for pipes, CI and --plain.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether the writer is an interactive terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI reports whether a known CI environment variable is set.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}

// pipelineStages is the display order of the indexing stages. Per-file
// stages run concurrently over the worker pool, so their events interleave;
// renderers keep one row of state per stage.
var pipelineStages = []index.Stage{
	index.StageDiscover,
	index.StageParse,
	index.StageChunk,
	index.StageSummarize,
	index.StageEmbed,
	index.StageExtractSymbols,
	index.StageDetectWorkspaces,
	index.StageDetectServices,
	index.StagePersist,
}

// stageLabel returns the human-readable stage name.
func stageLabel(s index.Stage) string {
	switch s {
	case index.StageDiscover:
		return "Discover"
	case index.StageParse:
		return "Parse"
	case index.StageChunk:
		return "Chunk"
	case index.StageSummarize:
		return "Summarize"
	case index.StageEmbed:
		return "Embed"
	case index.StageExtractSymbols:
		return "Symbols"
	case index.StageDetectWorkspaces:
		return "Workspaces"
	case index.StageDetectServices:
		return "Services"
	case index.StagePersist:
		return "Persist"
	default:
		return string(s)
	}
}

// stageTag returns the short bracket tag used in plain output.
func stageTag(s index.Stage) string {
	switch s {
	case index.StageDiscover:
		return "SCAN"
	case index.StageParse:
		return "PARSE"
	case index.StageChunk:
		return "CHUNK"
	case index.StageSummarize:
		return "SUM"
	case index.StageEmbed:
		return "EMBED"
	case index.StageExtractSymbols:
		return "SYM"
	case index.StageDetectWorkspaces:
		return "WKSP"
	case index.StageDetectServices:
		return "SVC"
	case index.StagePersist:
		return "SAVE"
	default:
		return "???"
	}
}

// formatDuration renders a duration as 42s, 2m 15s or 1h 3m.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", h, m)
}
