package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/cindex-dev/cindex/internal/telemetry"
)

// ComponentStatus is one dependency's health in the status view.
type ComponentStatus struct {
	Status string `json:"status"` // "ready", "offline", "error"
	Detail string `json:"detail,omitempty"`
}

// RepoStatus is one indexed repository's row in the status view.
type RepoStatus struct {
	RepoID    string    `json:"repo_id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Files     int       `json:"files"`
	Chunks    int       `json:"chunks"`
	Symbols   int       `json:"symbols"`
	Services  int       `json:"services"`
	Endpoints int       `json:"endpoints"`
	IndexedAt time.Time `json:"indexed_at"`
}

// QuerySummary condenses persisted query telemetry.
type QuerySummary struct {
	WindowDays  int                               `json:"window_days"`
	Total       int64                             `json:"total"`
	TypeCounts  map[telemetry.QueryType]int64     `json:"type_counts,omitempty"`
	TopTerms    []telemetry.TermCount             `json:"top_terms,omitempty"`
	ZeroResults []string                          `json:"zero_result_queries,omitempty"`
	Latency     map[telemetry.LatencyBucket]int64 `json:"latency,omitempty"`
}

// StatusInfo aggregates everything the status command shows.
type StatusInfo struct {
	Store             ComponentStatus `json:"store"`
	Backend           ComponentStatus `json:"backend"`
	Repositories      []RepoStatus    `json:"repositories"`
	DocumentationSets int             `json:"documentation_sets"`
	Queries           *QuerySummary   `json:"queries,omitempty"`
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(noColor),
	}
}

// Render writes a human-readable status report.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("cindex status"))

	r.renderComponent("Store", info.Store)
	r.renderComponent("Backend", info.Backend)
	_, _ = fmt.Fprintln(r.out)

	if len(info.Repositories) == 0 {
		_, _ = fmt.Fprintln(r.out, "  No repositories indexed.")
	} else {
		_, _ = fmt.Fprintln(r.out, "  Repositories:")
		for _, repo := range info.Repositories {
			_, _ = fmt.Fprintf(r.out, "    %-20s %-12s %6d files %8d chunks %8d symbols",
				repo.Name, repo.Kind, repo.Files, repo.Chunks, repo.Symbols)
			if !repo.IndexedAt.IsZero() {
				_, _ = fmt.Fprintf(r.out, "   indexed %s", formatTime(repo.IndexedAt))
			}
			_, _ = fmt.Fprintln(r.out)
		}
	}
	if info.DocumentationSets > 0 {
		_, _ = fmt.Fprintf(r.out, "  Documentation sets: %d\n", info.DocumentationSets)
	}

	if q := info.Queries; q != nil && q.Total > 0 {
		_, _ = fmt.Fprintln(r.out)
		r.renderQueries(q)
	}
	return nil
}

// RenderJSON writes the status as indented JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func (r *StatusRenderer) renderComponent(name string, c ComponentStatus) {
	_, _ = fmt.Fprintf(r.out, "  %-8s %s", name+":", r.renderStatus(c.Status))
	if c.Detail != "" {
		_, _ = fmt.Fprintf(r.out, " (%s)", c.Detail)
	}
	_, _ = fmt.Fprintln(r.out)
}

func (r *StatusRenderer) renderQueries(q *QuerySummary) {
	_, _ = fmt.Fprintf(r.out, "  Queries (last %d days):\n", q.WindowDays)

	total := fmt.Sprintf("    Total: %d", q.Total)
	if len(q.TypeCounts) > 0 {
		types := make([]string, 0, len(q.TypeCounts))
		for qt := range q.TypeCounts {
			types = append(types, string(qt))
		}
		sort.Strings(types)
		parts := make([]string, 0, len(types))
		for _, qt := range types {
			parts = append(parts, fmt.Sprintf("%s %d", qt, q.TypeCounts[telemetry.QueryType(qt)]))
		}
		total += " (" + strings.Join(parts, ", ") + ")"
	}
	_, _ = fmt.Fprintln(r.out, total)

	if len(q.TopTerms) > 0 {
		terms := q.TopTerms
		if len(terms) > 5 {
			terms = terms[:5]
		}
		parts := make([]string, 0, len(terms))
		for _, tc := range terms {
			parts = append(parts, fmt.Sprintf("%s (%d)", tc.Term, tc.Count))
		}
		_, _ = fmt.Fprintf(r.out, "    Top terms: %s\n", strings.Join(parts, ", "))
	}

	if len(q.Latency) > 0 {
		buckets := []telemetry.LatencyBucket{
			telemetry.BucketP10,
			telemetry.BucketP50,
			telemetry.BucketP100,
			telemetry.BucketP500,
			telemetry.BucketP1000,
		}
		parts := make([]string, 0, len(buckets))
		for _, b := range buckets {
			if n, ok := q.Latency[b]; ok && n > 0 {
				parts = append(parts, fmt.Sprintf("%s %d", b, n))
			}
		}
		if len(parts) > 0 {
			_, _ = fmt.Fprintf(r.out, "    Latency: %s\n", strings.Join(parts, ", "))
		}
	}

	if len(q.ZeroResults) > 0 {
		shown := q.ZeroResults
		if len(shown) > 3 {
			shown = shown[:3]
		}
		_, _ = fmt.Fprintln(r.out, "    Recent zero-result queries:")
		for _, query := range shown {
			_, _ = fmt.Fprintf(r.out, "      %q\n", query)
		}
	}
}

// renderStatus colors a component status string.
func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready", "running":
		return r.styles.Success.Render(status)
	case "offline", "stopped":
		return r.styles.Warning.Render(status)
	case "error":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// formatTime renders a time relative to now.
func formatTime(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}
