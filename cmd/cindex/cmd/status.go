package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cindex-dev/cindex/internal/logging"
	"github.com/cindex-dev/cindex/internal/store"
	"github.com/cindex-dev/cindex/internal/telemetry"
	"github.com/cindex-dev/cindex/internal/ui"
)

// queryWindowDays is the telemetry window the status view summarizes.
const queryWindowDays = 7

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index and dependency status",
		Long: `Show store and backend health, every indexed repository with its
counts, documentation sets, and a summary of recent query telemetry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runStatus(ctx, cmd, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.WriteToStderr = false
	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return err
	}
	defer logCleanup()

	info := ui.StatusInfo{}

	pg, err := connectStore(ctx, cfg, logger)
	if err != nil {
		info.Store = ui.ComponentStatus{Status: "offline", Detail: err.Error()}
	} else {
		defer pg.Close()
		info.Store = ui.ComponentStatus{
			Status: "ready",
			Detail: fmt.Sprintf("%s:%d/%s", cfg.Store.Host, cfg.Store.Port, cfg.Store.Database),
		}
		info.Repositories = collectRepoStatus(ctx, pg)

		if sets, err := pg.ListDocumentation(ctx); err == nil {
			info.DocumentationSets = len(sets)
		}
		info.Queries = collectQuerySummary(ctx, pg)
	}

	client, err := connectBackend(ctx, cfg, logger, false)
	if err != nil {
		info.Backend = ui.ComponentStatus{Status: "error", Detail: err.Error()}
	} else {
		defer client.Close()
		if client.Available(ctx) {
			info.Backend = ui.ComponentStatus{
				Status: "ready",
				Detail: fmt.Sprintf("%s, %s", cfg.Backend.Host, cfg.Backend.EmbeddingModel),
			}
		} else {
			info.Backend = ui.ComponentStatus{
				Status: "offline",
				Detail: fmt.Sprintf("%s unreachable or %s missing", cfg.Backend.Host, cfg.Backend.EmbeddingModel),
			}
		}
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor())
	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

func collectRepoStatus(ctx context.Context, pg *store.PG) []ui.RepoStatus {
	repos, err := pg.ListRepositories(ctx)
	if err != nil {
		return nil
	}

	statuses := make([]ui.RepoStatus, 0, len(repos))
	for _, repo := range repos {
		rs := ui.RepoStatus{
			RepoID:    repo.RepoID,
			Name:      repo.Name,
			Kind:      string(repo.Kind),
			IndexedAt: repo.IndexedAt,
		}
		if stats, err := pg.RepositoryStats(ctx, repo.RepoID); err == nil {
			rs.Files = stats.Files
			rs.Chunks = stats.Chunks
			rs.Symbols = stats.Symbols
			rs.Services = stats.Services
			rs.Endpoints = stats.Endpoints
		}
		statuses = append(statuses, rs)
	}
	return statuses
}

// collectQuerySummary reads persisted telemetry. Nil when the telemetry
// tables are absent or empty; status still renders without them.
func collectQuerySummary(ctx context.Context, pg *store.PG) *ui.QuerySummary {
	ms, err := telemetry.NewPostgresMetricsStore(pg.Pool())
	if err != nil {
		return nil
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -queryWindowDays)
	types, err := ms.GetQueryTypeCounts(ctx, from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		return nil
	}

	summary := &ui.QuerySummary{
		WindowDays: queryWindowDays,
		TypeCounts: types,
	}
	for _, n := range types {
		summary.Total += n
	}
	if summary.Total == 0 {
		return nil
	}

	if terms, err := ms.GetTopTerms(ctx, 10); err == nil {
		summary.TopTerms = terms
	}
	if zero, err := ms.GetZeroResultQueries(ctx, 5); err == nil {
		summary.ZeroResults = zero
	}
	if latency, err := ms.GetLatencyCounts(ctx, from.Format("2006-01-02"), to.Format("2006-01-02")); err == nil {
		summary.Latency = latency
	}
	return summary
}
