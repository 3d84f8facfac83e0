package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cindex-dev/cindex/internal/logging"
	"github.com/cindex-dev/cindex/internal/retrieve"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	repos      []string
	services   []string
	topFiles   int
	maxChunks  int
	references bool
	jsonOutput bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed repositories",
		Long: `Search indexed repositories with hybrid retrieval: vector
similarity over summaries and chunks combined with keyword relevance,
then symbol resolution, import-chain expansion, and API enrichment.

Examples:
  cindex search "authentication middleware"
  cindex search "retry with backoff" --repo payments --repo billing
  cindex search "rate limiter" --references
  cindex search "websocket upgrade" --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSearch(ctx, cmd, query, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.repos, "repo", nil, "Restrict to repository IDs (repeatable)")
	cmd.Flags().StringSliceVar(&opts.services, "service", nil, "Restrict to service IDs (repeatable)")
	cmd.Flags().IntVar(&opts.topFiles, "top-files", 0, "Override the file budget")
	cmd.Flags().IntVar(&opts.maxChunks, "max-chunks", 0, "Override the chunk budget")
	cmd.Flags().BoolVar(&opts.references, "references", false, "Search reference and documentation repositories instead")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the full result as JSON")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
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

	pg, err := connectStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pg.Close()

	client, err := connectBackend(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer client.Close()

	engine, err := retrieve.NewEngine(pg, client, cfg, retrieve.WithLogger(logger))
	if err != nil {
		return err
	}

	result, err := engine.Search(ctx, query, buildSearchOptions(opts))
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printResult(cmd.OutOrStdout(), result)
	return nil
}

func buildSearchOptions(opts searchOptions) retrieve.Options {
	scope := retrieve.ScopeOptions{Mode: retrieve.ScopeGlobal, References: opts.references}
	switch {
	case len(opts.repos) > 0:
		scope.Mode = retrieve.ScopeRepository
		scope.RepoIDs = opts.repos
	case len(opts.services) > 0:
		scope.Mode = retrieve.ScopeService
		scope.ServiceIDs = opts.services
	}
	return retrieve.Options{
		Scope:     scope,
		TopFiles:  opts.topFiles,
		MaxChunks: opts.maxChunks,
	}
}

func printResult(out io.Writer, result *retrieve.Result) {
	if result.TotalFiles() == 0 && result.TotalChunks() == 0 {
		fmt.Fprintln(out, "No results.")
		return
	}

	for _, group := range result.Groups {
		fmt.Fprintf(out, "%s:\n", group.Name)
		for _, f := range group.Files {
			fmt.Fprintf(out, "  %s/%s  (score %.2f)\n", f.File.RepoID, f.File.Path, f.Score)
			if f.File.Summary != "" {
				fmt.Fprintf(out, "      %s\n", firstLine(f.File.Summary))
			}
		}
		for _, c := range group.Chunks {
			fmt.Fprintf(out, "  %s/%s:%d-%d  (score %.2f)\n",
				c.Chunk.RepoID, c.Chunk.FilePath, c.Chunk.StartLine, c.Chunk.EndLine, c.Score)
		}
		fmt.Fprintln(out)
	}

	if len(result.Symbols) > 0 {
		fmt.Fprintln(out, "symbols:")
		for _, group := range result.Symbols {
			for _, def := range group.Definitions {
				fmt.Fprintf(out, "  %s  %s:%d\n", group.Name, def.FilePath, def.Line)
			}
		}
		fmt.Fprintln(out)
	}

	for _, w := range result.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w.Message)
	}
	fmt.Fprintf(out, "%d files, %d chunks, ~%d tokens in %dms\n",
		result.TotalFiles(), result.TotalChunks(), result.TokensUsed, result.ElapsedMS)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
