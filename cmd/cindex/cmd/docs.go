package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cindex-dev/cindex/internal/logging"
)

func newDocsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Manage documentation sets",
		Long: `Manage indexed documentation sets. Documentation sets are
markdown collections chunked by heading structure and embedded for
retrieval alongside code, grouped separately in results.`,
	}
	cmd.AddCommand(newDocsIndexCmd())
	cmd.AddCommand(newDocsListCmd())
	cmd.AddCommand(newDocsDeleteCmd())
	return cmd
}

func newDocsIndexCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "index <path>...",
		Short: "Index markdown documentation",
		Long: `Index one or more documentation paths. Each path becomes its own
set; a path may be a directory tree or a single markdown file.

Examples:
  cindex docs index ./docs
  cindex docs index ./docs --name "API Guide"
  cindex docs index ./docs ./rfcs`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDocsIndex(ctx, cmd, args, name)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Set name (single path only; default: directory name)")
	return cmd
}

func runDocsIndex(ctx context.Context, cmd *cobra.Command, paths []string, name string) error {
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

	client, err := connectBackend(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer client.Close()

	runner, err := newRunner(pg, client, cfg, logger, nil)
	if err != nil {
		return err
	}

	stats, err := runner.RunDocumentation(ctx, paths, name)
	for _, st := range stats {
		fmt.Fprintf(cmd.OutOrStdout(), "Indexed %q: %d files, %d chunks (%s)\n",
			st.Name, st.Files, st.Chunks, st.Duration.Round(time.Millisecond))
		for _, fe := range st.Errors {
			fmt.Fprintf(cmd.OutOrStdout(), "  error: %s: %s\n", fe.File, fe.Error)
		}
	}
	return err
}

func newDocsListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documentation sets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDocsList(ctx, cmd, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runDocsList(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	pg, cleanup, err := quietStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	sets, err := pg.ListDocumentation(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(sets)
	}

	if len(sets) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No documentation sets indexed.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DOC ID\tNAME\tFILES\tINDEXED")
	for _, set := range sets {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			set.DocID, set.Name, set.FileCount, set.IndexedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func newDocsDeleteCmd() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "delete <doc-id>",
		Short: "Delete a documentation set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to delete %q without --confirm", args[0])
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDocsDelete(ctx, cmd, args[0])
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "Confirm the deletion")
	return cmd
}

func runDocsDelete(ctx context.Context, cmd *cobra.Command, docID string) error {
	pg, cleanup, err := quietStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := pg.DeleteDocumentation(ctx, docID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted documentation set %s\n", docID)
	return nil
}
