package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cindex-dev/cindex/internal/logging"
	"github.com/cindex-dev/cindex/internal/store"
)

func newReposCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repos",
		Short: "Manage indexed repositories",
	}
	cmd.AddCommand(newReposListCmd())
	cmd.AddCommand(newReposDeleteCmd())
	return cmd
}

func newReposListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List indexed repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runReposList(ctx, cmd, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runReposList(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	pg, cleanup, err := quietStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	repos, err := pg.ListRepositories(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(repos)
	}

	if len(repos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No repositories indexed.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REPO ID\tNAME\tKIND\tVERSION\tINDEXED")
	for _, repo := range repos {
		indexed := "-"
		if !repo.IndexedAt.IsZero() {
			indexed = repo.IndexedAt.Format("2006-01-02 15:04")
		}
		version := repo.Version
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			repo.RepoID, repo.Name, repo.Kind, version, indexed)
	}
	return w.Flush()
}

func newReposDeleteCmd() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "delete <repo-id>",
		Short: "Delete a repository and everything it owns",
		Long: `Delete a repository from the index: its files, chunks, symbols,
workspaces, services, and endpoints. The source tree is untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to delete %q without --confirm", args[0])
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runReposDelete(ctx, cmd, args[0])
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "Confirm the deletion")
	return cmd
}

func runReposDelete(ctx context.Context, cmd *cobra.Command, repoID string) error {
	pg, cleanup, err := quietStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := pg.GetRepository(ctx, repoID); err != nil {
		return err
	}
	if err := pg.DeleteRepository(ctx, repoID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted repository %s\n", repoID)
	return nil
}

// quietStore wires config, file-only logging, and the store for commands
// that print their own output. The returned cleanup closes both.
func quietStore(ctx context.Context) (*store.PG, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.WriteToStderr = false
	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, nil, err
	}

	pg, err := connectStore(ctx, cfg, logger)
	if err != nil {
		logCleanup()
		return nil, nil, err
	}
	return pg, func() {
		pg.Close()
		logCleanup()
	}, nil
}
