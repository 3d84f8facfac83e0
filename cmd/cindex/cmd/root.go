// Package cmd provides the CLI commands for cindex.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cindex-dev/cindex/internal/logging"
	"github.com/cindex-dev/cindex/pkg/version"
)

var (
	// configFile is the --config override, consumed by loadConfig.
	configFile string

	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the cindex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cindex",
		Short: "Semantic code search and context retrieval for coding agents",
		Long: `cindex indexes repositories into PostgreSQL and answers semantic
search and context queries over them, exposed as MCP tools.

Indexing parses, chunks, summarizes, and embeds source files, then
detects workspaces, services, and API endpoints. Retrieval combines
vector similarity with keyword relevance and expands results with
symbols, import chains, and API contracts.

Typical flow:

  cindex doctor              # verify PostgreSQL and Ollama
  cindex index .             # index the current repository
  cindex search "auth flow"  # query from the shell
  cindex serve               # run as an MCP server over stdio`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.SetVersionTemplate("cindex version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a config file (overlays the user config)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to the log file")

	cmd.PersistentPreRunE = startDebugLogging
	cmd.PersistentPostRunE = stopDebugLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newReposCmd())
	cmd.AddCommand(newDocsCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startDebugLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.Config{
		Level:    "debug",
		FilePath: logging.DefaultLogPath(),
	})
	if err != nil {
		return fmt.Errorf("setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

func stopDebugLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
