package cmd

import (
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cindex-dev/cindex/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and diagnose issues",
		Long: `Run diagnostics against the local machine and the configured
dependencies.

Checks:
  - Disk space, memory, write permissions, file descriptor limits
  - PostgreSQL connectivity and the pgvector extension
  - Ollama reachability, installed models, embedding dimensions

Missing models are warnings: one 'ollama pull' fixes them. Store
failures are errors; nothing works without the store.`,
		Example: `  cindex doctor
  cindex doctor --verbose
  cindex doctor --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, verbose, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runDoctor(cmd *cobra.Command, verbose, jsonOutput bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Doctor must run even with a broken configuration; fall back to
	// defaults and surface the load error as its own failed check.
	var configCheck *preflight.CheckResult
	cfg, err := loadConfig()
	if err != nil {
		cfg = nil
		configCheck = &preflight.CheckResult{
			Name:     "configuration",
			Status:   preflight.StatusFail,
			Message:  err.Error(),
			Required: true,
		}
	}

	checker := preflight.New(cfg,
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
	)

	workDir, err := os.Getwd()
	if err != nil {
		workDir = os.TempDir()
	}

	results := checker.RunAll(ctx, workDir)
	if configCheck != nil {
		results = append([]preflight.CheckResult{*configCheck}, results...)
	}

	if jsonOutput {
		return outputDoctorJSON(cmd, checker, results)
	}
	checker.PrintResults(results)

	if checker.HasCriticalFailures(results) {
		return errors.New("system check failed")
	}
	return nil
}

// doctorReport is the JSON shape of a doctor run.
type doctorReport struct {
	Status   string                  `json:"status"`
	Checks   []preflight.CheckResult `json:"checks"`
	Warnings []string                `json:"warnings,omitempty"`
	Errors   []string                `json:"errors,omitempty"`
}

func outputDoctorJSON(cmd *cobra.Command, checker *preflight.Checker, results []preflight.CheckResult) error {
	report := doctorReport{
		Status: checker.SummaryStatus(results),
		Checks: results,
	}
	for _, r := range results {
		if r.IsCritical() {
			report.Errors = append(report.Errors, r.Name+": "+r.Message)
		} else if r.Status == preflight.StatusWarn {
			report.Warnings = append(report.Warnings, r.Name+": "+r.Message)
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if checker.HasCriticalFailures(results) {
		return errors.New("system check failed")
	}
	return nil
}
