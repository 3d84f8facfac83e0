package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cindex-dev/cindex/configs"
	"github.com/cindex-dev/cindex/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and initialize configuration",
	}
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors",
		Long: `Load the merged configuration and run range validation. Exits
non-zero when a value is missing or out of range; non-fatal findings
are printed as warnings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			for _, warning := range cfg.Warnings() {
				fmt.Fprintf(cmd.OutOrStdout(), "warning: %s\n", warning)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration valid.")
			return nil
		},
	}
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the merged configuration: defaults, the user config file,
an explicit --config file, then environment variables. The store
password is redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd)
		},
	}
	return cmd
}

func runConfigShow(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	redacted := *cfg
	if redacted.Store.Password != "" {
		redacted.Store.Password = "********"
	}

	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "# effective configuration (user config: %s)\n", config.UserConfigPath())
	_, err = cmd.OutOrStdout().Write(out)
	if err != nil {
		return err
	}

	for _, warning := range cfg.Warnings() {
		fmt.Fprintf(cmd.OutOrStdout(), "# warning: %s\n", warning)
	}
	return nil
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the annotated config template to the user config path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	path := config.UserConfigPath()

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	fmt.Fprintln(cmd.OutOrStdout(), "Set the store password there or via POSTGRES_PASSWORD.")
	return nil
}
