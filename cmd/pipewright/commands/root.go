// Package commands implements the pipewright CLI.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pipewright/pipewright/pkg/config"
	"github.com/pipewright/pipewright/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	// cliVersion is stamped into traces and the version command.
	cliVersion = "dev"
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	cliVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pipewright",
		Short: "Pipewright - CDC and outbox flow provisioning for Apache NiFi",
		Long: `Pipewright provisions change-data-capture and transactional-outbox flow
topologies on a NiFi cluster through its REST API.

Features:
  - Idempotent convergence: existing resources are adopted, never duplicated
  - Optimistic-concurrency writes with automatic stale-revision retry
  - Dry-run mode that walks the full plan without touching the cluster
  - Database preflight for replication slots and outbox tables
  - Policy checks (OPA/rego) over topologies before provisioning
  - Local run journal with per-step history`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newPreflightCommand())
	rootCmd.AddCommand(newRunsCommand())

	return rootCmd
}

// loadConfig loads the configuration file and applies the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Telemetry.Logging.Format = "json"
	}
	cfg.Telemetry.ServiceVersion = cliVersion
	return cfg, nil
}

// newLogger builds the process logger from the loaded configuration.
func newLogger(cfg *config.Config) (*telemetry.Logger, error) {
	return telemetry.NewLogger(cfg.Telemetry.Logging)
}
