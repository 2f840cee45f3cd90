package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/pipewright/pipewright/pkg/config"
	"github.com/pipewright/pipewright/pkg/flow"
	"github.com/pipewright/pipewright/pkg/policy"
	"github.com/pipewright/pipewright/pkg/telemetry"
)

func newValidateCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "validate <topology-file>",
		Short: "Validate a topology file",
		Long: `Validate a topology file without touching the cluster.

This command checks:
  - YAML syntax and schema conformance (CUE)
  - Starlark parameter expressions
  - Step references and dependency ordering
  - Policy compliance (OPA/rego)`,
		Example: `  # Validate once
  pipewright validate cdc.yaml

  # Re-validate whenever the file changes
  pipewright validate cdc.yaml --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			engine, err := policy.NewEngine(logger)
			if err != nil {
				return err
			}
			if len(cfg.Policy.Paths) > 0 {
				if err := engine.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
					return err
				}
			}

			if !watch {
				return validateOnce(ctx, cfg, engine, path)
			}
			return watchAndValidate(ctx, cfg, engine, logger, path)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-validate on topology or policy changes")

	return cmd
}

// validateOnce runs the full validation chain over one topology file.
func validateOnce(ctx context.Context, cfg *config.Config, engine *policy.Engine, path string) error {
	topology, err := config.LoadTopology(ctx, path, cfg.Vars)
	if err != nil {
		return err
	}

	if _, err := flow.NewPlanner().BuildPlan(topology); err != nil {
		return err
	}

	result, err := engine.EvaluateTopology(ctx, topology)
	if err != nil {
		return err
	}

	if jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	for _, violation := range result.Violations {
		fmt.Printf("  [%s] %s: %s\n", violation.Severity, violation.Policy, violation.Message)
	}
	if !result.Allowed {
		return fmt.Errorf("topology %s has %d policy violation(s)", topology.Name, len(result.Errors()))
	}
	fmt.Println(validationSummary(topology.Name, result))
	return nil
}

func validationSummary(topology string, result *policy.Result) string {
	return fmt.Sprintf("Topology %s is valid (%d policies evaluated, %d warnings)",
		topology, len(result.EvaluatedPolicies), len(result.Warnings()))
}

// watchAndValidate re-runs validation whenever the topology file is written
// or the configured policy paths change. Editors often replace files on save,
// so the parent directory is watched and events are filtered by name.
func watchAndValidate(
	ctx context.Context,
	cfg *config.Config,
	engine *policy.Engine,
	logger *telemetry.Logger,
	path string,
) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return err
	}

	policiesReloaded := make(chan struct{}, 1)
	if len(cfg.Policy.Paths) > 0 {
		go func() {
			err := engine.WatchPolicies(ctx, cfg.Policy.Paths, func() {
				select {
				case policiesReloaded <- struct{}{}:
				default:
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Warn("policy watcher stopped")
			}
		}()
	}

	report := func() {
		if err := validateOnce(ctx, cfg, engine, absPath); err != nil {
			fmt.Printf("Invalid: %v\n", err)
		}
	}
	report()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-policiesReloaded:
			report()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != absPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			report()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("watch error")
		}
	}
}
