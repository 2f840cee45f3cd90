package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pipewright/pipewright/pkg/config"
	"github.com/pipewright/pipewright/pkg/flow"
)

const timeRounding = 10 * time.Millisecond

// resolveTopology picks the topology from either a built-in pattern or a
// topology file. Exactly one of the two must be given.
func resolveTopology(ctx context.Context, cfg *config.Config, pattern, file string) (*flow.Topology, error) {
	switch {
	case pattern != "" && file != "":
		return nil, fmt.Errorf("--pattern and --topology are mutually exclusive")
	case pattern != "":
		topology, ok := flow.BuiltinTopology(pattern)
		if !ok {
			return nil, fmt.Errorf("unknown pattern %q (want cdc or outbox)", pattern)
		}
		return topology, nil
	case file != "":
		return config.LoadTopology(ctx, file, cfg.Vars)
	}
	return nil, fmt.Errorf("either --pattern or --topology is required")
}

// printReport renders a convergence report, as JSON when --json is set.
func printReport(report *flow.Report) error {
	if jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}

	for _, result := range report.Results {
		line := fmt.Sprintf("  %-8s %s", result.Action, result.Key)
		if result.Action == flow.ActionCreated || result.Action == flow.ActionReused {
			line += fmt.Sprintf(" (id=%s)", result.ID.Value)
		}
		if result.Error != "" {
			line += fmt.Sprintf(": %s", result.Error)
		}
		fmt.Println(line)
	}

	mode := "applied"
	if report.DryRun {
		mode = "dry-run"
	}
	fmt.Printf("\nRun %s (%s): %d created, %d reused, %d skipped, %d failed in %s\n",
		report.RunID, mode, report.Created, report.Reused, report.Skipped,
		report.Failures, report.Finished.Sub(report.Started).Round(timeRounding))
	return nil
}
