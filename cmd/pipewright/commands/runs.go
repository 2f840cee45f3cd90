package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pipewright/pipewright/pkg/journal"
)

func newRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "Show recorded runs",
		Long: `Show runs recorded in the local journal.

Without arguments the most recent runs are listed. With a run id the
per-step history and lifecycle events of that run are shown.`,
		Example: `  # List recent runs
  pipewright runs

  # Show the steps of one run
  pipewright runs 2f6c7a1e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			if !cfg.Journal.Enabled {
				return fmt.Errorf("journal is disabled in the configuration")
			}

			store, err := journal.NewStore(cfg.Journal.Path, logger)
			if err != nil {
				return err
			}
			if err := store.Open(ctx); err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if len(args) == 1 {
				steps, err := store.StepsForRun(ctx, args[0])
				if err != nil {
					return err
				}
				events, err := store.EventsForRun(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(map[string]any{"steps": steps, "events": events})
				}
				for _, step := range steps {
					line := fmt.Sprintf("  %-8s %s", step.Action, step.Key)
					if step.ResourceID != "" {
						line += fmt.Sprintf(" (id=%s", step.ResourceID)
						if step.Synthetic {
							line += ", synthetic"
						}
						line += ")"
					}
					if step.Error != "" {
						line += fmt.Sprintf(": %s", step.Error)
					}
					fmt.Println(line)
				}
				for _, event := range events {
					fmt.Printf("  [%s] %s\n", event.Level, event.Message)
				}
				return nil
			}

			runs, err := store.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(runs)
			}
			for _, run := range runs {
				mode := ""
				if run.DryRun {
					mode = " (dry-run)"
				}
				fmt.Printf("  %s  %-10s %s%s: %d created, %d reused, %d skipped, %d failed\n",
					run.StartedAt.Format(time.RFC3339), run.Status, run.Topology, mode,
					run.Created, run.Reused, run.Skipped, run.Failed)
				fmt.Printf("    id: %s\n", run.ID)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")

	return cmd
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
