package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pipewright/pipewright/pkg/flow"
	"github.com/pipewright/pipewright/pkg/nifi"
)

func newPlanCommand() *cobra.Command {
	var (
		pattern      string
		topologyFile string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Preview a topology without touching the cluster",
		Long: `Preview what apply would do for a topology.

This command:
  - Validates the topology and orders its steps by dependency
  - Walks the full convergence in dry-run mode
  - Prints the ordered steps and the per-step decisions

No network call is made and no resource is created.`,
		Example: `  # Preview the built-in outbox pattern
  pipewright plan --pattern outbox

  # Preview a topology file
  pipewright plan --topology cdc.yaml`,
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

			topology, err := resolveTopology(ctx, cfg, pattern, topologyFile)
			if err != nil {
				return err
			}

			client, err := nifi.NewClient(nifi.Options{
				DryRun: true,
				Logger: logger,
			})
			if err != nil {
				return err
			}

			retrier := flow.NewRetrier(client, logger)
			converger := flow.NewConverger(client, retrier, logger)
			runner := flow.NewRunner(client, converger, logger)

			plan, err := runner.Plan(topology)
			if err != nil {
				return err
			}
			if !jsonOutput {
				fmt.Println(plan.Describe())
			}

			report, err := runner.Run(ctx, topology)
			if err != nil {
				return err
			}
			return printReport(report)
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", "", "built-in topology pattern (cdc, outbox)")
	cmd.Flags().StringVarP(&topologyFile, "topology", "t", "", "topology file to preview")

	return cmd
}
