package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pipewright/pipewright/pkg/config"
	"github.com/pipewright/pipewright/pkg/flow"
	"github.com/pipewright/pipewright/pkg/journal"
	"github.com/pipewright/pipewright/pkg/nifi"
	"github.com/pipewright/pipewright/pkg/policy"
	"github.com/pipewright/pipewright/pkg/replication"
	"github.com/pipewright/pipewright/pkg/telemetry"
)

func newApplyCommand() *cobra.Command {
	var (
		pattern      string
		topologyFile string
		dryRun       bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Converge a topology onto the cluster",
		Long: `Converge a flow topology onto the NiFi cluster.

This command:
  - Waits for the engine readiness endpoint (unless --dry-run)
  - Runs the database preflight and policy gates
  - Finds each resource by name and creates it only if absent
  - Asserts the desired configuration, retrying stale-revision rejections
  - Records the run in the local journal`,
		Example: `  # Provision the built-in CDC pattern
  pipewright apply --pattern cdc

  # Provision a topology file without touching the cluster
  pipewright apply --topology outbox.yaml --dry-run`,
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

			metrics, err := telemetry.NewMetrics(cfg.Telemetry.Metrics)
			if err != nil {
				return err
			}
			if cfg.Telemetry.Metrics.Enabled {
				go func() {
					if err := metrics.Serve(); err != nil {
						logger.WithError(err).Warn("metrics endpoint stopped")
					}
				}()
				defer func() { _ = metrics.Shutdown(context.Background()) }()
			}

			tracer, err := telemetry.NewTracer(cfg.Telemetry.Tracing,
				cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion)
			if err != nil {
				return err
			}
			defer func() { _ = tracer.Shutdown(context.Background()) }()

			client, err := nifi.NewClient(nifi.Options{
				BaseURL:     cfg.Engine.URL,
				Username:    cfg.Engine.Username,
				Password:    cfg.Engine.Password,
				Timeout:     cfg.Engine.Timeout,
				InsecureTLS: cfg.Engine.InsecureTLS,
				DryRun:      dryRun,
				Logger:      logger,
			})
			if err != nil {
				return err
			}

			convergerOpts := []flow.ConvergerOption{
				flow.WithMetrics(metrics),
				flow.WithTracing(tracer),
			}
			recorder := journal.Nop()
			if cfg.Journal.Enabled {
				store, err := journal.NewStore(cfg.Journal.Path, logger)
				if err != nil {
					return err
				}
				if err := store.Open(ctx); err != nil {
					return err
				}
				defer func() { _ = store.Close() }()
				recorder = store
			}
			convergerOpts = append(convergerOpts, flow.WithObserver(recorder))

			gates, err := buildGates(ctx, cfg, logger, topology, dryRun)
			if err != nil {
				return err
			}

			retrier := flow.NewRetrier(client, logger,
				flow.WithMaxAttempts(cfg.Retry.MaxAttempts),
				flow.WithRetryInterval(cfg.Retry.Interval),
				flow.WithRetryMetrics(metrics))
			converger := flow.NewConverger(client, retrier, logger, convergerOpts...)
			runner := flow.NewRunner(client, converger, logger,
				flow.WithReadiness(cfg.Engine.ReadyAttempts, cfg.Engine.ReadyInterval),
				flow.WithTracer(tracer),
				flow.WithGates(gates...))

			report, err := runner.Run(ctx, topology)
			if report != nil {
				if recordErr := recorder.RecordRun(ctx, report); recordErr != nil {
					logger.WithError(recordErr).Warn("failed to journal run")
				}
				level, message := "info", "run converged"
				if err != nil || report.Failed() {
					level, message = "error", "run did not fully converge"
				}
				if eventErr := recorder.RecordEvent(ctx, report.RunID, level, message); eventErr != nil {
					logger.WithError(eventErr).Warn("failed to journal event")
				}
				if printErr := printReport(report); printErr != nil {
					return printErr
				}
			}
			if err != nil {
				return err
			}
			if report.Failed() {
				return fmt.Errorf("run %s did not fully converge", report.RunID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", "", "built-in topology pattern (cdc, outbox)")
	cmd.Flags().StringVarP(&topologyFile, "topology", "t", "", "topology file to provision")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "walk the plan without touching the cluster")

	return cmd
}

// buildGates assembles the pre-run gates: policy evaluation first, then the
// database preflight. Dry runs skip the preflight since it needs a live
// database connection.
func buildGates(
	ctx context.Context,
	cfg *config.Config,
	logger *telemetry.Logger,
	topology *flow.Topology,
	dryRun bool,
) ([]flow.Gate, error) {
	var gates []flow.Gate

	if cfg.Policy.Enabled {
		engine, err := policy.NewEngine(logger)
		if err != nil {
			return nil, err
		}
		if len(cfg.Policy.Paths) > 0 {
			if err := engine.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
				return nil, err
			}
		}
		gates = append(gates, engine.Gate(topology, cfg.Policy.Mode == "enforcing"))
	}

	if !dryRun && cfg.Database.DSN != "" {
		gates = append(gates, func(ctx context.Context) error {
			db, err := replication.OpenPostgres(ctx, cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			checker := replication.NewChecker(db, replication.Params{
				ReplicationSlot: cfg.Database.ReplicationSlot,
				Publication:     cfg.Database.Publication,
				OutboxTable:     cfg.Database.OutboxTable,
				EnsureSlot:      cfg.Database.EnsureSlot,
				EnsureOutbox:    cfg.Database.EnsureOutbox,
			}, logger)
			return checker.Check(ctx, topology.Pattern)
		})
	}

	return gates, nil
}
