package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pipewright/pipewright/pkg/nifi"
	"github.com/pipewright/pipewright/pkg/replication"
)

func newPreflightCommand() *cobra.Command {
	var pattern string

	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check engine readiness and the source database",
		Long: `Check that the engine and the source database are ready for a pattern.

The engine readiness endpoint is probed first when an engine URL is
configured. For the cdc pattern the database check verifies
wal_level=logical, the replication slot (creating it when ensure_slot is
set) and the publication when one is configured. For the outbox pattern
it verifies the outbox table exists (creating the schema when
ensure_outbox is set).`,
		Example: `  # Check CDC prerequisites
  pipewright preflight --pattern cdc

  # Check the outbox table
  pipewright preflight --pattern outbox`,
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
			if cfg.Database.DSN == "" {
				return fmt.Errorf("database.dsn is not configured")
			}

			if cfg.Engine.URL != "" {
				client, err := nifi.NewClient(nifi.Options{
					BaseURL:     cfg.Engine.URL,
					Username:    cfg.Engine.Username,
					Password:    cfg.Engine.Password,
					Timeout:     cfg.Engine.Timeout,
					InsecureTLS: cfg.Engine.InsecureTLS,
					Logger:      logger,
				})
				if err != nil {
					return err
				}
				if err := nifi.WaitUntilReady(ctx, client.Probe,
					cfg.Engine.ReadyAttempts, cfg.Engine.ReadyInterval, logger); err != nil {
					return err
				}
				fmt.Println("Engine is ready")
			}

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

			if err := checker.Check(ctx, pattern); err != nil {
				return err
			}
			fmt.Printf("Preflight passed for pattern %q\n", pattern)
			return nil
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", "", "pattern to check (cdc, outbox)")
	_ = cmd.MarkFlagRequired("pattern")

	return cmd
}
