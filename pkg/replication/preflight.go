// Package replication verifies that the source PostgreSQL database is ready
// for the flow patterns before anything is provisioned: logical WAL level
// and replication slot for CDC, outbox table for the outbox relay.
package replication

import (
	"context"
	"fmt"

	"github.com/pipewright/pipewright/pkg/telemetry"
)

// Database is the subset of source-database operations the preflight needs.
// The Postgres implementation backs production; tests use a fake.
type Database interface {
	// WALLevel returns the server's wal_level setting.
	WALLevel(ctx context.Context) (string, error)

	// SlotExists reports whether a replication slot with the given name
	// exists.
	SlotExists(ctx context.Context, slot string) (bool, error)

	// CreateSlot creates a logical replication slot.
	CreateSlot(ctx context.Context, slot string) error

	// PublicationExists reports whether a publication with the given name
	// exists.
	PublicationExists(ctx context.Context, publication string) (bool, error)

	// TableExists reports whether the given table exists.
	TableExists(ctx context.Context, table string) (bool, error)

	// EnsureOutboxSchema creates the canonical outbox table when absent.
	EnsureOutboxSchema(ctx context.Context) error
}

// Params configures the preflight checks.
type Params struct {
	// ReplicationSlot is the slot the CDC pattern polls.
	ReplicationSlot string

	// Publication is the publication the CDC pattern subscribes to.
	// Empty skips the check.
	Publication string

	// OutboxTable is the table the outbox pattern drains.
	OutboxTable string

	// EnsureSlot creates the replication slot when absent instead of
	// failing.
	EnsureSlot bool

	// EnsureOutbox creates the outbox table when absent instead of
	// failing.
	EnsureOutbox bool
}

// Checker runs the pattern-specific database preflight.
type Checker struct {
	db     Database
	params Params
	logger *telemetry.Logger
}

// NewChecker creates a preflight checker.
func NewChecker(db Database, params Params, logger *telemetry.Logger) *Checker {
	if logger == nil {
		logger = telemetry.Discard()
	}
	return &Checker{
		db:     db,
		params: params,
		logger: logger.NewComponentLogger("preflight"),
	}
}

// CheckCDC verifies the database can serve logical replication: wal_level
// must be logical and the configured slot must exist (or be created when
// EnsureSlot is set).
func (c *Checker) CheckCDC(ctx context.Context) error {
	level, err := c.db.WALLevel(ctx)
	if err != nil {
		return fmt.Errorf("failed to read wal_level: %w", err)
	}
	if level != "logical" {
		return fmt.Errorf("wal_level is %q, logical replication requires \"logical\"", level)
	}

	slot := c.params.ReplicationSlot
	if slot == "" {
		return fmt.Errorf("replication slot name is not configured")
	}

	exists, err := c.db.SlotExists(ctx, slot)
	if err != nil {
		return fmt.Errorf("failed to check replication slot %s: %w", slot, err)
	}
	if exists {
		c.logger.WithField("slot", slot).Debug("replication slot exists")
		return c.checkPublication(ctx)
	}

	if !c.params.EnsureSlot {
		return fmt.Errorf("replication slot %s does not exist", slot)
	}
	if err := c.db.CreateSlot(ctx, slot); err != nil {
		return fmt.Errorf("failed to create replication slot %s: %w", slot, err)
	}
	c.logger.WithField("slot", slot).Info("created replication slot")

	return c.checkPublication(ctx)
}

// checkPublication verifies the configured publication exists. An empty
// publication name skips the check.
func (c *Checker) checkPublication(ctx context.Context) error {
	publication := c.params.Publication
	if publication == "" {
		return nil
	}

	exists, err := c.db.PublicationExists(ctx, publication)
	if err != nil {
		return fmt.Errorf("failed to check publication %s: %w", publication, err)
	}
	if !exists {
		return fmt.Errorf("publication %s does not exist", publication)
	}
	c.logger.WithField("publication", publication).Debug("publication exists")
	return nil
}

// CheckOutbox verifies the outbox table exists, creating it first when
// EnsureOutbox is set.
func (c *Checker) CheckOutbox(ctx context.Context) error {
	table := c.params.OutboxTable
	if table == "" {
		return fmt.Errorf("outbox table name is not configured")
	}

	exists, err := c.db.TableExists(ctx, table)
	if err != nil {
		return fmt.Errorf("failed to check outbox table %s: %w", table, err)
	}
	if exists {
		c.logger.WithField("table", table).Debug("outbox table exists")
		return nil
	}

	if !c.params.EnsureOutbox {
		return fmt.Errorf("outbox table %s does not exist", table)
	}
	if err := c.db.EnsureOutboxSchema(ctx); err != nil {
		return fmt.Errorf("failed to create outbox schema: %w", err)
	}
	c.logger.WithField("table", table).Info("created outbox schema")
	return nil
}

// Check runs the preflight for the given pattern. Unknown patterns pass:
// custom topologies carry no database contract to verify.
func (c *Checker) Check(ctx context.Context, pattern string) error {
	switch pattern {
	case "cdc":
		return c.CheckCDC(ctx)
	case "outbox":
		return c.CheckOutbox(ctx)
	}
	return nil
}
