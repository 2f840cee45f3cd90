package replication

import (
	"context"
	"database/sql"
	"fmt"

	// PostgreSQL driver
	_ "github.com/lib/pq"
)

// slotPlugin is the logical decoding plugin used when creating slots.
const slotPlugin = "pgoutput"

// Postgres implements Database over a PostgreSQL connection.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to the source database.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Close closes the database connection.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// WALLevel returns the server's wal_level setting.
func (p *Postgres) WALLevel(ctx context.Context) (string, error) {
	var level string
	err := p.db.QueryRowContext(ctx, `SELECT current_setting('wal_level')`).Scan(&level)
	if err != nil {
		return "", err
	}
	return level, nil
}

// SlotExists reports whether the named replication slot exists.
func (p *Postgres) SlotExists(ctx context.Context, slot string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_replication_slots WHERE slot_name = $1)`,
		slot).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// CreateSlot creates a logical replication slot with the pgoutput plugin.
func (p *Postgres) CreateSlot(ctx context.Context, slot string) error {
	_, err := p.db.ExecContext(ctx,
		`SELECT pg_create_logical_replication_slot($1, $2)`, slot, slotPlugin)
	return err
}

// PublicationExists reports whether the named publication exists.
func (p *Postgres) PublicationExists(ctx context.Context, publication string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_publication WHERE pubname = $1)`,
		publication).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// TableExists reports whether the given table resolves in the current
// search path. Schema-qualified names work as well.
func (p *Postgres) TableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT to_regclass($1) IS NOT NULL`, table).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}
