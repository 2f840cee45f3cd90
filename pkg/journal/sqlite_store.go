package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/pipewright/pipewright/pkg/flow"
	"github.com/pipewright/pipewright/pkg/telemetry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the SQLite-backed run journal.
type Store struct {
	db     *sql.DB
	path   string
	logger *telemetry.Logger
}

// NewStore creates a journal store for the given database file.
func NewStore(path string, logger *telemetry.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("journal database path is required")
	}
	if logger == nil {
		logger = telemetry.Discard()
	}
	return &Store{path: path, logger: logger.NewComponentLogger("journal")}, nil
}

// Open opens the database, enables WAL mode and applies migrations.
func (s *Store) Open(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", s.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open journal database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping journal database: %w", err)
	}

	s.db = db
	if err := s.migrate(); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// migrate applies the embedded schema migrations.
func (s *Store) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// ObserveStep persists one step outcome. It implements flow.StepObserver and
// must not fail the run, so errors only log.
func (s *Store) ObserveStep(runID string, result flow.StepResult) {
	const query = `
		INSERT INTO steps (run_id, step_key, kind, name, action, resource_id,
			synthetic, attempts, duration_ms, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(context.Background(), query,
		runID, result.Key, string(result.Kind), result.Name, string(result.Action),
		result.ID.Value, result.ID.Synthetic, result.Attempts,
		result.Duration.Milliseconds(), result.Error, time.Now().UTC())
	if err != nil {
		s.logger.WithError(err).Warnf("failed to record step %s", result.Key)
	}
}

// RecordRun persists the run summary.
func (s *Store) RecordRun(ctx context.Context, report *flow.Report) error {
	status := "converged"
	if report.Failed() {
		status = "failed"
	}

	const query = `
		INSERT INTO runs (id, topology, dry_run, status, created, reused,
			skipped, failed, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		report.RunID, report.Topology, report.DryRun, status,
		report.Created, report.Reused, report.Skipped, report.Failures,
		report.Started.UTC(), report.Finished.UTC())
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", report.RunID, err)
	}
	return nil
}

// RecordEvent persists one run lifecycle event.
func (s *Store) RecordEvent(ctx context.Context, runID, level, message string) error {
	const query = `
		INSERT INTO events (run_id, level, message, recorded_at)
		VALUES (?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, query, runID, level, message, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	const query = `
		SELECT id, topology, dry_run, status, created, reused, skipped,
			failed, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Topology, &run.DryRun, &run.Status,
			&run.Created, &run.Reused, &run.Skipped, &run.Failed,
			&run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// EventsForRun returns the recorded lifecycle events of one run in order.
func (s *Store) EventsForRun(ctx context.Context, runID string) ([]Event, error) {
	const query = `
		SELECT run_id, level, message, recorded_at
		FROM events WHERE run_id = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var event Event
		if err := rows.Scan(&event.RunID, &event.Level, &event.Message, &event.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// StepsForRun returns the recorded steps of one run in execution order.
func (s *Store) StepsForRun(ctx context.Context, runID string) ([]StepRecord, error) {
	const query = `
		SELECT run_id, step_key, kind, name, action, resource_id, synthetic,
			attempts, duration_ms, error, recorded_at
		FROM steps WHERE run_id = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var steps []StepRecord
	for rows.Next() {
		var step StepRecord
		var durationMS int64
		if err := rows.Scan(&step.RunID, &step.Key, &step.Kind, &step.Name,
			&step.Action, &step.ResourceID, &step.Synthetic, &step.Attempts,
			&durationMS, &step.Error, &step.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		step.Duration = time.Duration(durationMS) * time.Millisecond
		steps = append(steps, step)
	}
	return steps, rows.Err()
}
