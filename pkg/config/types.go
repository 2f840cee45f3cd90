// Package config loads and validates pipewright configuration: the engine
// connection, database preflight settings, retry bounds and the topology
// source. Topology files are YAML validated against CUE schemas; parameter
// values may be computed with Starlark expressions.
package config

import (
	"time"

	"github.com/pipewright/pipewright/pkg/telemetry"
)

// Config is the root configuration for a pipewright process.
type Config struct {
	// Engine holds the flow-engine connection settings.
	Engine EngineConfig `yaml:"engine" validate:"required"`

	// Database holds the source database settings used by the preflight
	// checks.
	Database DatabaseConfig `yaml:"database"`

	// Retry bounds the revision-conflict retry loop.
	Retry RetryConfig `yaml:"retry"`

	// Policy configures topology policy evaluation.
	Policy PolicyConfig `yaml:"policy"`

	// Journal configures local run history.
	Journal JournalConfig `yaml:"journal"`

	// Vars are user variables exposed to Starlark parameter expressions.
	Vars map[string]any `yaml:"vars"`

	// Telemetry configures logging, metrics and tracing.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// EngineConfig holds the flow-engine connection settings.
type EngineConfig struct {
	// URL is the REST API base, e.g. "https://nifi.local:8443/nifi-api".
	URL string `yaml:"url" validate:"omitempty,url"`

	// Username and Password are exchanged for a session token.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Timeout bounds every request/response pair.
	Timeout time.Duration `yaml:"timeout"`

	// InsecureTLS skips certificate verification for self-signed engines.
	InsecureTLS bool `yaml:"insecure_tls"`

	// ReadyAttempts and ReadyInterval bound the startup readiness gate.
	ReadyAttempts int           `yaml:"ready_attempts" validate:"omitempty,min=1"`
	ReadyInterval time.Duration `yaml:"ready_interval"`
}

// DatabaseConfig holds the source database settings for preflight checks.
type DatabaseConfig struct {
	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`

	// ReplicationSlot is the logical replication slot the CDC pattern polls.
	ReplicationSlot string `yaml:"replication_slot"`

	// Publication is the publication the CDC pattern subscribes to. Empty
	// skips the preflight check.
	Publication string `yaml:"publication"`

	// OutboxTable is the table the outbox pattern drains.
	OutboxTable string `yaml:"outbox_table"`

	// EnsureSlot creates the replication slot during preflight when absent.
	EnsureSlot bool `yaml:"ensure_slot"`

	// EnsureOutbox creates the outbox schema during preflight when absent.
	EnsureOutbox bool `yaml:"ensure_outbox"`
}

// RetryConfig bounds the revision-conflict retry loop.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"omitempty,min=1"`
	Interval    time.Duration `yaml:"interval"`
}

// PolicyConfig configures topology policy evaluation.
type PolicyConfig struct {
	// Enabled turns policy evaluation on.
	Enabled bool `yaml:"enabled"`

	// Paths lists directories containing .rego policy files. The built-in
	// rules always apply.
	Paths []string `yaml:"paths"`

	// Mode selects between advisory (log violations) and enforcing (fail
	// the run).
	Mode string `yaml:"mode" validate:"omitempty,oneof=advisory enforcing"`
}

// JournalConfig configures the local run journal.
type JournalConfig struct {
	// Enabled turns run recording on.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Timeout:       30 * time.Second,
			ReadyAttempts: 60,
			ReadyInterval: 5 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			Interval:    time.Second,
		},
		Policy: PolicyConfig{
			Enabled: true,
			Mode:    "enforcing",
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "pipewright.db",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}
