package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadReturnsDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.Interval != time.Second {
		t.Errorf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.Engine.ReadyAttempts != 60 || cfg.Engine.ReadyInterval != 5*time.Second {
		t.Errorf("unexpected readiness defaults: %+v", cfg.Engine)
	}
	if cfg.Policy.Mode != "enforcing" {
		t.Errorf("policy mode = %q, want enforcing", cfg.Policy.Mode)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
engine:
  url: https://nifi.local:8443/nifi-api
  username: admin
  password: secret
  ready_attempts: 10
retry:
  max_attempts: 3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.URL != "https://nifi.local:8443/nifi-api" {
		t.Errorf("engine URL = %q", cfg.Engine.URL)
	}
	if cfg.Engine.ReadyAttempts != 10 {
		t.Errorf("ready_attempts = %d, want 10", cfg.Engine.ReadyAttempts)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("max_attempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
	// Untouched sections keep their defaults.
	if cfg.Retry.Interval != time.Second {
		t.Errorf("retry interval = %v, want 1s", cfg.Retry.Interval)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := writeFile(t, "config.yaml", `
engine:
  url: "not a url"
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected a validation error for a malformed URL")
	}
}

const testTopologyYAML = `
name: outbox-relay
pattern: outbox
group:
  name: outbox-relay
parameters:
  name: outbox-parameters
  parameters:
    - name: db.url
      value: jdbc:postgresql://localhost:5432/app
    - name: batch.size
      value: "=str(vars['batch'] * 2)"
services:
  - name: outbox-db-pool
    type: org.apache.nifi.dbcp.DBCPConnectionPool
    properties:
      Database Connection URL: "#{db.url}"
processors:
  - name: poll-outbox-table
    type: org.apache.nifi.processors.standard.QueryDatabaseTable
    scheduling_period: 5 sec
    scheduling_strategy: TIMER_DRIVEN
    properties:
      Database Connection Pooling Service: "@outbox-db-pool"
  - name: publish-outbox-events
    type: org.apache.nifi.processors.standard.LogAttribute
    auto_terminate: [success]
connections:
  - source: poll-outbox-table
    destination: publish-outbox-events
    relationships: [success]
    back_pressure_objects: 10000
    back_pressure_size: 1 GB
`

func TestParseTopology(t *testing.T) {
	vars := map[string]any{"batch": int64(250)}
	topology, err := ParseTopology(context.Background(), []byte(testTopologyYAML), vars)
	if err != nil {
		t.Fatalf("ParseTopology failed: %v", err)
	}

	if topology.Name != "outbox-relay" {
		t.Errorf("name = %q", topology.Name)
	}
	if len(topology.Processors) != 2 || len(topology.Connections) != 1 {
		t.Errorf("unexpected shape: %d processors, %d connections",
			len(topology.Processors), len(topology.Connections))
	}

	// The "=..." parameter value is resolved through Starlark.
	var batchValue string
	for _, p := range topology.Parameters.Parameters {
		if p.Name == "batch.size" {
			batchValue = p.Value
		}
	}
	if batchValue != "500" {
		t.Errorf("computed parameter = %q, want 500", batchValue)
	}
}

func TestParseTopologyRejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "invalid scheduling strategy",
			yaml: strings.Replace(testTopologyYAML, "TIMER_DRIVEN", "WHENEVER", 1),
		},
		{
			name: "uppercase topology name",
			yaml: strings.Replace(testTopologyYAML, "name: outbox-relay\npattern", "name: Outbox-Relay\npattern", 1),
		},
		{
			name: "missing group name",
			yaml: strings.Replace(testTopologyYAML, "group:\n  name: outbox-relay", "group: {}", 1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTopology(context.Background(), []byte(tt.yaml), nil)
			if err == nil {
				t.Fatal("expected a schema violation, got nil")
			}
		})
	}
}

func TestLoadTopologyFromFile(t *testing.T) {
	path := writeFile(t, "topology.yaml", strings.Replace(testTopologyYAML,
		`value: "=str(vars['batch'] * 2)"`, `value: "100"`, 1))

	topology, err := LoadTopology(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("LoadTopology failed: %v", err)
	}
	if topology.Group.Name != "outbox-relay" {
		t.Errorf("group name = %q", topology.Group.Name)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}
