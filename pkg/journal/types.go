// Package journal persists run history locally: one row per convergence run
// with the per-step outcomes, so operators can audit what a run created,
// reused or skipped.
package journal

import (
	"context"
	"time"

	"github.com/pipewright/pipewright/pkg/flow"
)

// Run is one recorded convergence run.
type Run struct {
	ID         string    `json:"id"`
	Topology   string    `json:"topology"`
	DryRun     bool      `json:"dry_run"`
	Status     string    `json:"status"`
	Created    int       `json:"created"`
	Reused     int       `json:"reused"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// StepRecord is one recorded step outcome.
type StepRecord struct {
	RunID      string        `json:"run_id"`
	Key        string        `json:"key"`
	Kind       string        `json:"kind"`
	Name       string        `json:"name"`
	Action     string        `json:"action"`
	ResourceID string        `json:"resource_id,omitempty"`
	Synthetic  bool          `json:"synthetic,omitempty"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// Event is one free-form run lifecycle event.
type Event struct {
	RunID      string    `json:"run_id"`
	Level      string    `json:"level"`
	Message    string    `json:"message"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Recorder persists runs and steps. The store implements it; a no-op
// recorder serves when the journal is disabled.
type Recorder interface {
	flow.StepObserver

	// RecordRun persists the run summary after completion.
	RecordRun(ctx context.Context, report *flow.Report) error

	// RecordEvent persists one run lifecycle event.
	RecordEvent(ctx context.Context, runID, level, message string) error
}

// Nop returns a recorder that drops everything.
func Nop() Recorder { return nopRecorder{} }

type nopRecorder struct{}

func (nopRecorder) ObserveStep(string, flow.StepResult)                       {}
func (nopRecorder) RecordRun(context.Context, *flow.Report) error             { return nil }
func (nopRecorder) RecordEvent(context.Context, string, string, string) error { return nil }
