package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pipewright/pipewright/pkg/flow"
	"github.com/pipewright/pipewright/pkg/nifi"
	"github.com/pipewright/pipewright/pkg/telemetry"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "journal.db"), telemetry.Discard())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := store.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleReport() *flow.Report {
	started := time.Now().Add(-2 * time.Second)
	return &flow.Report{
		RunID:    "run-0001",
		Topology: "outbox-relay",
		DryRun:   true,
		Started:  started,
		Finished: started.Add(time.Second),
		Created:  6,
	}
}

func TestStoreRecordsRunsAndSteps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.ObserveStep("run-0001", flow.StepResult{
		Key:      "process-group/outbox-relay",
		Kind:     nifi.KindProcessGroup,
		Name:     "outbox-relay",
		Action:   flow.ActionCreated,
		ID:       nifi.SyntheticID("process-group-outbox-relay-abcd1234"),
		Attempts: 1,
		Duration: 30 * time.Millisecond,
	})
	store.ObserveStep("run-0001", flow.StepResult{
		Key:    "processor/poll-outbox-table",
		Kind:   nifi.KindProcessor,
		Name:   "poll-outbox-table",
		Action: flow.ActionSkipped,
		Error:  "dependency controller-service/outbox-db-pool did not resolve",
	})

	if err := store.RecordRun(ctx, sampleReport()); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	runs, err := store.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].ID != "run-0001" || !runs[0].DryRun || runs[0].Created != 6 {
		t.Errorf("unexpected run record: %+v", runs[0])
	}

	steps, err := store.StepsForRun(ctx, "run-0001")
	if err != nil {
		t.Fatalf("StepsForRun failed: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].Key != "process-group/outbox-relay" || !steps[0].Synthetic {
		t.Errorf("unexpected first step: %+v", steps[0])
	}
	if steps[1].Action != string(flow.ActionSkipped) || steps[1].Error == "" {
		t.Errorf("unexpected second step: %+v", steps[1])
	}
}

func TestStoreRecordsEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordEvent(ctx, "run-0002", "info", "readiness gate passed"); err != nil {
		t.Fatalf("RecordEvent failed: %v", err)
	}
	if err := store.RecordEvent(ctx, "run-0002", "error", "run did not fully converge"); err != nil {
		t.Fatalf("RecordEvent failed: %v", err)
	}
	if err := store.RecordEvent(ctx, "run-other", "info", "run converged"); err != nil {
		t.Fatalf("RecordEvent failed: %v", err)
	}

	events, err := store.EventsForRun(ctx, "run-0002")
	if err != nil {
		t.Fatalf("EventsForRun failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Level != "info" || events[0].Message != "readiness gate passed" {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[1].Level != "error" || events[1].RecordedAt.IsZero() {
		t.Errorf("unexpected second event: %+v", events[1])
	}
}

func TestStoreListRunsOrdersNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := sampleReport()
	older.RunID = "run-older"
	older.Started = time.Now().Add(-time.Hour)
	older.Finished = older.Started.Add(time.Second)
	if err := store.RecordRun(ctx, older); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	newer := sampleReport()
	newer.RunID = "run-newer"
	if err := store.RecordRun(ctx, newer); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	runs, err := store.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-newer" {
		t.Errorf("unexpected order: %+v", runs)
	}
}

func TestNopRecorderIsSafe(t *testing.T) {
	recorder := Nop()
	recorder.ObserveStep("run", flow.StepResult{})
	if err := recorder.RecordRun(context.Background(), sampleReport()); err != nil {
		t.Errorf("nop RecordRun returned %v", err)
	}
	if err := recorder.RecordEvent(context.Background(), "run", "info", "msg"); err != nil {
		t.Errorf("nop RecordEvent returned %v", err)
	}
}
