package flow

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/pipewright/pipewright/pkg/nifi"
	"github.com/pipewright/pipewright/pkg/telemetry"
)

func newTestConverger(t *testing.T, client *nifi.Client) *Converger {
	t.Helper()
	retrier := NewRetrier(client, telemetry.Discard(), WithSleep(noSleep))
	return NewConverger(client, retrier, telemetry.Discard())
}

func mustPlan(t *testing.T, top *Topology) *Plan {
	t.Helper()
	plan, err := NewPlanner().BuildPlan(top)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}
	return plan
}

func TestConvergeCreatesThenReuses(t *testing.T) {
	engine := newFakeEngine(t)
	client := newTestClient(t, engine)
	converger := newTestConverger(t, client)
	plan := mustPlan(t, OutboxTopology())

	first, err := converger.Converge(context.Background(), plan)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if first.Created != 6 || first.Reused != 0 || first.Skipped != 0 || first.Failures != 0 {
		t.Fatalf("first run: created=%d reused=%d skipped=%d failed=%d, want 6/0/0/0",
			first.Created, first.Reused, first.Skipped, first.Failures)
	}
	if engine.resourceCount() != 6 {
		t.Fatalf("expected 6 remote resources, got %d", engine.resourceCount())
	}

	second, err := converger.Converge(context.Background(), mustPlan(t, OutboxTopology()))
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if second.Created != 0 || second.Reused != 6 {
		t.Fatalf("second run: created=%d reused=%d, want 0/6", second.Created, second.Reused)
	}
	if engine.resourceCount() != 6 {
		t.Errorf("re-run created resources: got %d, want 6", engine.resourceCount())
	}

	// Configuration is re-asserted on reuse: the group's version advances on
	// every run.
	groupID := engine.idOf("process-group", "outbox-relay")
	if groupID == "" {
		t.Fatal("group was not created")
	}
	if got := engine.versionOf(groupID); got != 2 {
		t.Errorf("expected group revision 2 after two runs, got %d", got)
	}
}

func TestConvergeSkipsDependentsOfFailedStep(t *testing.T) {
	engine := newFakeEngine(t)
	engine.failCreate["controller-service"] = true
	client := newTestClient(t, engine)
	converger := newTestConverger(t, client)

	report, err := converger.Converge(context.Background(), mustPlan(t, CDCTopology()))
	if err != nil {
		t.Fatalf("Converge failed: %v", err)
	}

	actions := make(map[string]StepAction, len(report.Results))
	for _, res := range report.Results {
		actions[res.Key] = res.Action
	}

	serviceKey := stepKey(nifi.KindControllerService, "cdc-db-pool")
	pollKey := stepKey(nifi.KindProcessor, "poll-replication-slot")
	routeKey := stepKey(nifi.KindProcessor, "route-change-events")
	connKey := stepKey(nifi.KindConnection, "poll-replication-slot-to-route-change-events")

	if actions[serviceKey] != ActionFailed {
		t.Errorf("service: got %s, want %s", actions[serviceKey], ActionFailed)
	}
	if actions[pollKey] != ActionSkipped {
		t.Errorf("dependent processor: got %s, want %s", actions[pollKey], ActionSkipped)
	}
	if actions[connKey] != ActionSkipped {
		t.Errorf("dependent connection: got %s, want %s", actions[connKey], ActionSkipped)
	}

	// Steps independent of the failure still run.
	if actions[routeKey] != ActionCreated {
		t.Errorf("independent processor: got %s, want %s", actions[routeKey], ActionCreated)
	}
	if report.Failures != 1 || report.Skipped != 2 || report.Created != 3 {
		t.Errorf("report: created=%d skipped=%d failed=%d, want 3/2/1",
			report.Created, report.Skipped, report.Failures)
	}
	if !report.Failed() {
		t.Error("report with failures must report Failed")
	}
}

func TestConvergeDryRunMakesNoNetworkCalls(t *testing.T) {
	engine := newFakeEngine(t)
	client, err := nifi.NewClient(nifi.Options{
		BaseURL:         engine.URL(),
		DryRun:          true,
		SyntheticSuffix: func() string { return "abcd1234" },
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	converger := newTestConverger(t, client)

	report, err := converger.Converge(context.Background(), mustPlan(t, CDCTopology()))
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if report.Failed() {
		t.Fatalf("dry run reported failures: %+v", report)
	}

	for _, key := range []string{"token", "create", "fetch", "write", "list"} {
		if got := engine.count(key); got != 0 {
			t.Errorf("dry run issued %d %s requests, want 0", got, key)
		}
	}

	for _, res := range report.Results {
		if !res.ID.Synthetic {
			t.Errorf("step %s resolved a non-synthetic id in dry run: %s", res.Key, res.ID)
		}
		if !strings.HasPrefix(res.ID.Value, string(res.Kind)+"-") {
			t.Errorf("synthetic id %q does not carry the kind prefix", res.ID.Value)
		}
	}
}

func TestConvergeDryRunMatchesRealDecisions(t *testing.T) {
	engine := newFakeEngine(t)
	realClient := newTestClient(t, engine)
	realReport, err := newTestConverger(t, realClient).
		Converge(context.Background(), mustPlan(t, CDCTopology()))
	if err != nil {
		t.Fatalf("real run failed: %v", err)
	}

	dryClient, err := nifi.NewClient(nifi.Options{DryRun: true})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	dryReport, err := newTestConverger(t, dryClient).
		Converge(context.Background(), mustPlan(t, CDCTopology()))
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}

	if len(realReport.Results) != len(dryReport.Results) {
		t.Fatalf("step counts differ: real=%d dry=%d",
			len(realReport.Results), len(dryReport.Results))
	}
	for i := range realReport.Results {
		got, want := dryReport.Results[i], realReport.Results[i]
		if got.Key != want.Key || got.Action != want.Action {
			t.Errorf("step %d diverged: real=%s/%s dry=%s/%s",
				i, want.Key, want.Action, got.Key, got.Action)
		}
	}
}

type recordingObserver struct {
	runIDs []string
	keys   []string
}

func (r *recordingObserver) ObserveStep(runID string, result StepResult) {
	r.runIDs = append(r.runIDs, runID)
	r.keys = append(r.keys, result.Key)
}

func TestConvergeNotifiesObserverPerStep(t *testing.T) {
	client, err := nifi.NewClient(nifi.Options{DryRun: true})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	observer := &recordingObserver{}
	retrier := NewRetrier(client, telemetry.Discard(), WithSleep(noSleep))
	converger := NewConverger(client, retrier, telemetry.Discard(),
		WithObserver(observer),
		WithRunID(func() string { return "run-0001" }))

	plan := mustPlan(t, OutboxTopology())
	if _, err := converger.Converge(context.Background(), plan); err != nil {
		t.Fatalf("Converge failed: %v", err)
	}

	if len(observer.keys) != len(plan.Steps) {
		t.Fatalf("observer saw %d steps, want %d", len(observer.keys), len(plan.Steps))
	}
	for _, runID := range observer.runIDs {
		if runID != "run-0001" {
			t.Errorf("observer saw run id %q, want run-0001", runID)
		}
	}
}

func TestConvergeEmitsStepSpans(t *testing.T) {
	// The stdout exporter captures os.Stdout at package init, so swapping the
	// os.Stdout variable is not enough; redirect file descriptor 1 to a pipe
	// for the duration of the test instead.
	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe failed: %v", err)
	}
	stdoutFd := int(os.Stdout.Fd())
	savedFd, err := syscall.Dup(stdoutFd)
	if err != nil {
		t.Fatalf("dup failed: %v", err)
	}
	if err := syscall.Dup2(int(pw.Fd()), stdoutFd); err != nil {
		t.Fatalf("dup2 failed: %v", err)
	}
	restored := false
	restore := func() {
		if restored {
			return
		}
		restored = true
		_ = syscall.Dup2(savedFd, stdoutFd)
		_ = syscall.Close(savedFd)
	}
	defer restore()

	var buf bytes.Buffer
	copied := make(chan struct{})
	go func() {
		_, _ = io.Copy(&buf, pr)
		close(copied)
	}()

	tracer, err := telemetry.NewTracer(telemetry.TracingConfig{
		Enabled:      true,
		Exporter:     "stdout",
		SamplingRate: 1,
	}, "pipewright-test", "dev")
	if err != nil {
		t.Fatalf("NewTracer failed: %v", err)
	}

	client, err := nifi.NewClient(nifi.Options{DryRun: true})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	retrier := NewRetrier(client, telemetry.Discard(), WithSleep(noSleep))
	converger := NewConverger(client, retrier, telemetry.Discard(), WithTracing(tracer))

	plan := mustPlan(t, OutboxTopology())
	report, err := converger.Converge(context.Background(), plan)
	if err != nil {
		t.Fatalf("Converge failed: %v", err)
	}
	if report.Failed() {
		t.Fatalf("traced dry run reported failures: %+v", report)
	}

	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Fatalf("tracer shutdown failed: %v", err)
	}
	restore()
	_ = pw.Close()
	<-copied

	if got := strings.Count(buf.String(), "step.converge"); got != len(plan.Steps) {
		t.Errorf("expected %d step spans, got %d", len(plan.Steps), got)
	}
}
