package flow

import (
	"context"
	"testing"
	"time"

	"github.com/pipewright/pipewright/pkg/nifi"
	"github.com/pipewright/pipewright/pkg/telemetry"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newTestClient(t *testing.T, engine *fakeEngine) *nifi.Client {
	t.Helper()
	client, err := nifi.NewClient(nifi.Options{
		BaseURL:  engine.URL(),
		Username: "admin",
		Password: "admin",
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

// seedGroup creates one process group directly through the client so retry
// tests have a real resource to configure.
func seedGroup(t *testing.T, client *nifi.Client) nifi.ResourceID {
	t.Helper()
	id, _, err := client.CreateResource(context.Background(),
		nifi.KindProcessGroup, nifi.RootScope, "retry-target",
		&nifi.ProcessGroupComponent{Name: "retry-target"})
	if err != nil {
		t.Fatalf("CreateResource failed: %v", err)
	}
	return id
}

func TestConfigureRetriesOnStaleRevision(t *testing.T) {
	engine := newFakeEngine(t)
	client := newTestClient(t, engine)
	id := seedGroup(t, client)
	engine.forceConflicts(id.Value, 1)

	retrier := NewRetrier(client, telemetry.Discard(), WithSleep(noSleep))
	rev, attempts, err := retrier.Configure(context.Background(),
		nifi.KindProcessGroup, id, &nifi.ProcessGroupComponent{Name: "retry-target"})
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
	if rev.Version != 1 {
		t.Errorf("expected new revision version 1, got %d", rev.Version)
	}

	// A fresh revision is fetched before every write: one fetch per attempt.
	if got := engine.count("fetch"); got != 2 {
		t.Errorf("expected 2 fetches, got %d", got)
	}
	if got := engine.count("write"); got != 2 {
		t.Errorf("expected 2 writes, got %d", got)
	}
}

func TestConfigureFailsFastOnNonConflict(t *testing.T) {
	engine := newFakeEngine(t)
	client := newTestClient(t, engine)
	id := seedGroup(t, client)
	engine.failWrites(id.Value, 400)

	retrier := NewRetrier(client, telemetry.Discard(), WithSleep(noSleep))
	_, attempts, err := retrier.Configure(context.Background(),
		nifi.KindProcessGroup, id, &nifi.ProcessGroupComponent{Name: "retry-target"})
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	if nifi.IsConflict(err) {
		t.Errorf("a 400 must not classify as conflict: %v", err)
	}
	if !nifi.IsPermanent(err) {
		t.Errorf("expected a permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected a single attempt, got %d", attempts)
	}
	if got := engine.count("write"); got != 1 {
		t.Errorf("expected 1 write, got %d", got)
	}
}

func TestConfigureExhaustsAttemptBudget(t *testing.T) {
	engine := newFakeEngine(t)
	client := newTestClient(t, engine)
	id := seedGroup(t, client)
	engine.forceConflicts(id.Value, 100)

	retrier := NewRetrier(client, telemetry.Discard(), WithSleep(noSleep))
	_, attempts, err := retrier.Configure(context.Background(),
		nifi.KindProcessGroup, id, &nifi.ProcessGroupComponent{Name: "retry-target"})
	if err == nil {
		t.Fatal("expected an exhaustion error, got nil")
	}
	if !nifi.IsRetryExhausted(err) {
		t.Errorf("expected a retry-exhausted error, got %v", err)
	}
	if attempts != DefaultMaxAttempts {
		t.Errorf("expected exactly %d attempts, got %d", DefaultMaxAttempts, attempts)
	}
	if got := engine.count("write"); got != DefaultMaxAttempts {
		t.Errorf("expected %d writes, got %d", DefaultMaxAttempts, got)
	}
	if got := engine.count("fetch"); got != DefaultMaxAttempts {
		t.Errorf("expected %d fetches, got %d", DefaultMaxAttempts, got)
	}
}

func TestConfigureHonorsAttemptOverride(t *testing.T) {
	engine := newFakeEngine(t)
	client := newTestClient(t, engine)
	id := seedGroup(t, client)
	engine.forceConflicts(id.Value, 100)

	retrier := NewRetrier(client, telemetry.Discard(), WithSleep(noSleep), WithMaxAttempts(2))
	_, attempts, err := retrier.Configure(context.Background(),
		nifi.KindProcessGroup, id, &nifi.ProcessGroupComponent{Name: "retry-target"})
	if !nifi.IsRetryExhausted(err) {
		t.Fatalf("expected a retry-exhausted error, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}
