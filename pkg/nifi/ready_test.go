package nifi

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWaitUntilReadySucceedsMidway(t *testing.T) {
	attempts := 0
	probe := func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	}

	err := WaitUntilReady(context.Background(), probe, 5, time.Millisecond, nil)
	if err != nil {
		t.Fatalf("WaitUntilReady failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 probes, got %d", attempts)
	}
}

func TestWaitUntilReadyExhaustsAttempts(t *testing.T) {
	attempts := 0
	probeErr := errors.New("connection refused")
	probe := func(context.Context) error {
		attempts++
		return probeErr
	}

	err := WaitUntilReady(context.Background(), probe, 4, time.Millisecond, nil)
	if err == nil {
		t.Fatal("expected a timeout error, got nil")
	}
	if !IsTimeout(err) {
		t.Errorf("expected a timeout classification, got %v", err)
	}
	if attempts != 4 {
		t.Errorf("expected exactly 4 probes, got %d", attempts)
	}

	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if cerr.Elapsed <= 0 {
		t.Error("timeout error must carry the elapsed wait")
	}
	if !errors.Is(err, probeErr) {
		t.Error("timeout error must wrap the last probe failure")
	}
}

func TestWaitUntilReadyHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	probe := func(context.Context) error {
		cancel()
		return errors.New("not yet")
	}

	err := WaitUntilReady(ctx, probe, 100, time.Hour, nil)
	if err == nil {
		t.Fatal("expected an error after cancellation, got nil")
	}
	if !IsTimeout(err) {
		t.Errorf("expected a timeout classification, got %v", err)
	}
}
