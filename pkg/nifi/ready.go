package nifi

import (
	"context"
	"fmt"
	"time"

	"github.com/pipewright/pipewright/pkg/telemetry"
)

// ProbeFunc is an unauthenticated health probe. A nil return means the
// engine is reachable.
type ProbeFunc func(ctx context.Context) error

// Default readiness gate bounds.
const (
	DefaultReadyAttempts = 60
	DefaultReadyInterval = 5 * time.Second
)

// WaitUntilReady polls probe on a fixed interval and returns as soon as it
// succeeds. After maxAttempts unsuccessful probes it fails with a timeout
// error carrying the total elapsed time. This gate must run before
// Authenticate, which must run before any resource operation; in dry-run
// mode callers bypass it entirely.
func WaitUntilReady(
	ctx context.Context,
	probe ProbeFunc,
	maxAttempts int,
	interval time.Duration,
	logger *telemetry.Logger,
) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultReadyAttempts
	}
	if interval <= 0 {
		interval = DefaultReadyInterval
	}
	if logger == nil {
		logger = telemetry.Discard()
	}
	logger = logger.NewComponentLogger("readiness")

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return NewTimeoutError("readiness wait cancelled", time.Since(start))
		}

		lastErr = probe(ctx)
		if lastErr == nil {
			logger.WithField("attempt", attempt).Debug("engine is ready")
			return nil
		}
		logger.WithField("attempt", attempt).
			Debugf("engine not ready: %v", lastErr)

		if attempt < maxAttempts {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return NewTimeoutError("readiness wait cancelled", time.Since(start))
			}
		}
	}

	err := NewTimeoutError(
		fmt.Sprintf("engine not ready after %d probes", maxAttempts),
		time.Since(start))
	err.Err = lastErr
	return err
}
