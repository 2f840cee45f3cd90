package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/pipewright/pipewright/pkg/nifi"
	"github.com/pipewright/pipewright/pkg/telemetry"
)

// Retry defaults: a handful of quick attempts on a fixed interval. Stale
// revisions resolve on the next fetch, so backoff growth buys nothing here.
const (
	DefaultMaxAttempts   = 5
	DefaultRetryInterval = 1 * time.Second
)

// Retrier drives the fetch-then-write protocol for a single resource. Every
// attempt fetches a fresh revision immediately before writing; a revision is
// never carried across two write attempts.
type Retrier struct {
	client      *nifi.Client
	maxAttempts int
	interval    time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *telemetry.Logger
	metrics     *telemetry.Metrics
}

// RetrierOption customizes a Retrier.
type RetrierOption func(*Retrier)

// WithMaxAttempts overrides the attempt budget.
func WithMaxAttempts(n int) RetrierOption {
	return func(r *Retrier) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithRetryInterval overrides the fixed inter-attempt interval.
func WithRetryInterval(d time.Duration) RetrierOption {
	return func(r *Retrier) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithSleep replaces the inter-attempt sleep. Tests inject a no-op to run
// the retry loop without waiting.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) RetrierOption {
	return func(r *Retrier) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// WithRetryMetrics attaches a metrics collector.
func WithRetryMetrics(m *telemetry.Metrics) RetrierOption {
	return func(r *Retrier) { r.metrics = m }
}

// NewRetrier creates a retrier over the given client.
func NewRetrier(client *nifi.Client, logger *telemetry.Logger, opts ...RetrierOption) *Retrier {
	if logger == nil {
		logger = telemetry.Discard()
	}
	r := &Retrier{
		client:      client,
		maxAttempts: DefaultMaxAttempts,
		interval:    DefaultRetryInterval,
		sleep:       sleepWithContext,
		logger:      logger.NewComponentLogger("retrier"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Configure asserts the desired component configuration on an existing
// resource. Each attempt fetches the current revision and submits the write
// with it. A stale-revision rejection triggers another attempt after the
// fixed interval; any other failure aborts immediately. Exhausting the
// attempt budget returns a retry-exhausted error distinct from a
// non-retryable failure.
func (r *Retrier) Configure(
	ctx context.Context,
	kind nifi.ResourceKind,
	id nifi.ResourceID,
	component any,
) (nifi.Revision, int, error) {
	log := r.logger.WithResource(string(kind), id.Value)

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		entity, err := r.client.FetchResource(ctx, kind, id)
		if err != nil {
			return nifi.Revision{}, attempt, err
		}

		rev, err := r.client.WriteResource(ctx, kind, id, entity.Revision, component)
		if err == nil {
			if attempt > 1 {
				log.WithAttempt(attempt, r.maxAttempts).Debug("configure succeeded after retry")
			}
			return rev, attempt, nil
		}
		if !nifi.IsConflict(err) {
			return nifi.Revision{}, attempt, err
		}

		lastErr = err
		if r.metrics != nil {
			r.metrics.RecordConflict(string(kind))
		}
		log.WithAttempt(attempt, r.maxAttempts).
			Warnf("stale revision %d rejected, refetching", entity.Revision.Version)

		if attempt < r.maxAttempts {
			if err := r.sleep(ctx, r.interval); err != nil {
				return nifi.Revision{}, attempt, nifi.NewPermanentError("configure cancelled", err).
					WithResource(kind, id.Value)
			}
		}
	}

	exhausted := nifi.NewConflictError(
		fmt.Sprintf("revision conflicts persisted across %d attempts", r.maxAttempts)).
		WithCode(nifi.CodeRetryExhausted).WithResource(kind, id.Value)
	exhausted.Err = lastErr
	return nifi.Revision{}, r.maxAttempts, exhausted
}

// sleepWithContext waits for d or until the context is done.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
