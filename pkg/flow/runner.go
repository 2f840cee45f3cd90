package flow

import (
	"context"
	"time"

	"github.com/pipewright/pipewright/pkg/nifi"
	"github.com/pipewright/pipewright/pkg/telemetry"
)

// Gate is a pre-run check that must pass before any resource operation. The
// database preflight and the policy evaluation plug in here.
type Gate func(ctx context.Context) error

// Runner sequences one complete run: readiness gate, authentication, the
// configured pre-run gates, planning, convergence. In dry-run mode the
// readiness gate is bypassed since no live engine is assumed.
type Runner struct {
	client        *nifi.Client
	planner       *Planner
	converger     *Converger
	logger        *telemetry.Logger
	tracer        *telemetry.Tracer
	gates         []Gate
	readyAttempts int
	readyInterval time.Duration
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithGates appends pre-run gates, executed in order after authentication.
func WithGates(gates ...Gate) RunnerOption {
	return func(r *Runner) { r.gates = append(r.gates, gates...) }
}

// WithReadiness overrides the readiness gate bounds.
func WithReadiness(maxAttempts int, interval time.Duration) RunnerOption {
	return func(r *Runner) {
		r.readyAttempts = maxAttempts
		r.readyInterval = interval
	}
}

// WithTracer attaches a tracer for run and step spans.
func WithTracer(t *telemetry.Tracer) RunnerOption {
	return func(r *Runner) { r.tracer = t }
}

// NewRunner creates a runner over the given client and converger.
func NewRunner(client *nifi.Client, converger *Converger, logger *telemetry.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = telemetry.Discard()
	}
	r := &Runner{
		client:        client,
		planner:       NewPlanner(),
		converger:     converger,
		logger:        logger.NewComponentLogger("runner"),
		readyAttempts: nifi.DefaultReadyAttempts,
		readyInterval: nifi.DefaultReadyInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Plan validates the topology and returns its ordered step plan without
// touching the engine.
func (r *Runner) Plan(t *Topology) (*Plan, error) {
	return r.planner.BuildPlan(t)
}

// Run provisions the topology end to end and returns the report. The report
// is returned even on failure so callers can render partial outcomes.
func (r *Runner) Run(ctx context.Context, t *Topology) (*Report, error) {
	plan, err := r.planner.BuildPlan(t)
	if err != nil {
		return nil, err
	}

	if !r.client.DryRun() {
		if err := nifi.WaitUntilReady(ctx, r.client.Probe,
			r.readyAttempts, r.readyInterval, r.logger); err != nil {
			return nil, err
		}
	} else {
		r.logger.Debug("dry-run: bypassing readiness gate")
	}

	if _, err := r.client.Authenticate(ctx); err != nil {
		return nil, err
	}

	for _, gate := range r.gates {
		if err := gate(ctx); err != nil {
			return nil, err
		}
	}

	if r.tracer != nil {
		spanCtx, span := r.tracer.StartRunSpan(ctx, plan.Topology, r.client.DryRun())
		defer span.End()
		report, err := r.converger.Converge(spanCtx, plan)
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		return report, err
	}
	return r.converger.Converge(ctx, plan)
}
