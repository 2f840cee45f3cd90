package flow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pipewright/pipewright/pkg/nifi"
	"github.com/pipewright/pipewright/pkg/telemetry"
)

// StepAction is the outcome of one convergence step.
type StepAction string

const (
	// ActionCreated means no resource with the step's name existed and one
	// was created.
	ActionCreated StepAction = "created"

	// ActionReused means a resource with the step's name already existed
	// and was adopted.
	ActionReused StepAction = "reused"

	// ActionSkipped means a prerequisite id never resolved, so the step was
	// not attempted.
	ActionSkipped StepAction = "skipped"

	// ActionFailed means the step was attempted and did not converge.
	ActionFailed StepAction = "failed"
)

// StepResult records the outcome of one step.
type StepResult struct {
	Key      string            `json:"key"`
	Kind     nifi.ResourceKind `json:"kind"`
	Name     string            `json:"name"`
	Action   StepAction        `json:"action"`
	ID       nifi.ResourceID   `json:"id,omitempty"`
	Revision nifi.Revision     `json:"revision,omitempty"`
	Attempts int               `json:"attempts,omitempty"`
	Duration time.Duration     `json:"duration"`
	Err      error             `json:"-"`
	Error    string            `json:"error,omitempty"`
}

// Report is the full outcome of one convergence run.
type Report struct {
	RunID    string          `json:"run_id"`
	Topology string          `json:"topology"`
	DryRun   bool            `json:"dry_run"`
	Started  time.Time       `json:"started"`
	Finished time.Time       `json:"finished"`
	Results  []StepResult    `json:"results"`
	Created  int             `json:"created"`
	Reused   int             `json:"reused"`
	Skipped  int             `json:"skipped"`
	Failures int             `json:"failures"`
	IDs      ResolvedIDs     `json:"ids"`
}

// Failed reports whether any step failed or was skipped.
func (r *Report) Failed() bool { return r.Failures > 0 || r.Skipped > 0 }

// StepObserver receives step outcomes as they happen. The run journal
// implements this to persist per-step history.
type StepObserver interface {
	ObserveStep(runID string, result StepResult)
}

// Converger executes a plan step by step: find the resource by name, create
// it only if absent, then unconditionally assert its configuration through
// the retrier. Decisions are identical in dry-run and real mode; only the
// client's transport differs.
type Converger struct {
	client   *nifi.Client
	retrier  *Retrier
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	observer StepObserver
	runID    func() string
}

// ConvergerOption customizes a Converger.
type ConvergerOption func(*Converger)

// WithMetrics attaches a metrics collector.
func WithMetrics(m *telemetry.Metrics) ConvergerOption {
	return func(c *Converger) { c.metrics = m }
}

// WithObserver attaches a per-step observer.
func WithObserver(o StepObserver) ConvergerOption {
	return func(c *Converger) { c.observer = o }
}

// WithTracing attaches a tracer emitting one span per step.
func WithTracing(t *telemetry.Tracer) ConvergerOption {
	return func(c *Converger) { c.tracer = t }
}

// WithRunID overrides run id generation. Tests inject a fixed id.
func WithRunID(gen func() string) ConvergerOption {
	return func(c *Converger) {
		if gen != nil {
			c.runID = gen
		}
	}
}

// NewConverger creates a converger over the given client and retrier.
func NewConverger(client *nifi.Client, retrier *Retrier, logger *telemetry.Logger, opts ...ConvergerOption) *Converger {
	if logger == nil {
		logger = telemetry.Discard()
	}
	c := &Converger{
		client:  client,
		retrier: retrier,
		logger:  logger.NewComponentLogger("converger"),
		runID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Converge runs every step of the plan in dependency order. A step whose
// prerequisite never resolved is skipped with a warning rather than failing
// the whole run; independent steps still execute. Re-running a converged
// plan creates nothing and reuses everything.
func (c *Converger) Converge(ctx context.Context, plan *Plan) (*Report, error) {
	report := &Report{
		RunID:    c.runID(),
		Topology: plan.Topology,
		DryRun:   c.client.DryRun(),
		Started:  time.Now(),
		IDs:      make(ResolvedIDs, len(plan.Steps)),
	}
	log := c.logger.WithRunID(report.RunID).WithField("topology", plan.Topology)
	log.Infof("converging %d steps (dry_run=%v)", len(plan.Steps), report.DryRun)

	for i := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return report, nifi.NewPermanentError("run cancelled", err)
		}
		result := c.convergeStep(ctx, &plan.Steps[i], report.IDs, log)
		c.record(report, result)
	}

	report.Finished = time.Now()
	status := "converged"
	if report.Failed() {
		status = "failed"
	}
	if c.metrics != nil {
		c.metrics.RecordRun(status, report.Finished.Sub(report.Started))
	}
	log.Infof("run %s: %d created, %d reused, %d skipped, %d failed",
		status, report.Created, report.Reused, report.Skipped, report.Failures)
	return report, nil
}

// convergeStep executes one step under a span when tracing is attached.
func (c *Converger) convergeStep(
	ctx context.Context,
	step *Step,
	ids ResolvedIDs,
	log *telemetry.Logger,
) StepResult {
	if c.tracer == nil {
		return c.runStep(ctx, step, ids, log)
	}
	spanCtx, span := c.tracer.StartStepSpan(ctx, string(step.Kind), step.Name)
	defer span.End()
	result := c.runStep(spanCtx, step, ids, log)
	if result.Err != nil {
		telemetry.RecordError(span, result.Err)
	} else {
		telemetry.RecordSuccess(span)
	}
	return result
}

// runStep executes one step and returns its result. Ids resolve into the
// shared map so later steps can substitute them.
func (c *Converger) runStep(
	ctx context.Context,
	step *Step,
	ids ResolvedIDs,
	log *telemetry.Logger,
) StepResult {
	started := time.Now()
	result := StepResult{Key: step.Key, Kind: step.Kind, Name: step.Name}
	slog := log.WithResource(string(step.Kind), step.Name)

	for _, dep := range step.DependsOn {
		if _, ok := ids[dep]; !ok {
			slog.Warnf("skipping step: dependency %s did not resolve", dep)
			result.Action = ActionSkipped
			result.Err = missingDependency(step.Kind, step.Name, dep)
			result.Error = result.Err.Error()
			result.Duration = time.Since(started)
			return result
		}
	}

	scope, err := step.Scope(ids)
	if err != nil {
		return failStep(result, err, started)
	}

	id, existed, err := c.client.FindResourceByName(ctx, step.Kind, scope, step.Name)
	if err != nil {
		return failStep(result, err, started)
	}

	if existed {
		slog.WithField("id", id.Value).Infof("reusing existing %s %q", step.Kind, step.Name)
		result.Action = ActionReused
	} else {
		component, err := step.Component(nifi.ResourceID{}, ids)
		if err != nil {
			return failStep(result, err, started)
		}
		id, _, err = c.client.CreateResource(ctx, step.Kind, scope, step.Name, component)
		if err != nil {
			return failStep(result, err, started)
		}
		slog.WithField("id", id.String()).Infof("created %s %q", step.Kind, step.Name)
		result.Action = ActionCreated
	}
	result.ID = id

	// Configuration is asserted unconditionally, created or reused, so a
	// re-run heals drift in a previously provisioned resource.
	component, err := step.Component(id, ids)
	if err != nil {
		return failStep(result, err, started)
	}
	rev, attempts, err := c.retrier.Configure(ctx, step.Kind, id, component)
	result.Attempts = attempts
	if c.metrics != nil {
		c.metrics.RecordConfigure(string(step.Kind), attempts, time.Since(started))
	}
	if err != nil {
		return failStep(result, err, started)
	}

	result.Revision = rev
	result.Duration = time.Since(started)
	ids[step.Key] = id
	return result
}

// record folds a step result into the report, metrics and observer.
func (c *Converger) record(report *Report, result StepResult) {
	report.Results = append(report.Results, result)
	switch result.Action {
	case ActionCreated:
		report.Created++
		if c.metrics != nil {
			c.metrics.RecordCreated(string(result.Kind))
		}
	case ActionReused:
		report.Reused++
		if c.metrics != nil {
			c.metrics.RecordReused(string(result.Kind))
		}
	case ActionSkipped:
		report.Skipped++
		if c.metrics != nil {
			c.metrics.RecordSkipped(string(result.Kind))
		}
	case ActionFailed:
		report.Failures++
		if c.metrics != nil {
			c.metrics.RecordFailed(string(result.Kind))
		}
	}
	if c.observer != nil {
		c.observer.ObserveStep(report.RunID, result)
	}
}

func failStep(result StepResult, err error, started time.Time) StepResult {
	result.Action = ActionFailed
	result.Err = err
	if err != nil {
		result.Error = err.Error()
	}
	result.Duration = time.Since(started)
	return result
}
