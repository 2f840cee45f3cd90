package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"

	"github.com/pipewright/pipewright/pkg/flow"
	"github.com/pipewright/pipewright/pkg/telemetry"
)

// Engine compiles and evaluates policies against topologies.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   *telemetry.Logger
}

type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	compiled time.Time
}

// NewEngine creates a policy engine preloaded with the built-in rules.
func NewEngine(logger *telemetry.Logger) (*Engine, error) {
	if logger == nil {
		logger = telemetry.Discard()
	}
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.NewComponentLogger("policy-engine"),
	}
	for _, builtin := range BuiltinPolicies() {
		builtin := builtin
		if err := e.compile(&builtin); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtin.Name, err)
		}
	}
	return e, nil
}

// LoadPolicies loads and compiles user policies from file or directory paths.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	for i := range policies {
		if err := e.compile(&policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}
	e.logger.Infof("loaded %d user policies", len(policies))
	return nil
}

// WatchPolicies reloads user policies whenever a .rego file under one of the
// paths changes, then invokes onReload. It blocks until the context is done.
func (e *Engine) WatchPolicies(ctx context.Context, paths []string, onReload func()) error {
	loader := NewLoader(e.logger)
	return loader.Watch(ctx, paths, func() {
		if err := e.LoadPolicies(ctx, paths); err != nil {
			e.logger.WithError(err).Warn("policy reload failed")
			return
		}
		if onReload != nil {
			onReload()
		}
	})
}

// compile parses and registers one policy.
func (e *Engine) compile(policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		compiled: time.Now(),
	}
	return nil
}

// EvaluateTopology evaluates every enabled policy against the topology. The
// topology is exposed to the rules as input.topology.
func (e *Engine) EvaluateTopology(ctx context.Context, topology *flow.Topology) (*Result, error) {
	started := time.Now()

	input, err := topologyInput(topology)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	compiled := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		if cp.policy.Enabled {
			compiled = append(compiled, cp)
		}
	}
	e.mu.RUnlock()

	result := &Result{Allowed: true}
	for _, cp := range compiled {
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, cp.policy.Name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			return nil, fmt.Errorf("policy %s evaluation failed: %w", cp.policy.Name, err)
		}
		result.Violations = append(result.Violations, violations...)
	}

	for _, v := range result.Violations {
		if v.Severity == SeverityError {
			result.Allowed = false
			break
		}
	}
	result.Duration = time.Since(started)

	e.logger.WithField("topology", topology.Name).
		Debugf("evaluated %d policies: %d violations",
			len(result.EvaluatedPolicies), len(result.Violations))
	return result, nil
}

// evaluatePolicy queries the policy's deny set against the input document.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input map[string]any) ([]Violation, error) {
	query := fmt.Sprintf("data.%s.deny", cp.module.Package.Path.String()[len("data."):])

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Query(query),
		rego.Input(input),
	)
	results, err := r.Eval(ctx)
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, res := range results {
		for _, expr := range res.Expressions {
			denySet, ok := expr.Value.([]any)
			if !ok {
				continue
			}
			for _, entry := range denySet {
				violations = append(violations, e.toViolation(cp.policy, entry))
			}
		}
	}
	return violations, nil
}

// toViolation normalizes one deny entry. Entries may be plain message
// strings or objects carrying message, severity and resource fields.
func (e *Engine) toViolation(policy *Policy, entry any) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}
	switch v := entry.(type) {
	case string:
		violation.Message = v
	case map[string]any:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if res, ok := v["resource"].(string); ok {
			violation.Resource = res
		}
	default:
		violation.Message = fmt.Sprintf("%v", entry)
	}
	return violation
}

// ListPolicies returns all registered policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		out = append(out, *cp.policy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Gate adapts the engine to a pre-run gate: it fails when the topology
// violates any blocking policy. In advisory mode violations only log.
func (e *Engine) Gate(topology *flow.Topology, enforcing bool) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		result, err := e.EvaluateTopology(ctx, topology)
		if err != nil {
			return err
		}
		for _, v := range result.Warnings() {
			e.logger.WithField("policy", v.Policy).Warnf("policy warning: %s", v.Message)
		}
		if result.Allowed {
			return nil
		}

		errs := result.Errors()
		for _, v := range errs {
			e.logger.WithField("policy", v.Policy).Errorf("policy violation: %s", v.Message)
		}
		if !enforcing {
			e.logger.Warnf("advisory mode: continuing despite %d violations", len(errs))
			return nil
		}

		messages := make([]string, 0, len(errs))
		for _, v := range errs {
			messages = append(messages, fmt.Sprintf("%s: %s", v.Policy, v.Message))
		}
		return fmt.Errorf("topology rejected by policy: %s", strings.Join(messages, "; "))
	}
}

// topologyInput converts the topology into the policy input document.
func topologyInput(topology *flow.Topology) (map[string]any, error) {
	data, err := json.Marshal(topology)
	if err != nil {
		return nil, fmt.Errorf("failed to encode topology: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode topology: %w", err)
	}
	return map[string]any{"topology": doc}, nil
}
