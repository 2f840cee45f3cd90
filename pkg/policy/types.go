// Package policy evaluates Rego policies against topologies before they are
// provisioned. Built-in rules guard structural safety; user rules load from
// .rego files and can be hot-reloaded.
package policy

import "time"

// Severity is the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is informational.
	SeverityInfo Severity = "info"

	// SeverityWarning should be reviewed but does not block a run.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the run in enforcing mode.
	SeverityError Severity = "error"
)

// Policy is one named Rego rule set.
type Policy struct {
	// Name uniquely identifies the policy.
	Name string `json:"name"`

	// Description is a human-readable summary.
	Description string `json:"description,omitempty"`

	// Rego is the policy source.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that do not carry
	// their own.
	Severity Severity `json:"severity"`

	// Enabled indicates whether the policy participates in evaluation.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is one policy violation.
type Violation struct {
	// Policy is the name of the violated policy.
	Policy string `json:"policy"`

	// Message is the human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity.
	Severity Severity `json:"severity"`

	// Resource names the topology element involved, if identified.
	Resource string `json:"resource,omitempty"`
}

// Result is the outcome of evaluating all policies against one topology.
type Result struct {
	// Allowed is false when any violation carries error severity.
	Allowed bool `json:"allowed"`

	// Violations lists all violations including warnings.
	Violations []Violation `json:"violations,omitempty"`

	// EvaluatedPolicies lists the policies that ran.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is the total evaluation time.
	Duration time.Duration `json:"duration"`
}

// Errors returns only the blocking violations.
func (r *Result) Errors() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityError {
			out = append(out, v)
		}
	}
	return out
}

// Warnings returns only the non-blocking violations.
func (r *Result) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity != SeverityError {
			out = append(out, v)
		}
	}
	return out
}
