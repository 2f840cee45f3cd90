package nifi

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ResourceKind identifies the kind of a remote flow-engine object.
type ResourceKind string

const (
	// KindProcessGroup is a named container for related resources.
	KindProcessGroup ResourceKind = "process-group"

	// KindParameterContext is a reusable set of key/value parameters.
	KindParameterContext ResourceKind = "parameter-context"

	// KindControllerService is a shared service referenced by processors.
	KindControllerService ResourceKind = "controller-service"

	// KindProcessor is a configured unit of work within a process group.
	KindProcessor ResourceKind = "processor"

	// KindConnection is a directed edge between two processors.
	KindConnection ResourceKind = "connection"
)

// Validate checks that the kind is one of the known resource kinds.
func (k ResourceKind) Validate() error {
	switch k {
	case KindProcessGroup, KindParameterContext, KindControllerService,
		KindProcessor, KindConnection:
		return nil
	}
	return NewPermanentError(fmt.Sprintf("unknown resource kind: %s", k), nil).
		WithCode(CodeValidation)
}

// ResourceID is the identity of a remote resource. Real ids are issued by
// the engine; synthetic ids are generated locally in dry-run mode and are
// accepted everywhere a real id is, so downstream steps never branch on mode.
type ResourceID struct {
	// Value is the opaque id string.
	Value string `json:"value"`

	// Synthetic is true when the id was generated locally in dry-run mode.
	Synthetic bool `json:"synthetic,omitempty"`
}

// RealID wraps a server-issued id.
func RealID(v string) ResourceID { return ResourceID{Value: v} }

// SyntheticID wraps a locally generated dry-run id.
func SyntheticID(v string) ResourceID { return ResourceID{Value: v, Synthetic: true} }

// RootScope is the id alias for the root canvas scope.
var RootScope = RealID("root")

// IsZero reports whether the id is unset.
func (r ResourceID) IsZero() bool { return r.Value == "" }

// String renders the id, marking synthetic ids for log output.
func (r ResourceID) String() string {
	if r.Synthetic {
		return r.Value + " (synthetic)"
	}
	return r.Value
}

// Revision is the optimistic-concurrency stamp attached to every mutable
// resource. A write is accepted only if the submitted version equals the
// resource's current version; every accepted write increments it by one.
type Revision struct {
	// Version is the monotonically increasing version number.
	Version int64 `json:"version"`

	// ClientID is the optional session/client identifier.
	ClientID string `json:"clientId,omitempty"`
}

// ResourceEntity is the generic wire shape of a fetched resource:
// an id, its current revision, and the kind-specific component payload.
type ResourceEntity struct {
	ID        string          `json:"id"`
	Revision  Revision        `json:"revision"`
	Component json.RawMessage `json:"component,omitempty"`
}

// entityEnvelope is the wire shape for create and update calls.
type entityEnvelope struct {
	Revision  Revision `json:"revision"`
	Component any      `json:"component"`
}

// listedEntity is the minimal shape of a list-endpoint element used for
// exact-match name lookup.
type listedEntity struct {
	ID        string `json:"id"`
	Component struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"component"`
}

// Position places a component on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ParameterContextRef references a parameter context by id.
type ParameterContextRef struct {
	ID string `json:"id"`
}

// ProcessGroupComponent is the component payload for a process group.
type ProcessGroupComponent struct {
	ID               string               `json:"id,omitempty"`
	Name             string               `json:"name"`
	Position         *Position            `json:"position,omitempty"`
	ParameterContext *ParameterContextRef `json:"parameterContext,omitempty"`
	Comments         string               `json:"comments,omitempty"`
}

// Parameter is a single key/value entry of a parameter context.
type Parameter struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Sensitive   bool   `json:"sensitive"`
	Value       string `json:"value"`
}

// ParameterWrapper is the engine's nesting of a parameter entry.
type ParameterWrapper struct {
	Parameter Parameter `json:"parameter"`
}

// ParameterContextComponent is the component payload for a parameter context.
type ParameterContextComponent struct {
	ID          string             `json:"id,omitempty"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Parameters  []ParameterWrapper `json:"parameters"`
}

// ControllerServiceComponent is the component payload for a controller
// service, e.g. a database connection pool.
type ControllerServiceComponent struct {
	ID         string            `json:"id,omitempty"`
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Properties map[string]string `json:"properties,omitempty"`
	Comments   string            `json:"comments,omitempty"`
}

// ProcessorConfig carries scheduling, error routing and the opaque property
// mapping of a processor. The client transports it atomically with a
// revision and never interprets the values.
type ProcessorConfig struct {
	SchedulingPeriod            string            `json:"schedulingPeriod,omitempty"`
	SchedulingStrategy          string            `json:"schedulingStrategy,omitempty"`
	ExecutionNode               string            `json:"executionNode,omitempty"`
	PenaltyDuration             string            `json:"penaltyDuration,omitempty"`
	YieldDuration               string            `json:"yieldDuration,omitempty"`
	AutoTerminatedRelationships []string          `json:"autoTerminatedRelationships,omitempty"`
	Properties                  map[string]string `json:"properties,omitempty"`
	Comments                    string            `json:"comments,omitempty"`
}

// ProcessorComponent is the component payload for a processor.
type ProcessorComponent struct {
	ID       string           `json:"id,omitempty"`
	Name     string           `json:"name"`
	Type     string           `json:"type,omitempty"`
	Position *Position        `json:"position,omitempty"`
	Config   *ProcessorConfig `json:"config,omitempty"`
}

// ConnectableRef identifies one endpoint of a connection.
type ConnectableRef struct {
	ID      string `json:"id"`
	GroupID string `json:"groupId"`
	Type    string `json:"type"`
}

// ConnectionComponent is the component payload for a connection between two
// processors, qualified by the source relationships it listens on.
type ConnectionComponent struct {
	ID                            string         `json:"id,omitempty"`
	Name                          string         `json:"name,omitempty"`
	Source                        ConnectableRef `json:"source"`
	Destination                   ConnectableRef `json:"destination"`
	SelectedRelationships         []string       `json:"selectedRelationships"`
	BackPressureObjectThreshold   int64          `json:"backPressureObjectThreshold,omitempty"`
	BackPressureDataSizeThreshold string         `json:"backPressureDataSizeThreshold,omitempty"`
}

// slug converts a resource name to the token used in synthetic ids.
func slug(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "-"))
}
