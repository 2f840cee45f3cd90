// Package flow implements the idempotent convergence engine: it turns a
// declarative topology into an ordered plan of find-or-create steps and
// drives them against the engine with revision-aware retries.
package flow

import (
	"fmt"
	"strings"

	"github.com/pipewright/pipewright/pkg/nifi"
)

// Topology is the declarative description of one flow pattern: a process
// group, its parameter context, the controller services, processors and
// connections inside it. Resources reference each other by name; ids are
// resolved during the run.
type Topology struct {
	// Name identifies the topology in logs and the run journal.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Pattern is the pattern family (cdc, outbox, custom).
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`

	// Group is the process group that contains everything else.
	Group GroupSpec `yaml:"group" json:"group" validate:"required"`

	// Parameters is the parameter context assigned to the group.
	Parameters ParameterContextSpec `yaml:"parameters" json:"parameters"`

	// Services are the controller services created inside the group.
	Services []ControllerServiceSpec `yaml:"services,omitempty" json:"services,omitempty" validate:"dive"`

	// Processors are the processors created inside the group.
	Processors []ProcessorSpec `yaml:"processors,omitempty" json:"processors,omitempty" validate:"dive"`

	// Connections are the directed edges between processors.
	Connections []ConnectionSpec `yaml:"connections,omitempty" json:"connections,omitempty" validate:"dive"`
}

// GroupSpec describes the containing process group.
type GroupSpec struct {
	Name     string `yaml:"name" json:"name" validate:"required"`
	Comments string `yaml:"comments,omitempty" json:"comments,omitempty"`
}

// ParameterContextSpec describes the parameter context for the group.
type ParameterContextSpec struct {
	Name        string          `yaml:"name,omitempty" json:"name,omitempty"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	Parameters  []ParameterSpec `yaml:"parameters,omitempty" json:"parameters,omitempty" validate:"dive"`
}

// ParameterSpec is one key/value entry of the parameter context.
type ParameterSpec struct {
	Name        string `yaml:"name" json:"name" validate:"required"`
	Value       string `yaml:"value" json:"value"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Sensitive   bool   `yaml:"sensitive,omitempty" json:"sensitive,omitempty"`
}

// ControllerServiceSpec describes a controller service inside the group.
type ControllerServiceSpec struct {
	Name       string            `yaml:"name" json:"name" validate:"required"`
	Type       string            `yaml:"type" json:"type" validate:"required"`
	Properties map[string]string `yaml:"properties,omitempty" json:"properties,omitempty"`
}

// ProcessorSpec describes a processor inside the group. Property values
// beginning with "@" name a controller service declared in the same topology
// and are replaced with its resolved id during the run.
type ProcessorSpec struct {
	Name               string            `yaml:"name" json:"name" validate:"required"`
	Type               string            `yaml:"type" json:"type" validate:"required"`
	SchedulingPeriod   string            `yaml:"scheduling_period,omitempty" json:"scheduling_period,omitempty"`
	SchedulingStrategy string            `yaml:"scheduling_strategy,omitempty" json:"scheduling_strategy,omitempty"`
	ExecutionNode      string            `yaml:"execution_node,omitempty" json:"execution_node,omitempty"`
	AutoTerminate      []string          `yaml:"auto_terminate,omitempty" json:"auto_terminate,omitempty"`
	Properties         map[string]string `yaml:"properties,omitempty" json:"properties,omitempty"`
	Comments           string            `yaml:"comments,omitempty" json:"comments,omitempty"`
}

// ConnectionSpec describes a directed edge between two processors declared in
// the same topology, qualified by the source relationships it listens on.
type ConnectionSpec struct {
	Name          string   `yaml:"name,omitempty" json:"name,omitempty"`
	Source        string   `yaml:"source" json:"source" validate:"required"`
	Destination   string   `yaml:"destination" json:"destination" validate:"required"`
	Relationships []string `yaml:"relationships" json:"relationships" validate:"required,min=1"`

	// BackPressureObjects bounds the queued flowfile count. Zero keeps the
	// engine default.
	BackPressureObjects int64 `yaml:"back_pressure_objects,omitempty" json:"back_pressure_objects,omitempty"`

	// BackPressureSize bounds the queued data size, e.g. "1 GB".
	BackPressureSize string `yaml:"back_pressure_size,omitempty" json:"back_pressure_size,omitempty"`
}

// serviceRefPrefix marks a processor property value that names a controller
// service to be resolved to its id.
const serviceRefPrefix = "@"

// serviceRef extracts the controller service name from a property value, if
// the value is a service reference.
func serviceRef(value string) (string, bool) {
	if strings.HasPrefix(value, serviceRefPrefix) {
		return strings.TrimPrefix(value, serviceRefPrefix), true
	}
	return "", false
}

// stepKey is the stable identity of a convergence step within a plan.
func stepKey(kind nifi.ResourceKind, name string) string {
	return fmt.Sprintf("%s/%s", kind, name)
}

// Validate checks internal consistency: connection endpoints and service
// references must name resources declared in the same topology, and names
// must be unique per kind.
func (t *Topology) Validate() error {
	if t.Name == "" {
		return nifi.NewPermanentError("topology name is required", nil).
			WithCode(nifi.CodeValidation)
	}
	if t.Group.Name == "" {
		return nifi.NewPermanentError("topology group name is required", nil).
			WithCode(nifi.CodeValidation)
	}

	services := make(map[string]bool, len(t.Services))
	for _, svc := range t.Services {
		if services[svc.Name] {
			return nifi.NewPermanentError(
				fmt.Sprintf("duplicate controller service name: %s", svc.Name), nil).
				WithCode(nifi.CodeValidation)
		}
		services[svc.Name] = true
	}

	processors := make(map[string]bool, len(t.Processors))
	for _, proc := range t.Processors {
		if processors[proc.Name] {
			return nifi.NewPermanentError(
				fmt.Sprintf("duplicate processor name: %s", proc.Name), nil).
				WithCode(nifi.CodeValidation)
		}
		processors[proc.Name] = true

		for prop, value := range proc.Properties {
			if ref, ok := serviceRef(value); ok && !services[ref] {
				return nifi.NewPermanentError(
					fmt.Sprintf("processor %s property %s references undeclared controller service %s",
						proc.Name, prop, ref), nil).
					WithCode(nifi.CodeValidation)
			}
		}
	}

	for _, conn := range t.Connections {
		if !processors[conn.Source] {
			return nifi.NewPermanentError(
				fmt.Sprintf("connection references undeclared source processor: %s", conn.Source), nil).
				WithCode(nifi.CodeValidation)
		}
		if !processors[conn.Destination] {
			return nifi.NewPermanentError(
				fmt.Sprintf("connection references undeclared destination processor: %s", conn.Destination), nil).
				WithCode(nifi.CodeValidation)
		}
	}

	return nil
}

// connectionName derives the stable name of a connection step.
func (c *ConnectionSpec) connectionName() string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("%s-to-%s", c.Source, c.Destination)
}
