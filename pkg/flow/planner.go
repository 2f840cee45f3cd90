package flow

import (
	"fmt"
	"strings"

	"github.com/pipewright/pipewright/pkg/nifi"
)

// ResolvedIDs maps step keys to the resource ids that resolved during a run.
// Synthetic ids from dry-run flow through exactly like real ones.
type ResolvedIDs map[string]nifi.ResourceID

// Step is one convergence unit: a named resource of one kind that is found
// or created in a scope and then configured. Component builders receive the
// step's own id (zero at create time) and the ids of its prerequisites.
type Step struct {
	// Key uniquely identifies the step within the plan.
	Key string

	// Kind is the resource kind the step converges.
	Kind nifi.ResourceKind

	// Name is the resource name used for the find-or-create lookup.
	Name string

	// DependsOn lists the keys of steps whose ids this step needs.
	DependsOn []string

	// Scope resolves the scope the resource lives in. The root scope is
	// constant; group-scoped steps resolve the group's id.
	Scope func(ids ResolvedIDs) (nifi.ResourceID, error)

	// Component builds the configuration payload for create and update
	// calls. Dependency ids are substituted here.
	Component func(self nifi.ResourceID, ids ResolvedIDs) (any, error)
}

// Plan is the validated, topologically ordered list of steps derived from a
// topology. Levels group steps whose prerequisites are all in earlier levels.
type Plan struct {
	Topology string
	Steps    []Step
	Levels   [][]string

	byKey map[string]*Step
}

// Planner turns a topology into an executable plan. It validates name
// references, detects dependency cycles and orders steps so every id a step
// needs was resolved by an earlier step.
type Planner struct{}

// NewPlanner creates a planner.
func NewPlanner() *Planner { return &Planner{} }

// BuildPlan validates the topology and derives its step graph.
func (p *Planner) BuildPlan(t *Topology) (*Plan, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	steps := buildSteps(t)

	order, levels, err := sortSteps(steps)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Topology: t.Name,
		Steps:    order,
		Levels:   levels,
		byKey:    make(map[string]*Step, len(order)),
	}
	for i := range plan.Steps {
		plan.byKey[plan.Steps[i].Key] = &plan.Steps[i]
	}
	return plan, nil
}

// Step returns the step with the given key, if present.
func (p *Plan) Step(key string) (*Step, bool) {
	s, ok := p.byKey[key]
	return s, ok
}

// Describe renders the plan as ordered human-readable lines, one per step.
func (p *Plan) Describe() string {
	var sb strings.Builder
	for level, keys := range p.Levels {
		for _, key := range keys {
			step := p.byKey[key]
			fmt.Fprintf(&sb, "%d. %s %q", level+1, step.Kind, step.Name)
			if len(step.DependsOn) > 0 {
				fmt.Fprintf(&sb, " (after %s)", strings.Join(step.DependsOn, ", "))
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// buildSteps derives the step set from the topology. The parameter context
// has no prerequisites; the group depends on it so the context assignment can
// carry a resolved id; everything else lives inside the group.
func buildSteps(t *Topology) []Step {
	groupKey := stepKey(nifi.KindProcessGroup, t.Group.Name)
	steps := make([]Step, 0, 2+len(t.Services)+len(t.Processors)+len(t.Connections))

	var paramKey string
	if t.Parameters.Name != "" {
		paramKey = stepKey(nifi.KindParameterContext, t.Parameters.Name)
		params := t.Parameters
		steps = append(steps, Step{
			Key:   paramKey,
			Kind:  nifi.KindParameterContext,
			Name:  params.Name,
			Scope: rootScope,
			Component: func(self nifi.ResourceID, _ ResolvedIDs) (any, error) {
				wrapped := make([]nifi.ParameterWrapper, 0, len(params.Parameters))
				for _, p := range params.Parameters {
					wrapped = append(wrapped, nifi.ParameterWrapper{Parameter: nifi.Parameter{
						Name:        p.Name,
						Description: p.Description,
						Sensitive:   p.Sensitive,
						Value:       p.Value,
					}})
				}
				return &nifi.ParameterContextComponent{
					ID:          componentID(self),
					Name:        params.Name,
					Description: params.Description,
					Parameters:  wrapped,
				}, nil
			},
		})
	}

	group := t.Group
	groupStep := Step{
		Key:   groupKey,
		Kind:  nifi.KindProcessGroup,
		Name:  group.Name,
		Scope: rootScope,
		Component: func(self nifi.ResourceID, ids ResolvedIDs) (any, error) {
			component := &nifi.ProcessGroupComponent{
				ID:       componentID(self),
				Name:     group.Name,
				Comments: group.Comments,
			}
			if paramKey != "" {
				ctxID, ok := ids[paramKey]
				if !ok {
					return nil, missingDependency(nifi.KindProcessGroup, group.Name, paramKey)
				}
				component.ParameterContext = &nifi.ParameterContextRef{ID: ctxID.Value}
			}
			return component, nil
		},
	}
	if paramKey != "" {
		groupStep.DependsOn = []string{paramKey}
	}
	steps = append(steps, groupStep)

	for _, svc := range t.Services {
		svc := svc
		steps = append(steps, Step{
			Key:       stepKey(nifi.KindControllerService, svc.Name),
			Kind:      nifi.KindControllerService,
			Name:      svc.Name,
			DependsOn: []string{groupKey},
			Scope:     groupScope(groupKey),
			Component: func(self nifi.ResourceID, _ ResolvedIDs) (any, error) {
				return &nifi.ControllerServiceComponent{
					ID:         componentID(self),
					Name:       svc.Name,
					Type:       svc.Type,
					Properties: svc.Properties,
				}, nil
			},
		})
	}

	for _, proc := range t.Processors {
		proc := proc
		deps := []string{groupKey}
		for _, value := range proc.Properties {
			if ref, ok := serviceRef(value); ok {
				deps = append(deps, stepKey(nifi.KindControllerService, ref))
			}
		}
		steps = append(steps, Step{
			Key:       stepKey(nifi.KindProcessor, proc.Name),
			Kind:      nifi.KindProcessor,
			Name:      proc.Name,
			DependsOn: deps,
			Scope:     groupScope(groupKey),
			Component: func(self nifi.ResourceID, ids ResolvedIDs) (any, error) {
				props := make(map[string]string, len(proc.Properties))
				for prop, value := range proc.Properties {
					if ref, ok := serviceRef(value); ok {
						id, found := ids[stepKey(nifi.KindControllerService, ref)]
						if !found {
							return nil, missingDependency(nifi.KindProcessor, proc.Name,
								stepKey(nifi.KindControllerService, ref))
						}
						props[prop] = id.Value
						continue
					}
					props[prop] = value
				}
				return &nifi.ProcessorComponent{
					ID:   componentID(self),
					Name: proc.Name,
					Type: proc.Type,
					Config: &nifi.ProcessorConfig{
						SchedulingPeriod:            proc.SchedulingPeriod,
						SchedulingStrategy:          proc.SchedulingStrategy,
						ExecutionNode:               proc.ExecutionNode,
						AutoTerminatedRelationships: proc.AutoTerminate,
						Properties:                  props,
						Comments:                    proc.Comments,
					},
				}, nil
			},
		})
	}

	for _, conn := range t.Connections {
		conn := conn
		srcKey := stepKey(nifi.KindProcessor, conn.Source)
		dstKey := stepKey(nifi.KindProcessor, conn.Destination)
		steps = append(steps, Step{
			Key:       stepKey(nifi.KindConnection, conn.connectionName()),
			Kind:      nifi.KindConnection,
			Name:      conn.connectionName(),
			DependsOn: []string{groupKey, srcKey, dstKey},
			Scope:     groupScope(groupKey),
			Component: func(self nifi.ResourceID, ids ResolvedIDs) (any, error) {
				groupID, ok := ids[groupKey]
				if !ok {
					return nil, missingDependency(nifi.KindConnection, conn.connectionName(), groupKey)
				}
				srcID, ok := ids[srcKey]
				if !ok {
					return nil, missingDependency(nifi.KindConnection, conn.connectionName(), srcKey)
				}
				dstID, ok := ids[dstKey]
				if !ok {
					return nil, missingDependency(nifi.KindConnection, conn.connectionName(), dstKey)
				}
				return &nifi.ConnectionComponent{
					ID:   componentID(self),
					Name: conn.connectionName(),
					Source: nifi.ConnectableRef{
						ID: srcID.Value, GroupID: groupID.Value, Type: "PROCESSOR",
					},
					Destination: nifi.ConnectableRef{
						ID: dstID.Value, GroupID: groupID.Value, Type: "PROCESSOR",
					},
					SelectedRelationships:         conn.Relationships,
					BackPressureObjectThreshold:   conn.BackPressureObjects,
					BackPressureDataSizeThreshold: conn.BackPressureSize,
				}, nil
			},
		})
	}

	return steps
}

// sortSteps validates the dependency graph, rejects cycles and unknown
// references, and orders steps by Kahn levels.
func sortSteps(steps []Step) ([]Step, [][]string, error) {
	byKey := make(map[string]*Step, len(steps))
	adjacency := make(map[string][]string, len(steps))
	inDegree := make(map[string]int, len(steps))

	for i := range steps {
		step := &steps[i]
		if _, exists := byKey[step.Key]; exists {
			return nil, nil, nifi.NewPermanentError(
				fmt.Sprintf("duplicate step key: %s", step.Key), nil).
				WithCode(nifi.CodeValidation)
		}
		byKey[step.Key] = step
		adjacency[step.Key] = nil
		inDegree[step.Key] = 0
	}

	// Iterate the slice, not the map, so edge order and therefore the final
	// within-level order is deterministic across plans of the same topology.
	for i := range steps {
		step := &steps[i]
		for _, dep := range step.DependsOn {
			if _, exists := byKey[dep]; !exists {
				return nil, nil, nifi.NewPermanentError(
					fmt.Sprintf("step %s depends on unknown step %s", step.Key, dep), nil).
					WithCode(nifi.CodeValidation)
			}
			adjacency[dep] = append(adjacency[dep], step.Key)
			inDegree[step.Key]++
		}
	}

	if cycle := findCycle(byKey, adjacency); len(cycle) > 0 {
		return nil, nil, nifi.NewPermanentError(
			fmt.Sprintf("circular dependency detected: %s", strings.Join(cycle, " -> ")), nil).
			WithCode(nifi.CodeValidation)
	}

	// Kahn's algorithm with level tracking. Steps in one level only depend
	// on earlier levels.
	current := make([]string, 0)
	for i := range steps {
		if inDegree[steps[i].Key] == 0 {
			current = append(current, steps[i].Key)
		}
	}

	var levels [][]string
	ordered := make([]Step, 0, len(steps))
	processed := 0
	for len(current) > 0 {
		levels = append(levels, current)
		next := make([]string, 0)
		for _, key := range current {
			ordered = append(ordered, *byKey[key])
			processed++
			for _, dependent := range adjacency[key] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	if processed != len(steps) {
		return nil, nil, nifi.NewPermanentError("failed to order all steps", nil).
			WithCode(nifi.CodeValidation)
	}
	return ordered, levels, nil
}

// findCycle runs DFS over the dependency graph and returns the first cycle
// path found, or nil.
func findCycle(byKey map[string]*Step, adjacency map[string][]string) []string {
	visited := make(map[string]bool, len(byKey))
	inStack := make(map[string]bool, len(byKey))

	var walk func(key string, path []string) []string
	walk = func(key string, path []string) []string {
		visited[key] = true
		inStack[key] = true
		path = append(path, key)

		for _, next := range adjacency[key] {
			if !visited[next] {
				if cycle := walk(next, path); cycle != nil {
					return cycle
				}
			} else if inStack[next] {
				for i, k := range path {
					if k == next {
						return append(path[i:], next)
					}
				}
			}
		}

		inStack[key] = false
		return nil
	}

	for key := range byKey {
		if !visited[key] {
			if cycle := walk(key, nil); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func rootScope(ResolvedIDs) (nifi.ResourceID, error) {
	return nifi.RootScope, nil
}

func groupScope(groupKey string) func(ResolvedIDs) (nifi.ResourceID, error) {
	return func(ids ResolvedIDs) (nifi.ResourceID, error) {
		id, ok := ids[groupKey]
		if !ok {
			return nifi.ResourceID{}, nifi.NewPermanentError(
				fmt.Sprintf("scope %s is not resolved", groupKey), nil).
				WithCode(nifi.CodeDependencyMissing)
		}
		return id, nil
	}
}

func componentID(self nifi.ResourceID) string {
	if self.IsZero() {
		return ""
	}
	return self.Value
}

func missingDependency(kind nifi.ResourceKind, name, dep string) error {
	return nifi.NewPermanentError(
		fmt.Sprintf("dependency %s did not resolve", dep), nil).
		WithCode(nifi.CodeDependencyMissing).WithResource(kind, name)
}
