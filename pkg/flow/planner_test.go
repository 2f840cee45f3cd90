package flow

import (
	"strings"
	"testing"

	"github.com/pipewright/pipewright/pkg/nifi"
)

func TestBuildPlanOrdersDependencies(t *testing.T) {
	plan, err := NewPlanner().BuildPlan(CDCTopology())
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}

	order := make(map[string]int, len(plan.Steps))
	for i, step := range plan.Steps {
		order[step.Key] = i
	}

	before := func(a, b string) {
		t.Helper()
		ai, ok := order[a]
		if !ok {
			t.Fatalf("step %s missing from plan", a)
		}
		bi, ok := order[b]
		if !ok {
			t.Fatalf("step %s missing from plan", b)
		}
		if ai >= bi {
			t.Errorf("expected %s before %s, got positions %d and %d", a, b, ai, bi)
		}
	}

	paramKey := stepKey(nifi.KindParameterContext, "cdc-parameters")
	groupKey := stepKey(nifi.KindProcessGroup, "cdc-replication")
	serviceKey := stepKey(nifi.KindControllerService, "cdc-db-pool")
	pollKey := stepKey(nifi.KindProcessor, "poll-replication-slot")
	routeKey := stepKey(nifi.KindProcessor, "route-change-events")
	connKey := stepKey(nifi.KindConnection, "poll-replication-slot-to-route-change-events")

	before(paramKey, groupKey)
	before(groupKey, serviceKey)
	before(groupKey, routeKey)
	before(serviceKey, pollKey)
	before(pollKey, connKey)
	before(routeKey, connKey)

	if len(plan.Steps) != 6 {
		t.Errorf("expected 6 steps, got %d", len(plan.Steps))
	}
	if len(plan.Levels) == 0 || len(plan.Levels[0]) != 1 || plan.Levels[0][0] != paramKey {
		t.Errorf("expected the parameter context alone in the first level, got %v", plan.Levels)
	}
}

func TestBuildPlanRejectsInvalidTopologies(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(t *Topology)
		wantText string
	}{
		{
			name: "unknown connection source",
			mutate: func(top *Topology) {
				top.Connections[0].Source = "no-such-processor"
			},
			wantText: "undeclared source processor",
		},
		{
			name: "unknown connection destination",
			mutate: func(top *Topology) {
				top.Connections[0].Destination = "no-such-processor"
			},
			wantText: "undeclared destination processor",
		},
		{
			name: "duplicate processor name",
			mutate: func(top *Topology) {
				top.Processors = append(top.Processors, top.Processors[0])
			},
			wantText: "duplicate processor name",
		},
		{
			name: "undeclared service reference",
			mutate: func(top *Topology) {
				top.Processors[0].Properties["Database Connection Pooling Service"] = "@missing-pool"
			},
			wantText: "undeclared controller service",
		},
		{
			name: "missing group name",
			mutate: func(top *Topology) {
				top.Group.Name = ""
			},
			wantText: "group name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			top := CDCTopology()
			tt.mutate(top)

			_, err := NewPlanner().BuildPlan(top)
			if err == nil {
				t.Fatal("expected a validation error, got nil")
			}
			if !nifi.IsPermanent(err) {
				t.Errorf("expected a permanent error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantText) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantText)
			}
		})
	}
}

func TestSortStepsDetectsCycle(t *testing.T) {
	steps := []Step{
		{Key: "a", DependsOn: []string{"b"}},
		{Key: "b", DependsOn: []string{"a"}},
	}

	_, _, err := sortSteps(steps)
	if err == nil {
		t.Fatal("expected a cycle error, got nil")
	}
	if !strings.Contains(err.Error(), "circular dependency") {
		t.Errorf("error %q does not mention the cycle", err.Error())
	}
}

func TestSortStepsRejectsUnknownDependency(t *testing.T) {
	steps := []Step{{Key: "a", DependsOn: []string{"ghost"}}}

	_, _, err := sortSteps(steps)
	if err == nil {
		t.Fatal("expected an error for the unknown dependency, got nil")
	}
	if !strings.Contains(err.Error(), "unknown step") {
		t.Errorf("error %q does not mention the unknown step", err.Error())
	}
}

func TestPlanDescribeListsEveryStep(t *testing.T) {
	plan, err := NewPlanner().BuildPlan(OutboxTopology())
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}

	out := plan.Describe()
	for _, step := range plan.Steps {
		if !strings.Contains(out, step.Name) {
			t.Errorf("Describe output missing step %q:\n%s", step.Name, out)
		}
	}
}
