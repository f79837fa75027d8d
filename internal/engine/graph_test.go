package engine_test

import (
	"errors"
	"testing"

	"github.com/poltergeist/wisp/internal/engine"
	"github.com/poltergeist/wisp/pkg/steps"
	"github.com/poltergeist/wisp/pkg/types"
)

func TestNewGraph_Validation(t *testing.T) {
	list, _, _ := fakeSteps("a", "b", "c")
	dup, _, _ := fakeSteps("a", "a")

	tests := []struct {
		name  string
		steps []steps.Step
		edges []engine.Edge
		want  error
	}{
		{"no steps", nil, nil, engine.ErrInvalidGraph},
		{"duplicate step", dup, nil, engine.ErrInvalidGraph},
		{"unknown from", list, []engine.Edge{{From: "x", To: "a"}}, engine.ErrUnknownStep},
		{"unknown to", list, []engine.Edge{{From: "a", To: "x"}}, engine.ErrUnknownStep},
		{"self loop", list, []engine.Edge{{From: "a", To: "a"}}, engine.ErrInvalidGraph},
		{"duplicate edge", list, []engine.Edge{{From: "a", To: "b"}, {From: "a", To: "b"}}, engine.ErrInvalidGraph},
		{"direct cycle", list, []engine.Edge{{From: "a", To: "b"}, {From: "b", To: "a"}}, engine.ErrCycle},
		{"indirect cycle", list, []engine.Edge{{From: "a", To: "b"}, {From: "b", To: "c"}, {From: "c", To: "a"}}, engine.ErrCycle},
		{"valid", list, []engine.Edge{{From: "a", To: "b"}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.NewGraph(tt.steps, tt.edges)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestGraph_PlanLinear(t *testing.T) {
	list, _, _ := fakeSteps(types.BuildSequence...)
	g, err := engine.NewGraph(list, engine.LinearEdges(types.BuildSequence))
	if err != nil {
		t.Fatal(err)
	}

	plan, err := g.Plan(types.StepStyles)
	if err != nil {
		t.Fatal(err)
	}
	want := []types.StepName{types.StepClean, types.StepTemplates, types.StepScripts, types.StepStyles}
	if !equalNames(plan, want) {
		t.Errorf("Plan(styles) = %v, want %v", plan, want)
	}

	full, _ := g.Plan(types.StepPublish)
	if !equalNames(full, types.BuildSequence) {
		t.Errorf("Plan(publish) = %v, want %v", full, types.BuildSequence)
	}

	if _, err := g.Plan("deploy"); !errors.Is(err, engine.ErrUnknownStep) {
		t.Errorf("expected ErrUnknownStep, got %v", err)
	}
}

func TestGraph_PlanDeclarationOrderTieBreak(t *testing.T) {
	// d depends on b and c, both depend on a; c is declared before b
	list, _, _ := fakeSteps("a", "c", "b", "d", "unrelated")
	g, err := engine.NewGraph(list, []engine.Edge{
		{From: "a", To: "b"},
		{From: "a", To: "c"},
		{From: "b", To: "d"},
		{From: "c", To: "d"},
	})
	if err != nil {
		t.Fatal(err)
	}

	plan, err := g.Plan("d")
	if err != nil {
		t.Fatal(err)
	}
	if want := []types.StepName{"a", "c", "b", "d"}; !equalNames(plan, want) {
		t.Errorf("Plan(d) = %v, want %v", plan, want)
	}

	deps, _ := g.Dependencies("d")
	if want := []types.StepName{"c", "b"}; !equalNames(deps, want) {
		t.Errorf("Dependencies(d) = %v, want %v", deps, want)
	}

	if names := g.Names(); !equalNames(names, []types.StepName{"a", "c", "b", "d", "unrelated"}) {
		t.Errorf("Names() = %v", names)
	}
}

func TestLinearEdges(t *testing.T) {
	if edges := engine.LinearEdges([]types.StepName{"only"}); edges != nil {
		t.Errorf("expected no edges, got %v", edges)
	}
	edges := engine.LinearEdges([]types.StepName{"a", "b", "c"})
	if len(edges) != 2 || edges[0] != (engine.Edge{From: "a", To: "b"}) || edges[1] != (engine.Edge{From: "b", To: "c"}) {
		t.Errorf("unexpected edges %v", edges)
	}
}
