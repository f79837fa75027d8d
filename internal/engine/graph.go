package engine

import (
	"errors"
	"fmt"

	"github.com/poltergeist/wisp/pkg/steps"
	"github.com/poltergeist/wisp/pkg/types"
)

var (
	// ErrUnknownStep is returned for a step name the graph does not hold
	ErrUnknownStep = errors.New("unknown step")
	// ErrCycle is returned when the dependency edges form a cycle
	ErrCycle = errors.New("dependency cycle")
	// ErrInvalidGraph covers empty, duplicate and self-referencing definitions
	ErrInvalidGraph = errors.New("invalid step graph")
)

// Edge declares that From must complete before To starts
type Edge struct {
	From types.StepName
	To   types.StepName
}

// Graph is an immutable, validated step DAG. It is safe for concurrent reads.
type Graph struct {
	steps    []steps.Step
	index    map[types.StepName]int
	incoming [][]int // by declaration index, sorted ascending
	outgoing [][]int
}

// LinearEdges chains names in the given order
func LinearEdges(names []types.StepName) []Edge {
	if len(names) < 2 {
		return nil
	}
	edges := make([]Edge, 0, len(names)-1)
	for i := 1; i < len(names); i++ {
		edges = append(edges, Edge{From: names[i-1], To: names[i]})
	}
	return edges
}

// NewGraph builds and validates a Graph.
//
// Validation rejects:
//   - an empty step list, empty or duplicate step names
//   - edges referencing unknown steps
//   - duplicate edges and self loops
//   - any cycle (direct or indirect)
func NewGraph(list []steps.Step, edges []Edge) (*Graph, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: no steps", ErrInvalidGraph)
	}

	g := &Graph{
		steps:    make([]steps.Step, 0, len(list)),
		index:    make(map[types.StepName]int, len(list)),
		incoming: make([][]int, len(list)),
		outgoing: make([][]int, len(list)),
	}
	for _, s := range list {
		if s == nil || s.Name() == "" {
			return nil, fmt.Errorf("%w: step name is required", ErrInvalidGraph)
		}
		if _, exists := g.index[s.Name()]; exists {
			return nil, fmt.Errorf("%w: duplicate step %q", ErrInvalidGraph, s.Name())
		}
		g.index[s.Name()] = len(g.steps)
		g.steps = append(g.steps, s)
	}

	seen := make(map[Edge]bool, len(edges))
	for _, e := range edges {
		from, ok := g.index[e.From]
		if !ok {
			return nil, fmt.Errorf("%w: edge from %q", ErrUnknownStep, e.From)
		}
		to, ok := g.index[e.To]
		if !ok {
			return nil, fmt.Errorf("%w: edge to %q", ErrUnknownStep, e.To)
		}
		if from == to {
			return nil, fmt.Errorf("%w: self loop on %q", ErrInvalidGraph, e.From)
		}
		if seen[e] {
			return nil, fmt.Errorf("%w: duplicate edge %q -> %q", ErrInvalidGraph, e.From, e.To)
		}
		seen[e] = true
		g.outgoing[from] = insertSorted(g.outgoing[from], to)
		g.incoming[to] = insertSorted(g.incoming[to], from)
	}

	all := make([]bool, len(g.steps))
	for i := range all {
		all[i] = true
	}
	if _, err := g.order(all); err != nil {
		return nil, err
	}
	return g, nil
}

// Names returns the step names in declaration order
func (g *Graph) Names() []types.StepName {
	out := make([]types.StepName, len(g.steps))
	for i, s := range g.steps {
		out[i] = s.Name()
	}
	return out
}

// Step returns a step by name
func (g *Graph) Step(name types.StepName) (steps.Step, bool) {
	i, ok := g.index[name]
	if !ok {
		return nil, false
	}
	return g.steps[i], true
}

// Dependencies returns the direct prerequisites of name in declaration order
func (g *Graph) Dependencies(name types.StepName) ([]types.StepName, error) {
	i, ok := g.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStep, name)
	}
	out := make([]types.StepName, 0, len(g.incoming[i]))
	for _, p := range g.incoming[i] {
		out = append(out, g.steps[p].Name())
	}
	return out, nil
}

// Plan returns the targets together with all their transitive prerequisites
// in topological order. Steps that are ready at the same time run in
// declaration order, so a plan is deterministic.
func (g *Graph) Plan(targets ...types.StepName) ([]types.StepName, error) {
	include := make([]bool, len(g.steps))
	var stack []int
	for _, t := range targets {
		i, ok := g.index[t]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStep, t)
		}
		stack = append(stack, i)
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if include[n] {
			continue
		}
		include[n] = true
		stack = append(stack, g.incoming[n]...)
	}

	idx, err := g.order(include)
	if err != nil {
		return nil, err
	}
	out := make([]types.StepName, len(idx))
	for i, n := range idx {
		out[i] = g.steps[n].Name()
	}
	return out, nil
}

// order is Kahn's algorithm over the included nodes, always taking the
// lowest ready declaration index.
func (g *Graph) order(include []bool) ([]int, error) {
	indeg := make([]int, len(g.steps))
	total := 0
	for n := range g.steps {
		if !include[n] {
			continue
		}
		total++
		for _, p := range g.incoming[n] {
			if include[p] {
				indeg[n]++
			}
		}
	}

	var ready []int
	for n := range g.steps {
		if include[n] && indeg[n] == 0 {
			ready = append(ready, n)
		}
	}

	out := make([]int, 0, total)
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			if !include[m] {
				continue
			}
			indeg[m]--
			if indeg[m] == 0 {
				ready = insertSorted(ready, m)
			}
		}
	}

	if len(out) != total {
		var stuck []types.StepName
		for n := range g.steps {
			if include[n] && indeg[n] > 0 {
				stuck = append(stuck, g.steps[n].Name())
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrCycle, stuck)
	}
	return out, nil
}

func insertSorted(list []int, v int) []int {
	i := 0
	for i < len(list) && list[i] < v {
		i++
	}
	list = append(list, 0)
	copy(list[i+1:], list[i:])
	list[i] = v
	return list
}
