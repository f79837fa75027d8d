package engine_test

import (
	"context"
	"sync"

	"github.com/poltergeist/wisp/pkg/steps"
	"github.com/poltergeist/wisp/pkg/types"
)

// fakeStep records its runs into a shared journal
type fakeStep struct {
	name     types.StepName
	disabled bool
	written  []string
	err      error
	journal  *journal
}

func (s *fakeStep) Name() types.StepName { return s.name }
func (s *fakeStep) Enabled() bool        { return !s.disabled }

func (s *fakeStep) Run(ctx context.Context) (*steps.Report, error) {
	s.journal.add(s.name)
	if s.err != nil {
		return &steps.Report{}, s.err
	}
	return &steps.Report{Written: s.written}, nil
}

type journal struct {
	mu   sync.Mutex
	runs []types.StepName
}

func (j *journal) add(name types.StepName) {
	j.mu.Lock()
	j.runs = append(j.runs, name)
	j.mu.Unlock()
}

func (j *journal) list() []types.StepName {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]types.StepName(nil), j.runs...)
}

// fakeSteps returns one fake per name sharing a journal
func fakeSteps(names ...types.StepName) ([]steps.Step, map[types.StepName]*fakeStep, *journal) {
	j := &journal{}
	list := make([]steps.Step, 0, len(names))
	byName := make(map[types.StepName]*fakeStep, len(names))
	for _, n := range names {
		s := &fakeStep{name: n, journal: j}
		list = append(list, s)
		byName[n] = s
	}
	return list, byName, j
}

func equalNames(a, b []types.StepName) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
