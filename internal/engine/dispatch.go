package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/poltergeist/wisp/pkg/logger"
	"github.com/poltergeist/wisp/pkg/types"
	"github.com/poltergeist/wisp/pkg/utils"
)

// Rule maps a watch pattern, relative to the project root, to the step it triggers
type Rule struct {
	Pattern string
	Step    types.StepName
}

// RulesFromConfig builds the watch table: templates, scripts, stylesheets, images
func RulesFromConfig(cfg *types.Config) []Rule {
	w := cfg.Paths.Watch
	candidates := []Rule{
		{Pattern: w.Templates, Step: types.StepTemplates},
		{Pattern: w.JS, Step: types.StepScripts},
		{Pattern: w.Style, Step: types.StepStyles},
		{Pattern: w.Img, Step: types.StepImages},
	}
	rules := make([]Rule, 0, len(candidates))
	for _, r := range candidates {
		if r.Pattern != "" {
			rules = append(rules, r)
		}
	}
	return rules
}

// Phase is the watch-mode state of one step
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseRebuilding Phase = "rebuilding"
)

type compiledRule struct {
	Rule
	matcher *utils.PatternMatcher
}

// stepState tracks one step in watch mode. Events that arrive while the step
// is rebuilding set pending, which buys exactly one more run.
type stepState struct {
	rebuilding bool
	pending    bool
	failed     bool
}

// Dispatcher turns changed paths into single-step rebuilds
type Dispatcher struct {
	rules    []compiledRule
	runner   StepRunner
	notifier StepNotifier
	logger   logger.Logger

	mu     sync.Mutex
	states map[types.StepName]*stepState
	wg     sync.WaitGroup
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithNotifier sends desktop notifications for failures and recoveries
func WithNotifier(n StepNotifier) DispatcherOption {
	return func(d *Dispatcher) { d.notifier = n }
}

// NewDispatcher validates every rule pattern up front
func NewDispatcher(rules []Rule, runner StepRunner, log logger.Logger, opts ...DispatcherOption) (*Dispatcher, error) {
	if log == nil {
		log = logger.Discard()
	}
	d := &Dispatcher{
		runner: runner,
		logger: log,
		states: make(map[types.StepName]*stepState),
	}
	for _, r := range rules {
		m, err := utils.NewPatternMatcher([]string{r.Pattern})
		if err != nil {
			return nil, fmt.Errorf("watch rule for %s: %w", r.Step, err)
		}
		d.rules = append(d.rules, compiledRule{Rule: r, matcher: m})
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Rules returns the rule table in evaluation order
func (d *Dispatcher) Rules() []Rule {
	out := make([]Rule, len(d.rules))
	for i, r := range d.rules {
		out[i] = r.Rule
	}
	return out
}

// Match returns every step whose pattern matches rel, once each, in rule order
func (d *Dispatcher) Match(rel string) []types.StepName {
	rel = filepath.ToSlash(rel)
	var out []types.StepName
	seen := make(map[types.StepName]bool)
	for _, r := range d.rules {
		if seen[r.Step] || !r.matcher.Match(rel) {
			continue
		}
		seen[r.Step] = true
		out = append(out, r.Step)
	}
	return out
}

// Dispatch triggers every step matching the changed paths, once per step
func (d *Dispatcher) Dispatch(ctx context.Context, paths ...string) []types.StepName {
	rels := make([]string, len(paths))
	for i, p := range paths {
		rels[i] = filepath.ToSlash(p)
	}

	var triggered []types.StepName
	seen := make(map[types.StepName]bool)
	for _, r := range d.rules {
		if seen[r.Step] {
			continue
		}
		matched := r.matcher.GetMatchingPaths(rels)
		if len(matched) == 0 {
			continue
		}
		seen[r.Step] = true
		triggered = append(triggered, r.Step)
		d.logger.Debug("Change triggers step",
			logger.WithField("step", r.Step),
			logger.WithField("files", len(matched)))
	}
	for _, step := range triggered {
		d.Trigger(ctx, step)
	}
	return triggered
}

// Trigger starts step unless it is already rebuilding, in which case one
// follow-up run is queued. Different steps run concurrently.
func (d *Dispatcher) Trigger(ctx context.Context, step types.StepName) {
	d.mu.Lock()
	st := d.state(step)
	if st.rebuilding {
		st.pending = true
		d.mu.Unlock()
		return
	}
	st.rebuilding = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.rebuild(ctx, step)
}

// Phase reports whether step is idle or rebuilding
func (d *Dispatcher) Phase(step types.StepName) Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.states[step]; ok && st.rebuilding {
		return PhaseRebuilding
	}
	return PhaseIdle
}

// Wait blocks until no step is rebuilding
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) rebuild(ctx context.Context, step types.StepName) {
	defer d.wg.Done()

	for {
		result, err := d.runner.RunStep(ctx, step)
		d.report(step, result, err)

		d.mu.Lock()
		st := d.state(step)
		if st.pending && ctx.Err() == nil {
			st.pending = false
			d.mu.Unlock()
			continue
		}
		st.pending = false
		st.rebuilding = false
		d.mu.Unlock()
		return
	}
}

// report keeps watch mode alive on failure; errors were already logged by the runner
func (d *Dispatcher) report(step types.StepName, result types.StepResult, err error) {
	d.mu.Lock()
	st := d.state(step)
	recovered := err == nil && st.failed
	st.failed = err != nil
	d.mu.Unlock()

	if d.notifier == nil {
		return
	}
	switch {
	case err != nil:
		d.notifier.NotifyStepFailure(string(step), err)
	case recovered:
		d.notifier.NotifyStepSuccess(string(step), result.Duration)
	}
}

func (d *Dispatcher) state(step types.StepName) *stepState {
	st, ok := d.states[step]
	if !ok {
		st = &stepState{}
		d.states[step] = st
	}
	return st
}
