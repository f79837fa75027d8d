package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/poltergeist/wisp/internal/engine"
	"github.com/poltergeist/wisp/pkg/config"
	"github.com/poltergeist/wisp/pkg/logger"
	"github.com/poltergeist/wisp/pkg/types"
)

// countingRunner counts RunStep calls; with a gate, every run blocks until the gate closes
type countingRunner struct {
	mu      sync.Mutex
	runs    map[types.StepName]int
	fail    map[types.StepName]error
	gate    chan struct{}
	started chan types.StepName
}

func newCountingRunner() *countingRunner {
	return &countingRunner{
		runs:    make(map[types.StepName]int),
		fail:    make(map[types.StepName]error),
		started: make(chan types.StepName, 16),
	}
}

func (r *countingRunner) RunStep(ctx context.Context, name types.StepName) (types.StepResult, error) {
	r.mu.Lock()
	r.runs[name]++
	err := r.fail[name]
	r.mu.Unlock()

	r.started <- name
	if r.gate != nil {
		<-r.gate
	}
	if err != nil {
		return types.StepResult{Step: name, Status: types.StepStatusFailed}, err
	}
	return types.StepResult{Step: name, Status: types.StepStatusSucceeded}, nil
}

func (r *countingRunner) count(name types.StepName) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[name]
}

func (r *countingRunner) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.runs {
		n += c
	}
	return n
}

type recordingNotifier struct {
	mu        sync.Mutex
	failures  []string
	successes []string
}

func (n *recordingNotifier) NotifyStepSuccess(step string, d time.Duration) {
	n.mu.Lock()
	n.successes = append(n.successes, step)
	n.mu.Unlock()
}

func (n *recordingNotifier) NotifyStepFailure(step string, err error) {
	n.mu.Lock()
	n.failures = append(n.failures, step)
	n.mu.Unlock()
}

func defaultDispatcher(t *testing.T, runner engine.StepRunner, opts ...engine.DispatcherOption) *engine.Dispatcher {
	t.Helper()
	cfg := config.NewManager().GetDefaultConfig()
	d, err := engine.NewDispatcher(engine.RulesFromConfig(cfg), runner, logger.Discard(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func waitStarted(t *testing.T, r *countingRunner) types.StepName {
	t.Helper()
	select {
	case name := <-r.started:
		return name
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a step to start")
		return ""
	}
}

func TestDispatcher_Match(t *testing.T) {
	d := defaultDispatcher(t, newCountingRunner())

	tests := []struct {
		path string
		want []types.StepName
	}{
		{"src/styles/style.less", []types.StepName{types.StepStyles}},
		{"src/styles/partials/_grid.less", []types.StepName{types.StepStyles}},
		{"src/styles/vendor/reset.css", []types.StepName{types.StepStyles}},
		{"src/templates/index.html", []types.StepName{types.StepTemplates}},
		{"src/templates/blog/post.md", []types.StepName{types.StepTemplates}},
		{"src/js/custom.js", []types.StepName{types.StepScripts}},
		{"src/img/icons/logo.svg", []types.StepName{types.StepImages}},
		{"src/styles/notes.txt", nil},
		{"README.md", nil},
		{"build/css/style.css", nil},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := d.Match(tt.path); !equalNames(got, tt.want) {
				t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestDispatcher_OverlappingRules(t *testing.T) {
	rules := []engine.Rule{
		{Pattern: "src/**/*.svg", Step: types.StepImages},
		{Pattern: "src/templates/**/*", Step: types.StepTemplates},
		{Pattern: "src/templates/**/*.svg", Step: types.StepImages},
	}
	d, err := engine.NewDispatcher(rules, newCountingRunner(), nil)
	if err != nil {
		t.Fatal(err)
	}
	got := d.Match("src/templates/inline.svg")
	if want := []types.StepName{types.StepImages, types.StepTemplates}; !equalNames(got, want) {
		t.Errorf("Match() = %v, want %v", got, want)
	}
}

func TestDispatcher_InvalidPattern(t *testing.T) {
	_, err := engine.NewDispatcher([]engine.Rule{{Pattern: "src/[", Step: types.StepStyles}}, newCountingRunner(), nil)
	if err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestDispatcher_StylesheetChangeRunsOnlyStylesheets(t *testing.T) {
	runner := newCountingRunner()
	d := defaultDispatcher(t, runner)

	triggered := d.Dispatch(context.Background(), "src/styles/partials/_buttons.less")
	d.Wait()

	if !equalNames(triggered, []types.StepName{types.StepStyles}) {
		t.Errorf("triggered %v", triggered)
	}
	if runner.count(types.StepStyles) != 1 {
		t.Errorf("stylesheet runs = %d, want 1", runner.count(types.StepStyles))
	}
	if runner.total() != 1 {
		t.Errorf("expected no other step to run, total runs = %d", runner.total())
	}
	if d.Phase(types.StepStyles) != engine.PhaseIdle {
		t.Error("step should be idle after its run")
	}
}

func TestDispatcher_BatchTriggersEachStepOnce(t *testing.T) {
	runner := newCountingRunner()
	d := defaultDispatcher(t, runner)

	d.Dispatch(context.Background(), "src/styles/a.less", "src/styles/b.less", "src/img/x.png")
	d.Wait()

	if runner.count(types.StepStyles) != 1 || runner.count(types.StepImages) != 1 {
		t.Errorf("unexpected runs %v", runner.runs)
	}
}

func TestDispatcher_CoalescesWhileRebuilding(t *testing.T) {
	runner := newCountingRunner()
	runner.gate = make(chan struct{})
	d := defaultDispatcher(t, runner)
	ctx := context.Background()

	d.Trigger(ctx, types.StepStyles)
	waitStarted(t, runner)
	if d.Phase(types.StepStyles) != engine.PhaseRebuilding {
		t.Fatal("expected rebuilding phase")
	}

	// rapid edits during the run collapse into one follow-up run
	for i := 0; i < 3; i++ {
		d.Trigger(ctx, types.StepStyles)
	}
	close(runner.gate)
	d.Wait()

	if got := runner.count(types.StepStyles); got != 2 {
		t.Errorf("stylesheet runs = %d, want 2", got)
	}
}

func TestDispatcher_DifferentStepsRunConcurrently(t *testing.T) {
	runner := newCountingRunner()
	runner.gate = make(chan struct{})
	d := defaultDispatcher(t, runner)
	ctx := context.Background()

	d.Trigger(ctx, types.StepStyles)
	d.Trigger(ctx, types.StepImages)

	started := map[types.StepName]bool{
		waitStarted(t, runner): true,
		waitStarted(t, runner): true,
	}
	if !started[types.StepStyles] || !started[types.StepImages] {
		t.Errorf("expected both steps in flight, got %v", started)
	}
	close(runner.gate)
	d.Wait()
}

func TestDispatcher_FailureKeepsWatching(t *testing.T) {
	runner := newCountingRunner()
	runner.fail[types.StepTemplates] = errors.New("broken template")
	notify := &recordingNotifier{}
	d := defaultDispatcher(t, runner, engine.WithNotifier(notify))
	ctx := context.Background()

	d.Dispatch(ctx, "src/templates/index.html")
	d.Wait()
	if len(notify.failures) != 1 || notify.failures[0] != string(types.StepTemplates) {
		t.Fatalf("expected one failure notification, got %v", notify.failures)
	}

	// a later successful run reports the recovery once
	runner.mu.Lock()
	delete(runner.fail, types.StepTemplates)
	runner.mu.Unlock()
	d.Dispatch(ctx, "src/templates/index.html")
	d.Wait()
	d.Dispatch(ctx, "src/templates/index.html")
	d.Wait()

	if runner.count(types.StepTemplates) != 3 {
		t.Errorf("template runs = %d, want 3", runner.count(types.StepTemplates))
	}
	if len(notify.successes) != 1 {
		t.Errorf("expected one recovery notification, got %v", notify.successes)
	}
}

func TestRulesFromConfig_SkipsEmptyPatterns(t *testing.T) {
	cfg := config.NewManager().GetDefaultConfig()
	cfg.Paths.Watch.JS = ""

	rules := engine.RulesFromConfig(cfg)
	if len(rules) != 3 {
		t.Fatalf("expected 3 rules, got %v", rules)
	}
	for _, r := range rules {
		if r.Step == types.StepScripts {
			t.Error("empty pattern should not produce a rule")
		}
	}
}
