package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	wispctx "github.com/poltergeist/wisp/pkg/context"
	"github.com/poltergeist/wisp/pkg/logger"
	"github.com/poltergeist/wisp/pkg/metrics"
	"github.com/poltergeist/wisp/pkg/steps"
	"github.com/poltergeist/wisp/pkg/types"
)

// ErrStepDisabled marks the result of a step that is turned off in configuration
var ErrStepDisabled = errors.New("step disabled")

// StepError is returned when a step fails; the sequence stops there
type StepError struct {
	Step types.StepName
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Orchestrator runs steps of a Graph one at a time
type Orchestrator struct {
	graph   *Graph
	logger  logger.Logger
	state   StateRecorder
	metrics metrics.Recorder
	clock   func() time.Time

	mu       sync.RWMutex
	reloader Reloader
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithState records every run
func WithState(s StateRecorder) Option {
	return func(o *Orchestrator) { o.state = s }
}

// WithMetrics observes every run
func WithMetrics(m metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithReloader notifies live reload after a step wrote files
func WithReloader(r Reloader) Option {
	return func(o *Orchestrator) { o.reloader = r }
}

// NewOrchestrator creates an orchestrator over graph
func NewOrchestrator(graph *Graph, log logger.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = logger.Discard()
	}
	o := &Orchestrator{
		graph:   graph,
		logger:  log,
		metrics: metrics.NoopRecorder{},
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Graph returns the step graph
func (o *Orchestrator) Graph() *Graph {
	return o.graph
}

// SetReloader attaches a live reload target once the server is up
func (o *Orchestrator) SetReloader(r Reloader) {
	o.mu.Lock()
	o.reloader = r
	o.mu.Unlock()
}

// Build runs target with all of its prerequisites
func (o *Orchestrator) Build(ctx context.Context, target types.StepName) ([]types.StepResult, error) {
	plan, err := o.graph.Plan(target)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, plan...)
}

// Run runs each named step to completion before the next one. The first
// failure stops the sequence and is returned as a *StepError. No retries.
func (o *Orchestrator) Run(ctx context.Context, names ...types.StepName) ([]types.StepResult, error) {
	for _, name := range names {
		if _, ok := o.graph.Step(name); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStep, name)
		}
	}

	if !wispctx.HasRunID(ctx) {
		ctx = wispctx.WithRunID(ctx, "")
	}
	ctx = wispctx.WithStartTime(ctx, o.clock())
	log := logger.WithContext(ctx, o.logger)

	results := make([]types.StepResult, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			log.Warn("Build cancelled", logger.WithField("next", name))
			return results, err
		}
		result, err := o.RunStep(ctx, name)
		results = append(results, result)
		if err != nil {
			return results, err
		}
	}

	if len(names) > 1 {
		log.Success(fmt.Sprintf("Build finished in %s", wispctx.GetDuration(ctx).Round(time.Millisecond)))
	}
	return results, nil
}

// RunStep runs one step without its dependencies
func (o *Orchestrator) RunStep(ctx context.Context, name types.StepName) (types.StepResult, error) {
	step, ok := o.graph.Step(name)
	if !ok {
		return types.StepResult{Step: name, Status: types.StepStatusFailed}, fmt.Errorf("%w: %s", ErrUnknownStep, name)
	}

	if !wispctx.HasRunID(ctx) {
		ctx = wispctx.WithRunID(ctx, "")
	}
	ctx = wispctx.WithOperation(ctx, string(name))
	log := logger.WithContext(ctx, o.logger).WithStep(string(name))
	runID := wispctx.GetRunID(ctx)

	if !step.Enabled() {
		log.Info("Skipped (disabled in configuration)")
		result := types.StepResult{Step: name, Status: types.StepStatusSkipped, Err: ErrStepDisabled}
		o.finish(log, runID, result)
		return result, nil
	}

	if o.state != nil {
		if err := o.state.MarkRunning(name); err != nil {
			log.Warn("Failed to update step state", logger.WithError(err))
		}
	}

	log.Debug("Starting")
	start := o.clock()
	report, err := step.Run(ctx)
	result := types.StepResult{Step: name, Duration: o.clock().Sub(start)}
	if report != nil {
		result.Written = report.Written
		result.Skipped = report.Skipped
	}

	switch {
	case errors.Is(err, steps.ErrNothingToPublish):
		log.Info("Nothing to publish")
		result.Status = types.StepStatusSucceeded
	case err != nil:
		result.Status = types.StepStatusFailed
		result.Err = err
		log.Error("Step failed", logger.WithError(err))
		o.finish(log, runID, result)
		return result, &StepError{Step: name, Err: err}
	default:
		result.Status = types.StepStatusSucceeded
		log.Success(fmt.Sprintf("Finished in %s", result.Duration.Round(time.Millisecond)),
			logger.WithField("written", len(result.Written)),
			logger.WithField("skipped", result.Skipped))
	}

	o.finish(log, runID, result)
	if len(result.Written) > 0 && name != types.StepPublish {
		o.mu.RLock()
		r := o.reloader
		o.mu.RUnlock()
		if r != nil {
			r.Reload(result.Written)
		}
	}
	return result, nil
}

func (o *Orchestrator) finish(log logger.Logger, runID string, result types.StepResult) {
	o.metrics.ObserveStep(string(result.Step), string(result.Status), result.Duration, len(result.Written))
	if o.state == nil {
		return
	}
	if err := o.state.Record(runID, result); err != nil {
		log.Warn("Failed to record step state", logger.WithError(err))
	}
}
