package engine

import (
	"fmt"
	"path/filepath"

	"github.com/poltergeist/wisp/internal/state"
	"github.com/poltergeist/wisp/pkg/logger"
	"github.com/poltergeist/wisp/pkg/metrics"
	"github.com/poltergeist/wisp/pkg/notifier"
	"github.com/poltergeist/wisp/pkg/steps"
	"github.com/poltergeist/wisp/pkg/types"
)

// Dependencies are the collaborators shared by the orchestrator, the
// dispatcher and the dev server
type Dependencies struct {
	State    *state.Manager
	Metrics  metrics.Recorder
	Notifier *notifier.StepNotifier
}

// DependencyFactory creates default implementations of dependencies from
// configuration, so constructors never fall back to hidden concrete types.
type DependencyFactory struct {
	projectRoot string
	logger      logger.Logger
	config      *types.Config
}

// NewDependencyFactory creates a new dependency factory
func NewDependencyFactory(projectRoot string, log logger.Logger, config *types.Config) *DependencyFactory {
	if log == nil {
		log = logger.Discard()
	}
	if abs, err := filepath.Abs(projectRoot); err == nil {
		projectRoot = abs
	}
	return &DependencyFactory{
		projectRoot: projectRoot,
		logger:      log,
		config:      config,
	}
}

// CreateDefaults creates all default dependencies
func (f *DependencyFactory) CreateDefaults() Dependencies {
	return Dependencies{
		State:   state.NewManager(f.projectRoot, f.logger),
		Metrics: metrics.New(f.config.Metrics.Enabled),
		Notifier: notifier.New(notifier.Config{
			Enabled:       f.config.Notifications.Enabled,
			BeepOnFailure: f.config.Notifications.Enabled,
		}, f.logger),
	}
}

// Env returns the environment shared by every step
func (f *DependencyFactory) Env() steps.Env {
	return steps.Env{Root: f.projectRoot, Config: f.config, Logger: f.logger}
}

// CreateGraph builds the linear build graph over every step
func (f *DependencyFactory) CreateGraph(opts ...steps.PublishOption) (*Graph, error) {
	all, err := steps.All(f.Env(), opts...)
	if err != nil {
		return nil, err
	}
	return NewGraph(all, LinearEdges(types.BuildSequence))
}

// CreateOrchestrator wires the orchestrator to state and metrics
func (f *DependencyFactory) CreateOrchestrator(deps Dependencies, opts ...steps.PublishOption) (*Orchestrator, error) {
	graph, err := f.CreateGraph(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create step graph: %w", err)
	}
	return NewOrchestrator(graph, f.logger,
		WithState(deps.State),
		WithMetrics(deps.Metrics),
	), nil
}

// CreateDispatcher builds the watch rule table from configuration
func (f *DependencyFactory) CreateDispatcher(runner StepRunner, deps Dependencies) (*Dispatcher, error) {
	var opts []DispatcherOption
	if deps.Notifier != nil {
		opts = append(opts, WithNotifier(deps.Notifier))
	}
	return NewDispatcher(RulesFromConfig(f.config), runner, f.logger, opts...)
}
