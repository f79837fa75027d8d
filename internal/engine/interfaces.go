package engine

import (
	"context"
	"time"

	"github.com/poltergeist/wisp/pkg/types"
)

// StateRecorder persists step bookkeeping.
// Implemented by state.Manager and by recorders in tests.
type StateRecorder interface {
	MarkRunning(step types.StepName) error
	Record(runID string, result types.StepResult) error
}

// Reloader is told which build files changed after a step wrote output.
// Implemented by the dev server's live reload hub.
type Reloader interface {
	Reload(paths []string)
}

// StepRunner runs a single step without its dependencies.
// Implemented by Orchestrator; the dispatcher only needs this much.
type StepRunner interface {
	RunStep(ctx context.Context, name types.StepName) (types.StepResult, error)
}

// StepNotifier reports watch-mode outcomes to the desktop.
// Implemented by notifier.StepNotifier.
type StepNotifier interface {
	NotifyStepSuccess(step string, duration time.Duration)
	NotifyStepFailure(step string, err error)
}
