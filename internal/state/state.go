// Package state persists the last run of every step for the status command
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/poltergeist/wisp/pkg/logger"
	"github.com/poltergeist/wisp/pkg/types"
	"github.com/poltergeist/wisp/pkg/utils"
)

// ErrNoState is returned when a step has never run in this project
var ErrNoState = errors.New("no recorded run")

// StepState is the bookkeeping record of one step. It never drives build decisions.
type StepState struct {
	Step         types.StepName   `json:"step"`
	Status       types.StepStatus `json:"status"`
	LastRun      time.Time        `json:"lastRun"`
	Duration     time.Duration    `json:"duration"`
	Written      int              `json:"written"`
	Skipped      int              `json:"skipped"`
	RunCount     int              `json:"runCount"`
	FailureCount int              `json:"failureCount"`
	LastError    string           `json:"lastError,omitempty"`
	RunID        string           `json:"runId,omitempty"`
	ProcessID    int              `json:"processId,omitempty"`
}

type stateFile struct {
	UpdatedAt time.Time                     `json:"updatedAt"`
	Steps     map[types.StepName]*StepState `json:"steps"`
}

// Manager reads and writes .wisp/state.json
type Manager struct {
	path   string
	logger logger.Logger
	mu     sync.Mutex
	steps  map[types.StepName]*StepState
	loaded bool
}

// NewManager creates a state manager for the project root
func NewManager(projectRoot string, log logger.Logger) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{
		path:   filepath.Join(projectRoot, ".wisp", "state.json"),
		logger: log,
		steps:  make(map[types.StepName]*StepState),
	}
}

// Path returns the state file location
func (m *Manager) Path() string {
	return m.path
}

// MarkRunning flags a step as running
func (m *Manager) MarkRunning(step types.StepName) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.load(); err != nil {
		return err
	}
	s := m.entry(step)
	s.Status = types.StepStatusRunning
	s.ProcessID = os.Getpid()
	return m.save()
}

// Record stores the outcome of a finished run
func (m *Manager) Record(runID string, result types.StepResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.load(); err != nil {
		return err
	}
	s := m.entry(result.Step)
	s.Status = result.Status
	s.LastRun = time.Now()
	s.Duration = result.Duration
	s.Written = len(result.Written)
	s.Skipped = result.Skipped
	s.RunID = runID
	s.ProcessID = 0
	s.RunCount++
	s.LastError = ""
	if result.Status == types.StepStatusFailed {
		s.FailureCount++
		if result.Err != nil {
			s.LastError = result.Err.Error()
		}
	}
	return m.save()
}

// Read returns a copy of the recorded state of one step
func (m *Manager) Read(step types.StepName) (*StepState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.load(); err != nil {
		return nil, err
	}
	s, ok := m.steps[step]
	if !ok {
		return nil, fmt.Errorf("%s: %w", step, ErrNoState)
	}
	cp := *s
	return &cp, nil
}

// All returns every step in build order; steps that never ran are idle
func (m *Manager) All() ([]StepState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.load(); err != nil {
		return nil, err
	}
	out := make([]StepState, 0, len(types.BuildSequence))
	for _, name := range types.BuildSequence {
		if s, ok := m.steps[name]; ok {
			out = append(out, *s)
			continue
		}
		out = append(out, StepState{Step: name, Status: types.StepStatusIdle})
	}
	return out, nil
}

// Reset removes the state file
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.steps = make(map[types.StepName]*StepState)
	m.loaded = true
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}

// Private methods

func (m *Manager) entry(step types.StepName) *StepState {
	s, ok := m.steps[step]
	if !ok {
		s = &StepState{Step: step, Status: types.StepStatusIdle}
		m.steps[step] = s
	}
	return s
}

func (m *Manager) load() error {
	if m.loaded {
		return nil
	}
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		m.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var f stateFile
	if err := json.Unmarshal(data, &f); err != nil {
		// a corrupt file only loses history
		m.logger.Warn("Ignoring unreadable state file",
			logger.WithField("path", m.path),
			logger.WithError(err))
		m.loaded = true
		return nil
	}
	for name, s := range f.Steps {
		if s != nil {
			m.steps[name] = s
		}
	}
	m.loaded = true
	return nil
}

func (m *Manager) save() error {
	data, err := json.MarshalIndent(stateFile{UpdatedAt: time.Now(), Steps: m.steps}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := utils.WriteFile(m.path, data); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}
