package state_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/poltergeist/wisp/internal/state"
	"github.com/poltergeist/wisp/pkg/types"
)

func TestManager_RecordAndRead(t *testing.T) {
	tmpDir := t.TempDir()
	sm := state.NewManager(tmpDir, nil)

	if err := sm.MarkRunning(types.StepStyles); err != nil {
		t.Fatalf("failed to mark running: %v", err)
	}
	s, err := sm.Read(types.StepStyles)
	if err != nil {
		t.Fatalf("failed to read state: %v", err)
	}
	if s.Status != types.StepStatusRunning {
		t.Errorf("expected running status, got %s", s.Status)
	}
	if s.ProcessID != os.Getpid() {
		t.Errorf("expected current PID, got %d", s.ProcessID)
	}

	err = sm.Record("run_1", types.StepResult{
		Step:     types.StepStyles,
		Status:   types.StepStatusSucceeded,
		Written:  []string{"build/css/style.css", "build/css/style.min.css"},
		Skipped:  1,
		Duration: 40 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to record: %v", err)
	}

	s, _ = sm.Read(types.StepStyles)
	if s.Status != types.StepStatusSucceeded || s.Written != 2 || s.Skipped != 1 || s.RunCount != 1 {
		t.Errorf("unexpected state %+v", s)
	}
	if s.RunID != "run_1" || s.ProcessID != 0 {
		t.Errorf("expected run id and cleared pid, got %+v", s)
	}

	if _, err := os.Stat(filepath.Join(tmpDir, ".wisp", "state.json")); err != nil {
		t.Errorf("state file was not created: %v", err)
	}
}

func TestManager_RecordFailure(t *testing.T) {
	sm := state.NewManager(t.TempDir(), nil)

	sm.Record("run_1", types.StepResult{Step: types.StepTemplates, Status: types.StepStatusFailed, Err: errors.New("boom")})
	s, _ := sm.Read(types.StepTemplates)
	if s.FailureCount != 1 || s.LastError != "boom" {
		t.Errorf("unexpected failure bookkeeping %+v", s)
	}

	// a later success clears the error but keeps the counters
	sm.Record("run_2", types.StepResult{Step: types.StepTemplates, Status: types.StepStatusSucceeded})
	s, _ = sm.Read(types.StepTemplates)
	if s.LastError != "" || s.FailureCount != 1 || s.RunCount != 2 {
		t.Errorf("unexpected state after recovery %+v", s)
	}
}

func TestManager_PersistsAcrossInstances(t *testing.T) {
	tmpDir := t.TempDir()
	first := state.NewManager(tmpDir, nil)
	if err := first.Record("run_1", types.StepResult{Step: types.StepClean, Status: types.StepStatusSucceeded}); err != nil {
		t.Fatal(err)
	}

	second := state.NewManager(tmpDir, nil)
	s, err := second.Read(types.StepClean)
	if err != nil {
		t.Fatalf("failed to read persisted state: %v", err)
	}
	if s.Status != types.StepStatusSucceeded {
		t.Errorf("expected succeeded, got %s", s.Status)
	}
}

func TestManager_ReadMissing(t *testing.T) {
	sm := state.NewManager(t.TempDir(), nil)
	if _, err := sm.Read(types.StepPublish); !errors.Is(err, state.ErrNoState) {
		t.Errorf("expected ErrNoState, got %v", err)
	}
}

func TestManager_All(t *testing.T) {
	sm := state.NewManager(t.TempDir(), nil)
	sm.Record("run_1", types.StepResult{Step: types.StepImages, Status: types.StepStatusSucceeded})

	all, err := sm.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(types.BuildSequence) {
		t.Fatalf("expected %d steps, got %d", len(types.BuildSequence), len(all))
	}
	for i, s := range all {
		if s.Step != types.BuildSequence[i] {
			t.Errorf("step %d = %s, want %s", i, s.Step, types.BuildSequence[i])
		}
		want := types.StepStatusIdle
		if s.Step == types.StepImages {
			want = types.StepStatusSucceeded
		}
		if s.Status != want {
			t.Errorf("%s status = %s, want %s", s.Step, s.Status, want)
		}
	}
}

func TestManager_CorruptFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, ".wisp", "state.json")
	os.MkdirAll(filepath.Dir(path), 0o755)
	os.WriteFile(path, []byte("{not json"), 0o644)

	sm := state.NewManager(tmpDir, nil)
	all, err := sm.All()
	if err != nil {
		t.Fatalf("corrupt state should be ignored, got %v", err)
	}
	if all[0].Status != types.StepStatusIdle {
		t.Errorf("expected idle, got %s", all[0].Status)
	}
	if err := sm.Record("run_1", types.StepResult{Step: types.StepClean, Status: types.StepStatusSucceeded}); err != nil {
		t.Errorf("record over corrupt file: %v", err)
	}
}

func TestManager_Reset(t *testing.T) {
	sm := state.NewManager(t.TempDir(), nil)
	sm.Record("run_1", types.StepResult{Step: types.StepClean, Status: types.StepStatusSucceeded})

	if err := sm.Reset(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(sm.Path()); !os.IsNotExist(err) {
		t.Error("state file was not removed")
	}
	if _, err := sm.Read(types.StepClean); err == nil {
		t.Error("expected error after reset")
	}
}

func TestManager_ConcurrentRecords(t *testing.T) {
	sm := state.NewManager(t.TempDir(), nil)

	var wg sync.WaitGroup
	for _, step := range types.BuildSequence {
		wg.Add(1)
		go func(step types.StepName) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				if err := sm.Record("run", types.StepResult{Step: step, Status: types.StepStatusSucceeded}); err != nil {
					t.Errorf("record %s: %v", step, err)
				}
			}
		}(step)
	}
	wg.Wait()

	for _, step := range types.BuildSequence {
		s, err := sm.Read(step)
		if err != nil {
			t.Fatal(err)
		}
		if s.RunCount != 5 {
			t.Errorf("%s run count = %d, want 5", step, s.RunCount)
		}
	}
}
