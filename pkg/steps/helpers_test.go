package steps_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/poltergeist/wisp/pkg/config"
	"github.com/poltergeist/wisp/pkg/logger"
	"github.com/poltergeist/wisp/pkg/steps"
)

func newEnv(t *testing.T) steps.Env {
	t.Helper()
	cfg := config.NewManager().GetDefaultConfig()
	cfg.Steps.Templates.Pretty = false
	return steps.Env{
		Root:   t.TempDir(),
		Config: cfg,
		Logger: logger.Discard(),
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
