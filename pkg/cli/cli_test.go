package cli_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/poltergeist/wisp/internal/engine"
	"github.com/poltergeist/wisp/pkg/cli"
	"github.com/poltergeist/wisp/pkg/types"
)

func newTestCLI(t *testing.T) (*cli.CLI, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	cfg := cli.NewConfig()
	cfg.Version = "1.2.3"
	return cli.NewCLIWithOutput(cfg, &out, &out), &out
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	c, out := newTestCLI(t)
	err := c.Execute(args)
	return out.String(), err
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

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "wisp v1.2.3") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestUnknownCommand(t *testing.T) {
	if _, err := run(t, "jade"); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestListCommand(t *testing.T) {
	out, err := run(t, "--root", t.TempDir(), "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, want := range []string{
		"Configuration: defaults",
		"render-stylesheets",
		"src/styles/**/*.{less,css}",
		"src/templates/**/*",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q:\n%s", want, out)
		}
	}

	lines := strings.Split(out, "\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "render-scripts") && !strings.Contains(line, "✗") {
			t.Errorf("render-scripts should be listed as disabled: %q", line)
		}
		if strings.HasPrefix(line, "publish") && !strings.Contains(line, "optimize-images") {
			t.Errorf("publish should come after optimize-images: %q", line)
		}
	}
}

func TestStepCommand(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "templates", "index.html"), "<p>hi</p>")
	writeFile(t, filepath.Join(root, "src", "styles", "style.less"), "a { color: red; }\n")

	if _, err := run(t, "--root", root, "render-templates"); err != nil {
		t.Fatalf("render-templates: %v", err)
	}
	if !exists(filepath.Join(root, "build", "index.html")) {
		t.Error("render-templates did not write index.html")
	}
	if exists(filepath.Join(root, "build", "css", "style.css")) {
		t.Error("a single step must not run the others")
	}
}

func TestDisabledStepCommand(t *testing.T) {
	out, err := run(t, "--root", t.TempDir(), "render-scripts")
	if err != nil {
		t.Fatalf("disabled step should succeed, got %v", err)
	}
	if !strings.Contains(out, "render-scripts is disabled") {
		t.Errorf("expected a disabled warning:\n%s", out)
	}
}

func TestBuild_SkipPublish(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "templates", "index.html"), "<p>hi</p>")
	writeFile(t, filepath.Join(root, "src", "styles", "style.less"), "a { color: red; }\n")
	writeFile(t, filepath.Join(root, "build", "stale.html"), "old")

	if _, err := run(t, "--root", root, "build", "--skip-publish"); err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, want := range []string{"index.html", "css/style.css", "css/style.min.css"} {
		if !exists(filepath.Join(root, "build", filepath.FromSlash(want))) {
			t.Errorf("missing %s", want)
		}
	}
	if exists(filepath.Join(root, "build", "stale.html")) {
		t.Error("clean should have removed stale output")
	}
}

func TestBuild_FailureStopsAndIsRecorded(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "templates", "broken.html"), "{{ .Page.URL ")
	writeFile(t, filepath.Join(root, "src", "styles", "style.less"), "a { color: red; }\n")

	_, err := run(t, "--root", root, "build", "--skip-publish")
	var stepErr *engine.StepError
	if !errors.As(err, &stepErr) || stepErr.Step != types.StepTemplates {
		t.Fatalf("expected render-templates failure, got %v", err)
	}
	if exists(filepath.Join(root, "build", "css", "style.css")) {
		t.Error("steps after a failure must not run")
	}

	out, err := run(t, "--root", root, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "clean"):
			if !strings.Contains(line, "succeeded") {
				t.Errorf("clean status line %q", line)
			}
		case strings.HasPrefix(line, "render-templates"):
			if !strings.Contains(line, "failed") {
				t.Errorf("render-templates status line %q", line)
			}
		case strings.HasPrefix(line, "render-stylesheets"):
			if !strings.Contains(line, "idle") {
				t.Errorf("render-stylesheets status line %q", line)
			}
		}
	}
	if !strings.Contains(out, "broken.html") {
		t.Errorf("status should show the last error:\n%s", out)
	}
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("WISP_SERVER_PORT", "70000")
	_, err := run(t, "--root", t.TempDir(), "list")
	if err == nil || !strings.Contains(err.Error(), "invalid server port: 70000") {
		t.Fatalf("expected env override to reach validation, got %v", err)
	}
}

func TestEnvironmentOverride_ImageOptions(t *testing.T) {
	t.Setenv("WISP_STEPS_IMAGES_PNGCOLORS", "300")
	_, err := run(t, "--root", t.TempDir(), "list")
	if err == nil || !strings.Contains(err.Error(), "png colors must be between 2 and 256, got 300") {
		t.Fatalf("expected png colour override to reach validation, got %v", err)
	}

	t.Setenv("WISP_STEPS_IMAGES_QUANTIZEPNG", "false")
	if _, err := run(t, "--root", t.TempDir(), "list"); err != nil {
		t.Fatalf("png colours are not validated when quantizing is off: %v", err)
	}
}

func TestConfigFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "wisp.yaml"), "version: \"1.0\"\nsteps:\n  scripts:\n    enabled: true\n")

	out, err := run(t, "--root", root, "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "wisp.yaml") {
		t.Errorf("list should name the config file:\n%s", out)
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "render-scripts") && !strings.Contains(line, "✓") {
			t.Errorf("render-scripts should be enabled by the config file: %q", line)
		}
	}

	if _, err := run(t, "--root", root, "--config", filepath.Join(root, "missing.yaml"), "list"); err == nil {
		t.Error("expected error for a missing --config file")
	}
}

func TestStatus_ReportsBuildRootSize(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "build", "humans.txt"), "team\n")
	writeFile(t, filepath.Join(root, "build", "css", "a.css"), "a{}")

	out, err := run(t, "--root", root, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Build root build: 8 B") {
		t.Errorf("status should report the build root size:\n%s", out)
	}

	empty := t.TempDir()
	out, err = run(t, "--root", empty, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if strings.Contains(out, "Build root") {
		t.Errorf("a missing build root has no size:\n%s", out)
	}
}
