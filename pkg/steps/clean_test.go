package steps_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/poltergeist/wisp/pkg/steps"
	"github.com/poltergeist/wisp/pkg/types"
)

func TestClean_PreservesMarkers(t *testing.T) {
	env := newEnv(t)
	build := filepath.Join(env.Root, "build")

	writeFile(t, filepath.Join(build, ".gitignore"), "*\n")
	writeFile(t, filepath.Join(build, "humans.txt"), "team")
	writeFile(t, filepath.Join(build, "index.html"), "<p>old</p>")
	writeFile(t, filepath.Join(build, "css", "style.css"), "a{}")
	writeFile(t, filepath.Join(build, "img", "icons", "star.svg"), "<svg/>")
	// only the root-level markers are preserved
	writeFile(t, filepath.Join(build, "css", "humans.txt"), "nested")

	clean, err := steps.NewClean(env)
	if err != nil {
		t.Fatal(err)
	}
	report, err := clean.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, kept := range []string{".gitignore", "humans.txt"} {
		if !exists(filepath.Join(build, kept)) {
			t.Errorf("%s was deleted", kept)
		}
	}
	for _, gone := range []string{"index.html", "css", "img"} {
		if exists(filepath.Join(build, gone)) {
			t.Errorf("%s should have been removed", gone)
		}
	}
	if report.Removed != 4 {
		t.Errorf("expected 4 removed files, got %d", report.Removed)
	}
}

func TestClean_KeepsDirectoriesHoldingPreservedFiles(t *testing.T) {
	env := newEnv(t)
	env.Config.Paths.Preserve = []string{"CNAME", "static/*.txt"}
	build := filepath.Join(env.Root, "build")

	writeFile(t, filepath.Join(build, "CNAME"), "example.com")
	writeFile(t, filepath.Join(build, "static", "keep.txt"), "x")
	writeFile(t, filepath.Join(build, "static", "drop.css"), "x")

	clean, err := steps.NewClean(env)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := clean.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if !exists(filepath.Join(build, "static", "keep.txt")) {
		t.Error("preserved nested file removed")
	}
	if exists(filepath.Join(build, "static", "drop.css")) {
		t.Error("unpreserved file kept")
	}
}

func TestClean_MissingBuildRoot(t *testing.T) {
	env := newEnv(t)

	clean, err := steps.NewClean(env)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := clean.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !exists(filepath.Join(env.Root, "build")) {
		t.Error("expected build root to be created")
	}
}

func TestClean_Name(t *testing.T) {
	clean, err := steps.NewClean(newEnv(t))
	if err != nil {
		t.Fatal(err)
	}
	if clean.Name() != types.StepClean || !clean.Enabled() {
		t.Errorf("unexpected step identity %s", clean.Name())
	}
}
