// Package steps implements the build steps: clean, render-templates,
// render-scripts, render-stylesheets, optimize-images and publish.
package steps

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/poltergeist/wisp/pkg/logger"
	"github.com/poltergeist/wisp/pkg/pipeline"
	"github.com/poltergeist/wisp/pkg/types"
	"github.com/poltergeist/wisp/pkg/utils"
)

// ErrNothingToPublish is returned by the publish step when the hosting
// branch already matches the build tree.
var ErrNothingToPublish = errors.New("nothing to publish")

// Step is one unit of build work
type Step interface {
	Name() types.StepName
	Enabled() bool
	Run(ctx context.Context) (*Report, error)
}

// Report describes what a step did
type Report struct {
	Written []string
	Skipped int
	Removed int
	Bytes   int64
}

func reportFrom(stats *pipeline.Stats) *Report {
	if stats == nil {
		return &Report{}
	}
	return &Report{
		Written: stats.Written,
		Skipped: stats.Skipped,
		Bytes:   stats.Bytes,
	}
}

// Env is shared by every step
type Env struct {
	Root   string // absolute project root
	Config *types.Config
	Logger logger.Logger
}

// Abs resolves a config path against the project root
func (e Env) Abs(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.Root, filepath.FromSlash(path))
}

func (e Env) log(step types.StepName) logger.Logger {
	if e.Logger == nil {
		return logger.Discard().WithStep(string(step))
	}
	return e.Logger.WithStep(string(step))
}

// sizeReporter logs the gulp-size style "<title> n files, 12 KiB" line
func sizeReporter(log logger.Logger, title string) func(int, int64) {
	return func(count int, total int64) {
		log.Info(fmt.Sprintf("%s %d file(s), %s", title, count, utils.FormatBytes(total)))
	}
}

// All builds every step in build order
func All(env Env, opts ...PublishOption) ([]Step, error) {
	clean, err := NewClean(env)
	if err != nil {
		return nil, err
	}
	return []Step{
		clean,
		NewTemplates(env),
		NewScripts(env),
		NewStyles(env),
		NewImages(env),
		NewPublish(env, opts...),
	}, nil
}
