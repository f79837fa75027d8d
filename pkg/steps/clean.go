package steps

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/hashicorp/go-multierror"
	"github.com/poltergeist/wisp/pkg/types"
)

// Clean empties the build root, keeping files on the preserve list
type Clean struct {
	env      Env
	preserve []glob.Glob
}

// NewClean compiles the preserve patterns. Patterns are relative to the
// build root and "*" does not cross directories.
func NewClean(env Env) (*Clean, error) {
	c := &Clean{env: env}
	for _, pattern := range env.Config.Paths.Preserve {
		g, err := glob.Compile(strings.TrimPrefix(filepath.ToSlash(pattern), "./"), '/')
		if err != nil {
			return nil, fmt.Errorf("invalid preserve pattern %q: %w", pattern, err)
		}
		c.preserve = append(c.preserve, g)
	}
	return c, nil
}

// Name implements Step
func (c *Clean) Name() types.StepName { return types.StepClean }

// Enabled implements Step
func (c *Clean) Enabled() bool { return true }

func (c *Clean) preserved(rel string) bool {
	for _, g := range c.preserve {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// Run implements Step
func (c *Clean) Run(ctx context.Context) (*Report, error) {
	log := c.env.log(c.Name())
	root := c.env.Abs(c.env.Config.Paths.BuildRoot)

	if _, err := os.Stat(root); os.IsNotExist(err) {
		log.Debug("build root does not exist, nothing to clean")
		return &Report{}, os.MkdirAll(root, 0o755)
	}

	var dirs []string
	var result *multierror.Error
	report := &Report{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, path)
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if c.preserved(filepath.ToSlash(rel)) {
			log.Debug("preserving " + rel)
			return nil
		}
		if err := os.Remove(path); err != nil {
			result = multierror.Append(result, err)
			return nil
		}
		report.Removed++
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("walk %s: %w", root, err)
	}

	// Deepest first so parents are empty by the time they are visited.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if len(entries) > 0 {
			continue
		}
		if err := os.Remove(dir); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return report, err
	}

	log.Info(fmt.Sprintf("removed %d file(s) from %s", report.Removed, c.env.Config.Paths.BuildRoot))
	return report, nil
}
