package steps

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/poltergeist/wisp/pkg/pipeline"
	"github.com/poltergeist/wisp/pkg/types"
)

// Styles compiles the entry stylesheet into <name>.css and derives
// <name>.min.css (with source map) from that same compiled bundle.
// @import partials are inlined. A .less entry goes through compileLess
// first, so variables and parameterless mixins are expanded.
type Styles struct {
	env Env
}

// NewStyles creates the stylesheet step
func NewStyles(env Env) *Styles {
	return &Styles{env: env}
}

// Name implements Step
func (s *Styles) Name() types.StepName { return types.StepStyles }

// Enabled implements Step
func (s *Styles) Enabled() bool { return true }

// Run implements Step
func (s *Styles) Run(ctx context.Context) (*Report, error) {
	log := s.env.log(s.Name())
	cfg := s.env.Config
	opts := cfg.Steps.Styles

	entry := s.env.Abs(cfg.Paths.Src.Style)
	outDir := s.env.Abs(cfg.Paths.Build.CSS)
	base := strings.TrimSuffix(filepath.Base(entry), filepath.Ext(entry))

	engines, err := ParseEngines(opts.Browsers)
	if err != nil {
		return &Report{}, err
	}

	build := api.BuildOptions{
		AbsWorkingDir: s.env.Root,
		Bundle:        true,
		Outfile:       filepath.Join(outDir, base+".css"),
		Loader:        map[string]api.Loader{".css": api.LoaderCSS},
		Engines:       engines,
		Write:         false,
		LogLevel:      api.LogLevelSilent,
	}
	if strings.EqualFold(filepath.Ext(entry), ".less") {
		css, err := compileLess(entry)
		if err != nil {
			log.Error(err.Error())
			return &Report{}, fmt.Errorf("compile %s: %w", cfg.Paths.Src.Style, err)
		}
		build.Stdin = &api.StdinOptions{
			Contents:   css,
			ResolveDir: filepath.Dir(entry),
			Sourcefile: filepath.Base(entry),
			Loader:     api.LoaderCSS,
		}
	} else {
		build.EntryPoints = []string{entry}
	}

	// anything esbuild only warns about is a stylesheet it did not understand
	result := api.Build(build)
	if err := messagesError(append(result.Errors, result.Warnings...)); err != nil {
		log.Error(err.Error())
		return &Report{}, fmt.Errorf("compile %s: %w", cfg.Paths.Src.Style, err)
	}

	var bundle []byte
	for _, out := range result.OutputFiles {
		if filepath.Ext(out.Path) == ".css" {
			bundle = out.Contents
			break
		}
	}
	if bundle == nil {
		return &Report{}, fmt.Errorf("compile %s: no css output", cfg.Paths.Src.Style)
	}

	minName := base + ".min.css"
	min, err := minifyBundle(bundle, api.LoaderCSS, base+".css", minName+".map", engines, opts.SourceMap)
	if err != nil {
		log.Error(err.Error())
		return &Report{}, fmt.Errorf("minify %s: %w", base+".css", err)
	}

	files := []*pipeline.File{
		{Rel: base + ".css", Contents: bundle},
		{Rel: minName, Contents: min.code},
	}
	if opts.SourceMap {
		files = append(files, &pipeline.File{Rel: minName + ".map", Contents: min.sm})
	}

	p := pipeline.New(string(s.Name())).
		Then("size", pipeline.Size(sizeReporter(log, "CSS"))).
		Then("dest", pipeline.Dest(outDir))

	_, stats, err := p.Run(ctx, files)
	return reportFrom(stats), err
}
