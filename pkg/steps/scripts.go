package steps

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/poltergeist/wisp/pkg/logger"
	"github.com/poltergeist/wisp/pkg/pipeline"
	"github.com/poltergeist/wisp/pkg/types"
	"github.com/poltergeist/wisp/pkg/utils"
)

// Scripts bundles the vendor script followed by the custom script into one
// file, plus a minified copy with a source map.
type Scripts struct {
	env Env
}

// NewScripts creates the script step
func NewScripts(env Env) *Scripts {
	return &Scripts{env: env}
}

// Name implements Step
func (s *Scripts) Name() types.StepName { return types.StepScripts }

// Enabled implements Step
func (s *Scripts) Enabled() bool { return s.env.Config.Steps.Scripts.Enabled }

// Run implements Step
func (s *Scripts) Run(ctx context.Context) (*Report, error) {
	log := s.env.log(s.Name())
	cfg := s.env.Config

	// Vendor first so custom code sees vendor globals.
	var imports strings.Builder
	for _, src := range []string{cfg.Paths.Src.JSVendor, cfg.Paths.Src.JSCustom} {
		if src == "" {
			continue
		}
		if !utils.FileExists(s.env.Abs(src)) {
			log.Warn("script source missing, skipping", logger.WithField("path", src))
			continue
		}
		imports.WriteString("import " + strconv.Quote("./"+filepath.ToSlash(filepath.Clean(src))) + ";\n")
	}
	if imports.Len() == 0 {
		log.Info("no script sources")
		return &Report{}, nil
	}

	main := cfg.Paths.Build.JSMainFile
	outDir := s.env.Abs(cfg.Paths.Build.JS)
	engines, err := ParseEngines(cfg.Steps.Styles.Browsers)
	if err != nil {
		return &Report{}, err
	}

	result := api.Build(api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   imports.String(),
			ResolveDir: s.env.Root,
			Sourcefile: main,
			Loader:     api.LoaderJS,
		},
		AbsWorkingDir: s.env.Root,
		Bundle:        true,
		Format:        api.FormatIIFE,
		Outfile:       filepath.Join(outDir, main),
		Engines:       engines,
		Write:         false,
		LogLevel:      api.LogLevelSilent,
	})
	if err := messagesError(result.Errors); err != nil {
		log.Error(err.Error())
		return &Report{}, fmt.Errorf("bundle scripts: %w", err)
	}
	if len(result.OutputFiles) == 0 {
		return &Report{}, fmt.Errorf("bundle scripts: no output")
	}
	bundle := result.OutputFiles[0].Contents

	minName := strings.TrimSuffix(main, filepath.Ext(main)) + ".min.js"
	min, err := minifyBundle(bundle, api.LoaderJS, main, minName+".map", engines, true)
	if err != nil {
		log.Error(err.Error())
		return &Report{}, fmt.Errorf("minify scripts: %w", err)
	}

	files := []*pipeline.File{
		{Rel: main, Contents: bundle},
		{Rel: minName, Contents: min.code},
		{Rel: minName + ".map", Contents: min.sm},
	}

	p := pipeline.New(string(s.Name())).
		Then("size", pipeline.Size(sizeReporter(log, "JavaScript"))).
		Then("dest", pipeline.Dest(outDir))

	_, stats, err := p.Run(ctx, files)
	return reportFrom(stats), err
}
