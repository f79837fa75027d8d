package steps

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/poltergeist/wisp/pkg/pipeline"
	"github.com/poltergeist/wisp/pkg/types"
	"github.com/tdewolff/minify/v2"
	mhtml "github.com/tdewolff/minify/v2/html"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// PageInfo describes the page being rendered
type PageInfo struct {
	Rel   string // output path below the html build dir
	URL   string
	Title string
}

// PageData is the value templates execute against
type PageData struct {
	Page    PageInfo
	Meta    map[string]interface{}
	Content template.HTML
}

// Templates renders html/template pages and markdown pages into the html
// build directory. Files whose base name starts with "_" are partials: they
// are never rendered on their own but every page can call them by name.
type Templates struct {
	env      Env
	markdown goldmark.Markdown
	minifier *minify.M
}

// NewTemplates creates the template step
func NewTemplates(env Env) *Templates {
	m := minify.New()
	m.AddFunc("text/html", mhtml.Minify)

	return &Templates{
		env: env,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM, meta.Meta),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
			goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
		),
		minifier: m,
	}
}

// Name implements Step
func (t *Templates) Name() types.StepName { return types.StepTemplates }

// Enabled implements Step
func (t *Templates) Enabled() bool { return true }

// IsPartial reports whether rel names a partial
func IsPartial(rel string) bool {
	return strings.HasPrefix(path.Base(rel), "_")
}

// OutputName maps a page to its html file name
func OutputName(rel string) string {
	return strings.TrimSuffix(rel, path.Ext(rel)) + ".html"
}

// Run implements Step
func (t *Templates) Run(ctx context.Context) (*Report, error) {
	log := t.env.log(t.Name())
	cfg := t.env.Config

	sources, err := t.sources()
	if err != nil {
		return &Report{}, err
	}

	var partials, pages []*pipeline.File
	for _, f := range sources {
		if IsPartial(f.Rel) {
			partials = append(partials, f)
		} else {
			pages = append(pages, f)
		}
	}

	set, latest, err := t.parsePartials(partials)
	if err != nil {
		log.Error(err.Error())
		return &Report{}, err
	}

	outDir := t.env.Abs(cfg.Paths.Build.HTML)
	destFor := func(f *pipeline.File) string {
		return filepath.Join(outDir, filepath.FromSlash(OutputName(f.Rel)))
	}

	p := pipeline.New(string(t.Name())).
		Then("newer", pipeline.Newer(destFor, latest)).
		Then("render", pipeline.Map(func(_ context.Context, f *pipeline.File) (*pipeline.File, error) {
			return t.render(set, f)
		})).
		Then("format", pipeline.Map(t.format)).
		Then("rename", pipeline.Rename(OutputName)).
		Then("size", pipeline.Size(sizeReporter(log, "HTML"))).
		Then("dest", pipeline.Dest(outDir))

	_, stats, err := p.Run(ctx, pages)
	report := reportFrom(stats)
	if err != nil {
		log.Error(err.Error())
		return report, err
	}
	if report.Skipped > 0 {
		log.Debug(fmt.Sprintf("%d page(s) up to date", report.Skipped))
	}
	return report, nil
}

func (t *Templates) sources() ([]*pipeline.File, error) {
	seen := make(map[string]bool)
	var files []*pipeline.File
	for _, pattern := range t.env.Config.Paths.Src.Templates {
		matched, err := pipeline.Source(t.env.Root, pattern)
		if err != nil {
			return nil, err
		}
		for _, f := range matched {
			if seen[f.Path] {
				continue
			}
			seen[f.Path] = true
			files = append(files, f)
		}
	}
	return files, nil
}

// parsePartials builds the shared template set and returns the newest
// partial modification time.
func (t *Templates) parsePartials(partials []*pipeline.File) (*template.Template, time.Time, error) {
	set := template.New("wisp")
	var latest time.Time

	for _, f := range partials {
		if f.ModTime.After(latest) {
			latest = f.ModTime
		}
		if f.Ext() != ".html" {
			continue
		}
		if _, err := set.New(f.Rel).Parse(string(f.Contents)); err != nil {
			return nil, latest, fmt.Errorf("partial %s: %w", f.Rel, err)
		}
	}
	return set, latest, nil
}

func (t *Templates) render(set *template.Template, f *pipeline.File) (*pipeline.File, error) {
	tmpl, err := set.Clone()
	if err != nil {
		return nil, err
	}

	out := f.Clone()
	data := PageData{
		Page: PageInfo{
			Rel: OutputName(f.Rel),
			URL: "/" + OutputName(f.Rel),
		},
	}

	var buf bytes.Buffer
	switch f.Ext() {
	case ".md":
		var body bytes.Buffer
		pctx := parser.NewContext()
		if err := t.markdown.Convert(f.Contents, &body, parser.WithContext(pctx)); err != nil {
			return nil, fmt.Errorf("failed to convert markdown: %w", err)
		}
		data.Meta = meta.Get(pctx)
		data.Content = template.HTML(body.String())
		if title, ok := data.Meta["title"].(string); ok {
			data.Page.Title = title
		}

		layout, _ := data.Meta["layout"].(string)
		if layout == "" {
			out.Contents = body.Bytes()
			return out, nil
		}
		name := resolveLayout(tmpl, layout)
		if name == "" {
			return nil, fmt.Errorf("unknown layout %q", layout)
		}
		if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
			return nil, err
		}

	default:
		if _, err := tmpl.New(f.Rel).Parse(string(f.Contents)); err != nil {
			return nil, err
		}
		if err := tmpl.ExecuteTemplate(&buf, f.Rel, data); err != nil {
			return nil, err
		}
	}

	out.Contents = buf.Bytes()
	return out, nil
}

// resolveLayout finds the partial a layout name refers to. "base" matches
// base, base.html or _base.html, first at the given path and then in any
// partials directory.
func resolveLayout(tmpl *template.Template, layout string) string {
	dir, file := path.Split(layout)
	candidates := []string{file, file + ".html", "_" + strings.TrimPrefix(file, "_") + ".html"}
	for _, c := range candidates {
		if name := path.Join(dir, c); tmpl.Lookup(name) != nil {
			return name
		}
	}

	var names []string
	for _, t := range tmpl.Templates() {
		names = append(names, t.Name())
	}
	sort.Strings(names)
	for _, c := range candidates {
		for _, name := range names {
			if path.Base(name) == c {
				return name
			}
		}
	}
	return ""
}

func (t *Templates) format(_ context.Context, f *pipeline.File) (*pipeline.File, error) {
	opts := t.env.Config.Steps.Templates
	switch {
	case opts.Minify:
		out, err := t.minifier.Bytes("text/html", f.Contents)
		if err != nil {
			return nil, fmt.Errorf("minify: %w", err)
		}
		f.Contents = out
	case opts.Pretty:
		out, err := Prettify(f.Contents, "  ")
		if err != nil {
			return nil, fmt.Errorf("prettify: %w", err)
		}
		f.Contents = out
	}
	return f, nil
}
