package steps

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

var engineNames = map[string]api.EngineName{
	"chrome":  api.EngineChrome,
	"deno":    api.EngineDeno,
	"edge":    api.EngineEdge,
	"firefox": api.EngineFirefox,
	"ie":      api.EngineIE,
	"ios":     api.EngineIOS,
	"node":    api.EngineNode,
	"opera":   api.EngineOpera,
	"safari":  api.EngineSafari,
}

var engineRe = regexp.MustCompile(`^([a-z]+)\s*([0-9][0-9.]*)$`)

// ParseEngines turns targets such as "chrome58" or "safari 11" into esbuild
// engines. Vendor prefixes and syntax lowering follow these targets.
func ParseEngines(targets []string) ([]api.Engine, error) {
	engines := make([]api.Engine, 0, len(targets))
	for _, target := range targets {
		m := engineRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(target)))
		if m == nil {
			return nil, fmt.Errorf("invalid browser target %q", target)
		}
		name, ok := engineNames[m[1]]
		if !ok {
			return nil, fmt.Errorf("unknown browser %q", m[1])
		}
		engines = append(engines, api.Engine{Name: name, Version: m[2]})
	}
	return engines, nil
}

func messagesError(msgs []api.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	lines := api.FormatMessages(msgs, api.FormatMessagesOptions{Kind: api.ErrorMessage})
	return fmt.Errorf("%s", strings.TrimSpace(strings.Join(lines, "")))
}

// minified is the result of minifying one compiled bundle
type minified struct {
	code []byte
	sm   []byte
}

// minifyBundle minifies an already compiled bundle. The minified output and
// its source map are derived from code, never from the sources again.
func minifyBundle(code []byte, loader api.Loader, sourcefile, mapName string, targets []api.Engine, sourceMap bool) (*minified, error) {
	opts := api.TransformOptions{
		Loader:            loader,
		Sourcefile:        sourcefile,
		MinifyWhitespace:  true,
		MinifySyntax:      true,
		MinifyIdentifiers: loader == api.LoaderJS,
		Engines:           targets,
		LogLevel:          api.LogLevelSilent,
	}
	if sourceMap {
		opts.Sourcemap = api.SourceMapExternal
	}

	result := api.Transform(string(code), opts)
	if err := messagesError(result.Errors); err != nil {
		return nil, err
	}

	out := &minified{code: result.Code}
	if sourceMap {
		out.sm = result.Map
		comment := "\n//# sourceMappingURL=" + mapName + "\n"
		if loader == api.LoaderCSS {
			comment = "\n/*# sourceMappingURL=" + mapName + " */\n"
		}
		out.code = append(out.code, comment...)
	}
	return out, nil
}
