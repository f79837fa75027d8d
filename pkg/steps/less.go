package steps

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// maxLessDepth bounds nested mixin expansion and variable resolution
const maxLessDepth = 32

var (
	lessImport     = regexp.MustCompile(`@import\s+(?:\([^)]*\)\s*)?\x00(\d+)\x00([^;]*);`)
	lessMixinDef   = regexp.MustCompile(`\.([A-Za-z_-][\w-]*)\s*\(\s*\)\s*\{`)
	lessMixinCall  = regexp.MustCompile(`\.([A-Za-z_-][\w-]*)\s*(?:\(\s*\))?\s*;`)
	lessMixinArgs  = regexp.MustCompile(`\.([A-Za-z_-][\w-]*)\s*\(([^)]*)\)\s*(?:;|\{|when\b)`)
	lessVarDecl    = regexp.MustCompile(`@([\w-]+)\s*:\s*([^;{}]+);`)
	lessVarRef     = regexp.MustCompile(`@\{([\w-]+)\}|@([\w-]+)`)
	lessEscape     = regexp.MustCompile(`~\x00(\d+)\x00`)
	lessLiteral    = regexp.MustCompile(`\x00(\d+)\x00`)
	lessOnlyFuncs  = regexp.MustCompile(`(?:^|[^\w-])(darken|lighten|desaturate|fadein|fadeout|fade|spin|mix|tint|shade|greyscale|percentage|escape|unit|luma|e)\s*\(`)
	cssAtRuleNames = map[string]bool{
		"charset": true, "import": true, "namespace": true, "media": true,
		"supports": true, "font-face": true, "keyframes": true, "page": true,
		"layer": true, "container": true, "property": true, "counter-style": true,
		"font-feature-values": true, "font-palette-values": true, "document": true,
		"viewport": true, "starting-style": true, "scope": true,
	}
)

// lessCompiler flattens a .less stylesheet into CSS. Partial imports are
// inlined once each, // comments are dropped, variables and parameterless
// mixins are expanded. Other LESS features are reported as errors rather
// than passed through as broken CSS.
type lessCompiler struct {
	entryDir   string
	literals   []string
	seen       map[string]bool
	cssImports []string
}

// compileLess returns the entry stylesheet with its LESS features resolved
func compileLess(entry string) (string, error) {
	c := &lessCompiler{entryDir: filepath.Dir(entry), seen: map[string]bool{}}
	src, err := c.load(entry)
	if err != nil {
		return "", err
	}
	if src, err = expandMixins(src); err != nil {
		return "", err
	}
	src, vars := collectVariables(src)
	if err := checkUnsupported(src); err != nil {
		return "", err
	}
	if src, err = substituteVariables(src, vars, 0); err != nil {
		return "", err
	}
	if err := checkUnsupported(src); err != nil {
		return "", err
	}

	src = lessEscape.ReplaceAllStringFunc(src, func(m string) string {
		lit := c.literal(lessEscape.FindStringSubmatch(m)[1])
		return unquote(lit)
	})
	src = lessLiteral.ReplaceAllStringFunc(src, func(m string) string {
		return c.literal(lessLiteral.FindStringSubmatch(m)[1])
	})

	if len(c.cssImports) > 0 {
		src = strings.Join(c.cssImports, "\n") + "\n" + src
	}
	return src, nil
}

// load reads one file and inlines its .less imports
func (c *lessCompiler) load(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	c.seen[abs] = true

	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(abs)
	src := c.protect(string(data))

	var loadErr error
	out := lessImport.ReplaceAllStringFunc(src, func(m string) string {
		if loadErr != nil {
			return ""
		}
		sub := lessImport.FindStringSubmatch(m)
		lit := c.literal(sub[1])
		target := unquote(lit)

		if strings.HasPrefix(lit, "url(") || strings.Contains(target, "://") || strings.HasPrefix(target, "//") {
			c.cssImports = append(c.cssImports, "@import "+lit+sub[2]+";")
			return ""
		}
		file := filepath.Join(dir, filepath.FromSlash(target))
		if strings.EqualFold(filepath.Ext(file), ".css") {
			rel, err := filepath.Rel(c.entryDir, file)
			if err != nil {
				loadErr = err
				return ""
			}
			c.cssImports = append(c.cssImports, fmt.Sprintf("@import %q%s;", "./"+filepath.ToSlash(rel), sub[2]))
			return ""
		}
		if filepath.Ext(file) == "" {
			file += ".less"
		}
		if c.seen[file] {
			return ""
		}
		if _, err := os.Stat(file); err != nil {
			loadErr = fmt.Errorf("%s: import %q not found", filepath.Base(abs), target)
			return ""
		}
		inlined, err := c.load(file)
		if err != nil {
			loadErr = err
			return ""
		}
		return inlined
	})
	return out, loadErr
}

// protect replaces strings, block comments and unquoted url() values with
// placeholders and drops // comments, so later passes only see code.
func (c *lessCompiler) protect(src string) string {
	var b strings.Builder
	for i := 0; i < len(src); {
		ch := src[i]
		switch {
		case ch == '"' || ch == '\'':
			j := i + 1
			for j < len(src) && src[j] != ch && src[j] != '\n' {
				if src[j] == '\\' {
					j++
				}
				j++
			}
			if j < len(src) && src[j] == ch {
				j++
			}
			j = min(j, len(src))
			b.WriteString(c.stash(src[i:j]))
			i = j
		case strings.HasPrefix(src[i:], "/*"):
			j := len(src)
			if end := strings.Index(src[i+2:], "*/"); end >= 0 {
				j = i + 2 + end + 2
			}
			b.WriteString(c.stash(src[i:j]))
			i = j
		case len(src)-i >= 4 && strings.EqualFold(src[i:i+4], "url("):
			rest := strings.TrimLeft(src[i+4:], " \t")
			if rest != "" && (rest[0] == '"' || rest[0] == '\'') {
				b.WriteString(src[i : i+4])
				i += 4
				continue
			}
			j := len(src)
			if end := strings.IndexByte(src[i:], ')'); end >= 0 {
				j = i + end + 1
			}
			b.WriteString(c.stash(src[i:j]))
			i = j
		case strings.HasPrefix(src[i:], "//"):
			for i < len(src) && src[i] != '\n' {
				i++
			}
		default:
			b.WriteByte(ch)
			i++
		}
	}
	return b.String()
}

func (c *lessCompiler) stash(lit string) string {
	c.literals = append(c.literals, lit)
	return "\x00" + strconv.Itoa(len(c.literals)-1) + "\x00"
}

func (c *lessCompiler) literal(idx string) string {
	n, err := strconv.Atoi(idx)
	if err != nil || n < 0 || n >= len(c.literals) {
		return ""
	}
	return c.literals[n]
}

// expandMixins removes .name() { ... } definitions and replaces every
// .name; or .name(); call with the definition's body.
func expandMixins(src string) (string, error) {
	mixins := map[string]string{}
	for offset := 0; ; {
		loc := lessMixinDef.FindStringSubmatchIndex(src[offset:])
		if loc == nil {
			break
		}
		start, open := offset+loc[0], offset+loc[1]-1
		if !atStatementStart(src, start) {
			offset = open + 1
			continue
		}
		name := src[offset+loc[2] : offset+loc[3]]
		end := matchingBrace(src, open)
		if end < 0 {
			return "", fmt.Errorf("mixin .%s(): missing closing brace", name)
		}
		body := strings.TrimSpace(src[open+1 : end])
		if body != "" && !strings.HasSuffix(body, ";") && !strings.HasSuffix(body, "}") {
			body += ";"
		}
		mixins[name] = body
		src = src[:start] + src[end+1:]
		offset = start
	}

	for depth := 0; ; depth++ {
		if depth == maxLessDepth {
			return "", errors.New("mixins nest too deeply")
		}
		var b strings.Builder
		last, expanded := 0, false
		for _, loc := range lessMixinCall.FindAllStringSubmatchIndex(src, -1) {
			if !atStatementStart(src, loc[0]) {
				continue
			}
			name := src[loc[2]:loc[3]]
			body, ok := mixins[name]
			if !ok {
				return "", fmt.Errorf("undefined mixin .%s", name)
			}
			b.WriteString(src[last:loc[0]])
			b.WriteString(body)
			last, expanded = loc[1], true
		}
		if !expanded {
			return src, nil
		}
		b.WriteString(src[last:])
		src = b.String()
	}
}

// collectVariables removes @name: value; declarations. A later declaration
// of the same name wins.
func collectVariables(src string) (string, map[string]string) {
	vars := map[string]string{}
	var b strings.Builder
	last := 0
	for _, loc := range lessVarDecl.FindAllStringSubmatchIndex(src, -1) {
		if !atStatementStart(src, loc[0]) {
			continue
		}
		vars[src[loc[2]:loc[3]]] = strings.TrimSpace(src[loc[4]:loc[5]])
		b.WriteString(src[last:loc[0]])
		last = loc[1]
	}
	b.WriteString(src[last:])
	return b.String(), vars
}

// substituteVariables replaces @name and @{name} references. At-rules are
// left alone; any other unknown name is an error.
func substituteVariables(src string, vars map[string]string, depth int) (string, error) {
	if depth == maxLessDepth {
		return "", errors.New("variables refer to each other too deeply")
	}
	var err error
	out := lessVarRef.ReplaceAllStringFunc(src, func(m string) string {
		if err != nil {
			return m
		}
		sub := lessVarRef.FindStringSubmatch(m)
		name := sub[1]
		if name == "" {
			name = sub[2]
			if cssAtRuleNames[name] || strings.HasPrefix(name, "-") {
				return m
			}
		}
		value, ok := vars[name]
		if !ok {
			err = fmt.Errorf("undefined variable @%s", name)
			return m
		}
		var resolved string
		resolved, err = substituteVariables(value, vars, depth+1)
		return resolved
	})
	return out, err
}

// checkUnsupported rejects LESS constructs that have no CSS equivalent here
func checkUnsupported(src string) error {
	if m := lessOnlyFuncs.FindStringSubmatch(src); m != nil {
		return fmt.Errorf("less function %s() is not supported", m[1])
	}
	for _, loc := range lessMixinArgs.FindAllStringSubmatchIndex(src, -1) {
		if !atStatementStart(src, loc[0]) {
			continue
		}
		if args := strings.TrimSpace(src[loc[4]:loc[5]]); args != "" {
			return fmt.Errorf("mixin .%s(%s): mixin arguments are not supported", src[loc[2]:loc[3]], args)
		}
	}
	return nil
}

// atStatementStart reports whether only whitespace separates i from the
// previous block boundary or declaration.
func atStatementStart(src string, i int) bool {
	prev := strings.TrimRight(src[:i], " \t\r\n")
	return prev == "" || strings.ContainsAny(prev[len(prev)-1:], "{;}")
}

// matchingBrace returns the index of the brace closing the one at open
func matchingBrace(src string, open int) int {
	depth := 0
	for i := open; i < len(src); i++ {
		switch src[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func unquote(lit string) string {
	if len(lit) >= 2 && (lit[0] == '"' || lit[0] == '\'') && lit[len(lit)-1] == lit[0] {
		return lit[1 : len(lit)-1]
	}
	return lit
}
