package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// PatternMatcher handles glob pattern matching with ** and {a,b} support
type PatternMatcher struct {
	patterns []string
}

// NewPatternMatcher creates a new pattern matcher
func NewPatternMatcher(patterns []string) (*PatternMatcher, error) {
	normalized := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = NormalizePattern(pattern)
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid pattern: %s", pattern)
		}
		normalized = append(normalized, pattern)
	}
	return &PatternMatcher{patterns: normalized}, nil
}

// Match checks if a path matches any pattern
func (pm *PatternMatcher) Match(path string) bool {
	path = NormalizePattern(path)
	for _, pattern := range pm.patterns {
		if doublestar.MatchUnvalidated(pattern, path) {
			return true
		}
	}
	return false
}

// NormalizePattern normalizes a file pattern
func NormalizePattern(pattern string) string {
	pattern = strings.ReplaceAll(pattern, "\\", "/")
	pattern = strings.TrimPrefix(pattern, "./")
	if len(pattern) > 1 {
		pattern = strings.TrimSuffix(pattern, "/")
	}
	return pattern
}

// SplitPattern splits a pattern into its static base directory and the glob
// part relative to it: "src/img/**/*.*" -> ("src/img", "**/*.*").
func SplitPattern(pattern string) (base, glob string) {
	pattern = NormalizePattern(pattern)
	return doublestar.SplitPattern(pattern)
}

// Glob returns the regular files under root matching pattern (relative to
// root), sorted so that callers see a stable order. A missing root yields no
// matches.
func Glob(root, pattern string) ([]string, error) {
	if root == "" {
		root = "."
	}
	pattern = NormalizePattern(pattern)
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern: %s", pattern)
	}

	matches, err := doublestar.Glob(
		os.DirFS(root),
		pattern,
		doublestar.WithFilesOnly(),
	)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}

	sort.Strings(matches)
	for i, m := range matches {
		matches[i] = filepath.Join(root, filepath.FromSlash(m))
	}
	return matches, nil
}

// ExclusionMatcher handles exclusion patterns for the watcher
type ExclusionMatcher struct {
	patterns []string
	matcher  *PatternMatcher
}

// NewExclusionMatcher creates a new exclusion matcher. Patterns without a
// slash, such as "node_modules" or "*.swp", apply at any depth.
func NewExclusionMatcher(patterns []string) (*ExclusionMatcher, error) {
	all := make([]string, 0, len(patterns)*2)
	for _, pattern := range patterns {
		if !strings.Contains(pattern, "/") {
			all = append(all, "**/"+pattern, "**/"+pattern+"/**")
			continue
		}
		all = append(all, pattern)
	}

	matcher, err := NewPatternMatcher(all)
	if err != nil {
		return nil, err
	}

	return &ExclusionMatcher{
		patterns: patterns,
		matcher:  matcher,
	}, nil
}

// IsExcluded checks if a path should be excluded
func (em *ExclusionMatcher) IsExcluded(path string) bool {
	return em.matcher.Match(path)
}

// GetDefaultExclusions returns default exclusion patterns for the watcher
func GetDefaultExclusions() []string {
	return []string{
		".git",
		".wisp",
		"node_modules",
		".cache",
		".idea",
		".vscode",
		"*.swp",
		"*.swo",
		"*~",
		".DS_Store",
		"Thumbs.db",
		"*.tmp",
	}
}
