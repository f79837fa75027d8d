// Package config handles configuration loading and management
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/poltergeist/wisp/pkg/types"
	"github.com/poltergeist/wisp/pkg/utils"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is the only configuration version understood
const CurrentVersion = "1.0"

// FileNames are probed in order by FindConfig
var FileNames = []string{"wisp.yaml", "wisp.yml", "wisp.json"}

// ErrNoConfig is returned by FindConfig when no configuration file exists
var ErrNoConfig = errors.New("no wisp configuration found")

// Manager handles configuration operations
type Manager struct{}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{}
}

// FindConfig returns the first configuration file present in dir
func (m *Manager) FindConfig(dir string) (string, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if utils.FileExists(path) {
			return path, nil
		}
	}
	return "", ErrNoConfig
}

// LoadConfig loads configuration from a file. Keys absent from the file keep
// their default values.
func (m *Manager) LoadConfig(path string) (*types.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return m.ParseConfig(data, filepath.Ext(path))
}

// ParseConfig decodes JSON or YAML over the defaults and validates the result
func (m *Manager) ParseConfig(data []byte, ext string) (*types.Config, error) {
	cfg := m.GetDefaultConfig()

	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config as JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config as YAML: %w", err)
		}
	default:
		// Try JSON first
		if err := json.Unmarshal(data, cfg); err != nil {
			cfg = m.GetDefaultConfig()
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config as JSON or YAML")
			}
		}
	}

	if err := m.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when it is set, otherwise the first config file
// found in dir, otherwise the defaults.
func (m *Manager) LoadOrDefault(path, dir string) (*types.Config, string, error) {
	if path == "" {
		found, err := m.FindConfig(dir)
		if errors.Is(err, ErrNoConfig) {
			return m.GetDefaultConfig(), "", nil
		}
		path = found
	}
	cfg, err := m.LoadConfig(path)
	return cfg, path, err
}

// WriteConfig writes cfg as YAML
func (m *Manager) WriteConfig(path string, cfg *types.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return utils.WriteFile(path, data)
}

// ValidateConfig validates a configuration
func (m *Manager) ValidateConfig(cfg *types.Config) error {
	if cfg.Version != CurrentVersion {
		return fmt.Errorf("unsupported config version: %s", cfg.Version)
	}

	if err := validatePaths(&cfg.Paths); err != nil {
		return err
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Server.BaseDir == "" {
		return fmt.Errorf("server base dir must be set")
	}

	if q := cfg.Steps.Images.JPEGQuality; q < 1 || q > 100 {
		return fmt.Errorf("jpeg quality must be between 1 and 100, got %d", q)
	}
	if n := cfg.Steps.Images.PNGColors; cfg.Steps.Images.QuantizePNG && (n < 2 || n > 256) {
		return fmt.Errorf("png colors must be between 2 and 256, got %d", n)
	}

	if cfg.Publish.Branch == "" {
		return fmt.Errorf("publish branch must be set")
	}

	if cfg.Watch.SettlingDelay < 0 {
		return fmt.Errorf("settling delay must not be negative")
	}

	return nil
}

// validatePaths enforces that every build path lives under the build root
// and that the build root is disjoint from the project root and the sources.
func validatePaths(p *types.PathTable) error {
	root := cleanRel(p.BuildRoot)
	if root == "" || root == "." {
		return fmt.Errorf("build root must be a subdirectory of the project, got %q", p.BuildRoot)
	}
	if strings.HasPrefix(root, "../") || root == ".." || filepath.IsAbs(p.BuildRoot) {
		return fmt.Errorf("build root must be inside the project, got %q", p.BuildRoot)
	}

	build := map[string]string{
		"html": p.Build.HTML,
		"js":   p.Build.JS,
		"css":  p.Build.CSS,
		"img":  p.Build.Img,
	}
	for role, path := range build {
		if !within(root, cleanRel(path)) {
			return fmt.Errorf("build path %s (%q) is outside build root %q", role, path, p.BuildRoot)
		}
	}

	if p.Build.JSMainFile == "" || strings.ContainsAny(p.Build.JSMainFile, `/\`) {
		return fmt.Errorf("js main file must be a bare file name, got %q", p.Build.JSMainFile)
	}

	sources := append([]string{p.Src.JSVendor, p.Src.JSCustom, p.Src.Style, p.Src.Img}, p.Src.Templates...)
	for _, src := range sources {
		if src == "" {
			continue
		}
		base, _ := utils.SplitPattern(src)
		base = cleanRel(base)
		if base == "." || within(root, base) || within(base, root) {
			return fmt.Errorf("source %q overlaps build root %q", src, p.BuildRoot)
		}
	}

	return nil
}

func cleanRel(path string) string {
	if path == "" {
		return ""
	}
	return filepath.ToSlash(filepath.Clean(path))
}

// within reports whether path equals root or lies below it
func within(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+"/")
}

// GetDefaultConfig returns the default configuration
func (m *Manager) GetDefaultConfig() *types.Config {
	return &types.Config{
		Version: CurrentVersion,
		Paths: types.PathTable{
			BuildRoot: "build",
			Build: types.BuildPaths{
				HTML:       "build/",
				JS:         "build/js/",
				JSMainFile: "main.js",
				CSS:        "build/css/",
				Img:        "build/img/",
			},
			Src: types.SourcePaths{
				Templates: []string{"src/templates/**/*.html", "src/templates/**/*.md"},
				JSVendor:  "src/js/vendor.js",
				JSCustom:  "src/js/custom.js",
				Style:     "src/styles/style.less",
				Img:       "src/img/**/*.*",
			},
			Watch: types.WatchPaths{
				Templates: "src/templates/**/*",
				JS:        "src/js/**/*.js",
				Style:     "src/styles/**/*.{less,css}",
				Img:       "src/img/**/*.*",
			},
			Preserve: []string{".gitignore", "humans.txt"},
		},
		Server: types.ServerConfig{
			BaseDir:       "build",
			Host:          "localhost",
			Port:          9000,
			Tunnel:        false,
			TunnelHost:    "localhost.run:22",
			TunnelUser:    "nokey",
			InjectChanges: true,
			LogPrefix:     "wisp",
		},
		Steps: types.StepsConfig{
			Templates: types.TemplatesConfig{Pretty: true},
			Scripts:   types.ScriptsConfig{Enabled: false},
			Styles: types.StylesConfig{
				Browsers:  []string{"chrome58", "firefox57", "safari11", "edge16"},
				SourceMap: true,
			},
			Images: types.ImagesConfig{JPEGQuality: 85, QuantizePNG: true, PNGColors: 256},
		},
		Publish: types.PublishConfig{
			Branch:      "gh-pages",
			CacheDir:    ".wisp/publish",
			Message:     "Update {{timestamp}}",
			AuthorName:  "wisp",
			AuthorEmail: "wisp@localhost",
		},
		Watch: types.WatchConfig{
			SettlingDelay: 100,
			ExcludeDirs:   utils.GetDefaultExclusions(),
		},
		Notifications: types.NotificationConfig{Enabled: true},
		Logging: types.LoggingConfig{
			Level: types.LogLevelInfo,
		},
		Metrics: types.MetricsConfig{Enabled: true},
	}
}
