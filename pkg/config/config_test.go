package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/poltergeist/wisp/pkg/config"
	"github.com/poltergeist/wisp/pkg/types"
)

func TestLoadConfig_JSON(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "wisp.json")
	data := `{
		"version": "1.0",
		"server": {"port": 3000},
		"steps": {"scripts": {"enabled": true}}
	}`
	if err := os.WriteFile(configPath, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.NewManager().LoadConfig(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("expected port 3000, got %d", cfg.Server.Port)
	}
	if !cfg.Steps.Scripts.Enabled {
		t.Error("expected scripts to be enabled")
	}
	// untouched keys keep defaults
	if cfg.Server.Host != "localhost" {
		t.Errorf("expected default host, got %q", cfg.Server.Host)
	}
	if cfg.Paths.Build.CSS != "build/css/" {
		t.Errorf("expected default css path, got %q", cfg.Paths.Build.CSS)
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "wisp.yaml")
	data := `version: "1.0"
paths:
  preserve: [".gitignore", "humans.txt", "CNAME"]
publish:
  branch: pages
  remote: https://example.com/site.git
watch:
  settlingDelay: 250
`
	if err := os.WriteFile(configPath, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.NewManager().LoadConfig(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Publish.Branch != "pages" {
		t.Errorf("expected branch pages, got %q", cfg.Publish.Branch)
	}
	if len(cfg.Paths.Preserve) != 3 {
		t.Errorf("expected 3 preserve entries, got %v", cfg.Paths.Preserve)
	}
	if cfg.Watch.SettlingDelay != 250 {
		t.Errorf("expected settling delay 250, got %d", cfg.Watch.SettlingDelay)
	}
	if cfg.Steps.Images.JPEGQuality != 85 {
		t.Errorf("expected default jpeg quality, got %d", cfg.Steps.Images.JPEGQuality)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "wisp.json")
	if err := os.WriteFile(configPath, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := config.NewManager().LoadConfig(configPath); err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := config.NewManager().LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestGetDefaultConfig(t *testing.T) {
	manager := config.NewManager()
	cfg := manager.GetDefaultConfig()

	if err := manager.ValidateConfig(cfg); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}

	if cfg.Paths.BuildRoot != "build" {
		t.Errorf("expected build root 'build', got %q", cfg.Paths.BuildRoot)
	}
	if cfg.Server.Port != 9000 || cfg.Server.Tunnel || !cfg.Server.InjectChanges {
		t.Errorf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Publish.Branch != "gh-pages" {
		t.Errorf("expected gh-pages, got %q", cfg.Publish.Branch)
	}
	if cfg.Steps.Scripts.Enabled {
		t.Error("scripts should be disabled by default")
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*types.Config)
		wantErr string
	}{
		{
			name:    "wrong version",
			mutate:  func(c *types.Config) { c.Version = "2.0" },
			wantErr: "unsupported config version",
		},
		{
			name:    "build path outside build root",
			mutate:  func(c *types.Config) { c.Paths.Build.CSS = "public/css/" },
			wantErr: "outside build root",
		},
		{
			name:    "build root is project root",
			mutate:  func(c *types.Config) { c.Paths.BuildRoot = "." },
			wantErr: "subdirectory",
		},
		{
			name:    "build root escapes project",
			mutate:  func(c *types.Config) { c.Paths.BuildRoot = "../out" },
			wantErr: "inside the project",
		},
		{
			name: "source inside build root",
			mutate: func(c *types.Config) {
				c.Paths.Src.Style = "build/styles/style.less"
			},
			wantErr: "overlaps build root",
		},
		{
			name:    "main file with directory",
			mutate:  func(c *types.Config) { c.Paths.Build.JSMainFile = "js/main.js" },
			wantErr: "bare file name",
		},
		{
			name:    "bad port",
			mutate:  func(c *types.Config) { c.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "bad jpeg quality",
			mutate:  func(c *types.Config) { c.Steps.Images.JPEGQuality = 101 },
			wantErr: "jpeg quality",
		},
		{
			name:    "bad png colors",
			mutate:  func(c *types.Config) { c.Steps.Images.PNGColors = 300 },
			wantErr: "png colors",
		},
		{
			name:   "png colors ignored without quantizing",
			mutate: func(c *types.Config) { c.Steps.Images.QuantizePNG = false; c.Steps.Images.PNGColors = 0 },
		},
		{
			name:    "empty branch",
			mutate:  func(c *types.Config) { c.Publish.Branch = "" },
			wantErr: "publish branch",
		},
		{
			name:   "nested build path",
			mutate: func(c *types.Config) { c.Paths.Build.Img = "build/assets/img" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := config.NewManager()
			cfg := manager.GetDefaultConfig()
			tt.mutate(cfg)

			err := manager.ValidateConfig(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestFindConfig(t *testing.T) {
	dir := t.TempDir()
	manager := config.NewManager()

	if _, err := manager.FindConfig(dir); !errors.Is(err, config.ErrNoConfig) {
		t.Fatalf("expected ErrNoConfig, got %v", err)
	}

	path := filepath.Join(dir, "wisp.yml")
	if err := os.WriteFile(path, []byte(`version: "1.0"`), 0o644); err != nil {
		t.Fatal(err)
	}

	found, err := manager.FindConfig(dir)
	if err != nil || found != path {
		t.Errorf("FindConfig() = %q, %v", found, err)
	}
}

func TestLoadOrDefault_NoFile(t *testing.T) {
	cfg, path, err := config.NewManager().LoadOrDefault("", t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected no path, got %q", path)
	}
	if cfg.Paths.BuildRoot != "build" {
		t.Error("expected defaults")
	}
}

func TestWriteConfig_RoundTrip(t *testing.T) {
	manager := config.NewManager()
	path := filepath.Join(t.TempDir(), "wisp.yaml")

	cfg := manager.GetDefaultConfig()
	cfg.Server.Port = 8080
	if err := manager.WriteConfig(path, cfg); err != nil {
		t.Fatalf("WriteConfig() error = %v", err)
	}

	loaded, err := manager.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if loaded.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", loaded.Server.Port)
	}
}
