package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/poltergeist/wisp/pkg/config"
	"github.com/poltergeist/wisp/pkg/types"
	"github.com/poltergeist/wisp/pkg/utils"
	"github.com/spf13/cobra"
)

type initOptions struct {
	format   string
	force    bool
	scaffold bool
}

func (c *CLI) newInitCmd() *cobra.Command {
	var opts initOptions

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default wisp configuration",
		Long: `Write wisp.yaml (or wisp.json) with the default paths into the project root.
Scripts are enabled when the project already has sources under src/js.
With --scaffold, starter sources and the build root markers are created too.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runInit(opts)
		},
	}

	cmd.Flags().StringVar(&opts.format, "format", "yaml", "config format (yaml, json)")
	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "overwrite existing configuration")
	cmd.Flags().BoolVar(&opts.scaffold, "scaffold", false, "create starter sources")
	return cmd
}

func (c *CLI) runInit(opts initOptions) error {
	root, err := filepath.Abs(c.config.ProjectRoot)
	if err != nil {
		return err
	}

	var name string
	switch opts.format {
	case "yaml", "yml":
		name = "wisp.yaml"
	case "json":
		name = "wisp.json"
	default:
		return fmt.Errorf("unsupported format %q (use yaml or json)", opts.format)
	}
	path := filepath.Join(root, name)
	if c.config.ConfigFile != "" {
		path = c.config.ConfigFile
	}

	manager := config.NewManager()
	if !opts.force {
		if existing, err := manager.FindConfig(root); err == nil {
			return fmt.Errorf("configuration already exists at %s. Use --force to overwrite", existing)
		}
		if utils.FileExists(path) {
			return fmt.Errorf("configuration already exists at %s. Use --force to overwrite", path)
		}
	}

	cfg := manager.GetDefaultConfig()
	if hasScripts(root, cfg) {
		cfg.Steps.Scripts.Enabled = true
		c.printInfo("Found scripts under src/js, enabling render-scripts")
	}

	if filepath.Ext(path) == ".json" {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		if err := utils.WriteFile(path, append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	} else if err := manager.WriteConfig(path, cfg); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	c.printSuccess(fmt.Sprintf("Created configuration at %s", path))

	if opts.scaffold {
		created, err := scaffold(root, cfg)
		if err != nil {
			return err
		}
		for _, f := range created {
			c.printInfo("Created " + f)
		}
	}
	return nil
}

func hasScripts(root string, cfg *types.Config) bool {
	for _, pattern := range []string{cfg.Paths.Src.JSVendor, cfg.Paths.Src.JSCustom} {
		if pattern == "" {
			continue
		}
		matches, err := utils.Glob(root, pattern)
		if err == nil && len(matches) > 0 {
			return true
		}
	}
	return false
}

var starterFiles = []struct {
	path     string
	contents string
}{
	{"src/templates/_layout.html", `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Page.Title}}</title>
<link rel="stylesheet" href="/css/style.min.css">
</head>
<body>
{{.Content}}
</body>
</html>
`},
	{"src/templates/index.md", `---
title: Home
layout: _layout
---
# Hello from wisp
`},
	{"src/styles/style.less", `@import "_base.less";
`},
	{"src/styles/_base.less", `body { font-family: sans-serif; margin: 0 auto; max-width: 40em; }
`},
	{"build/.gitignore", "*\n!.gitignore\n!humans.txt\n"},
	{"build/humans.txt", "/* TEAM */\n"},
}

// scaffold writes the starter files that do not exist yet
func scaffold(root string, cfg *types.Config) ([]string, error) {
	var created []string
	for _, f := range starterFiles {
		path := filepath.Join(root, filepath.FromSlash(f.path))
		if utils.FileExists(path) {
			continue
		}
		if err := utils.WriteFile(path, []byte(f.contents)); err != nil {
			return created, fmt.Errorf("failed to create %s: %w", f.path, err)
		}
		created = append(created, f.path)
	}
	if err := utils.EnsureDirectory(filepath.Join(root, filepath.FromSlash(cfg.Paths.BuildRoot))); err != nil {
		return created, err
	}
	return created, nil
}
