package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/poltergeist/wisp/internal/engine"
	"github.com/poltergeist/wisp/pkg/config"
	"github.com/poltergeist/wisp/pkg/logger"
	"github.com/poltergeist/wisp/pkg/types"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. WISP_SERVER_PORT
const EnvPrefix = "WISP"

// Config holds the global flags. It replaces package-level variables so
// several CLI instances can coexist in tests.
type Config struct {
	ConfigFile  string
	ProjectRoot string
	Verbosity   string
	Version     string
}

// NewConfig creates a new CLI configuration with defaults
func NewConfig() *Config {
	return &Config{
		ProjectRoot: ".",
		Verbosity:   "",
		Version:     "dev",
	}
}

// project is what every command needs once configuration is loaded
type project struct {
	root    string
	file    string
	config  *types.Config
	logger  logger.Logger
	factory *engine.DependencyFactory
	deps    engine.Dependencies
}

// loadProject reads the configuration file through viper, applies WISP_*
// environment overrides and validates the result.
func (c *CLI) loadProject() (*project, error) {
	root, err := filepath.Abs(c.config.ProjectRoot)
	if err != nil {
		return nil, fmt.Errorf("invalid project root: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if c.config.ConfigFile != "" {
		v.SetConfigFile(c.config.ConfigFile)
	} else {
		v.AddConfigPath(root)
		v.SetConfigName("wisp")
	}

	file := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		file = v.ConfigFileUsed()
	}

	manager := config.NewManager()
	cfg := manager.GetDefaultConfig()
	if file != "" {
		if cfg, err = manager.LoadConfig(file); err != nil {
			return nil, err
		}
	}
	applyOverrides(v, cfg)
	if err := manager.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level := c.config.Verbosity
	if level == "" {
		level = string(cfg.Logging.Level)
	}
	if level == "" {
		level = string(types.LogLevelInfo)
	}
	if cfg.Server.LogPrefix != "" {
		c.console = logger.NewConsoleLogger(cfg.Server.LogPrefix)
		c.console.SetOutput(c.output, c.errorOut)
	}
	log := c.newLogger(cfg.Logging.File, level)
	if file != "" {
		log.Debug("Using config file", logger.WithField("file", file))
	}

	factory := engine.NewDependencyFactory(root, log, cfg)
	return &project{
		root:    root,
		file:    file,
		config:  cfg,
		logger:  log,
		factory: factory,
		deps:    factory.CreateDefaults(),
	}, nil
}

// applyOverrides copies keys viper resolved from the environment onto cfg.
// Keys read from the file are already present and are reapplied unchanged.
func applyOverrides(v *viper.Viper, cfg *types.Config) {
	str := map[string]*string{
		"server.host":       &cfg.Server.Host,
		"server.baseDir":    &cfg.Server.BaseDir,
		"server.tunnelHost": &cfg.Server.TunnelHost,
		"server.tunnelUser": &cfg.Server.TunnelUser,
		"publish.remote":    &cfg.Publish.Remote,
		"publish.branch":    &cfg.Publish.Branch,
		"logging.file":      &cfg.Logging.File,
	}
	for key, dst := range str {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	flags := map[string]*bool{
		"server.tunnel":            &cfg.Server.Tunnel,
		"server.injectChanges":     &cfg.Server.InjectChanges,
		"steps.scripts.enabled":    &cfg.Steps.Scripts.Enabled,
		"steps.images.quantizePng": &cfg.Steps.Images.QuantizePNG,
		"metrics.enabled":          &cfg.Metrics.Enabled,
		"notifications.enabled":    &cfg.Notifications.Enabled,
	}
	for key, dst := range flags {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	ints := map[string]*int{
		"server.port":            &cfg.Server.Port,
		"steps.images.pngColors": &cfg.Steps.Images.PNGColors,
	}
	for key, dst := range ints {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	if v.IsSet("logging.level") {
		cfg.Logging.Level = types.LogLevel(v.GetString("logging.level"))
	}
}
