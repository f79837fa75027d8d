// Package cli provides the command-line interface for wisp
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/poltergeist/wisp/pkg/logger"
	"github.com/spf13/cobra"
)

// CLI owns the command tree and its output streams
type CLI struct {
	config    *Config
	rootCmd   *cobra.Command
	console   *logger.ConsoleLogger
	output    io.Writer
	errorOut  io.Writer
	newLogger func(file, level string) logger.Logger
}

// NewCLI creates a CLI writing to stdout and stderr
func NewCLI(config *Config) *CLI {
	if config == nil {
		config = NewConfig()
	}
	c := &CLI{
		config:    config,
		output:    os.Stdout,
		errorOut:  os.Stderr,
		console:   logger.NewConsoleLogger("wisp"),
		newLogger: logger.CreateLogger,
	}
	c.setupCommands()
	return c
}

// NewCLIWithOutput creates a CLI with custom output writers (for testing)
func NewCLIWithOutput(config *Config, output, errorOut io.Writer) *CLI {
	c := NewCLI(config)
	c.output = output
	c.errorOut = errorOut
	c.console.SetOutput(output, errorOut)
	c.newLogger = func(file, level string) logger.Logger {
		return logger.CreateLoggerWithOutput(file, level, output)
	}
	c.rootCmd.SetOut(output)
	c.rootCmd.SetErr(errorOut)
	return c
}

// Execute runs the CLI with the given arguments
func (c *CLI) Execute(args []string) error {
	return c.ExecuteContext(context.Background(), args)
}

// ExecuteContext runs the CLI with context support
func (c *CLI) ExecuteContext(ctx context.Context, args []string) error {
	c.rootCmd.SetArgs(args)
	return c.rootCmd.ExecuteContext(ctx)
}

func (c *CLI) setupCommands() {
	c.rootCmd = &cobra.Command{
		Use:   "wisp",
		Short: "A tiny static front-end builder that haunts your sources",
		Long: `👻 wisp - templates, scripts, stylesheets and images into a build tree

Without a subcommand wisp serves the build root with live reload and rebuilds
a single step whenever one of its sources changes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runWatch(cmd.Context(), watchOptions{})
		},
	}

	flags := c.rootCmd.PersistentFlags()
	flags.StringVar(&c.config.ConfigFile, "config", "", "config file (default: wisp.yaml in the project root)")
	flags.StringVar(&c.config.ProjectRoot, "root", c.config.ProjectRoot, "project root directory")
	flags.StringVarP(&c.config.Verbosity, "verbosity", "v", c.config.Verbosity, "log level (debug, info, warn, error)")

	c.rootCmd.Version = c.config.Version
	c.rootCmd.SetVersionTemplate("👻 wisp v{{.Version}}\n")

	c.rootCmd.AddCommand(c.newStepCmds()...)
	c.rootCmd.AddCommand(
		c.newBuildCmd(),
		c.newServeCmd(),
		c.newWatchCmd(),
		c.newStatusCmd(),
		c.newListCmd(),
		c.newInitCmd(),
		c.newVersionCmd(),
	)
}

func (c *CLI) printSuccess(message string) {
	c.console.Success(message)
}

func (c *CLI) printError(message string) {
	c.console.Error(message)
}

func (c *CLI) printInfo(message string) {
	c.console.Info(message)
}

func (c *CLI) printWarning(message string) {
	c.console.Warn(message)
}

// Main runs the CLI for os.Args and returns the process exit code
func Main(ctx context.Context, version string) int {
	cfg := NewConfig()
	cfg.Version = version
	c := NewCLI(cfg)
	if err := c.ExecuteContext(ctx, os.Args[1:]); err != nil {
		c.printError(fmt.Sprintf("%v", err))
		return 1
	}
	return 0
}
