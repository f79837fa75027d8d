package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/poltergeist/wisp/internal/engine"
	"github.com/poltergeist/wisp/pkg/types"
	"github.com/poltergeist/wisp/pkg/utils"
	"github.com/spf13/cobra"
)

var stepDescriptions = map[types.StepName]string{
	types.StepClean:     "Remove generated files from the build root",
	types.StepTemplates: "Render HTML templates and markdown pages",
	types.StepScripts:   "Concatenate and minify scripts",
	types.StepStyles:    "Compile and minify stylesheets",
	types.StepImages:    "Optimize images into the build root",
	types.StepPublish:   "Push the build root to the publish branch",
}

// newStepCmds creates one command per step. Each runs its step alone.
func (c *CLI) newStepCmds() []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(types.BuildSequence))
	for _, name := range types.BuildSequence {
		name := name
		cmds = append(cmds, &cobra.Command{
			Use:   string(name),
			Short: stepDescriptions[name],
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.runSteps(cmd.Context(), name)
			},
		})
	}
	return cmds
}

func (c *CLI) newBuildCmd() *cobra.Command {
	var skipPublish bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Run the full build sequence",
		Long: `Run clean, render-templates, render-scripts, render-stylesheets,
optimize-images and publish in that order. The first failing step stops the build.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := types.StepPublish
			if skipPublish {
				target = types.StepImages
			}
			return c.runBuild(cmd.Context(), target)
		},
	}
	cmd.Flags().BoolVar(&skipPublish, "skip-publish", false, "stop after optimize-images")
	return cmd
}

func (c *CLI) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last run of every step",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runStatus()
		},
	}
}

func (c *CLI) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List steps, their order and watch patterns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runList()
		},
	}
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of wisp",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.output, "👻 wisp v%s\n", c.config.Version)
		},
	}
}

func (c *CLI) runSteps(ctx context.Context, names ...types.StepName) error {
	p, err := c.loadProject()
	if err != nil {
		return err
	}
	orch, err := p.factory.CreateOrchestrator(p.deps)
	if err != nil {
		return err
	}
	results, err := orch.Run(ctx, names...)
	c.reportDisabled(results)
	return err
}

func (c *CLI) runBuild(ctx context.Context, target types.StepName) error {
	p, err := c.loadProject()
	if err != nil {
		return err
	}
	orch, err := p.factory.CreateOrchestrator(p.deps)
	if err != nil {
		return err
	}
	results, err := orch.Build(ctx, target)
	c.reportDisabled(results)
	return err
}

func (c *CLI) reportDisabled(results []types.StepResult) {
	for _, r := range results {
		if r.Status == types.StepStatusSkipped && errors.Is(r.Err, engine.ErrStepDisabled) {
			c.printWarning(fmt.Sprintf("%s is disabled in the configuration", r.Step))
		}
	}
}

func (c *CLI) runStatus() error {
	p, err := c.loadProject()
	if err != nil {
		return err
	}
	states, err := p.deps.State.All()
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tSTATUS\tLAST RUN\tDURATION\tWRITTEN\tRUNS\tFAILURES")
	fmt.Fprintln(w, "----\t------\t--------\t--------\t-------\t----\t--------")

	var failures []string
	for _, st := range states {
		status := string(st.Status)
		statusColor := color.WhiteString(status)
		switch st.Status {
		case types.StepStatusSucceeded:
			statusColor = color.GreenString(status)
		case types.StepStatusFailed:
			statusColor = color.RedString(status)
			if st.LastError != "" {
				failures = append(failures, fmt.Sprintf("%s: %s", st.Step, firstLine(st.LastError)))
			}
		case types.StepStatusRunning:
			statusColor = color.YellowString(status)
		}

		lastRun, duration := "-", "-"
		if !st.LastRun.IsZero() {
			lastRun = humanize.Time(st.LastRun)
			duration = st.Duration.Round(time.Millisecond).String()
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			st.Step, statusColor, lastRun, duration, st.Written, st.RunCount, st.FailureCount)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	buildRoot := filepath.Join(p.root, filepath.FromSlash(p.config.Paths.BuildRoot))
	if size, err := utils.GetDirectorySize(buildRoot); err == nil {
		fmt.Fprintf(c.output, "\nBuild root %s: %s\n", p.config.Paths.BuildRoot, utils.FormatBytes(size))
	}

	for _, f := range failures {
		c.printError(f)
	}
	return nil
}

func (c *CLI) runList() error {
	p, err := c.loadProject()
	if err != nil {
		return err
	}
	graph, err := p.factory.CreateGraph()
	if err != nil {
		return err
	}

	patterns := make(map[types.StepName][]string)
	for _, rule := range engine.RulesFromConfig(p.config) {
		patterns[rule.Step] = append(patterns[rule.Step], rule.Pattern)
	}

	if p.file != "" {
		c.printInfo(fmt.Sprintf("Configuration: %s", p.file))
	} else {
		c.printInfo("Configuration: defaults")
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tENABLED\tAFTER\tWATCH")
	fmt.Fprintln(w, "----\t-------\t-----\t-----")
	for _, name := range graph.Names() {
		step, _ := graph.Step(name)
		enabled := "✓"
		if !step.Enabled() {
			enabled = "✗"
		}
		deps, err := graph.Dependencies(name)
		if err != nil {
			return err
		}
		after := "-"
		if len(deps) > 0 {
			after = joinNames(deps)
		}
		watch := "-"
		if len(patterns[name]) > 0 {
			watch = strings.Join(patterns[name], ", ")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, enabled, after, watch)
	}
	return w.Flush()
}

func joinNames(names []types.StepName) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = string(n)
	}
	return strings.Join(parts, ", ")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
