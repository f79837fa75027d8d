package cli

import (
	"context"
	"fmt"

	"github.com/poltergeist/wisp/internal/engine"
	"github.com/poltergeist/wisp/internal/watcher"
	"github.com/poltergeist/wisp/pkg/devserver"
	"github.com/poltergeist/wisp/pkg/logger"
	"github.com/poltergeist/wisp/pkg/process"
	"github.com/poltergeist/wisp/pkg/types"
	"github.com/spf13/cobra"
)

type watchOptions struct {
	noBuild bool
	port    int
	tunnel  bool
}

func (c *CLI) addServerFlags(cmd *cobra.Command, opts *watchOptions) {
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "port to listen on (default from config)")
	cmd.Flags().BoolVar(&opts.tunnel, "tunnel", false, "expose the server through the configured SSH tunnel")
}

func (c *CLI) newServeCmd() *cobra.Command {
	var opts watchOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the build root with live reload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runServe(cmd.Context(), opts)
		},
	}
	c.addServerFlags(cmd, &opts)
	return cmd
}

func (c *CLI) newWatchCmd() *cobra.Command {
	var opts watchOptions
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Serve the build root and rebuild steps when their sources change",
		Long: `Serve the build root, build once without publishing, then watch the
sources. A change re-runs only the steps whose watch pattern matches it;
browsers reload after a step writes output.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runWatch(cmd.Context(), opts)
		},
	}
	c.addServerFlags(cmd, &opts)
	cmd.Flags().BoolVar(&opts.noBuild, "no-build", false, "skip the initial build")
	return cmd
}

func (opts watchOptions) apply(cfg *types.Config) {
	if opts.port > 0 {
		cfg.Server.Port = opts.port
	}
	if opts.tunnel {
		cfg.Server.Tunnel = true
	}
}

func (c *CLI) newServer(p *project) *devserver.Server {
	return devserver.New(p.root, p.config.Server, p.logger.WithStep("server"),
		devserver.WithMetrics(p.deps.Metrics))
}

func (c *CLI) runServe(ctx context.Context, opts watchOptions) error {
	p, err := c.loadProject()
	if err != nil {
		return err
	}
	opts.apply(p.config)

	pm := process.NewManager(p.logger)
	ctx, cancel := pm.Context(ctx)
	defer cancel()

	srv := c.newServer(p)
	group, gctx := engine.NewSafeGroup(ctx, p.logger)
	group.Go(func() error { return srv.Serve(gctx) })
	group.Go(func() error { return c.announce(gctx, srv, p) })
	return group.Wait()
}

func (c *CLI) runWatch(ctx context.Context, opts watchOptions) error {
	p, err := c.loadProject()
	if err != nil {
		return err
	}
	opts.apply(p.config)
	log := p.logger

	pm := process.NewManager(log)
	ctx, cancel := pm.Context(ctx)
	defer cancel()

	orch, err := p.factory.CreateOrchestrator(p.deps)
	if err != nil {
		return err
	}
	dispatcher, err := p.factory.CreateDispatcher(orch, p.deps)
	if err != nil {
		return err
	}
	w, err := watcher.New(p.root, watcher.Options{
		Settling:   p.config.Watch.SettlingDuration(),
		Exclude:    p.config.Watch.ExcludeDirs,
		IgnoreDirs: []string{p.config.Paths.BuildRoot, ".wisp", ".git"},
	}, log.WithStep("watch"))
	if err != nil {
		return err
	}
	pm.OnShutdown(dispatcher.Wait)

	srv := c.newServer(p)
	orch.SetReloader(srv)

	group, gctx := engine.NewSafeGroup(ctx, log)
	group.Go(func() error { return srv.Serve(gctx) })
	group.Go(func() error { return c.announce(gctx, srv, p) })
	group.Go(func() error {
		return whenServing(gctx, srv.Ready(), func() error {
			return c.buildAndWatch(gctx, opts, orch, dispatcher, w, log)
		})
	})
	return group.Wait()
}

// buildAndWatch runs the initial build unless disabled, then watches the sources
func (c *CLI) buildAndWatch(ctx context.Context, opts watchOptions, orch *engine.Orchestrator,
	dispatcher *engine.Dispatcher, w *watcher.Watcher, log logger.Logger) error {
	if !opts.noBuild {
		c.initialBuild(ctx, orch)
	}
	if ctx.Err() != nil {
		return nil
	}

	for _, rule := range dispatcher.Rules() {
		log.Info(fmt.Sprintf("Watching %s", rule.Pattern), logger.WithField("step", rule.Step))
	}
	return w.Run(ctx, func(ev watcher.FileEvent) {
		if ev.IsDir {
			return
		}
		if triggered := dispatcher.Dispatch(ctx, ev.Rel); len(triggered) == 0 {
			log.Debug("Change matches no step", logger.WithField("file", ev.Rel))
		}
	})
}

// initialBuild runs the sequence up to optimize-images. A failure is
// reported and watching continues so the next edit can fix it.
func (c *CLI) initialBuild(ctx context.Context, orch *engine.Orchestrator) {
	c.printInfo("Initial build")
	if _, err := orch.Build(ctx, types.StepImages); err != nil && ctx.Err() == nil {
		c.printWarning(fmt.Sprintf("Initial build failed, watching anyway: %v", err))
	}
}

// whenServing calls fn once ready is closed. It returns nil without calling
// fn if ctx ends first.
func whenServing(ctx context.Context, ready <-chan struct{}, fn func() error) error {
	select {
	case <-ctx.Done():
		return nil
	case <-ready:
	}
	return fn()
}

// announce reports the server address once it is listening
func (c *CLI) announce(ctx context.Context, srv *devserver.Server, p *project) error {
	return whenServing(ctx, srv.Ready(), func() error {
		url := srv.URL()
		c.printSuccess("Open " + url)
		if p.deps.Notifier != nil {
			p.deps.Notifier.NotifyServing(url)
		}
		return nil
	})
}
