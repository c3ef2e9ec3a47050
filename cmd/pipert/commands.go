package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Elon-Abulafia/PipeRT/component"
	"github.com/Elon-Abulafia/PipeRT/componentregistry"
	"github.com/Elon-Abulafia/PipeRT/config"
	"github.com/Elon-Abulafia/PipeRT/errors"
	"github.com/Elon-Abulafia/PipeRT/health"
	"github.com/Elon-Abulafia/PipeRT/metric"
)

// metricsStopTimeout bounds the metrics server shutdown after the last
// component stopped
const metricsStopTimeout = 5 * time.Second

func newRootCmd() *cobra.Command {
	return newRootCmdWith(componentregistry.Default())
}

func newRootCmdWith(registry *componentregistry.Registry) *cobra.Command {
	flags := &cliFlags{}

	root := &cobra.Command{
		Use:   appName,
		Short: "Run real-time stream processing components",
		Long: `pipert runs pipelines of components that exchange envelopes over a
stream store (in-memory, NATS JetStream or MQTT).

Each component owns bounded queues and routines. A slow consumer never
blocks its producer: the oldest queued item is dropped instead.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.register(root.PersistentFlags())

	root.AddCommand(
		newRunCmd(flags, registry),
		newValidateCmd(flags, registry),
		newVersionCmd(),
	)
	return root
}

func newRunCmd(flags *cliFlags, registry *componentregistry.Registry) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every enabled component until stopped",
		Long: `Run builds every enabled component, starts them and waits until all of
them have stopped (SIGINT/SIGTERM, POST /stop on a control endpoint, or a
component failure). The exit code is 1 when any component failed.`,
		Example: `  pipert run --config pipert.yaml
  pipert run -c base.yaml -c site.yaml --log-level debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := setupLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			slog.SetDefault(logger)

			logger.Info("Starting PipeRT",
				"build_time", BuildTime,
				"config", strings.Join(flags.ConfigPaths, ","),
				"components", len(cfg.Components))
			return runComponents(cmd.Context(), cfg, registry, logger)
		},
	}
}

// runComponents runs every enabled component concurrently and reports the
// first failure
func runComponents(ctx context.Context, cfg *config.Config, registry *componentregistry.Registry, logger *slog.Logger) error {
	metrics := metric.NewMetricsRegistry()
	comps, err := registry.Build(cfg, componentregistry.Dependencies{
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}
	if len(comps) == 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: no enabled components", errors.ErrMissingConfig),
			"pipert", "run", "build components")
	}

	g, gctx := errgroup.WithContext(ctx)

	var srv *metric.Server
	if cfg.Metrics.Enabled {
		srv = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metrics)
		g.Go(srv.Start)
		logger.Info("Metrics server enabled", "address", srv.Address())
	}

	monitor := health.NewMonitor()
	var running sync.WaitGroup
	for _, c := range comps {
		running.Add(1)
		g.Go(func() error {
			defer running.Done()
			status := c.Run(gctx)
			monitor.Update(c.Name(), c.Health())
			logger.Info("Component stopped", "component", c.Name(), "status", status)
			if status != component.StatusOK {
				return fmt.Errorf("component %s exited with status %d", c.Name(), status)
			}
			return nil
		})
	}

	if srv != nil {
		g.Go(func() error {
			running.Wait()
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsStopTimeout)
			defer cancel()
			return srv.Stop(stopCtx)
		})
	}

	err = g.Wait()
	final := monitor.AggregateHealth(appName)
	logger.Info("Final component health", "level", final.Level, "message", final.Message)
	if err != nil {
		return err
	}
	logger.Info("PipeRT shutdown complete")
	return nil
}

func newValidateCmd(flags *cliFlags, registry *componentregistry.Registry) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration without starting anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			var enabled []string
			for _, name := range cfg.Components.Names() {
				cc := cfg.Components[name]
				if err := registry.Check(name, cc); err != nil {
					return fmt.Errorf("invalid configuration: %w", err)
				}
				if cc.IsEnabled() {
					enabled = append(enabled, name)
				}
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "configuration valid: %d enabled component(s) %v\n", len(enabled), enabled)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build %s)\n", appName, Version, BuildTime)
		},
	}
}
