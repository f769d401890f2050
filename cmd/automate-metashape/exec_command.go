package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"automate-metashape/internal/config"
	"automate-metashape/internal/engine"
	"automate-metashape/internal/metrics"
	"automate-metashape/internal/pipeline"
	"automate-metashape/internal/stage"
	"automate-metashape/internal/workflow"
)

func newExecCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:    "exec CONFIG",
		Short:  "Run workflow steps in this process without supervision",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(args[0])
			if err != nil {
				return err
			}
			if _, err := stage.Parse(ctx.flags.step); err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, os.Interrupt)
			defer stop()

			console := cmd.OutOrStdout()
			var eng engine.Engine
			switch cfg.Engine.Kind {
			case config.EngineSimulated:
				eng = engine.NewSimulated(console)
			default:
				command, err := engine.NewCommand(cfg.Engine.Command, console, cmd.ErrOrStderr(), logger)
				if err != nil {
					return err
				}
				eng = command
			}

			registry, err := pipeline.NewRegistry()
			if err != nil {
				return err
			}
			runLog := metrics.NewRunLog(cfg.RunLogPath())
			recorder := metrics.NewRecorder(metrics.Options{
				RunLog:      runLog,
				MetricsPath: cfg.MetricsPath(),
				Logger:      logger,
			})
			system := recorder.System(runCtx)

			mgr := workflow.NewManager(cfg, workflow.Options{
				Engine:   eng,
				Registry: registry,
				Logger:   logger,
				Tracker:  recorder,
				RunLog:   runLog,
				Host: stage.Host{
					Node:     system.Node,
					CPU:      system.CPUModel,
					GPUCount: system.GPUCount,
					GPUModel: system.GPUModel,
				},
				Console: console,
			})
			return mgr.Run(runCtx, ctx.flags.step)
		},
	}
	ctx.flags.bindStep(cmd)
	ctx.flags.bindPaths(cmd)
	return cmd
}
