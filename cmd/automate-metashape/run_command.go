package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"automate-metashape/internal/config"
	"automate-metashape/internal/monitor"
	"automate-metashape/internal/stage"
	"automate-metashape/internal/supervisor"
)

// executorArgv builds the child command line that runs exec for configPath.
var executorArgv = func(configPath string, extra []string) ([]string, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return append([]string{self, "exec", configPath}, extra...), nil
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run CONFIG",
		Short: "Run workflow steps under the licence-retry supervisor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(args[0])
			if err != nil {
				return err
			}
			step, err := stage.Parse(ctx.flags.step)
			if err != nil {
				return err
			}
			runtime, err := config.LoadRuntime(os.Getenv)
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			argv, err := executorArgv(cfg.SourcePath, ctx.flags.args())
			if err != nil {
				return err
			}

			mon := monitor.New(runtime.Monitor, cmd.OutOrStdout(), cfg.RawLogPath(string(step), runtime.Monitor.LogDir))
			defer mon.Close()

			sup, err := supervisor.New(supervisor.Options{
				Argv:    argv,
				Env:     os.Environ(),
				Policy:  runtime.Retry,
				Monitor: mon,
				Logger:  logger,
			})
			if err != nil {
				return err
			}
			return sup.Run(cmd.Context())
		},
	}
	ctx.flags.bindStep(cmd)
	ctx.flags.bindPaths(cmd)
	return cmd
}
