package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"automate-metashape/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check CONFIG",
		Short: "Verify directories and external binaries before a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(args[0])
			if err != nil {
				return err
			}
			results := preflight.RunAll(cfg)
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, r := range results {
				kind := statusOK
				switch {
				case !r.Passed:
					kind = statusError
				case r.Degraded:
					kind = statusWarn
				}
				fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}
			if !preflight.Passed(results) {
				return errors.New("preflight checks failed")
			}
			return nil
		},
	}
	ctx.flags.bindPaths(cmd)
	return cmd
}
