package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"automate-metashape/internal/config"
	"automate-metashape/internal/stage"
)

func newStepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "steps [CONFIG]",
		Short: "List workflow steps and their prerequisites",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			if len(args) == 1 {
				loaded, err := ctx.ensureConfig(args[0])
				if err != nil {
					return err
				}
				cfg = loaded
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSteps(stage.Descriptors(), cfg))
			return nil
		},
	}
}

func renderSteps(descriptors []stage.Descriptor, cfg *config.Config) string {
	columns := []column{
		{header: "#", right: true},
		{header: "Step"},
		{header: "GPU"},
		{header: "Run After"},
		{header: "Enabled"},
	}
	rows := make([][]string, 0, len(descriptors))
	for i, desc := range descriptors {
		var after []string
		for _, req := range desc.Requires {
			if name := string(req.RunFirst); name != "" && !slices.Contains(after, name) {
				after = append(after, name)
			}
		}
		enabled := "-"
		if cfg != nil {
			enabled = yesNo(desc.Enabled(cfg))
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			string(desc.Name),
			yesNo(desc.GPU),
			strings.Join(after, ", "),
			enabled,
		})
	}
	return renderTable("", columns, rows)
}
