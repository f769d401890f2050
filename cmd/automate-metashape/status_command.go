package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"automate-metashape/internal/config"
	"automate-metashape/internal/project"
	"automate-metashape/internal/workflow"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status CONFIG",
		Short: "Show project artifacts and step history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(args[0])
			if err != nil {
				return err
			}
			summary, err := workflow.Status(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			renderStatus(out, cfg, summary, shouldColorize(out))
			return nil
		},
	}
	ctx.flags.bindPaths(cmd)
	return cmd
}

func renderStatus(out io.Writer, cfg *config.Config, summary workflow.StatusSummary, colorize bool) {
	fmt.Fprintln(out, renderStatusLine("Run", statusInfo, cfg.RunName, colorize))
	fmt.Fprintln(out, renderStatusLine("Project", statusInfo, cfg.ProjectFile(), colorize))
	if !summary.Initialized {
		fmt.Fprintln(out, renderStatusLine("State", statusWarn, fmt.Sprintf("%s (run setup first)", summary.State), colorize))
		return
	}
	kind := statusInfo
	if summary.State.Terminal() {
		kind = statusOK
	}
	fmt.Fprintln(out, renderStatusLine("State", kind, string(summary.State), colorize))

	doc := summary.Document
	fmt.Fprintln(out, renderStatusLine("Project version", statusInfo, strconv.Itoa(doc.Version), colorize))
	fmt.Fprintln(out, renderStatusLine("Cameras", statusInfo, fmt.Sprintf("%s primary (%s aligned), %s secondary (%s aligned)",
		humanize.Comma(int64(len(doc.CameraIDs(false)))), humanize.Comma(int64(doc.AlignedCount(false))),
		humanize.Comma(int64(len(doc.CameraIDs(true)))), humanize.Comma(int64(doc.AlignedCount(true)))), colorize))
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderSlots(doc))
	if len(summary.History) > 0 {
		fmt.Fprintln(out, renderHistory(summary.History))
	}
}

func renderSlots(doc *project.Document) string {
	columns := []column{
		{header: "Slot"},
		{header: "Count", right: true},
		{header: "Producer"},
		{header: "Outputs"},
	}
	rows := make([][]string, 0, len(project.AllSlots))
	for _, slot := range project.AllSlots {
		artifact, ok := doc.Artifact(slot)
		if !ok || artifact.Count == 0 {
			rows = append(rows, []string{string(slot), "-", "", ""})
			continue
		}
		rows = append(rows, []string{
			string(slot),
			humanize.Comma(int64(artifact.Count)),
			artifact.Producer,
			strings.Join(artifact.Outputs, "\n"),
		})
	}
	return renderTable("Artifacts", columns, rows)
}

func renderHistory(history []project.StepRun) string {
	columns := []column{
		{header: "#", right: true},
		{header: "Step"},
		{header: "Started"},
		{header: "Duration", right: true},
		{header: "Version", right: true},
		{header: "Rerun"},
	}
	rows := make([][]string, 0, len(history))
	for i, run := range history {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			run.Step,
			run.StartedAt.Local().Format(time.DateTime),
			run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String(),
			strconv.Itoa(run.ProjectVersion),
			yesNo(run.Rerun),
		})
	}
	return renderTable("History", columns, rows)
}
