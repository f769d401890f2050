package pipeline

import (
	"context"
	"fmt"
	"time"

	"automate-metashape/internal/engine"
	"automate-metashape/internal/logging"
	"automate-metashape/internal/metrics"
	"automate-metashape/internal/stage"
)

func runFinalize(ctx context.Context, env *stage.Env) error {
	if _, err := env.Call(ctx, engine.OpExportReport, map[string]any{
		"path":  env.Config.OutputFile("_report.pdf"),
		"title": env.Config.RunName,
	}); err != nil {
		return err
	}
	env.Log("Run Completed", metrics.Stamp(time.Now()))
	dump, err := env.Config.DumpYAML()
	if err != nil {
		logging.WarnWithContext(env.Logger, "configuration dump failed", "config_dump_failed", logging.Error(err))
		return nil
	}
	env.LogRaw(fmt.Sprintf("\n\n### CONFIGURATION ###\n%s### END CONFIGURATION ###", dump))
	return nil
}
