package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"automate-metashape/internal/logging"
	"automate-metashape/internal/monitor"
	"automate-metashape/internal/services"
	"automate-metashape/internal/stage"
)

// announce prints a step marker that the output monitor passes through even
// in condensed mode.
func (m *Manager) announce(name stage.Name, what string) {
	fmt.Fprintf(m.console, "%s %s: %s\n", monitor.PrefixStep, name.Label(), what)
}

func (m *Manager) skip(ctx context.Context, name stage.Name) {
	m.announce(name, "skipped (disabled in configuration)")
	logging.WithContext(services.WithStep(ctx, string(name)), m.logger).Info("step skipped",
		logging.String(logging.FieldEventType, "step_skipped"),
	)
}

func (m *Manager) logFailure(logger *slog.Logger, name stage.Name, err error) {
	details := services.Details(err)
	message := details.Message
	if message == "" {
		message = err.Error()
	}
	hint := "check the raw output log for details"
	if details.Kind == "precondition" {
		hint = "run the prerequisite step first"
	}
	m.announce(name, "failed: "+message)
	logging.ErrorWithContext(logger, "step failed", "step_failure",
		logging.String("error_kind", details.Kind),
		logging.String(logging.FieldOperation, details.Operation),
		logging.String(logging.FieldErrorHint, hint),
		logging.Error(err),
	)
}
