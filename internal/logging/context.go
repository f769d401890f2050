package logging

import (
	"context"
	"log/slog"

	"automate-metashape/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldStep is the standardized structured logging key for pipeline step names.
	FieldStep = "step"
	// FieldRunID is the standardized structured logging key for the mission run name.
	FieldRunID = "run_id"
	// FieldInvocationID identifies one executor process across its log lines.
	FieldInvocationID = "invocation_id"
	// FieldAttempt is the supervisor spawn attempt number.
	FieldAttempt = "attempt"
	// FieldEventType tags records with a machine-friendly event name.
	FieldEventType = "event_type"
	// FieldErrorHint carries the operator's next action for warnings and errors.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldOperation is the engine operation being executed.
	FieldOperation = "operation"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if run, ok := services.RunIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRunID, run))
	}
	if step, ok := services.StepFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStep, step))
	}
	if id, ok := services.InvocationIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldInvocationID, id))
	}
	if attempt, ok := services.AttemptFromContext(ctx); ok {
		fields = append(fields, slog.Int(FieldAttempt, attempt))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(toArgs(fields)...)
}
