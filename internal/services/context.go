package services

import "context"

type contextKey string

const (
	stepKey         contextKey = "step"
	runIDKey        contextKey = "run_id"
	invocationIDKey contextKey = "invocation_id"
	attemptKey      contextKey = "attempt"
)

// WithStep annotates context with the pipeline step name.
func WithStep(ctx context.Context, step string) context.Context {
	if step == "" {
		return ctx
	}
	return context.WithValue(ctx, stepKey, step)
}

// StepFromContext returns the step name if present.
func StepFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(stepKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithRunID annotates context with the run name shared by every step of a mission.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the run name if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithInvocationID annotates context with the identifier of one executor process.
func WithInvocationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, invocationIDKey, id)
}

// InvocationIDFromContext extracts the invocation identifier if present.
func InvocationIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(invocationIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithAttempt annotates context with the supervisor spawn attempt (1-based).
func WithAttempt(ctx context.Context, attempt int) context.Context {
	if attempt <= 0 {
		return ctx
	}
	return context.WithValue(ctx, attemptKey, attempt)
}

// AttemptFromContext extracts the spawn attempt if present.
func AttemptFromContext(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(attemptKey).(int)
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}
