// Package logging assembles structured slog loggers and formatting helpers used
// by the supervisor, the output monitor, and the step executor.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so step code automatically tags
// log lines with step names, run names, and invocation IDs. The package also
// provides the per-operation progress sampler and a no-op logger for tests.
package logging
