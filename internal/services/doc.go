// Package services defines shared utilities consumed by the step dispatcher,
// the process supervisor, and the reconstruction engine adapters.
//
// Key responsibilities:
//   - Context helpers that stamp step names, run identifiers, and invocation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     as configuration, precondition, engine, or licence problems.
//   - The typed PreconditionError returned when a step runs out of order.
//
// Use these helpers when wiring new step logic so failure reporting stays
// uniform across separately scheduled invocations.
package services
