// Package config loads, normalizes, and validates the workflow configuration
// and the runtime environment of the supervisor.
//
// Workflow files are YAML by default and TOML when the path ends in .toml; both
// decode into the same Config seeded by Default. Command-line path overrides
// are applied before normalization so derived names (run name, log paths)
// always reflect the effective values. LoadRuntime parses the licence retry
// and output monitor variables once at process start.
//
// Always obtain settings through this package so downstream code receives
// absolute paths, a stable run name, and configuration errors that are
// classified before any engine or subprocess is started.
package config
