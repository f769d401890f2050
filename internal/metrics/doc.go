// Package metrics benchmarks engine operations.
//
// Recorder.Track samples CPU and GPU utilization once per interval while an
// operation runs, then appends a row to the human-readable run log and a
// record to the YAML metrics file beside the outputs.
package metrics
