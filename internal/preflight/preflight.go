package preflight

import (
	"automate-metashape/internal/config"
	"automate-metashape/internal/deps"
	"automate-metashape/internal/pipeline"
)

// minOutputSpace is the free space below which the output directory fails.
const minOutputSpace = 1 << 30

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	// Degraded marks a passing check whose feature is unavailable.
	Degraded bool
	Detail   string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	var results []Result

	for _, dir := range cfg.PhotoPath {
		results = append(results, CheckDirectoryAccess("Photo directory", dir, ReadOnly))
	}
	if cfg.HasSecondary() {
		results = append(results, CheckDirectoryAccess("Secondary photo directory", cfg.PhotoPathSecondary, ReadOnly))
	}
	if cfg.AddGCPs.Enabled && len(cfg.PhotoPath) > 0 {
		for _, path := range pipeline.GCPFiles(cfg.PhotoPath[0]) {
			results = append(results, CheckFile("GCP table", path))
		}
	}

	results = append(results, CheckDirectoryAccess("Project directory", cfg.ProjectPath, ReadWrite))
	output := CheckDirectoryAccess("Output directory", cfg.OutputPath, ReadWrite)
	results = append(results, output)
	if output.Passed {
		results = append(results, CheckFreeSpace("Output free space", cfg.OutputPath, minOutputSpace))
	}

	var requirements []deps.Requirement
	if cfg.Engine.Kind == config.EngineCommand {
		requirements = append(requirements, deps.EngineRequirement(cfg.Engine.Command))
	}
	if cfg.UseCUDA {
		requirements = append(requirements, deps.GPUQueryRequirement())
	}
	for _, status := range deps.CheckBinaries(requirements) {
		results = append(results, FromDependency(status))
	}
	return results
}

// Passed reports whether every result passed.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
