package deps

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Requirement defines an external binary the pipeline relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	// Resolved is the absolute path of the binary when available.
	Resolved string
	Detail   string
}

// Satisfied reports whether the dependency does not block a run.
func (s Status) Satisfied() bool {
	return s.Available || s.Optional
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		results = append(results, check(req))
	}
	return results
}

func check(req Requirement) Status {
	cmd := strings.TrimSpace(req.Command)
	status := Status{
		Name:        req.Name,
		Command:     cmd,
		Description: strings.TrimSpace(req.Description),
		Optional:    req.Optional,
	}
	if cmd == "" {
		status.Detail = "command not configured"
		return status
	}
	resolved, err := exec.LookPath(cmd)
	if err != nil {
		status.Detail = fmt.Sprintf("binary %q not found", cmd)
		return status
	}
	info, err := os.Stat(resolved)
	if err != nil || info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		status.Detail = fmt.Sprintf("%s is not executable", resolved)
		return status
	}
	status.Available = true
	status.Resolved = resolved
	return status
}

// EngineRequirement describes the engine command line's executable. Only the
// first element of argv is checked.
func EngineRequirement(argv []string) Requirement {
	req := Requirement{
		Name:        "Metashape engine",
		Description: "Runs photogrammetry operations for each step",
	}
	if len(argv) > 0 {
		req.Command = argv[0]
	}
	return req
}

// GPUQueryRequirement describes nvidia-smi, used for GPU detection and
// utilisation sampling.
func GPUQueryRequirement() Requirement {
	return Requirement{
		Name:        "nvidia-smi",
		Command:     "nvidia-smi",
		Description: "Reports GPU model and utilisation in the run log",
		Optional:    true,
	}
}
