package metrics

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

var commandContext = exec.CommandContext

const nvidiaSMITimeout = 5 * time.Second

// GPU is one device reported by nvidia-smi.
type GPU struct {
	Name        string
	Utilization float64
}

// NvidiaSMI queries GPUs through the nvidia-smi binary.
type NvidiaSMI struct {
	Binary string
}

// Query returns the visible GPUs. A missing binary or driver yields no GPUs.
func (n NvidiaSMI) Query(ctx context.Context) []GPU {
	binary := n.Binary
	if binary == "" {
		binary = "nvidia-smi"
	}
	ctx, cancel := context.WithTimeout(ctx, nvidiaSMITimeout)
	defer cancel()
	cmd := commandContext(ctx, binary, "--query-gpu=utilization.gpu,name", "--format=csv,noheader,nounits") //nolint:gosec
	out, err := cmd.Output()
	if err != nil {
		return nil
	}
	return parseNvidiaSMI(string(out))
}

func parseNvidiaSMI(out string) []GPU {
	var gpus []GPU
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		util, name, ok := strings.Cut(line, ",")
		if !ok {
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(util), 64)
		if err != nil {
			continue
		}
		gpus = append(gpus, GPU{Name: strings.TrimSpace(name), Utilization: value})
	}
	return gpus
}
