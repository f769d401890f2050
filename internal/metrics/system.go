package metrics

import (
	"context"
	"os"
	"runtime"
	"strings"

	"golang.org/x/sys/unix"
)

// SystemInfo describes the node an operation ran on.
type SystemInfo struct {
	Node      string
	CPUCores  int
	GPUCount  int
	GPUModel  string
	CPUModel  string
	GPUModels []string
}

// CollectSystemInfo gathers node details. CPU cores honour the scheduler
// affinity mask so container limits are reflected.
func CollectSystemInfo(ctx context.Context, gpus GPUSource) SystemInfo {
	info := SystemInfo{CPUCores: runtime.NumCPU(), CPUModel: cpuModel("/proc/cpuinfo")}
	if host, err := os.Hostname(); err == nil {
		info.Node = host
	}
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err == nil && set.Count() > 0 {
		info.CPUCores = set.Count()
	}
	if gpus != nil {
		for _, g := range gpus.Query(ctx) {
			info.GPUModels = append(info.GPUModels, g.Name)
		}
	}
	info.GPUCount = len(info.GPUModels)
	if info.GPUCount > 0 {
		info.GPUModel = info.GPUModels[0]
	}
	return info
}

func cpuModel(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return runtime.GOARCH
	}
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if ok && strings.TrimSpace(key) == "model name" {
			return strings.TrimSpace(value)
		}
	}
	return runtime.GOARCH
}
