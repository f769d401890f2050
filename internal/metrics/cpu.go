package metrics

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

const procStatPath = "/proc/stat"

type cpuTimes struct {
	idle  uint64
	total uint64
}

func readCPUTimes(path string) (cpuTimes, error) {
	f, err := os.Open(path)
	if err != nil {
		return cpuTimes{}, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		var times cpuTimes
		for i, field := range fields[1:] {
			v, err := strconv.ParseUint(field, 10, 64)
			if err != nil {
				return cpuTimes{}, fmt.Errorf("parse %s: %w", path, err)
			}
			times.total += v
			// idle and iowait
			if i == 3 || i == 4 {
				times.idle += v
			}
		}
		return times, nil
	}
	if err := scanner.Err(); err != nil {
		return cpuTimes{}, err
	}
	return cpuTimes{}, errors.New("no aggregate cpu line in " + path)
}

// ProcStatCPU measures system-wide CPU utilization between successive calls.
type ProcStatCPU struct {
	path string
	mu   sync.Mutex
	prev cpuTimes
	ok   bool
}

// NewProcStatCPU reads /proc/stat, or path when non-empty.
func NewProcStatCPU(path string) *ProcStatCPU {
	if path == "" {
		path = procStatPath
	}
	return &ProcStatCPU{path: path}
}

// Sample returns utilization in percent since the previous sample. The first
// call primes the counters and reports ok=false.
func (c *ProcStatCPU) Sample() (float64, bool) {
	cur, err := readCPUTimes(c.path)
	if err != nil {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, primed := c.prev, c.ok
	c.prev, c.ok = cur, true
	if !primed || cur.total <= prev.total {
		return 0, false
	}
	total := float64(cur.total - prev.total)
	idle := float64(cur.idle - prev.idle)
	return 100 * (total - idle) / total, true
}
