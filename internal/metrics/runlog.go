package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
)

const runLogSep = "; "

// RunLog appends to the human-readable "<run>_log.txt" file.
type RunLog struct {
	path string
	mu   sync.Mutex
}

// NewRunLog returns a run log writing to path. An empty path discards writes.
func NewRunLog(path string) *RunLog {
	return &RunLog{path: path}
}

// Path returns the log location.
func (l *RunLog) Path() string { return l.path }

// Line appends "key; value".
func (l *RunLog) Line(key, value string) error {
	return l.append(key + runLogSep + value + "\n")
}

// Raw appends text verbatim, adding a trailing newline when missing.
func (l *RunLog) Raw(body string) error {
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	return l.append(body)
}

// Stamp formats t the way run log timestamps are written.
func Stamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

var rowColumns = []struct {
	width int
	align text.Align
}{
	{18, text.AlignLeft},
	{24, text.AlignLeft},
	{8, text.AlignLeft},
	{5, text.AlignRight},
	{5, text.AlignRight},
	{4, text.AlignRight},
	{4, text.AlignRight},
	{15, text.AlignLeft},
	{15, text.AlignLeft},
}

// RowHeader is written once per step before its operation rows.
func (l *RunLog) RowHeader() error {
	return l.append(formatRow("step", "api_call", "duration", "cpu %", "gpu %", "cpus", "gpus", "gpu_model", "node"))
}

// Row appends one operation benchmark row.
func (l *RunLog) Row(rec Record) error {
	gpu := "N/A"
	if rec.GPUPercent != nil {
		gpu = fmt.Sprintf("%3.0f", *rec.GPUPercent)
	}
	model := "N/A"
	if rec.GPUModel != nil && *rec.GPUModel != "" {
		model = *rec.GPUModel
	}
	node := rec.NodeName
	if node == "" {
		node = "N/A"
	}
	return l.append(formatRow(
		rec.Step,
		rec.APICall,
		formatClock(time.Duration(rec.DurationSeconds*float64(time.Second))),
		fmt.Sprintf("%3.0f", rec.CPUPercent),
		gpu,
		fmt.Sprint(rec.CPUCoresAvailable),
		fmt.Sprint(rec.GPUCount),
		model,
		node,
	))
}

func formatRow(values ...string) string {
	cells := make([]string, len(values))
	for i, v := range values {
		col := rowColumns[i]
		cells[i] = col.align.Apply(v, col.width)
	}
	return strings.TrimRight(strings.Join(cells, " | "), " ") + "\n"
}

func formatClock(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

func (l *RunLog) append(body string) error {
	if l == nil || l.path == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create run log directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}
	if _, err := f.WriteString(body); err != nil {
		_ = f.Close()
		return fmt.Errorf("write run log: %w", err)
	}
	return f.Close()
}
