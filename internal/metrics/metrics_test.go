package metrics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type fakeCPU struct {
	mu     sync.Mutex
	values []float64
}

func (f *fakeCPU) Sample() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.values) == 0 {
		return 0, false
	}
	v := f.values[0]
	f.values = f.values[1:]
	return v, true
}

type fakeGPU []GPU

func (f fakeGPU) Query(context.Context) []GPU { return f }

func TestProcStatCPUSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stat")
	write := func(user, idle uint64) {
		body := fmt.Sprintf("cpu  %d 0 0 %d 0 0 0 0 0 0\ncpu0 1 0 0 1 0 0 0 0 0 0\n", user, idle)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write stat: %v", err)
		}
	}
	cpu := NewProcStatCPU(path)
	write(100, 100)
	if _, ok := cpu.Sample(); ok {
		t.Fatal("first sample should only prime counters")
	}
	write(175, 125)
	got, ok := cpu.Sample()
	if !ok {
		t.Fatal("second sample not reported")
	}
	if got != 75 {
		t.Fatalf("cpu = %v, want 75", got)
	}
}

func TestProcStatCPUMissingFile(t *testing.T) {
	cpu := NewProcStatCPU(filepath.Join(t.TempDir(), "missing"))
	if _, ok := cpu.Sample(); ok {
		t.Fatal("expected no sample for missing file")
	}
}

func TestParseNvidiaSMI(t *testing.T) {
	out := "87, NVIDIA A100-SXM4-40GB\n\n12, NVIDIA A100-SXM4-40GB\nbogus\n"
	want := []GPU{
		{Name: "NVIDIA A100-SXM4-40GB", Utilization: 87},
		{Name: "NVIDIA A100-SXM4-40GB", Utilization: 12},
	}
	if diff := cmp.Diff(want, parseNvidiaSMI(out)); diff != "" {
		t.Fatalf("parse mismatch (-want +got):\n%s", diff)
	}
}

func TestNvidiaSMIQueryUsesBinary(t *testing.T) {
	orig := commandContext
	t.Cleanup(func() { commandContext = orig })
	var gotName string
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		gotName = name
		cs := []string{"-test.run=TestHelperProcess", "--", name}
		cs = append(cs, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
		return cmd
	}
	gpus := NvidiaSMI{}.Query(context.Background())
	if gotName != "nvidia-smi" {
		t.Fatalf("binary = %q", gotName)
	}
	if len(gpus) != 1 || gpus[0].Name != "Tesla T4" || gpus[0].Utilization != 42 {
		t.Fatalf("unexpected gpus %+v", gpus)
	}
}

func TestNvidiaSMIMissingBinary(t *testing.T) {
	gpus := NvidiaSMI{Binary: filepath.Join(t.TempDir(), "nvidia-smi")}.Query(context.Background())
	if len(gpus) != 0 {
		t.Fatalf("expected no gpus, got %+v", gpus)
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	fmt.Fprintln(os.Stdout, "42, Tesla T4")
	os.Exit(0)
}

func TestCollectSystemInfoUsesGPUSource(t *testing.T) {
	info := CollectSystemInfo(context.Background(), fakeGPU{{Name: "RTX 4090", Utilization: 3}, {Name: "RTX 4090"}})
	if info.GPUCount != 2 || info.GPUModel != "RTX 4090" {
		t.Fatalf("unexpected gpu info %+v", info)
	}
	if info.CPUCores < 1 {
		t.Fatalf("cpu cores = %d", info.CPUCores)
	}
}

func TestRecorderWritesRunLogAndMetrics(t *testing.T) {
	dir := t.TempDir()
	runLog := NewRunLog(filepath.Join(dir, "run_log.txt"))
	metricsPath := filepath.Join(dir, "run_metrics.yaml")
	rec := NewRecorder(Options{
		RunLog:      runLog,
		MetricsPath: metricsPath,
		Interval:    5 * time.Millisecond,
		CPU:         &fakeCPU{values: []float64{0, 40, 60, 60, 60, 60, 60, 60, 60, 60, 60, 60}},
		GPU:         fakeGPU{{Name: "RTX 4090", Utilization: 50}, {Name: "RTX 4090", Utilization: 70}},
		System:      &SystemInfo{Node: "node-7", CPUCores: 16, GPUCount: 2, GPUModel: "RTX 4090"},
	})

	err := rec.Track(context.Background(), "align_cameras", "alignCameras", func() error {
		time.Sleep(30 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	boom := errors.New("boom")
	if err := rec.Track(context.Background(), "align_cameras", "optimizeCameras", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected operation error to pass through, got %v", err)
	}

	records, err := ReadRecords(metricsPath)
	if err != nil {
		t.Fatalf("read records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	first := records[0]
	if first.APICall != "alignCameras" || first.Step != "align_cameras" || first.NodeName != "node-7" {
		t.Fatalf("unexpected record %+v", first)
	}
	if first.CPUCoresAvailable != 16 || first.GPUCount != 2 || first.GPUModel == nil || *first.GPUModel != "RTX 4090" {
		t.Fatalf("unexpected node fields %+v", first)
	}
	if first.GPUPercent == nil || *first.GPUPercent != 60 {
		t.Fatalf("gpu percent = %v, want 60", first.GPUPercent)
	}
	if first.CPUPercent < 40 || first.CPUPercent > 60 {
		t.Fatalf("cpu percent = %v", first.CPUPercent)
	}
	if !records[1].Failed {
		t.Fatal("failed operation not flagged")
	}

	raw, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if strings.Count(string(raw), "api_calls:") != 1 {
		t.Fatalf("header repeated:\n%s", raw)
	}

	logData, err := os.ReadFile(runLog.Path())
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(logData)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d:\n%s", len(lines), logData)
	}
	if !strings.HasPrefix(lines[0], "step") {
		t.Fatalf("header row = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "align_cameras      | alignCameras             | 00:00:00") {
		t.Fatalf("row = %q", lines[1])
	}
	if !strings.Contains(lines[1], "node-7") {
		t.Fatalf("row missing node: %q", lines[1])
	}
}

func TestRecorderNoGPUWritesNull(t *testing.T) {
	dir := t.TempDir()
	metricsPath := filepath.Join(dir, "m.yaml")
	runLog := NewRunLog(filepath.Join(dir, "log.txt"))
	rec := NewRecorder(Options{
		RunLog:      runLog,
		MetricsPath: metricsPath,
		Interval:    time.Hour,
		CPU:         &fakeCPU{},
		GPU:         fakeGPU(nil),
		System:      &SystemInfo{Node: "n", CPUCores: 4},
	})
	if err := rec.Track(context.Background(), "setup", "addPhotos", func() error { return nil }); err != nil {
		t.Fatalf("track: %v", err)
	}
	raw, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), "gpu_percent: null") || !strings.Contains(string(raw), "gpu_model: null") {
		t.Fatalf("expected null gpu fields:\n%s", raw)
	}
	logData, _ := os.ReadFile(runLog.Path())
	if !strings.Contains(string(logData), "N/A") {
		t.Fatalf("expected N/A in run log row:\n%s", logData)
	}
}

func TestRunLogLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "log.txt")
	l := NewRunLog(path)
	if err := l.Line("Project", "mission-1"); err != nil {
		t.Fatalf("line: %v", err)
	}
	if err := l.Raw("Run Completed"); err != nil {
		t.Fatalf("raw: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got, want := string(data), "Project; mission-1\nRun Completed\n"; got != want {
		t.Fatalf("log = %q, want %q", got, want)
	}
	var nilLog *RunLog
	if err := nilLog.Line("a", "b"); err != nil {
		t.Fatalf("nil log: %v", err)
	}
}

func TestFormatClock(t *testing.T) {
	if got := formatClock(3723 * time.Second); got != "01:02:03" {
		t.Fatalf("clock = %q", got)
	}
}
