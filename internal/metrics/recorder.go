package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"automate-metashape/internal/logging"
)

const (
	defaultSampleInterval = time.Second
	metricsHeader         = "api_calls:\n"
)

// CPUSource reports CPU utilization since its previous sample.
type CPUSource interface {
	Sample() (float64, bool)
}

// GPUSource lists GPUs with their current utilization.
type GPUSource interface {
	Query(ctx context.Context) []GPU
}

// Record is one tracked operation in the YAML metrics file.
type Record struct {
	APICall           string   `yaml:"api_call"`
	Step              string   `yaml:"step"`
	DurationSeconds   float64  `yaml:"duration_seconds"`
	CPUPercent        float64  `yaml:"cpu_percent"`
	GPUPercent        *float64 `yaml:"gpu_percent"`
	CPUCoresAvailable int      `yaml:"cpu_cores_available"`
	GPUCount          int      `yaml:"gpu_count"`
	GPUModel          *string  `yaml:"gpu_model"`
	NodeName          string   `yaml:"node_name"`
	Failed            bool     `yaml:"failed,omitempty"`
}

// Options configures a Recorder.
type Options struct {
	RunLog      *RunLog
	MetricsPath string
	Interval    time.Duration
	CPU         CPUSource
	GPU         GPUSource
	Logger      *slog.Logger
	// System overrides node detection.
	System *SystemInfo
}

// Recorder benchmarks engine operations.
type Recorder struct {
	runLog      *RunLog
	metricsPath string
	interval    time.Duration
	cpu         CPUSource
	gpu         GPUSource
	logger      *slog.Logger

	infoOnce sync.Once
	info     SystemInfo
	mu       sync.Mutex
	lastStep string
}

// NewRecorder builds a Recorder sampling /proc/stat and nvidia-smi unless
// sources are supplied.
func NewRecorder(opts Options) *Recorder {
	r := &Recorder{
		runLog:      opts.RunLog,
		metricsPath: opts.MetricsPath,
		interval:    opts.Interval,
		cpu:         opts.CPU,
		gpu:         opts.GPU,
		logger:      opts.Logger,
	}
	if r.interval <= 0 {
		r.interval = defaultSampleInterval
	}
	if r.cpu == nil {
		r.cpu = NewProcStatCPU("")
	}
	if r.gpu == nil {
		r.gpu = NvidiaSMI{}
	}
	if r.logger == nil {
		r.logger = logging.NewNop()
	}
	r.logger = logging.NewComponentLogger(r.logger, "metrics")
	if opts.System != nil {
		info := *opts.System
		r.infoOnce.Do(func() { r.info = info })
	}
	return r
}

// System returns the node details, detecting them on first use.
func (r *Recorder) System(ctx context.Context) SystemInfo {
	r.infoOnce.Do(func() { r.info = CollectSystemInfo(ctx, r.gpu) })
	return r.info
}

// Track runs fn while sampling utilization and records the result. Write
// failures are logged and never fail the operation.
func (r *Recorder) Track(ctx context.Context, step, op string, fn func() error) error {
	info := r.System(ctx)
	r.cpu.Sample()

	var (
		cpuSamples []float64
		gpuSamples []float64
		wg         sync.WaitGroup
	)
	sampleCtx, stop := context.WithCancel(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-sampleCtx.Done():
				return
			case <-ticker.C:
				if v, ok := r.cpu.Sample(); ok {
					cpuSamples = append(cpuSamples, v)
				}
				if gpus := r.gpu.Query(sampleCtx); len(gpus) > 0 {
					values := make([]float64, len(gpus))
					for i, g := range gpus {
						values[i] = g.Utilization
					}
					gpuSamples = append(gpuSamples, stat.Mean(values, nil))
				}
			}
		}
	}()

	start := time.Now()
	err := fn()
	duration := time.Since(start)
	stop()
	wg.Wait()

	if v, ok := r.cpu.Sample(); ok && len(cpuSamples) == 0 {
		cpuSamples = append(cpuSamples, v)
	}
	rec := Record{
		APICall:           op,
		Step:              step,
		DurationSeconds:   round1(duration.Seconds()),
		CPUCoresAvailable: info.CPUCores,
		GPUCount:          info.GPUCount,
		NodeName:          info.Node,
		Failed:            err != nil,
	}
	if len(cpuSamples) > 0 {
		rec.CPUPercent = round1(stat.Mean(cpuSamples, nil))
	}
	if len(gpuSamples) > 0 {
		v := round1(stat.Mean(gpuSamples, nil))
		rec.GPUPercent = &v
	}
	if info.GPUModel != "" {
		model := info.GPUModel
		rec.GPUModel = &model
	}
	if werr := r.write(rec); werr != nil {
		r.logger.Warn("benchmark record not written",
			logging.String(logging.FieldEventType, "metrics_write_failed"),
			logging.String(logging.FieldOperation, op),
			logging.Error(werr),
		)
	}
	return err
}

func (r *Recorder) write(rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	if r.runLog != nil {
		if rec.Step != r.lastStep {
			errs = append(errs, r.runLog.RowHeader())
			r.lastStep = rec.Step
		}
		errs = append(errs, r.runLog.Row(rec))
	}
	if r.metricsPath != "" {
		errs = append(errs, appendRecord(r.metricsPath, rec))
	}
	return errors.Join(errs...)
}

func appendRecord(path string, rec Record) error {
	data, err := yaml.Marshal([]Record{rec})
	if err != nil {
		return fmt.Errorf("encode metrics record: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open metrics file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat metrics file: %w", err)
	}
	var b strings.Builder
	if info.Size() == 0 {
		b.WriteString(metricsHeader)
	}
	for _, line := range strings.SplitAfter(string(data), "\n") {
		if line != "" {
			b.WriteString("  " + line)
		}
	}
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}
	return nil
}

// ReadRecords parses a metrics file.
func ReadRecords(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		APICalls []Record `yaml:"api_calls"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse metrics file: %w", err)
	}
	return doc.APICalls, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
