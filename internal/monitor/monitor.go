package monitor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"automate-metashape/internal/config"
	"automate-metashape/internal/engine"
	"automate-metashape/internal/logging"
	"automate-metashape/internal/textutil"
)

// Console prefixes written or passed through by the monitor.
const (
	PrefixMonitor   = "[automate-metashape-monitor]"
	PrefixHeartbeat = "[automate-metashape-heartbeat]"
	PrefixWrapper   = "[automate-metashape-license-wrapper]"
	PrefixStep      = "[automate-metashape-step]"
)

var passThroughPrefixes = []string{PrefixMonitor, PrefixHeartbeat, PrefixWrapper, PrefixStep}

const lastLineLimit = 100

// Monitor consumes one executor attempt at a time. Observe is called from a
// single reader; the heartbeat runs on its own goroutine and only reads
// counters under the shared mutex.
type Monitor struct {
	opts    config.MonitorOptions
	logPath string
	now     func() time.Time
	sampler *logging.ProgressSampler

	mu           sync.Mutex
	console      io.Writer
	log          *os.File
	logErr       error
	buffer       *Ring
	lines        int64
	beatMark     int64
	start        time.Time
	lastContent  string
	lastProgress string
	currentOp    string
	currentDone  bool

	stopBeat context.CancelFunc
	beatDone chan struct{}
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// New builds a monitor writing condensed output to console and the raw
// stream to logPath (no raw log when empty).
func New(opts config.MonitorOptions, console io.Writer, logPath string, options ...Option) *Monitor {
	if console == nil {
		console = io.Discard
	}
	m := &Monitor{
		opts:    opts,
		logPath: logPath,
		now:     time.Now,
		sampler: logging.NewProgressSampler(opts.ProgressIntervalPct),
		console: console,
		buffer:  NewRing(opts.BufferSize),
	}
	for _, opt := range options {
		opt(m)
	}
	m.start = m.now()
	return m
}

// LogPath returns the raw log location.
func (m *Monitor) LogPath() string { return m.logPath }

// Begin resets per-attempt state, appends an attempt header to the raw log,
// and starts the heartbeat.
func (m *Monitor) Begin(ctx context.Context, attempt int) error {
	m.End()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	if m.logPath != "" && m.log == nil {
		if err := os.MkdirAll(filepath.Dir(m.logPath), 0o755); err != nil {
			return fmt.Errorf("create raw log directory: %w", err)
		}
		f, err := os.OpenFile(m.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open raw log: %w", err)
		}
		m.log = f
	}
	if m.log != nil {
		header := fmt.Sprintf("%s attempt %d started %s", PrefixMonitor, attempt, m.now().UTC().Format(time.RFC3339))
		if _, err := fmt.Fprintln(m.log, header); err != nil {
			return fmt.Errorf("write raw log: %w", err)
		}
		m.printLocked(fmt.Sprintf("%s Full log: %s", PrefixMonitor, m.logPath))
	}
	if m.opts.FullOutput() {
		m.printLocked(PrefixMonitor + " Full output mode enabled (LOG_HEARTBEAT_INTERVAL=0)")
		return nil
	}

	beatCtx, cancel := context.WithCancel(ctx)
	m.stopBeat = cancel
	m.beatDone = make(chan struct{})
	go m.heartbeatLoop(beatCtx, m.opts.HeartbeatInterval, m.beatDone)
	return nil
}

func (m *Monitor) resetLocked() {
	m.buffer.Reset()
	m.sampler.Reset()
	m.lines = 0
	m.beatMark = 0
	m.start = m.now()
	m.lastContent = ""
	m.lastProgress = ""
	m.currentOp = ""
	m.currentDone = false
}

// Observe processes one line of executor output (without the newline).
func (m *Monitor) Observe(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lines++
	m.buffer.Push(line)
	if m.log != nil && m.logErr == nil {
		if _, err := fmt.Fprintln(m.log, line); err != nil {
			m.logErr = err
			m.printLocked(fmt.Sprintf("%s raw log write failed: %v", PrefixMonitor, err))
		}
	}

	if m.opts.FullOutput() || m.lines <= int64(m.opts.EchoLines) {
		m.printLocked(line)
		return
	}

	stripped := strings.TrimSpace(line)
	if strings.HasPrefix(stripped, engine.ProgressPrefix) {
		op, pct, ok := engine.ParseProgress(stripped)
		if !ok {
			return
		}
		m.lastProgress = fmt.Sprintf("%s: %s%%", op, strconv.FormatFloat(pct, 'f', -1, 64))
		if op != m.currentOp {
			m.currentOp = op
			m.currentDone = false
			m.printLocked(fmt.Sprintf("%s %s | %s: started", PrefixHeartbeat, m.clock(), op))
		}
		if m.sampler.ShouldLog(op, pct) {
			m.printLocked(stripped)
		}
		if pct >= 100 && !m.currentDone {
			m.currentDone = true
			m.printLocked(fmt.Sprintf("%s %s | %s: completed", PrefixHeartbeat, m.clock(), op))
		}
		return
	}
	if hasPassThroughPrefix(stripped) {
		m.printLocked(line)
		return
	}
	if stripped != "" {
		m.lastContent = textutil.Truncate(stripped, lastLineLimit)
	}
}

func hasPassThroughPrefix(line string) bool {
	for _, prefix := range passThroughPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func (m *Monitor) heartbeatLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.heartbeat()
		}
	}
}

// heartbeat prints a status line when output arrived since the previous one.
func (m *Monitor) heartbeat() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lines == m.beatMark {
		return
	}
	m.beatMark = m.lines
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s | output lines: %s | elapsed: %s",
		PrefixHeartbeat, m.clock(), humanize.Comma(m.lines), formatElapsed(m.now().Sub(m.start)))
	if m.lastProgress != "" {
		b.WriteString(" | " + m.lastProgress)
	}
	if m.lastContent != "" {
		b.WriteString(" | last: " + m.lastContent)
	}
	m.printLocked(b.String())
}

// Println writes a line to the console without touching the raw log.
func (m *Monitor) Println(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.printLocked(line)
}

// DumpBuffer prints the error-context ring to the console.
func (m *Monitor) DumpBuffer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := m.buffer.Lines()
	m.printLocked("")
	m.printLocked(fmt.Sprintf("%s === Last %d lines before error ===", PrefixMonitor, len(lines)))
	for _, line := range lines {
		m.printLocked(line)
	}
	m.printLocked(PrefixMonitor + " === End error context ===")
	m.printLocked("")
}

// Summary prints the final status line for the attempt.
func (m *Monitor) Summary(exitCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := "SUCCESS"
	if exitCode != 0 {
		status = fmt.Sprintf("FAILED (exit code %d)", exitCode)
	}
	m.printLocked(fmt.Sprintf("%s %s | total output lines: %s | elapsed: %s",
		PrefixMonitor, status, humanize.Comma(m.lines), formatElapsed(m.now().Sub(m.start))))
	if m.log != nil {
		m.printLocked(fmt.Sprintf("%s Full metashape output log saved to: %s", PrefixMonitor, m.logPath))
	}
}

// Stats is a point-in-time view of the attempt counters.
type Stats struct {
	Lines    int64
	LastLine string
	Buffer   []string
	Elapsed  time.Duration
}

// Snapshot returns the current counters.
func (m *Monitor) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Lines:    m.lines,
		LastLine: m.lastContent,
		Buffer:   m.buffer.Lines(),
		Elapsed:  m.now().Sub(m.start),
	}
}

// End stops the heartbeat. The raw log stays open for later attempts.
func (m *Monitor) End() {
	m.mu.Lock()
	stop, done := m.stopBeat, m.beatDone
	m.stopBeat, m.beatDone = nil, nil
	m.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
}

// Close stops the heartbeat and closes the raw log.
func (m *Monitor) Close() error {
	m.End()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.log == nil {
		return nil
	}
	err := m.log.Close()
	m.log = nil
	return err
}

func (m *Monitor) printLocked(line string) {
	fmt.Fprintln(m.console, line)
}

func (m *Monitor) clock() string {
	return m.now().Format("15:04:05")
}

func formatElapsed(d time.Duration) string {
	return fmt.Sprintf("%.0fs", d.Seconds())
}
