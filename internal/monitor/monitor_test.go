package monitor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"automate-metashape/internal/config"
	"automate-metashape/internal/engine"
)

func fixedClock() func() time.Time {
	base := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)
	return func() time.Time { return base }
}

func condensedOptions() config.MonitorOptions {
	return config.MonitorOptions{ProgressIntervalPct: 1, HeartbeatInterval: time.Hour, BufferSize: 100}
}

func consoleLines(buf *bytes.Buffer, prefix string) []string {
	var out []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.HasPrefix(line, prefix) {
			out = append(out, line)
		}
	}
	return out
}

func TestProgressPrintedAtIntervalMultiples(t *testing.T) {
	for _, interval := range []float64{1, 5, 10, 25} {
		opts := condensedOptions()
		opts.ProgressIntervalPct = interval
		var console bytes.Buffer
		m := New(opts, &console, "", WithClock(fixedClock()))
		if err := m.Begin(context.Background(), 1); err != nil {
			t.Fatalf("Begin: %v", err)
		}
		for pct := 1; pct <= 100; pct++ {
			m.Observe(engine.FormatProgress("build_depth_maps", float64(pct)))
		}
		m.Observe(engine.FormatProgress("build_depth_maps", 40))
		m.End()

		got := consoleLines(&console, engine.ProgressPrefix)
		var want []string
		for pct := interval; pct <= 100; pct += interval {
			want = append(want, engine.FormatProgress("build_depth_maps", pct))
		}
		if !slices.Equal(got, want) {
			t.Fatalf("interval %v: got %v, want %v", interval, got, want)
		}
	}
}

func TestOperationStartAndCompleteNotes(t *testing.T) {
	var console bytes.Buffer
	m := New(condensedOptions(), &console, "", WithClock(fixedClock()))
	if err := m.Begin(context.Background(), 1); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	m.Observe(engine.FormatProgress("match_photos", 50))
	m.Observe(engine.FormatProgress("match_photos", 100))
	m.Observe(engine.FormatProgress("match_photos", 100))
	m.Observe(engine.FormatProgress("match_photos", 100))
	m.Observe(engine.FormatProgress("align_cameras", 10))
	m.End()

	want := []string{
		"[automate-metashape-heartbeat] 10:30:00 | match_photos: started",
		"[automate-metashape-heartbeat] 10:30:00 | match_photos: completed",
		"[automate-metashape-heartbeat] 10:30:00 | align_cameras: started",
	}
	if got := consoleLines(&console, PrefixHeartbeat); !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestCondensedModeFiltersPlainLines(t *testing.T) {
	var console bytes.Buffer
	m := New(condensedOptions(), &console, "", WithClock(fixedClock()))
	if err := m.Begin(context.Background(), 1); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	m.Observe("BuildDepthMaps: loading cameras")
	m.Observe(PrefixWrapper + " License check passed, proceeding with workflow...")
	m.Observe(PrefixStep + " build_depth_maps started")
	m.Observe(strings.Repeat("x", 150))
	m.heartbeat()
	m.End()

	out := console.String()
	if strings.Contains(out, "loading cameras") {
		t.Fatalf("plain lines must not reach the console: %q", out)
	}
	if !strings.Contains(out, "License check passed") || !strings.Contains(out, "build_depth_maps started") {
		t.Fatalf("prefixed lines should pass through: %q", out)
	}
	beats := consoleLines(&console, PrefixHeartbeat)
	if len(beats) != 1 {
		t.Fatalf("expected one heartbeat, got %v", beats)
	}
	want := "[automate-metashape-heartbeat] 10:30:00 | output lines: 4 | elapsed: 0s | last: " + strings.Repeat("x", 100)
	if beats[0] != want {
		t.Fatalf("heartbeat = %q, want %q", beats[0], want)
	}
}

func TestEchoWindowPrintsInitialLines(t *testing.T) {
	opts := condensedOptions()
	opts.EchoLines = 2
	var console bytes.Buffer
	m := New(opts, &console, "", WithClock(fixedClock()))
	for attempt := 1; attempt <= 2; attempt++ {
		if err := m.Begin(context.Background(), attempt); err != nil {
			t.Fatalf("Begin: %v", err)
		}
		m.Observe("Agisoft Metashape Professional Version: 2.2.0")
		m.Observe("LicenseInfo: node-locked license")
		m.Observe("BuildDepthMaps: loading cameras")
		m.End()
	}

	out := console.String()
	if got := strings.Count(out, "Agisoft Metashape Professional Version: 2.2.0\n"); got != 2 {
		t.Fatalf("banner echoed %d times, want once per attempt:\n%s", got, out)
	}
	if !strings.Contains(out, "LicenseInfo: node-locked license") {
		t.Fatalf("licence line should be echoed:\n%s", out)
	}
	if strings.Contains(out, "loading cameras") {
		t.Fatalf("lines past the echo window must be condensed:\n%s", out)
	}
}

func TestHeartbeatOnlyWhenOutputArrived(t *testing.T) {
	var console bytes.Buffer
	m := New(condensedOptions(), &console, "", WithClock(fixedClock()))
	if err := m.Begin(context.Background(), 1); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	m.heartbeat()
	m.Observe("one")
	m.heartbeat()
	m.heartbeat()
	m.Observe("two")
	m.Observe(engine.FormatProgress("build_mesh", 3))
	m.heartbeat()
	m.End()

	beats := consoleLines(&console, PrefixHeartbeat+" 10:30:00 | output lines")
	if len(beats) != 2 {
		t.Fatalf("expected 2 heartbeats, got %v", beats)
	}
	if !strings.Contains(beats[1], "output lines: 3") || !strings.Contains(beats[1], "| build_mesh: 3% | last: two") {
		t.Fatalf("unexpected heartbeat %q", beats[1])
	}
}

func TestHeartbeatTimerCadence(t *testing.T) {
	opts := condensedOptions()
	opts.HeartbeatInterval = 40 * time.Millisecond
	var console bytes.Buffer
	m := New(opts, &console, "")
	if err := m.Begin(context.Background(), 1); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	deadline := time.Now().Add(400 * time.Millisecond)
	for i := 0; time.Now().Before(deadline); i++ {
		m.Observe(fmt.Sprintf("line %d", i))
		time.Sleep(2 * time.Millisecond)
	}
	m.End()

	beats := len(consoleLines(&console, PrefixHeartbeat))
	if beats < 3 || beats > 11 {
		t.Fatalf("expected roughly one heartbeat per 40ms over 400ms, got %d", beats)
	}
}

func TestFullOutputModeMirrorsLog(t *testing.T) {
	opts := condensedOptions()
	opts.HeartbeatInterval = 0
	logPath := filepath.Join(t.TempDir(), "logs", "metashape-run-all.log")
	var console bytes.Buffer
	m := New(opts, &console, logPath, WithClock(fixedClock()))
	if err := m.Begin(context.Background(), 1); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	input := []string{
		"Agisoft Metashape Professional Version: 2.1.0",
		engine.FormatProgress("match_photos", 0.5),
		engine.FormatProgress("match_photos", 0.7),
		"Found 1 GPUs",
		"",
	}
	for _, line := range input {
		m.Observe(line)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	strip := func(text string) string {
		var kept []string
		for _, line := range strings.SplitAfter(text, "\n") {
			if !strings.HasPrefix(line, PrefixMonitor) {
				kept = append(kept, line)
			}
		}
		return strings.Join(kept, "")
	}
	if strip(console.String()) != strip(string(data)) {
		t.Fatalf("console and log differ:\nconsole=%q\nlog=%q", console.String(), string(data))
	}
	if strip(string(data)) != strings.Join(input, "\n")+"\n" {
		t.Fatalf("log does not hold every line: %q", string(data))
	}
}

func TestRawLogAppendsAcrossAttempts(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "metashape-run-setup.log")
	m := New(condensedOptions(), nil, logPath, WithClock(fixedClock()))
	for attempt := 1; attempt <= 2; attempt++ {
		if err := m.Begin(context.Background(), attempt); err != nil {
			t.Fatalf("Begin: %v", err)
		}
		m.Observe(fmt.Sprintf("output of attempt %d", attempt))
		if got := m.Snapshot().Lines; got != 1 {
			t.Fatalf("line count should reset per attempt, got %d", got)
		}
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	text := string(data)
	for _, want := range []string{"attempt 1 started", "output of attempt 1", "attempt 2 started", "output of attempt 2"} {
		if !strings.Contains(text, want) {
			t.Fatalf("log missing %q: %q", want, text)
		}
	}
}

func TestDumpBufferAndSummary(t *testing.T) {
	opts := condensedOptions()
	opts.BufferSize = 2
	var console bytes.Buffer
	logPath := filepath.Join(t.TempDir(), "raw.log")
	m := New(opts, &console, logPath, WithClock(fixedClock()))
	if err := m.Begin(context.Background(), 1); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	for i := 1; i <= 1500; i++ {
		m.Observe(fmt.Sprintf("line %d", i))
	}
	m.DumpBuffer()
	m.Summary(3)
	_ = m.Close()

	out := console.String()
	wantDump := "[automate-metashape-monitor] === Last 2 lines before error ===\nline 1499\nline 1500\n[automate-metashape-monitor] === End error context ===\n"
	if !strings.Contains(out, wantDump) {
		t.Fatalf("missing buffer dump in %q", out)
	}
	if !strings.Contains(out, "[automate-metashape-monitor] FAILED (exit code 3) | total output lines: 1,500 | elapsed: 0s") {
		t.Fatalf("missing summary in %q", out)
	}
	if !strings.Contains(out, "Full metashape output log saved to: "+logPath) {
		t.Fatalf("missing log path in %q", out)
	}
}
