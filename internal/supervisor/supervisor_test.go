package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"automate-metashape/internal/config"
	"automate-metashape/internal/monitor"
	"automate-metashape/internal/services"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	sup     *Supervisor
	console *lockedBuffer
	sleeps  []time.Duration
	signals chan os.Signal
	dir     string
}

func newHarness(t *testing.T, mode string, policy config.RetryPolicy, extraEnv ...string) *harness {
	t.Helper()
	h := &harness{console: &lockedBuffer{}, signals: make(chan os.Signal, 1), dir: t.TempDir()}
	mon := monitor.New(config.MonitorOptions{ProgressIntervalPct: 1, HeartbeatInterval: time.Hour, BufferSize: 5},
		h.console, filepath.Join(h.dir, "raw.log"))
	t.Cleanup(func() { _ = mon.Close() })
	env := append(os.Environ(),
		"GO_WANT_HELPER_PROCESS=1",
		"SUPERVISOR_HELPER_MODE="+mode,
		"SUPERVISOR_HELPER_DIR="+h.dir,
	)
	env = append(env, extraEnv...)
	sup, err := New(Options{
		Argv:      []string{os.Args[0], "-test.run=TestHelperProcess"},
		Env:       env,
		Policy:    policy,
		Monitor:   mon,
		KillGrace: 2 * time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		},
		Signals: h.signals,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.sup = sup
	return h
}

func policy(maxRetries int) config.RetryPolicy {
	return config.RetryPolicy{MaxRetries: maxRetries, Interval: 300 * time.Second, CheckLines: 20}
}

func TestDetectLicenseFailure(t *testing.T) {
	for _, line := range []string{
		"Error: License not found",
		"NO LICENSE FOUND, please activate",
		"  no license found.",
	} {
		if _, ok := DetectLicenseFailure(line); !ok {
			t.Fatalf("expected licence failure in %q", line)
		}
	}
	if _, ok := DetectLicenseFailure("License server reachable"); ok {
		t.Fatal("unexpected licence failure match")
	}
}

func TestExitCode(t *testing.T) {
	if ExitCode(nil) != 0 || ExitCode(errors.New("x")) != 1 || ExitCode(fmt.Errorf("wrap: %w", &ExitError{Code: 7})) != 7 {
		t.Fatal("unexpected ExitCode mapping")
	}
}

func TestSuccessfulChildPassesThrough(t *testing.T) {
	h := newHarness(t, "success", policy(0))
	if err := h.sup.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.sup.Attempts() != 1 {
		t.Fatalf("expected 1 attempt, got %d", h.sup.Attempts())
	}
	want := []State{StateStarting, StateRunning, StateChildExited}
	if got := h.sup.Transitions(); !slices.Equal(got, want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	out := h.console.String()
	if !strings.Contains(out, "SUCCESS | total output lines: 25") {
		t.Fatalf("missing success summary: %q", out)
	}
	if !strings.Contains(out, "License check passed, proceeding with workflow...") {
		t.Fatalf("missing licence check note: %q", out)
	}
	if strings.Contains(out, "=== Last") {
		t.Fatalf("buffer must not be dumped on success: %q", out)
	}
}

func TestFailingChildPropagatesCodeAndDumpsBuffer(t *testing.T) {
	h := newHarness(t, "fail", policy(3))
	err := h.sup.Run(context.Background())
	if ExitCode(err) != 3 {
		t.Fatalf("expected exit code 3, got %v", err)
	}
	if h.sup.Attempts() != 1 || len(h.sleeps) != 0 {
		t.Fatalf("non-licence failures must not retry: attempts=%d sleeps=%v", h.sup.Attempts(), h.sleeps)
	}
	out := h.console.String()
	if !strings.Contains(out, "=== Last 5 lines before error ===") || !strings.Contains(out, "Traceback: engine crashed") {
		t.Fatalf("expected buffer dump, got %q", out)
	}
	if !strings.Contains(out, "FAILED (exit code 3)") {
		t.Fatalf("expected failure summary, got %q", out)
	}
}

func TestLicenseFailureWithoutRetries(t *testing.T) {
	h := newHarness(t, "license", policy(0))
	start := time.Now()
	err := h.sup.Run(context.Background())
	if !errors.Is(err, services.ErrLicense) || ExitCode(err) == 0 {
		t.Fatalf("expected licence error, got %v", err)
	}
	if time.Since(start) > 20*time.Second {
		t.Fatal("child should be terminated promptly after the licence failure")
	}
	if h.sup.Attempts() != 1 || len(h.sleeps) != 0 {
		t.Fatalf("expected exactly one attempt and no sleep, got attempts=%d sleeps=%v", h.sup.Attempts(), h.sleeps)
	}
	want := []State{StateStarting, StateRunning, StateLicenseFailureDetected, StateRetriesExhausted}
	if got := h.sup.Transitions(); !slices.Equal(got, want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	if !strings.Contains(h.console.String(), "No license available and retries disabled (LICENSE_MAX_RETRIES=0)") {
		t.Fatalf("missing retries disabled message: %q", h.console.String())
	}
}

func TestLicenseFailureBoundedRetries(t *testing.T) {
	for _, n := range []int{1, 3} {
		h := newHarness(t, "license", policy(n))
		err := h.sup.Run(context.Background())
		if !errors.Is(err, services.ErrLicense) {
			t.Fatalf("n=%d: expected licence error, got %v", n, err)
		}
		if code := ExitCode(err); code != exhaustedExitCode {
			t.Fatalf("n=%d: exit code = %d, want %d", n, code, exhaustedExitCode)
		}
		if h.sup.Attempts() != n+1 {
			t.Fatalf("n=%d: expected %d attempts, got %d", n, n+1, h.sup.Attempts())
		}
		if len(h.sleeps) != n || h.sleeps[0] != 300*time.Second {
			t.Fatalf("n=%d: unexpected sleeps %v", n, h.sleeps)
		}
		if !strings.Contains(h.console.String(), fmt.Sprintf("Max retries (%d) exceeded", n)) {
			t.Fatalf("n=%d: missing exhaustion message", n)
		}
	}
}

func TestUnlimitedRetriesUntilSuccess(t *testing.T) {
	h := newHarness(t, "license-until", policy(config.UnlimitedRetries), "SUPERVISOR_HELPER_SUCCEED_ON=4")
	if err := h.sup.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.sup.Attempts() != 4 || len(h.sleeps) != 3 {
		t.Fatalf("expected 4 attempts and 3 sleeps, got %d and %v", h.sup.Attempts(), h.sleeps)
	}
	data, err := os.ReadFile(filepath.Join(h.dir, "raw.log"))
	if err != nil {
		t.Fatalf("read raw log: %v", err)
	}
	if strings.Count(string(data), "attempt ") < 4 {
		t.Fatalf("raw log should keep every attempt: %q", string(data))
	}
}

func TestLicenseSignatureOutsideWindowIgnored(t *testing.T) {
	h := newHarness(t, "late-license", config.RetryPolicy{MaxRetries: 2, Interval: time.Second, CheckLines: 3})
	if err := h.sup.Run(context.Background()); err != nil {
		t.Fatalf("late licence message should not trigger a retry: %v", err)
	}
	if h.sup.Attempts() != 1 {
		t.Fatalf("expected 1 attempt, got %d", h.sup.Attempts())
	}
}

func TestSignalForwardedToChildGroup(t *testing.T) {
	h := newHarness(t, "wait-signal", policy(0))
	done := make(chan error, 1)
	go func() { done <- h.sup.Run(context.Background()) }()

	ready := filepath.Join(h.dir, "ready")
	deadline := time.Now().Add(15 * time.Second)
	for {
		if _, err := os.Stat(ready); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("helper never became ready")
		}
		time.Sleep(10 * time.Millisecond)
	}
	h.signals <- syscall.SIGTERM

	select {
	case err := <-done:
		if ExitCode(err) != 143 {
			t.Fatalf("expected exit code 143, got %v", err)
		}
	case <-time.After(20 * time.Second):
		t.Fatal("supervisor did not exit after forwarding SIGTERM")
	}

	got, err := os.ReadFile(filepath.Join(h.dir, "signal"))
	if err != nil {
		t.Fatalf("child did not record the forwarded signal: %v", err)
	}
	if strings.TrimSpace(string(got)) != "terminated" {
		t.Fatalf("unexpected signal recorded: %q", got)
	}
	if !strings.Contains(h.console.String(), "Received SIGTERM, forwarding to child process...") {
		t.Fatalf("missing forwarding message: %q", h.console.String())
	}
	if strings.Contains(h.console.String(), "=== Last") {
		t.Fatal("requested shutdown should not dump the error buffer")
	}
}

// TestHelperProcess plays the pipeline executor.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	dir := os.Getenv("SUPERVISOR_HELPER_DIR")
	preamble := func() {
		fmt.Println("Agisoft Metashape Professional Version: 2.1.0")
		fmt.Println("Found 0 GPUs")
	}
	switch os.Getenv("SUPERVISOR_HELPER_MODE") {
	case "success":
		preamble()
		for i := 1; i <= 23; i++ {
			fmt.Printf("[automate-metashape-progress] match_photos: %d%%\n", i)
		}
		os.Exit(0)
	case "fail":
		preamble()
		for i := 0; i < 10; i++ {
			fmt.Printf("processing chunk %d\n", i)
		}
		fmt.Fprintln(os.Stderr, "Traceback: engine crashed")
		os.Exit(3)
	case "license":
		preamble()
		fmt.Println("Error: No license found.")
		time.Sleep(time.Minute)
		os.Exit(1)
	case "license-until":
		counter := filepath.Join(dir, "count")
		data, _ := os.ReadFile(counter)
		n, _ := strconv.Atoi(strings.TrimSpace(string(data)))
		n++
		_ = os.WriteFile(counter, []byte(strconv.Itoa(n)), 0o644)
		succeedOn, _ := strconv.Atoi(os.Getenv("SUPERVISOR_HELPER_SUCCEED_ON"))
		preamble()
		if n < succeedOn {
			fmt.Println("license not found")
			time.Sleep(time.Minute)
			os.Exit(1)
		}
		fmt.Println("License OK")
		os.Exit(0)
	case "late-license":
		for i := 0; i < 5; i++ {
			fmt.Printf("line %d\n", i)
		}
		fmt.Println("No license found while saving")
		os.Exit(0)
	case "wait-signal":
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGTERM)
		preamble()
		_ = os.WriteFile(filepath.Join(dir, "ready"), []byte("1"), 0o644)
		select {
		case <-ch:
			_ = os.WriteFile(filepath.Join(dir, "signal"), []byte("terminated"), 0o644)
			fmt.Println("shutting down")
			signal.Reset(syscall.SIGTERM)
			_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
			time.Sleep(5 * time.Second)
			os.Exit(1)
		case <-time.After(time.Minute):
			os.Exit(2)
		}
	}
	os.Exit(0)
}
