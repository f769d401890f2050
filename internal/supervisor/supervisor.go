package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"automate-metashape/internal/config"
	"automate-metashape/internal/logging"
	"automate-metashape/internal/monitor"
	"automate-metashape/internal/services"
)

const (
	defaultKillGrace    = 10 * time.Second
	defaultForwardWait  = 60 * time.Second
	defaultDrainTimeout = 5 * time.Second
	maxLineBytes        = 4 * 1024 * 1024
)

// Options configures a Supervisor.
type Options struct {
	// Argv is the executor command line.
	Argv    []string
	Env     []string
	Dir     string
	Policy  config.RetryPolicy
	Monitor *monitor.Monitor
	Logger  *slog.Logger
	// KillGrace is the wait between SIGTERM and SIGKILL after a licence hit.
	KillGrace time.Duration
	// ForwardWait bounds the wait for the child after forwarding a signal.
	ForwardWait time.Duration
	// Sleep waits out the retry interval. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Signals delivers termination requests. Defaults to SIGTERM and SIGINT
	// from the OS.
	Signals <-chan os.Signal
}

// Supervisor owns the retry loop.
type Supervisor struct {
	opts    Options
	logger  *slog.Logger
	monitor *monitor.Monitor

	mu          sync.Mutex
	attempts    int
	transitions []State
}

// New validates options and returns a Supervisor.
func New(opts Options) (*Supervisor, error) {
	if len(opts.Argv) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "", "supervisor", "executor command is empty", nil)
	}
	if opts.Monitor == nil {
		return nil, errors.New("supervisor: monitor is required")
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = defaultKillGrace
	}
	if opts.ForwardWait <= 0 {
		opts.ForwardWait = defaultForwardWait
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Supervisor{
		opts:    opts,
		logger:  logging.NewComponentLogger(logger, "supervisor"),
		monitor: opts.Monitor,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Attempts returns how many times the child has been spawned.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Transitions returns the state history of the last Run.
func (s *Supervisor) Transitions() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.transitions...)
}

func (s *Supervisor) transition(state State) {
	s.mu.Lock()
	s.transitions = append(s.transitions, state)
	s.mu.Unlock()
	s.logger.Debug("supervisor state", logging.String("state", string(state)))
}

func (s *Supervisor) announce(format string, args ...any) {
	s.monitor.Println(monitor.PrefixWrapper + " " + fmt.Sprintf(format, args...))
}

// Run spawns the executor until it exits for a reason other than a licence
// failure or the retry budget is spent. A nil return means exit code 0;
// otherwise the error is an *ExitError.
func (s *Supervisor) Run(ctx context.Context) error {
	signals := s.opts.Signals
	if signals == nil {
		ch := make(chan os.Signal, 2)
		signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(ch)
		signals = ch
	}
	policy := s.opts.Policy

	for attempt := 1; ; attempt++ {
		s.mu.Lock()
		s.attempts = attempt
		s.mu.Unlock()
		s.transition(StateStarting)
		s.announce("Starting Metashape workflow (attempt %d)...", attempt)

		out, err := s.runAttempt(services.WithAttempt(ctx, attempt), attempt, signals)
		if err != nil {
			s.transition(StateChildExited)
			return &ExitError{Code: 1, Err: err}
		}

		if out.licenseSignature == "" || out.interrupted != nil {
			s.transition(StateChildExited)
			return s.finish(out)
		}

		s.transition(StateLicenseFailureDetected)
		s.logger.Warn("license unavailable",
			logging.String(logging.FieldEventType, "license_failure"),
			logging.Int(logging.FieldAttempt, attempt),
			logging.String("signature", out.licenseSignature),
		)
		if policy.MaxRetries == 0 {
			s.announce("No license available and retries disabled (%s=0)", config.EnvLicenseMaxRetries)
			return s.exhausted(attempt, out.licenseSignature)
		}
		if !policy.AllowsRetry(attempt) {
			s.announce("Max retries (%d) exceeded", policy.MaxRetries)
			return s.exhausted(attempt, out.licenseSignature)
		}

		s.announce("No license available. Waiting %.0fs before retry...", policy.Interval.Seconds())
		s.transition(StateRetryWait)
		if sig, err := s.waitRetry(ctx, policy.Interval, signals); sig != nil || err != nil {
			s.transition(StateChildExited)
			if sig != nil {
				return &ExitError{Code: signalExitCode(sig), Err: fmt.Errorf("received %v during retry wait", sig)}
			}
			return &ExitError{Code: 1, Err: err}
		}
	}
}

// exhaustedExitCode is reported when the licence retry budget runs out. The
// last child was killed by the supervisor, so its own status is not meaningful.
const exhaustedExitCode = 1

func (s *Supervisor) exhausted(attempt int, signature string) error {
	s.transition(StateRetriesExhausted)
	return &ExitError{
		Code: exhaustedExitCode,
		Err: services.Wrap(services.ErrLicense, "", "acquire license",
			fmt.Sprintf("retries exhausted after %d attempt(s); last failure signature %q", attempt, signature), nil),
	}
}

func (s *Supervisor) finish(out attemptOutcome) error {
	if out.code != 0 && out.interrupted == nil {
		s.monitor.DumpBuffer()
	}
	s.monitor.Summary(out.code)
	if out.code == 0 {
		return nil
	}
	if out.interrupted != nil {
		return &ExitError{Code: out.code, Err: fmt.Errorf("executor stopped after %v", out.interrupted)}
	}
	return &ExitError{Code: out.code}
}

func (s *Supervisor) waitRetry(ctx context.Context, d time.Duration, signals <-chan os.Signal) (os.Signal, error) {
	sleepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.opts.Sleep(sleepCtx, d) }()
	select {
	case err := <-done:
		return nil, err
	case sig := <-signals:
		s.announce("Received %s, exiting during retry wait", signalName(sig))
		cancel()
		<-done
		return sig, nil
	}
}

type attemptOutcome struct {
	code             int
	licenseSignature string
	interrupted      os.Signal
}

func (s *Supervisor) runAttempt(ctx context.Context, attempt int, signals <-chan os.Signal) (attemptOutcome, error) {
	if err := s.monitor.Begin(ctx, attempt); err != nil {
		return attemptOutcome{}, err
	}
	defer s.monitor.End()

	reader, writer, err := os.Pipe()
	if err != nil {
		return attemptOutcome{}, fmt.Errorf("create output pipe: %w", err)
	}
	defer reader.Close()

	cmd := exec.Command(s.opts.Argv[0], s.opts.Argv[1:]...) //nolint:gosec
	cmd.Stdout = writer
	cmd.Stderr = writer
	cmd.Env = s.opts.Env
	cmd.Dir = s.opts.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		_ = writer.Close()
		return attemptOutcome{}, fmt.Errorf("start executor: %w", err)
	}
	_ = writer.Close()
	pgid := cmd.Process.Pid
	if got, err := unix.Getpgid(cmd.Process.Pid); err == nil {
		pgid = got
	}
	s.transition(StateRunning)
	s.logger.Debug("executor started",
		logging.Int("pid", cmd.Process.Pid),
		logging.Int(logging.FieldAttempt, attempt),
		logging.String("command", strings.Join(s.opts.Argv, " ")),
	)

	stopRead := make(chan struct{})
	defer close(stopRead)
	lines := make(chan string, 64)
	go readLines(reader, lines, stopRead)

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var (
		out      attemptOutcome
		checked  int
		exited   bool
		waitErr  error
		drain    <-chan time.Time
		escalate <-chan time.Time
		ctxDone  = ctx.Done()
	)
	check := s.opts.Policy.CheckLines
	terminate := func(sig syscall.Signal, grace time.Duration) {
		if err := unix.Kill(-pgid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
			s.logger.Warn("signal child process group failed",
				logging.String("signal", sig.String()),
				logging.Error(err),
			)
		}
		if escalate == nil {
			escalate = time.After(grace)
		}
	}

	for !exited || lines != nil {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			s.monitor.Observe(line)
			if out.licenseSignature != "" || checked >= check {
				continue
			}
			checked++
			if sig, hit := DetectLicenseFailure(line); hit {
				out.licenseSignature = sig
				terminate(syscall.SIGTERM, s.opts.KillGrace)
			} else if checked == check {
				s.announce("License check passed, proceeding with workflow...")
			}
		case err := <-waitCh:
			exited = true
			waitErr = err
			escalate = nil
			if lines != nil {
				drain = time.After(defaultDrainTimeout)
			}
		case <-drain:
			lines = nil
		case sig := <-signals:
			if exited {
				continue
			}
			s.announce("Received %s, forwarding to child process...", signalName(sig))
			out.interrupted = sig
			if sys, ok := sig.(syscall.Signal); ok {
				terminate(sys, s.opts.ForwardWait)
			} else {
				terminate(syscall.SIGTERM, s.opts.ForwardWait)
			}
		case <-ctxDone:
			ctxDone = nil
			if exited {
				continue
			}
			out.interrupted = syscall.SIGTERM
			terminate(syscall.SIGTERM, s.opts.ForwardWait)
		case <-escalate:
			escalate = nil
			s.logger.Warn("child process group did not exit; sending SIGKILL",
				logging.String(logging.FieldEventType, "child_kill"),
				logging.Int("pgid", pgid),
			)
			_ = unix.Kill(-pgid, unix.SIGKILL)
		}
	}

	out.code = exitCode(waitErr)
	return out, nil
}

func readLines(r *os.File, lines chan<- string, stop <-chan struct{}) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-stop:
			return
		}
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 1
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return exitErr.ExitCode()
}

func signalExitCode(sig os.Signal) int {
	if sys, ok := sig.(syscall.Signal); ok {
		return 128 + int(sys)
	}
	return 1
}

func signalName(sig os.Signal) string {
	switch sig {
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGINT:
		return "SIGINT"
	default:
		return sig.String()
	}
}
