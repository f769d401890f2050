package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"automate-metashape/internal/logging"
	"automate-metashape/internal/services"
)

var commandContext = exec.CommandContext

const (
	protocolOpen  = "open"
	protocolSave  = "save"
	closeGrace    = 30 * time.Second
	maxResultLine = 4 * 1024 * 1024
)

// Command drives an external engine helper process.
type Command struct {
	argv   []string
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

// NewCommand configures a helper launched with argv. Helper output that is not
// a protocol response is copied to stdout and stderr.
func NewCommand(argv []string, stdout, stderr io.Writer, logger *slog.Logger) (*Command, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "", "engine command", "engine.command is empty", nil)
	}
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Command{
		argv:   append([]string(nil), argv...),
		stdout: stdout,
		stderr: stderr,
		logger: logging.NewComponentLogger(logger, "engine"),
	}, nil
}

type request struct {
	ID     int64          `json:"id"`
	Op     string         `json:"op"`
	Params map[string]any `json:"params,omitempty"`
}

type response struct {
	ID     int64  `json:"id"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Result Result `json:"result"`
}

type commandSession struct {
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	logger     *slog.Logger
	responses  chan response
	readerDone chan struct{}
	stop       chan struct{}

	mu     sync.Mutex
	nextID int64
	closed bool
}

// Open implements Engine by starting the helper and opening the project in it.
func (c *Command) Open(ctx context.Context, req OpenRequest) (Session, error) {
	cmd := commandContext(ctx, c.argv[0], c.argv[1:]...) //nolint:gosec
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = c.stderr
	if err := cmd.Start(); err != nil {
		return nil, services.Wrap(services.ErrEngine, "", "start engine", c.argv[0], err)
	}
	c.logger.Debug("engine helper started",
		logging.String("command", strings.Join(c.argv, " ")),
		logging.Int("pid", cmd.Process.Pid),
	)

	session := &commandSession{
		cmd:        cmd,
		stdin:      stdin,
		logger:     c.logger,
		responses:  make(chan response, 1),
		readerDone: make(chan struct{}),
		stop:       make(chan struct{}),
	}
	go session.read(stdout, c.stdout)

	_, err = session.Invoke(ctx, Call{Op: protocolOpen, Params: map[string]any{
		"path":           req.ProjectPath,
		"create":         req.Create,
		"gpu_enabled":    req.GPU.Enabled,
		"gpu_multiplier": req.GPU.Multiplier,
	}})
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	return session, nil
}

func (s *commandSession) read(stdout io.Reader, forward io.Writer) {
	defer close(s.readerDone)
	defer close(s.responses)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxResultLine)
	for scanner.Scan() {
		line := scanner.Text()
		payload, ok := strings.CutPrefix(line, ResultPrefix)
		if !ok {
			fmt.Fprintln(forward, line)
			continue
		}
		var resp response
		if err := json.Unmarshal([]byte(payload), &resp); err != nil {
			s.logger.Warn("engine helper sent malformed response",
				logging.String(logging.FieldEventType, "engine_protocol_error"),
				logging.Error(err),
			)
			continue
		}
		select {
		case s.responses <- resp:
		case <-s.stop:
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("engine helper output read failed", logging.Error(err))
	}
}

func (s *commandSession) Invoke(ctx context.Context, call Call) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Result{}, services.Wrap(services.ErrEngine, "", call.Op, "session closed", nil)
	}
	s.nextID++
	id := s.nextID
	data, err := json.Marshal(request{ID: id, Op: call.Op, Params: call.Params})
	if err != nil {
		return Result{}, fmt.Errorf("encode %s request: %w", call.Op, err)
	}
	if _, err := s.stdin.Write(append(data, '\n')); err != nil {
		return Result{}, services.Wrap(services.ErrEngine, "", call.Op, "send request", err)
	}
	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case resp, ok := <-s.responses:
			if !ok {
				return Result{}, services.Wrap(services.ErrEngine, "", call.Op, "engine helper exited", nil)
			}
			if resp.ID != id {
				s.logger.Debug("discarding stale engine response", logging.Int64("id", resp.ID))
				continue
			}
			if !resp.OK {
				return Result{}, services.Wrap(services.ErrEngine, "", call.Op, resp.Error, nil)
			}
			return resp.Result, nil
		}
	}
}

func (s *commandSession) Save(ctx context.Context) error {
	_, err := s.Invoke(ctx, Call{Op: protocolSave})
	return err
}

// Close ends the helper by closing its stdin and waits for it to exit.
func (s *commandSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	_ = s.stdin.Close()
	select {
	case <-s.readerDone:
	case <-time.After(closeGrace):
		s.logger.Warn("engine helper did not exit; killing",
			logging.String(logging.FieldEventType, "engine_kill"),
			logging.Duration("grace", closeGrace),
		)
		_ = s.cmd.Process.Kill()
		<-s.readerDone
	}
	if err := s.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return services.Wrap(services.ErrEngine, "", "close", fmt.Sprintf("engine helper exited with code %d", exitErr.ExitCode()), nil)
		}
		return fmt.Errorf("wait for engine helper: %w", err)
	}
	return nil
}

var _ Engine = (*Command)(nil)
