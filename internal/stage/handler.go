package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"automate-metashape/internal/config"
	"automate-metashape/internal/engine"
	"automate-metashape/internal/logging"
	"automate-metashape/internal/project"
	"automate-metashape/internal/services"
)

// RunLog receives human-readable run log entries.
type RunLog interface {
	Line(key, value string) error
	Raw(body string) error
}

// Host describes the node the step runs on, for the run log header.
type Host struct {
	Node     string
	CPU      string
	GPUCount int
	GPUModel string
}

// Tracker measures one engine operation.
type Tracker interface {
	Track(ctx context.Context, step, op string, fn func() error) error
}

// Env is the state handed to a handler for one step invocation. Handlers
// mutate Project in place; the dispatcher persists it only after Execute
// returns nil.
type Env struct {
	Step    Name
	Config  *config.Config
	Project *project.Document
	Session engine.Session
	Logger  *slog.Logger
	Tracker Tracker
	RunLog  RunLog
	Host    Host
}

// Call invokes op on the engine session, tracking it and tagging failures
// with the step and operation.
func (e *Env) Call(ctx context.Context, op string, params map[string]any) (engine.Result, error) {
	var result engine.Result
	run := func() error {
		var err error
		result, err = e.Session.Invoke(ctx, engine.Call{Op: op, Params: params})
		return err
	}
	var err error
	if e.Tracker != nil {
		err = e.Tracker.Track(ctx, string(e.Step), op, run)
	} else {
		err = run()
	}
	if errors.Is(err, services.ErrEngine) {
		return engine.Result{}, fmt.Errorf("%s: %w", e.Step, err)
	}
	if err != nil {
		return engine.Result{}, services.Wrap(services.ErrEngine, string(e.Step), op, "engine operation failed", err)
	}
	if e.Logger != nil {
		e.Logger.Debug("engine operation completed",
			logging.String(logging.FieldOperation, op),
			logging.Int("count", result.Count),
		)
	}
	return result, nil
}

// Log writes a "key; value" run log line when a run log is attached. Write
// failures are logged, not returned.
func (e *Env) Log(key, value string) {
	if e.RunLog == nil {
		return
	}
	if err := e.RunLog.Line(key, value); err != nil {
		e.warnRunLog(err)
	}
}

// LogRaw appends text to the run log verbatim.
func (e *Env) LogRaw(body string) {
	if e.RunLog == nil {
		return
	}
	if err := e.RunLog.Raw(body); err != nil {
		e.warnRunLog(err)
	}
}

func (e *Env) warnRunLog(err error) {
	if e.Logger == nil {
		return
	}
	logging.WarnWithContext(e.Logger, "run log write failed", "run_log_write_failed",
		logging.Error(err),
		logging.String(logging.FieldImpact, "run log is incomplete"),
	)
}

// Handler executes one step.
type Handler interface {
	Execute(ctx context.Context, env *Env) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env *Env) error

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, env *Env) error { return f(ctx, env) }

// Registry binds every step to its handler.
type Registry struct {
	handlers map[Name]Handler
}

// NewRegistry validates that handlers covers every step exactly.
func NewRegistry(handlers map[Name]Handler) (*Registry, error) {
	for _, name := range Order {
		if handlers[name] == nil {
			return nil, fmt.Errorf("stage registry: no handler for step %s", name)
		}
	}
	for name := range handlers {
		if _, ok := descriptors[name]; !ok {
			return nil, fmt.Errorf("stage registry: handler for unknown step %s", name)
		}
	}
	return &Registry{handlers: maps.Clone(handlers)}, nil
}

// Handler returns the handler bound to name.
func (r *Registry) Handler(name Name) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}
