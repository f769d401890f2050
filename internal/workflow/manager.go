package workflow

import (
	"io"
	"log/slog"
	"time"

	"automate-metashape/internal/config"
	"automate-metashape/internal/engine"
	"automate-metashape/internal/logging"
	"automate-metashape/internal/stage"
)

// Manager runs workflow steps for one mission configuration.
type Manager struct {
	cfg      *config.Config
	engine   engine.Engine
	registry *stage.Registry
	logger   *slog.Logger
	tracker  stage.Tracker
	runLog   stage.RunLog
	host     stage.Host
	console  io.Writer
	now      func() time.Time
}

// Options carries the Manager's collaborators.
type Options struct {
	Engine   engine.Engine
	Registry *stage.Registry
	Logger   *slog.Logger
	Tracker  stage.Tracker
	RunLog   stage.RunLog
	Host     stage.Host
	// Console receives step announcements for the output monitor.
	Console io.Writer
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	console := opts.Console
	if console == nil {
		console = io.Discard
	}
	return &Manager{
		cfg:      cfg,
		engine:   opts.Engine,
		registry: opts.Registry,
		logger:   logging.NewComponentLogger(logger, "workflow"),
		tracker:  opts.Tracker,
		runLog:   opts.RunLog,
		host:     opts.Host,
		console:  console,
		now:      time.Now,
	}
}
