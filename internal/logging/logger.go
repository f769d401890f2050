package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"automate-metashape/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	// OutputPaths are files, or "stdout"/"stderr". Empty means stderr.
	OutputPaths []string
	Development bool
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	levelVar := new(slog.LevelVar)
	levelVar.Set(parseLevel(opts.Level))
	addSource := opts.Development || levelVar.Level() <= slog.LevelDebug

	var build func(io.Writer, *slog.LevelVar, bool) slog.Handler
	switch format := strings.ToLower(strings.TrimSpace(opts.Format)); format {
	case "", "console":
		build = newConsoleHandler
	case "json":
		build = newJSONHandler
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	writer, err := openSinks(opts.OutputPaths)
	if err != nil {
		return nil, err
	}
	return slog.New(build(writer, levelVar, addSource)), nil
}

// NewFromConfig creates the process logger from the workflow logging section.
// Console records go to stderr so stdout stays reserved for the child output
// stream the supervisor inspects; a configured file receives JSON records.
func NewFromConfig(cfg config.Logging) (*slog.Logger, error) {
	logger, err := New(Options{Level: cfg.Level, Format: cfg.Format})
	if err != nil {
		return nil, err
	}
	file := strings.TrimSpace(cfg.File)
	if file == "" {
		return logger, nil
	}
	writer, err := openSink(file)
	if err != nil {
		return nil, err
	}
	levelVar := new(slog.LevelVar)
	levelVar.Set(parseLevel(cfg.Level))
	return TeeLogger(logger, newJSONHandler(writer, levelVar, false)), nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openSinks(paths []string) (io.Writer, error) {
	var names []string
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" && !slices.Contains(names, p) {
			names = append(names, p)
		}
	}
	if len(names) == 0 {
		return os.Stderr, nil
	}
	writers := make([]io.Writer, 0, len(names))
	for _, name := range names {
		w, err := openSink(name)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

// openSink resolves "stdout", "stderr" or a file opened for append, creating
// its directory.
func openSink(name string) (io.Writer, error) {
	switch name {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return nil, fmt.Errorf("ensure log directory: %w", err)
	}
	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", name, err)
	}
	return file, nil
}
