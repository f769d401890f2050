package testsupport

import (
	"path/filepath"
	"testing"

	"automate-metashape/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test
// and the simulated engine. It writes photoCount photos under the primary
// photo path and applies any provided options.
func NewConfig(t testing.TB, photoCount int, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.RunName = "test-run"
	cfgVal.PhotoPath = config.PathList{filepath.Join(base, "photos")}
	cfgVal.ProjectPath = filepath.Join(base, "project")
	cfgVal.OutputPath = filepath.Join(base, "output")
	cfgVal.Engine = config.Engine{Kind: config.EngineSimulated}
	cfgVal.SourcePath = filepath.Join(base, "config.yaml")

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	WritePhotos(t, cfgVal.PhotoPath[0], photoCount)

	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithSecondary adds a secondary photo path holding count photos.
func WithSecondary(count int) ConfigOption {
	return func(b *configBuilder) {
		dir := filepath.Join(b.baseDir, "photos-secondary")
		WritePhotos(b.t, dir, count)
		b.cfg.PhotoPathSecondary = dir
	}
}

// WithConfig mutates the generated config.
func WithConfig(fn func(cfg *config.Config)) ConfigOption {
	return func(b *configBuilder) {
		fn(b.cfg)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.ProjectPath)
}
