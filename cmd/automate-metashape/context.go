package main

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"automate-metashape/internal/config"
	"automate-metashape/internal/logging"
)

// pipelineFlags are the command-line overrides shared by run and exec.
type pipelineFlags struct {
	step        string
	photoPaths  []string
	projectPath string
	outputPath  string
}

func (f *pipelineFlags) bindStep(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.step, "step", "", "Step to run (default: every enabled step)")
}

func (f *pipelineFlags) bindPaths(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.photoPaths, "photo-path", nil, "Photo directory, replaces photo_path (repeatable)")
	cmd.Flags().StringVar(&f.projectPath, "project-path", "", "Replaces project_path")
	cmd.Flags().StringVar(&f.outputPath, "output-path", "", "Replaces output_path")
}

func (f *pipelineFlags) overrides() config.Overrides {
	return config.Overrides{
		PhotoPaths:  f.photoPaths,
		ProjectPath: f.projectPath,
		OutputPath:  f.outputPath,
	}
}

// args renders the overrides for a child invocation.
func (f *pipelineFlags) args() []string {
	var out []string
	if s := strings.TrimSpace(f.step); s != "" {
		out = append(out, "--step", s)
	}
	for _, p := range f.photoPaths {
		out = append(out, "--photo-path", p)
	}
	if f.projectPath != "" {
		out = append(out, "--project-path", f.projectPath)
	}
	if f.outputPath != "" {
		out = append(out, "--output-path", f.outputPath)
	}
	return out
}

type commandContext struct {
	flags pipelineFlags

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) ensureConfig(path string) (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(strings.TrimSpace(path), c.flags.overrides())
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		if c.config == nil {
			c.logger = logging.NewNop()
			return
		}
		c.logger, c.loggerErr = logging.NewFromConfig(c.config.Logging)
	})
	return c.logger, c.loggerErr
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
