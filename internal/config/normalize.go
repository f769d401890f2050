package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"automate-metashape/internal/textutil"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRunName()
	c.normalizeEngine()
	c.normalizeLogging()
	c.normalizeSteps()
	return nil
}

func (c *Config) normalizePaths() error {
	photos := make(PathList, 0, len(c.PhotoPath))
	for i, p := range c.PhotoPath {
		if strings.TrimSpace(p) == "" {
			continue
		}
		expanded, err := expandPath(strings.TrimSpace(p))
		if err != nil {
			return fmt.Errorf("photo_path[%d]: %w", i, err)
		}
		photos = append(photos, expanded)
	}
	c.PhotoPath = photos

	var err error
	if c.PhotoPathSecondary, err = expandPath(strings.TrimSpace(c.PhotoPathSecondary)); err != nil {
		return fmt.Errorf("photo_path_secondary: %w", err)
	}
	if c.ProjectPath, err = expandPath(strings.TrimSpace(c.ProjectPath)); err != nil {
		return fmt.Errorf("project_path: %w", err)
	}
	if c.OutputPath, err = expandPath(strings.TrimSpace(c.OutputPath)); err != nil {
		return fmt.Errorf("output_path: %w", err)
	}
	if c.Logging.File, err = expandPath(strings.TrimSpace(c.Logging.File)); err != nil {
		return fmt.Errorf("logging.file: %w", err)
	}
	return nil
}

// normalizeRunName derives the run name from the configuration file name when
// requested. The run name has no timestamp: every step invocation of a mission
// must resolve the same project file.
func (c *Config) normalizeRunName() {
	name := strings.TrimSpace(c.RunName)
	if name == "" || name == runNameFromConfig {
		base := filepath.Base(c.SourcePath)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	c.RunName = textutil.SanitizeFileName(name)
}

func (c *Config) normalizeEngine() {
	c.Engine.Kind = strings.ToLower(strings.TrimSpace(c.Engine.Kind))
	if c.Engine.Kind == "" {
		c.Engine.Kind = defaultEngineKind
	}
	cmd := c.Engine.Command[:0:0]
	for _, part := range c.Engine.Command {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			cmd = append(cmd, trimmed)
		}
	}
	c.Engine.Command = cmd
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeSteps() {
	c.ProjectCRS = strings.TrimSpace(c.ProjectCRS)
	c.AddGCPs.GCPCRS = strings.TrimSpace(c.AddGCPs.GCPCRS)
	if c.AddGCPs.GCPCRS == "" {
		c.AddGCPs.GCPCRS = c.ProjectCRS
	}
	c.BuildMesh.ExportExtension = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.BuildMesh.ExportExtension)), ".")
	if c.BuildMesh.ExportExtension == "" {
		c.BuildMesh.ExportExtension = defaultMeshExtension
	}
	c.BuildMesh.FaceCount = strings.TrimSpace(c.BuildMesh.FaceCount)
	if c.BuildMesh.FaceCount == "" {
		c.BuildMesh.FaceCount = defaultMeshFaceCount
	}
	c.BuildDem.Surface = trimList(c.BuildDem.Surface)
	c.BuildOrthomosaic.Surface = trimList(c.BuildOrthomosaic.Surface)
	c.BuildPointCloud.Classes = trimList(c.BuildPointCloud.Classes)
	if len(c.BuildPointCloud.Classes) == 0 {
		c.BuildPointCloud.Classes = []string{"ALL"}
	}
}

func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
