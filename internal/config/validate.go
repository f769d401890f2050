package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	validDownscales      = []int{0, 1, 2, 4, 8, 16}
	validPreselection    = []string{"Source", "Estimated", "Sequential"}
	validFilterModes     = []string{"NoFiltering", "MildFiltering", "ModerateFiltering", "AggressiveFiltering"}
	validFaceCounts      = []string{"Low", "Medium", "High", "Custom"}
	validBlending        = []string{"MosaicBlending", "AverageBlending", "DisabledBlending"}
	validDemSurfaces     = []string{SurfaceDSMPointCloud, SurfaceDTMPointCloud, SurfaceDSMMesh}
	validOrthoSurfaces   = []string{SurfaceDSMPointCloud, SurfaceDTMPointCloud, SurfaceDSMMesh, SurfaceMesh}
	validMeshExtensions  = []string{"ply", "obj", "fbx", "dae", "stl", "gltf", "glb"}
	validLogFormats      = []string{"console", "json"}
	validLogLevels       = []string{"debug", "info", "warn", "warning", "error"}
	validPointCloudClass = []string{"ALL", "Created", "Unclassified", "Ground", "LowVegetation", "MediumVegetation", "HighVegetation", "Building", "LowPoint", "Water", "RoadSurface", "Car", "Manmade"}
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateMatching(); err != nil {
		return err
	}
	if err := c.validateAlignment(); err != nil {
		return err
	}
	if err := c.validateDense(); err != nil {
		return err
	}
	return c.validateRasters()
}

func (c *Config) validatePaths() error {
	if len(c.PhotoPath) == 0 {
		return errors.New("photo_path must list at least one directory")
	}
	if c.ProjectPath == "" {
		return errors.New("project_path must be set")
	}
	if c.OutputPath == "" {
		return errors.New("output_path must be set")
	}
	if c.RunName == "" {
		return errors.New("run_name could not be derived; set run_name explicitly")
	}
	if slices.Contains(c.PhotoPath, c.PhotoPathSecondary) {
		return fmt.Errorf("photo_path_secondary %q duplicates a primary photo path", c.PhotoPathSecondary)
	}
	if c.FixAccuracy < 0 || c.NofixAccuracy < 0 {
		return errors.New("fix_accuracy and nofix_accuracy must be non-negative")
	}
	if c.GPUMultiplier < 0 {
		return errors.New("gpu_multiplier must be non-negative")
	}
	return nil
}

func (c *Config) validateEngine() error {
	switch c.Engine.Kind {
	case EngineCommand:
		if len(c.Engine.Command) == 0 {
			return errors.New("engine.command must be set when engine.kind is command")
		}
	case EngineSimulated:
	default:
		return fmt.Errorf("engine.kind must be %q or %q (got %q)", EngineCommand, EngineSimulated, c.Engine.Kind)
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !slices.Contains(validLogFormats, c.Logging.Format) {
		return fmt.Errorf("logging.format must be one of %s (got %q)", strings.Join(validLogFormats, ", "), c.Logging.Format)
	}
	if !slices.Contains(validLogLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of %s (got %q)", strings.Join(validLogLevels, ", "), c.Logging.Level)
	}
	return nil
}

func (c *Config) validateMatching() error {
	if !slices.Contains(validDownscales, c.MatchPhotos.Downscale) {
		return fmt.Errorf("matchPhotos.downscale must be one of %v (got %d)", validDownscales, c.MatchPhotos.Downscale)
	}
	if c.MatchPhotos.ReferencePreselection && !slices.Contains(validPreselection, c.MatchPhotos.ReferencePreselectionMode) {
		return fmt.Errorf("matchPhotos.reference_preselection_mode must be one of %s (got %q)",
			strings.Join(validPreselection, ", "), c.MatchPhotos.ReferencePreselectionMode)
	}
	if c.CalibrateReflectance.Enabled && strings.TrimSpace(c.CalibrateReflectance.PanelFilename) == "" {
		return errors.New("calibrateReflectance.panel_filename must be set when calibration is enabled")
	}
	return nil
}

func (c *Config) validateAlignment() error {
	if c.AddGCPs.Enabled {
		if c.AddGCPs.MarkerLocationAccuracy <= 0 || c.AddGCPs.MarkerProjectionAccuracy <= 0 {
			return errors.New("addGCPs marker accuracies must be positive")
		}
	}
	f := c.FilterPointsUSGS
	if f.Enabled {
		for name, pct := range map[string]float64{
			"rec_thresh_percent":    f.RecThreshPercent,
			"proj_thresh_percent":   f.ProjThreshPercent,
			"reproj_thresh_percent": f.ReprojThreshPercent,
		} {
			if pct < 0 || pct > 100 {
				return fmt.Errorf("filterPointsUSGS.%s must be between 0 and 100", name)
			}
		}
	}
	return nil
}

func (c *Config) validateDense() error {
	if !slices.Contains(validDownscales, c.BuildDepthMaps.Downscale) {
		return fmt.Errorf("buildDepthMaps.downscale must be one of %v (got %d)", validDownscales, c.BuildDepthMaps.Downscale)
	}
	if !slices.Contains(validFilterModes, c.BuildDepthMaps.FilterMode) {
		return fmt.Errorf("buildDepthMaps.filter_mode must be one of %s (got %q)", strings.Join(validFilterModes, ", "), c.BuildDepthMaps.FilterMode)
	}
	for _, class := range c.BuildPointCloud.Classes {
		if !slices.Contains(validPointCloudClass, class) {
			return fmt.Errorf("buildPointCloud.classes: unknown class %q", class)
		}
	}
	if !slices.Contains(validFaceCounts, c.BuildMesh.FaceCount) {
		return fmt.Errorf("buildMesh.face_count must be one of %s (got %q)", strings.Join(validFaceCounts, ", "), c.BuildMesh.FaceCount)
	}
	if c.BuildMesh.FaceCount == "Custom" && c.BuildMesh.FaceCountCustom <= 0 {
		return errors.New("buildMesh.face_count_custom must be positive when face_count is Custom")
	}
	if !slices.Contains(validMeshExtensions, c.BuildMesh.ExportExtension) {
		return fmt.Errorf("buildMesh.export_extension must be one of %s (got %q)", strings.Join(validMeshExtensions, ", "), c.BuildMesh.ExportExtension)
	}
	return nil
}

func (c *Config) validateRasters() error {
	if c.BuildDem.Enabled {
		if len(c.BuildDem.Surface) == 0 {
			return errors.New("buildDem.surface must list at least one surface when DEMs are enabled")
		}
		for _, s := range c.BuildDem.Surface {
			if !slices.Contains(validDemSurfaces, s) {
				return fmt.Errorf("buildDem.surface: unknown surface %q (valid: %s)", s, strings.Join(validDemSurfaces, ", "))
			}
		}
		if c.BuildDem.Resolution < 0 {
			return errors.New("buildDem.resolution must be non-negative")
		}
	}
	if c.BuildOrthomosaic.Enabled {
		if len(c.BuildOrthomosaic.Surface) == 0 {
			return errors.New("buildOrthomosaic.surface must list at least one surface when orthomosaics are enabled")
		}
		for _, s := range c.BuildOrthomosaic.Surface {
			if !slices.Contains(validOrthoSurfaces, s) {
				return fmt.Errorf("buildOrthomosaic.surface: unknown surface %q (valid: %s)", s, strings.Join(validOrthoSurfaces, ", "))
			}
		}
		if !slices.Contains(validBlending, c.BuildOrthomosaic.Blending) {
			return fmt.Errorf("buildOrthomosaic.blending must be one of %s (got %q)", strings.Join(validBlending, ", "), c.BuildOrthomosaic.Blending)
		}
	}
	return nil
}
