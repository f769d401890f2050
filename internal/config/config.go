package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"automate-metashape/internal/services"
)

//go:embed sample_config.yaml
var sampleConfig string

// PathList accepts either a single path or a list of paths in YAML.
type PathList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *PathList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var single string
		if err := node.Decode(&single); err != nil {
			return err
		}
		*p = PathList{single}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := node.Decode(&many); err != nil {
			return err
		}
		*p = PathList(many)
		return nil
	default:
		return fmt.Errorf("line %d: expected a path or a list of paths", node.Line)
	}
}

// Engine selects the reconstruction engine adapter.
type Engine struct {
	// Kind is "command" (external helper process) or "simulated".
	Kind    string   `yaml:"kind" toml:"kind"`
	Command []string `yaml:"command" toml:"command"`
}

// Logging contains configuration for executor diagnostics.
type Logging struct {
	Format string `yaml:"format" toml:"format"`
	Level  string `yaml:"level" toml:"level"`
	File   string `yaml:"file,omitempty" toml:"file"`
}

// CalibrateReflectance configures multispectral reflectance calibration during setup.
type CalibrateReflectance struct {
	Enabled              bool   `yaml:"enabled" toml:"enabled"`
	PanelFilename        string `yaml:"panel_filename" toml:"panel_filename"`
	UseReflectancePanels bool   `yaml:"use_reflectance_panels" toml:"use_reflectance_panels"`
	UseSunSensor         bool   `yaml:"use_sun_sensor" toml:"use_sun_sensor"`
}

// AddGCPs configures ground control point import during alignment.
type AddGCPs struct {
	Enabled                  bool    `yaml:"enabled" toml:"enabled"`
	GCPCRS                   string  `yaml:"gcp_crs" toml:"gcp_crs"`
	MarkerLocationAccuracy   float64 `yaml:"marker_location_accuracy" toml:"marker_location_accuracy"`
	MarkerProjectionAccuracy float64 `yaml:"marker_projection_accuracy" toml:"marker_projection_accuracy"`
	OptimizeWithGCPsOnly     bool    `yaml:"optimize_w_gcps_only" toml:"optimize_w_gcps_only"`
}

// MatchPhotos configures tie point generation.
type MatchPhotos struct {
	Enabled                   bool   `yaml:"enabled" toml:"enabled"`
	Downscale                 int    `yaml:"downscale" toml:"downscale"`
	KeepKeypoints             bool   `yaml:"keep_keypoints" toml:"keep_keypoints"`
	GenericPreselection       bool   `yaml:"generic_preselection" toml:"generic_preselection"`
	ReferencePreselection     bool   `yaml:"reference_preselection" toml:"reference_preselection"`
	ReferencePreselectionMode string `yaml:"reference_preselection_mode" toml:"reference_preselection_mode"`
}

// AlignCameras configures camera alignment.
type AlignCameras struct {
	Enabled         bool `yaml:"enabled" toml:"enabled"`
	AdaptiveFitting bool `yaml:"adaptive_fitting" toml:"adaptive_fitting"`
	ResetAlignment  bool `yaml:"reset_alignment" toml:"reset_alignment"`
	Export          bool `yaml:"export" toml:"export"`
}

// FilterPointsUSGS configures tie point filtering around camera optimization.
type FilterPointsUSGS struct {
	Enabled              bool    `yaml:"enabled" toml:"enabled"`
	RecThreshPercent     float64 `yaml:"rec_thresh_percent" toml:"rec_thresh_percent"`
	RecThreshAbsolute    float64 `yaml:"rec_thresh_absolute" toml:"rec_thresh_absolute"`
	ProjThreshPercent    float64 `yaml:"proj_thresh_percent" toml:"proj_thresh_percent"`
	ProjThreshAbsolute   float64 `yaml:"proj_thresh_absolute" toml:"proj_thresh_absolute"`
	ReprojThreshPercent  float64 `yaml:"reproj_thresh_percent" toml:"reproj_thresh_percent"`
	ReprojThreshAbsolute float64 `yaml:"reproj_thresh_absolute" toml:"reproj_thresh_absolute"`
}

// OptimizeCameras configures bundle adjustment after alignment.
type OptimizeCameras struct {
	Enabled         bool `yaml:"enabled" toml:"enabled"`
	AdaptiveFitting bool `yaml:"adaptive_fitting" toml:"adaptive_fitting"`
	Export          bool `yaml:"export" toml:"export"`
}

// BuildDepthMaps configures depth map generation.
type BuildDepthMaps struct {
	Enabled      bool   `yaml:"enabled" toml:"enabled"`
	Downscale    int    `yaml:"downscale" toml:"downscale"`
	FilterMode   string `yaml:"filter_mode" toml:"filter_mode"`
	ReuseDepth   bool   `yaml:"reuse_depth" toml:"reuse_depth"`
	MaxNeighbors int    `yaml:"max_neighbors" toml:"max_neighbors"`
}

// BuildPointCloud configures dense point cloud generation and export.
type BuildPointCloud struct {
	Enabled              bool     `yaml:"enabled" toml:"enabled"`
	MaxNeighbors         int      `yaml:"max_neighbors" toml:"max_neighbors"`
	KeepDepth            bool     `yaml:"keep_depth" toml:"keep_depth"`
	ClassifyGroundPoints bool     `yaml:"classify_ground_points" toml:"classify_ground_points"`
	Export               bool     `yaml:"export" toml:"export"`
	Classes              []string `yaml:"classes" toml:"classes"`
	RemoveAfterExport    bool     `yaml:"remove_after_export" toml:"remove_after_export"`
}

// ClassifyGroundPoints holds the ground classification parameters shared by
// the point cloud and DEM steps.
type ClassifyGroundPoints struct {
	MaxAngle    float64 `yaml:"max_angle" toml:"max_angle"`
	MaxDistance float64 `yaml:"max_distance" toml:"max_distance"`
	CellSize    float64 `yaml:"cell_size" toml:"cell_size"`
}

// BuildMesh configures mesh generation and export.
type BuildMesh struct {
	Enabled             bool   `yaml:"enabled" toml:"enabled"`
	FaceCount           string `yaml:"face_count" toml:"face_count"`
	FaceCountCustom     int    `yaml:"face_count_custom" toml:"face_count_custom"`
	ExportGeoreferenced bool   `yaml:"export_georeferenced" toml:"export_georeferenced"`
	ExportLocal         bool   `yaml:"export_local" toml:"export_local"`
	ExportTransform     bool   `yaml:"export_transform" toml:"export_transform"`
	ExportExtension     string `yaml:"export_extension" toml:"export_extension"`
}

// BuildDem configures digital elevation models.
type BuildDem struct {
	Enabled              bool     `yaml:"enabled" toml:"enabled"`
	ClassifyGroundPoints bool     `yaml:"classify_ground_points" toml:"classify_ground_points"`
	Surface              []string `yaml:"surface" toml:"surface"`
	Resolution           float64  `yaml:"resolution" toml:"resolution"`
	Export               bool     `yaml:"export" toml:"export"`
	TiffBig              bool     `yaml:"tiff_big" toml:"tiff_big"`
	TiffTiled            bool     `yaml:"tiff_tiled" toml:"tiff_tiled"`
	TiffOverviews        bool     `yaml:"tiff_overviews" toml:"tiff_overviews"`
	Nodata               int      `yaml:"nodata" toml:"nodata"`
}

// BuildOrthomosaic configures orthomosaic generation.
type BuildOrthomosaic struct {
	Enabled           bool     `yaml:"enabled" toml:"enabled"`
	Surface           []string `yaml:"surface" toml:"surface"`
	Blending          string   `yaml:"blending" toml:"blending"`
	FillHoles         bool     `yaml:"fill_holes" toml:"fill_holes"`
	RefineSeamlines   bool     `yaml:"refine_seamlines" toml:"refine_seamlines"`
	Export            bool     `yaml:"export" toml:"export"`
	TiffBig           bool     `yaml:"tiff_big" toml:"tiff_big"`
	TiffTiled         bool     `yaml:"tiff_tiled" toml:"tiff_tiled"`
	TiffOverviews     bool     `yaml:"tiff_overviews" toml:"tiff_overviews"`
	Nodata            int      `yaml:"nodata" toml:"nodata"`
	RemoveAfterExport bool     `yaml:"remove_after_export" toml:"remove_after_export"`
}

// Config encapsulates one mission's workflow configuration.
//
// Sections by step:
//   - setup: photo paths, CRS, RTK accuracy, CalibrateReflectance
//   - match_photos / match_photos_secondary: MatchPhotos
//   - align_cameras / align_cameras_secondary: AlignCameras, AddGCPs,
//     FilterPointsUSGS, OptimizeCameras
//   - build_depth_maps: BuildDepthMaps
//   - build_point_cloud: BuildPointCloud, ClassifyGroundPoints
//   - build_mesh: BuildMesh
//   - build_dem_orthomosaic: BuildDem, BuildOrthomosaic
type Config struct {
	RunName                    string   `yaml:"run_name" toml:"run_name"`
	PhotoPath                  PathList `yaml:"photo_path" toml:"photo_path"`
	PhotoPathSecondary         string   `yaml:"photo_path_secondary" toml:"photo_path_secondary"`
	ProjectPath                string   `yaml:"project_path" toml:"project_path"`
	OutputPath                 string   `yaml:"output_path" toml:"output_path"`
	ProjectCRS                 string   `yaml:"project_crs" toml:"project_crs"`
	Multispectral              bool     `yaml:"multispectral" toml:"multispectral"`
	SeparateCalibrationPerPath bool     `yaml:"separate_calibration_per_path" toml:"separate_calibration_per_path"`
	UseRTK                     bool     `yaml:"use_rtk" toml:"use_rtk"`
	FixAccuracy                float64  `yaml:"fix_accuracy" toml:"fix_accuracy"`
	NofixAccuracy              float64  `yaml:"nofix_accuracy" toml:"nofix_accuracy"`
	SubdivideTask              bool     `yaml:"subdivide_task" toml:"subdivide_task"`
	UseCUDA                    bool     `yaml:"use_cuda" toml:"use_cuda"`
	GPUMultiplier              int      `yaml:"gpu_multiplier" toml:"gpu_multiplier"`

	Engine  Engine  `yaml:"engine" toml:"engine"`
	Logging Logging `yaml:"logging" toml:"logging"`

	CalibrateReflectance CalibrateReflectance `yaml:"calibrateReflectance" toml:"calibrateReflectance"`
	AddGCPs              AddGCPs              `yaml:"addGCPs" toml:"addGCPs"`
	MatchPhotos          MatchPhotos          `yaml:"matchPhotos" toml:"matchPhotos"`
	AlignCameras         AlignCameras         `yaml:"alignCameras" toml:"alignCameras"`
	FilterPointsUSGS     FilterPointsUSGS     `yaml:"filterPointsUSGS" toml:"filterPointsUSGS"`
	OptimizeCameras      OptimizeCameras      `yaml:"optimizeCameras" toml:"optimizeCameras"`
	BuildDepthMaps       BuildDepthMaps       `yaml:"buildDepthMaps" toml:"buildDepthMaps"`
	BuildPointCloud      BuildPointCloud      `yaml:"buildPointCloud" toml:"buildPointCloud"`
	ClassifyGroundPoints ClassifyGroundPoints `yaml:"classifyGroundPoints" toml:"classifyGroundPoints"`
	BuildMesh            BuildMesh            `yaml:"buildMesh" toml:"buildMesh"`
	BuildDem             BuildDem             `yaml:"buildDem" toml:"buildDem"`
	BuildOrthomosaic     BuildOrthomosaic     `yaml:"buildOrthomosaic" toml:"buildOrthomosaic"`

	// SourcePath is the file the configuration was read from.
	SourcePath string `yaml:"-" toml:"-"`
}

// Overrides carries command-line values that replace file settings.
type Overrides struct {
	PhotoPaths  []string
	ProjectPath string
	OutputPath  string
}

// Load reads, normalizes, and validates the configuration at path. Every
// failure is classified as services.ErrConfiguration.
func Load(path string, overrides Overrides) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "config", "load", "configuration path is required", nil)
	}
	resolved, err := expandPath(path)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "config", "resolve path", path, err)
	}
	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrConfiguration, "config", "open", fmt.Sprintf("configuration file %s does not exist", resolved), nil)
		}
		return nil, services.Wrap(services.ErrConfiguration, "config", "open", resolved, err)
	}
	defer file.Close()

	cfg := Default()
	if err := decode(file, resolved, &cfg); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "config", "parse", resolved, err)
	}
	cfg.SourcePath = resolved
	cfg.applyOverrides(overrides)

	if err := cfg.normalize(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "config", "normalize", "", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "config", "validate", "", err)
	}
	return &cfg, nil
}

func decode(r io.Reader, path string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		decoder := toml.NewDecoder(r)
		decoder.DisallowUnknownFields()
		return decoder.Decode(cfg)
	}
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyOverrides(o Overrides) {
	if len(o.PhotoPaths) > 0 {
		c.PhotoPath = append(PathList(nil), o.PhotoPaths...)
	}
	if strings.TrimSpace(o.ProjectPath) != "" {
		c.ProjectPath = o.ProjectPath
	}
	if strings.TrimSpace(o.OutputPath) != "" {
		c.OutputPath = o.OutputPath
	}
}

// EnsureDirectories creates the project and output directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.ProjectPath, c.OutputPath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ProjectFile is the engine project file for this run.
func (c *Config) ProjectFile() string {
	return filepath.Join(c.ProjectPath, c.RunName+".psx")
}

// StateFile is the persisted project document for this run.
func (c *Config) StateFile() string {
	return filepath.Join(c.ProjectPath, c.RunName+".project.db")
}

// RunLogPath is the human-readable append-only run log.
func (c *Config) RunLogPath() string {
	return c.OutputFile("_log.txt")
}

// MetricsPath is the machine-readable per-operation metrics log.
func (c *Config) MetricsPath() string {
	return c.OutputFile("_metrics.yaml")
}

// OutputFile names an output artifact as <output_path>/<run_name><suffix>.
func (c *Config) OutputFile(suffix string) string {
	return filepath.Join(c.OutputPath, c.RunName+suffix)
}

// RawLogPath is the full-fidelity child output log for one invocation. It is
// placed in dirOverride when set, otherwise beside the output directory.
func (c *Config) RawLogPath(step, dirOverride string) string {
	if strings.TrimSpace(step) == "" {
		step = "all"
	}
	name := fmt.Sprintf("metashape-%s-%s.log", c.RunName, step)
	if dir := strings.TrimSpace(dirOverride); dir != "" {
		return filepath.Join(dir, name)
	}
	return filepath.Join(filepath.Dir(filepath.Clean(c.OutputPath)), name)
}

// HasSecondary reports whether a secondary imagery path is configured.
func (c *Config) HasSecondary() bool {
	return strings.TrimSpace(c.PhotoPathSecondary) != ""
}

// DemOrthoEnabled reports whether the DEM/orthomosaic step has any work.
func (c *Config) DemOrthoEnabled() bool {
	return c.BuildDem.Enabled || c.BuildOrthomosaic.Enabled
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// DumpYAML renders the effective configuration.
func (c *Config) DumpYAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(data), nil
}
