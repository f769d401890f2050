package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Operation names understood by every adapter.
const (
	OpDescribe             = "describe"
	OpAddPhotos            = "add_photos"
	OpCalibrateReflectance = "calibrate_reflectance"
	OpMatchPhotos          = "match_photos"
	OpAlignCameras         = "align_cameras"
	OpResetRegion          = "reset_region"
	OpFilterPoints         = "filter_points_usgs"
	OpAddGCPs              = "add_gcps"
	OpOptimizeCameras      = "optimize_cameras"
	OpExportCameras        = "export_cameras"
	OpBuildDepthMaps       = "build_depth_maps"
	OpBuildPointCloud      = "build_point_cloud"
	OpClassifyGroundPoints = "classify_ground_points"
	OpExportPointCloud     = "export_point_cloud"
	OpRemovePointCloud     = "remove_point_cloud"
	OpBuildMesh            = "build_mesh"
	OpExportMesh           = "export_mesh"
	OpBuildDEM             = "build_dem"
	OpExportDEM            = "export_dem"
	OpBuildOrthomosaic     = "build_orthomosaic"
	OpExportOrthomosaic    = "export_orthomosaic"
	OpRemoveOrthomosaic    = "remove_orthomosaic"
	OpExportReport         = "export_report"
)

// Engine opens project sessions.
type Engine interface {
	Open(ctx context.Context, req OpenRequest) (Session, error)
}

// Session is an open engine project.
type Session interface {
	Invoke(ctx context.Context, call Call) (Result, error)
	// Save persists the engine project file.
	Save(ctx context.Context) error
	Close() error
}

// OpenRequest identifies the engine project and the device setup for a step.
type OpenRequest struct {
	ProjectPath string
	// Create starts a new project, replacing any existing file.
	Create bool
	GPU    GPUSettings
}

// GPUSettings mirrors the engine's device selection.
type GPUSettings struct {
	Enabled    bool `json:"enabled"`
	Multiplier int  `json:"multiplier"`
}

// Call is one engine operation.
type Call struct {
	Op     string         `json:"op"`
	Params map[string]any `json:"params,omitempty"`
}

// Result reports what an operation produced.
type Result struct {
	Count   int               `json:"count"`
	Cameras []string          `json:"cameras,omitempty"`
	Outputs []string          `json:"outputs,omitempty"`
	Info    map[string]string `json:"info,omitempty"`
}

// Photo is a file handed to add_photos.
type Photo struct {
	Label string `json:"label"`
	Path  string `json:"path"`
}

// Console prefixes shared by the executor, the engine helper, and the output
// monitor.
const (
	ProgressPrefix = "[automate-metashape-progress]"
	ResultPrefix   = "[automate-metashape-result] "
)

// FormatProgress renders a progress marker line.
func FormatProgress(op string, percent float64) string {
	return fmt.Sprintf("%s %s: %s%%", ProgressPrefix, op, strconv.FormatFloat(percent, 'f', -1, 64))
}

// ParseProgress extracts the operation and percent from a progress marker
// line. Lines that are not markers return ok=false.
func ParseProgress(line string) (op string, percent float64, ok bool) {
	idx := strings.Index(line, ProgressPrefix)
	if idx < 0 {
		return "", 0, false
	}
	rest := strings.TrimSpace(line[idx+len(ProgressPrefix):])
	colon := strings.LastIndex(rest, ":")
	if colon < 0 {
		return "", 0, false
	}
	op = strings.TrimSpace(rest[:colon])
	value := strings.TrimSpace(rest[colon+1:])
	value = strings.TrimSpace(strings.TrimSuffix(value, "%"))
	pct, err := strconv.ParseFloat(value, 64)
	if err != nil || op == "" {
		return "", 0, false
	}
	return op, pct, true
}
