package stage

import (
	"slices"

	"automate-metashape/internal/config"
	"automate-metashape/internal/engine"
	"automate-metashape/internal/project"
	"automate-metashape/internal/services"
)

// Requirement is one prerequisite a project must satisfy.
type Requirement struct {
	// Missing describes the artifact in error messages.
	Missing  string
	RunFirst Name
	Met      func(doc *project.Document, cfg *config.Config) bool
}

// Descriptor is the static metadata of a step.
type Descriptor struct {
	Name       Name
	Operations []string
	GPU        bool
	Requires   []Requirement
	enabled    func(cfg *config.Config) bool
}

// Enabled reports whether cfg switches the step on.
func (d Descriptor) Enabled(cfg *config.Config) bool {
	if d.enabled == nil || cfg == nil {
		return true
	}
	return d.enabled(cfg)
}

// Check returns a *services.PreconditionError for the first unmet requirement.
func (d Descriptor) Check(doc *project.Document, cfg *config.Config) error {
	for _, req := range d.Requires {
		if !req.Met(doc, cfg) {
			return &services.PreconditionError{Step: string(d.Name), Missing: req.Missing, RunFirst: string(req.RunFirst)}
		}
	}
	return nil
}

var (
	needCameras = Requirement{
		Missing:  "photos added to the project",
		RunFirst: Setup,
		Met: func(doc *project.Document, _ *config.Config) bool {
			return doc != nil && len(doc.CameraIDs(false)) > 0
		},
	}
	needTiePoints = Requirement{
		Missing:  "tie points",
		RunFirst: MatchPhotos,
		Met: func(doc *project.Document, _ *config.Config) bool {
			return doc.Has(project.SlotTiePoints)
		},
	}
	needAligned = Requirement{
		Missing:  "at least one aligned camera",
		RunFirst: AlignCameras,
		Met: func(doc *project.Document, _ *config.Config) bool {
			return doc.AlignedCount(false) > 0
		},
	}
	needDepthMaps = Requirement{
		Missing:  "depth maps",
		RunFirst: BuildDepthMaps,
		Met: func(doc *project.Document, _ *config.Config) bool {
			return doc.Has(project.SlotDepthMaps)
		},
	}
	needSurface = Requirement{
		Missing:  "a dense point cloud or a mesh",
		RunFirst: BuildPointCloud,
		Met: func(doc *project.Document, _ *config.Config) bool {
			return doc.Has(project.SlotDenseCloud) || doc.Has(project.SlotMesh)
		},
	}
	needCloudSurface = Requirement{
		Missing:  "a dense point cloud for the point cloud surfaces",
		RunFirst: BuildPointCloud,
		Met: func(doc *project.Document, cfg *config.Config) bool {
			return !usesSurface(cfg, config.SurfaceDSMPointCloud, config.SurfaceDTMPointCloud) || doc.Has(project.SlotDenseCloud)
		},
	}
	needMeshSurface = Requirement{
		Missing:  "a mesh for the mesh surfaces",
		RunFirst: BuildMesh,
		Met: func(doc *project.Document, cfg *config.Config) bool {
			return !usesSurface(cfg, config.SurfaceDSMMesh, config.SurfaceMesh) || doc.Has(project.SlotMesh)
		},
	}
	needSecondaryPath = Requirement{
		Missing:  "photo_path_secondary photos added to the project",
		RunFirst: Setup,
		Met: func(doc *project.Document, _ *config.Config) bool {
			return doc != nil && len(doc.CameraIDs(true)) > 0
		},
	}
	needSecondaryTiePoints = Requirement{
		Missing:  "secondary tie points",
		RunFirst: MatchPhotosSecondary,
		Met: func(doc *project.Document, _ *config.Config) bool {
			return doc.Has(project.SlotSecondaryTiePoints)
		},
	}
)

// usesSurface reports whether an enabled DEM or orthomosaic uses one of surfaces.
func usesSurface(cfg *config.Config, surfaces ...string) bool {
	if cfg == nil {
		return false
	}
	var active []string
	if cfg.BuildDem.Enabled {
		active = append(active, cfg.BuildDem.Surface...)
	}
	if cfg.BuildOrthomosaic.Enabled {
		active = append(active, cfg.BuildOrthomosaic.Surface...)
	}
	for _, s := range surfaces {
		if slices.Contains(active, s) {
			return true
		}
	}
	return false
}

var descriptors = map[Name]Descriptor{
	Setup: {
		Name:       Setup,
		Operations: []string{engine.OpAddPhotos, engine.OpCalibrateReflectance},
	},
	MatchPhotos: {
		Name:       MatchPhotos,
		Operations: []string{engine.OpMatchPhotos},
		GPU:        true,
		Requires:   []Requirement{needCameras},
		enabled:    func(c *config.Config) bool { return c.MatchPhotos.Enabled },
	},
	AlignCameras: {
		Name: AlignCameras,
		Operations: []string{
			engine.OpAlignCameras,
			engine.OpResetRegion,
			engine.OpFilterPoints,
			engine.OpAddGCPs,
			engine.OpOptimizeCameras,
			engine.OpFilterPoints,
			engine.OpExportCameras,
		},
		GPU:      true,
		Requires: []Requirement{needTiePoints},
		enabled:  func(c *config.Config) bool { return c.AlignCameras.Enabled },
	},
	BuildDepthMaps: {
		Name:       BuildDepthMaps,
		Operations: []string{engine.OpBuildDepthMaps},
		GPU:        true,
		Requires:   []Requirement{needAligned},
		enabled:    func(c *config.Config) bool { return c.BuildDepthMaps.Enabled },
	},
	BuildPointCloud: {
		Name:       BuildPointCloud,
		Operations: []string{engine.OpBuildPointCloud, engine.OpClassifyGroundPoints, engine.OpExportPointCloud},
		Requires:   []Requirement{needDepthMaps},
		enabled:    func(c *config.Config) bool { return c.BuildPointCloud.Enabled },
	},
	BuildMesh: {
		Name:       BuildMesh,
		Operations: []string{engine.OpBuildMesh, engine.OpExportMesh},
		GPU:        true,
		Requires:   []Requirement{needDepthMaps},
		enabled:    func(c *config.Config) bool { return c.BuildMesh.Enabled },
	},
	BuildDemOrthomosaic: {
		Name: BuildDemOrthomosaic,
		Operations: []string{
			engine.OpClassifyGroundPoints,
			engine.OpBuildDEM,
			engine.OpExportDEM,
			engine.OpBuildOrthomosaic,
			engine.OpExportOrthomosaic,
			engine.OpRemovePointCloud,
			engine.OpRemoveOrthomosaic,
		},
		Requires: []Requirement{needSurface, needCloudSurface, needMeshSurface},
		enabled:  func(c *config.Config) bool { return c.DemOrthoEnabled() },
	},
	MatchPhotosSecondary: {
		Name:       MatchPhotosSecondary,
		Operations: []string{engine.OpMatchPhotos},
		GPU:        true,
		Requires:   []Requirement{needSecondaryPath, needAligned},
		enabled:    func(c *config.Config) bool { return c.HasSecondary() && c.MatchPhotos.Enabled },
	},
	AlignCamerasSecondary: {
		Name:       AlignCamerasSecondary,
		Operations: []string{engine.OpAlignCameras, engine.OpResetRegion, engine.OpExportCameras},
		GPU:        true,
		Requires:   []Requirement{needSecondaryTiePoints},
		enabled:    func(c *config.Config) bool { return c.HasSecondary() && c.AlignCameras.Enabled },
	},
	Finalize: {
		Name:       Finalize,
		Operations: []string{engine.OpExportReport},
		Requires:   []Requirement{needAligned},
	},
}

// Describe returns the descriptor for name.
func Describe(name Name) (Descriptor, bool) {
	d, ok := descriptors[name]
	return d, ok
}

// Descriptors returns every descriptor in run-all order.
func Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(Order))
	for _, name := range Order {
		out = append(out, descriptors[name])
	}
	return out
}
