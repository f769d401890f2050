package config

const (
	runNameFromConfig     = "from_config_filename"
	defaultProjectCRS     = "EPSG::26910"
	defaultGCPCRS         = "EPSG::26910"
	defaultFixAccuracy    = 3
	defaultNofixAccuracy  = 25
	defaultGPUMultiplier  = 2
	defaultEngineKind     = EngineCommand
	defaultEngineCommand  = "metashape-bridge"
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
	defaultMeshExtension  = "ply"
	defaultMeshFaceCount  = "Medium"
	defaultBlending       = "MosaicBlending"
	defaultDepthFilter    = "ModerateFiltering"
	defaultDepthNeighbors = 16
	defaultCloudNeighbors = 100
	defaultNodata         = -32767
)

// Engine kinds.
const (
	EngineCommand   = "command"
	EngineSimulated = "simulated"
)

// Surface names accepted by buildDem.surface and buildOrthomosaic.surface.
const (
	SurfaceDSMPointCloud = "DSM-ptcloud"
	SurfaceDTMPointCloud = "DTM-ptcloud"
	SurfaceDSMMesh       = "DSM-mesh"
	SurfaceMesh          = "Mesh"
)

// Default returns a Config populated with workflow defaults. Every step is
// enabled; the secondary branch is inactive until photo_path_secondary is set.
func Default() Config {
	return Config{
		RunName:       runNameFromConfig,
		ProjectCRS:    defaultProjectCRS,
		FixAccuracy:   defaultFixAccuracy,
		NofixAccuracy: defaultNofixAccuracy,
		SubdivideTask: true,
		UseCUDA:       true,
		GPUMultiplier: defaultGPUMultiplier,
		Engine: Engine{
			Kind:    defaultEngineKind,
			Command: []string{defaultEngineCommand},
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		CalibrateReflectance: CalibrateReflectance{
			UseReflectancePanels: true,
			UseSunSensor:         true,
		},
		AddGCPs: AddGCPs{
			GCPCRS:                   defaultGCPCRS,
			MarkerLocationAccuracy:   0.1,
			MarkerProjectionAccuracy: 8,
		},
		MatchPhotos: MatchPhotos{
			Enabled:                   true,
			Downscale:                 2,
			GenericPreselection:       true,
			ReferencePreselection:     true,
			ReferencePreselectionMode: "Source",
		},
		AlignCameras: AlignCameras{
			Enabled:         true,
			AdaptiveFitting: true,
			Export:          true,
		},
		FilterPointsUSGS: FilterPointsUSGS{
			RecThreshPercent:     20,
			RecThreshAbsolute:    15,
			ProjThreshPercent:    30,
			ProjThreshAbsolute:   2,
			ReprojThreshPercent:  5,
			ReprojThreshAbsolute: 0.3,
		},
		OptimizeCameras: OptimizeCameras{
			Enabled:         true,
			AdaptiveFitting: true,
			Export:          true,
		},
		BuildDepthMaps: BuildDepthMaps{
			Enabled:      true,
			Downscale:    4,
			FilterMode:   defaultDepthFilter,
			ReuseDepth:   false,
			MaxNeighbors: defaultDepthNeighbors,
		},
		BuildPointCloud: BuildPointCloud{
			Enabled:      true,
			MaxNeighbors: defaultCloudNeighbors,
			KeepDepth:    true,
			Export:       true,
			Classes:      []string{"ALL"},
		},
		ClassifyGroundPoints: ClassifyGroundPoints{
			MaxAngle:    15,
			MaxDistance: 1,
			CellSize:    50,
		},
		BuildMesh: BuildMesh{
			Enabled:         true,
			FaceCount:       defaultMeshFaceCount,
			ExportExtension: defaultMeshExtension,
		},
		BuildDem: BuildDem{
			Enabled:       true,
			Surface:       []string{SurfaceDSMPointCloud},
			Export:        true,
			TiffBig:       true,
			TiffTiled:     true,
			TiffOverviews: true,
			Nodata:        defaultNodata,
		},
		BuildOrthomosaic: BuildOrthomosaic{
			Enabled:         true,
			Surface:         []string{SurfaceDSMPointCloud},
			Blending:        defaultBlending,
			FillHoles:       true,
			RefineSeamlines: true,
			Export:          true,
			TiffBig:         true,
			TiffTiled:       true,
			TiffOverviews:   true,
			Nodata:          defaultNodata,
		},
	}
}
