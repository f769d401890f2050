package pipeline

import "automate-metashape/internal/stage"

// Handlers returns the handler for every workflow step.
func Handlers() map[stage.Name]stage.Handler {
	return map[stage.Name]stage.Handler{
		stage.Setup:                 stage.HandlerFunc(runSetup),
		stage.MatchPhotos:           stage.HandlerFunc(runMatchPhotos),
		stage.AlignCameras:          stage.HandlerFunc(runAlignCameras),
		stage.BuildDepthMaps:        stage.HandlerFunc(runBuildDepthMaps),
		stage.BuildPointCloud:       stage.HandlerFunc(runBuildPointCloud),
		stage.BuildMesh:             stage.HandlerFunc(runBuildMesh),
		stage.BuildDemOrthomosaic:   stage.HandlerFunc(runBuildDemOrthomosaic),
		stage.MatchPhotosSecondary:  stage.HandlerFunc(runMatchPhotosSecondary),
		stage.AlignCamerasSecondary: stage.HandlerFunc(runAlignCamerasSecondary),
		stage.Finalize:              stage.HandlerFunc(runFinalize),
	}
}

// NewRegistry binds Handlers to the step enumeration.
func NewRegistry() (*stage.Registry, error) {
	return stage.NewRegistry(Handlers())
}
