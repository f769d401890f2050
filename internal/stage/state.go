package stage

// State is the run position reached after a step completes.
type State string

const (
	Uninitialized    State = "UNINITIALIZED"
	SetupDone        State = "SETUP_DONE"
	Matched          State = "MATCHED"
	Aligned          State = "ALIGNED"
	DepthMapped      State = "DEPTH_MAPPED"
	PointClouded     State = "POINT_CLOUDED"
	Meshed           State = "MESHED"
	DemOrthoDone     State = "DEM_ORTHO_DONE"
	SecondaryMatched State = "SECONDARY_MATCHED"
	SecondaryAligned State = "SECONDARY_ALIGNED"
	Finalized        State = "FINALIZED"
)

var stateAfter = map[Name]State{
	Setup:                 SetupDone,
	MatchPhotos:           Matched,
	AlignCameras:          Aligned,
	BuildDepthMaps:        DepthMapped,
	BuildPointCloud:       PointClouded,
	BuildMesh:             Meshed,
	BuildDemOrthomosaic:   DemOrthoDone,
	MatchPhotosSecondary:  SecondaryMatched,
	AlignCamerasSecondary: SecondaryAligned,
	Finalize:              Finalized,
}

// StateAfter returns the state a successful run of name transitions to.
func StateAfter(name Name) State {
	if s, ok := stateAfter[name]; ok {
		return s
	}
	return Uninitialized
}

// Terminal reports whether no further step follows s.
func (s State) Terminal() bool { return s == Finalized }
