package stage

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"automate-metashape/internal/services"
)

// Name identifies a pipeline step. The string values are an external contract.
type Name string

const (
	Setup                 Name = "setup"
	MatchPhotos           Name = "match_photos"
	AlignCameras          Name = "align_cameras"
	BuildDepthMaps        Name = "build_depth_maps"
	BuildPointCloud       Name = "build_point_cloud"
	BuildMesh             Name = "build_mesh"
	BuildDemOrthomosaic   Name = "build_dem_orthomosaic"
	MatchPhotosSecondary  Name = "match_photos_secondary"
	AlignCamerasSecondary Name = "align_cameras_secondary"
	Finalize              Name = "finalize"
)

// All is the pseudo step that runs every enabled step in one process.
const All Name = "all"

// Order lists every step in run-all order.
var Order = []Name{
	Setup,
	MatchPhotos,
	AlignCameras,
	BuildDepthMaps,
	BuildPointCloud,
	BuildMesh,
	BuildDemOrthomosaic,
	MatchPhotosSecondary,
	AlignCamerasSecondary,
	Finalize,
}

var titleCaser = cases.Title(language.English)

// Label returns a human-readable step name.
func (n Name) Label() string {
	return titleCaser.String(strings.ReplaceAll(string(n), "_", " "))
}

// Parse resolves a step name. Names must match exactly. An empty value
// selects All. Unknown names are configuration errors.
func Parse(value string) (Name, error) {
	if value == "" || value == string(All) {
		return All, nil
	}
	for _, name := range Order {
		if string(name) == value {
			return name, nil
		}
	}
	return "", services.Wrap(services.ErrConfiguration, value, "parse step",
		fmt.Sprintf("unknown step %q (valid: %s)", value, strings.Join(Names(), ", ")), nil)
}

// Names returns the step names in order.
func Names() []string {
	out := make([]string, len(Order))
	for i, n := range Order {
		out[i] = string(n)
	}
	return out
}
