package pipeline

import (
	"context"
	"slices"
	"strings"

	"automate-metashape/internal/config"
	"automate-metashape/internal/engine"
	"automate-metashape/internal/project"
	"automate-metashape/internal/stage"
)

// elevationSurfaces lists the DEM surfaces in build order.
var elevationSurfaces = []string{
	config.SurfaceDSMPointCloud,
	config.SurfaceDTMPointCloud,
	config.SurfaceDSMMesh,
}

func runBuildDemOrthomosaic(ctx context.Context, env *stage.Env) error {
	cfg := env.Config
	dem := cfg.BuildDem
	ortho := cfg.BuildOrthomosaic
	demWanted := func(s string) bool { return dem.Enabled && slices.Contains(dem.Surface, s) }
	orthoWanted := func(s string) bool { return ortho.Enabled && slices.Contains(ortho.Surface, s) }

	if dem.Enabled && dem.ClassifyGroundPoints && env.Project.Has(project.SlotDenseCloud) {
		if err := classifyGround(ctx, env); err != nil {
			return err
		}
	}

	dems := project.Artifact{Producer: string(env.Step)}
	orthos := project.Artifact{Producer: string(env.Step)}
	for _, surface := range elevationSurfaces {
		if !demWanted(surface) && !orthoWanted(surface) {
			continue
		}
		source := "point_cloud"
		if surface == config.SurfaceDSMMesh {
			source = "mesh"
		}
		params := map[string]any{
			"surface":        surface,
			"source":         source,
			"crs":            cfg.ProjectCRS,
			"resolution":     dem.Resolution,
			"subdivide_task": cfg.SubdivideTask,
		}
		if surface == config.SurfaceDTMPointCloud {
			params["classes"] = []string{"Ground"}
		}
		if _, err := env.Call(ctx, engine.OpBuildDEM, params); err != nil {
			return err
		}
		dems.Count++

		if demWanted(surface) && dem.Export {
			exported, err := env.Call(ctx, engine.OpExportDEM, map[string]any{
				"path":           cfg.OutputFile("_" + strings.ToLower(surface) + ".tif"),
				"crs":            cfg.ProjectCRS,
				"nodata":         dem.Nodata,
				"tiff_big":       dem.TiffBig,
				"tiff_tiled":     dem.TiffTiled,
				"tiff_overviews": dem.TiffOverviews,
			})
			if err != nil {
				return err
			}
			dems.Outputs = append(dems.Outputs, exported.Outputs...)
		}
		if orthoWanted(surface) {
			if err := buildOrthomosaic(ctx, env, surface, "elevation", &orthos); err != nil {
				return err
			}
		}
	}

	if orthoWanted(config.SurfaceMesh) {
		if err := buildOrthomosaic(ctx, env, config.SurfaceMesh, "mesh", &orthos); err != nil {
			return err
		}
	}

	if cfg.BuildPointCloud.RemoveAfterExport && env.Project.Has(project.SlotDenseCloud) {
		if _, err := env.Call(ctx, engine.OpRemovePointCloud, nil); err != nil {
			return err
		}
		env.Project.Clear(project.SlotDenseCloud)
	}

	if dems.Count > 0 {
		env.Project.Set(project.SlotDEM, dems)
	}
	env.Project.Set(project.SlotOrthomosaic, orthos)
	return nil
}

// buildOrthomosaic builds one orthomosaic on the current elevation model or
// the mesh, exports it, and optionally drops it from the project.
func buildOrthomosaic(ctx context.Context, env *stage.Env, surface, source string, orthos *project.Artifact) error {
	cfg := env.Config.BuildOrthomosaic
	if _, err := env.Call(ctx, engine.OpBuildOrthomosaic, map[string]any{
		"surface":          surface,
		"source":           source,
		"crs":              env.Config.ProjectCRS,
		"blending":         cfg.Blending,
		"fill_holes":       cfg.FillHoles,
		"refine_seamlines": cfg.RefineSeamlines,
		"subdivide_task":   env.Config.SubdivideTask,
	}); err != nil {
		return err
	}
	if cfg.Export {
		exported, err := env.Call(ctx, engine.OpExportOrthomosaic, map[string]any{
			"path":           env.Config.OutputFile("_ortho_" + strings.ToLower(surface) + ".tif"),
			"crs":            env.Config.ProjectCRS,
			"nodata":         cfg.Nodata,
			"tiff_big":       cfg.TiffBig,
			"tiff_tiled":     cfg.TiffTiled,
			"tiff_overviews": cfg.TiffOverviews,
		})
		if err != nil {
			return err
		}
		orthos.Outputs = append(orthos.Outputs, exported.Outputs...)
	}
	if cfg.RemoveAfterExport {
		if _, err := env.Call(ctx, engine.OpRemoveOrthomosaic, nil); err != nil {
			return err
		}
		return nil
	}
	orthos.Count++
	return nil
}
