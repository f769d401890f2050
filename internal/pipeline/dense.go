package pipeline

import (
	"context"

	"automate-metashape/internal/engine"
	"automate-metashape/internal/project"
	"automate-metashape/internal/stage"
)

func runBuildDepthMaps(ctx context.Context, env *stage.Env) error {
	cfg := env.Config.BuildDepthMaps
	var cameras []string
	for _, id := range env.Project.CameraIDs(false) {
		if env.Project.Aligned[id] {
			cameras = append(cameras, id)
		}
	}
	result, err := env.Call(ctx, engine.OpBuildDepthMaps, map[string]any{
		"cameras":        cameras,
		"downscale":      cfg.Downscale,
		"filter_mode":    cfg.FilterMode,
		"reuse_depth":    cfg.ReuseDepth,
		"max_neighbors":  cfg.MaxNeighbors,
		"subdivide_task": env.Config.SubdivideTask,
	})
	if err != nil {
		return err
	}
	env.Project.Set(project.SlotDepthMaps, project.Artifact{Producer: string(env.Step), Count: result.Count})
	return nil
}

func runBuildPointCloud(ctx context.Context, env *stage.Env) error {
	cfg := env.Config.BuildPointCloud
	depth, _ := env.Project.Artifact(project.SlotDepthMaps)
	result, err := env.Call(ctx, engine.OpBuildPointCloud, map[string]any{
		"depth_maps":     depth.Count,
		"max_neighbors":  cfg.MaxNeighbors,
		"keep_depth":     cfg.KeepDepth,
		"subdivide_task": env.Config.SubdivideTask,
	})
	if err != nil {
		return err
	}
	cloud := project.Artifact{Producer: string(env.Step), Count: result.Count}
	if !cfg.KeepDepth {
		env.Project.Clear(project.SlotDepthMaps)
	}

	if cfg.ClassifyGroundPoints {
		if err := classifyGround(ctx, env); err != nil {
			return err
		}
	}

	if cfg.Export {
		params := map[string]any{
			"path":           env.Config.OutputFile("_points.laz"),
			"crs":            env.Config.ProjectCRS,
			"subdivide_task": env.Config.SubdivideTask,
		}
		if !(len(cfg.Classes) == 1 && cfg.Classes[0] == "ALL") {
			params["classes"] = cfg.Classes
		}
		exported, err := env.Call(ctx, engine.OpExportPointCloud, params)
		if err != nil {
			return err
		}
		cloud.Outputs = append(cloud.Outputs, exported.Outputs...)
	}
	env.Project.Set(project.SlotDenseCloud, cloud)
	return nil
}

func classifyGround(ctx context.Context, env *stage.Env) error {
	cfg := env.Config.ClassifyGroundPoints
	_, err := env.Call(ctx, engine.OpClassifyGroundPoints, map[string]any{
		"max_angle":    cfg.MaxAngle,
		"max_distance": cfg.MaxDistance,
		"cell_size":    cfg.CellSize,
	})
	return err
}

func runBuildMesh(ctx context.Context, env *stage.Env) error {
	cfg := env.Config.BuildMesh
	depth, _ := env.Project.Artifact(project.SlotDepthMaps)
	result, err := env.Call(ctx, engine.OpBuildMesh, map[string]any{
		"depth_maps":        depth.Count,
		"face_count":        cfg.FaceCount,
		"face_count_custom": cfg.FaceCountCustom,
		"subdivide_task":    env.Config.SubdivideTask,
	})
	if err != nil {
		return err
	}
	mesh := project.Artifact{Producer: string(env.Step), Count: result.Count}

	if cfg.ExportGeoreferenced {
		exported, err := env.Call(ctx, engine.OpExportMesh, map[string]any{
			"path": env.Config.OutputFile("_model_georeferenced." + cfg.ExportExtension),
		})
		if err != nil {
			return err
		}
		mesh.Outputs = append(mesh.Outputs, exported.Outputs...)
	}
	if cfg.ExportLocal {
		params := map[string]any{
			"path":  env.Config.OutputFile("_model_local." + cfg.ExportExtension),
			"local": true,
		}
		if cfg.ExportTransform {
			params["transform_path"] = env.Config.OutputFile("_local_model_transform.csv")
		}
		exported, err := env.Call(ctx, engine.OpExportMesh, params)
		if err != nil {
			return err
		}
		mesh.Outputs = append(mesh.Outputs, exported.Outputs...)
	}
	env.Project.Set(project.SlotMesh, mesh)
	return nil
}
