package pipeline

import (
	"context"
	"slices"
	"time"

	"automate-metashape/internal/engine"
	"automate-metashape/internal/logging"
	"automate-metashape/internal/project"
	"automate-metashape/internal/services"
	"automate-metashape/internal/stage"
)

func runMatchPhotos(ctx context.Context, env *stage.Env) error {
	return matchPhotos(ctx, env, false)
}

func runMatchPhotosSecondary(ctx context.Context, env *stage.Env) error {
	return matchPhotos(ctx, env, true)
}

func matchPhotos(ctx context.Context, env *stage.Env, secondary bool) error {
	cfg := env.Config.MatchPhotos
	cameras := env.Project.CameraIDs(secondary)
	params := map[string]any{
		"cameras":                     cameras,
		"downscale":                   cfg.Downscale,
		"generic_preselection":        cfg.GenericPreselection,
		"reference_preselection":      cfg.ReferencePreselection,
		"reference_preselection_mode": cfg.ReferencePreselectionMode,
		"keep_keypoints":              cfg.KeepKeypoints || secondary,
		"subdivide_task":              env.Config.SubdivideTask,
	}
	if secondary {
		// Secondary photos are matched against the aligned primary block.
		params["reference_cameras"] = env.Project.AlignedIDs()
	}
	result, err := env.Call(ctx, engine.OpMatchPhotos, params)
	if err != nil {
		return err
	}
	slot := project.SlotTiePoints
	if secondary {
		slot = project.SlotSecondaryTiePoints
	}
	env.Project.Set(slot, project.Artifact{Producer: string(env.Step), Count: result.Count})
	if result.Count == 0 {
		logging.WarnWithContext(env.Logger, "matching produced no tie points", "no_tie_points",
			logging.Int("cameras", len(cameras)),
			logging.String(logging.FieldErrorHint, "check photo overlap and matchPhotos.downscale"),
		)
	}
	return nil
}

func runAlignCameras(ctx context.Context, env *stage.Env) error {
	cfg := env.Config
	if cfg.AlignCameras.ResetAlignment {
		for _, id := range env.Project.CameraIDs(false) {
			delete(env.Project.Aligned, id)
		}
	}
	if err := alignCameras(ctx, env, false); err != nil {
		return err
	}
	if err := resetRegion(ctx, env); err != nil {
		return err
	}

	if cfg.FilterPointsUSGS.Enabled {
		if err := filterPoints(ctx, env, 1); err != nil {
			return err
		}
		if err := resetRegion(ctx, env); err != nil {
			return err
		}
	}

	gcpsAdded := false
	if cfg.AddGCPs.Enabled {
		added, err := addGCPs(ctx, env)
		if err != nil {
			return err
		}
		gcpsAdded = added
		if err := resetRegion(ctx, env); err != nil {
			return err
		}
	}

	if cfg.OptimizeCameras.Enabled {
		if _, err := env.Call(ctx, engine.OpOptimizeCameras, map[string]any{
			"cameras":          env.Project.AlignedIDs(),
			"adaptive_fitting": cfg.OptimizeCameras.AdaptiveFitting,
			"gcps_only":        gcpsAdded && cfg.AddGCPs.OptimizeWithGCPsOnly,
		}); err != nil {
			return err
		}
		if err := resetRegion(ctx, env); err != nil {
			return err
		}
	}

	if cfg.FilterPointsUSGS.Enabled {
		if err := filterPoints(ctx, env, 2); err != nil {
			return err
		}
		if err := resetRegion(ctx, env); err != nil {
			return err
		}
	}

	if cfg.AlignCameras.Export || cfg.OptimizeCameras.Export {
		return exportCameras(ctx, env, "_cameras.xml")
	}
	return nil
}

func runAlignCamerasSecondary(ctx context.Context, env *stage.Env) error {
	if err := alignCameras(ctx, env, true); err != nil {
		return err
	}
	if err := resetRegion(ctx, env); err != nil {
		return err
	}
	if env.Config.AlignCameras.Export {
		return exportCameras(ctx, env, "_cameras_secondary.xml")
	}
	return nil
}

func alignCameras(ctx context.Context, env *stage.Env, secondary bool) error {
	cameras := env.Project.CameraIDs(secondary)
	result, err := env.Call(ctx, engine.OpAlignCameras, map[string]any{
		"cameras":          cameras,
		"adaptive_fitting": env.Config.AlignCameras.AdaptiveFitting,
		"reset_alignment":  env.Config.AlignCameras.ResetAlignment,
		"subdivide_task":   env.Config.SubdivideTask,
	})
	if err != nil {
		return err
	}
	env.Project.MarkAligned(result.Cameras)
	aligned := env.Project.AlignedCount(secondary)
	env.Logger.Info("cameras aligned",
		logging.String(logging.FieldEventType, "cameras_aligned"),
		logging.Int("aligned", aligned),
		logging.Int("cameras", len(cameras)),
	)
	if aligned == 0 {
		return services.Wrap(services.ErrEngine, string(env.Step), engine.OpAlignCameras, "no cameras aligned", nil)
	}
	return nil
}

func resetRegion(ctx context.Context, env *stage.Env) error {
	_, err := env.Call(ctx, engine.OpResetRegion, nil)
	return err
}

// filterPoints runs one pass of the USGS tie point filter. Part 1 removes
// points by reconstruction uncertainty, projection accuracy, and reprojection
// error; part 2 repeats the reprojection error filter after optimization.
func filterPoints(ctx context.Context, env *stage.Env, part int) error {
	cfg := env.Config.FilterPointsUSGS
	tie, _ := env.Project.Artifact(project.SlotTiePoints)
	params := map[string]any{
		"part":                   part,
		"tie_points":             tie.Count,
		"reproj_thresh_percent":  cfg.ReprojThreshPercent,
		"reproj_thresh_absolute": cfg.ReprojThreshAbsolute,
	}
	if part == 1 {
		params["rec_thresh_percent"] = cfg.RecThreshPercent
		params["rec_thresh_absolute"] = cfg.RecThreshAbsolute
		params["proj_thresh_percent"] = cfg.ProjThreshPercent
		params["proj_thresh_absolute"] = cfg.ProjThreshAbsolute
	}
	result, err := env.Call(ctx, engine.OpFilterPoints, params)
	if err != nil {
		return err
	}
	env.Logger.Info("tie points filtered",
		logging.String(logging.FieldEventType, "tie_points_filtered"),
		logging.Int("part", part),
		logging.Int("before", tie.Count),
		logging.Int("after", result.Count),
	)
	tie.Count = result.Count
	tie.UpdatedAt = time.Time{}
	env.Project.Set(project.SlotTiePoints, tie)
	return nil
}

func addGCPs(ctx context.Context, env *stage.Env) (bool, error) {
	cfg := env.Config
	set, err := ReadGCPs(cfg.PhotoPath[0])
	if err != nil {
		return false, services.Wrap(services.ErrConfiguration, string(env.Step), engine.OpAddGCPs, "ground control tables unreadable", err)
	}
	known := make(map[string]bool)
	for _, id := range env.Project.CameraIDs(false) {
		known[id] = true
	}
	projections := set.Projections[:0:0]
	for _, p := range set.Projections {
		if !known[p.Camera] {
			logging.WarnWithContext(env.Logger, "gcp camera not found in project", "gcp_camera_missing",
				logging.String("camera", p.Camera),
				logging.String("marker", p.Marker),
				logging.String(logging.FieldImpact, "projection skipped"),
			)
			continue
		}
		projections = append(projections, p)
	}
	markers := set.Markers()
	result, err := env.Call(ctx, engine.OpAddGCPs, map[string]any{
		"markers":                    markers,
		"projections":                projections,
		"locations":                  set.Locations,
		"crs":                        cfg.AddGCPs.GCPCRS,
		"marker_location_accuracy":   cfg.AddGCPs.MarkerLocationAccuracy,
		"marker_projection_accuracy": cfg.AddGCPs.MarkerProjectionAccuracy,
	})
	if err != nil {
		return false, err
	}
	for _, m := range markers {
		if !slices.Contains(env.Project.Markers, m) {
			env.Project.Markers = append(env.Project.Markers, m)
		}
	}
	return result.Count > 0, nil
}

func exportCameras(ctx context.Context, env *stage.Env, suffix string) error {
	_, err := env.Call(ctx, engine.OpExportCameras, map[string]any{
		"path": env.Config.OutputFile(suffix),
	})
	return err
}
