package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"automate-metashape/internal/engine"
	"automate-metashape/internal/logging"
	"automate-metashape/internal/metrics"
	"automate-metashape/internal/services"
	"automate-metashape/internal/stage"
)

func runSetup(ctx context.Context, env *stage.Env) error {
	cfg := env.Config
	writeRunHeader(ctx, env)

	groups, err := PhotoGroups(cfg.PhotoPath, cfg.PhotoPathSecondary)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, string(env.Step), engine.OpAddPhotos, "photo discovery failed", err)
	}
	for _, group := range groups {
		if len(group.Photos) == 0 {
			return services.Wrap(services.ErrConfiguration, string(env.Step), engine.OpAddPhotos,
				fmt.Sprintf("no photos found under %s", group.Root), nil)
		}
		result, err := env.Call(ctx, engine.OpAddPhotos, map[string]any{
			"photos":          group.Photos,
			"group":           group.Name,
			"secondary":       group.Secondary,
			"multispectral":   cfg.Multispectral,
			"separate_sensor": cfg.SeparateCalibrationPerPath,
			"use_rtk":         cfg.UseRTK,
			"fix_accuracy":    cfg.FixAccuracy,
			"nofix_accuracy":  cfg.NofixAccuracy,
			"crs":             cfg.ProjectCRS,
		})
		if err != nil {
			return err
		}
		added := env.Project.AddCameras(group.cameras(result.Cameras))
		env.Logger.Info("photos added",
			logging.String(logging.FieldEventType, "photos_added"),
			logging.String("group", group.Name),
			logging.Int("found", len(group.Photos)),
			logging.Int("added", added),
		)
	}

	if cfg.Multispectral && cfg.CalibrateReflectance.Enabled {
		panel := filepath.Join(cfg.PhotoPath[0], "calibration", cfg.CalibrateReflectance.PanelFilename)
		if _, err := env.Call(ctx, engine.OpCalibrateReflectance, map[string]any{
			"panel_path":             panel,
			"use_reflectance_panels": cfg.CalibrateReflectance.UseReflectancePanels,
			"use_sun_sensor":         cfg.CalibrateReflectance.UseSunSensor,
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeRunHeader(ctx context.Context, env *stage.Env) {
	version := "unknown"
	if result, err := env.Session.Invoke(ctx, engine.Call{Op: engine.OpDescribe}); err == nil && result.Info["version"] != "" {
		version = result.Info["version"]
	} else if err != nil {
		env.Logger.Debug("engine describe failed", logging.Error(err))
	}
	env.Log("Project", env.Config.RunName)
	env.Log("Agisoft Metashape Professional Version", version)
	env.Log("Processing started", metrics.Stamp(time.Now()))
	env.Log("Node", env.Host.Node)
	env.Log("CPU", env.Host.CPU)
	env.Log("Number of GPUs Found", strconv.Itoa(env.Host.GPUCount))
	model := env.Host.GPUModel
	if model == "" {
		model = "none"
	}
	env.Log("GPU Model", model)
}
