package workflow

import (
	"context"
	"errors"

	"automate-metashape/internal/config"
	"automate-metashape/internal/project"
	"automate-metashape/internal/services"
	"automate-metashape/internal/stage"
)

// StatusSummary is the persisted progress of a mission.
type StatusSummary struct {
	Initialized bool
	State       stage.State
	Document    *project.Document
	History     []project.StepRun
}

// Status reads the project for cfg without modifying it. A mission that has
// not run setup reports Uninitialized.
func Status(ctx context.Context, cfg *config.Config) (StatusSummary, error) {
	summary := StatusSummary{State: stage.Uninitialized}
	store, err := project.Open(ctx, cfg.StateFile(), project.OpenOptions{})
	if errors.Is(err, services.ErrNotFound) {
		return summary, nil
	}
	if err != nil {
		return summary, err
	}
	defer store.Close()

	doc, err := store.Load(ctx)
	if errors.Is(err, services.ErrNotFound) {
		return summary, nil
	}
	if err != nil {
		return summary, err
	}
	history, err := store.History(ctx)
	if err != nil {
		return summary, err
	}
	summary.Initialized = true
	summary.Document = doc
	summary.History = history
	if n := len(history); n > 0 {
		summary.State = stage.StateAfter(stage.Name(history[n-1].Step))
	}
	return summary, nil
}
