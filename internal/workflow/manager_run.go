package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"automate-metashape/internal/engine"
	"automate-metashape/internal/logging"
	"automate-metashape/internal/project"
	"automate-metashape/internal/services"
	"automate-metashape/internal/stage"
)

// Run executes the named step, or every enabled step for "all" or an empty
// name. Unknown names fail before any file is touched.
func (m *Manager) Run(ctx context.Context, step string) error {
	name, err := stage.Parse(step)
	if err != nil {
		return err
	}
	if name == stage.All {
		err := m.RunSteps(ctx, stage.Order...)
		if err == nil {
			m.logger.Info("workflow completed", logging.String(logging.FieldEventType, "workflow_complete"))
		}
		return err
	}
	return m.RunSteps(ctx, name)
}

// RunSteps executes steps in order within one invocation, holding the project
// lock throughout. Disabled steps are skipped. Each step loads the project,
// runs, and saves before the next begins.
func (m *Manager) RunSteps(ctx context.Context, steps ...stage.Name) error {
	if m.engine == nil || m.registry == nil {
		return services.Wrap(services.ErrConfiguration, "", "dispatch", "engine and stage registry are required", nil)
	}
	invocationID := uuid.NewString()
	ctx = services.WithInvocationID(ctx, invocationID)
	ctx = services.WithRunID(ctx, m.cfg.RunName)

	var pending []stage.Name
	for _, s := range steps {
		desc, ok := stage.Describe(s)
		if !ok {
			return services.Wrap(services.ErrConfiguration, string(s), "dispatch", "unknown step", nil)
		}
		if !desc.Enabled(m.cfg) {
			m.skip(ctx, s)
			continue
		}
		pending = append(pending, s)
	}
	if len(pending) == 0 {
		return nil
	}

	store, err := project.Open(ctx, m.cfg.StateFile(), project.OpenOptions{Reset: pending[0] == stage.Setup})
	if errors.Is(err, services.ErrNotFound) {
		return &services.PreconditionError{Step: string(pending[0]), Missing: "an initialized project", RunFirst: string(stage.Setup)}
	}
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			m.logger.Warn("project store close failed", logging.Error(closeErr))
		}
	}()

	for _, s := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.runStep(ctx, store, s, invocationID); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) runStep(ctx context.Context, store *project.Store, name stage.Name, invocationID string) error {
	ctx = services.WithStep(ctx, string(name))
	logger := logging.WithContext(ctx, m.logger)
	desc, _ := stage.Describe(name)
	handler, ok := m.registry.Handler(name)
	if !ok {
		return services.Wrap(services.ErrConfiguration, string(name), "dispatch", "no handler registered", nil)
	}

	doc, err := m.loadDocument(ctx, store, name)
	if err != nil {
		return err
	}
	if err := desc.Check(doc, m.cfg); err != nil {
		m.logFailure(logger, name, err)
		return err
	}
	rerun, err := store.Completed(ctx, string(name))
	if err != nil {
		return fmt.Errorf("read step history: %w", err)
	}
	if rerun && name != stage.Setup {
		logging.WarnWithContext(logger, "step already completed; re-running may duplicate artifacts", "step_rerun",
			logging.String(logging.FieldImpact, "additive artifacts such as aligned cameras or markers may be duplicated by the engine"),
			logging.String(logging.FieldErrorHint, "re-run setup to start the mission from scratch"),
		)
	}

	started := m.now()
	m.announce(name, "started")
	logger.Info("step started",
		logging.String(logging.FieldEventType, "step_start"),
		logging.Bool("gpu", desc.GPU && m.cfg.UseCUDA),
		logging.Int("project_version", doc.Version),
	)

	session, err := m.engine.Open(ctx, engine.OpenRequest{
		ProjectPath: m.cfg.ProjectFile(),
		Create:      name == stage.Setup,
		GPU: engine.GPUSettings{
			Enabled:    desc.GPU && m.cfg.UseCUDA,
			Multiplier: m.cfg.GPUMultiplier,
		},
	})
	if err != nil {
		err = services.Wrap(services.ErrEngine, string(name), "open engine", "engine session unavailable", err)
		m.logFailure(logger, name, err)
		return err
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			logger.Warn("engine session close failed", logging.Error(closeErr))
		}
	}()

	work := doc.Clone()
	env := &stage.Env{
		Step:    name,
		Config:  m.cfg,
		Project: work,
		Session: session,
		Logger:  logger,
		Tracker: m.tracker,
		RunLog:  m.runLog,
		Host:    m.host,
	}
	if err := handler.Execute(ctx, env); err != nil {
		m.logFailure(logger, name, err)
		return err
	}

	if err := session.Save(ctx); err != nil {
		err = services.Wrap(services.ErrEngine, string(name), "save", "engine project save failed", err)
		m.logFailure(logger, name, err)
		return err
	}
	record := project.StepRecord{InvocationID: invocationID, Step: string(name), StartedAt: started, Rerun: rerun}
	if err := store.Save(ctx, work, record); err != nil {
		err = fmt.Errorf("save project: %w", err)
		m.logFailure(logger, name, err)
		return err
	}

	elapsed := m.now().Sub(started)
	m.announce(name, fmt.Sprintf("completed in %s", elapsed.Round(time.Second)))
	logger.Info("step completed",
		logging.String(logging.FieldEventType, "step_complete"),
		logging.String("state", string(stage.StateAfter(name))),
		logging.Int("project_version", work.Version),
		logging.Duration("step_duration", elapsed),
	)
	return nil
}

func (m *Manager) loadDocument(ctx context.Context, store *project.Store, name stage.Name) (*project.Document, error) {
	if name == stage.Setup {
		return project.NewDocument(m.cfg.RunName, m.cfg.ProjectCRS), nil
	}
	doc, err := store.Load(ctx)
	if errors.Is(err, services.ErrNotFound) {
		return nil, &services.PreconditionError{Step: string(name), Missing: "an initialized project", RunFirst: string(stage.Setup)}
	}
	return doc, err
}
