package project

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"automate-metashape/internal/services"
)

// Store persists one mission's Document. A Store holds an exclusive advisory
// lock on the project file until Close.
type Store struct {
	db    *sql.DB
	path  string
	lock  *flock.Flock
	reset bool
}

// OpenOptions selects how a project file is opened.
type OpenOptions struct {
	// Create allows a missing project file to be created.
	Create bool
	// Reset discards the existing document and history on the first
	// successful Save. Until then the previous contents stay on disk.
	// Implies Create.
	Reset bool
}

// StepRecord describes the successful step invocation being saved.
type StepRecord struct {
	InvocationID string
	Step         string
	StartedAt    time.Time
	Rerun        bool
}

// StepRun is one history row.
type StepRun struct {
	ID             int64
	InvocationID   string
	Step           string
	StartedAt      time.Time
	FinishedAt     time.Time
	ProjectVersion int
	Rerun          bool
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// ErrConcurrentUpdate means the stored document changed after it was loaded.
var ErrConcurrentUpdate = errors.New("project modified concurrently")

// Open acquires the project lock and connects to the project database.
func Open(ctx context.Context, path string, opts OpenOptions) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, services.Wrap(services.ErrConfiguration, "", "open project", "project path is empty", nil)
	}
	create := opts.Create || opts.Reset
	if !create {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "", "open project",
				fmt.Sprintf("project file %s does not exist; run step setup first", path), nil)
		} else if err != nil {
			return nil, fmt.Errorf("stat project file: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create project directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire project lock: %w", err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrPrecondition, "", "open project",
			fmt.Sprintf("project %s is locked by another invocation", path), nil)
	}

	store, err := openDatabase(ctx, path, lock)
	if errors.Is(err, ErrSchemaMismatch) && opts.Reset {
		// Incompatible files are replaced outright.
		for _, p := range []string{path, path + "-journal"} {
			if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				_ = lock.Unlock()
				return nil, fmt.Errorf("remove incompatible project: %w", rmErr)
			}
		}
		store, err = openDatabase(ctx, path, lock)
	}
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	store.reset = opts.Reset
	return store, nil
}

func openDatabase(ctx context.Context, path string, lock *flock.Flock) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// The project directory may live on a network share, where WAL is unsafe.
	pragmas := []string{
		"PRAGMA journal_mode=DELETE",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, lock: lock}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the project database path.
func (s *Store) Path() string { return s.path }

// Close releases the database and the lock.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.db != nil {
		errs = append(errs, s.db.Close())
		s.db = nil
	}
	if s.lock != nil {
		errs = append(errs, s.lock.Unlock())
		s.lock = nil
	}
	return errors.Join(errs...)
}

// Initialized reports whether a document has been saved.
func (s *Store) Initialized(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM project").Scan(&count); err != nil {
		return false, fmt.Errorf("count project rows: %w", err)
	}
	return count > 0, nil
}

// Load reads the saved document.
func (s *Store) Load(ctx context.Context) (*Document, error) {
	doc := &Document{
		Aligned: make(map[string]bool),
		Slots:   make(map[Slot]Artifact),
	}
	err := s.db.QueryRowContext(ctx, "SELECT run_name, crs, version FROM project WHERE id = 1").
		Scan(&doc.RunName, &doc.CRS, &doc.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "", "load project",
			"project has not been initialized; run step setup first", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("load project row: %w", err)
	}

	if err := s.loadCameras(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.loadSlots(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.loadMarkers(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) loadCameras(ctx context.Context, doc *Document) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, camera_group, path, secondary, aligned FROM cameras ORDER BY position")
	if err != nil {
		return fmt.Errorf("query cameras: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cam                Camera
			secondary, aligned int
		)
		if err := rows.Scan(&cam.ID, &cam.Group, &cam.Path, &secondary, &aligned); err != nil {
			return fmt.Errorf("scan camera: %w", err)
		}
		cam.Secondary = secondary != 0
		doc.Cameras = append(doc.Cameras, cam)
		if aligned != 0 {
			doc.Aligned[cam.ID] = true
		}
	}
	return rows.Err()
}

func (s *Store) loadSlots(ctx context.Context, doc *Document) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, producer, item_count, outputs_json, updated_at FROM slots")
	if err != nil {
		return fmt.Errorf("query slots: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			name, outputs, updated string
			artifact               Artifact
		)
		if err := rows.Scan(&name, &artifact.Producer, &artifact.Count, &outputs, &updated); err != nil {
			return fmt.Errorf("scan slot: %w", err)
		}
		if err := json.Unmarshal([]byte(outputs), &artifact.Outputs); err != nil {
			return fmt.Errorf("decode slot %s outputs: %w", name, err)
		}
		artifact.UpdatedAt = parseTime(updated)
		doc.Slots[Slot(name)] = artifact
	}
	return rows.Err()
}

func (s *Store) loadMarkers(ctx context.Context, doc *Document) error {
	rows, err := s.db.QueryContext(ctx, "SELECT label FROM markers ORDER BY position")
	if err != nil {
		return fmt.Errorf("query markers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return fmt.Errorf("scan marker: %w", err)
		}
		doc.Markers = append(doc.Markers, label)
	}
	return rows.Err()
}

// Save replaces the stored document with doc and records the step in the
// history, all in one transaction. On success doc.Version is incremented.
func (s *Store) Save(ctx context.Context, doc *Document, record StepRecord) error {
	if doc == nil {
		return errors.New("save project: nil document")
	}
	next := doc.Version + 1
	err := retryOnBusy(ctx, func() error {
		return s.saveTx(ctx, doc, record, next)
	})
	if err != nil {
		return err
	}
	s.reset = false
	doc.Version = next
	return nil
}

func (s *Store) saveTx(ctx context.Context, doc *Document, record StepRecord, next int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	stamp := formatTime(now)

	if s.reset {
		for _, table := range []string{"project", "step_runs"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("reset %s: %w", table, err)
			}
		}
	}

	var stored int
	err = tx.QueryRowContext(ctx, "SELECT version FROM project WHERE id = 1").Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO project (id, run_name, crs, version, created_at, updated_at) VALUES (1, ?, ?, ?, ?, ?)",
			doc.RunName, doc.CRS, next, stamp, stamp); err != nil {
			return fmt.Errorf("insert project row: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read project version: %w", err)
	default:
		if stored != doc.Version {
			return fmt.Errorf("%w: stored version %d, document version %d", ErrConcurrentUpdate, stored, doc.Version)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE project SET run_name = ?, crs = ?, version = ?, updated_at = ? WHERE id = 1",
			doc.RunName, doc.CRS, next, stamp); err != nil {
			return fmt.Errorf("update project row: %w", err)
		}
	}

	for _, table := range []string{"cameras", "slots", "markers"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for i, cam := range doc.Cameras {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO cameras (id, position, camera_group, path, secondary, aligned) VALUES (?, ?, ?, ?, ?, ?)",
			cam.ID, i, cam.Group, cam.Path, boolToInt(cam.Secondary), boolToInt(doc.Aligned[cam.ID])); err != nil {
			return fmt.Errorf("insert camera %s: %w", cam.ID, err)
		}
	}
	for name, artifact := range doc.Slots {
		if artifact.Count <= 0 {
			continue
		}
		outputs := artifact.Outputs
		if outputs == nil {
			outputs = []string{}
		}
		encoded, err := json.Marshal(outputs)
		if err != nil {
			return fmt.Errorf("encode slot %s outputs: %w", name, err)
		}
		updated := artifact.UpdatedAt
		if updated.IsZero() {
			updated = now
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO slots (name, producer, item_count, outputs_json, updated_at) VALUES (?, ?, ?, ?, ?)",
			string(name), artifact.Producer, artifact.Count, string(encoded), formatTime(updated)); err != nil {
			return fmt.Errorf("insert slot %s: %w", name, err)
		}
	}
	for i, label := range doc.Markers {
		if _, err := tx.ExecContext(ctx, "INSERT INTO markers (position, label) VALUES (?, ?)", i, label); err != nil {
			return fmt.Errorf("insert marker %s: %w", label, err)
		}
	}

	started := record.StartedAt
	if started.IsZero() {
		started = now
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO step_runs (invocation_id, step, started_at, finished_at, project_version, rerun) VALUES (?, ?, ?, ?, ?, ?)",
		record.InvocationID, record.Step, formatTime(started.UTC()), stamp, next, boolToInt(record.Rerun)); err != nil {
		return fmt.Errorf("record step run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit project: %w", err)
	}
	return nil
}

// History lists completed step invocations, oldest first.
func (s *Store) History(ctx context.Context) ([]StepRun, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, invocation_id, step, started_at, finished_at, project_version, rerun FROM step_runs ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query step runs: %w", err)
	}
	defer rows.Close()
	var runs []StepRun
	for rows.Next() {
		var (
			run              StepRun
			started, finished string
			rerun            int
		)
		if err := rows.Scan(&run.ID, &run.InvocationID, &run.Step, &started, &finished, &run.ProjectVersion, &rerun); err != nil {
			return nil, fmt.Errorf("scan step run: %w", err)
		}
		run.StartedAt = parseTime(started)
		run.FinishedAt = parseTime(finished)
		run.Rerun = rerun != 0
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Completed reports whether step has at least one successful history row.
// A store opened with Reset reports no history until its first Save.
func (s *Store) Completed(ctx context.Context, step string) (bool, error) {
	if s.reset {
		return false, nil
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM step_runs WHERE step = ?", step).Scan(&count); err != nil {
		return false, fmt.Errorf("count step runs: %w", err)
	}
	return count > 0, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
