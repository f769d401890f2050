package project

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"automate-metashape/internal/services"
)

func openTestStore(t *testing.T, path string, opts OpenOptions) *Store {
	t.Helper()
	store, err := Open(context.Background(), path, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleDocument() *Document {
	doc := NewDocument("mission", "EPSG::26910")
	doc.AddCameras([]Camera{
		{ID: "IMG_0001", Group: "flight", Path: "/photos/IMG_0001.JPG"},
		{ID: "IMG_0002", Group: "flight", Path: "/photos/IMG_0002.JPG"},
		{ID: "SEC_0001", Group: "secondary", Path: "/sec/SEC_0001.JPG", Secondary: true},
	})
	doc.MarkAligned([]string{"IMG_0001", "IMG_0002", "unknown"})
	doc.Set(SlotTiePoints, Artifact{Producer: "match_photos", Count: 1200})
	doc.Set(SlotDEM, Artifact{Producer: "build_dem_orthomosaic", Count: 1, Outputs: []string{"/out/mission_dsm-ptcloud.tif"}})
	doc.Markers = []string{"gcp1", "gcp2"}
	return doc
}

func TestOpenMissingWithoutCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mission.project.db")
	_, err := Open(context.Background(), path, OpenOptions{})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadBeforeSetup(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "mission.project.db"), OpenOptions{Create: true})
	if _, err := store.Load(context.Background()); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	ok, err := store.Initialized(context.Background())
	if err != nil || ok {
		t.Fatalf("Initialized = %v, %v; want false, nil", ok, err)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mission.project.db")
	store := openTestStore(t, path, OpenOptions{Create: true})

	doc := sampleDocument()
	if err := store.Save(ctx, doc, StepRecord{InvocationID: "inv-1", Step: "setup"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if doc.Version != 1 {
		t.Fatalf("expected version 1 after save, got %d", doc.Version)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := openTestStore(t, path, OpenOptions{})
	loaded, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	opts := cmpopts.IgnoreFields(Artifact{}, "UpdatedAt")
	if diff := cmp.Diff(doc, loaded, opts, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("loaded document mismatch (-want +got):\n%s", diff)
	}
	if loaded.AlignedCount(false) != 2 || loaded.AlignedCount(true) != 0 {
		t.Fatalf("unexpected aligned counts: %v", loaded.Aligned)
	}
}

func TestSaveRecordsHistory(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, filepath.Join(t.TempDir(), "mission.project.db"), OpenOptions{Create: true})

	doc := sampleDocument()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.Save(ctx, doc, StepRecord{InvocationID: "inv-1", Step: "setup", StartedAt: started}); err != nil {
		t.Fatalf("Save setup: %v", err)
	}
	doc.Set(SlotDepthMaps, Artifact{Producer: "build_depth_maps", Count: 2})
	if err := store.Save(ctx, doc, StepRecord{InvocationID: "inv-2", Step: "build_depth_maps", Rerun: true}); err != nil {
		t.Fatalf("Save depth maps: %v", err)
	}

	runs, err := store.History(ctx)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(runs))
	}
	if runs[0].Step != "setup" || !runs[0].StartedAt.Equal(started) || runs[0].ProjectVersion != 1 {
		t.Fatalf("unexpected first run: %+v", runs[0])
	}
	if runs[1].InvocationID != "inv-2" || !runs[1].Rerun || runs[1].ProjectVersion != 2 {
		t.Fatalf("unexpected second run: %+v", runs[1])
	}
	done, err := store.Completed(ctx, "build_depth_maps")
	if err != nil || !done {
		t.Fatalf("Completed = %v, %v", done, err)
	}
	done, err = store.Completed(ctx, "build_mesh")
	if err != nil || done {
		t.Fatalf("Completed(build_mesh) = %v, %v", done, err)
	}
}

func TestSaveRejectsStaleDocument(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, filepath.Join(t.TempDir(), "mission.project.db"), OpenOptions{Create: true})

	doc := sampleDocument()
	if err := store.Save(ctx, doc, StepRecord{Step: "setup"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	stale := doc.Clone()
	stale.Version = 0
	if err := store.Save(ctx, stale, StepRecord{Step: "match_photos"}); !errors.Is(err, ErrConcurrentUpdate) {
		t.Fatalf("expected ErrConcurrentUpdate, got %v", err)
	}
	if stale.Version != 0 {
		t.Fatalf("failed save must not bump version, got %d", stale.Version)
	}
}

func TestOpenIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mission.project.db")
	first := openTestStore(t, path, OpenOptions{Create: true})

	_, err := Open(context.Background(), path, OpenOptions{Create: true})
	if !errors.Is(err, services.ErrPrecondition) {
		t.Fatalf("expected ErrPrecondition for locked project, got %v", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	second := openTestStore(t, path, OpenOptions{})
	if second.Path() != path {
		t.Fatalf("unexpected path %q", second.Path())
	}
}

func TestResetDiscardsExistingProjectOnSave(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mission.project.db")
	store := openTestStore(t, path, OpenOptions{Create: true})
	original := sampleDocument()
	if err := store.Save(ctx, original, StepRecord{Step: "setup"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(ctx, original, StepRecord{Step: "match_photos"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_ = store.Close()

	fresh := openTestStore(t, path, OpenOptions{Reset: true})
	kept, err := fresh.Load(ctx)
	if err != nil {
		t.Fatalf("Load before reset save: %v", err)
	}
	if kept.Version != 2 || !kept.Has(SlotTiePoints) {
		t.Fatalf("previous project should survive until save, got version %d", kept.Version)
	}
	done, err := fresh.Completed(ctx, "setup")
	if err != nil || done {
		t.Fatalf("Completed = %v, %v; want false, nil", done, err)
	}

	doc := NewDocument("mission", "")
	if err := fresh.Save(ctx, doc, StepRecord{Step: "setup"}); err != nil {
		t.Fatalf("Save after reset: %v", err)
	}
	loaded, err := fresh.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Version != 1 || loaded.Has(SlotTiePoints) || len(loaded.Cameras) != 0 {
		t.Fatalf("unexpected document after reset save: %+v", loaded)
	}
	runs, err := fresh.History(ctx)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(runs) != 1 || runs[0].Step != "setup" {
		t.Fatalf("history not reset: %+v", runs)
	}
}

func TestResetWithoutSaveKeepsProject(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mission.project.db")
	store := openTestStore(t, path, OpenOptions{Create: true})
	if err := store.Save(ctx, sampleDocument(), StepRecord{Step: "setup"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_ = store.Close()

	abandoned := openTestStore(t, path, OpenOptions{Reset: true})
	_ = abandoned.Close()

	reopened := openTestStore(t, path, OpenOptions{})
	doc, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Version != 1 || len(doc.Cameras) != 3 {
		t.Fatalf("project lost after unsaved reset: %+v", doc)
	}
}
