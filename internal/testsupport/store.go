package testsupport

import (
	"context"
	"testing"

	"automate-metashape/internal/config"
	"automate-metashape/internal/project"
)

// MustOpenStore opens the project store for cfg and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config, create bool) *project.Store {
	t.Helper()

	store, err := project.Open(context.Background(), cfg.StateFile(), project.OpenOptions{Create: create})
	if err != nil {
		t.Fatalf("project.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// MustLoad reads the persisted project document for cfg. The store is closed
// before returning so later invocations can take the lock.
func MustLoad(t testing.TB, cfg *config.Config) *project.Document {
	t.Helper()

	store, err := project.Open(context.Background(), cfg.StateFile(), project.OpenOptions{})
	if err != nil {
		t.Fatalf("project.Open: %v", err)
	}
	defer store.Close()
	doc, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("store.Load: %v", err)
	}
	return doc
}
