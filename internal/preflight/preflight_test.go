package preflight

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"automate-metashape/internal/config"
	"automate-metashape/internal/deps"
	"automate-metashape/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir, ReadWrite)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
	if !strings.Contains(result.Detail, "read/write ok") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
	if got := CheckDirectoryAccess("test", dir, ReadOnly).Detail; !strings.Contains(got, "(read ok)") {
		t.Fatalf("unexpected read-only detail %q", got)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"), ReadOnly)
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if !strings.Contains(result.Detail, "does not exist") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f, ReadOnly)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFile(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "table.csv")
	if err := os.WriteFile(f, []byte("a,b,c,d\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if r := CheckFile("table", f); !r.Passed || !strings.Contains(r.Detail, "8 B") {
		t.Fatalf("expected pass with size, got %+v", r)
	}
	if r := CheckFile("table", dir); r.Passed {
		t.Fatal("expected failure for directory")
	}
	if r := CheckFile("table", filepath.Join(dir, "missing.csv")); r.Passed {
		t.Fatal("expected failure for missing file")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if r := CheckFreeSpace("space", dir, 0); !r.Passed || !strings.HasSuffix(r.Detail, "free") {
		t.Fatalf("expected pass with zero minimum, got %+v", r)
	}
	if r := CheckFreeSpace("space", dir, ^uint64(0)); r.Passed || !strings.Contains(r.Detail, "need at least") {
		t.Fatalf("expected failure for impossible minimum, got %+v", r)
	}
	if r := CheckFreeSpace("space", filepath.Join(dir, "missing"), 0); r.Passed {
		t.Fatal("expected failure for missing path")
	}
}

func TestFromDependency(t *testing.T) {
	ok := FromDependency(deps.Status{Name: "engine", Available: true, Resolved: "/usr/bin/engine"})
	if !ok.Passed || ok.Degraded || ok.Detail != "/usr/bin/engine" {
		t.Fatalf("unexpected result %+v", ok)
	}
	optional := FromDependency(deps.Status{Name: "nvidia-smi", Optional: true, Detail: "binary \"nvidia-smi\" not found"})
	if !optional.Passed || !optional.Degraded || !strings.HasSuffix(optional.Detail, "(optional)") {
		t.Fatalf("unexpected optional result %+v", optional)
	}
	missing := FromDependency(deps.Status{Name: "engine", Detail: "binary \"x\" not found"})
	if missing.Passed {
		t.Fatalf("required missing binary should fail")
	}
}

func resultNames(results []Result) []string {
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
	}
	return names
}

func TestRunAllSimulatedEngine(t *testing.T) {
	cfg := testsupport.NewConfig(t, 2, testsupport.WithConfig(func(cfg *config.Config) {
		cfg.UseCUDA = false
	}))
	results := RunAll(cfg)
	names := strings.Join(resultNames(results), ",")
	want := "Photo directory,Project directory,Output directory,Output free space"
	if names != want {
		t.Fatalf("unexpected checks %q, want %q", names, want)
	}
	for _, r := range results[:3] {
		if !r.Passed {
			t.Fatalf("expected %s to pass: %s", r.Name, r.Detail)
		}
	}
}

func TestRunAllCommandEngineAndGCPs(t *testing.T) {
	cfg := testsupport.NewConfig(t, 2, testsupport.WithSecondary(1), testsupport.WithConfig(func(cfg *config.Config) {
		cfg.Engine = config.Engine{Kind: config.EngineCommand, Command: []string{"clearly-not-present-engine"}}
		cfg.AddGCPs.Enabled = true
		cfg.UseCUDA = true
	}))
	results := RunAll(cfg)
	if Passed(results) {
		t.Fatalf("expected failures for missing engine and GCP tables")
	}
	byName := map[string][]Result{}
	for _, r := range results {
		byName[r.Name] = append(byName[r.Name], r)
	}
	if len(byName["GCP table"]) != 2 || byName["GCP table"][0].Passed {
		t.Fatalf("expected two failing GCP table checks, got %+v", byName["GCP table"])
	}
	if len(byName["Secondary photo directory"]) != 1 || !byName["Secondary photo directory"][0].Passed {
		t.Fatalf("expected passing secondary directory check")
	}
	engine := byName["Metashape engine"]
	if len(engine) != 1 || engine[0].Passed {
		t.Fatalf("expected failing engine check, got %+v", engine)
	}
	if gpu := byName["nvidia-smi"]; len(gpu) != 1 || !gpu[0].Passed {
		t.Fatalf("expected nvidia-smi check to pass as optional, got %+v", gpu)
	}
}

func TestRunAllNilConfig(t *testing.T) {
	if RunAll(nil) != nil {
		t.Fatal("expected no results for nil config")
	}
}
