package stage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"automate-metashape/internal/config"
	"automate-metashape/internal/engine"
	"automate-metashape/internal/project"
	"automate-metashape/internal/services"
)

func TestParse(t *testing.T) {
	for _, name := range Order {
		got, err := Parse(string(name))
		if err != nil || got != name {
			t.Fatalf("Parse(%q) = %q, %v", name, got, err)
		}
	}
	if got, err := Parse(""); err != nil || got != All {
		t.Fatalf("empty step should select all, got %q, %v", got, err)
	}
	if got, err := Parse("all"); err != nil || got != All {
		t.Fatalf("Parse(all) = %q, %v", got, err)
	}
	for _, value := range []string{"ALIGN_CAMERAS", " setup ", "Setup", "ALL", "build-mesh"} {
		if got, err := Parse(value); !errors.Is(err, services.ErrConfiguration) {
			t.Fatalf("Parse(%q) = %q, %v; want configuration error", value, got, err)
		}
	}
	_, err := Parse("align_camera")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "align_cameras") {
		t.Fatalf("error should list valid steps, got %v", err)
	}
}

func TestStepEnumerationIsStable(t *testing.T) {
	want := "setup,match_photos,align_cameras,build_depth_maps,build_point_cloud,build_mesh," +
		"build_dem_orthomosaic,match_photos_secondary,align_cameras_secondary,finalize"
	if got := strings.Join(Names(), ","); got != want {
		t.Fatalf("step enumeration changed: %s", got)
	}
	for _, d := range Descriptors() {
		if d.Name == "" || len(d.Operations) == 0 {
			t.Fatalf("incomplete descriptor %+v", d)
		}
		if StateAfter(d.Name) == Uninitialized {
			t.Fatalf("step %s has no state transition", d.Name)
		}
	}
	if BuildDemOrthomosaic.Label() != "Build Dem Orthomosaic" {
		t.Fatalf("unexpected label %q", BuildDemOrthomosaic.Label())
	}
}

func TestAlignRequiresMatch(t *testing.T) {
	cfg := config.Default()
	doc := project.NewDocument("run", "")
	doc.AddCameras([]project.Camera{{ID: "a"}})

	d, _ := Describe(AlignCameras)
	err := d.Check(doc, &cfg)
	var pre *services.PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}
	if pre.RunFirst != string(MatchPhotos) || !strings.Contains(err.Error(), "run step match_photos first") {
		t.Fatalf("unexpected precondition %+v (%v)", pre, err)
	}

	doc.Set(project.SlotTiePoints, project.Artifact{Count: 10})
	if err := d.Check(doc, &cfg); err != nil {
		t.Fatalf("expected align prerequisites met, got %v", err)
	}
}

func TestDemOrthoPrerequisites(t *testing.T) {
	cfg := config.Default()
	d, _ := Describe(BuildDemOrthomosaic)
	doc := project.NewDocument("run", "")

	err := d.Check(doc, &cfg)
	if !errors.Is(err, services.ErrPrecondition) || !strings.Contains(err.Error(), "build_point_cloud") {
		t.Fatalf("expected point cloud precondition, got %v", err)
	}

	doc.Set(project.SlotMesh, project.Artifact{Count: 1})
	err = d.Check(doc, &cfg)
	if err == nil || !strings.Contains(err.Error(), "dense point cloud for the point cloud surfaces") {
		t.Fatalf("DSM-ptcloud surface should need the point cloud, got %v", err)
	}

	cfg.BuildDem.Surface = []string{config.SurfaceDSMMesh}
	cfg.BuildOrthomosaic.Surface = []string{config.SurfaceMesh}
	if err := d.Check(doc, &cfg); err != nil {
		t.Fatalf("mesh surfaces should be satisfied by a mesh, got %v", err)
	}
}

func TestDemOrthoEnabledUnlessBothDisabled(t *testing.T) {
	d, _ := Describe(BuildDemOrthomosaic)
	cases := []struct {
		dem, ortho, want bool
	}{
		{dem: true, ortho: true, want: true},
		{dem: true, ortho: false, want: true},
		{dem: false, ortho: true, want: true},
		{dem: false, ortho: false, want: false},
	}
	for _, tc := range cases {
		cfg := config.Default()
		cfg.BuildDem.Enabled = tc.dem
		cfg.BuildOrthomosaic.Enabled = tc.ortho
		if got := d.Enabled(&cfg); got != tc.want {
			t.Fatalf("dem=%v ortho=%v: Enabled = %v, want %v", tc.dem, tc.ortho, got, tc.want)
		}
	}
}

func TestSecondaryStepsNeedSecondaryPath(t *testing.T) {
	cfg := config.Default()
	match, _ := Describe(MatchPhotosSecondary)
	if match.Enabled(&cfg) {
		t.Fatal("secondary match should be disabled without photo_path_secondary")
	}
	cfg.PhotoPathSecondary = "/data/secondary"
	if !match.Enabled(&cfg) {
		t.Fatal("secondary match should be enabled with photo_path_secondary")
	}

	doc := project.NewDocument("run", "")
	doc.AddCameras([]project.Camera{{ID: "a"}, {ID: "s", Secondary: true}})
	if err := match.Check(doc, &cfg); err == nil || !strings.Contains(err.Error(), "align_cameras") {
		t.Fatalf("secondary match should need aligned primary cameras, got %v", err)
	}
	doc.MarkAligned([]string{"a"})
	if err := match.Check(doc, &cfg); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestNewRegistryIsExhaustive(t *testing.T) {
	noop := HandlerFunc(func(context.Context, *Env) error { return nil })
	handlers := make(map[Name]Handler)
	for _, name := range Order {
		handlers[name] = noop
	}
	if _, err := NewRegistry(handlers); err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	delete(handlers, Finalize)
	if _, err := NewRegistry(handlers); err == nil || !strings.Contains(err.Error(), "finalize") {
		t.Fatalf("expected missing finalize handler error, got %v", err)
	}

	handlers[Finalize] = noop
	handlers["bogus"] = noop
	if _, err := NewRegistry(handlers); err == nil {
		t.Fatal("expected unknown step error")
	}
}

type failingSession struct {
	err error
}

func (s failingSession) Invoke(context.Context, engine.Call) (engine.Result, error) {
	return engine.Result{}, s.err
}

func (failingSession) Save(context.Context) error { return nil }

func (failingSession) Close() error { return nil }

func TestCallWrapsEngineErrorsOnce(t *testing.T) {
	cases := []struct {
		name  string
		cause error
		want  string
	}{
		{
			name:  "engine error",
			cause: services.Wrap(services.ErrEngine, "", engine.OpAddPhotos, "simulated failure", nil),
			want:  "setup: engine operation failed: add_photos: simulated failure",
		},
		{
			name:  "plain error",
			cause: errors.New("pipe closed"),
			want:  "engine operation failed: setup: add_photos: engine operation failed: pipe closed",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := &Env{Step: Setup, Session: failingSession{err: tc.cause}}
			_, err := env.Call(context.Background(), engine.OpAddPhotos, nil)
			if !errors.Is(err, services.ErrEngine) {
				t.Fatalf("expected engine error, got %v", err)
			}
			if err.Error() != tc.want {
				t.Fatalf("error = %q, want %q", err.Error(), tc.want)
			}
		})
	}
}
