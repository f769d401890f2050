package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"automate-metashape/internal/fileutil"
	"automate-metashape/internal/services"
)

const (
	simulatedVersion      = "simulated-2.1"
	tiePointsPerCamera    = 250
	pointsPerDepthMap     = 1000
	facesPerDepthMap      = 400
	simulatedProgressStep = 10
)

// Simulated is a deterministic engine. Its project file is a YAML journal of
// saved operations.
type Simulated struct {
	stdout io.Writer
	// FailOps makes the named operations fail with ErrEngine.
	FailOps map[string]bool
	// Delay is slept before each long-running operation completes.
	Delay time.Duration
}

// NewSimulated returns a simulated engine printing progress markers to stdout.
func NewSimulated(stdout io.Writer) *Simulated {
	if stdout == nil {
		stdout = io.Discard
	}
	return &Simulated{stdout: stdout}
}

type simulatedProject struct {
	CreatedAt  time.Time `yaml:"created_at"`
	Saves      int       `yaml:"saves"`
	Operations []string  `yaml:"operations"`
}

type simulatedSession struct {
	engine  *Simulated
	path    string
	gpu     GPUSettings
	state   simulatedProject
	pending []string
	closed  bool
}

// Open implements Engine.
func (s *Simulated) Open(_ context.Context, req OpenRequest) (Session, error) {
	if req.ProjectPath == "" {
		return nil, services.Wrap(services.ErrConfiguration, "", "open engine project", "project path is empty", nil)
	}
	session := &simulatedSession{engine: s, path: req.ProjectPath, gpu: req.GPU}
	if req.Create {
		session.state = simulatedProject{CreatedAt: time.Now().UTC()}
		return session, nil
	}
	data, err := os.ReadFile(req.ProjectPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, services.Wrap(services.ErrNotFound, "", "open engine project",
			fmt.Sprintf("%s does not exist; run step setup first", req.ProjectPath), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("read engine project: %w", err)
	}
	if err := yaml.Unmarshal(data, &session.state); err != nil {
		return nil, services.Wrap(services.ErrEngine, "", "open engine project", "project file is corrupt", err)
	}
	return session, nil
}

func (s *simulatedSession) Invoke(ctx context.Context, call Call) (Result, error) {
	if s.closed {
		return Result{}, services.Wrap(services.ErrEngine, "", call.Op, "session closed", nil)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if s.engine.FailOps[call.Op] {
		return Result{}, services.Wrap(services.ErrEngine, "", call.Op, "simulated failure", nil)
	}
	result, long, err := s.evaluate(call)
	if err != nil {
		return Result{}, err
	}
	if long {
		if err := s.progress(ctx, call.Op); err != nil {
			return Result{}, err
		}
	}
	s.pending = append(s.pending, call.Op)
	return result, nil
}

func (s *simulatedSession) progress(ctx context.Context, op string) error {
	for pct := simulatedProgressStep; pct <= 100; pct += simulatedProgressStep {
		if s.engine.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.engine.Delay / (100 / simulatedProgressStep)):
			}
		}
		fmt.Fprintln(s.engine.stdout, FormatProgress(op, float64(pct)))
	}
	return nil
}

func (s *simulatedSession) evaluate(call Call) (Result, bool, error) {
	p := call.Params
	switch call.Op {
	case OpDescribe:
		return Result{Info: map[string]string{
			"version":     simulatedVersion,
			"gpu_enabled": strconv.FormatBool(s.gpu.Enabled),
			"gpu_count":   "0",
		}}, false, nil
	case OpAddPhotos:
		photos := PhotosParam(p, "photos")
		labels := make([]string, 0, len(photos))
		for _, photo := range photos {
			labels = append(labels, photo.Label)
		}
		return Result{Count: len(labels), Cameras: labels}, false, nil
	case OpCalibrateReflectance, OpResetRegion, OpClassifyGroundPoints:
		return Result{Count: 1}, false, nil
	case OpMatchPhotos:
		cameras := StringsParam(p, "cameras")
		return Result{Count: len(cameras) * tiePointsPerCamera}, true, nil
	case OpAlignCameras, OpOptimizeCameras:
		cameras := StringsParam(p, "cameras")
		return Result{Count: len(cameras), Cameras: cameras}, call.Op == OpAlignCameras, nil
	case OpFilterPoints:
		points := IntParam(p, "tie_points")
		return Result{Count: points - points/10}, false, nil
	case OpAddGCPs:
		return Result{Count: len(StringsParam(p, "markers"))}, false, nil
	case OpBuildDepthMaps:
		return Result{Count: len(StringsParam(p, "cameras"))}, true, nil
	case OpBuildPointCloud:
		return Result{Count: IntParam(p, "depth_maps") * pointsPerDepthMap}, true, nil
	case OpBuildMesh:
		return Result{Count: IntParam(p, "depth_maps") * facesPerDepthMap}, true, nil
	case OpBuildDEM, OpBuildOrthomosaic:
		return Result{Count: 1}, true, nil
	case OpRemovePointCloud, OpRemoveOrthomosaic:
		return Result{}, false, nil
	case OpExportCameras, OpExportPointCloud, OpExportMesh, OpExportDEM, OpExportOrthomosaic, OpExportReport:
		path := StringParam(p, "path")
		if path == "" {
			return Result{}, false, services.Wrap(services.ErrEngine, "", call.Op, "export path is empty", nil)
		}
		if err := writePlaceholder(path, call.Op); err != nil {
			return Result{}, false, services.Wrap(services.ErrEngine, "", call.Op, "write export", err)
		}
		return Result{Count: 1, Outputs: []string{path}}, false, nil
	default:
		return Result{}, false, services.Wrap(services.ErrEngine, "", call.Op, "unsupported operation", nil)
	}
}

func (s *simulatedSession) Save(_ context.Context) error {
	if s.closed {
		return services.Wrap(services.ErrEngine, "", "save", "session closed", nil)
	}
	s.state.Saves++
	s.state.Operations = append(s.state.Operations, s.pending...)
	data, err := yaml.Marshal(&s.state)
	if err != nil {
		return fmt.Errorf("encode engine project: %w", err)
	}
	if err := fileutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write engine project: %w", err)
	}
	s.pending = nil
	return nil
}

func (s *simulatedSession) Close() error {
	s.closed = true
	s.pending = nil
	return nil
}

func writePlaceholder(path, op string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("simulated "+op+"\n"), 0o644)
}

// ReadSimulatedJournal returns the operations saved to a simulated project file.
func ReadSimulatedJournal(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state simulatedProject
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return state.Operations, nil
}

var _ Engine = (*Simulated)(nil)
