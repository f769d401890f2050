package logging

import "testing"

func TestProgressSamplerEmitsOnlyMultiples(t *testing.T) {
	for _, interval := range []float64{1, 5, 10, 25, 33} {
		s := NewProgressSampler(interval)
		var emitted []int
		for pct := 1; pct <= 100; pct++ {
			if s.ShouldLog("buildDepthMaps", float64(pct)) {
				emitted = append(emitted, pct)
			}
		}
		want := int(100 / interval)
		if len(emitted) != want {
			t.Fatalf("interval %v: got %d emissions %v, want %d", interval, len(emitted), emitted, want)
		}
		for i, pct := range emitted {
			if pct%int(interval) != 0 {
				t.Fatalf("interval %v: emitted non-multiple %d", interval, pct)
			}
			if i > 0 && pct <= emitted[i-1] {
				t.Fatalf("interval %v: emissions not increasing %v", interval, emitted)
			}
		}
	}
}

func TestProgressSamplerSuppressesRepeatsAndRegressions(t *testing.T) {
	s := NewProgressSampler(10)
	if !s.ShouldLog("matchPhotos", 20) {
		t.Fatal("expected first crossing to emit")
	}
	if s.ShouldLog("matchPhotos", 20) {
		t.Fatal("repeated percent should be suppressed")
	}
	if s.ShouldLog("matchPhotos", 15) {
		t.Fatal("regressing percent should be suppressed")
	}
	if s.ShouldLog("matchPhotos", 29.9) {
		t.Fatal("percent within the same bucket should be suppressed")
	}
	if !s.ShouldLog("matchPhotos", 30) {
		t.Fatal("expected next multiple to emit")
	}
}

func TestProgressSamplerTracksOperationsIndependently(t *testing.T) {
	s := NewProgressSampler(50)
	if !s.ShouldLog("alignCameras", 50) {
		t.Fatal("expected alignCameras 50 to emit")
	}
	if !s.ShouldLog("optimizeCameras", 50) {
		t.Fatal("expected a different operation to track its own state")
	}
	if !s.ShouldLog("alignCameras", 120) {
		t.Fatal("expected clamp to 100 to emit")
	}
	if s.ShouldLog("alignCameras", 100) {
		t.Fatal("expected 100 to be emitted once")
	}
	s.Reset()
	if !s.ShouldLog("alignCameras", 50) {
		t.Fatal("expected reset to clear state")
	}
}

func TestProgressSamplerNilAndNegative(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog("x", 1) {
		t.Fatal("nil sampler should always emit")
	}
	s.Reset()

	s = NewProgressSampler(0)
	if s.interval != 1 {
		t.Fatalf("interval = %v, want 1", s.interval)
	}
	if s.ShouldLog("x", -1) {
		t.Fatal("negative percent should not emit")
	}
	if s.ShouldLog("x", 0) {
		t.Fatal("zero percent should not emit")
	}
}
