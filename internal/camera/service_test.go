package camera

import (
	"context"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"github.com/home-vision-ai/homevision/internal/nvr"
)

// staticSource returns the same blank frame on every grab
type staticSource struct {
	closed atomic.Bool
}

func (s *staticSource) Grab(ctx context.Context) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return image.NewRGBA(image.Rect(0, 0, 64, 48)), nil
}

func (s *staticSource) Close() error {
	s.closed.Store(true)
	return nil
}

// stubDetector returns a fixed detection set
type stubDetector struct {
	detections []nvr.Detection
	calls      atomic.Int64
}

func (d *stubDetector) Detect(ctx context.Context, cameraID string, jpegFrame []byte) ([]nvr.Detection, error) {
	d.calls.Add(1)
	return d.detections, nil
}

func newTestService(det Detector) (*Service, *staticSource) {
	src := &staticSource{}
	factory := func(id, url, username, password string) (FrameSource, error) {
		return src, nil
	}
	svc := NewService(nvr.NewEngine(nvr.DefaultConfig()), det, ServiceConfig{
		Interval: 10 * time.Millisecond,
		Factory:  factory,
	})
	return svc, src
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestStartAndProcessFrames(t *testing.T) {
	det := &stubDetector{detections: []nvr.Detection{
		{ObjectType: "person", Confidence: 0.9, BoundingBox: nvr.BoundingBox{X: 10, Y: 10, Width: 20, Height: 20}},
	}}
	svc, _ := newTestService(det)
	defer svc.StopAll()

	err := svc.Start(context.Background(), "cam-1", "Front Door", "http://example/snap", "", "")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		info, ok := svc.Get("cam-1")
		return ok && info.FramesTotal >= 3 && info.Status == StatusOnline
	})

	if det.calls.Load() < 3 {
		t.Errorf("Detector called %d times, want >= 3", det.calls.Load())
	}
}

func TestStartDuplicate(t *testing.T) {
	svc, _ := newTestService(&stubDetector{})
	defer svc.StopAll()

	if err := svc.Start(context.Background(), "cam-1", "Front Door", "u", "", ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := svc.Start(context.Background(), "cam-1", "Front Door", "u", "", ""); err == nil {
		t.Error("Expected error starting duplicate camera")
	}
}

func TestStopClosesSource(t *testing.T) {
	svc, src := newTestService(&stubDetector{})

	if err := svc.Start(context.Background(), "cam-1", "Front Door", "u", "", ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := svc.Stop("cam-1"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if !src.closed.Load() {
		t.Error("Source not closed on stop")
	}
	if _, ok := svc.Get("cam-1"); ok {
		t.Error("Worker still listed after stop")
	}

	if err := svc.Stop("cam-1"); err == nil {
		t.Error("Expected error stopping non-running camera")
	}
}

func TestConfirmedTracksReachEngine(t *testing.T) {
	det := &stubDetector{detections: []nvr.Detection{
		{ObjectType: "cat", Confidence: 0.9, BoundingBox: nvr.BoundingBox{X: 10, Y: 10, Width: 20, Height: 20}},
	}}
	src := &staticSource{}
	factory := func(id, url, username, password string) (FrameSource, error) { return src, nil }
	engine := nvr.NewEngine(nvr.DefaultConfig())
	svc := NewService(engine, det, ServiceConfig{Interval: 10 * time.Millisecond, Factory: factory})
	defer svc.StopAll()

	if err := svc.Start(context.Background(), "cam-1", "Front Door", "u", "", ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Steady same-spot detections confirm a track after the hit threshold.
	waitFor(t, 2*time.Second, func() bool {
		return len(engine.ActiveTracks("cam-1")) == 1
	})

	history := engine.EventHistory("cam-1", 10)
	found := false
	for _, ev := range history {
		if ev.Type == nvr.EventObjectDetected {
			found = true
		}
	}
	if !found {
		t.Error("Expected object_detected event in history")
	}
}

func TestStreamAvailableWhileRunning(t *testing.T) {
	svc, _ := newTestService(&stubDetector{})
	defer svc.StopAll()

	if _, ok := svc.Stream("cam-1"); ok {
		t.Error("Stream should not exist before start")
	}

	if err := svc.Start(context.Background(), "cam-1", "Front Door", "u", "", ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, ok := svc.Stream("cam-1"); !ok {
		t.Error("Stream should exist for running camera")
	}
}

func TestListWorkers(t *testing.T) {
	svc, _ := newTestService(&stubDetector{})
	defer svc.StopAll()

	_ = svc.Start(context.Background(), "cam-1", "Front Door", "u", "", "")
	_ = svc.Start(context.Background(), "cam-2", "Backyard", "u", "", "")

	infos := svc.List()
	if len(infos) != 2 {
		t.Errorf("Expected 2 workers, got %d", len(infos))
	}
}
