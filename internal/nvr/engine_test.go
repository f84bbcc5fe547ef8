package nvr

import (
	"image"
	"sync"
	"testing"
	"time"
)

func TestEngineConfirmedTrackFiresDetectionEvent(t *testing.T) {
	eng := NewEngine(testConfig())
	now := time.Now()
	d := det("cat", 80, 80, 40, 40, 0.9)

	var last Result
	for i := 0; i < 3; i++ {
		last = eng.Process("cam-1", nil, []Detection{d}, now.Add(time.Duration(i)*time.Second))
	}

	if len(last.Tracks) != 1 {
		t.Fatalf("expected 1 confirmed track after 3 frames, got %d", len(last.Tracks))
	}
	if len(last.Events) != 1 {
		t.Fatalf("expected 1 event on confirmation frame, got %d", len(last.Events))
	}
	ev := last.Events[0]
	if ev.Type != EventObjectDetected || ev.ObjectType != "cat" || ev.CameraID != "cam-1" {
		t.Errorf("unexpected event %+v", ev)
	}

	// Fourth frame keeps the track confirmed but must not re-fire.
	next := eng.Process("cam-1", nil, []Detection{d}, now.Add(3*time.Second))
	if len(next.Events) != 0 {
		t.Errorf("confirmation event re-fired: %+v", next.Events)
	}
}

func TestEngineZoneViolationWithCooldown(t *testing.T) {
	eng := NewEngine(testConfig())
	now := time.Now()

	if err := eng.AddZone("cam-1", rectZone("driveway", 0, 0, 200, 200, true)); err != nil {
		t.Fatal(err)
	}

	d := det("person", 90, 90, 20, 20, 0.9)
	first := eng.Process("cam-1", nil, []Detection{d}, now)
	if len(first.Events) != 1 || first.Events[0].Type != EventZoneViolation {
		t.Fatalf("expected zone violation on first frame, got %+v", first.Events)
	}

	second := eng.Process("cam-1", nil, []Detection{d}, now.Add(time.Second))
	if len(second.Events) != 0 {
		t.Errorf("violation inside cooldown window not suppressed: %+v", second.Events)
	}

	third := eng.Process("cam-1", nil, []Detection{d}, now.Add(31*time.Second))
	if len(third.Events) != 1 {
		t.Errorf("violation after cooldown window suppressed, got %d events", len(third.Events))
	}
}

func TestEngineLoiteringEvent(t *testing.T) {
	eng := NewEngine(testConfig())
	now := time.Now()
	d := det("person", 80, 80, 40, 40, 0.9)

	eng.Process("cam-1", nil, []Detection{d}, now)
	eng.Process("cam-1", nil, []Detection{d}, now.Add(time.Second))
	res := eng.Process("cam-1", nil, []Detection{d}, now.Add(31*time.Second))

	var loiter *Event
	for i := range res.Events {
		if res.Events[i].Type == EventLoitering {
			loiter = &res.Events[i]
		}
	}
	if loiter == nil {
		t.Fatalf("expected loitering event, got %+v", res.Events)
	}
	if loiter.Duration < 30 {
		t.Errorf("duration = %.1f, want > 30", loiter.Duration)
	}
}

func TestEngineEventHistory(t *testing.T) {
	eng := NewEngine(testConfig())
	now := time.Now()
	_ = eng.AddZone("cam-1", rectZone("driveway", 0, 0, 200, 200, true))

	d := det("person", 90, 90, 20, 20, 0.9)
	eng.Process("cam-1", nil, []Detection{d}, now)

	events := eng.EventHistory("cam-1", 10)
	if len(events) != 1 {
		t.Fatalf("expected 1 event in history, got %d", len(events))
	}
	if events[0].RecordedAt.IsZero() {
		t.Error("RecordedAt not stamped on recorded event")
	}
}

func TestEngineUnknownCameraLookups(t *testing.T) {
	eng := NewEngine(testConfig())

	if zones := eng.ListZones("ghost"); len(zones) != 0 {
		t.Errorf("zones for unknown camera = %v", zones)
	}
	if tracks := eng.ActiveTracks("ghost"); len(tracks) != 0 {
		t.Errorf("tracks for unknown camera = %v", tracks)
	}
	if events := eng.EventHistory("ghost", 10); len(events) != 0 {
		t.Errorf("events for unknown camera = %v", events)
	}
	if err := eng.RemoveZone("ghost", "nope"); err == nil {
		t.Error("expected error removing zone from unknown camera")
	}

	// Read-only lookups must not materialize camera state.
	if stats := eng.Statistics(); stats.TotalCameras != 0 {
		t.Errorf("lookups created camera state: %+v", stats)
	}
}

func TestEngineClearCamera(t *testing.T) {
	eng := NewEngine(testConfig())
	now := time.Now()
	_ = eng.AddZone("cam-1", rectZone("driveway", 0, 0, 200, 200, true))

	d := det("person", 90, 90, 20, 20, 0.9)
	for i := 0; i < 3; i++ {
		eng.Process("cam-1", nil, []Detection{d}, now.Add(time.Duration(i)*time.Second))
	}

	eng.ClearCamera("cam-1")

	if tracks := eng.ActiveTracks("cam-1"); len(tracks) != 0 {
		t.Errorf("tracks survive clear: %v", tracks)
	}
	if zones := eng.ListZones("cam-1"); len(zones) != 0 {
		t.Errorf("zones survive clear: %v", zones)
	}
	if events := eng.EventHistory("cam-1", 10); len(events) != 0 {
		t.Errorf("history survives clear: %v", events)
	}

	// Cooldown state is gone too, so the same violation fires immediately.
	res := eng.Process("cam-1", nil, []Detection{d}, now.Add(5*time.Second))
	if len(res.Events) != 0 {
		// Zone was cleared as well, so no violation is expected at all.
		t.Errorf("events after clear without zones: %+v", res.Events)
	}
}

func TestEngineStatistics(t *testing.T) {
	eng := NewEngine(testConfig())
	now := time.Now()
	_ = eng.AddZone("cam-1", rectZone("driveway", 0, 0, 200, 200, true))

	d := det("person", 90, 90, 20, 20, 0.9)
	for i := 0; i < 3; i++ {
		eng.Process("cam-1", nil, []Detection{d}, now.Add(time.Duration(i)*time.Second))
	}
	eng.Process("cam-2", nil, []Detection{det("car", 10, 10, 40, 40, 0.8)}, now)

	stats := eng.Statistics()
	if stats.TotalCameras != 2 {
		t.Errorf("TotalCameras = %d, want 2", stats.TotalCameras)
	}
	if stats.TotalZones != 1 {
		t.Errorf("TotalZones = %d, want 1", stats.TotalZones)
	}
	if stats.ActiveTracks != 2 {
		t.Errorf("ActiveTracks = %d, want 2", stats.ActiveTracks)
	}
	cam1, ok := stats.Cameras["cam-1"]
	if !ok {
		t.Fatal("cam-1 missing from per-camera statistics")
	}
	// Two accepted events: zone violation on frame 1, confirmation on frame 3.
	if cam1.RecentEvents != 2 {
		t.Errorf("cam-1 RecentEvents = %d, want 2", cam1.RecentEvents)
	}
}

func TestEngineOnEventHook(t *testing.T) {
	eng := NewEngine(testConfig())
	now := time.Now()
	_ = eng.AddZone("cam-1", rectZone("driveway", 0, 0, 200, 200, true))

	var mu sync.Mutex
	var seen []Event
	eng.OnEvent(func(ev Event) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	})

	eng.Process("cam-1", nil, []Detection{det("person", 90, 90, 20, 20, 0.9)}, now)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 {
		t.Fatalf("hook invoked %d times, want 1", len(seen))
	}
	if seen[0].Type != EventZoneViolation {
		t.Errorf("hook saw %s, want %s", seen[0].Type, EventZoneViolation)
	}
}

func TestEngineProcessWithFrame(t *testing.T) {
	eng := NewEngine(testConfig())
	now := time.Now()
	_ = eng.AddZone("cam-1", rectZone("driveway", 10, 10, 100, 100, true))

	frame := image.NewRGBA(image.Rect(0, 0, 320, 240))
	res := eng.Process("cam-1", frame, []Detection{det("person", 20, 20, 30, 30, 0.9)}, now)

	if len(res.Events) != 1 {
		t.Fatalf("expected zone violation, got %d events", len(res.Events))
	}

	// The zone outline is drawn in the restricted color.
	px := frame.RGBAAt(10, 10)
	if px.R == 0 && px.G == 0 && px.B == 0 {
		t.Error("zone outline not drawn on frame")
	}
}

func TestEngineConcurrentCameras(t *testing.T) {
	eng := NewEngine(testConfig())
	now := time.Now()

	var wg sync.WaitGroup
	for _, cam := range []string{"cam-1", "cam-2", "cam-3", "cam-4"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				eng.Process(id, nil, []Detection{det("person", 80, 80, 40, 40, 0.9)}, now.Add(time.Duration(i)*time.Second))
			}
		}(cam)
	}
	wg.Wait()

	stats := eng.Statistics()
	if stats.TotalCameras != 4 {
		t.Errorf("TotalCameras = %d, want 4", stats.TotalCameras)
	}
	if stats.ActiveTracks != 4 {
		t.Errorf("ActiveTracks = %d, want 4", stats.ActiveTracks)
	}
}
