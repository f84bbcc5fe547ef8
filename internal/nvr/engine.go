package nvr

import (
	"image"
	"log/slog"
	"sync"
	"time"
)

// Engine is the frame orchestrator and the public entry point of the NVR
// core. It owns one state struct per camera, created on first use, and
// serializes frame processing per camera while letting different cameras
// run in parallel.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	cameras map[string]*cameraState

	hookMu sync.RWMutex
	hooks  []func(Event)
}

// cameraState holds all per-camera pipeline state. Its mutex is held for
// the duration of Process so successive frames of one camera never
// interleave.
type cameraState struct {
	mu        sync.Mutex
	tracker   *Tracker
	zones     *ZoneSet
	cooldowns *cooldownTable
	history   *history
}

// Result is the structured output of one processed frame.
type Result struct {
	CameraID   string      `json:"camera_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Detections []Detection `json:"detections"`
	Tracks     []Track     `json:"tracks"`
	Events     []Event     `json:"events"`
}

// Statistics aggregates counts across all cameras for the status endpoint.
type Statistics struct {
	TotalCameras int                         `json:"total_cameras"`
	ActiveTracks int                         `json:"active_tracks"`
	TotalZones   int                         `json:"total_zones"`
	TotalEvents  int                         `json:"total_events"`
	Cameras      map[string]CameraStatistics `json:"cameras"`
}

// CameraStatistics holds per-camera counts.
type CameraStatistics struct {
	ActiveTracks int `json:"active_tracks"`
	Zones        int `json:"zones"`
	RecentEvents int `json:"recent_events"`
}

// NewEngine creates the NVR core engine.
func NewEngine(cfg Config) *Engine {
	cfg.Normalize()
	return &Engine{
		cfg:     cfg,
		logger:  slog.Default().With("component", "nvr-engine"),
		cameras: make(map[string]*cameraState),
	}
}

// OnEvent registers a callback invoked for every accepted event, outside
// the per-camera lock. Callbacks must not block; slow consumers should hand
// off to their own queue.
func (e *Engine) OnEvent(fn func(Event)) {
	e.hookMu.Lock()
	e.hooks = append(e.hooks, fn)
	e.hookMu.Unlock()
}

// Process runs one frame through the full pipeline: tracker update, event
// detection, cooldown filtering, history recording, then overlay drawing.
// frame may be nil when the caller only wants the structured results; a
// failure while drawing never affects the returned data.
func (e *Engine) Process(cameraID string, frame *image.RGBA, detections []Detection, now time.Time) Result {
	state := e.state(cameraID)

	state.mu.Lock()
	tracks := state.tracker.Update(detections, now)
	candidates := detectEvents(e.cfg, cameraID, detections, tracks, state.zones.List(), now)
	accepted := state.cooldowns.Filter(candidates, now)
	if len(accepted) > 0 {
		state.history.Record(accepted, now)
	}
	zones := state.zones.List()
	state.mu.Unlock()

	if frame != nil {
		e.drawOverlays(cameraID, frame, detections, tracks, zones)
	}

	if len(accepted) > 0 {
		e.hookMu.RLock()
		hooks := e.hooks
		e.hookMu.RUnlock()
		for _, ev := range accepted {
			for _, fn := range hooks {
				fn(ev)
			}
		}
	}

	return Result{
		CameraID:   cameraID,
		Timestamp:  now,
		Detections: detections,
		Tracks:     tracks,
		Events:     accepted,
	}
}

// drawOverlays renders zones, detection boxes and track trails. Rendering is
// a side output; a panic here is logged and swallowed so the data pipeline
// always completes.
func (e *Engine) drawOverlays(cameraID string, frame *image.RGBA, detections []Detection, tracks []Track, zones []Zone) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Overlay rendering failed", "camera_id", cameraID, "panic", r)
		}
	}()
	DrawOverlays(frame, detections, tracks, zones)
}

// AddZone registers a detection zone for a camera.
func (e *Engine) AddZone(cameraID string, zone Zone) error {
	state := e.state(cameraID)
	state.mu.Lock()
	defer state.mu.Unlock()

	if err := state.zones.Add(zone); err != nil {
		return err
	}
	e.logger.Info("Zone added", "camera_id", cameraID, "zone", zone.Name, "restricted", zone.Restricted)
	return nil
}

// RemoveZone deletes a named zone. Returns ErrZoneNotFound when absent.
func (e *Engine) RemoveZone(cameraID, name string) error {
	state, ok := e.lookup(cameraID)
	if !ok {
		return ErrZoneNotFound
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	if err := state.zones.Remove(name); err != nil {
		return err
	}
	e.logger.Info("Zone removed", "camera_id", cameraID, "zone", name)
	return nil
}

// ListZones returns all zones for a camera. Unknown cameras yield an empty
// list; "camera not yet started" is a normal state, not a fault.
func (e *Engine) ListZones(cameraID string) []Zone {
	state, ok := e.lookup(cameraID)
	if !ok {
		return []Zone{}
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.zones.List()
}

// ActiveTracks returns the confirmed tracks for a camera.
func (e *Engine) ActiveTracks(cameraID string) []Track {
	state, ok := e.lookup(cameraID)
	if !ok {
		return []Track{}
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.tracker.Confirmed()
}

// EventHistory returns up to limit of the camera's most recent accepted
// events in insertion order.
func (e *Engine) EventHistory(cameraID string, limit int) []Event {
	state, ok := e.lookup(cameraID)
	if !ok {
		return []Event{}
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.history.Recent(limit)
}

// ClearCamera tears down all state for a camera: tracks, zones, cooldowns
// and history are released together.
func (e *Engine) ClearCamera(cameraID string) {
	e.mu.Lock()
	delete(e.cameras, cameraID)
	e.mu.Unlock()
	e.logger.Info("Camera data cleared", "camera_id", cameraID)
}

// Statistics aggregates counts across all cameras.
func (e *Engine) Statistics() Statistics {
	e.mu.RLock()
	states := make(map[string]*cameraState, len(e.cameras))
	for id, st := range e.cameras {
		states[id] = st
	}
	e.mu.RUnlock()

	stats := Statistics{
		TotalCameras: len(states),
		Cameras:      make(map[string]CameraStatistics, len(states)),
	}
	for id, st := range states {
		st.mu.Lock()
		cam := CameraStatistics{
			ActiveTracks: st.tracker.Len(),
			Zones:        st.zones.Len(),
			RecentEvents: st.history.Len(),
		}
		st.mu.Unlock()

		stats.ActiveTracks += cam.ActiveTracks
		stats.TotalZones += cam.Zones
		stats.TotalEvents += cam.RecentEvents
		stats.Cameras[id] = cam
	}
	return stats
}

// state returns the camera's pipeline state, creating it on first use.
func (e *Engine) state(cameraID string) *cameraState {
	e.mu.RLock()
	st, ok := e.cameras[cameraID]
	e.mu.RUnlock()
	if ok {
		return st
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok = e.cameras[cameraID]; ok {
		return st
	}
	st = &cameraState{
		tracker:   NewTracker(cameraID, e.cfg),
		zones:     &ZoneSet{},
		cooldowns: newCooldownTable(time.Duration(e.cfg.CooldownSeconds * float64(time.Second))),
		history:   newHistory(e.cfg.MaxEventsPerCamera),
	}
	e.cameras[cameraID] = st
	e.logger.Debug("Camera state created", "camera_id", cameraID)
	return st
}

// lookup returns the camera state without creating it.
func (e *Engine) lookup(cameraID string) (*cameraState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.cameras[cameraID]
	return st, ok
}
