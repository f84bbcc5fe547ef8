package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/home-vision-ai/homevision/internal/camera"
	"github.com/home-vision-ai/homevision/internal/config"
	"github.com/home-vision-ai/homevision/internal/events"
	"github.com/home-vision-ai/homevision/internal/nvr"
)

// CameraRequest represents a camera creation/update request
type CameraRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	FPS      int    `json:"fps,omitempty"`
}

// cameraView merges configured settings with live worker state
type cameraView struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Enabled bool          `json:"enabled"`
	URL     string        `json:"url"`
	FPS     int           `json:"fps,omitempty"`
	Status  camera.Status `json:"status"`
	Runtime *camera.Info  `json:"runtime,omitempty"`
}

func (s *Server) cameraView(cam config.CameraConfig) cameraView {
	v := cameraView{
		ID:      cam.ID,
		Name:    cam.Name,
		Enabled: cam.Enabled,
		URL:     cam.Stream.URL,
		FPS:     cam.FPS,
		Status:  camera.StatusOffline,
	}
	if info, ok := s.cameras.Get(cam.ID); ok {
		v.Status = info.Status
		v.Runtime = &info
	}
	return v
}

// handleListCameras lists all configured cameras with live status
func (s *Server) handleListCameras(w http.ResponseWriter, r *http.Request) {
	cams := s.cfg.ListCameras()
	views := make([]cameraView, 0, len(cams))
	for _, cam := range cams {
		views = append(views, s.cameraView(cam))
	}
	OK(w, views)
}

// handleCreateCamera registers a camera and starts it when enabled
func (s *Server) handleCreateCamera(w http.ResponseWriter, r *http.Request) {
	var req CameraRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}
	if req.ID == "" {
		BadRequest(w, "id is required")
		return
	}
	if req.URL == "" {
		BadRequest(w, "url is required")
		return
	}
	if req.Name == "" {
		req.Name = req.ID
	}

	cam := config.CameraConfig{
		ID:      req.ID,
		Name:    req.Name,
		Enabled: req.Enabled,
		Stream: config.StreamConfig{
			URL:      req.URL,
			Username: req.Username,
			Password: req.Password,
		},
		FPS: req.FPS,
	}
	if err := s.cfg.UpsertCamera(cam); err != nil {
		InternalError(w, err.Error())
		return
	}

	if cam.Enabled {
		if err := s.cameras.Start(r.Context(), cam.ID, cam.Name, cam.Stream.URL, cam.Stream.Username, cam.Stream.Password); err != nil {
			Conflict(w, err.Error())
			return
		}
	}

	Created(w, s.cameraView(cam))
}

// handleGetCamera returns one camera's configuration and live status
func (s *Server) handleGetCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cam := s.cfg.GetCamera(id)
	if cam == nil {
		NotFound(w, "Camera not found")
		return
	}
	OK(w, s.cameraView(*cam))
}

// handleDeleteCamera stops a camera and removes it from the configuration
func (s *Server) handleDeleteCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.cfg.GetCamera(id) == nil {
		NotFound(w, "Camera not found")
		return
	}

	// Stop is best effort; the worker may not be running.
	_ = s.cameras.Stop(id)

	if err := s.cfg.RemoveCamera(id); err != nil {
		InternalError(w, err.Error())
		return
	}
	s.engine.ClearCamera(id)

	NoContent(w)
}

// handleStartCamera starts the camera's processing worker
func (s *Server) handleStartCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cam := s.cfg.GetCamera(id)
	if cam == nil {
		NotFound(w, "Camera not found")
		return
	}

	if err := s.cameras.Start(r.Context(), cam.ID, cam.Name, cam.Stream.URL, cam.Stream.Username, cam.Stream.Password); err != nil {
		Conflict(w, err.Error())
		return
	}

	OK(w, map[string]string{"status": "started"})
}

// handleStopCamera stops the camera's processing worker
func (s *Server) handleStopCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.cameras.Stop(id); err != nil {
		NotFound(w, err.Error())
		return
	}
	OK(w, map[string]string{"status": "stopped"})
}

// handleCameraStatus returns one worker's runtime state
func (s *Server) handleCameraStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, ok := s.cameras.Get(id)
	if !ok {
		if s.cfg.GetCamera(id) == nil {
			NotFound(w, "Camera not found")
			return
		}
		OK(w, camera.Info{ID: id, Status: camera.StatusOffline})
		return
	}
	OK(w, info)
}

// handleStatusAll returns the runtime state of every worker
func (s *Server) handleStatusAll(w http.ResponseWriter, r *http.Request) {
	OK(w, s.cameras.List())
}

// handleFrame serves the latest annotated JPEG snapshot
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	frame, ok := s.cameras.Snapshot(id)
	if !ok {
		NotFound(w, "No frame available")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(frame)
}

// handleDetections returns the detections from the camera's latest frame
func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detections, ok := s.cameras.Detections(id)
	if !ok {
		NotFound(w, "Camera not running")
		return
	}
	OK(w, detections)
}

// handleStream serves the camera's annotated MJPEG stream
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stream, ok := s.cameras.Stream(id)
	if !ok {
		NotFound(w, "Camera not running")
		return
	}
	stream.ServeHTTP(w, r)
}

// handleClearCamera wipes all engine state and stored events for a camera
func (s *Server) handleClearCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.engine.ClearCamera(id)

	deleted, err := s.store.DeleteByCamera(r.Context(), id)
	if err != nil {
		InternalError(w, err.Error())
		return
	}

	OK(w, map[string]interface{}{
		"camera_id":      id,
		"events_deleted": deleted,
	})
}

// handleListZones lists a camera's zones
func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	OK(w, s.engine.ListZones(id))
}

// handleAddZone adds or replaces a zone on a camera
func (s *Server) handleAddZone(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var zone nvr.Zone
	if err := json.NewDecoder(r.Body).Decode(&zone); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}

	if err := s.engine.AddZone(id, zone); err != nil {
		BadRequest(w, err.Error())
		return
	}

	Created(w, zone)
}

// handleRemoveZone removes a named zone from a camera
func (s *Server) handleRemoveZone(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")

	if err := s.engine.RemoveZone(id, name); err != nil {
		if errors.Is(err, nvr.ErrZoneNotFound) {
			NotFound(w, "Zone not found")
			return
		}
		InternalError(w, err.Error())
		return
	}

	NoContent(w)
}

// handleListTracks returns the camera's currently confirmed tracks
func (s *Server) handleListTracks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	OK(w, s.engine.ActiveTracks(id))
}

// handleCameraEvents returns the camera's recent in-memory event history
func (s *Server) handleCameraEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			BadRequest(w, "Invalid limit")
			return
		}
		limit = n
	}

	OK(w, s.engine.EventHistory(id, limit))
}

// handleListStoredEvents queries the persisted event log
func (s *Server) handleListStoredEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	opts := events.ListOptions{
		CameraID: q.Get("camera_id"),
		Type:     nvr.EventType(q.Get("type")),
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			BadRequest(w, "Invalid since timestamp, expected RFC3339")
			return
		}
		opts.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			BadRequest(w, "Invalid until timestamp, expected RFC3339")
			return
		}
		opts.Until = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			BadRequest(w, "Invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			BadRequest(w, "Invalid offset")
			return
		}
		opts.Offset = n
	}

	evs, err := s.store.List(r.Context(), opts)
	if err != nil {
		InternalError(w, err.Error())
		return
	}

	OK(w, evs)
}

// handleStatistics aggregates engine, store and websocket counters
func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Statistics()

	counts, err := s.store.CountByCamera(r.Context())
	if err != nil {
		InternalError(w, err.Error())
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	payload := map[string]interface{}{
		"engine":              stats,
		"stored_events":       counts,
		"stored_events_total": total,
	}
	if s.hub != nil {
		payload["websocket_clients"] = s.hub.ClientCount()
	}

	OK(w, payload)
}
