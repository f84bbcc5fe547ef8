// Package camera runs the per-camera processing workers: grab a frame,
// run detection, feed the tracking pipeline and publish the annotated
// stream.
package camera

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/hybridgroup/mjpeg"

	"github.com/home-vision-ai/homevision/internal/nvr"
)

// Status represents a camera worker's state
type Status string

const (
	StatusOnline   Status = "online"
	StatusOffline  Status = "offline"
	StatusError    Status = "error"
	StatusStarting Status = "starting"
)

// Detector runs object detection on a JPEG frame
type Detector interface {
	Detect(ctx context.Context, cameraID string, jpegFrame []byte) ([]nvr.Detection, error)
}

// Info describes a camera worker's current state
type Info struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Status        Status     `json:"status"`
	LastFrame     *time.Time `json:"last_frame,omitempty"`
	FramesTotal   int64      `json:"frames_total"`
	FramesDropped int64      `json:"frames_dropped"`
	LatencyMillis float64    `json:"latency_ms"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
}

// Lifecycle receives worker start, stop and error notifications
type Lifecycle interface {
	PublishCameraStarted(cameraID string) error
	PublishCameraStopped(cameraID string) error
	PublishCameraError(cameraID string, err error) error
}

// Service manages camera workers
type Service struct {
	engine    *nvr.Engine
	detector  Detector
	factory   SourceFactory
	lifecycle Lifecycle
	interval  time.Duration
	logger    *slog.Logger

	mu      sync.RWMutex
	workers map[string]*worker
}

// ServiceConfig holds camera service configuration
type ServiceConfig struct {
	// Interval between processed frames
	Interval time.Duration
	// Factory builds frame sources; defaults to HTTP snapshot polling
	Factory SourceFactory
	// Lifecycle is optional
	Lifecycle Lifecycle
}

// worker drives one camera's processing loop
type worker struct {
	id     string
	name   string
	source FrameSource
	stream *mjpeg.Stream
	cancel context.CancelFunc
	done   chan struct{}

	mu            sync.RWMutex
	status        Status
	lastFrame     time.Time
	framesTotal   int64
	framesDropped int64
	errorMessage  string
	startedAt     time.Time

	// Latest pipeline outputs, served by the snapshot and detections
	// endpoints. Latencies is a ring of the last 10 frame durations.
	lastJPEG       []byte
	lastDetections []nvr.Detection
	latencies      []time.Duration
}

// NewService creates a new camera service
func NewService(engine *nvr.Engine, detector Detector, cfg ServiceConfig) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.Factory == nil {
		cfg.Factory = DefaultSourceFactory
	}
	return &Service{
		engine:    engine,
		detector:  detector,
		factory:   cfg.Factory,
		lifecycle: cfg.Lifecycle,
		interval:  cfg.Interval,
		logger:    slog.Default().With("component", "camera-service"),
		workers:   make(map[string]*worker),
	}
}

// Start launches a worker for the camera. Starting an already running
// camera is an error.
func (s *Service) Start(ctx context.Context, id, name, url, username, password string) error {
	s.mu.Lock()
	if _, ok := s.workers[id]; ok {
		s.mu.Unlock()
		return fmt.Errorf("camera already running: %s", id)
	}

	source, err := s.factory(id, url, username, password)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to open stream for %s: %w", id, err)
	}

	wctx, cancel := context.WithCancel(ctx)
	w := &worker{
		id:        id,
		name:      name,
		source:    source,
		stream:    mjpeg.NewStream(),
		cancel:    cancel,
		done:      make(chan struct{}),
		status:    StatusStarting,
		startedAt: time.Now(),
	}
	s.workers[id] = w
	s.mu.Unlock()

	go s.run(wctx, w)

	s.logger.Info("Camera started", "camera_id", id, "name", name)
	if s.lifecycle != nil {
		_ = s.lifecycle.PublishCameraStarted(id)
	}
	return nil
}

// Stop stops a camera worker and waits for its loop to exit
func (s *Service) Stop(id string) error {
	s.mu.Lock()
	w, ok := s.workers[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("camera not running: %s", id)
	}
	delete(s.workers, id)
	s.mu.Unlock()

	w.cancel()
	<-w.done
	_ = w.source.Close()

	s.logger.Info("Camera stopped", "camera_id", id)
	if s.lifecycle != nil {
		_ = s.lifecycle.PublishCameraStopped(id)
	}
	return nil
}

// StopAll stops every running worker
func (s *Service) StopAll() {
	s.mu.RLock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		_ = s.Stop(id)
	}
}

// List returns the state of all workers
func (s *Service) List() []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]Info, 0, len(s.workers))
	for _, w := range s.workers {
		infos = append(infos, w.info())
	}
	return infos
}

// Get returns the state of one worker
func (s *Service) Get(id string) (Info, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.workers[id]
	if !ok {
		return Info{}, false
	}
	return w.info(), true
}

// Snapshot returns the most recent annotated JPEG frame
func (s *Service) Snapshot(id string) ([]byte, bool) {
	s.mu.RLock()
	w, ok := s.workers[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.lastJPEG == nil {
		return nil, false
	}
	return append([]byte(nil), w.lastJPEG...), true
}

// Detections returns the detections from the camera's most recent frame
func (s *Service) Detections(id string) ([]nvr.Detection, bool) {
	s.mu.RLock()
	w, ok := s.workers[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]nvr.Detection(nil), w.lastDetections...), true
}

// Stream returns the camera's annotated MJPEG stream handler
func (s *Service) Stream(id string) (*mjpeg.Stream, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.workers[id]
	if !ok {
		return nil, false
	}
	return w.stream, true
}

// run is the worker loop: one frame per tick through the full pipeline
func (s *Service) run(ctx context.Context, w *worker) {
	defer close(w.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.setStatus(StatusOffline, "")
			return
		case <-ticker.C:
			s.processFrame(ctx, w)
		}
	}
}

func (s *Service) processFrame(ctx context.Context, w *worker) {
	start := time.Now()

	frame, err := w.source.Grab(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.recordDrop()
		w.setStatus(StatusError, err.Error())
		s.logger.Warn("Frame grab failed", "camera_id", w.id, "error", err)
		if s.lifecycle != nil {
			_ = s.lifecycle.PublishCameraError(w.id, err)
		}
		return
	}

	jpegFrame, err := encodeJPEG(frame)
	if err != nil {
		w.recordDrop()
		s.logger.Warn("Frame encode failed", "camera_id", w.id, "error", err)
		return
	}

	detections, err := s.detector.Detect(ctx, w.id, jpegFrame)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.recordDrop()
		w.setStatus(StatusError, err.Error())
		s.logger.Warn("Detection failed", "camera_id", w.id, "error", err)
		return
	}

	result := s.engine.Process(w.id, frame, detections, time.Now())

	w.recordFrame(detections, time.Since(start))
	w.setStatus(StatusOnline, "")

	s.publishAnnotated(w, frame)

	if len(result.Events) > 0 {
		s.logger.Info("Events detected",
			"camera_id", w.id, "events", len(result.Events), "tracks", len(result.Tracks))
	}
}

// publishAnnotated pushes the overlay-annotated frame to the MJPEG stream
// and caches it for the snapshot endpoint
func (s *Service) publishAnnotated(w *worker, frame *image.RGBA) {
	annotated, err := encodeJPEG(frame)
	if err != nil {
		return
	}

	w.mu.Lock()
	w.lastJPEG = annotated
	w.mu.Unlock()

	w.stream.UpdateJPEG(annotated)
}

func (w *worker) info() Info {
	w.mu.RLock()
	defer w.mu.RUnlock()

	info := Info{
		ID:            w.id,
		Name:          w.name,
		Status:        w.status,
		FramesTotal:   w.framesTotal,
		FramesDropped: w.framesDropped,
		ErrorMessage:  w.errorMessage,
	}
	if len(w.latencies) > 0 {
		var sum time.Duration
		for _, d := range w.latencies {
			sum += d
		}
		info.LatencyMillis = float64(sum.Milliseconds()) / float64(len(w.latencies))
	}
	if !w.lastFrame.IsZero() {
		t := w.lastFrame
		info.LastFrame = &t
	}
	if !w.startedAt.IsZero() {
		t := w.startedAt
		info.StartedAt = &t
	}
	return info
}

func (w *worker) setStatus(status Status, errMsg string) {
	w.mu.Lock()
	w.status = status
	w.errorMessage = errMsg
	w.mu.Unlock()
}

func (w *worker) recordFrame(detections []nvr.Detection, latency time.Duration) {
	w.mu.Lock()
	w.framesTotal++
	w.lastFrame = time.Now()
	w.lastDetections = detections
	w.latencies = append(w.latencies, latency)
	if len(w.latencies) > 10 {
		w.latencies = w.latencies[1:]
	}
	w.mu.Unlock()
}

func (w *worker) recordDrop() {
	w.mu.Lock()
	w.framesDropped++
	w.mu.Unlock()
}
