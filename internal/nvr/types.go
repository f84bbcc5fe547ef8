// Package nvr implements the smart NVR core: per-camera object tracking,
// zone checks, event detection with cooldown suppression, and bounded
// event history.
package nvr

import (
	"time"
)

// Point represents a pixel coordinate on a camera frame.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// BoundingBox represents a detection bounding box in pixel space.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"w"`
	Height int `json:"h"`
}

// Center returns the center point of the bounding box.
func (b BoundingBox) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Area returns the area of the bounding box in pixels.
func (b BoundingBox) Area() int {
	return b.Width * b.Height
}

// Detection represents a single object detection for one frame. Detections
// are ephemeral; the tracker turns them into persistent tracks.
type Detection struct {
	ObjectType  string      `json:"object_type"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"bounding_box"`
}

// Center returns the detection's centroid.
func (d Detection) Center() Point {
	return d.BoundingBox.Center()
}

// Valid reports whether the detection carries a usable bounding box.
// Malformed detections are skipped per-detection, never fatal.
func (d Detection) Valid() bool {
	return d.ObjectType != "" && d.BoundingBox.Width > 0 && d.BoundingBox.Height > 0
}

// Track is a persisted identity for one physical object across frames.
type Track struct {
	TrackID     string      `json:"track_id"`
	ObjectType  string      `json:"object_type"`
	Center      Point       `json:"center"`
	BoundingBox BoundingBox `json:"bounding_box"`
	Confidence  float64     `json:"confidence"`
	Age         int         `json:"age"`
	Hits        int         `json:"hits"`
	Matched     bool        `json:"matched"`
	FirstSeen   time.Time   `json:"first_seen"`
	LastSeen    time.Time   `json:"last_seen"`
	Path        []Point     `json:"path"`
}

// Confirmed reports whether the track has accumulated enough matches to be
// treated as a real object rather than detector noise.
func (t *Track) Confirmed(minHits int) bool {
	return t.Hits >= minHits
}

// clone returns a deep copy safe to hand to callers outside the engine lock.
func (t *Track) clone() Track {
	c := *t
	c.Path = make([]Point, len(t.Path))
	copy(c.Path, t.Path)
	return c
}

// ZoneType represents the geometric kind of a detection zone.
type ZoneType string

const (
	ZoneRectangle ZoneType = "rectangle"
	ZonePolygon   ZoneType = "polygon"
)

// Zone represents a user-defined region on a camera's field of view.
// Rectangle zones use Rect; polygon zones use Points.
type Zone struct {
	Name       string    `json:"name"`
	Type       ZoneType  `json:"type"`
	Rect       Rectangle `json:"rect,omitempty"`
	Points     []Point   `json:"points,omitempty"`
	Restricted bool      `json:"restricted"`
	CreatedAt  time.Time `json:"created_at"`
}

// Rectangle holds inclusive corner coordinates (x1,y1)-(x2,y2).
type Rectangle struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// EventType represents the kind of a detected event.
type EventType string

const (
	EventObjectDetected EventType = "object_detected"
	EventZoneViolation  EventType = "zone_violation"
	EventLoitering      EventType = "loitering_detected"
)

// Event represents a semantically meaningful occurrence derived from
// detections and tracks. Events are immutable once created.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	CameraID   string    `json:"camera_id"`
	ObjectType string    `json:"object_type,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	TrackID    string    `json:"track_id,omitempty"`
	ZoneName   string    `json:"zone_name,omitempty"`
	Location   Point     `json:"location"`
	Duration   float64   `json:"duration,omitempty"` // seconds, loitering only
	Timestamp  time.Time `json:"timestamp"`
	RecordedAt time.Time `json:"recorded_at,omitempty"`
}

// Config holds the tunable parameters of the NVR core. Zero values are
// replaced with the built-in defaults by Normalize.
type Config struct {
	// MaxTrackAge is the number of frames a track survives without a match.
	MaxTrackAge int `yaml:"max_track_age" json:"max_track_age"`
	// MinTrackHits is the number of matches before a track is confirmed.
	MinTrackHits int `yaml:"min_track_hits" json:"min_track_hits"`
	// DistanceThreshold is the maximum centroid distance in pixels for a
	// detection to match an existing track.
	DistanceThreshold float64 `yaml:"distance_threshold_px" json:"distance_threshold_px"`
	// MaxPathPoints caps the retained track trail length.
	MaxPathPoints int `yaml:"path_points" json:"path_points"`
	// LoiterSeconds is how long a track may stay in view before a
	// loitering event fires.
	LoiterSeconds float64 `yaml:"loiter_seconds" json:"loiter_seconds"`
	// CooldownSeconds is the minimum interval between repeated alerts of
	// the same (camera, type, object type).
	CooldownSeconds float64 `yaml:"cooldown_seconds" json:"cooldown_seconds"`
	// MaxEventsPerCamera bounds the in-memory event history.
	MaxEventsPerCamera int `yaml:"max_events_per_camera" json:"max_events_per_camera"`
}

// DefaultConfig returns the built-in parameter set.
func DefaultConfig() Config {
	return Config{
		MaxTrackAge:        30,
		MinTrackHits:       3,
		DistanceThreshold:  100,
		MaxPathPoints:      50,
		LoiterSeconds:      30,
		CooldownSeconds:    30,
		MaxEventsPerCamera: 100,
	}
}

// Normalize fills unset fields with the built-in defaults.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.MaxTrackAge <= 0 {
		c.MaxTrackAge = def.MaxTrackAge
	}
	if c.MinTrackHits <= 0 {
		c.MinTrackHits = def.MinTrackHits
	}
	if c.DistanceThreshold <= 0 {
		c.DistanceThreshold = def.DistanceThreshold
	}
	if c.MaxPathPoints < 10 {
		c.MaxPathPoints = def.MaxPathPoints
	}
	if c.LoiterSeconds <= 0 {
		c.LoiterSeconds = def.LoiterSeconds
	}
	if c.CooldownSeconds <= 0 {
		c.CooldownSeconds = def.CooldownSeconds
	}
	if c.MaxEventsPerCamera <= 0 {
		c.MaxEventsPerCamera = def.MaxEventsPerCamera
	}
}
