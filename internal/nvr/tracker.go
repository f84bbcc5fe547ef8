package nvr

import (
	"fmt"
	"math"
	"time"
)

// Tracker maintains the active tracks for a single camera. It is not safe
// for concurrent use; the engine serializes access per camera.
type Tracker struct {
	cameraID string
	cfg      Config
	tracks   []*Track
	seq      uint64
}

// NewTracker creates a tracker for one camera.
func NewTracker(cameraID string, cfg Config) *Tracker {
	cfg.Normalize()
	return &Tracker{
		cameraID: cameraID,
		cfg:      cfg,
	}
}

// Update runs one frame of greedy nearest-neighbor association and returns
// the confirmed tracks that survived this frame.
//
// Assignment is a single greedy pass per detection, not an optimal bipartite
// matching: under crossing trajectories a detection may claim a suboptimal
// track. This is the intended behavior, not something to correct here.
func (t *Tracker) Update(detections []Detection, now time.Time) []Track {
	// Age every track and clear the per-frame match flag.
	for _, tr := range t.tracks {
		tr.Age++
		tr.Matched = false
	}

	for _, det := range detections {
		if !det.Valid() {
			continue
		}

		center := det.Center()
		var best *Track
		bestDist := math.Inf(1)

		for _, tr := range t.tracks {
			if tr.ObjectType != det.ObjectType {
				continue
			}
			dist := distance(tr.Center, center)
			if dist < t.cfg.DistanceThreshold && dist < bestDist {
				bestDist = dist
				best = tr
			}
		}

		if best != nil {
			best.Center = center
			best.BoundingBox = det.BoundingBox
			best.Confidence = det.Confidence
			best.Age = 0
			best.Hits++
			best.Matched = true
			best.LastSeen = now
			best.Path = appendPath(best.Path, center, t.cfg.MaxPathPoints)
		} else {
			t.seq++
			t.tracks = append(t.tracks, &Track{
				TrackID:     fmt.Sprintf("%s_%d_%d", t.cameraID, now.UnixNano(), t.seq),
				ObjectType:  det.ObjectType,
				Center:      center,
				BoundingBox: det.BoundingBox,
				Confidence:  det.Confidence,
				Age:         0,
				Hits:        1,
				Matched:     true,
				FirstSeen:   now,
				LastSeen:    now,
				Path:        []Point{center},
			})
		}
	}

	// Retention pass: a track survives iff it was matched this frame or is
	// still within the age budget.
	kept := t.tracks[:0]
	for _, tr := range t.tracks {
		if tr.Matched || tr.Age < t.cfg.MaxTrackAge {
			kept = append(kept, tr)
		}
	}
	for i := len(kept); i < len(t.tracks); i++ {
		t.tracks[i] = nil
	}
	t.tracks = kept

	return t.Confirmed()
}

// Confirmed returns copies of all confirmed tracks.
func (t *Tracker) Confirmed() []Track {
	out := make([]Track, 0, len(t.tracks))
	for _, tr := range t.tracks {
		if tr.Confirmed(t.cfg.MinTrackHits) {
			out = append(out, tr.clone())
		}
	}
	return out
}

// Len returns the number of live tracks, confirmed or not.
func (t *Tracker) Len() int {
	return len(t.tracks)
}

func distance(a, b Point) float64 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

func appendPath(path []Point, p Point, limit int) []Point {
	path = append(path, p)
	if len(path) > limit {
		path = path[len(path)-limit:]
	}
	return path
}
