package nvr

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// detectEvents runs the three per-frame checks and concatenates their
// results. It must run after the tracker update for the same frame so the
// confirmation check reads fresh hit counts.
func detectEvents(cfg Config, cameraID string, detections []Detection, tracks []Track, zones []Zone, now time.Time) []Event {
	var events []Event

	// Zone violations work off raw detections, so they report every frame
	// an object occupies a restricted zone. The cooldown filter is what
	// keeps that from becoming an alert storm.
	for _, zone := range zones {
		if !zone.Restricted {
			continue
		}
		for _, det := range detections {
			if !det.Valid() {
				continue
			}
			if PointInZone(det.Center(), zone) {
				events = append(events, Event{
					ID:         uuid.New().String(),
					Type:       EventZoneViolation,
					CameraID:   cameraID,
					ObjectType: det.ObjectType,
					Confidence: det.Confidence,
					ZoneName:   zone.Name,
					Location:   det.Center(),
					Timestamp:  now,
				})
			}
		}
	}

	// New objects: exactly the frame a track reaches the confirmation
	// threshold, so a track can never double-fire.
	for i := range tracks {
		tr := &tracks[i]
		if tr.Hits == cfg.MinTrackHits {
			events = append(events, Event{
				ID:         uuid.New().String(),
				Type:       EventObjectDetected,
				CameraID:   cameraID,
				ObjectType: tr.ObjectType,
				Confidence: tr.Confidence,
				TrackID:    tr.TrackID,
				Location:   tr.Center,
				Timestamp:  now,
			})
		}
	}

	// Loitering re-fires every frame past the threshold; suppression is
	// entirely the cooldown filter's job, keyed per (camera, type,
	// object type) rather than per track.
	for i := range tracks {
		tr := &tracks[i]
		duration := now.Sub(tr.FirstSeen).Seconds()
		if duration > cfg.LoiterSeconds {
			events = append(events, Event{
				ID:         uuid.New().String(),
				Type:       EventLoitering,
				CameraID:   cameraID,
				ObjectType: tr.ObjectType,
				TrackID:    tr.TrackID,
				Location:   tr.Center,
				Duration:   duration,
				Timestamp:  now,
			})
		}
	}

	return events
}

// cooldownTable deduplicates events per (camera, type, object type) within a
// time window. Entries are created lazily and live until camera teardown.
type cooldownTable struct {
	window time.Duration
	last   map[string]time.Time
}

func newCooldownTable(window time.Duration) *cooldownTable {
	return &cooldownTable{
		window: window,
		last:   make(map[string]time.Time),
	}
}

// Filter returns the events that pass the cooldown window, recording their
// acceptance time. Rejected events are dropped silently; suppression is the
// normal path here, not a failure.
func (ct *cooldownTable) Filter(events []Event, now time.Time) []Event {
	var accepted []Event
	for _, ev := range events {
		key := cooldownKey(ev)
		last, seen := ct.last[key]
		if !seen || now.Sub(last) > ct.window {
			ct.last[key] = now
			accepted = append(accepted, ev)
		}
	}
	return accepted
}

func cooldownKey(ev Event) string {
	return fmt.Sprintf("%s_%s_%s", ev.CameraID, ev.Type, ev.ObjectType)
}

// history is a bounded per-camera append-only event log. Oldest entries are
// evicted first once the bound is reached.
type history struct {
	max    int
	events []Event
}

func newHistory(max int) *history {
	return &history{max: max}
}

// Record appends events, tagging each with the recording time.
func (h *history) Record(events []Event, now time.Time) {
	for _, ev := range events {
		ev.RecordedAt = now
		h.events = append(h.events, ev)
		if len(h.events) > h.max {
			h.events = h.events[1:]
		}
	}
}

// Recent returns up to limit of the most recent events in insertion order.
func (h *history) Recent(limit int) []Event {
	if limit <= 0 || limit > len(h.events) {
		limit = len(h.events)
	}
	out := make([]Event, limit)
	copy(out, h.events[len(h.events)-limit:])
	return out
}

// Len returns the number of retained events.
func (h *history) Len() int {
	return len(h.events)
}
