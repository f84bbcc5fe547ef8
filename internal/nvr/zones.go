package nvr

import (
	"fmt"
	"time"
)

// ErrZoneNotFound is returned when removing a zone that does not exist.
var ErrZoneNotFound = fmt.Errorf("zone not found")

// ZoneSet holds the zones of a single camera. It is not safe for concurrent
// use; the engine serializes access per camera.
type ZoneSet struct {
	zones []Zone
}

// Add registers a zone. Polygon zones need at least 3 points; a malformed
// polygon is rejected here rather than discovered during containment tests.
// A zone with the same name replaces the existing one.
func (zs *ZoneSet) Add(zone Zone) error {
	if zone.Name == "" {
		return fmt.Errorf("zone name is required")
	}
	switch zone.Type {
	case ZoneRectangle:
	case ZonePolygon:
		if len(zone.Points) < 3 {
			return fmt.Errorf("polygon zone %q needs at least 3 points, got %d", zone.Name, len(zone.Points))
		}
	default:
		return fmt.Errorf("unknown zone type %q", zone.Type)
	}

	if zone.CreatedAt.IsZero() {
		zone.CreatedAt = time.Now()
	}

	for i := range zs.zones {
		if zs.zones[i].Name == zone.Name {
			zs.zones[i] = zone
			return nil
		}
	}
	zs.zones = append(zs.zones, zone)
	return nil
}

// Remove deletes a zone by name. Removing a nonexistent zone returns
// ErrZoneNotFound rather than failing loudly.
func (zs *ZoneSet) Remove(name string) error {
	for i := range zs.zones {
		if zs.zones[i].Name == name {
			zs.zones = append(zs.zones[:i], zs.zones[i+1:]...)
			return nil
		}
	}
	return ErrZoneNotFound
}

// List returns a copy of all zones.
func (zs *ZoneSet) List() []Zone {
	out := make([]Zone, len(zs.zones))
	copy(out, zs.zones)
	return out
}

// Len returns the number of zones.
func (zs *ZoneSet) Len() int {
	return len(zs.zones)
}

// PointInZone reports whether a point lies inside a zone. Rectangle bounds
// are inclusive; polygon boundaries count as inside.
func PointInZone(p Point, zone Zone) bool {
	switch zone.Type {
	case ZoneRectangle:
		r := zone.Rect
		return p.X >= r.X1 && p.X <= r.X2 && p.Y >= r.Y1 && p.Y <= r.Y2
	case ZonePolygon:
		return pointInPolygon(p, zone.Points)
	}
	return false
}

// pointInPolygon is a ray-casting containment test with an explicit edge
// check so boundary points are treated as inside.
func pointInPolygon(p Point, poly []Point) bool {
	n := len(poly)
	if n < 3 {
		return false
	}

	for i := 0; i < n; i++ {
		if onSegment(p, poly[i], poly[(i+1)%n]) {
			return true
		}
	}

	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		xi, yi := float64(poly[i].X), float64(poly[i].Y)
		xj, yj := float64(poly[j].X), float64(poly[j].Y)
		px, py := float64(p.X), float64(p.Y)

		if (yi > py) != (yj > py) && px < (xj-xi)*(py-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}

// onSegment reports whether p lies on the segment a-b.
func onSegment(p, a, b Point) bool {
	cross := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
	if cross != 0 {
		return false
	}
	return p.X >= min(a.X, b.X) && p.X <= max(a.X, b.X) &&
		p.Y >= min(a.Y, b.Y) && p.Y <= max(a.Y, b.Y)
}
