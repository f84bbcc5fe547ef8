package nvr

import (
	"image"
	"image/color"
)

// Overlay palette. Restricted zones draw red, informational zones yellow,
// high-confidence detections green, uncertain ones yellow, tracks blue.
var (
	colorRestricted = color.RGBA{R: 220, G: 40, B: 40, A: 255}
	colorZone       = color.RGBA{R: 230, G: 220, B: 40, A: 255}
	colorConfident  = color.RGBA{R: 40, G: 200, B: 40, A: 255}
	colorUncertain  = color.RGBA{R: 230, G: 220, B: 40, A: 255}
	colorTrack      = color.RGBA{R: 60, G: 90, B: 230, A: 255}
)

const overlayTrailPoints = 10

// DrawOverlays renders zones, detection boxes and confirmed-track trails
// onto the frame. The frame is mutated in place; the tracking and event
// logic never inspects pixel content.
func DrawOverlays(frame *image.RGBA, detections []Detection, tracks []Track, zones []Zone) {
	if frame == nil {
		return
	}

	for _, zone := range zones {
		drawZone(frame, zone)
	}

	for _, det := range detections {
		if !det.Valid() {
			continue
		}
		c := colorUncertain
		if det.Confidence > 0.8 {
			c = colorConfident
		}
		b := det.BoundingBox
		drawRect(frame, b.X, b.Y, b.X+b.Width, b.Y+b.Height, c, 2)
	}

	for i := range tracks {
		tr := &tracks[i]
		drawDot(frame, tr.Center, 4, colorTrack)

		trail := tr.Path
		if len(trail) > overlayTrailPoints {
			trail = trail[len(trail)-overlayTrailPoints:]
		}
		for j := 1; j < len(trail); j++ {
			drawLine(frame, trail[j-1], trail[j], colorTrack)
		}
	}
}

func drawZone(frame *image.RGBA, zone Zone) {
	c := colorZone
	if zone.Restricted {
		c = colorRestricted
	}

	switch zone.Type {
	case ZoneRectangle:
		r := zone.Rect
		drawRect(frame, r.X1, r.Y1, r.X2, r.Y2, c, 2)
	case ZonePolygon:
		n := len(zone.Points)
		for i := 0; i < n; i++ {
			drawLine(frame, zone.Points[i], zone.Points[(i+1)%n], c)
		}
	}
}

// drawRect draws an axis-aligned rectangle outline with the given stroke
// thickness, clipped to the frame bounds.
func drawRect(frame *image.RGBA, x1, y1, x2, y2 int, c color.RGBA, thickness int) {
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}
	for t := 0; t < thickness; t++ {
		drawHLine(frame, x1, x2, y1+t, c)
		drawHLine(frame, x1, x2, y2-t, c)
		drawVLine(frame, x1+t, y1, y2, c)
		drawVLine(frame, x2-t, y1, y2, c)
	}
}

// drawHLine and drawVLine clamp their spans to the frame before iterating.
// Zone geometry is accepted as-is at registration, so coordinates may be
// arbitrarily far outside the frame.
func drawHLine(frame *image.RGBA, x1, x2, y int, c color.RGBA) {
	b := frame.Bounds()
	if y < b.Min.Y || y >= b.Max.Y {
		return
	}
	x1 = max(x1, b.Min.X)
	x2 = min(x2, b.Max.X-1)
	for x := x1; x <= x2; x++ {
		frame.SetRGBA(x, y, c)
	}
}

func drawVLine(frame *image.RGBA, x, y1, y2 int, c color.RGBA) {
	b := frame.Bounds()
	if x < b.Min.X || x >= b.Max.X {
		return
	}
	y1 = max(y1, b.Min.Y)
	y2 = min(y2, b.Max.Y-1)
	for y := y1; y <= y2; y++ {
		frame.SetRGBA(x, y, c)
	}
}

// drawLine draws a line segment using Bresenham's algorithm. Segments whose
// bounding box misses the frame entirely are skipped rather than walked.
func drawLine(frame *image.RGBA, a, b Point, c color.RGBA) {
	span := image.Rect(min(a.X, b.X), min(a.Y, b.Y), max(a.X, b.X)+1, max(a.Y, b.Y)+1)
	if !span.Overlaps(frame.Bounds()) {
		return
	}

	dx := absInt(b.X - a.X)
	dy := -absInt(b.Y - a.Y)
	sx := 1
	if a.X > b.X {
		sx = -1
	}
	sy := 1
	if a.Y > b.Y {
		sy = -1
	}
	err := dx + dy

	x, y := a.X, a.Y
	for {
		setPixel(frame, x, y, c)
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

// drawDot fills a small square centered on p.
func drawDot(frame *image.RGBA, p Point, radius int, c color.RGBA) {
	for y := p.Y - radius; y <= p.Y+radius; y++ {
		drawHLine(frame, p.X-radius, p.X+radius, y, c)
	}
}

func setPixel(frame *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{X: x, Y: y}).In(frame.Bounds()) {
		frame.SetRGBA(x, y, c)
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
