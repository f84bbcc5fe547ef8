package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"io"
	"net/http"
	"time"
)

// FrameSource produces frames from a camera stream
type FrameSource interface {
	// Grab returns the next frame. It blocks until a frame is available,
	// the context is cancelled, or the source fails.
	Grab(ctx context.Context) (*image.RGBA, error)
	Close() error
}

// SourceFactory builds a frame source for a camera. Tests substitute
// synthetic sources here.
type SourceFactory func(id, url, username, password string) (FrameSource, error)

// SnapshotSource polls a camera's HTTP snapshot endpoint for JPEG frames
type SnapshotSource struct {
	url      string
	username string
	password string
	client   *http.Client
}

// NewSnapshotSource creates a source that fetches JPEG snapshots over HTTP
func NewSnapshotSource(url, username, password string) (*SnapshotSource, error) {
	if url == "" {
		return nil, fmt.Errorf("snapshot URL is required")
	}
	return &SnapshotSource{
		url:      url,
		username: username,
		password: password,
		client:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Grab fetches and decodes one snapshot
func (s *SnapshotSource) Grab(ctx context.Context) (*image.RGBA, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.url, nil)
	if err != nil {
		return nil, err
	}
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	return toRGBA(img), nil
}

// Close releases the source
func (s *SnapshotSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// DefaultSourceFactory builds snapshot sources from camera stream settings
func DefaultSourceFactory(id, url, username, password string) (FrameSource, error) {
	return NewSnapshotSource(url, username, password)
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

func encodeJPEG(frame *image.RGBA) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
