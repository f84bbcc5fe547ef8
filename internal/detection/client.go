// Package detection talks to the external AI detection service over HTTP
// and converts its responses into pipeline detections.
package detection

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/home-vision-ai/homevision/internal/nvr"
)

// Client is an HTTP client for the detection service
type Client struct {
	mu         sync.RWMutex
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger

	minConfidence float64
	objectTypes   map[string]bool // empty means all types pass

	// Stats
	requestCount int64
	errorCount   int64
	totalLatency time.Duration
}

// ClientConfig holds client configuration
type ClientConfig struct {
	// BaseURL of the detection service, e.g. http://localhost:8500
	BaseURL string
	Timeout time.Duration
	// MinConfidence drops detections below this threshold client-side
	MinConfidence float64
	// ObjectTypes restricts accepted object classes; empty accepts all
	ObjectTypes []string
}

// NewClient creates a new detection service client
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("detection service URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	types := make(map[string]bool, len(cfg.ObjectTypes))
	for _, t := range cfg.ObjectTypes {
		types[t] = true
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:       cfg.BaseURL,
		minConfidence: cfg.MinConfidence,
		objectTypes:   types,
		logger:        slog.Default().With("component", "detection_client"),
	}, nil
}

// Detect sends a JPEG frame for detection and returns the detections that
// pass the confidence and object type filters.
func (c *Client) Detect(ctx context.Context, cameraID string, jpegFrame []byte) ([]nvr.Detection, error) {
	c.mu.Lock()
	c.requestCount++
	c.mu.Unlock()

	start := time.Now()

	body := map[string]interface{}{
		"camera_id":      cameraID,
		"min_confidence": c.minConfidence,
	}
	if len(jpegFrame) > 0 {
		body["image_data"] = base64.StdEncoding.EncodeToString(jpegFrame)
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		c.recordError()
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/detect", bytes.NewReader(jsonBody))
	if err != nil {
		c.recordError()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.recordError()
		return nil, fmt.Errorf("detection request failed: %w", err)
	}
	defer resp.Body.Close()

	latency := time.Since(start)

	c.mu.Lock()
	c.totalLatency += latency
	c.mu.Unlock()

	if resp.StatusCode != http.StatusOK {
		c.recordError()
		return nil, fmt.Errorf("detection service returned status %d", resp.StatusCode)
	}

	var result struct {
		Success    bool   `json:"success"`
		Error      string `json:"error"`
		Detections []struct {
			ObjectType string  `json:"object_type"`
			Confidence float64 `json:"confidence"`
			BBox       struct {
				X      int `json:"x"`
				Y      int `json:"y"`
				Width  int `json:"width"`
				Height int `json:"height"`
			} `json:"bbox"`
		} `json:"detections"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.recordError()
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if !result.Success && result.Error != "" {
		c.recordError()
		return nil, fmt.Errorf("detection failed: %s", result.Error)
	}

	detections := make([]nvr.Detection, 0, len(result.Detections))
	for _, d := range result.Detections {
		if d.Confidence < c.minConfidence {
			continue
		}
		if len(c.objectTypes) > 0 && !c.objectTypes[d.ObjectType] {
			continue
		}
		detections = append(detections, nvr.Detection{
			ObjectType: d.ObjectType,
			Confidence: d.Confidence,
			BoundingBox: nvr.BoundingBox{
				X:      d.BBox.X,
				Y:      d.BBox.Y,
				Width:  d.BBox.Width,
				Height: d.BBox.Height,
			},
		})
	}

	return detections, nil
}

// Healthy reports whether the detection service answers its status endpoint
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/status", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// Stats returns client statistics
func (c *Client) Stats() (requests int64, errors int64, avgLatency time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	requests = c.requestCount
	errors = c.errorCount
	if requests > 0 {
		avgLatency = c.totalLatency / time.Duration(requests)
	}
	return
}

func (c *Client) recordError() {
	c.mu.Lock()
	c.errorCount++
	c.mu.Unlock()
}
