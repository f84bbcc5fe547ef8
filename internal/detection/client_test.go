package detection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func detectionServer(t *testing.T, response interface{}) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/detect":
			if r.Method != http.MethodPost {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(response)
		case "/status":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDetect(t *testing.T) {
	srv := detectionServer(t, map[string]interface{}{
		"success": true,
		"detections": []map[string]interface{}{
			{
				"object_type": "person",
				"confidence":  0.92,
				"bbox":        map[string]int{"x": 10, "y": 20, "width": 50, "height": 80},
			},
			{
				"object_type": "cat",
				"confidence":  0.75,
				"bbox":        map[string]int{"x": 100, "y": 120, "width": 40, "height": 30},
			},
		},
	})

	client, err := NewClient(ClientConfig{BaseURL: srv.URL, MinConfidence: 0.5})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	detections, err := client.Detect(context.Background(), "cam-1", []byte{0xFF, 0xD8})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(detections) != 2 {
		t.Fatalf("Expected 2 detections, got %d", len(detections))
	}
	if detections[0].ObjectType != "person" || detections[0].Confidence != 0.92 {
		t.Errorf("Unexpected detection: %+v", detections[0])
	}
	if detections[0].BoundingBox.X != 10 || detections[0].BoundingBox.Height != 80 {
		t.Errorf("Unexpected bounding box: %+v", detections[0].BoundingBox)
	}
}

func TestDetectFiltersByConfidence(t *testing.T) {
	srv := detectionServer(t, map[string]interface{}{
		"success": true,
		"detections": []map[string]interface{}{
			{"object_type": "person", "confidence": 0.9, "bbox": map[string]int{"x": 0, "y": 0, "width": 10, "height": 10}},
			{"object_type": "person", "confidence": 0.3, "bbox": map[string]int{"x": 0, "y": 0, "width": 10, "height": 10}},
		},
	})

	client, err := NewClient(ClientConfig{BaseURL: srv.URL, MinConfidence: 0.5})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	detections, err := client.Detect(context.Background(), "cam-1", nil)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(detections) != 1 {
		t.Errorf("Expected low-confidence detection to be dropped, got %d detections", len(detections))
	}
}

func TestDetectFiltersByObjectType(t *testing.T) {
	srv := detectionServer(t, map[string]interface{}{
		"success": true,
		"detections": []map[string]interface{}{
			{"object_type": "person", "confidence": 0.9, "bbox": map[string]int{"x": 0, "y": 0, "width": 10, "height": 10}},
			{"object_type": "umbrella", "confidence": 0.9, "bbox": map[string]int{"x": 0, "y": 0, "width": 10, "height": 10}},
		},
	})

	client, err := NewClient(ClientConfig{
		BaseURL:     srv.URL,
		ObjectTypes: []string{"person", "car", "cat", "dog"},
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	detections, err := client.Detect(context.Background(), "cam-1", nil)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(detections) != 1 || detections[0].ObjectType != "person" {
		t.Errorf("Expected only person detection, got %+v", detections)
	}
}

func TestDetectServiceError(t *testing.T) {
	srv := detectionServer(t, map[string]interface{}{
		"success": false,
		"error":   "model not loaded",
	})

	client, err := NewClient(ClientConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.Detect(context.Background(), "cam-1", nil)
	if err == nil {
		t.Error("Expected error from failing detection service")
	}
}

func TestDetectHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := client.Detect(context.Background(), "cam-1", nil); err == nil {
		t.Error("Expected error for non-200 response")
	}

	requests, errors, _ := client.Stats()
	if requests != 1 || errors != 1 {
		t.Errorf("Stats = (%d requests, %d errors), want (1, 1)", requests, errors)
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Error("Expected error for missing base URL")
	}
}

func TestHealthy(t *testing.T) {
	srv := detectionServer(t, nil)

	client, err := NewClient(ClientConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if !client.Healthy(context.Background()) {
		t.Error("Expected healthy service")
	}

	down, err := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:1", Timeout: 500 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if down.Healthy(context.Background()) {
		t.Error("Expected unreachable service to be unhealthy")
	}
}
