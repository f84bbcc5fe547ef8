package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/home-vision-ai/homevision/internal/config"
	"github.com/home-vision-ai/homevision/internal/nvr"
)

type recordingChannel struct {
	sent atomic.Int64
}

func (c *recordingChannel) Name() string { return "recording" }

func (c *recordingChannel) Send(ctx context.Context, ev nvr.Event) error {
	c.sent.Add(1)
	return nil
}

func testEvent() nvr.Event {
	return nvr.Event{
		ID:         "ev-1",
		Type:       nvr.EventZoneViolation,
		CameraID:   "cam-1",
		ObjectType: "person",
		ZoneName:   "driveway",
		Timestamp:  time.Now(),
	}
}

func TestNotifyDelivers(t *testing.T) {
	ch := &recordingChannel{}
	n := New(config.NotificationsConfig{Enabled: true, MaxPerHour: 10}, ch)

	n.Notify(context.Background(), testEvent())

	if ch.sent.Load() != 1 {
		t.Errorf("sent = %d, want 1", ch.sent.Load())
	}
}

func TestNotifyDisabled(t *testing.T) {
	ch := &recordingChannel{}
	n := New(config.NotificationsConfig{Enabled: false}, ch)

	n.Notify(context.Background(), testEvent())

	if ch.sent.Load() != 0 {
		t.Errorf("disabled notifier sent %d alerts", ch.sent.Load())
	}
}

func TestQuietHoursSuppression(t *testing.T) {
	ch := &recordingChannel{}
	n := New(config.NotificationsConfig{
		Enabled:    true,
		MaxPerHour: 10,
		QuietHours: config.QuietHoursConfig{Enabled: true, Start: "22:00", End: "07:00"},
	}, ch)

	// 23:30 falls inside a window spanning midnight.
	n.now = func() time.Time {
		return time.Date(2026, 8, 31, 23, 30, 0, 0, time.UTC)
	}
	n.Notify(context.Background(), testEvent())
	if ch.sent.Load() != 0 {
		t.Error("alert sent during quiet hours")
	}

	// 06:59 is still quiet.
	n.now = func() time.Time {
		return time.Date(2026, 8, 31, 6, 59, 0, 0, time.UTC)
	}
	n.Notify(context.Background(), testEvent())
	if ch.sent.Load() != 0 {
		t.Error("alert sent during quiet hours before end")
	}

	// 07:00 is outside.
	n.now = func() time.Time {
		return time.Date(2026, 8, 31, 7, 0, 0, 0, time.UTC)
	}
	n.Notify(context.Background(), testEvent())
	if ch.sent.Load() != 1 {
		t.Errorf("alert outside quiet hours not sent, got %d", ch.sent.Load())
	}
}

func TestHourlyCap(t *testing.T) {
	ch := &recordingChannel{}
	n := New(config.NotificationsConfig{Enabled: true, MaxPerHour: 3}, ch)

	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		n.Notify(context.Background(), testEvent())
	}
	if ch.sent.Load() != 3 {
		t.Errorf("sent = %d, want 3 (capped)", ch.sent.Load())
	}

	// Cap resets in the next hour.
	n.now = func() time.Time { return base.Add(time.Hour) }
	n.Notify(context.Background(), testEvent())
	if ch.sent.Load() != 4 {
		t.Errorf("sent = %d, want 4 after hourly reset", ch.sent.Load())
	}
}

func TestWebhookChannel(t *testing.T) {
	received := make(chan alertPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Token") != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var p alertPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		received <- p
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(config.WebhookConfig{
		Enabled: true,
		URL:     srv.URL,
		Headers: map[string]string{"X-Token": "secret"},
	})

	if err := ch.Send(context.Background(), testEvent()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case p := <-received:
		if p.Type != string(nvr.EventZoneViolation) || p.CameraID != "cam-1" {
			t.Errorf("unexpected payload: %+v", p)
		}
		if p.Message == "" {
			t.Error("payload message is empty")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not received")
	}
}

func TestWebhookChannelErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(config.WebhookConfig{Enabled: true, URL: srv.URL})
	if err := ch.Send(context.Background(), testEvent()); err == nil {
		t.Error("Expected error for non-2xx webhook response")
	}
}

func TestBuildPayloadMessages(t *testing.T) {
	loiter := nvr.Event{Type: nvr.EventLoitering, CameraID: "cam-1", ObjectType: "person", Duration: 42}
	p := buildPayload(loiter)
	if p.Message != "person loitering for 42 seconds on camera cam-1" {
		t.Errorf("unexpected loitering message: %s", p.Message)
	}

	detected := nvr.Event{Type: nvr.EventObjectDetected, CameraID: "cam-2", ObjectType: "cat"}
	p = buildPayload(detected)
	if p.Message != "cat detected on camera cam-2" {
		t.Errorf("unexpected detection message: %s", p.Message)
	}
}
