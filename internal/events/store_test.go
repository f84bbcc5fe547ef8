package events

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/home-vision-ai/homevision/internal/database"
	"github.com/home-vision-ai/homevision/internal/nvr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("Migrations failed: %v", err)
	}

	return NewStore(db)
}

func testEvent(id, cameraID string, evType nvr.EventType, ts time.Time) nvr.Event {
	return nvr.Event{
		ID:         id,
		Type:       evType,
		CameraID:   cameraID,
		ObjectType: "person",
		Confidence: 0.9,
		Location:   nvr.Point{X: 100, Y: 120},
		Timestamp:  ts,
		RecordedAt: ts,
	}
}

func TestSaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	ev := testEvent("ev-1", "cam-1", nvr.EventZoneViolation, now)
	ev.ZoneName = "driveway"

	if err := store.Save(ctx, ev); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "ev-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Type != nvr.EventZoneViolation {
		t.Errorf("Type = %s, want %s", got.Type, nvr.EventZoneViolation)
	}
	if got.ZoneName != "driveway" {
		t.Errorf("ZoneName = %s, want driveway", got.ZoneName)
	}
	if got.Location.X != 100 || got.Location.Y != 120 {
		t.Errorf("Location = %+v, want (100,120)", got.Location)
	}
	if !got.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, now)
	}
}

func TestSaveRequiresID(t *testing.T) {
	store := newTestStore(t)

	err := store.Save(context.Background(), nvr.Event{Type: nvr.EventLoitering, CameraID: "cam-1"})
	if err == nil {
		t.Error("Expected error for event without ID")
	}
}

func TestListFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Second).Add(-time.Hour)

	seed := []nvr.Event{
		testEvent("ev-1", "cam-1", nvr.EventObjectDetected, base),
		testEvent("ev-2", "cam-1", nvr.EventZoneViolation, base.Add(10*time.Minute)),
		testEvent("ev-3", "cam-2", nvr.EventZoneViolation, base.Add(20*time.Minute)),
		testEvent("ev-4", "cam-1", nvr.EventLoitering, base.Add(30*time.Minute)),
	}
	for _, ev := range seed {
		if err := store.Save(ctx, ev); err != nil {
			t.Fatalf("Save %s failed: %v", ev.ID, err)
		}
	}

	byCamera, err := store.List(ctx, ListOptions{CameraID: "cam-1"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(byCamera) != 3 {
		t.Errorf("cam-1 events = %d, want 3", len(byCamera))
	}

	byType, err := store.List(ctx, ListOptions{Type: nvr.EventZoneViolation})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(byType) != 2 {
		t.Errorf("zone violations = %d, want 2", len(byType))
	}

	since, err := store.List(ctx, ListOptions{Since: base.Add(15 * time.Minute)})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(since) != 2 {
		t.Errorf("events since cutoff = %d, want 2", len(since))
	}

	// Newest first
	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 4 || all[0].ID != "ev-4" {
		t.Errorf("expected newest-first ordering, got %+v", all)
	}

	limited, err := store.List(ctx, ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited events = %d, want 2", len(limited))
	}
}

func TestCountByCamera(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_ = store.Save(ctx, testEvent("ev-1", "cam-1", nvr.EventObjectDetected, now))
	_ = store.Save(ctx, testEvent("ev-2", "cam-1", nvr.EventLoitering, now))
	_ = store.Save(ctx, testEvent("ev-3", "cam-2", nvr.EventObjectDetected, now))

	counts, err := store.CountByCamera(ctx)
	if err != nil {
		t.Fatalf("CountByCamera failed: %v", err)
	}
	if counts["cam-1"] != 2 || counts["cam-2"] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestDeleteByCamera(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_ = store.Save(ctx, testEvent("ev-1", "cam-1", nvr.EventObjectDetected, now))
	_ = store.Save(ctx, testEvent("ev-2", "cam-1", nvr.EventLoitering, now))
	_ = store.Save(ctx, testEvent("ev-3", "cam-2", nvr.EventObjectDetected, now))

	deleted, err := store.DeleteByCamera(ctx, "cam-1")
	if err != nil {
		t.Fatalf("DeleteByCamera failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	remaining, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].CameraID != "cam-2" {
		t.Errorf("unexpected remaining events: %+v", remaining)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	_ = store.Save(ctx, testEvent("ev-old", "cam-1", nvr.EventObjectDetected, now.Add(-48*time.Hour)))
	_ = store.Save(ctx, testEvent("ev-new", "cam-1", nvr.EventObjectDetected, now))

	pruned, err := store.DeleteOlderThan(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	if _, err := store.Get(ctx, "ev-new"); err != nil {
		t.Errorf("recent event should survive pruning: %v", err)
	}
	if _, err := store.Get(ctx, "ev-old"); err == nil {
		t.Error("old event should have been pruned")
	}
}
