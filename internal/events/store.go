// Package events persists accepted security events and serves queries
// over them.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/home-vision-ai/homevision/internal/bus"
	"github.com/home-vision-ai/homevision/internal/database"
	"github.com/home-vision-ai/homevision/internal/nvr"
)

// Store persists events in SQLite
type Store struct {
	db     *database.DB
	logger *slog.Logger
}

// ListOptions represents filters for querying events
type ListOptions struct {
	CameraID string
	Type     nvr.EventType
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

// NewStore creates a new event store
func NewStore(db *database.DB) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "event_store"),
	}
}

// Health reports whether the backing database is reachable.
func (s *Store) Health(ctx context.Context) error {
	return s.db.Health(ctx)
}

// Save persists one event
func (s *Store) Save(ctx context.Context, ev nvr.Event) error {
	if ev.ID == "" {
		return fmt.Errorf("event ID is required")
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = ev.Timestamp
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO events (
			id, type, camera_id, object_type, confidence, track_id,
			zone_name, location_x, location_y, duration, timestamp, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Type), ev.CameraID, ev.ObjectType, ev.Confidence, ev.TrackID,
		ev.ZoneName, ev.Location.X, ev.Location.Y, ev.Duration,
		ev.Timestamp.Unix(), ev.RecordedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// Get returns a single event by ID
func (s *Store) Get(ctx context.Context, id string) (*nvr.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, camera_id, object_type, confidence, track_id,
		       zone_name, location_x, location_y, duration, timestamp, recorded_at
		FROM events WHERE id = ?`, id)

	ev, err := scanEvent(row)
	if err != nil {
		return nil, fmt.Errorf("event not found: %w", err)
	}
	return ev, nil
}

// List returns events matching the given filters, newest first
func (s *Store) List(ctx context.Context, opts ListOptions) ([]nvr.Event, error) {
	var conds []string
	var args []interface{}

	if opts.CameraID != "" {
		conds = append(conds, "camera_id = ?")
		args = append(args, opts.CameraID)
	}
	if opts.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(opts.Type))
	}
	if !opts.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, opts.Since.Unix())
	}
	if !opts.Until.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, opts.Until.Unix())
	}

	query := `
		SELECT id, type, camera_id, object_type, confidence, track_id,
		       zone_name, location_x, location_y, duration, timestamp, recorded_at
		FROM events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC, id"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []nvr.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// CountByCamera returns event counts grouped by camera
func (s *Store) CountByCamera(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT camera_id, COUNT(*) FROM events GROUP BY camera_id")
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var cameraID string
		var count int
		if err := rows.Scan(&cameraID, &count); err != nil {
			return nil, err
		}
		counts[cameraID] = count
	}
	return counts, rows.Err()
}

// DeleteByCamera removes all persisted events for a camera
func (s *Store) DeleteByCamera(ctx context.Context, cameraID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE camera_id = ?", cameraID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	return res.RowsAffected()
}

// DeleteOlderThan removes events with timestamps before the cutoff
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE timestamp < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	return res.RowsAffected()
}

// AttachBus subscribes the store to per-camera event subjects so every
// published event is persisted without blocking the processing pipeline.
func (s *Store) AttachBus(b *bus.Bus) error {
	_, err := b.Subscribe(bus.SubjectEvents, func(msg *nats.Msg) {
		var ev nvr.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			s.logger.Error("Failed to decode event", "subject", msg.Subject, "error", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Save(ctx, ev); err != nil {
			s.logger.Error("Failed to persist event", "event_id", ev.ID, "error", err)
		}
	})
	return err
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(sc scanner) (*nvr.Event, error) {
	var ev nvr.Event
	var evType string
	var ts, recorded int64

	err := sc.Scan(
		&ev.ID, &evType, &ev.CameraID, &ev.ObjectType, &ev.Confidence, &ev.TrackID,
		&ev.ZoneName, &ev.Location.X, &ev.Location.Y, &ev.Duration, &ts, &recorded,
	)
	if err != nil {
		return nil, err
	}

	ev.Type = nvr.EventType(evType)
	ev.Timestamp = time.Unix(ts, 0)
	ev.RecordedAt = time.Unix(recorded, 0)
	return &ev, nil
}
