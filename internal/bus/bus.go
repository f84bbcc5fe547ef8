// Package bus provides pub/sub messaging between backend services using
// an embedded NATS server.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// Subjects used by the backend. Per-camera event streams append the
// camera ID, e.g. "events.camera.front_door".
const (
	SubjectEvents         = "events.camera.*"
	SubjectEventsPrefix   = "events.camera."
	SubjectSystemShutdown = "system.shutdown"
	SubjectConfigChanged  = "config.changed"
	SubjectCameraStarted  = "cameras.lifecycle.started"
	SubjectCameraStopped  = "cameras.lifecycle.stopped"
	SubjectCameraError    = "cameras.lifecycle.error"
)

// Bus wraps an embedded NATS server and a client connection to it.
type Bus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger

	// Subscription tracking
	subs   map[string][]*nats.Subscription
	subsMu sync.RWMutex
}

// Config configures the embedded bus
type Config struct {
	// Host for the NATS server (default: 127.0.0.1)
	Host string
	// Port for the NATS server (default: 4222)
	Port int
}

// DefaultConfig returns default bus configuration
func DefaultConfig() Config {
	return Config{
		Host: "127.0.0.1",
		Port: 4222,
	}
}

// New starts an embedded NATS server and connects to it
func New(cfg Config, logger *slog.Logger) (*Bus, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 4222
	}

	opts := &server.Options{
		Host:   cfg.Host,
		Port:   cfg.Port,
		NoSigs: true,
		NoLog:  true, // We'll use our own logger
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()

	// Embedded NATS is typically ready in <100ms
	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready after 2 seconds (port %d)", cfg.Port)
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	b := &Bus{
		server: ns,
		conn:   nc,
		logger: logger.With("component", "bus"),
		subs:   make(map[string][]*nats.Subscription),
	}

	logger.Info("Message bus started", "url", ns.ClientURL())

	return b, nil
}

// Conn returns the NATS connection for direct use
func (b *Bus) Conn() *nats.Conn {
	return b.conn
}

// ClientURL returns the NATS client URL
func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Publish marshals data as JSON and publishes it to a subject
func (b *Bus) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return b.conn.Publish(subject, payload)
}

// PublishRaw publishes raw bytes to a subject
func (b *Bus) PublishRaw(subject string, data []byte) error {
	return b.conn.Publish(subject, data)
}

// Subscribe subscribes to a subject
func (b *Bus) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	sub, err := b.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}

	b.subsMu.Lock()
	b.subs[subject] = append(b.subs[subject], sub)
	b.subsMu.Unlock()

	return sub, nil
}

// Unsubscribe removes all subscriptions for a subject
func (b *Bus) Unsubscribe(subject string) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	if subs, ok := b.subs[subject]; ok {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
		delete(b.subs, subject)
	}
}

// Stop shuts down the bus
func (b *Bus) Stop() {
	_ = b.conn.Drain()
	b.server.Shutdown()
	b.logger.Info("Message bus stopped")
}

// CameraLifecycleEvent is published on camera worker start, stop and error
type CameraLifecycleEvent struct {
	CameraID  string    `json:"camera_id"`
	Event     string    `json:"event"` // "started", "stopped", "error"
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// PublishCameraStarted publishes a camera started event
func (b *Bus) PublishCameraStarted(cameraID string) error {
	return b.Publish(SubjectCameraStarted, CameraLifecycleEvent{
		CameraID:  cameraID,
		Event:     "started",
		Timestamp: time.Now(),
	})
}

// PublishCameraStopped publishes a camera stopped event
func (b *Bus) PublishCameraStopped(cameraID string) error {
	return b.Publish(SubjectCameraStopped, CameraLifecycleEvent{
		CameraID:  cameraID,
		Event:     "stopped",
		Timestamp: time.Now(),
	})
}

// PublishCameraError publishes a camera error event
func (b *Bus) PublishCameraError(cameraID string, err error) error {
	return b.Publish(SubjectCameraError, CameraLifecycleEvent{
		CameraID:  cameraID,
		Event:     "error",
		Timestamp: time.Now(),
		Error:     err.Error(),
	})
}

// HealthCheck verifies the bus connection is alive
func (b *Bus) HealthCheck(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS connection not active")
	}

	_, err := b.conn.Request("_health", []byte("ping"), 2*time.Second)
	if err == nats.ErrNoResponders {
		// No responders just means no one is listening
		return nil
	}
	return err
}
