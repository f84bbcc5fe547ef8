// Package main provides the HomeVision backend entry point
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/home-vision-ai/homevision/internal/api"
	"github.com/home-vision-ai/homevision/internal/bus"
	"github.com/home-vision-ai/homevision/internal/camera"
	"github.com/home-vision-ai/homevision/internal/config"
	"github.com/home-vision-ai/homevision/internal/database"
	"github.com/home-vision-ai/homevision/internal/detection"
	"github.com/home-vision-ai/homevision/internal/events"
	"github.com/home-vision-ai/homevision/internal/notify"
	"github.com/home-vision-ai/homevision/internal/nvr"
)

const defaultDataPath = "/data"

func main() {
	dataPath := getEnv("DATA_PATH", defaultDataPath)
	os.MkdirAll(dataPath, 0755)

	configPath := findConfigFile(dataPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Error("Failed to load configuration", "config_path", configPath, "error", err)
			os.Exit(1)
		}
		cfg = config.Default(configPath)
		if err := cfg.Save(); err != nil {
			slog.Error("Failed to write default configuration", "config_path", configPath, "error", err)
			os.Exit(1)
		}
		slog.Info("Wrote default configuration", "config_path", configPath)
	}

	logger := setupLogging(cfg.System.Logging)
	slog.SetDefault(logger)

	slog.Info("Starting HomeVision",
		"version", "0.1.0",
		"config_path", configPath,
		"data_path", dataPath,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	dbPath := cfg.System.Database.Path
	if dbPath == "" {
		dbPath = database.DefaultPath(dataPath)
	}
	db, err := database.Open(dbPath)
	if err != nil {
		slog.Error("Failed to open database", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Embedded message bus
	busCfg := bus.DefaultConfig()
	if cfg.Bus.Port != 0 {
		busCfg.Port = cfg.Bus.Port
	}
	msgBus, err := bus.New(busCfg, logger)
	if err != nil {
		slog.Error("Failed to start message bus", "error", err)
		os.Exit(1)
	}
	defer msgBus.Stop()

	// Detection engine. Events fan out through the bus so persistence,
	// notifications and websocket delivery stay off the frame path.
	engine := nvr.NewEngine(cfg.Tracking)
	engine.OnEvent(func(ev nvr.Event) {
		if err := msgBus.Publish(bus.SubjectEventsPrefix+ev.CameraID, ev); err != nil {
			slog.Error("Failed to publish event", "event_id", ev.ID, "error", err)
		}
	})

	// Event persistence
	store := events.NewStore(db)
	if err := store.AttachBus(msgBus); err != nil {
		slog.Error("Failed to attach event store to bus", "error", err)
		os.Exit(1)
	}

	// Notifications
	notifier, err := notify.FromConfig(cfg.Notifications)
	if err != nil {
		slog.Error("Failed to build notifier", "error", err)
		os.Exit(1)
	}
	if err := notifier.AttachBus(msgBus); err != nil {
		slog.Error("Failed to attach notifier to bus", "error", err)
		os.Exit(1)
	}

	// AI detection client
	detector, err := detection.NewClient(detection.ClientConfig{
		BaseURL:       cfg.Detection.ServiceURL,
		Timeout:       time.Duration(cfg.Detection.TimeoutSeconds) * time.Second,
		MinConfidence: cfg.Detection.MinConfidence,
		ObjectTypes:   cfg.Detection.ObjectTypes,
	})
	if err != nil {
		slog.Error("Failed to create detection client", "error", err)
		os.Exit(1)
	}
	if !detector.Healthy(ctx) {
		slog.Warn("Detection service unreachable at startup", "url", cfg.Detection.ServiceURL)
	}

	// Camera workers
	cameras := camera.NewService(engine, detector, camera.ServiceConfig{
		Interval:  time.Duration(cfg.Detection.IntervalMillis) * time.Millisecond,
		Lifecycle: msgBus,
	})
	defer cameras.StopAll()

	for _, cam := range cfg.ListCameras() {
		if !cam.Enabled {
			continue
		}
		if err := cameras.Start(ctx, cam.ID, cam.Name, cam.Stream.URL, cam.Stream.Username, cam.Stream.Password); err != nil {
			slog.Error("Failed to start camera", "camera_id", cam.ID, "error", err)
		}
	}

	// WebSocket hub, fed from the bus
	hub := api.NewHub()
	go hub.Run()
	attachHub(msgBus, hub)

	// React to config file edits
	cfg.OnChange(func(updated *config.Config) {
		slog.Info("Configuration reloaded", "cameras", len(updated.ListCameras()))
		if err := msgBus.Publish(bus.SubjectConfigChanged, map[string]string{"path": configPath}); err != nil {
			slog.Error("Failed to publish config change", "error", err)
		}
	})
	if err := cfg.Watch(); err != nil {
		slog.Warn("Config watching disabled", "error", err)
	}

	// HTTP API
	srv := api.NewServer(engine, store, cameras, cfg, hub)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	server := &http.Server{
		Addr:         addr,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("Server starting", "address", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "error", err)
			cancel()
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	slog.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}
	cameras.StopAll()
	notifier.Close()

	slog.Info("Stopped")
}

// setupLogging builds the process logger from configuration. LOG_LEVEL
// overrides the configured level.
func setupLogging(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	name := cfg.Level
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		name = env
	}
	switch strings.ToLower(name) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// attachHub forwards bus traffic to websocket clients
func attachHub(b *bus.Bus, hub *api.Hub) {
	_, err := b.Subscribe(bus.SubjectEvents, func(msg *nats.Msg) {
		var ev nvr.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Error("Failed to decode bus event", "subject", msg.Subject, "error", err)
			return
		}
		hub.BroadcastToCamera(ev.CameraID, api.EventMessage(ev))
	})
	if err != nil {
		slog.Error("Failed to subscribe hub to events", "error", err)
	}

	forwardState := func(subject, status string) {
		_, err := b.Subscribe(subject, func(msg *nats.Msg) {
			var lc bus.CameraLifecycleEvent
			if err := json.Unmarshal(msg.Data, &lc); err != nil {
				return
			}
			hub.BroadcastToCamera(lc.CameraID, api.CameraStateMessage(lc.CameraID, status))
		})
		if err != nil {
			slog.Error("Failed to subscribe hub to lifecycle", "subject", subject, "error", err)
		}
	}
	forwardState(bus.SubjectCameraStarted, "online")
	forwardState(bus.SubjectCameraStopped, "offline")
	forwardState(bus.SubjectCameraError, "error")
}

// findConfigFile looks for the config file in multiple locations
func findConfigFile(dataPath string) string {
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		return configPath
	}

	locations := []string{
		filepath.Join(dataPath, "config.yaml"),
		"./config/config.yaml",
		"/config/config.yaml",
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return filepath.Join(dataPath, "config.yaml")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
