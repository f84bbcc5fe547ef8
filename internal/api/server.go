package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/home-vision-ai/homevision/internal/camera"
	"github.com/home-vision-ai/homevision/internal/config"
	"github.com/home-vision-ai/homevision/internal/events"
	"github.com/home-vision-ai/homevision/internal/nvr"
)

// Server holds the HTTP API dependencies
type Server struct {
	engine  *nvr.Engine
	store   *events.Store
	cameras *camera.Service
	cfg     *config.Config
	hub     *Hub
}

// NewServer creates the API server
func NewServer(engine *nvr.Engine, store *events.Store, cameras *camera.Service, cfg *config.Config, hub *Hub) *Server {
	return &Server{
		engine:  engine,
		store:   store,
		cameras: cameras,
		cfg:     cfg,
		hub:     hub,
	}
}

// Router builds the chi router with the full API surface
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	allowedOrigins := s.cfg.Server.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/nvr/statistics", s.handleStatistics)
		r.Get("/events", s.handleListStoredEvents)
		r.Get("/status/all", s.handleStatusAll)

		r.Route("/cameras", func(r chi.Router) {
			r.Get("/", s.handleListCameras)
			r.Post("/", s.handleCreateCamera)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCamera)
				r.Delete("/", s.handleDeleteCamera)
				r.Post("/start", s.handleStartCamera)
				r.Post("/stop", s.handleStopCamera)
				r.Get("/status", s.handleCameraStatus)
				r.Get("/frame", s.handleFrame)
				r.Get("/stream", s.handleStream)
				r.Get("/detections", s.handleDetections)
				r.Delete("/nvr", s.handleClearCamera)

				r.Get("/zones", s.handleListZones)
				r.Post("/zones", s.handleAddZone)
				r.Delete("/zones/{name}", s.handleRemoveZone)

				r.Get("/tracks", s.handleListTracks)
				r.Get("/events", s.handleCameraEvents)
			})
		})

		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWebSocket)
		}
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	if err := s.store.Health(r.Context()); err != nil {
		dbStatus = "unavailable"
	}
	OK(w, map[string]interface{}{
		"status":   "ok",
		"database": dbStatus,
		"time":     time.Now(),
	})
}
