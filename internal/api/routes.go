package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arbiterq/arbiterq/internal/api/handlers"
	apiMiddleware "github.com/arbiterq/arbiterq/internal/api/middleware"
	"github.com/arbiterq/arbiterq/internal/api/websocket"
	"github.com/arbiterq/arbiterq/internal/backend"
	"github.com/arbiterq/arbiterq/internal/config"
	"github.com/arbiterq/arbiterq/internal/events"
	"github.com/arbiterq/arbiterq/internal/supervisor"
)

// Server is the control-plane HTTP server: task submission/lookup against
// a Backend, and an admin surface bridging HTTP to the Arbiter.
type Server struct {
	router       *chi.Mux
	backend      backend.Backend
	arbiter      *supervisor.Arbiter
	dlq          *backend.DLQ
	config       *config.Config
	taskHandler  *handlers.TaskHandler
	adminHandler *handlers.AdminHandler
	wsHub        *websocket.Hub
	wsHandler    *websocket.Handler
	publisher    *events.RedisPubSub
}

// NewServer creates a new HTTP server. dlq may be nil when the active
// backend carries no dead letter queue (the local:// backend).
func NewServer(cfg *config.Config, b backend.Backend, ar *supervisor.Arbiter, dlq *backend.DLQ, publisher *events.RedisPubSub) *Server {
	wsHub := websocket.NewHub(publisher)

	s := &Server{
		router:       chi.NewRouter(),
		backend:      b,
		arbiter:      ar,
		dlq:          dlq,
		config:       cfg,
		taskHandler:  handlers.NewTaskHandler(b),
		adminHandler: handlers.NewAdminHandler(ar, b, dlq),
		wsHub:        wsHub,
		wsHandler:    websocket.NewHandler(wsHub),
		publisher:    publisher,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(middleware.Logger)

	// Recoverer
	s.router.Use(middleware.Recoverer)

	// Heartbeat endpoint for load balancers
	s.router.Use(middleware.Heartbeat("/health"))
}

func (s *Server) setupRoutes() {
	// API v1 routes
	s.router.Route("/api/v1", func(r chi.Router) {
		// Content type for API routes
		r.Use(middleware.AllowContentType("application/json"))

		// Rate limiting for API routes
		if s.config.Queue.RateLimitRPS > 0 {
			r.Use(apiMiddleware.ClientRateLimit(s.config.Queue.RateLimitRPS))
		}

		// Task routes
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.taskHandler.Create)
			r.Get("/{taskID}", s.taskHandler.Get)
			r.Delete("/{taskID}", s.taskHandler.Cancel)
		})
	})

	// Admin / control-plane routes
	s.router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))

		r.Get("/health", s.adminHandler.HealthCheck)

		// Control-plane commands
		r.Get("/ping", s.adminHandler.Ping)
		r.Post("/echo", s.adminHandler.Echo)
		r.Get("/info", s.adminHandler.Info)
		r.Get("/next_scheduled", s.adminHandler.NextScheduled)
		r.Post("/quit", s.adminHandler.Quit)

		// Task management
		r.Post("/tasks/{taskID}/retry", s.adminHandler.RetryTask)

		// DLQ management
		r.Get("/dlq", s.adminHandler.ListDLQ)
		r.Post("/dlq/retry", s.adminHandler.RetryDLQ)
		r.Delete("/dlq", s.adminHandler.ClearDLQ)
	})

	// WebSocket endpoint
	s.router.Get("/ws", s.wsHandler.ServeWS)

	// Metrics endpoint
	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, promhttp.Handler())
	}
}

// Start starts the WebSocket hub
func (s *Server) Start(ctx context.Context) {
	go s.wsHub.Run(ctx)
}

// Stop stops the WebSocket hub
func (s *Server) Stop() {
	s.wsHub.Stop()
}

// Router returns the chi router
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Publisher returns the event publisher. Nil when no Redis publisher was
// wired (the local:// backend has no pub/sub fan-out).
func (s *Server) Publisher() *events.RedisPubSub {
	return s.publisher
}
