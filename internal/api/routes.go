package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carrier-io/tasknode/internal/api/handlers"
	apiMiddleware "github.com/carrier-io/tasknode/internal/api/middleware"
	"github.com/carrier-io/tasknode/internal/api/websocket"
	"github.com/carrier-io/tasknode/internal/config"
	"github.com/carrier-io/tasknode/internal/tasknode"
)

// Server is the read-only admin/observability HTTP surface for a
// tasknode.Node: pool and task introspection, health, metrics, and a
// WebSocket feed of task status changes. It never mutates node state;
// task submission is a library call (tasknode.Node.StartTask), not an
// HTTP endpoint.
type Server struct {
	router       *chi.Mux
	node         *tasknode.Node
	config       *config.Config
	adminHandler *handlers.AdminHandler
	wsHub        *websocket.Hub
	wsHandler    *websocket.Handler
}

// NewServer creates a new HTTP server backed by node.
func NewServer(cfg *config.Config, node *tasknode.Node) *Server {
	wsHub := websocket.NewHub(node)

	s := &Server{
		router:       chi.NewRouter(),
		node:         node,
		config:       cfg,
		adminHandler: handlers.NewAdminHandler(node),
		wsHub:        wsHub,
		wsHandler:    websocket.NewHandler(wsHub),
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
	s.router.Use(apiMiddleware.RequestLogger())

	// Recoverer
	s.router.Use(middleware.Recoverer)

	// Heartbeat endpoint for load balancers
	s.router.Use(middleware.Heartbeat("/health"))
}

func (s *Server) setupRoutes() {
	// Admin / observability routes
	s.router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Use(apiMiddleware.ClientRateLimit(20))

		r.Get("/health", s.adminHandler.HealthCheck)
		r.Get("/pools", s.adminHandler.ListPools)
		r.Get("/pools/{pool}", s.adminHandler.GetPool)
		r.Get("/tasks/{taskID}", s.adminHandler.GetTask)
	})

	// WebSocket endpoint: live task status dissemination to dashboards
	s.router.Get("/ws", s.wsHandler.ServeWS)

	// Metrics endpoint
	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, promhttp.Handler())
	}
}

// Start starts the WebSocket hub.
func (s *Server) Start() {
	go s.wsHub.Run()
}

// Stop stops the WebSocket hub.
func (s *Server) Stop() {
	s.wsHub.Stop()
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
