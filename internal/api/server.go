// internal/api/server.go
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	apihandler "github.com/newthinker/dataview/internal/api/handler/api"
	"github.com/newthinker/dataview/internal/api/job"
	"github.com/newthinker/dataview/internal/api/middleware"
	"github.com/newthinker/dataview/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server represents the HTTP server for dataview
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	router     chi.Router
}

// Config holds server configuration
type Config struct {
	Host         string
	Port         int
	APIKey       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MetricsPath  string
}

// Dependencies holds what the routes serve.
type Dependencies struct {
	Connections apihandler.Connections
	Metrics     *metrics.Registry
	// Jobs tracks background downloads. Pass the same store's Track as
	// the backend progress callback so jobs report progress.
	Jobs *job.Store
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, deps Dependencies, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Connections == nil {
		return nil, fmt.Errorf("connections are required")
	}
	if deps.Jobs == nil {
		deps.Jobs = job.NewStore(100, time.Hour)
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Minute
	}

	router := chi.NewRouter()
	s := &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
		router: router,
	}

	s.setupRoutes(cfg, deps)
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(cfg Config, deps Dependencies) {
	s.router.Use(metrics.LoggingMiddleware(s.logger))
	if deps.Metrics != nil {
		s.router.Use(metrics.HTTPMiddleware(deps.Metrics))

		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.router.Handle(path, promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}

	s.router.Get("/api/health", s.handleHealth)

	storageHandler := apihandler.NewStorageHandler(deps.Connections)
	downloadHandler := apihandler.NewDownloadHandler(deps.Connections, deps.Jobs, s.logger)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.APIKey))

		r.Get("/connections", storageHandler.Connections)
		r.Route("/connections/{name}", func(r chi.Router) {
			r.Get("/list", storageHandler.List)
			r.Get("/content", storageHandler.Content)
			r.Get("/size", storageHandler.Size)
			r.Get("/download", storageHandler.Download)
			r.Get("/archive", storageHandler.Archive)
			r.Get("/archive/preview", storageHandler.ArchivePreview)
			r.Post("/downloads", downloadHandler.Create)
		})
		r.Get("/downloads", downloadHandler.List)
		r.Get("/downloads/{id}", downloadHandler.Get)
	})
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
