package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"feedflow/internal/auth"
	"feedflow/internal/core"
	"feedflow/internal/server/handlers"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	config   *core.Config
	logger   *core.Logger
	db       *core.Database
	registry *core.Registry
	router   chi.Router
	server   *http.Server
}

// New wires the registry's features behind the router. Features must be
// registered before New is called.
func New(config *core.Config, logger *core.Logger, db *core.Database, registry *core.Registry) *Server {
	srv := &Server{
		config:   config,
		logger:   logger,
		db:       db,
		registry: registry,
	}
	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.logger, s.registry, s.db)
	authMiddleware := auth.NewMiddleware(s.config.Auth.CronSecret, s.logger)

	mux := chi.NewRouter()

	mux.Use(middleware.Recoverer)
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Logger)

	// Health check
	mux.Get("/health", healthHandler.HealthCheckHandler)

	routes := s.registry.GetAllRoutes()

	for _, route := range routes {
		if !route.Protected {
			mux.Method(route.Method, route.Path, route.Handler)
		}
	}

	// Protected routes (require the cron secret)
	mux.Group(func(r chi.Router) {
		r.Use(authMiddleware.RequireSecret)

		for _, route := range routes {
			if route.Protected {
				r.Method(route.Method, route.Path, route.Handler)
			}
		}
	})

	s.router = mux
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start initializes the features and serves until Shutdown
func (s *Server) Start(ctx context.Context) error {
	if err := s.registry.InitAll(ctx); err != nil {
		s.logger.Error("Failed to initialize features", "error", err)
		return err
	}

	s.logger.Info("Starting server", "host", s.config.Server.Host, "port", s.config.Server.Port)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	// Shutdown all features
	if err := s.registry.ShutdownAll(ctx); err != nil {
		s.logger.Error("Failed to shutdown features", "error", err)
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}
