// Package api serves run history, the review queue and background sync jobs over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/eshaffer321/upbank-ynab-sync/internal/api/handlers"
	"github.com/eshaffer321/upbank-ynab-sync/internal/api/middleware"
	"github.com/eshaffer321/upbank-ynab-sync/internal/application/service"
	"github.com/eshaffer321/upbank-ynab-sync/internal/infrastructure/config"
	"github.com/eshaffer321/upbank-ynab-sync/internal/infrastructure/storage"
)

// Config holds API server configuration.
type Config struct {
	Port           int
	AllowedOrigins []string
}

// DefaultConfig returns sensible defaults for the API server.
func DefaultConfig() Config {
	return Config{
		Port:           config.DefaultAPIPort,
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
	}
}

// ConfigFrom builds the server configuration from the application config.
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg.API.Port > 0 {
		c.Port = cfg.API.Port
	}
	if len(cfg.API.AllowedOrigins) > 0 {
		c.AllowedOrigins = cfg.API.AllowedOrigins
	}
	return c
}

// Server is the HTTP API server.
type Server struct {
	config      Config
	appConfig   *config.Config
	router      chi.Router
	httpServer  *http.Server
	logger      *slog.Logger
	repo        storage.Repository
	syncService *service.SyncService
}

// NewServer creates a new API server.
// If syncService is nil, sync endpoints will not be available. appCfg may be
// nil; it supplies profile thresholds and the timezone for request dates.
func NewServer(cfg Config, repo storage.Repository, syncService *service.SyncService, appCfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:      cfg,
		appConfig:   appCfg,
		router:      chi.NewRouter(),
		logger:      logger,
		repo:        repo,
		syncService: syncService,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures global middleware.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.Recoverer)

	s.router.Use(middleware.CORS(middleware.APICORSConfig(s.config.AllowedOrigins)))

	// Request logging
	s.router.Use(middleware.Logging(s.logger))
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check (no /api prefix - for load balancers)
	healthHandler := handlers.NewHealthHandler()
	s.router.Get("/health", healthHandler.ServeHTTP)

	s.router.Route("/api", func(r chi.Router) {
		stateHandler := handlers.NewStateHandler(s.repo)
		r.Get("/state/health", stateHandler.Health)

		// Sync runs (historical)
		runsHandler := handlers.NewRunsHandler(s.repo, s.appConfig)
		r.Get("/runs", runsHandler.List)
		r.Get("/runs/{id}", runsHandler.Get)
		r.Get("/runs/{id}/review", runsHandler.Review)

		// Sync operations (live sync jobs)
		if s.syncService != nil {
			var loc *time.Location
			if s.appConfig != nil {
				loc = s.appConfig.Location()
			}
			syncHandler := handlers.NewSyncHandler(s.syncService, loc)
			r.Post("/sync", syncHandler.StartSync)
			r.Get("/sync", syncHandler.ListAllSyncs)
			r.Get("/sync/active", syncHandler.ListActiveSyncs)
			r.Get("/sync/{jobId}", syncHandler.GetSyncStatus)
			r.Delete("/sync/{jobId}", syncHandler.CancelSync)
		}
	})
}

// Start serves until Shutdown. It returns nil after a graceful shutdown,
// including one that happened before Start was called.
func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}
