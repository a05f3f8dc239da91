package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"content-regions/config"
	"content-regions/handlers"
	"content-regions/services"
)

// Server represents the HTTP server
type Server struct {
	config     *config.Config
	router     *mux.Router
	httpServer *http.Server
	services   *services.ServiceContainer
	logger     services.Logger

	// Handlers
	chunkHandler  *handlers.ChunkHandler
	regionHandler *handlers.RegionHandler
}

// NewServer creates a server on top of an assembled service container
func NewServer(cfg *config.Config, container *services.ServiceContainer) *Server {
	router := mux.NewRouter()

	var logger services.Logger = services.NewNopLogger()
	if container.Logger != nil {
		logger = container.Logger.With(services.String("component", "http"))
	}

	s := &Server{
		config:        cfg,
		router:        router,
		services:      container,
		logger:        logger,
		chunkHandler:  handlers.NewChunkHandler(container.ChunkService, logger),
		regionHandler: handlers.NewRegionHandler(container.ChunkService, container.ConsistencyChecker, logger),
	}

	s.setupRoutes()
	s.setupMiddleware()

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s
}

// Handler returns the root handler. CORS sits outside the router so
// preflight requests are answered for every path.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.router)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet)
	api.HandleFunc("/health/{component}", s.componentHealth).Methods(http.MethodGet)
	if s.services.MetricsService != nil {
		endpoint := s.config.Metrics.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		api.HandleFunc(endpoint, s.metricsHandler).Methods(http.MethodGet)
	}
	api.HandleFunc("/cache/stats", s.cacheStatsHandler).Methods(http.MethodGet)
	api.HandleFunc("/cache/clear", s.cacheClearHandler).Methods(http.MethodPost)

	// Region routes
	api.HandleFunc("/templates/{template}/regions", s.regionHandler.TemplateRegions).Methods(http.MethodGet)
	api.HandleFunc("/regions/validate", s.regionHandler.ValidateRegion).Methods(http.MethodGet)
	api.HandleFunc("/parents/{type}/{id}/regions", s.regionHandler.ListRegions).Methods(http.MethodGet)
	api.HandleFunc("/parents/{type}/{id}/regions/{region}/render", s.regionHandler.RenderRegion).Methods(http.MethodGet)
	api.HandleFunc("/parents/{type}/{id}/regions/{region}/consolidate", s.regionHandler.Consolidate).Methods(http.MethodPost)

	// Chunk routes
	api.HandleFunc("/parents/{type}/{id}/chunks", s.chunkHandler.AddChunk).Methods(http.MethodPost)
	api.HandleFunc("/chunks/move", s.chunkHandler.MoveChunk).Methods(http.MethodPost)
	api.HandleFunc("/chunks/{id:[0-9]+}", s.chunkHandler.DeleteChunk).Methods(http.MethodDelete)

	// Consistency routes
	api.HandleFunc("/consistency", s.regionHandler.CheckConsistency).Methods(http.MethodGet)
	api.HandleFunc("/consistency/repair", s.regionHandler.RepairConsistency).Methods(http.MethodPost)
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.contentTypeMiddleware)

	if s.services.MetricsService != nil {
		s.router.Use(s.metricsMiddleware)
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting server", services.String("addr", s.httpServer.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	return s.Shutdown()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	systemHealth := s.services.HealthService.CheckHealth(r.Context())

	statusCode := http.StatusOK
	if systemHealth.Status == services.HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, systemHealth)
}

func (s *Server) componentHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.services.HealthService.CheckComponent(r.Context(), mux.Vars(r)["component"])
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	statusCode := http.StatusOK
	if health.Status == services.HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, health)
}

// metricsHandler handles metrics requests
func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	metrics := s.services.MetricsService.GetMetrics()
	metrics["cache"] = s.services.CacheService.GetStats()

	writeJSON(w, http.StatusOK, metrics)
}

// cacheStatsHandler handles cache statistics requests
func (s *Server) cacheStatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.services.CacheService.GetStats())
}

// cacheClearHandler handles cache clear requests
func (s *Server) cacheClearHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.services.CacheService.Clear(r.Context()); err != nil {
		s.logger.Error("failed to clear cache", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "failed to clear cache",
			"details": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "cache cleared successfully",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
