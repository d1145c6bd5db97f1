package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/josephrichard7/proxmox-mpc-sub010/internal/config"
	"github.com/josephrichard7/proxmox-mpc-sub010/internal/engine"
	"github.com/josephrichard7/proxmox-mpc-sub010/internal/logger"
	"github.com/josephrichard7/proxmox-mpc-sub010/internal/processors"
	"github.com/josephrichard7/proxmox-mpc-sub010/internal/store"
	"github.com/josephrichard7/proxmox-mpc-sub010/internal/web"
	"github.com/josephrichard7/proxmox-mpc-sub010/internal/websocket"
)

// Server exposes the anonymization engine over HTTP. It is thin glue: every
// payload passes through the processor registry and the shared engine before
// anything is returned or broadcast.
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	engine   *engine.Engine
	registry *processors.Registry
	cache    *store.MappingCache // optional, may be nil
	db       *store.MappingStore // optional, may be nil
	router   *mux.Router
	server   *http.Server
	wsHub    *websocket.Hub
	limiter  *ipRateLimiter
	started  time.Time
}

// New creates the API server. cache and db may be nil when the persistence
// collaborators are disabled.
func New(cfg *config.Config, log *logger.Logger, eng *engine.Engine, cache *store.MappingCache, db *store.MappingStore) (*Server, error) {
	wsHub := websocket.NewHub(&websocket.HubConfig{
		BroadcastAnonymizations: cfg.WebSocket.Events.BroadcastAnonymizations,
		BroadcastSystem:         cfg.WebSocket.Events.BroadcastSystem,
		BroadcastConnections:    cfg.WebSocket.Events.BroadcastConnections,
		AllowedOrigins:          cfg.WebSocket.AllowedOrigins,
	}, log.WithComponent("websocket").Logger)

	s := &Server{
		config:   cfg,
		logger:   log.WithComponent("server"),
		engine:   eng,
		registry: processors.NewRegistry(eng, log.WithComponent("processors").Logger),
		cache:    cache,
		db:       db,
		router:   mux.NewRouter(),
		wsHub:    wsHub,
		limiter:  newIPRateLimiter(cfg.Server.RateLimit),
		started:  time.Now(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	s.router.HandleFunc("/", web.ServeDashboard).Methods("GET")
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods("GET")

	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/anonymize", s.handleAnonymize).Methods("POST")
	api.HandleFunc("/mappings", s.handleExportMappings).Methods("GET")
	api.HandleFunc("/mappings", s.handleClearMappings).Methods("DELETE")
	api.HandleFunc("/mappings/import", s.handleImportMappings).Methods("POST")
	api.HandleFunc("/mappings/persist", s.handlePersistMappings).Methods("POST")
	api.HandleFunc("/mappings/restore", s.handleRestoreMappings).Methods("POST")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/rules", s.handleRules).Methods("GET")
}

// Start starts the HTTP server and the WebSocket hub.
func (s *Server) Start() error {
	s.logger.Info("Starting anonymization API server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("cache_enabled", s.cache != nil),
		zap.Bool("store_enabled", s.db != nil),
	)

	go s.wsHub.Run()
	s.limiter.startCleanup()

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping anonymization API server")
	return s.server.Shutdown(ctx)
}

// Hub returns the WebSocket hub for broadcasting events.
func (s *Server) Hub() *websocket.Hub {
	return s.wsHub
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// handleInfo handles info requests.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{
		"name":"proxmox-mpc-anonymizer",
		"rules":%d,
		"pseudonyms_enabled":%t,
		"uptime":"%s"
	}`, len(s.engine.Rules().All()), s.config.Anonymizer.EnablePseudonyms, time.Since(s.started).Round(time.Second))
}
