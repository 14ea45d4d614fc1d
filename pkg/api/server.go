// Package api serves the active storage HTTP interface: path-addressed and
// body-addressed reductions, raw object passthrough, the discovery document,
// health and metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/activestorage/s3-active-storage/internal/metrics"
	"github.com/activestorage/s3-active-storage/internal/pipeline"
	storage "github.com/activestorage/s3-active-storage/internal/storage/s3"
	"github.com/activestorage/s3-active-storage/pkg/health"
	"github.com/activestorage/s3-active-storage/pkg/proxyauth"
)

// Server provides the proxy's HTTP endpoints
type Server struct {
	httpServer *http.Server
	router     chi.Router
	config     ServerConfig

	pipeline    *pipeline.Service
	storage     *storage.ClientManager
	passthrough *storage.Passthrough
	health      *health.Tracker
	metrics     *metrics.Collector
	logger      *slog.Logger
}

// ServerConfig configures the API server
type ServerConfig struct {
	// Address to bind the server to (e.g., ":8000")
	Address string `yaml:"address" json:"address"`

	// ReadHeaderTimeout bounds reading request headers
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" json:"read_header_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// ErrorFormat selects the error document style: "json" or "xml"
	ErrorFormat string `yaml:"error_format" json:"error_format"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:           ":8000",
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorFormat:       "json",
	}
}

// Dependencies are the components a Server routes requests to.
type Dependencies struct {
	Pipeline    *pipeline.Service
	Storage     *storage.ClientManager
	Passthrough *storage.Passthrough

	// Health tracks upstream reachability. A private tracker is created
	// when nil.
	Health *health.Tracker

	// Metrics may be nil.
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// NewServer creates a new API server
func NewServer(config ServerConfig, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:      config,
		pipeline:    deps.Pipeline,
		storage:     deps.Storage,
		passthrough: deps.Passthrough,
		health:      deps.Health,
		metrics:     deps.Metrics,
		logger:      logger.With("component", "api"),
	}
	if s.health == nil {
		s.health = health.NewTracker(health.DefaultConfig())
	}
	s.health.RegisterComponent(s.passthrough.Endpoint())

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestID)
	r.Use(s.metrics.Middleware)
	r.Use(s.logRequests)

	r.Get(proxyauth.WellKnownPath, s.handleWellKnown)
	r.Get("/health/live", s.handleLiveness)
	r.Get("/health/ready", s.handleReadiness)
	if s.metrics != nil {
		r.Method(http.MethodGet, s.metrics.Path(), s.metrics.Handler())
	}

	r.Post("/v1/{operation}", s.handleV1)
	r.Post("/v1/{operation}/", s.handleV1)

	r.Get("/obj/*", s.handleObject)
	r.Get("/{reducer}/{dtype}/*", s.handleReducer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, r, notFound(r.URL.Path), false)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, r, methodNotAllowed(r.Method), false)
	})

	s.router = r
	s.httpServer = &http.Server{
		Addr:              config.Address,
		Handler:           r,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		IdleTimeout:       config.IdleTimeout,
	}
	return s
}

// Handler returns the routed handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Starting active storage proxy", "address", ln.Addr().String())
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down active storage proxy")
	return s.httpServer.Shutdown(ctx)
}
