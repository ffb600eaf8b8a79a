// Package httpserver serves the gateway's operational endpoints:
// Prometheus metrics, dependency health and build information.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nugget/hassflux/internal/buildinfo"
	"github.com/nugget/hassflux/internal/connwatch"
)

// HealthChecker reports dependency health. [connwatch.Monitor]
// satisfies it.
type HealthChecker interface {
	Healthy() bool
	Status() []connwatch.Status
}

// ComponentCounter reports how many components are registered. The
// component registry satisfies it. Optional.
type ComponentCounter interface {
	Len() int
}

// healthResponse is the /healthz body.
type healthResponse struct {
	Status     string             `json:"status"`
	Components int                `json:"components"`
	Services   []connwatch.Status `json:"services"`
	Uptime     string             `json:"uptime"`
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
func writeJSON(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the operational HTTP server.
type Server struct {
	address    string
	port       int
	gatherer   prometheus.Gatherer
	health     HealthChecker
	components ComponentCounter
	logger     *slog.Logger
	server     *http.Server
}

// New creates a Server. health and components may be nil.
func New(address string, port int, gatherer prometheus.Gatherer, health HealthChecker, components ComponentCounter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		address:    address,
		port:       port,
		gatherer:   gatherer,
		health:     health,
		components: components,
		logger:     logger,
	}
	s.server = &http.Server{
		Addr:              net.JoinHostPort(address, strconv.Itoa(port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start serves until the listener fails or Shutdown is called. A
// Shutdown-initiated close is not an error.
func (s *Server) Start() error {
	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting HTTP server", "address", addr, "port", s.port)

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "hassflux",
		"version": buildinfo.Version,
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.RuntimeInfo(), s.logger)
}

// handleHealth answers 200 when every watched dependency is reachable
// and 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:   "healthy",
		Services: []connwatch.Status{},
		Uptime:   buildinfo.Uptime().String(),
	}
	code := http.StatusOK

	if s.health != nil {
		resp.Services = s.health.Status()
		if !s.health.Healthy() {
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}
	if s.components != nil {
		resp.Components = s.components.Len()
	}

	writeJSON(w, code, resp, s.logger)
}
