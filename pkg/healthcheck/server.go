package healthcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

const (
	defaultHealthCheckTimeout = 5 * time.Second
	shutdownTimeout           = 5 * time.Second
)

// Config holds the configuration for the health check server.
type Config struct {
	Enabled bool
	Address string
}

// HealthResponse represents the JSON response for health check endpoints.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
}

// CheckFunc reports whether the service is able to authenticate requests.
type CheckFunc func(context.Context) error

// Server manages the HTTP health check server lifecycle.
type Server struct {
	cfg      Config
	check    CheckFunc
	server   *http.Server
	listener net.Listener
	mu       sync.Mutex
	started  bool
	ctx      context.Context
}

func NewServer(cfg Config, check CheckFunc) *Server {
	return &Server{
		cfg:   cfg,
		check: check,
	}
}

// Handler returns the mux serving /health, /ready and /live.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.HandleFunc("/live", s.liveHandler)
	return mux
}

// Start starts the HTTP health check server. It is a no-op when the server
// is not enabled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		return nil
	}
	if s.started {
		return fmt.Errorf("health check server already started")
	}

	s.ctx = ctx
	l := ctxzap.Extract(ctx)

	lc := &net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to create health check listener: %w", err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.started = true

	go func() {
		l.Info("health check server starting", zap.String("address", listener.Addr().String()))
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			l.Error("health check server error", zap.Error(err))
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the health check server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.server == nil {
		return nil
	}

	l := ctxzap.Extract(ctx)
	l.Info("stopping health check server")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown health check server: %w", err)
	}

	s.started = false
	return nil
}

func (s *Server) requestContext(r *http.Request) context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return r.Context()
}

func (s *Server) runCheck(ctx context.Context) error {
	if s.check == nil {
		return nil
	}
	checkCtx, cancel := context.WithTimeout(ctx, defaultHealthCheckTimeout)
	defer cancel()
	return s.check(checkCtx)
}

// healthHandler runs the check and reports the failure cause.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx := s.requestContext(r)
	l := ctxzap.Extract(ctx)

	response := HealthResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Details:   make(map[string]string),
	}

	if err := s.runCheck(ctx); err != nil {
		l.Warn("health check failed", zap.Error(err))
		response.Status = "unhealthy"
		response.Details["error"] = err.Error()
		s.writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}

	response.Status = "healthy"
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := s.requestContext(r)

	response := HealthResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if err := s.runCheck(ctx); err != nil {
		ctxzap.Extract(ctx).Debug("readiness check failed", zap.Error(err))
		response.Status = "not_ready"
		s.writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}

	response.Status = "ready"
	s.writeJSON(w, http.StatusOK, response)
}

// liveHandler always returns HTTP 200 to indicate the process is alive.
func (s *Server) liveHandler(w http.ResponseWriter, _ *http.Request) {
	response := HealthResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
