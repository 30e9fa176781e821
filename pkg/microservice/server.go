// Package microservice holds the HTTP surfaces of the bridge: the liveness
// responder polled by the process supervisor and the optional metrics listener.
package microservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server runs one http.Server on its own listener.
type Server struct {
	logger     zerolog.Logger
	addr       string
	httpServer *http.Server
	actualAddr string
	mu         sync.RWMutex
}

// NewServer creates a server for handler listening on addr (host:port).
func NewServer(logger zerolog.Logger, name, addr string, handler http.Handler) *Server {
	return &Server{
		logger: logger.With().Str("component", name).Logger(),
		addr:   addr,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// NewLivenessServer answers every GET or HEAD with 200 "OK" on all
// interfaces at port.
func NewLivenessServer(logger zerolog.Logger, port string) *Server {
	return NewServer(logger, "LivenessServer", net.JoinHostPort("", port), http.HandlerFunc(LivenessHandler))
}

// NewMetricsServer exposes gatherer at /metrics on port.
func NewMetricsServer(logger zerolog.Logger, port string, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return NewServer(logger, "MetricsServer", net.JoinHostPort("", port), mux)
}

// Start binds the listener and serves in a background goroutine. Bind errors
// are returned; serve errors after that are logged.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.actualAddr = listener.Addr().String()
	s.mu.Unlock()

	s.logger.Info().Str("address", s.actualAddr).Msg("HTTP server starting to listen")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()
	return nil
}

// Shutdown gracefully stops the server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error during HTTP server shutdown.")
		return err
	}
	s.logger.Info().Msg("HTTP server stopped.")
	return nil
}

// Addr returns the bound address once started, otherwise the configured one.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.actualAddr == "" {
		return s.addr
	}
	return s.actualAddr
}

// LivenessHandler responds 200 "OK" to GET and HEAD on any path.
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
