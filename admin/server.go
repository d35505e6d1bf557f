package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"

	"github.com/rs/zerolog/log"
)

// Server serves the admin API, pprof and, when enabled, Prometheus metrics
type Server struct {
	address        string
	port           int
	handlers       *AdminHandlers
	metricsHandler http.Handler
	httpServer     *http.Server
	listener       net.Listener
}

// NewServer creates an admin HTTP server
func NewServer(address string, port int, handlers *AdminHandlers) *Server {
	return &Server{
		address:  address,
		port:     port,
		handlers: handlers,
	}
}

// SetMetricsHandler sets the Prometheus metrics HTTP handler
func (s *Server) SetMetricsHandler(handler http.Handler) {
	s.metricsHandler = handler
}

// Handler builds the HTTP handler tree
func (s *Server) Handler() http.Handler {
	httpMux := http.NewServeMux()

	httpMux.HandleFunc("/debug/pprof/", pprof.Index)
	httpMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	httpMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	httpMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	httpMux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	if s.metricsHandler != nil {
		httpMux.Handle("/metrics", s.metricsHandler)
		log.Info().Msg("Metrics endpoint enabled at /metrics")
	}

	RegisterRoutes(httpMux, s.handlers)
	return httpMux
}

// Start listens and serves in the background
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.address, s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.listener = listener
	s.httpServer = &http.Server{Handler: s.Handler()}

	log.Info().Str("address", addr).Msg("Starting admin server")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin server failed")
		}
	}()

	return nil
}

// Addr returns the bound listener address
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	log.Info().Msg("Stopping admin server")
	return s.httpServer.Shutdown(ctx)
}
