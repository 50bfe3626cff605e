// Package server exposes the runtime facade over HTTP. The endpoint
// paths, the X-API-Key header and the 511 error envelope are a wire
// contract shared with the clients.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/swe-agent/swe-rex/internal/logging"
	"github.com/swe-agent/swe-rex/internal/runtime"
)

// Config holds the HTTP listener configuration.
type Config struct {
	Host   string
	Port   int
	APIKey string
}

// Server multiplexes runtime operations over HTTP. It is internally
// concurrent; per-session serialization happens below the facade.
type Server struct {
	runtime runtime.Runtime
	apiKey  string
	addr    string
	metrics *Metrics

	httpServer *http.Server
}

// New creates a server for the given runtime.
func New(cfg *Config, rt runtime.Runtime) *Server {
	s := &Server{
		runtime: rt,
		apiKey:  cfg.APIKey,
		addr:    net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		metrics: NewMetrics(),
	}
	s.httpServer = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	return s
}

// Handler builds the route table. Exposed separately so tests can mount
// it on httptest servers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /is_alive", s.handleIsAlive)
	mux.HandleFunc("POST /create_session", s.handleCreateSession)
	mux.HandleFunc("POST /run_in_session", s.handleRunInSession)
	mux.HandleFunc("POST /close_session", s.handleCloseSession)
	mux.HandleFunc("POST /execute", s.handleExecute)
	mux.HandleFunc("POST /read_file", s.handleReadFile)
	mux.HandleFunc("POST /write_file", s.handleWriteFile)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /close", s.handleClose)

	authed := s.authMiddleware(mux)

	// Scrape endpoint stays outside the token check.
	outer := http.NewServeMux()
	outer.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	outer.Handle("/", authed)

	return s.observeMiddleware(outer)
}

// Start listens and serves until Stop is called. A bind failure is
// returned immediately.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	logging.Info("server listening",
		logging.String("addr", s.addr),
		logging.Bool("auth_enabled", s.apiKey != ""),
	)
	if err := s.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains in-flight requests, then closes the runtime and every
// session with it.
func (s *Server) Stop(ctx context.Context) {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		logging.Warn("http shutdown", logging.Err(err))
	}
	if _, err := s.runtime.Close(ctx); err != nil {
		logging.Warn("runtime close", logging.Err(err))
	}
}
