// Package control serves a component's control endpoint over HTTP.
//
//	GET  /status  component snapshot (workers, queues, counters)
//	GET  /health  aggregated health, 503 when unhealthy
//	POST /stop    begins StopRun and answers 202 immediately
//
// The server is itself a background worker of the component it controls, so
// it starts with Run and shuts down with StopRun.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Elon-Abulafia/PipeRT/component"
	"github.com/Elon-Abulafia/PipeRT/errors"
	"github.com/Elon-Abulafia/PipeRT/health"
	"github.com/Elon-Abulafia/PipeRT/pkg/worker"
)

// WorkerName is the name the control server registers under
const WorkerName = "control"

// ShutdownTimeout bounds the graceful HTTP shutdown
const ShutdownTimeout = 5 * time.Second

// Target is the component being controlled
type Target interface {
	Name() string
	Snapshot() component.Snapshot
	Health() health.Status
	StopRun(ctx context.Context) int
}

// ParseEndpoint turns "tcp://host:port" or "host:port" into a listen address
func ParseEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", errors.WrapInvalid(errors.ErrMissingConfig, "control", "ParseEndpoint", "check endpoint")
	}

	addr := endpoint
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return "", errors.WrapInvalid(err, "control", "ParseEndpoint", "parse endpoint")
		}
		if u.Scheme != "tcp" && u.Scheme != "http" {
			return "", errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrUnsupportedScheme, u.Scheme),
				"control", "ParseEndpoint", "check scheme")
		}
		addr = u.Host
	}

	if _, _, err := net.SplitHostPort(addr); err != nil {
		return "", errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"control", "ParseEndpoint", "split host and port")
	}
	return addr, nil
}

// Server is the HTTP control endpoint
type Server struct {
	target Target
	addr   string
	logger *slog.Logger
	mux    *http.ServeMux

	mu    sync.Mutex
	bound string
	ready chan struct{}
}

// NewServer creates a server for target listening on endpoint
func NewServer(endpoint string, target Target, logger *slog.Logger) (*Server, error) {
	addr, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		target: target,
		addr:   addr,
		logger: logger.With("endpoint", addr),
		mux:    http.NewServeMux(),
		ready:  make(chan struct{}),
	}
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /stop", s.handleStop)
	return s, nil
}

// Attach registers a control server for c at c's endpoint
func Attach(c *component.Component) (*Server, error) {
	s, err := NewServer(c.Endpoint(), c, c.Logger())
	if err != nil {
		return nil, err
	}
	w, err := worker.NewBackground(WorkerName, s.Serve)
	if err != nil {
		return nil, err
	}
	if err := c.RegisterRoutine(w); err != nil {
		return nil, err
	}
	return s, nil
}

// Handler returns the route table
func (s *Server) Handler() http.Handler { return s.mux }

// Ready is closed once the server is listening
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address once listening, the configured one before
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != "" {
		return s.bound
	}
	return s.addr
}

// Serve listens and serves until ctx is done, then shuts down gracefully
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.WrapFatal(err, "control", "Serve", "listen on "+s.addr)
	}

	s.mu.Lock()
	s.bound = ln.Addr().String()
	s.mu.Unlock()
	close(s.ready)

	srv := &http.Server{
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()
	s.logger.Info("Control endpoint listening", "addr", ln.Addr().String())

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "control", "Serve", "serve")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "control", "Serve", "shutdown")
	}
	s.logger.Debug("Control endpoint closed")
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.target.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.target.Health()
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Stop requested", "remote", r.RemoteAddr)
	go s.target.StopRun(context.Background())

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"component": s.target.Name(),
		"status":    "stopping",
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}
