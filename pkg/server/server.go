package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// DefaultShutdownTimeout bounds Stop when the config leaves it unset.
const DefaultShutdownTimeout = 15 * time.Second

// CoreService is a long-running component hosted by the Server.
type CoreService interface {
	Start() error
	Stop()
}

// FailureReporter is implemented by services whose background loop can end
// on its own. An error on the channel fails the whole server.
type FailureReporter interface {
	Errors() <-chan error
}

// Config holds the configuration for the Server wrapper.
type Config struct {
	ServiceName     string
	HTTPPort        string
	ShutdownTimeout time.Duration
}

// Server hosts a set of core services behind an HTTP listener that exposes
// /healthz and any extra routes mounted before Start.
type Server struct {
	config   Config
	logger   zerolog.Logger
	router   chi.Router
	services []CoreService

	mu         sync.Mutex
	started    []CoreService
	httpServer *http.Server
	listener   net.Listener
	serveDone  chan struct{}
	unwatch    chan struct{}

	failMu  sync.Mutex
	failure error
	failed  chan error
}

// NewServer creates a Server. Services are started in the order given and
// stopped in reverse.
func NewServer(cfg Config, logger zerolog.Logger, services ...CoreService) (*Server, error) {
	if cfg.ServiceName == "" {
		return nil, errors.New("server config: ServiceName is required")
	}
	if cfg.HTTPPort == "" {
		return nil, errors.New("server config: HTTPPort is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	for i, svc := range services {
		if svc == nil {
			return nil, fmt.Errorf("service %d is nil", i)
		}
	}

	s := &Server{
		config:   cfg,
		logger:   logger.With().Str("service_wrapper", cfg.ServiceName).Logger(),
		services: services,
		failed:   make(chan error, 1),
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(s.requestLogger)
	router.Use(middleware.Recoverer)
	router.Get("/healthz", s.healthzHandler)
	s.router = router
	return s, nil
}

// Router exposes the chi router so callers can mount extra routes.
func (s *Server) Router() chi.Router {
	return s.router
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestLogger logs each request through zerolog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Failure(); err != nil {
		http.Error(w, "unhealthy: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

// Failure returns the first error reported by a core service, or nil.
func (s *Server) Failure() error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.failure
}

// Fail records err as the server failure. Only the first one is kept; Run
// returns it after shutting down.
func (s *Server) Fail(err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	if s.failure != nil || err == nil {
		return
	}
	s.failure = err
	s.logger.Error().Err(err).Msg("Core service failed")
	s.failed <- err
}

// watch forwards the first error of one service to Fail.
func (s *Server) watch(errs <-chan error, unwatch <-chan struct{}) {
	select {
	case err, ok := <-errs:
		if ok && err != nil {
			s.Fail(fmt.Errorf("core service stopped: %w", err))
		}
	case <-unwatch:
	}
}

// Start starts every core service and then the HTTP listener. When a service
// fails to start, the ones already running are stopped again.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info().Msg("Starting application...")

	for _, svc := range s.services {
		if err := svc.Start(); err != nil {
			s.stopServicesLocked()
			return fmt.Errorf("failed to start core service: %w", err)
		}
		s.started = append(s.started, svc)
	}
	s.unwatch = make(chan struct{})
	for _, svc := range s.services {
		if r, ok := svc.(FailureReporter); ok {
			go s.watch(r.Errors(), s.unwatch)
		}
	}

	listener, err := net.Listen("tcp", s.config.HTTPPort)
	if err != nil {
		s.stopServicesLocked()
		return fmt.Errorf("failed to listen on %s: %w", s.config.HTTPPort, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 3 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	s.serveDone = make(chan struct{})

	go func() {
		defer close(s.serveDone)
		s.logger.Info().Str("address", listener.Addr().String()).Msg("HTTP server listening")
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server Serve error")
		}
		s.logger.Info().Msg("HTTP server shut down.")
	}()

	s.logger.Info().Int("services", len(s.services)).Msg("Application started successfully.")
	return nil
}

// Addr returns the address the HTTP listener is bound to, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts down the HTTP server and then every started service in reverse
// order, all within the shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info().Msg("Shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	if s.unwatch != nil {
		close(s.unwatch)
		s.unwatch = nil
	}

	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("HTTP server shutdown error")
			firstErr = err
		}
		<-s.serveDone
		s.httpServer = nil
		s.listener = nil
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		s.stopServicesLocked()
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		s.logger.Error().Msg("Timed out waiting for core services to stop.")
		if firstErr == nil {
			firstErr = fmt.Errorf("shutdown timed out: %w", shutdownCtx.Err())
		}
	}

	s.logger.Info().Msg("Application shut down.")
	return firstErr
}

func (s *Server) stopServicesLocked() {
	for i := len(s.started) - 1; i >= 0; i-- {
		s.started[i].Stop()
	}
	s.started = nil
}

// Run starts the server and blocks until SIGINT, SIGTERM, ctx is done or a
// core service fails, then shuts it down. A service failure is returned.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	var failure error
	select {
	case <-sigCtx.Done():
		s.logger.Info().Msg("Shutdown signal received.")
	case failure = <-s.failed:
		s.logger.Error().Err(failure).Msg("Shutting down after core service failure.")
	}

	if err := s.Stop(context.Background()); err != nil {
		return errors.Join(failure, err)
	}
	return failure
}
