package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/kpisim/pkg/frontend"
)

// HealthFunc reports whether the service can serve traffic.
type HealthFunc func(ctx context.Context) error

// Server serves the dashboard, the websocket endpoint and /healthz.
type Server struct {
	log    logrus.FieldLogger
	config *Config
	http   *http.Server

	listener net.Listener
	cancel   context.CancelFunc
	group    *errgroup.Group
}

// NewServer creates a new server instance
func NewServer(log logrus.FieldLogger, config *Config, ws http.Handler, health HealthFunc) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	dashboard, err := frontend.NewHandler(&config.Frontend)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle(config.WSPath, ws)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/", dashboard)

	return &Server{
		log:    log.WithField("component", "server"),
		config: config,
		http: &http.Server{
			Addr:              config.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Handler returns the server's request router.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Addr returns the bound listen address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.config.Addr
	}

	return s.listener.Addr().String()
}

// Start binds the listener and serves until Stop or ctx is done.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}

	s.listener = listener

	ctx, s.cancel = context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	s.group = g

	g.Go(func() error {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		return s.http.Shutdown(shutdownCtx)
	})

	s.log.WithFields(logrus.Fields{
		"addr":    listener.Addr().String(),
		"ws_path": s.config.WSPath,
	}).Info("Server listening")

	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	if s.cancel == nil {
		return nil
	}

	s.cancel()

	if err := s.group.Wait(); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.log.Info("Server stopped")

	return nil
}
