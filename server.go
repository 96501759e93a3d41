package admitgate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kestrelhq/admitgate/internal/config"
	"github.com/kestrelhq/admitgate/internal/logging"
)

// ServerConfig holds the listener addresses for the main and metrics
// servers.
type ServerConfig struct {
	Addr        string
	MetricsAddr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns reasonable listener defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		MetricsAddr:  ":9090",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server pairs a Gateway with the HTTP listeners that expose it: the main
// traffic listener and a separate metrics listener, so that scraping
// /metrics never competes with admission-controlled traffic for a slot.
type Server struct {
	gateway *Gateway
	main    *http.Server
	metrics *http.Server
}

// NewServer builds a Server from cfg and sc.
func NewServer(cfg *config.Config, sc ServerConfig, opts ...Option) (*Server, error) {
	gw, err := New(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("admitgate: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gw.Metrics().Registry(), promhttp.HandlerOpts{}))

	return &Server{
		gateway: gw,
		main: &http.Server{
			Addr:         sc.Addr,
			Handler:      gw.Handler(),
			ReadTimeout:  sc.ReadTimeout,
			WriteTimeout: sc.WriteTimeout,
			IdleTimeout:  sc.IdleTimeout,
		},
		metrics: &http.Server{
			Addr:    sc.MetricsAddr,
			Handler: mux,
		},
	}, nil
}

// Gateway returns the underlying Gateway.
func (s *Server) Gateway() *Gateway {
	return s.gateway
}

// Start starts both listeners without blocking.
func (s *Server) Start() error {
	errCh := make(chan error, 2)

	go func() {
		logging.Info("admission gateway listening", zap.String("addr", s.main.Addr))
		if err := s.main.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("main listener: %w", err)
		}
	}()

	go func() {
		logging.Info("metrics listening", zap.String("addr", s.metrics.Addr))
		if err := s.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics listener: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
	}
	return nil
}

// Run starts both listeners and blocks until SIGINT/SIGTERM, then shuts
// down gracefully.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info("shutting down")
	return s.Shutdown(30 * time.Second)
}

// Shutdown gracefully stops both listeners within timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := s.metrics.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("metrics listener: %w", err))
	}
	if err := s.main.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("main listener: %w", err))
	}
	if err := s.gateway.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracer: %w", err))
	}
	return errors.Join(errs...)
}
