package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/najoast/robo/metric"
)

// MetricsServer serves the Prometheus registry and a JSON health report.
type MetricsServer struct {
	address  string
	path     string
	registry *metric.Registry
	health   func() map[string]HealthStatus
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// NewMetricsServer creates a server for address. The registry is served on
// path and the health report on /healthz.
func NewMetricsServer(address, path string, registry *metric.Registry, health func() map[string]HealthStatus, logger *slog.Logger) *MetricsServer {
	if path == "" {
		path = "/metrics"
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &MetricsServer{
		address:  address,
		path:     path,
		registry: registry,
		health:   health,
		logger:   logger.With("component", "metrics"),
	}

	mux := http.NewServeMux()
	mux.Handle(path, registry.Handler())
	mux.HandleFunc("/healthz", s.serveHealth)
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Name implements Service.
func (s *MetricsServer) Name() string {
	return "metrics"
}

// Listen binds the listener so bind errors surface before Serve.
func (s *MetricsServer) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *MetricsServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve implements Service. It shuts the HTTP server down when ctx is done.
func (s *MetricsServer) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("metrics server shutdown", "error", err)
		}
	})
	defer stop()

	s.logger.Info("serving metrics", "address", s.Addr().String(), "path", s.path)
	err := s.server.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *MetricsServer) serveHealth(w http.ResponseWriter, _ *http.Request) {
	report := map[string]HealthStatus{}
	if s.health != nil {
		report = s.health()
	}

	code := http.StatusOK
	for _, status := range report {
		if status.State == HealthCritical {
			code = http.StatusServiceUnavailable
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		s.logger.Warn("failed to write health report", "error", err)
	}
}
