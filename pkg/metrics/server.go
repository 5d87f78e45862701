package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the global registry over HTTP.
//
// Endpoints:
//   - GET /metrics: Prometheus metrics (503 when metrics are disabled)
//   - GET /: index page linking to /metrics
type Server struct {
	server       *http.Server
	port         int
	shutdownOnce sync.Once

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

// ServerConfig configures the metrics HTTP server.
type ServerConfig struct {
	// Port to listen on. Zero selects 9090; use a listener obtained
	// elsewhere through Serve for ephemeral ports.
	Port int
}

func (c *ServerConfig) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 9090
	}
}

// NewServer creates a stopped metrics server. Call Start to begin serving.
func NewServer(config ServerConfig) *Server {
	config.applyDefaults()

	s := &Server{
		port:  config.Port,
		ready: make(chan struct{}),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler serving the metrics endpoints.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()

	if reg := GetRegistry(); reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
		logger.Debug("Metrics endpoint registered at /metrics")
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "Metrics collection is disabled\n")
		})
		logger.Debug("Metrics collection disabled")
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>DittoRPC Metrics</title></head>
<body>
    <h1>DittoRPC Metrics Server</h1>
    <p><strong>Metrics Endpoint:</strong> <a href="/metrics">/metrics</a></p>
    <p>Transport registry and connection dispatcher metrics in Prometheus format.</p>
</body>
</html>`)
	})

	return mux
}

// Start listens on the configured port and serves until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("metrics server failed to listen on port %d: %w", s.port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on a caller-supplied listener. A Server serves at most once.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening on %s", ln.Addr())

		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Metrics server shutdown signal received")
		// ctx is already cancelled, so shutdown gets its own deadline
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop gracefully shuts the server down. It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("Metrics server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("metrics server shutdown error: %w", err)
			logger.Error("Metrics server shutdown error: %v", err)
		} else {
			logger.Info("Metrics server stopped gracefully")
		}
	})
	return shutdownErr
}

// Ready is closed once the server has a listener.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port returns the configured TCP port.
func (s *Server) Port() int {
	return s.port
}
