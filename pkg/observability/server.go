package observability

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Server exposes /metrics and the health endpoints
type Server struct {
	httpServer *http.Server
}

// NewServer creates a server listening on addr (e.g. ":9090")
func NewServer(addr string, checker *HealthChecker) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.HealthHandler())
	mux.HandleFunc("/health/live", LivenessHandler())
	mux.HandleFunc("/health/ready", checker.ReadinessHandler())
	mux.Handle("/metrics", MetricsHandler())

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
