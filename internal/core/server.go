// Package core provides the HTTP chassis for the advisory API: a chi router
// with the cross-cutting middleware (panic recovery, request IDs, logging,
// CORS, metrics and API-key auth), the JSON response envelopes and the health
// endpoint. Domain handlers are mounted through V1RouteRegistrars.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"peakload/internal/config"
)

// MetricsCollector records API request telemetry.
type MetricsCollector interface {
	RecordRequest(ctx context.Context, method, endpoint, status string, duration time.Duration)
}

// Server holds the router and the dependencies shared by all requests.
type Server struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics MetricsCollector

	// HealthProbes are run concurrently by GET /health.
	HealthProbes []HealthProbe

	// V1RouteRegistrars mount domain handlers under /v1. They are appended by
	// main before MountRoutes is called.
	V1RouteRegistrars []func(chi.Router)

	// closers run on Shutdown in registration order.
	closers []func()

	router *chi.Mux
}

// NewServer creates a Server. Routes are mounted separately by MountRoutes so
// tests can customize registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers fn (closing a pool, flushing a client) to run on
// Shutdown.
func (s *Server) OnShutdown(fn func()) {
	s.closers = append(s.closers, fn)
}

// Shutdown releases server resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")
	for _, fn := range s.closers {
		fn()
	}
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
