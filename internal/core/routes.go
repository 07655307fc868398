package core

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"peakload/internal/types"
)

// defaultRequestTimeout bounds a request when the config sets none. Forecast
// fits over long histories are the slowest path.
const defaultRequestTimeout = 60 * time.Second

// defaultRedactedHeaders are masked in request logs.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
}

// MountRoutes registers the middleware chain, the /v1 group and GET /health.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.Get("/health", s.HandleHealth)
	s.router.Route("/v1", func(r chi.Router) {
		for _, registrar := range s.V1RouteRegistrars {
			registrar(r)
		}
	})
}

// registerGlobalMiddleware applies middleware outermost first. Recovery wraps
// everything; the request ID exists before anything logs; auth runs last so
// rejected requests are still logged and measured.
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))
	s.router.Use(s.MetricsMiddleware)
	s.router.Use(APIKeyMiddleware(s.Config.Server.APIKey))
}

func (s *Server) requestTimeout() time.Duration {
	if s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}

func (s *Server) corsAllowedOrigins() []string {
	if len(s.Config.Server.CorsAllowedOrigins) > 0 {
		return s.Config.Server.CorsAllowedOrigins
	}
	return []string{"*"}
}

// ContextTimeoutMiddleware sets a deadline on the request context.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware reuses an incoming X-Request-Id or generates one, stores
// it in the context and echoes it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), requestID)))
	})
}
