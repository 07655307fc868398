package core

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"peakload/internal/types"
)

// responseCapture records the status code written by downstream handlers.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rc *responseCapture) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	return rc.ResponseWriter.Write(b)
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (rc *responseCapture) Unwrap() http.ResponseWriter {
	return rc.ResponseWriter
}

// Recoverer turns a panic into a logged stack trace and a 500 error envelope.
// It must be the outermost middleware.
func (s *Server) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				s.Logger.Error("panic recovered",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("panic", fmt.Sprintf("%v", rvr)),
					slog.String("stack", string(debug.Stack())),
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = writeJSON(w, APIErrorResponse{
					Error: ErrorDetail{
						Code:      string(types.ErrCodeInternalUnexpected),
						Message:   "an unexpected error occurred",
						RequestID: types.GetRequestID(r.Context()),
					},
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs method, path, status and duration of every request with
// the listed headers masked. 5xx responses log at error level, 4xx at warn.
func RequestLogger(logger *slog.Logger, redactedHeaders []string) func(http.Handler) http.Handler {
	redact := make(map[string]bool, len(redactedHeaders))
	for _, h := range redactedHeaders {
		redact[http.CanonicalHeaderKey(h)] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rc := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rc, r)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rc.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_addr", r.RemoteAddr),
			}
			if reqID := types.GetRequestID(r.Context()); reqID != "" {
				attrs = append(attrs, slog.String("request_id", reqID))
			}
			if headers := headerAttrs(r.Header, redact); len(headers) > 0 {
				attrs = append(attrs, slog.Group("headers", headers...))
			}
			logger.LogAttrs(r.Context(), levelForStatus(rc.statusCode), "request completed", attrs...)
		})
	}
}

func headerAttrs(h http.Header, redact map[string]bool) []any {
	out := make([]any, 0, len(h))
	for name, values := range h {
		value := strings.Join(values, ", ")
		if redact[http.CanonicalHeaderKey(name)] {
			value = "[REDACTED]"
		}
		out = append(out, slog.String(name, value))
	}
	return out
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// MetricsMiddleware reports latency per route pattern. It is a pass-through
// when no collector is configured.
func (s *Server) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rc := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rc, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		s.Metrics.RecordRequest(r.Context(), r.Method, endpoint, strconv.Itoa(rc.statusCode), time.Since(start))
	})
}

// SecurityHeadersMiddleware sets the standard hardening headers.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// corsPolicy resolves the Access-Control-Allow-Origin value for a request.
type corsPolicy struct {
	any     bool
	origins map[string]bool
}

func newCORSPolicy(allowed []string) corsPolicy {
	p := corsPolicy{origins: make(map[string]bool, len(allowed))}
	for _, o := range allowed {
		if o == "*" {
			p.any = true
		}
		p.origins[o] = true
	}
	return p
}

// allowOrigin returns "*" when any origin is allowed, the request origin when
// it is listed, and "" otherwise.
func (p corsPolicy) allowOrigin(origin string) string {
	switch {
	case p.any:
		return "*"
	case origin != "" && p.origins[origin]:
		return origin
	default:
		return ""
	}
}

// NewCORSMiddleware allows the listed origins ("*" for any) and answers
// preflight requests with 204.
func NewCORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := newCORSPolicy(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := policy.allowOrigin(r.Header.Get("Origin")); origin != "" {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
				h.Set("Access-Control-Expose-Headers", "X-Request-ID, Content-Disposition, X-Run-Id")
				h.Set("Access-Control-Max-Age", "86400")
				if origin != "*" {
					h.Add("Vary", "Origin")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeJSON formats the panic envelope without encoding/json so a broken
// value cannot panic twice.
func writeJSON(w http.ResponseWriter, resp APIErrorResponse) error {
	s := fmt.Sprintf(`{"error":{"code":"%s","message":"%s","request_id":"%s"}}`,
		escapeJSON(resp.Error.Code), escapeJSON(resp.Error.Message), escapeJSON(resp.Error.RequestID))
	_, err := w.Write([]byte(s))
	return err
}

func escapeJSON(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`).Replace(s)
}
