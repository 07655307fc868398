package core

import (
	"net/http"
	"strings"

	"peakload/internal/types"
)

// authPublicPaths bypass API-key authentication.
var authPublicPaths = map[string]bool{
	"/health": true,
}

// APIKeyMiddleware requires "Authorization: Bearer <key>" matching key on every
// non-public path. An unset key disables the check. Comparison is constant
// time.
func APIKeyMiddleware(key types.SecretString) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key.IsZero() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authPublicPaths[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authorization header is required", nil))
				return
			}
			token := extractBearerToken(authHeader)
			if token == "" {
				Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Bearer token is required", nil))
				return
			}
			if !key.Matches(token) {
				Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "Invalid API key", nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractBearerToken returns the token of a "Bearer <token>" header value
// (scheme case-insensitive per RFC 7235), or "" when malformed.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}
