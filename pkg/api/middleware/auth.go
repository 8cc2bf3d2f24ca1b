package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// APIKeyHeader carries the control API key.
const APIKeyHeader = "X-API-Key"

// RequireAPIKey returns a middleware that rejects requests without key in the
// X-API-Key header or an "Authorization: Bearer" header. An empty key
// disables the check.
func RequireAPIKey(key string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(APIKeyHeader)
			if provided == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					provided = strings.TrimPrefix(auth, "Bearer ")
				}
			}

			if provided == "" {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "missing API key")
				return
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(provided)) != 1 {
				logger.Warn("invalid API key",
					zap.String("path", r.URL.Path),
					zap.String("ip", extractClientIP(r)),
				)
				WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
