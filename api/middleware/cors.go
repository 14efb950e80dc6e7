package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

const corsMaxAgeSeconds = 300

// CORS applies the browser origin policy. Blank entries are ignored and an
// empty list only admits the local ops dashboard.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(origins))
	for _, origin := range origins {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowed = append(allowed, origin)
		}
	}
	if len(allowed) == 0 {
		allowed = []string{"http://localhost:3000"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", idempotencyKeyHeader, requestIDHeader},
		ExposedHeaders: []string{requestIDHeader, replayedHeader, "Retry-After"},
		MaxAge:         corsMaxAgeSeconds,
	})
}
