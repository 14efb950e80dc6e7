package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/heuristiclogix/eventrelay/pkg/logger"
	"github.com/heuristiclogix/eventrelay/pkg/metrics"
)

// probe paths are scraped constantly; their access lines drop to debug.
var probePaths = map[string]bool{
	"/health/live":  true,
	"/health/ready": true,
	"/metrics":      true,
}

// Logging writes one access line per request and feeds the HTTP metrics.
// Either dependency may be nil.
func Logging(logg *logger.Logger, m *metrics.HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{
					"method": r.Method,
					"path":   r.URL.Path,
				})
			}
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			took := time.Since(start)
			route := routePatternOf(r)
			m.Observe(route, r.Method, status, took)

			if logg == nil {
				return
			}
			ctx = logg.WithFields(ctx, map[string]any{
				"route":       route,
				"status":      status,
				"bytes":       ww.BytesWritten(),
				"duration_ms": took.Milliseconds(),
			})
			switch {
			case probePaths[r.URL.Path]:
				logg.Debug(ctx, "request completed")
			case status >= http.StatusInternalServerError:
				logg.Warn(ctx, "request completed")
			default:
				logg.Info(ctx, "request completed")
			}
		})
	}
}

// routePatternOf is read after the handler ran, once chi has filled in the
// matched pattern.
func routePatternOf(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}
