package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/heuristiclogix/eventrelay/api/controllers"
	"github.com/heuristiclogix/eventrelay/api/middleware"
	"github.com/heuristiclogix/eventrelay/pkg/config"
	"github.com/heuristiclogix/eventrelay/pkg/logger"
)

// NewOpsRouter serves health probes and metrics for the background binaries,
// which expose no business API.
func NewOpsRouter(cfg *config.Config, logg *logger.Logger, metricsHandler http.Handler, checks ...controllers.ReadinessCheck) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer(logg))

	r.Get("/health/live", controllers.HealthLive(cfg))
	r.Get("/health/ready", controllers.HealthReady(cfg, logg, checks...))
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}
	return r
}
