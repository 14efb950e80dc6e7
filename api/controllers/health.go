package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/heuristiclogix/eventrelay/api/responses"
	"github.com/heuristiclogix/eventrelay/pkg/config"
	pkgerrors "github.com/heuristiclogix/eventrelay/pkg/errors"
	"github.com/heuristiclogix/eventrelay/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// ReadinessCheck is one dependency probed by the ready endpoint.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-EventRelay-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady probes every check and answers 503 with the per-dependency
// status when any of them fails.
func HealthReady(cfg *config.Config, logg *logger.Logger, checks ...ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-EventRelay-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		statuses := make(map[string]string, len(checks))
		healthy := true
		for _, check := range checks {
			if check.Check == nil {
				continue
			}
			if err := check.Check(ctx); err != nil {
				healthy = false
				statuses[check.Name] = "down"
				if logg != nil {
					logg.Warn(logg.WithFields(r.Context(), map[string]any{
						"dependency": check.Name,
						"error":      err.Error(),
					}), "readiness check failed")
				}
				continue
			}
			statuses[check.Name] = "up"
		}

		if !healthy {
			responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").WithDetails(statuses))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": statuses})
	}
}
