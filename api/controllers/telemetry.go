package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/heuristiclogix/eventrelay/api/responses"
	"github.com/heuristiclogix/eventrelay/api/validators"
	"github.com/heuristiclogix/eventrelay/internal/telemetry"
	"github.com/heuristiclogix/eventrelay/pkg/db/models"
	pkgerrors "github.com/heuristiclogix/eventrelay/pkg/errors"
	"github.com/heuristiclogix/eventrelay/pkg/logger"
)

type TelemetryReporter interface {
	Report(ctx context.Context, input telemetry.ReportInput) (*models.OutboxEvent, error)
}

type telemetryRequest struct {
	Source     string            `json:"source" validate:"required,max=128"`
	Metric     string            `json:"metric" validate:"required,max=128"`
	Value      *float64          `json:"value" validate:"required"`
	Unit       string            `json:"unit" validate:"max=32"`
	Labels     map[string]string `json:"labels"`
	ObservedAt *time.Time        `json:"observed_at"`
}

// ReportTelemetry accepts one heuristic measurement for relay.
func ReportTelemetry(svc TelemetryReporter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "telemetry service unavailable"))
			return
		}

		var payload telemetryRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.Report(r.Context(), telemetry.ReportInput{
			Source:     payload.Source,
			Metric:     payload.Metric,
			Value:      *payload.Value,
			Unit:       payload.Unit,
			Labels:     payload.Labels,
			ObservedAt: payload.ObservedAt,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]any{
			"event_id": record.ID,
			"topic":    record.Topic,
		})
	}
}
