// Package outbox exposes the operator surface for records the publisher gave up on.
package outbox

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/heuristiclogix/eventrelay/api/responses"
	"github.com/heuristiclogix/eventrelay/api/validators"
	"github.com/heuristiclogix/eventrelay/pkg/db/models"
	pkgerrors "github.com/heuristiclogix/eventrelay/pkg/errors"
	"github.com/heuristiclogix/eventrelay/pkg/logger"
	pkgoutbox "github.com/heuristiclogix/eventrelay/pkg/outbox"
	"github.com/heuristiclogix/eventrelay/pkg/pagination"
)

// Operator is the subset of outbox.Operator the handlers need.
type Operator interface {
	ListFailed(ctx context.Context, params pagination.Params) (*pkgoutbox.FailedPage, error)
	Requeue(ctx context.Context, id uuid.UUID) (*models.OutboxEvent, error)
}

type requeueResponse struct {
	ID     uuid.UUID `json:"id"`
	Topic  string    `json:"topic"`
	Status string    `json:"status"`
}

// ListFailed pages Failed records, most recent failure first.
func ListFailed(op Operator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if op == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "outbox operator unavailable"))
			return
		}

		params, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := op.ListFailed(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// Requeue moves a Failed record back to Pending and wakes the publisher.
func Requeue(op Operator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if op == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "outbox operator unavailable"))
			return
		}

		eventID, err := validators.ParseUUIDParam(chi.URLParam(r, "eventId"), "eventId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		row, err := op.Requeue(r.Context(), eventID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, requeueResponse{
			ID:     row.ID,
			Topic:  row.Topic,
			Status: row.Status.String(),
		})
	}
}
