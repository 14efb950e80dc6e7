// Package telemetry accepts heuristic measurements and relays them through the
// outbox so the enrichment workers see them in the order they were reported.
package telemetry

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/heuristiclogix/eventrelay/pkg/db/models"
	"github.com/heuristiclogix/eventrelay/pkg/enums"
	pkgerrors "github.com/heuristiclogix/eventrelay/pkg/errors"
	"github.com/heuristiclogix/eventrelay/pkg/outbox"
	"github.com/heuristiclogix/eventrelay/pkg/outbox/payloads"
	"github.com/heuristiclogix/eventrelay/pkg/outbox/registry"
)

const maxLabels = 16

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxWriter interface {
	Append(ctx context.Context, tx *gorm.DB, topic string, event outbox.Event) (*models.OutboxEvent, error)
}

type eventRouter interface {
	Lookup(eventType enums.EventType) (registry.EventDescriptor, bool)
}

type ReportInput struct {
	Source     string
	Metric     string
	Value      float64
	Unit       string
	Labels     map[string]string
	ObservedAt *time.Time
}

type Service struct {
	tx     txRunner
	outbox outboxWriter
	router eventRouter
	now    func() time.Time
}

func NewService(tx txRunner, writer outboxWriter, router eventRouter) (*Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if writer == nil {
		return nil, fmt.Errorf("outbox writer required")
	}
	if router == nil {
		return nil, fmt.Errorf("event router required")
	}
	return &Service{tx: tx, outbox: writer, router: router, now: time.Now}, nil
}

// Report records one measurement as a telemetry_reported event.
func (s *Service) Report(ctx context.Context, input ReportInput) (*models.OutboxEvent, error) {
	source := strings.TrimSpace(input.Source)
	metric := strings.TrimSpace(input.Metric)
	if source == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "source is required")
	}
	if metric == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "metric is required")
	}
	if math.IsNaN(input.Value) || math.IsInf(input.Value, 0) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "value must be a finite number")
	}
	if len(input.Labels) > maxLabels {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "too many labels").
			WithDetails(map[string]any{"max_labels": maxLabels})
	}

	observedAt := s.now().UTC()
	if input.ObservedAt != nil && !input.ObservedAt.IsZero() {
		observedAt = input.ObservedAt.UTC()
	}

	desc, ok := s.router.Lookup(enums.EventTelemetryReported)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "telemetry events are not routed")
	}

	var record *models.OutboxEvent
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		record, err = s.outbox.Append(ctx, tx, desc.Topic, outbox.Event{
			Type:          enums.EventTelemetryReported,
			SchemaVersion: desc.SchemaVersion,
			Data: payloads.TelemetryReportedEvent{
				Source:     source,
				Metric:     metric,
				Value:      input.Value,
				Unit:       strings.TrimSpace(input.Unit),
				Labels:     input.Labels,
				ObservedAt: observedAt,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}
