package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/heuristiclogix/eventrelay/pkg/db"
	"github.com/heuristiclogix/eventrelay/pkg/db/models"
	"github.com/heuristiclogix/eventrelay/pkg/enums"
	pkgerrors "github.com/heuristiclogix/eventrelay/pkg/errors"
	"github.com/heuristiclogix/eventrelay/pkg/outbox"
	"github.com/heuristiclogix/eventrelay/pkg/outbox/payloads"
)

const (
	maxReferenceLength = 64
	maxReasonLength    = 500
)

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxWriter
	router eventRouter
	now    func() time.Time
}

// NewService builds an order service with the required dependencies.
func NewService(repo Repository, tx txRunner, writer outboxWriter, router eventRouter) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if writer == nil {
		return nil, fmt.Errorf("outbox writer required")
	}
	if router == nil {
		return nil, fmt.Errorf("event router required")
	}
	return &service{
		repo:   repo,
		tx:     tx,
		outbox: writer,
		router: router,
		now:    time.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Order, error) {
	reference := strings.TrimSpace(input.Reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}
	if len(reference) > maxReferenceLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference too long").
			WithDetails(map[string]any{"max_length": maxReferenceLength})
	}

	now := s.now().UTC()
	order := &models.Order{
		ID:        uuid.New(),
		Reference: reference,
		Status:    enums.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "order reference already exists")
			}
			return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "create order")
		}
		return s.emit(ctx, tx, enums.EventOrderCreated, false, payloads.OrderCreatedEvent{
			OrderID:   order.ID,
			Reference: order.Reference,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapLoadError(err)
	}
	return order, nil
}

func (s *service) Decide(ctx context.Context, input DecisionInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	decision, err := enums.ParseOrderDecision(string(input.Decision))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid decision")
	}
	reason := strings.TrimSpace(input.Reason)
	if len(reason) > maxReasonLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason too long").
			WithDetails(map[string]any{"max_length": maxReasonLength})
	}
	decidedBy := strings.TrimSpace(input.DecidedBy)
	target := decision.ResultingStatus()

	var result *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, input.OrderID)
		if err != nil {
			return mapLoadError(err)
		}
		if order.Status == target && order.Decision != nil && *order.Decision == decision {
			result = order
			return nil
		}
		if order.Status != enums.OrderStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "decision not allowed in current state").
				WithDetails(map[string]any{"status": order.Status})
		}

		now := s.now().UTC()
		updates := map[string]any{
			"status":     target,
			"decision":   decision,
			"decided_at": now,
			"updated_at": now,
		}
		if reason != "" {
			updates["decision_reason"] = reason
		}
		if decidedBy != "" {
			updates["decided_by"] = decidedBy
		}
		ok, err := repo.UpdateFromStatus(ctx, order.ID, enums.OrderStatusPending, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "update order decision")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order was decided concurrently")
		}

		order.Status = target
		order.Decision = &decision
		order.DecidedAt = &now
		order.UpdatedAt = now
		if reason != "" {
			order.DecisionReason = &reason
		}
		if decidedBy != "" {
			order.DecidedBy = &decidedBy
		}
		result = order

		return s.emit(ctx, tx, enums.EventOrderDecided, false, payloads.OrderDecidedEvent{
			OrderID:   order.ID,
			Reference: order.Reference,
			Decision:  decision,
			Status:    target,
			Reason:    reason,
			DecidedBy: decidedBy,
			DecidedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) MarkDelivered(ctx context.Context, input DeliveryInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, input.OrderID)
		if err != nil {
			return mapLoadError(err)
		}
		if order.Status == enums.OrderStatusDelivered {
			result = order
			return nil
		}
		if order.Status != enums.OrderStatusAccepted {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only accepted orders can be delivered").
				WithDetails(map[string]any{"status": order.Status})
		}

		now := s.now().UTC()
		ok, err := repo.UpdateFromStatus(ctx, order.ID, enums.OrderStatusAccepted, map[string]any{
			"status":       enums.OrderStatusDelivered,
			"delivered_at": now,
			"updated_at":   now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "mark order delivered")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order was updated concurrently")
		}

		order.Status = enums.OrderStatusDelivered
		order.DeliveredAt = &now
		order.UpdatedAt = now
		result = order

		decision := enums.OrderDecisionAccept
		if order.Decision != nil {
			decision = *order.Decision
		}
		return s.emit(ctx, tx, enums.EventOrderDelivered, true, payloads.OrderDeliveredEvent{
			OrderID:     order.ID,
			Reference:   order.Reference,
			Decision:    decision,
			DecidedAt:   order.DecidedAt,
			DeliveredAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.EventType, historic bool, data any) error {
	desc, ok := s.router.Lookup(eventType)
	if !ok {
		return pkgerrors.New(pkgerrors.CodeInternal, "event type is not routed").
			WithDetails(map[string]any{"event_type": eventType})
	}
	_, err := s.outbox.Append(ctx, tx, desc.Topic, outbox.Event{
		Type:          eventType,
		SchemaVersion: desc.SchemaVersion,
		Historic:      historic,
		Data:          data,
	})
	return err
}

func mapLoadError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "load order")
}
