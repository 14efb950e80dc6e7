package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/heuristiclogix/eventrelay/pkg/db/models"
	dbtypes "github.com/heuristiclogix/eventrelay/pkg/db/types"
	"github.com/heuristiclogix/eventrelay/pkg/outbox/registry"
)

// Repository persists enrichment records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, record *models.Enrichment) error
	FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.Enrichment, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an enrichment repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, record *models.Enrichment) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(record).Error
}

// FindByEventID returns nil, nil when the event has not been enriched.
func (r *repository) FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.Enrichment, error) {
	var record models.Enrichment
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// NewRecord builds the row stored for one enriched event.
func NewRecord(event *registry.ResolvedEvent, result Result, took time.Duration) (*models.Enrichment, error) {
	eventID, err := event.Envelope.ID()
	if err != nil {
		return nil, fmt.Errorf("parse event id: %w", err)
	}
	tags, err := encodeList(result.Tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	actions, err := encodeList(result.SuggestedActions)
	if err != nil {
		return nil, fmt.Errorf("encode suggested actions: %w", err)
	}
	return &models.Enrichment{
		ID:               uuid.New(),
		EventID:          eventID,
		EventType:        event.Envelope.Type,
		Topic:            event.Descriptor.Topic,
		Tags:             tags,
		ConfidenceScore:  result.Confidence,
		Reasoning:        result.Reasoning,
		SuggestedActions: actions,
		ProcessingTimeMs: took.Milliseconds(),
		Historic:         event.Envelope.Historic,
	}, nil
}

func encodeList(values []string) (dbtypes.JSON, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return dbtypes.JSON(raw), nil
}
