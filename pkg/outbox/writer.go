package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/heuristiclogix/eventrelay/pkg/db"
	"github.com/heuristiclogix/eventrelay/pkg/db/models"
	dbtypes "github.com/heuristiclogix/eventrelay/pkg/db/types"
	"github.com/heuristiclogix/eventrelay/pkg/enums"
	"github.com/heuristiclogix/eventrelay/pkg/logger"
)

// DefaultMaxPayloadBytes caps a serialized envelope when no ceiling is configured.
const DefaultMaxPayloadBytes = 1 << 20

// Signaler wakes the publisher. Implementations must not block.
type Signaler interface {
	Notify()
}

// Event is what business code hands to Append.
type Event struct {
	Type          enums.EventType
	SchemaVersion int
	Historic      bool
	Data          any
}

// Writer is the only component that inserts outbox rows and the only one
// that signals the publisher about them.
type Writer struct {
	repo            *Repository
	signaler        Signaler
	maxPayloadBytes int
	now             func() time.Time
	logg            *logger.Logger
}

type WriterParams struct {
	Repository      *Repository
	Signaler        Signaler
	MaxPayloadBytes int
	Logger          *logger.Logger
	Now             func() time.Time
}

func NewWriter(params WriterParams) (*Writer, error) {
	if params.Repository == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.Signaler == nil {
		return nil, errors.New("signaler is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	limit := params.MaxPayloadBytes
	if limit <= 0 {
		limit = DefaultMaxPayloadBytes
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Writer{
		repo:            params.Repository,
		signaler:        params.Signaler,
		maxPayloadBytes: limit,
		now:             now,
		logg:            params.Logger,
	}, nil
}

// Append inserts one Pending record inside tx and never commits. The publisher
// is notified only after the transaction opened by db.Client.WithTx commits;
// for any other transaction the record waits for the fallback poll.
func (w *Writer) Append(ctx context.Context, tx *gorm.DB, topic string, event Event) (*models.OutboxEvent, error) {
	if tx == nil {
		return nil, validationError(ErrTransactionRequired, nil)
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, validationError(ErrTopicRequired, map[string]any{"field": "topic"})
	}
	if !event.Type.IsValid() {
		return nil, validationError(ErrInvalidEventType, map[string]any{"type": event.Type})
	}
	version := event.SchemaVersion
	if version == 0 {
		version = 1
	}
	if version < 0 {
		return nil, validationError(ErrInvalidVersion, map[string]any{"schema_version": version})
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return nil, validationError(ErrPayloadEncoding, map[string]any{"reason": err.Error()})
	}
	if string(data) == "null" {
		return nil, validationError(ErrPayloadRequired, nil)
	}

	id := uuid.New()
	now := w.now().UTC()
	payload, err := json.Marshal(Envelope{
		EventID:       id.String(),
		Type:          event.Type,
		SchemaVersion: version,
		Topic:         topic,
		OccurredAt:    now,
		Historic:      event.Historic,
		Data:          data,
	})
	if err != nil {
		return nil, validationError(ErrPayloadEncoding, map[string]any{"reason": err.Error()})
	}
	if len(payload) > w.maxPayloadBytes {
		return nil, validationError(ErrPayloadTooLarge, map[string]any{
			"size_bytes":  len(payload),
			"limit_bytes": w.maxPayloadBytes,
		})
	}

	record := models.OutboxEvent{
		ID:            id,
		Topic:         topic,
		EventType:     event.Type,
		SchemaVersion: version,
		Payload:       dbtypes.JSON(payload),
		Status:        enums.OutboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	if err := w.repo.Insert(tx, &record); err != nil {
		return nil, storageError(err, "insert outbox event")
	}

	logCtx := w.logg.WithFields(ctx, map[string]any{
		"event_id":   record.ID.String(),
		"event_type": record.EventType,
		"topic":      record.Topic,
	})
	if !db.AfterCommit(tx, w.signaler.Notify) {
		w.logg.Debug(logCtx, "outbox event appended outside managed transaction; relying on fallback poll")
	}
	w.logg.Info(logCtx, "outbox event queued")

	return &record, nil
}
