package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/heuristiclogix/eventrelay/pkg/db/models"
	"github.com/heuristiclogix/eventrelay/pkg/redis"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Guard applies each event at most once per consumer. The processed_events
// marker and the effect commit in the same transaction, so the marker exists
// exactly when the effect does.
type Guard struct {
	db       txRunner
	consumer string
	now      func() time.Time
}

func NewGuard(db txRunner, consumer string) (*Guard, error) {
	if db == nil {
		return nil, errors.New("transaction runner is required")
	}
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return nil, errors.New("consumer name is required")
	}
	return &Guard{db: db, consumer: consumer, now: time.Now}, nil
}

func (g *Guard) Consumer() string {
	return g.consumer
}

// Apply runs effect unless eventID was already applied. It returns false
// without calling effect for a duplicate. An effect error rolls back the
// marker too, leaving the event free to be retried.
func (g *Guard) Apply(ctx context.Context, eventID uuid.UUID, effect func(tx *gorm.DB) error) (bool, error) {
	if eventID == uuid.Nil {
		return false, errors.New("event id is required")
	}
	if effect == nil {
		return false, errors.New("effect is required")
	}

	applied := false
	err := g.db.WithTx(ctx, func(tx *gorm.DB) error {
		marker := models.ProcessedEvent{
			Consumer:    g.consumer,
			EventID:     eventID,
			ProcessedAt: g.now().UTC(),
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&marker)
		if res.Error != nil {
			return fmt.Errorf("insert processed marker: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := effect(tx); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// Manager caches processed event IDs per consumer in Redis with a TTL. It
// only ever short-circuits work; the durable marker written by Guard is the
// source of truth. Keys follow `er:idempotency:evt:processed:<consumer>:<event_id>`.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewManager builds a cache whose entries expire after ttl.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{
		store: store,
		ttl:   ttl,
	}, nil
}

// Seen reports whether the event is already known to be processed.
func (m *Manager) Seen(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key, err := m.processedKey(consumer, eventID)
	if err != nil {
		return false, err
	}
	if _, err := m.store.Get(ctx, key); err != nil {
		if redis.IsNil(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Remember records the event as processed. Call it only after the guard's
// transaction committed.
func (m *Manager) Remember(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.processedKey(consumer, eventID)
	if err != nil {
		return err
	}
	_, err = m.store.SetNX(ctx, key, "1", m.ttl)
	return err
}

func (m *Manager) processedKey(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	scope := fmt.Sprintf("evt:processed:%s", consumer)
	return m.store.IdempotencyKey(scope, eventID.String()), nil
}
