// Package enrichment consumes relayed events and records one enrichment per
// event, applying each event at most once per consumer.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	internalenrichment "github.com/heuristiclogix/eventrelay/internal/enrichment"
	"github.com/heuristiclogix/eventrelay/pkg/broker"
	"github.com/heuristiclogix/eventrelay/pkg/logger"
	"github.com/heuristiclogix/eventrelay/pkg/metrics"
	"github.com/heuristiclogix/eventrelay/pkg/outbox/registry"
)

type resolver interface {
	Resolve(raw []byte) (*registry.ResolvedEvent, error)
}

type applier interface {
	Consumer() string
	Apply(ctx context.Context, eventID uuid.UUID, effect func(tx *gorm.DB) error) (bool, error)
}

type processedCache interface {
	Seen(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Remember(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type Params struct {
	Registry   resolver
	Guard      applier
	Cache      processedCache
	Enricher   internalenrichment.Enricher
	Repository internalenrichment.Repository
	Metrics    *metrics.ConsumerMetrics
	Logger     *logger.Logger
}

// Consumer handles one delivery at a time. Cache is optional.
type Consumer struct {
	registry resolver
	guard    applier
	cache    processedCache
	enricher internalenrichment.Enricher
	repo     internalenrichment.Repository
	metrics  *metrics.ConsumerMetrics
	logg     *logger.Logger
}

func NewConsumer(params Params) (*Consumer, error) {
	if params.Registry == nil {
		return nil, errors.New("event registry is required")
	}
	if params.Guard == nil {
		return nil, errors.New("idempotency guard is required")
	}
	if params.Enricher == nil {
		return nil, errors.New("enricher is required")
	}
	if params.Repository == nil {
		return nil, errors.New("enrichment repository is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		registry: params.Registry,
		guard:    params.Guard,
		cache:    params.Cache,
		enricher: params.Enricher,
		repo:     params.Repository,
		metrics:  params.Metrics,
		logg:     params.Logger,
	}, nil
}

// Handle applies one delivery. A nil return means the delivery is settled
// (applied, duplicate or rejected as undecodable) and may be acknowledged;
// an error means the transport should redeliver it.
func (c *Consumer) Handle(ctx context.Context, msg broker.Message) error {
	started := time.Now()
	fields := map[string]any{
		"topic":       msg.Topic,
		"message_key": msg.Key,
	}
	logCtx := c.logg.WithFields(ctx, fields)

	event, err := c.registry.Resolve(msg.Payload)
	if err != nil {
		fields["error"] = err.Error()
		c.logg.Warn(c.logg.WithFields(ctx, fields), "undecodable delivery rejected")
		c.metrics.Observe(msg.Topic, metrics.ResultRejected, time.Since(started))
		return nil
	}
	eventID, err := event.Envelope.ID()
	if err != nil {
		c.logg.Warn(logCtx, "delivery without event id rejected")
		c.metrics.Observe(msg.Topic, metrics.ResultRejected, time.Since(started))
		return nil
	}
	fields["event_id"] = eventID.String()
	fields["event_type"] = event.Envelope.Type
	fields["schema_version"] = event.Envelope.SchemaVersion
	if msg.Key != "" && msg.Key != eventID.String() {
		fields["key_mismatch"] = true
	}
	logCtx = c.logg.WithFields(ctx, fields)

	if c.seen(logCtx, eventID) {
		c.logg.Info(logCtx, "event already processed")
		c.metrics.Observe(msg.Topic, metrics.ResultDuplicate, time.Since(started))
		return nil
	}

	result, err := c.enricher.Enrich(logCtx, event)
	if err != nil {
		if registry.IsNonRetryable(err) {
			fields["error"] = err.Error()
			c.logg.Warn(c.logg.WithFields(ctx, fields), "event cannot be enriched; rejected")
			c.metrics.Observe(msg.Topic, metrics.ResultRejected, time.Since(started))
			return nil
		}
		c.metrics.Observe(msg.Topic, metrics.ResultRetry, time.Since(started))
		return fmt.Errorf("enrich %s: %w", eventID, err)
	}
	record, err := internalenrichment.NewRecord(event, result, time.Since(started))
	if err != nil {
		c.logg.Error(logCtx, "failed to build enrichment record", err)
		c.metrics.Observe(msg.Topic, metrics.ResultRejected, time.Since(started))
		return nil
	}

	applied, err := c.guard.Apply(logCtx, eventID, func(tx *gorm.DB) error {
		return c.repo.WithTx(tx).Create(logCtx, record)
	})
	if err != nil {
		c.logg.Error(logCtx, "failed to apply enrichment", err)
		c.metrics.Observe(msg.Topic, metrics.ResultRetry, time.Since(started))
		return fmt.Errorf("apply %s: %w", eventID, err)
	}

	// the durable marker is committed; only now may the cache learn about it
	c.remember(logCtx, eventID)

	if !applied {
		c.logg.Info(logCtx, "event already processed")
		c.metrics.Observe(msg.Topic, metrics.ResultDuplicate, time.Since(started))
		return nil
	}
	c.logg.Info(c.logg.WithFields(ctx, map[string]any{
		"event_id":           eventID.String(),
		"tags":               result.Tags,
		"confidence":         result.Confidence,
		"processing_time_ms": record.ProcessingTimeMs,
	}), "event enriched")
	c.metrics.Observe(msg.Topic, metrics.ResultApplied, time.Since(started))
	return nil
}

func (c *Consumer) seen(ctx context.Context, eventID uuid.UUID) bool {
	if c.cache == nil {
		return false
	}
	seen, err := c.cache.Seen(ctx, c.guard.Consumer(), eventID)
	if err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "idempotency cache lookup failed; falling back to durable marker")
		return false
	}
	return seen
}

func (c *Consumer) remember(ctx context.Context, eventID uuid.UUID) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Remember(ctx, c.guard.Consumer(), eventID); err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "idempotency cache write failed")
	}
}
