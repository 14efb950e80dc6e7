// Package publisher drains the outbox to the message broker. Exactly one
// Publisher loop runs per process; several processes may run side by side
// because every batch is claimed under a lease.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/heuristiclogix/eventrelay/pkg/broker"
	"github.com/heuristiclogix/eventrelay/pkg/config"
	"github.com/heuristiclogix/eventrelay/pkg/db/models"
	"github.com/heuristiclogix/eventrelay/pkg/enums"
	"github.com/heuristiclogix/eventrelay/pkg/logger"
	"github.com/heuristiclogix/eventrelay/pkg/metrics"
	"github.com/heuristiclogix/eventrelay/pkg/outbox"
	"github.com/heuristiclogix/eventrelay/pkg/outbox/notifier"
)

const (
	defaultBatchSize      = 50
	defaultFallbackPoll   = 5 * time.Second
	defaultPublishTimeout = 15 * time.Second
	defaultClaimTTL       = time.Minute
	defaultMaxAttempts    = 10
	minLoopBackoff        = 250 * time.Millisecond
	maxLoopBackoff        = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
	maxLastErrorLen       = 1024
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxRepository interface {
	ClaimPendingTx(tx *gorm.DB, now time.Time, limit int, token uuid.UUID, leaseUntil time.Time) ([]models.OutboxEvent, error)
	MarkPublished(ctx context.Context, id, token uuid.UUID, publishedAt time.Time) (bool, error)
	RecordRetry(ctx context.Context, id, token uuid.UUID, nextAttemptAt time.Time, lastErr string) (bool, error)
	MarkFailedTx(tx *gorm.DB, id, token uuid.UUID, failedAt time.Time, lastErr string) (bool, error)
	ReleaseClaims(ctx context.Context, token uuid.UUID, ids []uuid.UUID) error
	NextDue(ctx context.Context, now time.Time) (time.Time, error)
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type signalWaiter interface {
	WaitForSignal(ctx context.Context, timeout time.Duration) (notifier.Wake, error)
}

type Params struct {
	Config        config.OutboxConfig
	Logger        *logger.Logger
	DB            dbClient
	Broker        broker.Publisher
	Repository    outboxRepository
	DLQRepository dlqRepository
	Signal        signalWaiter
	Metrics       *metrics.OutboxMetrics
	Now           func() time.Time
}

type Publisher struct {
	logg           *logger.Logger
	db             dbClient
	broker         broker.Publisher
	repo           outboxRepository
	dlq            dlqRepository
	signal         signalWaiter
	metrics        *metrics.OutboxMetrics
	now            func() time.Time
	backoff        outbox.BackoffPolicy
	batchSize      int
	maxAttempts    int
	fallbackPoll   time.Duration
	publishTimeout time.Duration
	claimTTL       time.Duration
	state          atomic.Int32
	running        atomic.Bool

	// earliest time a backing-off or leased row becomes claimable, read
	// from the store after each drain; loop goroutine only
	nextRetryAt time.Time
}

func New(params Params) (*Publisher, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Broker == nil {
		return nil, errors.New("broker publisher is required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.DLQRepository == nil {
		return nil, errors.New("dlq repository is required")
	}
	if params.Signal == nil {
		return nil, errors.New("signal source is required")
	}

	cfg := params.Config
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	poll := cfg.FallbackPollInterval
	if poll <= 0 {
		poll = defaultFallbackPoll
	}
	publishTimeout := cfg.PublishTimeout
	if publishTimeout <= 0 {
		publishTimeout = defaultPublishTimeout
	}
	claimTTL := cfg.ClaimTTL
	if claimTTL <= publishTimeout {
		claimTTL = publishTimeout + defaultClaimTTL
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	p := &Publisher{
		logg:           params.Logger,
		db:             params.DB,
		broker:         params.Broker,
		repo:           params.Repository,
		dlq:            params.DLQRepository,
		signal:         params.Signal,
		metrics:        params.Metrics,
		now:            now,
		backoff:        outbox.BackoffPolicy{Base: cfg.BackoffBase, Max: cfg.BackoffMax},
		batchSize:      batch,
		maxAttempts:    maxAttempts,
		fallbackPoll:   poll,
		publishTimeout: publishTimeout,
		claimTTL:       claimTTL,
	}
	p.setState(StateIdle)
	return p, nil
}

// State reports where the loop currently is.
func (p *Publisher) State() State {
	return State(p.state.Load())
}

func (p *Publisher) setState(s State) {
	p.state.Store(int32(s))
}

// Ready is a readiness probe: it fails until the loop has passed its
// startup checks and after it has exited.
func (p *Publisher) Ready(context.Context) error {
	if !p.running.Load() {
		return fmt.Errorf("outbox publisher not running (state %s)", p.State())
	}
	return nil
}

func (p *Publisher) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, p.logg, "database", p.db.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, p.logg, "broker", p.broker.Ping); err != nil {
		return err
	}
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run drains once at startup, then on every signal or fallback timeout,
// until ctx is done. A full batch is followed by another drain without
// waiting. On cancellation the in-flight record is finished, unstarted
// claims are released and ctx.Err() is returned.
func (p *Publisher) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := p.ensureReadiness(ctx); err != nil {
		return err
	}
	p.running.Store(true)
	defer func() {
		p.running.Store(false)
		p.setState(StateIdle)
	}()

	p.logg.Info(p.logg.WithFields(ctx, map[string]any{
		"batch_size":    p.batchSize,
		"max_attempts":  p.maxAttempts,
		"fallback_poll": p.fallbackPoll.String(),
	}), "outbox publisher started")

	var loopBackoff time.Duration
	for {
		if err := ctx.Err(); err != nil {
			p.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		full, err := p.drainOnce(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				p.logg.Info(ctx, "outbox publisher context canceled")
				return ctxErr
			}
			p.logg.Error(ctx, "outbox publisher batch error", err)
			loopBackoff = nextBackoff(loopBackoff, minLoopBackoff, maxLoopBackoff)
			if err := sleep(ctx, withJitter(loopBackoff)); err != nil {
				return err
			}
			continue
		}
		loopBackoff = 0

		if full {
			continue
		}

		p.refreshNextDue(ctx)
		p.setState(StateWaitingForSignal)
		wake, err := p.signal.WaitForSignal(ctx, p.waitTimeout())
		if err != nil {
			p.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}
		p.metrics.IncWake(wake.String())
	}
}

// refreshNextDue re-reads the retry deadline so that a wake-up which claims
// nothing, or a restart, does not push a backing-off row out to the
// fallback poll. On error the previous deadline stays.
func (p *Publisher) refreshNextDue(ctx context.Context) {
	due, err := p.repo.NextDue(ctx, p.now().UTC())
	if err != nil {
		p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "outbox next due lookup failed")
		return
	}
	p.nextRetryAt = due
}

// waitTimeout is the fallback poll, shortened when a retry falls due sooner.
func (p *Publisher) waitTimeout() time.Duration {
	timeout := p.fallbackPoll
	if p.nextRetryAt.IsZero() {
		return timeout
	}
	until := p.nextRetryAt.Sub(p.now())
	if until < minLoopBackoff {
		until = minLoopBackoff
	}
	if until < timeout {
		return until
	}
	return timeout
}

// Start runs the loop on its own goroutine. The returned stop function
// cancels the loop and waits up to timeout for it to exit.
func (p *Publisher) Start(ctx context.Context) (stop func(timeout time.Duration) error) {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- p.Run(runCtx)
	}()

	var once sync.Once
	var result error
	return func(timeout time.Duration) error {
		once.Do(func() {
			cancel()
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			select {
			case err := <-done:
				if err != nil && !errors.Is(err, context.Canceled) {
					result = err
				}
			case <-timer.C:
				result = fmt.Errorf("outbox publisher did not stop within %s", timeout)
			}
		})
		return result
	}
}

// drainOnce claims one batch and publishes it. It reports whether the batch
// was full, meaning more work is probably waiting.
func (p *Publisher) drainOnce(ctx context.Context) (bool, error) {
	p.setState(StateDraining)
	defer p.setState(StateIdle)

	now := p.now().UTC()
	token := uuid.New()

	var claimed []models.OutboxEvent
	err := p.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := p.repo.ClaimPendingTx(tx, now, p.batchSize, token, now.Add(p.claimTTL))
		if err != nil {
			return err
		}
		claimed = rows
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("claim outbox batch: %w", err)
	}
	p.metrics.ObserveBatch(len(claimed))
	if len(claimed) == 0 {
		return false, nil
	}

	p.setState(StatePublishingBatch)
	blockedTopics := map[string]bool{}
	var release []uuid.UUID
	for i, event := range claimed {
		if ctx.Err() != nil {
			release = append(release, idsOf(claimed[i:])...)
			p.releaseClaims(ctx, token, release)
			return false, ctx.Err()
		}
		// keep per-topic order: nothing newer goes out while an older record backs off
		if blockedTopics[event.Topic] {
			release = append(release, event.ID)
			continue
		}

		result, err := p.publishOne(ctx, event, token)
		if err != nil {
			release = append(release, idsOf(claimed[i+1:])...)
			p.releaseClaims(ctx, token, release)
			return false, err
		}
		if result == outcomeRetry {
			blockedTopics[event.Topic] = true
		}
	}
	p.releaseClaims(ctx, token, release)

	return len(claimed) >= p.batchSize, nil
}

type outcome int

const (
	outcomePublished outcome = iota + 1
	outcomeRetry
	outcomeFailed
	outcomeLostClaim
)

// publishOne publishes a claimed record and records the result. It runs to
// completion even when ctx is canceled mid-way.
func (p *Publisher) publishOne(ctx context.Context, event models.OutboxEvent, token uuid.UUID) (outcome, error) {
	ctx = p.logg.WithEvent(ctx, event.ID.String(), event.Topic)
	opCtx := context.WithoutCancel(ctx)
	fields := eventFields(event)

	pubCtx, cancel := context.WithTimeout(opCtx, p.publishTimeout)
	started := time.Now()
	pubErr := p.broker.Publish(pubCtx, messageFor(event))
	took := time.Since(started)
	cancel()

	if pubErr == nil {
		publishedAt := p.now().UTC()
		ok, err := p.repo.MarkPublished(opCtx, event.ID, token, publishedAt)
		if err != nil {
			return 0, fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		if !ok {
			p.lostClaim(ctx, event, fields)
			return outcomeLostClaim, nil
		}
		p.metrics.ObservePublish(event.Topic, metrics.OutcomePublished, took)
		p.metrics.ObserveDeliveryLag(publishedAt.Sub(event.CreatedAt))
		p.logg.Info(p.logg.WithFields(ctx, fields), "outbox event published")
		return outcomePublished, nil
	}

	attempts := event.AttemptCount + 1
	fields["attempt_count"] = attempts
	fields["error"] = pubErr.Error()

	if permanent := broker.IsPermanent(pubErr); permanent || attempts >= p.maxAttempts {
		cause := pubErr
		if !permanent {
			cause = fmt.Errorf("max publish attempts reached: %w", pubErr)
		}
		return p.fail(ctx, event, token, enums.DLQReasonFor(permanent), cause, attempts, fields, took)
	}

	delay := p.backoff.Delay(attempts)
	next := p.now().UTC().Add(delay)
	ok, err := p.repo.RecordRetry(opCtx, event.ID, token, next, truncate(pubErr.Error()))
	if err != nil {
		return 0, fmt.Errorf("record retry %s: %w", event.ID, err)
	}
	if !ok {
		p.lostClaim(ctx, event, fields)
		return outcomeLostClaim, nil
	}
	if p.nextRetryAt.IsZero() || next.Before(p.nextRetryAt) {
		p.nextRetryAt = next
	}
	fields["retry_in"] = delay.String()
	fields["next_attempt_at"] = next.Format(time.RFC3339Nano)
	p.metrics.ObservePublish(event.Topic, metrics.OutcomeRetry, took)
	p.logg.Warn(p.logg.WithFields(ctx, fields), "outbox publish failed; retry scheduled")
	return outcomeRetry, nil
}

func (p *Publisher) fail(ctx context.Context, event models.OutboxEvent, token uuid.UUID, reason enums.OutboxDLQErrorReason, cause error, attempts int, fields map[string]any, took time.Duration) (outcome, error) {
	opCtx := context.WithoutCancel(ctx)
	failedAt := p.now().UTC()
	message := truncate(cause.Error())

	marked := false
	err := p.db.WithTx(opCtx, func(tx *gorm.DB) error {
		ok, err := p.repo.MarkFailedTx(tx, event.ID, token, failedAt, message)
		if err != nil {
			return fmt.Errorf("mark failed %s: %w", event.ID, err)
		}
		if !ok {
			return nil
		}
		marked = true
		entry := models.OutboxDLQ{
			EventID:      event.ID,
			Topic:        event.Topic,
			EventType:    event.EventType,
			Payload:      event.Payload,
			ErrorReason:  reason,
			ErrorMessage: &message,
			AttemptCount: attempts,
			FailedAt:     failedAt,
		}
		if err := p.dlq.InsertTx(tx, entry); err != nil {
			return fmt.Errorf("insert dlq %s: %w", event.ID, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if !marked {
		p.lostClaim(ctx, event, fields)
		return outcomeLostClaim, nil
	}

	fields["error_reason"] = reason
	p.metrics.ObservePublish(event.Topic, metrics.OutcomeFailed, took)
	p.logg.Error(p.logg.WithFields(ctx, fields), "outbox event failed; operator requeue required", cause)
	return outcomeFailed, nil
}

func (p *Publisher) lostClaim(ctx context.Context, event models.OutboxEvent, fields map[string]any) {
	p.metrics.ObserveOutcome(event.Topic, metrics.OutcomeLostClaim)
	p.logg.Warn(p.logg.WithFields(ctx, fields), "outbox claim lost before mark; another publisher owns the record")
}

func (p *Publisher) releaseClaims(ctx context.Context, token uuid.UUID, ids []uuid.UUID) {
	if len(ids) == 0 {
		return
	}
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.publishTimeout)
	defer cancel()
	if err := p.repo.ReleaseClaims(releaseCtx, token, ids); err != nil {
		// the lease expires on its own after the claim TTL
		p.logg.Warn(p.logg.WithFields(ctx, map[string]any{
			"released": len(ids),
			"error":    err.Error(),
		}), "outbox claim release failed")
	}
}

func messageFor(event models.OutboxEvent) broker.Message {
	return broker.Message{
		Topic:   event.Topic,
		Key:     event.ID.String(),
		Payload: []byte(event.Payload),
		Attributes: map[string]string{
			broker.AttrEventID:       event.ID.String(),
			broker.AttrEventType:     string(event.EventType),
			broker.AttrSchemaVersion: strconv.Itoa(event.SchemaVersion),
			broker.AttrTopic:         event.Topic,
			broker.AttrCreatedAt:     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

func eventFields(event models.OutboxEvent) map[string]any {
	fields := map[string]any{
		"event_type":    event.EventType,
		"sequence":      event.Sequence,
		"attempt_count": event.AttemptCount,
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}

func idsOf(events []models.OutboxEvent) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(events))
	for _, event := range events {
		ids = append(ids, event.ID)
	}
	return ids
}

// truncate caps message at maxLastErrorLen bytes without splitting a rune;
// Postgres rejects invalid UTF-8 in text columns.
func truncate(message string) string {
	return outbox.TruncateUTF8(message, maxLastErrorLen)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		return base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Int63n(int64(jitterWindow)))
}
