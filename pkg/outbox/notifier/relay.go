package notifier

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/heuristiclogix/eventrelay/pkg/logger"
)

const (
	relayMessage       = "wake"
	relayPublishBudget = 2 * time.Second
	relayResubscribe   = time.Second
)

type pubSubClient interface {
	Publish(ctx context.Context, channel string, message any) error
	Subscribe(ctx context.Context, channels ...string) (*goredis.PubSub, error)
}

// RedisRelay forwards hints between processes over a Redis channel. Writers in
// one process call Notify; every subscribed process wakes its local notifier.
// A lost hint only delays publication until the next fallback poll.
type RedisRelay struct {
	client  pubSubClient
	channel string
	local   interface{ Notify() }
	logg    *logger.Logger
	pending chan struct{}
}

func NewRedisRelay(client pubSubClient, channel string, local interface{ Notify() }, logg *logger.Logger) (*RedisRelay, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if channel == "" {
		return nil, errors.New("relay channel is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		local:   local,
		logg:    logg,
		pending: make(chan struct{}, 1),
	}, nil
}

// Notify queues one outbound hint and never blocks.
func (r *RedisRelay) Notify() {
	select {
	case r.pending <- struct{}{}:
	default:
	}
}

// RunForwarder publishes queued hints until ctx is done.
func (r *RedisRelay) RunForwarder(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.pending:
			pubCtx, cancel := context.WithTimeout(ctx, relayPublishBudget)
			err := r.client.Publish(pubCtx, r.channel, relayMessage)
			cancel()
			if err != nil && ctx.Err() == nil {
				r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
					"channel": r.channel,
					"error":   err.Error(),
				}), "outbox notify relay publish failed")
			}
		}
	}
}

// RunSubscriber wakes the local notifier for every hint on the channel and
// resubscribes after connection failures until ctx is done.
func (r *RedisRelay) RunSubscriber(ctx context.Context) error {
	if r.local == nil {
		return errors.New("local notifier is required to subscribe")
	}
	for {
		if err := r.subscribeOnce(ctx); err != nil && ctx.Err() == nil {
			r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
				"channel": r.channel,
				"error":   err.Error(),
			}), "outbox notify relay subscription dropped")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(relayResubscribe):
		}
	}
}

func (r *RedisRelay) subscribeOnce(ctx context.Context) error {
	sub, err := r.client.Subscribe(ctx, r.channel)
	if err != nil {
		return err
	}
	defer sub.Close()

	// a hint may have been lost while unsubscribed
	r.local.Notify()

	for {
		if _, err := sub.ReceiveMessage(ctx); err != nil {
			return err
		}
		r.local.Notify()
	}
}
