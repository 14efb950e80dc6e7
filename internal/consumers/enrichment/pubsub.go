package enrichment

import (
	"context"
	"errors"
	"strings"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/heuristiclogix/eventrelay/pkg/broker"
	"github.com/heuristiclogix/eventrelay/pkg/logger"
)

type handler interface {
	Handle(ctx context.Context, msg broker.Message) error
}

// PubSubTransport feeds a Pub/Sub subscription into a handler. Settled
// deliveries are acked; failed ones are nacked for redelivery.
type PubSubTransport struct {
	subscription *gcppubsub.Subscriber
	handler      handler
	logg         *logger.Logger
}

func NewPubSubTransport(subscription *gcppubsub.Subscriber, h handler, logg *logger.Logger) (*PubSubTransport, error) {
	if subscription == nil {
		return nil, errors.New("enrichment subscription is required")
	}
	if h == nil {
		return nil, errors.New("handler is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &PubSubTransport{subscription: subscription, handler: h, logg: logg}, nil
}

// Run receives until ctx is canceled.
func (t *PubSubTransport) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return t.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if t.process(innerCtx, msg) {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// process reports whether the message must be nacked.
func (t *PubSubTransport) process(ctx context.Context, msg *gcppubsub.Message) bool {
	ctx = t.logg.WithField(ctx, "message_id", msg.ID)
	if err := t.handler.Handle(ctx, messageFromPubSub(msg)); err != nil {
		t.logg.Error(ctx, "enrichment delivery failed; nacking", err)
		return true
	}
	return false
}

func messageFromPubSub(msg *gcppubsub.Message) broker.Message {
	attrs := make(map[string]string, len(msg.Attributes))
	for k, v := range msg.Attributes {
		attrs[k] = v
	}
	return broker.Message{
		Topic:      strings.TrimSpace(attrs[broker.AttrTopic]),
		Key:        strings.TrimSpace(attrs[broker.AttrEventID]),
		Payload:    msg.Data,
		Attributes: attrs,
	}
}
