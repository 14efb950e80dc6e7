package broker

import (
	"context"
	"errors"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type pubSubClient interface {
	Publisher(name string) *gcppubsub.Publisher
	EnsureTopics(ctx context.Context, names ...string) error
	Close() error
}

type topicPublisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type publisherFactory func(topic string) topicPublisher

// PubSubPublisher publishes to GCP Pub/Sub topics named after the outbox topic.
type PubSubPublisher struct {
	client  pubSubClient
	topics  []string
	factory publisherFactory
}

// NewPubSubPublisher wraps client. Ping verifies that every topic in topics
// exists.
func NewPubSubPublisher(client pubSubClient, topics []string) (*PubSubPublisher, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	return &PubSubPublisher{
		client: client,
		topics: topics,
		factory: func(topic string) topicPublisher {
			return newGCPPublisher(client.Publisher(topic))
		},
	}, nil
}

func (p *PubSubPublisher) Publish(ctx context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}
	pub := p.factory(msg.Topic)
	if pub == nil {
		return Permanent(fmt.Errorf("publisher not configured for topic %s", msg.Topic))
	}

	attrs := make(map[string]string, len(msg.Attributes)+1)
	for k, v := range msg.Attributes {
		attrs[k] = v
	}
	if msg.Key != "" {
		attrs[AttrEventID] = msg.Key
	}

	result := pub.Publish(ctx, &gcppubsub.Message{Data: msg.Payload, Attributes: attrs})
	if result == nil {
		return Permanent(fmt.Errorf("publisher returned nil for topic %s", msg.Topic))
	}
	if _, err := result.Get(ctx); err != nil {
		return classifyPubSubError(err)
	}
	return nil
}

func (p *PubSubPublisher) Ping(ctx context.Context) error {
	return p.client.EnsureTopics(ctx, p.topics...)
}

func (p *PubSubPublisher) Close() error {
	return p.client.Close()
}

func classifyPubSubError(err error) error {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.PermissionDenied:
		return Permanent(err)
	default:
		return err
	}
}

func newGCPPublisher(p *gcppubsub.Publisher) topicPublisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{Publisher: p}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
