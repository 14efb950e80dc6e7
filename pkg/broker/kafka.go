package broker

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
)

// permanentKafkaErrors are broker answers that no retry of the same record
// can change.
var permanentKafkaErrors = []error{
	sarama.ErrMessageSizeTooLarge,
	sarama.ErrInvalidMessage,
	sarama.ErrInvalidMessageSize,
	sarama.ErrInvalidTopic,
	sarama.ErrInvalidRecord,
	sarama.ErrTopicAuthorizationFailed,
}

type clusterPinger interface {
	Ping(ctx context.Context) error
}

// KafkaPublisher publishes through a sarama SyncProducer. The event id is
// the record key, so one event always lands on the same partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	pinger   clusterPinger
}

// NewKafkaPublisher wraps producer. pinger may be nil when no readiness
// probe is available.
func NewKafkaPublisher(producer sarama.SyncProducer, pinger clusterPinger) (*KafkaPublisher, error) {
	if producer == nil {
		return nil, errors.New("kafka producer is required")
	}
	return &KafkaPublisher{producer: producer, pinger: pinger}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	record := &sarama.ProducerMessage{
		Topic: msg.Topic,
		Value: sarama.ByteEncoder(msg.Payload),
	}
	if msg.Key != "" {
		record.Key = sarama.StringEncoder(msg.Key)
	}
	for k, v := range msg.Attributes {
		record.Headers = append(record.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	// SendMessage has no context; sarama's own Producer.Timeout bounds it.
	if _, _, err := p.producer.SendMessage(record); err != nil {
		return classifyKafkaError(err)
	}
	return nil
}

func (p *KafkaPublisher) Ping(ctx context.Context) error {
	if p.pinger == nil {
		return nil
	}
	return p.pinger.Ping(ctx)
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

func classifyKafkaError(err error) error {
	for _, target := range permanentKafkaErrors {
		if errors.Is(err, target) {
			return Permanent(err)
		}
	}
	var cfgErr sarama.ConfigurationError
	if errors.As(err, &cfgErr) {
		return Permanent(err)
	}
	return err
}

// ClusterPinger checks that at least one broker answers metadata requests.
type ClusterPinger struct {
	Client sarama.Client
}

func (c ClusterPinger) Ping(ctx context.Context) error {
	if c.Client == nil {
		return errors.New("kafka client not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.Client.RefreshMetadata(); err != nil {
		return err
	}
	if len(c.Client.Brokers()) == 0 {
		return sarama.ErrOutOfBrokers
	}
	return nil
}
