package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"go.uber.org/multierr"

	"github.com/heuristiclogix/eventrelay/pkg/config"
	"github.com/heuristiclogix/eventrelay/pkg/kafka"
	"github.com/heuristiclogix/eventrelay/pkg/logger"
	"github.com/heuristiclogix/eventrelay/pkg/pubsub"
)

// Open builds the Publisher selected by cfg.Broker.Driver. topics are the
// destinations Ping verifies; the caller owns Close.
func Open(ctx context.Context, cfg *config.Config, topics []string, logg *logger.Logger) (Publisher, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Broker.Driver))
	switch driver {
	case config.BrokerDriverPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, err
		}
		pub, err := NewPubSubPublisher(client, topics)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return pub, nil
	case config.BrokerDriverKafka:
		producer, err := kafka.NewSyncProducer(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		meta, err := kafka.NewClient(cfg.Kafka)
		if err != nil {
			_ = producer.Close()
			return nil, err
		}
		pub, err := NewKafkaPublisher(producer, ClusterPinger{Client: meta})
		if err != nil {
			return nil, multierr.Combine(err, producer.Close(), meta.Close())
		}
		if logg != nil {
			logg.Info(logg.WithField(ctx, "brokers", cfg.Kafka.Brokers), "kafka producer initialized")
		}
		return &kafkaWithClient{KafkaPublisher: pub, meta: meta}, nil
	default:
		return nil, fmt.Errorf("unsupported broker driver %q", cfg.Broker.Driver)
	}
}

type kafkaWithClient struct {
	*KafkaPublisher
	meta sarama.Client
}

func (k *kafkaWithClient) Close() error {
	return multierr.Combine(k.KafkaPublisher.Close(), k.meta.Close())
}
