// Package kafka builds sarama clients from the service configuration.
package kafka

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/heuristiclogix/eventrelay/pkg/config"
)

const (
	defaultClientID   = "eventrelay"
	producerRetries   = 3
	producerRetryWait = 250 * time.Millisecond
)

// NewSaramaConfig maps KafkaConfig onto a sarama config shared by producers
// and consumer groups. The returned config is validated.
func NewSaramaConfig(cfg config.KafkaConfig) (*sarama.Config, error) {
	sc := sarama.NewConfig()

	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		clientID = defaultClientID
	}
	sc.ClientID = clientID

	if v := strings.TrimSpace(cfg.Version); v != "" {
		version, err := sarama.ParseKafkaVersion(v)
		if err != nil {
			return nil, fmt.Errorf("parse kafka version %q: %w", v, err)
		}
		sc.Version = version
	}

	// SyncProducer requires both to be returned.
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = producerRetries
	sc.Producer.Retry.Backoff = producerRetryWait
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	if cfg.Idempotent {
		// broker-side dedup of producer retries within one session
		sc.Producer.Idempotent = true
		sc.Net.MaxOpenRequests = 1
		if !sc.Version.IsAtLeast(sarama.V0_11_0_0) {
			sc.Version = sarama.V0_11_0_0
		}
	}

	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Offsets.AutoCommit.Enable = true
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}

	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kafka config: %w", err)
	}
	return sc, nil
}

// NewSyncProducer dials the configured brokers.
func NewSyncProducer(cfg config.KafkaConfig) (sarama.SyncProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	sc, err := NewSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	return producer, nil
}

// NewConsumerGroup joins the configured consumer group.
func NewConsumerGroup(cfg config.KafkaConfig) (sarama.ConsumerGroup, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.ConsumerGroup) == "" {
		return nil, errors.New("kafka consumer group is required")
	}
	sc, err := NewSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, sc)
	if err != nil {
		return nil, fmt.Errorf("joining kafka consumer group %s: %w", cfg.ConsumerGroup, err)
	}
	return group, nil
}

// NewClient opens a metadata client, used for readiness probes.
func NewClient(cfg config.KafkaConfig) (sarama.Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	sc, err := NewSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := sarama.NewClient(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("creating kafka client: %w", err)
	}
	return client, nil
}
