package enrichment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/heuristiclogix/eventrelay/pkg/broker"
	"github.com/heuristiclogix/eventrelay/pkg/logger"
)

const rejoinDelay = time.Second

// KafkaTransport feeds a sarama consumer group into a handler. An offset is
// marked only after the handler settles its record; a failed record ends the
// session so the group rejoins and redelivers from the last marked offset.
type KafkaTransport struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler handler
	logg    *logger.Logger
}

func NewKafkaTransport(group sarama.ConsumerGroup, topics []string, h handler, logg *logger.Logger) (*KafkaTransport, error) {
	if group == nil {
		return nil, errors.New("kafka consumer group is required")
	}
	if len(topics) == 0 {
		return nil, errors.New("at least one topic is required")
	}
	if h == nil {
		return nil, errors.New("handler is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &KafkaTransport{group: group, topics: topics, handler: h, logg: logg}, nil
}

// Run consumes until ctx is canceled, rejoining the group after every
// session ends.
func (t *KafkaTransport) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go t.drainErrors(ctx)

	gh := &groupHandler{handler: t.handler, logg: t.logg}
	for {
		if err := t.group.Consume(ctx, t.topics, gh); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			t.logg.Error(ctx, "kafka consumer session failed", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rejoinDelay):
		}
	}
}

func (t *KafkaTransport) drainErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-t.group.Errors():
			if !ok {
				return
			}
			t.logg.Warn(t.logg.WithField(ctx, "error", err.Error()), "kafka consumer group error")
		}
	}
}

func (t *KafkaTransport) Close() error {
	return t.group.Close()
}

type groupHandler struct {
	handler handler
	logg    *logger.Logger
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logg.Info(h.logg.WithFields(sess.Context(), map[string]any{
		"member_id":  sess.MemberID(),
		"generation": sess.GenerationID(),
	}), "kafka consumer session started")
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	sess.Commit()
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			ctx := h.logg.WithFields(sess.Context(), map[string]any{
				"partition": msg.Partition,
				"offset":    msg.Offset,
			})
			if err := h.handler.Handle(ctx, messageFromKafka(msg)); err != nil {
				h.logg.Error(ctx, "enrichment delivery failed; ending session for redelivery", err)
				return fmt.Errorf("handle %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
			}
			sess.MarkMessage(msg, "")
		}
	}
}

func messageFromKafka(msg *sarama.ConsumerMessage) broker.Message {
	attrs := make(map[string]string, len(msg.Headers))
	for _, header := range msg.Headers {
		if header == nil {
			continue
		}
		attrs[string(header.Key)] = string(header.Value)
	}
	return broker.Message{
		Topic:      msg.Topic,
		Key:        string(msg.Key),
		Payload:    msg.Value,
		Attributes: attrs,
	}
}
