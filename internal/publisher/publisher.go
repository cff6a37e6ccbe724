package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaPublisher broadcasts "cart changed" hints after confirmed
// mutations. Messages are keyed by owner so per-owner ordering is
// preserved within a partition; receivers treat them as refetch hints
// only.
type KafkaPublisher struct {
	writer     *kafka.Writer
	instanceID string
	log        *zap.Logger
}

func NewKafkaPublisher(instanceID string, log *zap.Logger, brokers ...string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  "cart-events",
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w, instanceID: instanceID, log: log}
}

func (p *KafkaPublisher) CartChanged(ctx context.Context, ownerID string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"owner_id":    ownerID,
		"event":       "cart.changed",
		"occurred_at": time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cart event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(ownerID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "origin", Value: []byte(p.instanceID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish cart event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() {
	if err := p.writer.Close(); err != nil {
		p.log.Error("error closing writer", zap.Error(err))
	}
}
