package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/VahantSharma/Bloggly-Backend/internal/models"
)

// MessageProducer writes a single message to a topic.
type MessageProducer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaPublisher writes every event as JSON, keyed by rate limit key so the
// events of one key stay ordered within a partition.
type KafkaPublisher struct {
	producer MessageProducer
	topic    string
}

func NewKafkaPublisher(producer MessageProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Name() string { return "kafka" }

func (p *KafkaPublisher) Publish(ctx context.Context, event models.RateLimitEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode rate limit event: %w", err)
	}

	headers := map[string]string{
		"event_kind": string(event.Kind),
		"limit_type": event.LimitType,
	}
	return p.producer.ProduceMessage(ctx, p.topic, []byte(event.Key), value, headers)
}
