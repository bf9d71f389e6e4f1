package repository

import (
	"context"
	"fmt"
	"time"

	"FinFeat/internal/services/features"
	pkgkafka "FinFeat/pkg/kafka"
)

const defaultPublishChunk = 500

// BatchProducer is the slice of pkg/kafka.Producer the publisher needs.
type BatchProducer interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
}

// KafkaFeaturePublisher emits one message per feature row, keyed by symbol so
// a partition sees a symbol's rows in date order.
type KafkaFeaturePublisher struct {
	producer    BatchProducer
	topic       string
	fingerprint string
	chunk       int
	now         func() time.Time
}

// NewKafkaFeaturePublisher creates a Kafka publisher for feature rows.
func NewKafkaFeaturePublisher(producer BatchProducer, topic, fingerprint string) *KafkaFeaturePublisher {
	return &KafkaFeaturePublisher{
		producer:    producer,
		topic:       topic,
		fingerprint: fingerprint,
		chunk:       defaultPublishChunk,
		now:         time.Now,
	}
}

func (p *KafkaFeaturePublisher) PublishFeatures(ctx context.Context, t *features.Table) error {
	if t == nil || t.Len() == 0 {
		return nil
	}
	runAt := p.now().UTC()
	headers := map[string]string{
		"pipeline": p.fingerprint,
		"run_at":   runAt.Format(time.RFC3339),
	}
	key := []byte(t.Symbol)

	for start := 0; start < t.Len(); start += p.chunk {
		end := min(start+p.chunk, t.Len())
		msgs := make([]pkgkafka.Message, 0, end-start)
		for i := start; i < end; i++ {
			msgs = append(msgs, pkgkafka.Message{
				Key:     key,
				Value:   t.Record(i, runAt),
				Headers: headers,
			})
		}
		if err := p.producer.PublishBatch(ctx, p.topic, msgs); err != nil {
			return fmt.Errorf("publish %s rows %d-%d: %w", t.Symbol, start, end-1, err)
		}
	}
	return nil
}
