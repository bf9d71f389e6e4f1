package usecase

import (
	"context"
	"encoding/json"
	"time"

	"FinFeat/internal/domain/models"
	domrepo "FinFeat/internal/domain/repository"
	pkgkafka "FinFeat/pkg/kafka"
)

// Rebuilder accepts build requests arriving from Kafka.
type Rebuilder interface {
	Process(ctx context.Context, req models.BuildRequest) error
}

// KafkaBuildHandler consumes build requests from Kafka and hands them to the
// rebuild throttle.
type KafkaBuildHandler struct {
	topic   string
	rebuild Rebuilder
	metrics domrepo.Metrics
}

func NewKafkaBuildHandler(topic string, rebuild Rebuilder, metrics domrepo.Metrics) *KafkaBuildHandler {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &KafkaBuildHandler{topic: topic, rebuild: rebuild, metrics: metrics}
}

func (h *KafkaBuildHandler) Topic() string { return h.topic }

// incoming message schema: models.BuildRequest as JSON
func (h *KafkaBuildHandler) Handle(ctx context.Context, b []byte) error {
	var req models.BuildRequest
	if err := json.Unmarshal(b, &req); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	start := time.Now()
	err := h.rebuild.Process(ctx, req)
	h.metrics.RecordLatency("consumer_build", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_build")
	}
	return err
}

var _ pkgkafka.MessageHandler = (*KafkaBuildHandler)(nil)
