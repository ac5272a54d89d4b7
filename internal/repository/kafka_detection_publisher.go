package repository

import (
	"context"
	"fmt"

	"PatternScan/internal/domain/models"
	domrepo "PatternScan/internal/domain/repository"
	pkgkafka "PatternScan/pkg/kafka"
	applogger "PatternScan/pkg/logger"
)

// BatchProducer is the subset of *kafka.Producer the publisher needs.
type BatchProducer interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// KafkaDetectionPublisher writes one message per detection, keyed by symbol
// so a symbol's detections stay ordered within a partition.
type KafkaDetectionPublisher struct {
	p     BatchProducer
	topic string
	l     *applogger.Logger
}

var _ domrepo.DetectionPublisher = (*KafkaDetectionPublisher)(nil)

func NewKafkaDetectionPublisher(p BatchProducer, topic string) *KafkaDetectionPublisher {
	return &KafkaDetectionPublisher{p: p, topic: topic, l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (k *KafkaDetectionPublisher) SetLogger(l *applogger.Logger) {
	if l != nil {
		k.l = l
	}
}

func (k *KafkaDetectionPublisher) PublishDetections(ctx context.Context, detections []models.Detection) error {
	if len(detections) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(detections))
	for i, d := range detections {
		msgs[i] = pkgkafka.Message{Key: []byte(d.Symbol), Value: d}
	}
	if err := k.p.PublishBatch(ctx, k.topic, msgs); err != nil {
		k.l.Error("publish detections failed",
			applogger.String("topic", k.topic),
			applogger.Int("count", len(detections)),
			applogger.Error(err),
		)
		return fmt.Errorf("publish detections: %w", err)
	}
	k.l.Debug("detections published", applogger.String("topic", k.topic), applogger.Int("count", len(detections)))
	return nil
}

func (k *KafkaDetectionPublisher) Close() error { return k.p.Close() }

// NopDetectionPublisher drops detections; used when Kafka is not configured.
type NopDetectionPublisher struct{}

func (NopDetectionPublisher) PublishDetections(context.Context, []models.Detection) error { return nil }
func (NopDetectionPublisher) Close() error                                                { return nil }
