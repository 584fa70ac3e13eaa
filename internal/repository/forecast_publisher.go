package repository

import (
	"context"

	"Clarity/internal/domain/models"
	"Clarity/internal/domain/repository"
	pkgkafka "Clarity/pkg/kafka"
)

// BatchProducer is the part of pkg/kafka.Producer the publisher uses.
type BatchProducer interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// KafkaForecastPublisher publishes forecast records keyed by location so
// records of one location stay ordered.
type KafkaForecastPublisher struct {
	producer BatchProducer
	topic    string
}

var _ repository.Publisher = (*KafkaForecastPublisher)(nil)

func NewKafkaForecastPublisher(producer BatchProducer, topic string) *KafkaForecastPublisher {
	return &KafkaForecastPublisher{producer: producer, topic: topic}
}

func (p *KafkaForecastPublisher) Publish(ctx context.Context, rec *models.ForecastRecord) error {
	return p.PublishBatch(ctx, []*models.ForecastRecord{rec})
}

func (p *KafkaForecastPublisher) PublishBatch(ctx context.Context, recs []*models.ForecastRecord) error {
	msgs := make([]pkgkafka.Message, 0, len(recs))
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		msgs = append(msgs, pkgkafka.Message{Key: []byte(rec.Query.Location), Value: rec})
	}
	if len(msgs) == 0 {
		return nil
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

// Close leaves the shared producer open; the app closes it on shutdown.
func (p *KafkaForecastPublisher) Close() error {
	return nil
}
