package repository

import (
	"context"
	"time"

	"Clarity/internal/domain/models"
)

// Publisher delivers forecast records to a downstream consumer.
type Publisher interface {
	Publish(ctx context.Context, rec *models.ForecastRecord) error
	PublishBatch(ctx context.Context, recs []*models.ForecastRecord) error
	Close() error
}

// Storage persists forecast records for history queries.
type Storage interface {
	Init(ctx context.Context) error // ensure tables
	Store(ctx context.Context, rec *models.ForecastRecord) error
	StoreBatch(ctx context.Context, recs []*models.ForecastRecord) error
	History(ctx context.Context, location string, limit int) ([]*models.ForecastRecord, error)
	Health(ctx context.Context) error
	Close() error
}

// EventStore keeps event surges per location.
type EventStore interface {
	Add(ctx context.Context, ev models.Event) error
	Active(ctx context.Context, location string, at time.Time) ([]models.Event, error)
	List(ctx context.Context, location string) ([]models.Event, error)
}

type Metrics interface {
	RecordFusion(clamped bool)
	ObserveCache(outcome string)
	RecordProvider(provider string, err error, d time.Duration)
	RecordPublished(sink string, err error)
	RecordError(kind string)
	RecordExpectedTotal(total float64)
	SetBufferDepth(n int)
	RecordLatency(op string, seconds float64)
}
