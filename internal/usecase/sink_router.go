package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"Clarity/internal/domain/models"
	domrepo "Clarity/internal/domain/repository"
	mid "Clarity/internal/middleware"
	applogger "Clarity/pkg/logger"
)

// Broadcaster pushes records to live subscribers.
type Broadcaster interface {
	Broadcast(rec *models.ForecastRecord)
}

// SinkRouter delivers each forecast record to every configured sink:
// the Kafka publisher, the history storage and the live stream. Each sink
// is retried on its own so one slow sink never duplicates records in the
// others.
type SinkRouter struct {
	pub        domrepo.Publisher
	store      domrepo.Storage
	hub        Broadcaster
	metrics    domrepo.Metrics
	log        *applogger.Logger
	retryMax   int
	retryDelay time.Duration
}

var _ mid.Proc = (*SinkRouter)(nil)

type RouterOption func(*SinkRouter)

func WithPublisher(p domrepo.Publisher) RouterOption {
	return func(r *SinkRouter) { r.pub = p }
}

func WithHistoryStore(s domrepo.Storage) RouterOption {
	return func(r *SinkRouter) { r.store = s }
}

func WithBroadcaster(b Broadcaster) RouterOption {
	return func(r *SinkRouter) { r.hub = b }
}

func WithRetry(max int, delay time.Duration) RouterOption {
	return func(r *SinkRouter) {
		r.retryMax = max
		r.retryDelay = delay
	}
}

func WithRouterLogger(l *applogger.Logger) RouterOption {
	return func(r *SinkRouter) { r.log = l }
}

func NewSinkRouter(metrics domrepo.Metrics, opts ...RouterOption) *SinkRouter {
	r := &SinkRouter{
		metrics:    metrics,
		log:        applogger.NewNop(),
		retryMax:   3,
		retryDelay: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sinks lists the configured sink names.
func (r *SinkRouter) Sinks() []string {
	var out []string
	if r.pub != nil {
		out = append(out, "kafka")
	}
	if r.store != nil {
		out = append(out, "clickhouse")
	}
	if r.hub != nil {
		out = append(out, "websocket")
	}
	return out
}

func (r *SinkRouter) Process(ctx context.Context, rec *models.ForecastRecord) error {
	if rec == nil {
		return errors.New("forecast record is nil")
	}
	start := time.Now()

	if r.hub != nil {
		r.hub.Broadcast(rec)
		r.metrics.RecordPublished("websocket", nil)
	}

	var errs []error
	if r.pub != nil {
		if err := r.deliver(ctx, "kafka", func() error { return r.pub.Publish(ctx, rec) }); err != nil {
			errs = append(errs, err)
		}
	}
	if r.store != nil {
		if err := r.deliver(ctx, "clickhouse", func() error { return r.store.Store(ctx, rec) }); err != nil {
			errs = append(errs, err)
		}
	}

	r.metrics.RecordLatency("publish", time.Since(start).Seconds())
	return errors.Join(errs...)
}

func (r *SinkRouter) deliver(ctx context.Context, sink string, op func() error) error {
	var b backoff.BackOff = backoff.NewConstantBackOff(r.retryDelay)
	if r.retryMax >= 0 {
		b = backoff.WithMaxRetries(b, uint64(r.retryMax))
	}
	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		r.log.Warn("sink delivery failed, retrying",
			applogger.String("sink", sink),
			applogger.Duration("wait", wait),
			applogger.Error(err))
	})
	r.metrics.RecordPublished(sink, err)
	if err != nil {
		return fmt.Errorf("%s: %w", sink, err)
	}
	return nil
}

// Close releases the sinks.
func (r *SinkRouter) Close() {
	if r.pub != nil {
		_ = r.pub.Close()
	}
	if r.store != nil {
		_ = r.store.Close()
	}
}
