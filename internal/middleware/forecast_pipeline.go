package middleware

import (
	"context"
	"errors"
	"sync"
	"time"

	"Clarity/internal/domain/models"
	domrepo "Clarity/internal/domain/repository"
	applogger "Clarity/pkg/logger"
)

var (
	ErrPipelineClosed = errors.New("pipeline: closed")
	ErrBufferFull     = errors.New("pipeline: buffer full")
)

// Proc is the downstream the pipeline feeds.
type Proc interface {
	Process(ctx context.Context, rec *models.ForecastRecord) error
}

// ForecastPipeline sits between forecast computation and the sinks. It
// validates and throttles records per location, then hands them to the
// downstream from a background worker so callers never wait on delivery.
type ForecastPipeline struct {
	proc     Proc
	metrics  domrepo.Metrics
	log      *applogger.Logger
	throttle time.Duration
	timeout  time.Duration
	now      func() time.Time

	bufCh chan *models.ForecastRecord
	wg    sync.WaitGroup

	mu       sync.Mutex
	started  bool
	closed   bool
	lastSeen map[string]time.Time
}

type PipelineOption func(*ForecastPipeline)

func WithBufferSize(n int) PipelineOption {
	return func(p *ForecastPipeline) {
		if n > 0 {
			p.bufCh = make(chan *models.ForecastRecord, n)
		}
	}
}

// WithThrottle drops records of a location that arrive less than gap
// after the last accepted one. Zero disables throttling.
func WithThrottle(gap time.Duration) PipelineOption {
	return func(p *ForecastPipeline) {
		p.throttle = gap
	}
}

// WithProcessTimeout bounds one downstream delivery.
func WithProcessTimeout(d time.Duration) PipelineOption {
	return func(p *ForecastPipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *ForecastPipeline) {
		p.now = now
	}
}

func WithPipelineLogger(l *applogger.Logger) PipelineOption {
	return func(p *ForecastPipeline) {
		p.log = l
	}
}

func NewForecastPipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *ForecastPipeline {
	p := &ForecastPipeline{
		proc:     proc,
		metrics:  metrics,
		log:      applogger.NewNop(),
		timeout:  30 * time.Second,
		now:      time.Now,
		bufCh:    make(chan *models.ForecastRecord, 256),
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the delivery worker. It is a no-op when already started.
func (p *ForecastPipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for rec := range p.bufCh {
			p.metrics.SetBufferDepth(len(p.bufCh))
			p.deliver(rec)
		}
	}()
}

// Stop refuses new records, delivers what is buffered and waits for the
// worker until ctx is done.
func (p *ForecastPipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.bufCh)
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit enqueues rec for delivery. Throttled records are dropped without
// error; a full buffer returns ErrBufferFull.
func (p *ForecastPipeline) Submit(rec *models.ForecastRecord) error {
	if err := validateRecord(rec); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPipelineClosed
	}
	if !p.allow(rec.Query.Location, p.now()) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	select {
	case p.bufCh <- rec:
		p.metrics.SetBufferDepth(len(p.bufCh))
		return nil
	default:
		p.metrics.RecordError("pipeline_buffer_full")
		p.log.Warn("forecast pipeline buffer full, dropping record",
			applogger.String("id", rec.ID),
			applogger.String("location", rec.Query.Location))
		return ErrBufferFull
	}
}

func (p *ForecastPipeline) deliver(rec *models.ForecastRecord) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.proc.Process(ctx, rec); err != nil {
		p.metrics.RecordError("pipeline_process")
		p.log.Error("deliver forecast",
			applogger.String("id", rec.ID),
			applogger.String("location", rec.Query.Location),
			applogger.Error(err))
		return
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
}

func (p *ForecastPipeline) allow(location string, now time.Time) bool {
	if p.throttle <= 0 {
		return true
	}
	if last, ok := p.lastSeen[location]; ok && now.Sub(last) < p.throttle {
		return false
	}
	p.lastSeen[location] = now
	return true
}

func validateRecord(rec *models.ForecastRecord) error {
	switch {
	case rec == nil:
		return errors.New("pipeline: nil record")
	case rec.ID == "":
		return errors.New("pipeline: record without id")
	case rec.Query.Location == "":
		return errors.New("pipeline: record without location")
	}
	return nil
}
