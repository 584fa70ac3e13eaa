package usecase

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"Clarity/internal/domain/models"
	domrepo "Clarity/internal/domain/repository"
	domsvc "Clarity/internal/domain/service"
	svccache "Clarity/internal/service/cache"
	"Clarity/internal/services/fusion"
	applogger "Clarity/pkg/logger"
	"Clarity/pkg/util"
)

// Submitter accepts freshly computed records for publication.
type Submitter interface {
	Submit(rec *models.ForecastRecord) error
}

// ForecastUseCase answers forecast requests: it fans out to the signal
// providers, fuses what they return and caches the result per slot.
type ForecastUseCase struct {
	providers       []domsvc.SignalProvider
	engine          *fusion.Engine
	cache           *svccache.ForecastCache
	pipeline        Submitter
	storage         domrepo.Storage
	metrics         domrepo.Metrics
	log             *applogger.Logger
	providerTimeout time.Duration
	defaultBaseline float64
	loc             *time.Location
	now             func() time.Time
}

type ForecastOption func(*ForecastUseCase)

func WithProviderTimeout(d time.Duration) ForecastOption {
	return func(uc *ForecastUseCase) {
		if d > 0 {
			uc.providerTimeout = d
		}
	}
}

// WithDefaultBaseline is used when a request carries no baseline.
func WithDefaultBaseline(b float64) ForecastOption {
	return func(uc *ForecastUseCase) {
		uc.defaultBaseline = b
	}
}

// WithLocation sets the zone that forecast dates and hours refer to.
func WithLocation(loc *time.Location) ForecastOption {
	return func(uc *ForecastUseCase) {
		if loc != nil {
			uc.loc = loc
		}
	}
}

func WithPipeline(p Submitter) ForecastOption {
	return func(uc *ForecastUseCase) {
		uc.pipeline = p
	}
}

func WithStorage(s domrepo.Storage) ForecastOption {
	return func(uc *ForecastUseCase) {
		uc.storage = s
	}
}

func WithForecastLogger(l *applogger.Logger) ForecastOption {
	return func(uc *ForecastUseCase) {
		uc.log = l
	}
}

func WithForecastClock(now func() time.Time) ForecastOption {
	return func(uc *ForecastUseCase) {
		uc.now = now
	}
}

func NewForecastUseCase(providers []domsvc.SignalProvider, engine *fusion.Engine, cache *svccache.ForecastCache, metrics domrepo.Metrics, opts ...ForecastOption) *ForecastUseCase {
	uc := &ForecastUseCase{
		providers:       providers,
		engine:          engine,
		cache:           cache,
		metrics:         metrics,
		log:             applogger.NewNop(),
		providerTimeout: 8 * time.Second,
		defaultBaseline: 42,
		loc:             time.UTC,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Forecast returns the fused forecast for the requested slot, computing it
// at most once per slot and TTL. When providers fail but an earlier result
// exists, that result is returned marked degraded.
func (uc *ForecastUseCase) Forecast(ctx context.Context, req models.ForecastRequest) (models.ForecastResponse, error) {
	q, err := uc.query(req)
	if err != nil {
		return models.ForecastResponse{}, err
	}

	start := time.Now()
	lk, err := uc.cache.GetOrCompute(ctx, svccache.Key(q), func(cctx context.Context) (models.ForecastRecord, error) {
		return uc.compute(cctx, q)
	})
	uc.metrics.RecordLatency("forecast", time.Since(start).Seconds())
	if err != nil {
		return models.ForecastResponse{}, err
	}

	resp := ToResponse(lk.Record, lk.Cached)
	if lk.Degraded {
		resp.Degraded = true
		errs := make(map[string]string, len(resp.Errors)+1)
		for k, v := range resp.Errors {
			errs[k] = v
		}
		errs["refresh"] = lk.Err
		resp.Errors = errs
	}
	return resp, nil
}

func (uc *ForecastUseCase) query(req models.ForecastRequest) (models.ForecastQuery, error) {
	location := util.NormalizeLocation(req.Location)
	if location == "" {
		return models.ForecastQuery{}, &InvalidRequestError{Field: "location", Err: errors.New("must not be empty")}
	}
	date, hour, err := util.ResolveSlot(req.Date, req.Hour, uc.now().In(uc.loc))
	if err != nil {
		field := "date"
		if req.Hour != nil && (*req.Hour < 0 || *req.Hour > 23) {
			field = "hour"
		}
		return models.ForecastQuery{}, &InvalidRequestError{Field: field, Err: err}
	}
	baseline := uc.defaultBaseline
	if req.Baseline != nil {
		baseline = *req.Baseline
	}
	if baseline < 0 || math.IsNaN(baseline) || math.IsInf(baseline, 0) {
		return models.ForecastQuery{}, &fusion.InvalidBaselineError{Baseline: baseline}
	}
	return models.ForecastQuery{Location: location, Date: date, Hour: hour, Baseline: baseline}, nil
}

func (uc *ForecastUseCase) compute(ctx context.Context, q models.ForecastQuery) (models.ForecastRecord, error) {
	if len(uc.providers) == 0 {
		return models.ForecastRecord{}, &fusion.UpstreamUnavailableError{}
	}

	raws, failures := uc.collect(ctx, q)
	if len(failures) == len(uc.providers) {
		return models.ForecastRecord{}, &fusion.UpstreamUnavailableError{Failures: failures}
	}

	norm, err := fusion.Normalize(raws)
	if err != nil {
		return models.ForecastRecord{}, err
	}
	forecast, res, err := uc.engine.Forecast(q.Baseline, norm.Signals)
	if err != nil {
		return models.ForecastRecord{}, err
	}

	rec := models.ForecastRecord{
		ID:         uuid.NewString(),
		Query:      q,
		Forecast:   forecast,
		Signals:    norm.Signals,
		Rejected:   norm.RejectedReasons(),
		RawDelta:   res.RawDelta,
		Clamped:    res.Clamped,
		ComputedAt: uc.now().UTC(),
	}
	if len(failures) > 0 {
		rec.Errors = failures
	}

	uc.metrics.RecordFusion(res.Clamped)
	uc.metrics.RecordExpectedTotal(forecast.ExpectedTotal)
	uc.log.Info("forecast computed",
		applogger.String("id", rec.ID),
		applogger.String("location", q.Location),
		applogger.String("date", q.Date),
		applogger.Int("hour", q.Hour),
		applogger.Int("signals", len(rec.Signals)),
		applogger.Int("provider_errors", len(failures)),
		applogger.Float64("expected_total", forecast.ExpectedTotal),
		applogger.Bool("clamped", res.Clamped))

	if uc.pipeline != nil {
		if err := uc.pipeline.Submit(&rec); err != nil {
			uc.log.Warn("forecast not submitted for publication", applogger.String("id", rec.ID), applogger.Error(err))
		}
	}
	return rec, nil
}

// collect queries every provider in parallel. Each provider gets its own
// timeout and one failure never cancels the others. Signals keep provider
// order; a provider reporting ErrNoSignal contributes nothing.
func (uc *ForecastUseCase) collect(ctx context.Context, q models.ForecastQuery) ([]models.RawSignal, map[string]string) {
	type result struct {
		sig models.RawSignal
		ok  bool
		err error
	}
	results := make([]result, len(uc.providers))

	var g errgroup.Group
	for i, p := range uc.providers {
		i, p := i, p
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, uc.providerTimeout)
			defer cancel()

			start := time.Now()
			sig, err := p.Fetch(pctx, q)
			switch {
			case errors.Is(err, domsvc.ErrNoSignal):
				uc.metrics.RecordProvider(p.Name(), nil, time.Since(start))
			case err != nil:
				uc.metrics.RecordProvider(p.Name(), err, time.Since(start))
				uc.log.Warn("signal provider failed",
					applogger.String("provider", p.Name()),
					applogger.String("location", q.Location),
					applogger.Error(err))
				results[i] = result{err: err}
			default:
				uc.metrics.RecordProvider(p.Name(), nil, time.Since(start))
				if sig.Source == "" {
					sig.Source = p.Name()
				}
				results[i] = result{sig: sig, ok: true}
			}
			return nil
		})
	}
	_ = g.Wait()

	raws := make([]models.RawSignal, 0, len(results))
	failures := map[string]string{}
	for i, r := range results {
		switch {
		case r.err != nil:
			failures[uc.providers[i].Name()] = r.err.Error()
		case r.ok:
			raws = append(raws, r.sig)
		}
	}
	return raws, failures
}

// Fuse combines caller-supplied signals. Nothing is cached or published.
func (uc *ForecastUseCase) Fuse(_ context.Context, req models.FuseRequest) (models.ForecastResponse, error) {
	resp, res, err := FuseSignals(uc.engine, req, uc.now().UTC())
	if err != nil {
		return models.ForecastResponse{}, err
	}
	uc.metrics.RecordFusion(res.Clamped)
	return resp, nil
}

// FuseSignals normalizes and fuses req with engine, stamping the response
// with computed.
func FuseSignals(engine *fusion.Engine, req models.FuseRequest, computed time.Time) (models.ForecastResponse, fusion.Result, error) {
	norm, err := fusion.Normalize(req.Signals)
	if err != nil {
		return models.ForecastResponse{}, fusion.Result{}, err
	}
	forecast, res, err := engine.Forecast(req.Baseline, norm.Signals)
	if err != nil {
		return models.ForecastResponse{}, fusion.Result{}, err
	}
	return models.ForecastResponse{
		Baseline:      req.Baseline,
		ExpectedDelta: forecast.ExpectedDelta,
		ExpectedTotal: forecast.ExpectedTotal,
		Confidence:    forecast.Confidence,
		Summary:       forecast.Summary,
		Verdict:       forecast.Verdict,
		Signals:       norm.Signals,
		Rejected:      norm.RejectedReasons(),
		ComputedAt:    &computed,
	}, res, nil
}

// History returns stored forecasts for a location, newest first.
func (uc *ForecastUseCase) History(ctx context.Context, req models.HistoryRequest) ([]models.ForecastResponse, error) {
	if uc.storage == nil {
		return nil, ErrHistoryUnavailable
	}
	location := util.NormalizeLocation(req.Location)
	if location == "" {
		return nil, &InvalidRequestError{Field: "location", Err: errors.New("must not be empty")}
	}
	recs, err := uc.storage.History(ctx, location, req.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.ForecastResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, ToResponse(*rec, false))
	}
	return out, nil
}

// Sweep drops cache entries past their stale retention.
func (uc *ForecastUseCase) Sweep() int {
	return uc.cache.Sweep(uc.now())
}

// ToResponse renders a record in the public response shape.
func ToResponse(rec models.ForecastRecord, cached bool) models.ForecastResponse {
	hour := rec.Query.Hour
	computed := rec.ComputedAt
	signals := rec.Signals
	if signals == nil {
		signals = []models.Signal{}
	}
	return models.ForecastResponse{
		Location:      rec.Query.Location,
		Date:          rec.Query.Date,
		Hour:          &hour,
		Baseline:      rec.Query.Baseline,
		ExpectedDelta: rec.Forecast.ExpectedDelta,
		ExpectedTotal: rec.Forecast.ExpectedTotal,
		Confidence:    rec.Forecast.Confidence,
		Summary:       rec.Forecast.Summary,
		Verdict:       rec.Forecast.Verdict,
		Signals:       signals,
		Rejected:      rec.Rejected,
		Errors:        rec.Errors,
		Cached:        cached,
		ComputedAt:    &computed,
	}
}
