package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Clarity/internal/domain/models"
	domsvc "Clarity/internal/domain/service"
	svccache "Clarity/internal/service/cache"
	"Clarity/internal/services/fusion"
	"Clarity/pkg/queue"
)

type nopMetrics struct{}

func (nopMetrics) RecordFusion(bool)                           {}
func (nopMetrics) ObserveCache(string)                         {}
func (nopMetrics) RecordProvider(string, error, time.Duration) {}
func (nopMetrics) RecordPublished(string, error)               {}
func (nopMetrics) RecordError(string)                          {}
func (nopMetrics) RecordExpectedTotal(float64)                 {}
func (nopMetrics) SetBufferDepth(int)                          {}
func (nopMetrics) RecordLatency(string, float64)               {}

type stubProvider struct {
	name  string
	mu    sync.Mutex
	sig   models.RawSignal
	err   error
	calls int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Fetch(_ context.Context, _ models.ForecastQuery) (models.RawSignal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.sig, p.err
}

func (p *stubProvider) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

type recordingSubmitter struct {
	mu   sync.Mutex
	recs []*models.ForecastRecord
}

func (s *recordingSubmitter) Submit(rec *models.ForecastRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

type fixture struct {
	now  time.Time
	uc   *ForecastUseCase
	pipe *recordingSubmitter
}

func newFixture(t *testing.T, providers ...domsvc.SignalProvider) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC), pipe: &recordingSubmitter{}}
	clock := func() time.Time { return f.now }
	cache := svccache.NewForecastCache(svccache.WithClock(clock), svccache.WithTTL(time.Minute))
	f.uc = NewForecastUseCase(providers, fusion.NewEngine(), cache, nopMetrics{},
		WithForecastClock(clock),
		WithPipeline(f.pipe),
		WithDefaultBaseline(42))
	return f
}

func baseline(v float64) *float64 { return &v }

func TestForecastFusesProviderSignals(t *testing.T) {
	weather := &stubProvider{name: "weather_event", sig: models.RawSignal{Source: "weather_event", DeltaPerHour: 3.2, Confidence: models.Confidence(0.75), Explanation: "Mild and sunny"}}
	transit := &stubProvider{name: "mta_subway", sig: models.RawSignal{DeltaPerHour: 1.0, Confidence: models.Confidence(0.5)}}
	f := newFixture(t, weather, transit)

	resp, err := f.uc.Forecast(context.Background(), models.ForecastRequest{Location: "  SoHo "})
	require.NoError(t, err)

	assert.Equal(t, "soho", resp.Location)
	assert.Equal(t, "2025-03-14", resp.Date)
	assert.Equal(t, 9, *resp.Hour)
	assert.Equal(t, 42.0, resp.Baseline)
	assert.InDelta(t, (3.2*0.75+1.0*0.5)/1.25, resp.ExpectedDelta, 1e-9)
	assert.InDelta(t, 42+resp.ExpectedDelta, resp.ExpectedTotal, 1e-9)
	require.Len(t, resp.Signals, 2)
	assert.Equal(t, "mta_subway", resp.Signals[1].Source)
	assert.Equal(t, "Mild and sunny", resp.Summary[0])
	assert.False(t, resp.Cached)
	assert.Empty(t, resp.Errors)
	require.Len(t, f.pipe.recs, 1)

	again, err := f.uc.Forecast(context.Background(), models.ForecastRequest{Location: "soho", Date: "2025-03-14", Hour: resp.Hour})
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, 1, weather.calls)
	assert.Len(t, f.pipe.recs, 1)
}

func TestForecastReportsPartialFailures(t *testing.T) {
	ok := &stubProvider{name: "google_traffic", sig: models.RawSignal{Source: "google_traffic", DeltaPerHour: -2, Confidence: models.Confidence(0.6)}}
	down := &stubProvider{name: "weather_event", err: errors.New("agent timeout")}
	quiet := &stubProvider{name: "event_surge", err: domsvc.ErrNoSignal}
	f := newFixture(t, ok, down, quiet)

	resp, err := f.uc.Forecast(context.Background(), models.ForecastRequest{Location: "soho", Baseline: baseline(20)})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"weather_event": "agent timeout"}, resp.Errors)
	assert.Equal(t, -2.0, resp.ExpectedDelta)
	assert.Equal(t, 18.0, resp.ExpectedTotal)
	assert.Len(t, resp.Signals, 1)
}

func TestForecastWithoutSignalsHoldsBaseline(t *testing.T) {
	f := newFixture(t, &stubProvider{name: "event_surge", err: domsvc.ErrNoSignal})

	resp, err := f.uc.Forecast(context.Background(), models.ForecastRequest{Location: "soho"})
	require.NoError(t, err)
	assert.Equal(t, 42.0, resp.ExpectedTotal)
	assert.Equal(t, []string{"No signals available; forecast holds at baseline."}, resp.Summary)
	assert.Equal(t, []models.Signal{}, resp.Signals)
}

func TestForecastUpstreamUnavailable(t *testing.T) {
	f := newFixture(t, &stubProvider{name: "weather_event", err: errors.New("503")}, &stubProvider{name: "mta_subway", err: errors.New("dns")})

	_, err := f.uc.Forecast(context.Background(), models.ForecastRequest{Location: "soho"})
	var upstream *fusion.UpstreamUnavailableError
	require.ErrorAs(t, err, &upstream)
	assert.Len(t, upstream.Failures, 2)

	var comp *svccache.ComputationError
	assert.ErrorAs(t, err, &comp)
}

func TestForecastWithoutProviders(t *testing.T) {
	f := newFixture(t)
	_, err := f.uc.Forecast(context.Background(), models.ForecastRequest{Location: "soho"})
	var upstream *fusion.UpstreamUnavailableError
	assert.ErrorAs(t, err, &upstream)
}

func TestForecastServesStaleWhenRefreshFails(t *testing.T) {
	p := &stubProvider{name: "weather_event", sig: models.RawSignal{DeltaPerHour: 2, Confidence: models.Confidence(1)}}
	f := newFixture(t, p)

	first, err := f.uc.Forecast(context.Background(), models.ForecastRequest{Location: "soho"})
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Minute)
	p.fail(errors.New("agent down"))
	hour := 9
	resp, err := f.uc.Forecast(context.Background(), models.ForecastRequest{Location: "soho", Date: "2025-03-14", Hour: &hour})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.True(t, resp.Cached)
	assert.Equal(t, first.ExpectedTotal, resp.ExpectedTotal)
	assert.Contains(t, resp.Errors["refresh"], "agent down")
}

func TestForecastValidatesRequest(t *testing.T) {
	f := newFixture(t, &stubProvider{name: "weather_event"})

	_, err := f.uc.Forecast(context.Background(), models.ForecastRequest{Location: "soho", Baseline: baseline(-1)})
	var bad *fusion.InvalidBaselineError
	assert.ErrorAs(t, err, &bad)

	_, err = f.uc.Forecast(context.Background(), models.ForecastRequest{Location: "soho", Date: "14/03/2025"})
	var invalid *InvalidRequestError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "date", invalid.Field)

	_, err = f.uc.Forecast(context.Background(), models.ForecastRequest{Location: "   "})
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "location", invalid.Field)
}

func TestFuseIsUncached(t *testing.T) {
	f := newFixture(t)
	req := models.FuseRequest{Baseline: 42, Signals: []models.RawSignal{
		{Source: "weather_event", DeltaPerHour: 3.2, Confidence: models.Confidence(0.75), Explanation: "Mild"},
		{Source: "", DeltaPerHour: 1},
	}}

	resp, err := f.uc.Fuse(context.Background(), req)
	require.NoError(t, err)
	assert.InDelta(t, 3.2, resp.ExpectedDelta, 1e-9)
	assert.Len(t, resp.Rejected, 1)
	assert.Empty(t, f.pipe.recs)

	req.Signals = append(req.Signals, models.RawSignal{Source: "weather_event"})
	_, err = f.uc.Fuse(context.Background(), req)
	var invalid *fusion.InvalidSignalError
	assert.ErrorAs(t, err, &invalid)
}

type memStorage struct {
	recs []*models.ForecastRecord
}

func (m *memStorage) Init(context.Context) error { return nil }
func (m *memStorage) Store(_ context.Context, rec *models.ForecastRecord) error {
	m.recs = append(m.recs, rec)
	return nil
}
func (m *memStorage) StoreBatch(ctx context.Context, recs []*models.ForecastRecord) error {
	for _, r := range recs {
		_ = m.Store(ctx, r)
	}
	return nil
}
func (m *memStorage) History(_ context.Context, location string, limit int) ([]*models.ForecastRecord, error) {
	var out []*models.ForecastRecord
	for i := len(m.recs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.recs[i].Query.Location == location {
			out = append(out, m.recs[i])
		}
	}
	return out, nil
}
func (m *memStorage) Health(context.Context) error { return nil }
func (m *memStorage) Close() error                 { return nil }

func TestHistory(t *testing.T) {
	f := newFixture(t)
	_, err := f.uc.History(context.Background(), models.HistoryRequest{Location: "soho", Limit: 5})
	assert.ErrorIs(t, err, ErrHistoryUnavailable)

	store := &memStorage{}
	f.uc.storage = store
	_ = store.Store(context.Background(), &models.ForecastRecord{ID: "a", Query: models.ForecastQuery{Location: "soho", Hour: 8}})
	_ = store.Store(context.Background(), &models.ForecastRecord{ID: "b", Query: models.ForecastQuery{Location: "soho", Hour: 9}})

	out, err := f.uc.History(context.Background(), models.HistoryRequest{Location: "SOHO", Limit: 5})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 9, *out[0].Hour)
}

type flakyPublisher struct {
	mu    sync.Mutex
	fails int
	calls int
}

func (p *flakyPublisher) Publish(context.Context, *models.ForecastRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.fails {
		return errors.New("broker unavailable")
	}
	return nil
}

func (p *flakyPublisher) PublishBatch(ctx context.Context, recs []*models.ForecastRecord) error {
	return p.Publish(ctx, nil)
}

func (p *flakyPublisher) Close() error { return nil }

type countingHub struct{ n int }

func (h *countingHub) Broadcast(*models.ForecastRecord) { h.n++ }

func TestSinkRouterRetriesEachSink(t *testing.T) {
	pub := &flakyPublisher{fails: 2}
	store := &memStorage{}
	hub := &countingHub{}
	r := NewSinkRouter(nopMetrics{}, WithPublisher(pub), WithHistoryStore(store), WithBroadcaster(hub), WithRetry(3, time.Millisecond))

	rec := &models.ForecastRecord{ID: "a", Query: models.ForecastQuery{Location: "soho"}}
	require.NoError(t, r.Process(context.Background(), rec))
	assert.Equal(t, 3, pub.calls)
	assert.Len(t, store.recs, 1)
	assert.Equal(t, 1, hub.n)
	assert.Equal(t, []string{"kafka", "clickhouse", "websocket"}, r.Sinks())
}

func TestSinkRouterReportsExhaustedSink(t *testing.T) {
	pub := &flakyPublisher{fails: 10}
	store := &memStorage{}
	r := NewSinkRouter(nopMetrics{}, WithPublisher(pub), WithHistoryStore(store), WithRetry(1, time.Millisecond))

	err := r.Process(context.Background(), &models.ForecastRecord{ID: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka: broker unavailable")
	assert.Equal(t, 2, pub.calls)
	assert.Len(t, store.recs, 1)
}

type memEvents struct {
	events []models.Event
}

func (m *memEvents) Add(_ context.Context, ev models.Event) error {
	m.events = append(m.events, ev)
	return nil
}
func (m *memEvents) Active(context.Context, string, time.Time) ([]models.Event, error) {
	return m.events, nil
}
func (m *memEvents) List(context.Context, string) ([]models.Event, error) { return m.events, nil }

func TestEventsHandlerIngestsPayload(t *testing.T) {
	store := &memEvents{}
	h := NewEventsHandler("clarity.events", NewEventsUseCase(store, nopMetrics{}, nil))

	payload := `{"location":"SoHo","name":"Street fair","impact":6,"starts_at":"2025-03-14T10:00:00Z","ends_at":"2025-03-14T14:00:00Z"}`
	require.NoError(t, h.Handle(context.Background(), []byte(payload)))
	require.Len(t, store.events, 1)
	ev := store.events[0]
	assert.Equal(t, "soho", ev.Location)
	assert.Equal(t, 0.5, ev.Confidence)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "clarity.events", h.Topic())
}

func TestRegisterKeepsExplicitZeroConfidence(t *testing.T) {
	store := &memEvents{}
	uc := NewEventsUseCase(store, nopMetrics{}, nil)
	start := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	req := models.EventRequest{Location: "soho", Name: "Rumored pop-up", StartsAt: start, EndsAt: start.Add(time.Hour)}

	ev, err := uc.Register(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, DefaultEventConfidence, ev.Confidence)

	req.Confidence = models.Confidence(0)
	ev, err = uc.Register(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0.0, ev.Confidence)

	req.Confidence = models.Confidence(1.2)
	_, err = uc.Register(context.Background(), req)
	var invalid *InvalidRequestError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "confidence", invalid.Field)
}

func TestEventsHandlerRejectsInvalidPayloadPermanently(t *testing.T) {
	h := NewEventsHandler("clarity.events", NewEventsUseCase(&memEvents{}, nopMetrics{}, nil))

	for _, payload := range []string{
		`not json`,
		`{"location":"soho","name":"x","starts_at":"2025-03-14T10:00:00Z","ends_at":"2025-03-14T09:00:00Z"}`,
	} {
		err := h.Handle(context.Background(), []byte(payload))
		var perm *backoff.PermanentError
		assert.ErrorAs(t, err, &perm, payload)
	}
}

func TestEventsJobIngestsQueuedPayload(t *testing.T) {
	store := &memEvents{}
	job := NewEventsJob(NewEventsUseCase(store, nopMetrics{}, nil))
	assert.Equal(t, EventsJobType, job.Type())

	payload := json.RawMessage(`{"location":"Tribeca","name":"Film festival","impact":3.5,"confidence":0.9,"starts_at":"2025-04-01T18:00:00Z","ends_at":"2025-04-01T23:00:00Z"}`)
	require.NoError(t, job.Handle(context.Background(), payload))
	require.Len(t, store.events, 1)
	assert.Equal(t, "tribeca", store.events[0].Location)
	assert.Equal(t, 0.9, store.events[0].Confidence)

	err := job.Handle(context.Background(), json.RawMessage(`{"location":""}`))
	var perm *queue.PermanentError
	assert.ErrorAs(t, err, &perm)
}
