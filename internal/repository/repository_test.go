package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Clarity/internal/domain/models"
	"Clarity/pkg/cache"
	pkgkafka "Clarity/pkg/kafka"
)

func newEventStore(t *testing.T, now *time.Time, opts ...EventStoreOption) *CacheEventStore {
	t.Helper()
	clock := func() time.Time { return *now }
	mc := cache.NewMemoryCache(cache.WithMemoryCleanup(0), cache.WithMemoryClock(clock))
	t.Cleanup(func() { _ = mc.Close() })
	return NewCacheEventStore(mc, append([]EventStoreOption{WithEventClock(clock)}, opts...)...)
}

func TestCacheEventStoreActive(t *testing.T) {
	now := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)
	store := newEventStore(t, &now)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, models.Event{Location: "soho", Name: "Street fair", Impact: 6,
		StartsAt: now.Add(time.Hour), EndsAt: now.Add(3 * time.Hour)}))
	require.NoError(t, store.Add(ctx, models.Event{Location: "soho", Name: "Breakfast rush", Impact: 2,
		StartsAt: now, EndsAt: now.Add(time.Hour)}))
	require.NoError(t, store.Add(ctx, models.Event{Location: "tribeca", Name: "Film festival", Impact: 9,
		StartsAt: now, EndsAt: now.Add(5 * time.Hour)}))

	active, err := store.Active(ctx, "soho", now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Street fair", active[0].Name)
	assert.NotEmpty(t, active[0].ID)
	assert.Equal(t, now, active[0].CreatedAt)

	all, err := store.List(ctx, "soho")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Breakfast rush", all[0].Name)

	none, err := store.Active(ctx, "midtown", now)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCacheEventStorePrunesAndCaps(t *testing.T) {
	now := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)
	store := newEventStore(t, &now, WithEventLimits(2, time.Hour))
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, models.Event{Location: "soho", Name: "old", StartsAt: now.Add(-4 * time.Hour), EndsAt: now.Add(-2 * time.Hour)}))
	now = now.Add(time.Minute)
	require.NoError(t, store.Add(ctx, models.Event{Location: "soho", Name: "a", StartsAt: now, EndsAt: now.Add(time.Hour)}))
	require.NoError(t, store.Add(ctx, models.Event{Location: "soho", Name: "b", StartsAt: now.Add(time.Hour), EndsAt: now.Add(2 * time.Hour)}))
	require.NoError(t, store.Add(ctx, models.Event{Location: "soho", Name: "c", StartsAt: now.Add(2 * time.Hour), EndsAt: now.Add(3 * time.Hour)}))

	all, err := store.List(ctx, "soho")
	require.NoError(t, err)
	names := make([]string, len(all))
	for i, ev := range all {
		names[i] = ev.Name
	}
	assert.Equal(t, []string{"b", "c"}, names)
}

func TestCacheEventStoreBusyLock(t *testing.T) {
	now := time.Now()
	mc := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	defer mc.Close()
	store := NewCacheEventStore(mc, WithEventClock(func() time.Time { return now }))

	ok, err := mc.TryLock(context.Background(), cache.LockKey(eventsKey("soho")), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	err = store.Add(ctx, models.Event{Location: "soho", Name: "x", StartsAt: now, EndsAt: now.Add(time.Hour)})
	assert.Error(t, err)
}

type recordingProducer struct {
	mu    sync.Mutex
	topic string
	msgs  []pkgkafka.Message
	err   error
}

func (p *recordingProducer) PublishBatch(_ context.Context, topic string, msgs []pkgkafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.msgs = append(p.msgs, msgs...)
	return p.err
}

func (p *recordingProducer) Close() error { return nil }

func TestKafkaForecastPublisherKeysByLocation(t *testing.T) {
	prod := &recordingProducer{}
	pub := NewKafkaForecastPublisher(prod, "clarity.forecasts")

	rec := &models.ForecastRecord{ID: "r1", Query: models.ForecastQuery{Location: "soho"}}
	require.NoError(t, pub.PublishBatch(context.Background(), []*models.ForecastRecord{rec, nil}))

	require.Len(t, prod.msgs, 1)
	assert.Equal(t, "clarity.forecasts", prod.topic)
	assert.Equal(t, "soho", string(prod.msgs[0].Key))
	assert.Same(t, rec, prod.msgs[0].Value)

	prod.err = errors.New("down")
	assert.Error(t, pub.Publish(context.Background(), rec))
}

type fakeDB struct {
	queries []string
	args    [][]interface{}
}

func (d *fakeDB) ExecContext(_ context.Context, q string, args ...interface{}) (sql.Result, error) {
	d.queries = append(d.queries, q)
	d.args = append(d.args, args)
	return nil, nil
}

func (d *fakeDB) QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error) {
	return nil, errors.New("not supported")
}

func (d *fakeDB) PingContext(context.Context) error { return nil }

func TestClickHouseForecastStoreBatchInsert(t *testing.T) {
	db := &fakeDB{}
	store := newForecastStore(db, "clarity", "forecasts", nil)
	at := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	recs := []*models.ForecastRecord{
		{ID: "a", Query: models.ForecastQuery{Location: "soho", Date: "2025-03-14", Hour: 9, Baseline: 42},
			Forecast: models.FusedForecast{ExpectedDelta: 2, ExpectedTotal: 44, Summary: []string{"ok"}, Verdict: "on_par"},
			Clamped: true, ComputedAt: at},
		{ID: "", Query: models.ForecastQuery{Date: "2025-03-14"}},
		{ID: "c", Query: models.ForecastQuery{Location: "soho", Date: "bad-date"}},
	}
	require.NoError(t, store.StoreBatch(context.Background(), recs))

	require.Len(t, db.queries, 1)
	assert.True(t, strings.HasPrefix(db.queries[0], "INSERT INTO clarity.forecasts ("))
	require.Len(t, db.args[0], 16)
	assert.Equal(t, "a", db.args[0][0])
	assert.Equal(t, uint8(9), db.args[0][3])
	assert.Equal(t, uint8(1), db.args[0][10])
	assert.Equal(t, `["ok"]`, db.args[0][11])
	assert.Equal(t, at, db.args[0][15])
}

func TestClickHouseForecastStoreInit(t *testing.T) {
	db := &fakeDB{}
	store := newForecastStore(db, "clarity", "forecasts", nil)
	require.NoError(t, store.Init(context.Background()))
	require.Len(t, db.queries, 2)
	assert.Equal(t, "CREATE DATABASE IF NOT EXISTS clarity", db.queries[0])
	assert.Contains(t, db.queries[1], "CREATE TABLE IF NOT EXISTS clarity.forecasts")
}
