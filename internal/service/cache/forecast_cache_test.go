package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"Clarity/internal/domain/models"
	pkgcache "Clarity/pkg/cache"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func record(id string, delta float64) models.ForecastRecord {
	return models.ForecastRecord{ID: id, Forecast: models.FusedForecast{ExpectedDelta: delta}}
}

func counting(calls *int32, rec models.ForecastRecord) ComputeFunc {
	return func(context.Context) (models.ForecastRecord, error) {
		atomic.AddInt32(calls, 1)
		return rec, nil
	}
}

func TestGetOrComputeCoalescesConcurrentCallers(t *testing.T) {
	clock := newFakeClock()
	c := NewForecastCache(WithClock(clock.Now))

	var calls int32
	release := make(chan struct{})
	fn := func(context.Context) (models.ForecastRecord, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return record("r1", 2.5), nil
	}

	const n = 50
	var wg sync.WaitGroup
	results := make([]Lookup, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCompute(context.Background(), "forecast:nyc", fn)
		}(i)
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "r1", results[i].Record.ID)
		assert.False(t, results[i].Degraded)
	}
}

func TestGetOrComputeDistinctKeysDoNotBlockEachOther(t *testing.T) {
	c := NewForecastCache()
	block := make(chan struct{})
	defer close(block)

	go func() {
		_, _ = c.GetOrCompute(context.Background(), "slow", func(context.Context) (models.ForecastRecord, error) {
			<-block
			return record("slow", 0), nil
		})
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		var calls int32
		_, err := c.GetOrCompute(context.Background(), "fast", counting(&calls, record("fast", 1)))
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fast key waited on slow key")
	}
}

func TestGetOrComputeRespectsTTL(t *testing.T) {
	clock := newFakeClock()
	c := NewForecastCache(WithClock(clock.Now), WithTTL(time.Minute))
	ctx := context.Background()
	var calls int32

	first, err := c.GetOrCompute(ctx, "k", counting(&calls, record("a", 1)))
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, clock.Now(), first.ComputedAt)
	assert.Equal(t, clock.Now(), first.Record.ComputedAt)

	clock.Advance(59 * time.Second)
	hit, err := c.GetOrCompute(ctx, "k", counting(&calls, record("b", 2)))
	require.NoError(t, err)
	assert.True(t, hit.Cached)
	assert.Equal(t, "a", hit.Record.ID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	clock.Advance(time.Second)
	again, err := c.GetOrCompute(ctx, "k", counting(&calls, record("b", 2)))
	require.NoError(t, err)
	assert.False(t, again.Cached)
	assert.Equal(t, "b", again.Record.ID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

// callConcurrently starts n callers of GetOrCompute for key and returns once
// all of them are running. wait blocks until every caller has returned.
func callConcurrently(c *ForecastCache, key string, n int, fn ComputeFunc) (wait func() ([]Lookup, []error)) {
	var started, done sync.WaitGroup
	results := make([]Lookup, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		started.Add(1)
		done.Add(1)
		go func(i int) {
			defer done.Done()
			started.Done()
			results[i], errs[i] = c.GetOrCompute(context.Background(), key, fn)
		}(i)
	}
	started.Wait()
	return func() ([]Lookup, []error) {
		done.Wait()
		return results, errs
	}
}

func blockingCompute(calls *int32, release <-chan struct{}, rec models.ForecastRecord, err error) ComputeFunc {
	return func(context.Context) (models.ForecastRecord, error) {
		atomic.AddInt32(calls, 1)
		<-release
		return rec, err
	}
}

func TestGetOrComputeExpiredEntryIsRecomputedOnce(t *testing.T) {
	clock := newFakeClock()
	c := NewForecastCache(WithClock(clock.Now), WithTTL(time.Minute))
	var calls int32

	_, err := c.GetOrCompute(context.Background(), "k", counting(&calls, record("old", 1)))
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	release := make(chan struct{})
	const n = 40
	wait := callConcurrently(c, "k", n, blockingCompute(&calls, release, record("new", 2), nil))

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	results, errs := wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "new", results[i].Record.ID)
		assert.False(t, results[i].Degraded)
	}
}

func TestGetOrComputeFailedRefreshServesStaleToEveryWaiter(t *testing.T) {
	clock := newFakeClock()
	c := NewForecastCache(WithClock(clock.Now), WithTTL(time.Minute), WithStaleRetention(time.Hour))
	var calls int32

	_, err := c.GetOrCompute(context.Background(), "k", counting(&calls, record("old", 1)))
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	release := make(chan struct{})
	const n = 40
	wait := callConcurrently(c, "k", n, blockingCompute(&calls, release, models.ForecastRecord{}, errors.New("providers down")))

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	results, errs := wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "old", results[i].Record.ID)
		assert.True(t, results[i].Degraded)
		assert.Equal(t, "providers down", results[i].Err)
	}
}

func TestGetOrComputeServesStaleOnFailure(t *testing.T) {
	clock := newFakeClock()
	c := NewForecastCache(WithClock(clock.Now), WithTTL(time.Minute))
	ctx := context.Background()
	var calls int32

	_, err := c.GetOrCompute(ctx, "k", counting(&calls, record("good", 3)))
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	stale, err := c.GetOrCompute(ctx, "k", func(context.Context) (models.ForecastRecord, error) {
		return models.ForecastRecord{}, errors.New("weather agent down")
	})
	require.NoError(t, err)
	assert.True(t, stale.Degraded)
	assert.Equal(t, "weather agent down", stale.Err)
	assert.Equal(t, "good", stale.Record.ID)

	recovered, err := c.GetOrCompute(ctx, "k", counting(&calls, record("better", 4)))
	require.NoError(t, err)
	assert.False(t, recovered.Degraded)
	assert.Equal(t, "better", recovered.Record.ID)
}

func TestGetOrComputePropagatesFailureWithoutPoisoning(t *testing.T) {
	c := NewForecastCache()
	ctx := context.Background()
	cause := errors.New("all providers failed")

	release := make(chan struct{})
	var calls int32
	failing := func(context.Context) (models.ForecastRecord, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return models.ForecastRecord{}, cause
	}

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.GetOrCompute(ctx, "k", failing)
		}(i)
	}
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		var ce *ComputationError
		require.True(t, errors.As(err, &ce), "got %v", err)
		assert.ErrorIs(t, err, cause)
	}
	assert.Equal(t, 0, c.Len())

	ok, err := c.GetOrCompute(ctx, "k", counting(&calls, record("ok", 1)))
	require.NoError(t, err)
	assert.Equal(t, "ok", ok.Record.ID)
}

func TestGetOrComputeCancelledCallerDoesNotCancelComputation(t *testing.T) {
	c := NewForecastCache()
	started := make(chan struct{})
	release := make(chan struct{})
	var computeErr atomic.Value

	fn := func(ctx context.Context) (models.ForecastRecord, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			computeErr.Store(err)
		}
		return record("late", 1), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(ctx, "k", fn)
		errCh <- err
	}()

	<-started
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, time.Millisecond)
	assert.Nil(t, computeErr.Load())

	var calls int32
	hit, err := c.GetOrCompute(context.Background(), "k", counting(&calls, record("other", 2)))
	require.NoError(t, err)
	assert.True(t, hit.Cached)
	assert.Equal(t, "late", hit.Record.ID)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestGetOrComputeRecoversPanics(t *testing.T) {
	c := NewForecastCache()
	_, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (models.ForecastRecord, error) {
		panic("boom")
	})
	var ce *ComputationError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Error(), "boom")
}

func TestGetOrComputeUsesBackingStore(t *testing.T) {
	clock := newFakeClock()
	store := pkgcache.NewMemoryCache(pkgcache.WithMemoryCleanup(0), pkgcache.WithMemoryClock(clock.Now))
	defer store.Close()
	ctx := context.Background()

	a := NewForecastCache(WithClock(clock.Now), WithStore(store))
	b := NewForecastCache(WithClock(clock.Now), WithStore(store))

	var calls int32
	_, err := a.GetOrCompute(ctx, "k", counting(&calls, record("from-a", 1)))
	require.NoError(t, err)

	got, err := b.GetOrCompute(ctx, "k", counting(&calls, record("from-b", 2)))
	require.NoError(t, err)
	assert.True(t, got.Cached)
	assert.Equal(t, "from-a", got.Record.ID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	fresh := NewForecastCache(WithClock(clock.Now), WithStore(store))
	clock.Advance(5 * time.Minute)
	stale, err := fresh.GetOrCompute(ctx, "k", func(context.Context) (models.ForecastRecord, error) {
		return models.ForecastRecord{}, errors.New("down")
	})
	require.NoError(t, err)
	assert.True(t, stale.Degraded)
	assert.Equal(t, "from-a", stale.Record.ID)
}

func TestSweepDropsOldEntries(t *testing.T) {
	clock := newFakeClock()
	c := NewForecastCache(WithClock(clock.Now), WithTTL(time.Minute), WithStaleRetention(time.Minute))
	ctx := context.Background()
	var calls int32

	_, err := c.GetOrCompute(ctx, "old", counting(&calls, record("old", 0)))
	require.NoError(t, err)
	clock.Advance(90 * time.Second)
	_, err = c.GetOrCompute(ctx, "new", counting(&calls, record("new", 0)))
	require.NoError(t, err)

	assert.Equal(t, 0, c.Sweep(clock.Now()))
	clock.Advance(31 * time.Second)
	assert.Equal(t, 1, c.Sweep(clock.Now()))
	assert.Equal(t, 1, c.Len())
}

func TestKey(t *testing.T) {
	q := models.ForecastQuery{Location: "soho", Date: "2025-03-14", Hour: 9, Baseline: 42}
	assert.Equal(t, "forecast:soho:2025-03-14:9:42", Key(q))
}
