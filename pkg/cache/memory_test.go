package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

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

type payload struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func TestMemoryCacheRoundTripsValues(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "struct", payload{Name: "a", Value: 1.5}, time.Minute))
	require.NoError(t, mc.Set(ctx, "str", "plain", time.Minute))

	var p payload
	require.NoError(t, mc.Get(ctx, "struct", &p))
	assert.Equal(t, payload{Name: "a", Value: 1.5}, p)

	var s string
	require.NoError(t, mc.Get(ctx, "str", &s))
	assert.Equal(t, "plain", s)

	assert.ErrorIs(t, mc.Get(ctx, "missing", &s), ErrCacheMiss)
}

func TestMemoryCacheExpiresWithClock(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	mc := NewMemoryCache(WithMemoryCleanup(0), WithMemoryClock(clock.Now))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "k", "v", 10*time.Second))
	ok, err := mc.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(10 * time.Second)
	var s string
	assert.ErrorIs(t, mc.Get(ctx, "k", &s), ErrCacheMiss)
	assert.Equal(t, 0, mc.Len())
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	mc := NewMemoryCache(WithMemoryCleanup(0), WithMemoryMaxSize(2), WithMemoryClock(clock.Now))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "a", "1", time.Hour))
	clock.Advance(time.Second)
	require.NoError(t, mc.Set(ctx, "b", "2", time.Hour))
	clock.Advance(time.Second)

	var s string
	require.NoError(t, mc.Get(ctx, "a", &s))
	clock.Advance(time.Second)
	require.NoError(t, mc.Set(ctx, "c", "3", time.Hour))

	assert.ErrorIs(t, mc.Get(ctx, "b", &s), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "a", &s))
	assert.NoError(t, mc.Get(ctx, "c", &s))
}

func TestMemoryCacheTryLock(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()

	ok, err := mc.TryLock(ctx, LockKey("events:store-1"), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mc.TryLock(ctx, LockKey("events:store-1"), time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mc.Unlock(ctx, LockKey("events:store-1")))
	ok, err = mc.TryLock(ctx, LockKey("events:store-1"), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLayeredCachePromotesFromRemote(t *testing.T) {
	ctx := context.Background()
	remote := NewMemoryCache(WithMemoryCleanup(0))
	defer remote.Close()
	lc := NewLayeredCache(remote, WithLayeredMemoryTTL(time.Minute))
	defer lc.Close()

	require.NoError(t, remote.Set(ctx, "k", payload{Name: "remote"}, time.Hour))

	var p payload
	require.NoError(t, lc.Get(ctx, "k", &p))
	assert.Equal(t, "remote", p.Name)

	require.NoError(t, remote.Delete(ctx, "k"))
	p = payload{}
	require.NoError(t, lc.Get(ctx, "k", &p), "served from L1 after promotion")
	assert.Equal(t, "remote", p.Name)

	require.NoError(t, lc.Delete(ctx, "k"))
	assert.ErrorIs(t, lc.Get(ctx, "k", &p), ErrCacheMiss)
}

func TestGenerateKeyWithParams(t *testing.T) {
	assert.Equal(t, "forecast:nyc:2025-01-02:14:42", GenerateKeyWithParams("forecast", "nyc", "2025-01-02", 14, 42.0))
	assert.Equal(t, "forecast:nyc:2025-01-02:14:42.5", GenerateKeyWithParams("forecast", "nyc", "2025-01-02", 14, 42.5))
	assert.Equal(t, "lock:events:x", LockKey("events:x"))
}
