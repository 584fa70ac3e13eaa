package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"Clarity/internal/domain/models"
	pkgcache "Clarity/pkg/cache"
	applogger "Clarity/pkg/logger"
)

const (
	DefaultTTL            = 60 * time.Second
	DefaultStaleRetention = 10 * time.Minute
	DefaultComputeTimeout = 10 * time.Second
)

// Cache outcomes reported to the Observer.
const (
	OutcomeHit    = "hit"
	OutcomeMiss   = "miss"
	OutcomeShared = "shared"
	OutcomeStale  = "stale"
	OutcomeError  = "error"
)

// ComputeFunc produces a fresh forecast record for a key.
type ComputeFunc func(ctx context.Context) (models.ForecastRecord, error)

// ComputationError is returned to every waiter when a computation fails and no
// prior entry exists for the key.
type ComputationError struct {
	Key string
	Err error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("forecast computation for %q failed: %v", e.Key, e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }

// Lookup is the result of GetOrCompute.
type Lookup struct {
	Record     models.ForecastRecord
	ComputedAt time.Time
	// Cached is true when no computation ran for this lookup.
	Cached bool
	// Shared is true when the computation's result went to more than one caller.
	Shared   bool
	Degraded bool
	// Err holds the failure text when Degraded.
	Err string
}

// Observer receives one outcome per cache decision.
type Observer interface {
	ObserveCache(outcome string)
}

type entry struct {
	Record     models.ForecastRecord `json:"record"`
	ComputedAt time.Time             `json:"computed_at"`
}

type outcome struct {
	entry    entry
	cached   bool
	degraded bool
	err      string
}

// ForecastCache runs at most one computation per key at a time and keeps
// results for a TTL. Failed refreshes fall back to the previous entry.
type ForecastCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group

	ttl            time.Duration
	staleRetention time.Duration
	computeTimeout time.Duration
	now            func() time.Time

	store    pkgcache.Service
	log      *applogger.Logger
	observer Observer
}

type Option func(*ForecastCache)

func WithTTL(ttl time.Duration) Option {
	return func(c *ForecastCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithStaleRetention sets how long past expiry an entry is kept as a fallback.
func WithStaleRetention(d time.Duration) Option {
	return func(c *ForecastCache) {
		if d >= 0 {
			c.staleRetention = d
		}
	}
}

// WithComputeTimeout bounds a computation independently of its callers.
func WithComputeTimeout(d time.Duration) Option {
	return func(c *ForecastCache) {
		if d > 0 {
			c.computeTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *ForecastCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithStore adds a shared backing store consulted on local misses.
func WithStore(store pkgcache.Service) Option {
	return func(c *ForecastCache) { c.store = store }
}

func WithLogger(log *applogger.Logger) Option {
	return func(c *ForecastCache) {
		if log != nil {
			c.log = log
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *ForecastCache) { c.observer = o }
}

func NewForecastCache(opts ...Option) *ForecastCache {
	c := &ForecastCache{
		entries:        make(map[string]entry),
		ttl:            DefaultTTL,
		staleRetention: DefaultStaleRetention,
		computeTimeout: DefaultComputeTimeout,
		now:            time.Now,
		log:            applogger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key builds the cache key of a forecast query.
func Key(q models.ForecastQuery) string {
	return pkgcache.GenerateKeyWithParams("forecast", q.Location, q.Date, q.Hour, q.Baseline)
}

// GetOrCompute returns the fresh entry for key, or runs fn to produce one.
// Concurrent callers for the same key share a single run of fn. Cancelling ctx
// abandons the wait but not the computation.
func (c *ForecastCache) GetOrCompute(ctx context.Context, key string, fn ComputeFunc) (Lookup, error) {
	if e, ok := c.fresh(key); ok {
		c.observe(OutcomeHit)
		return Lookup{Record: e.Record, ComputedAt: e.ComputedAt, Cached: true}, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.compute(ctx, key, fn)
	})

	select {
	case <-ctx.Done():
		return Lookup{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Lookup{}, res.Err
		}
		o := res.Val.(outcome)
		if res.Shared {
			c.observe(OutcomeShared)
		}
		return Lookup{
			Record:     o.entry.Record,
			ComputedAt: o.entry.ComputedAt,
			Cached:     o.cached,
			Shared:     res.Shared,
			Degraded:   o.degraded,
			Err:        o.err,
		}, nil
	}
}

func (c *ForecastCache) compute(ctx context.Context, key string, fn ComputeFunc) (outcome, error) {
	// another flight may have settled between the caller's check and this one
	if e, ok := c.fresh(key); ok {
		c.observe(OutcomeHit)
		return outcome{entry: e, cached: true}, nil
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.computeTimeout)
	defer cancel()

	if e, ok := c.load(cctx, key); ok && c.isFresh(e) {
		c.setLocal(key, e)
		c.observe(OutcomeHit)
		return outcome{entry: e, cached: true}, nil
	}

	c.observe(OutcomeMiss)
	rec, err := c.run(cctx, fn)
	if err != nil {
		if prior, ok := c.prior(cctx, key); ok {
			c.observe(OutcomeStale)
			c.log.Warn("serving stale forecast",
				applogger.String("key", key),
				applogger.Duration("age_ms", c.now().Sub(prior.ComputedAt)),
				applogger.Error(err))
			return outcome{entry: prior, cached: true, degraded: true, err: err.Error()}, nil
		}
		c.observe(OutcomeError)
		return outcome{}, &ComputationError{Key: key, Err: err}
	}

	e := entry{Record: rec, ComputedAt: c.now()}
	if e.Record.ComputedAt.IsZero() {
		e.Record.ComputedAt = e.ComputedAt
	}
	c.setLocal(key, e)
	c.save(cctx, key, e)
	return outcome{entry: e}, nil
}

func (c *ForecastCache) run(ctx context.Context, fn ComputeFunc) (rec models.ForecastRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in forecast computation: %v", r)
		}
	}()
	return fn(ctx)
}

func (c *ForecastCache) isFresh(e entry) bool {
	return c.now().Sub(e.ComputedAt) < c.ttl
}

func (c *ForecastCache) fresh(key string) (entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !c.isFresh(e) {
		return entry{}, false
	}
	return e, true
}

// prior returns the latest entry for key regardless of age.
func (c *ForecastCache) prior(ctx context.Context, key string) (entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return e, true
	}
	return c.load(ctx, key)
}

func (c *ForecastCache) setLocal(key string, e entry) {
	c.mu.Lock()
	if cur, ok := c.entries[key]; !ok || !e.ComputedAt.Before(cur.ComputedAt) {
		c.entries[key] = e
	}
	c.mu.Unlock()
}

func (c *ForecastCache) load(ctx context.Context, key string) (entry, bool) {
	if c.store == nil {
		return entry{}, false
	}
	var e entry
	if err := c.store.Get(context.WithoutCancel(ctx), key, &e); err != nil {
		if !errors.Is(err, pkgcache.ErrCacheMiss) {
			c.log.Warn("forecast store read failed", applogger.String("key", key), applogger.Error(err))
		}
		return entry{}, false
	}
	return e, true
}

func (c *ForecastCache) save(ctx context.Context, key string, e entry) {
	if c.store == nil {
		return
	}
	if err := c.store.Set(ctx, key, e, c.ttl+c.staleRetention); err != nil {
		c.log.Warn("forecast store write failed", applogger.String("key", key), applogger.Error(err))
	}
}

func (c *ForecastCache) observe(outcome string) {
	if c.observer != nil {
		c.observer.ObserveCache(outcome)
	}
}

// Sweep drops local entries older than ttl plus the stale retention and
// returns how many were removed.
func (c *ForecastCache) Sweep(now time.Time) int {
	limit := c.ttl + c.staleRetention
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if now.Sub(e.ComputedAt) > limit {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of local entries.
func (c *ForecastCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// TTL returns the freshness window.
func (c *ForecastCache) TTL() time.Duration { return c.ttl }
