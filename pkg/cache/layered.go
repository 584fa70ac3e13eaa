package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// LayeredCache implements two-level cache (L1: Memory, L2: Redis).
// Locks and existence checks go to Redis so they hold across instances.
type LayeredCache struct {
	memCache  *MemoryCache
	remote    Service
	memoryTTL time.Duration
}

// NewLayeredCache creates a layered cache in front of remote.
func NewLayeredCache(remote Service, opts ...LayeredOption) *LayeredCache {
	cfg := &LayeredConfig{
		MemoryMaxSize: 1000,
		MemoryTTL:     30 * time.Second,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return &LayeredCache{
		memCache:  NewMemoryCache(WithMemoryMaxSize(cfg.MemoryMaxSize), WithMemoryDefaultTTL(cfg.MemoryTTL)),
		remote:    remote,
		memoryTTL: cfg.MemoryTTL,
	}
}

// Client returns the remote tier's redis client, or nil when the remote is
// not Redis.
func (lc *LayeredCache) Client() *redis.Client {
	if rc, ok := lc.remote.(*RedisCache); ok {
		return rc.Client()
	}
	return nil
}

func (lc *LayeredCache) l1TTL(expiration time.Duration) time.Duration {
	if expiration <= 0 || expiration > lc.memoryTTL {
		return lc.memoryTTL
	}
	return expiration
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	// Write-through: remote first, then memory
	data, err := encode(value)
	if err != nil {
		return err
	}
	if err := lc.remote.Set(ctx, key, data, expiration); err != nil {
		return err
	}
	_ = lc.memCache.Set(ctx, key, data, lc.l1TTL(expiration))
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	var data []byte
	if err := lc.memCache.Get(ctx, key, &data); err == nil {
		return decode(data, dest)
	}

	if err := lc.remote.Get(ctx, key, &data); err != nil {
		return err
	}
	_ = lc.memCache.Set(ctx, key, data, lc.memoryTTL)
	return decode(data, dest)
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.memCache.Delete(ctx, keys...)
	return lc.remote.Delete(ctx, keys...)
}

func (lc *LayeredCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	return lc.remote.Exists(ctx, keys...)
}

func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return lc.remote.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key string) error {
	return lc.remote.Unlock(ctx, key)
}

func (lc *LayeredCache) Ping(ctx context.Context) error {
	return lc.remote.Ping(ctx)
}

// Close stops the memory layer and closes the remote layer.
func (lc *LayeredCache) Close() error {
	err := lc.memCache.Close()
	if c, ok := lc.remote.(interface{ Close() error }); ok {
		if rerr := c.Close(); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}

var _ Service = (*LayeredCache)(nil)
