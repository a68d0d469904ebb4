package cache

import (
	"context"
	"time"
)

// LayeredCache reads through an in-process layer to Redis and writes
// through both. Locks bypass the near layer so they hold across processes.
type LayeredCache struct {
	near     *MemoryCache
	far      *RedisCache
	nearSize int
	nearTTL  time.Duration
}

// NewLayeredCache puts a memory layer in front of far.
func NewLayeredCache(far *RedisCache, opts ...LayeredOption) *LayeredCache {
	lc := &LayeredCache{far: far, nearSize: 256, nearTTL: 10 * time.Minute}
	for _, opt := range opts {
		opt(lc)
	}
	lc.near = NewMemoryCache(WithMemoryMaxSize(lc.nearSize))
	return lc
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if err := lc.far.Set(ctx, key, data, expiration); err != nil {
		return err
	}
	return lc.near.Set(ctx, key, data, lc.nearExpiry(expiration))
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	var data []byte
	if lc.near.Get(ctx, key, &data) != nil {
		if err := lc.far.Get(ctx, key, &data); err != nil {
			return err
		}
		_ = lc.near.Set(ctx, key, data, lc.nearTTL)
	}
	return decode(data, dest)
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.near.Delete(ctx, keys...)
	return lc.far.Delete(ctx, keys...)
}

func (lc *LayeredCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	if ok, _ := lc.near.Exists(ctx, keys...); ok {
		return true, nil
	}
	return lc.far.Exists(ctx, keys...)
}

func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return lc.far.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key string) error {
	return lc.far.Unlock(ctx, key)
}

// Close stops the near layer and closes the Redis connection.
func (lc *LayeredCache) Close() error {
	_ = lc.near.Close()
	return lc.far.Close()
}

func (lc *LayeredCache) nearExpiry(d time.Duration) time.Duration {
	if d <= 0 || d > lc.nearTTL {
		return lc.nearTTL
	}
	return d
}
