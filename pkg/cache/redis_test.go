package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := NewRedisCache(RedisConfig{Addr: mr.Addr(), Prefix: "t:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return mr, rc
}

func TestRedisCachePrefixesKeys(t *testing.T) {
	ctx := context.Background()
	mr, rc := newRedis(t)

	require.NoError(t, rc.Set(ctx, ReportKey("r1"), map[string]int{"n": 3}, time.Minute))
	assert.True(t, mr.Exists("t:report:r1"))

	var got map[string]int
	require.NoError(t, rc.Get(ctx, ReportKey("r1"), &got))
	assert.Equal(t, 3, got["n"])

	assert.ErrorIs(t, rc.Get(ctx, "nope", &got), ErrCacheMiss)

	require.NoError(t, rc.Delete(ctx, ReportKey("r1")))
	ok, err := rc.Exists(ctx, ReportKey("r1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCacheLockOwnership(t *testing.T) {
	ctx := context.Background()
	mr, a := newRedis(t)
	b := NewRedisCacheFromClient(a.Client(), "t:")

	ok, err := a.TryLock(ctx, LockKey("job"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.TryLock(ctx, LockKey("job"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Unlock(ctx, LockKey("job")))
	assert.True(t, mr.Exists("t:lock:job"), "foreign unlock must not release")

	require.NoError(t, a.Unlock(ctx, LockKey("job")))
	assert.False(t, mr.Exists("t:lock:job"))
}

func TestNewRedisCacheRejectsBadConfig(t *testing.T) {
	_, err := NewRedisCache(RedisConfig{Addr: "no-port"})
	assert.Error(t, err)
	_, err = NewRedisCache(RedisConfig{Addr: "localhost:6379", DB: 99})
	assert.Error(t, err)
}

func TestLayeredCacheReadsThrough(t *testing.T) {
	ctx := context.Background()
	mr, rc := newRedis(t)
	lc := NewLayeredCache(rc, WithLayeredMemorySize(8), WithLayeredMemoryTTL(time.Minute))
	defer func() { _ = lc.near.Close() }()

	require.NoError(t, lc.Set(ctx, "k", []int{1, 2}, time.Hour))
	assert.True(t, mr.Exists("t:k"))

	// served from memory after Redis loses it
	mr.Del("t:k")
	var got []int
	require.NoError(t, lc.Get(ctx, "k", &got))
	assert.Equal(t, []int{1, 2}, got)

	// a value only Redis has is pulled into memory
	require.NoError(t, mr.Set("t:other", `"x"`))
	var s string
	require.NoError(t, lc.Get(ctx, "other", &s))
	assert.Equal(t, `"x"`, s)
	assert.Equal(t, 2, lc.near.Len())

	ok, err := lc.TryLock(ctx, LockKey("j"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("t:lock:j"))
}
