package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KSHPull/internal/domain/models"
)

func TestMemoryCacheTypedRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(WithMemoryMaxSize(2))
	defer c.Close()

	table := models.RawTable{Source: "lak0012", HeaderRows: 1, Rows: [][]string{{"", "2020"}, {"Budapest", "1 234"}}}
	require.NoError(t, c.Set(ctx, TableKey("http://x", 0, ""), table, time.Minute))

	var got models.RawTable
	require.NoError(t, c.Get(ctx, TableKey("http://x", 0, ""), &got))
	assert.Equal(t, table, got)

	var s string
	assert.ErrorIs(t, c.Get(ctx, "missing", &s), ErrCacheMiss)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(WithMemoryMaxSize(2))
	defer c.Close()

	require.NoError(t, c.Set(ctx, "a", "1", time.Minute))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, c.Set(ctx, "b", "2", time.Minute))
	time.Sleep(2 * time.Millisecond)
	var v string
	require.NoError(t, c.Get(ctx, "a", &v))
	require.NoError(t, c.Set(ctx, "c", "3", time.Minute))

	assert.Equal(t, 2, c.Len())
	ok, _ := c.Exists(ctx, "b")
	assert.False(t, ok)
	ok, _ = c.Exists(ctx, "a")
	assert.True(t, ok)
}

func TestMemoryCacheExpiryAndLock(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	var v string
	assert.ErrorIs(t, c.Get(ctx, "k", &v), ErrCacheMiss)

	ok, err := c.TryLock(ctx, LockKey("job"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = c.TryLock(ctx, LockKey("job"), time.Minute)
	assert.False(t, ok)
	require.NoError(t, c.Unlock(ctx, LockKey("job")))
	ok, _ = c.TryLock(ctx, LockKey("job"), time.Minute)
	assert.True(t, ok)
}

func TestGetOrLoad(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	defer c.Close()

	calls := 0
	load := func(context.Context) ([]int, error) {
		calls++
		return []int{1, 2}, nil
	}
	v, hit, err := GetOrLoad(ctx, c, "nums", time.Minute, load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []int{1, 2}, v)

	v, hit, err = GetOrLoad(ctx, c, "nums", time.Minute, load)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []int{1, 2}, v)
	assert.Equal(t, 1, calls)

	_, _, err = GetOrLoad(ctx, Service(nil), "x", time.Minute, func(context.Context) (int, error) {
		return 0, errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
}
