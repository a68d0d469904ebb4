package repository

import (
	"context"
	"time"

	"KSHPull/internal/domain/models"
	"KSHPull/internal/domain/repository"
	"KSHPull/pkg/cache"
	applogger "KSHPull/pkg/logger"
)

// CachedTableLoader keeps fetched tables in a cache so repeated runs do not
// hit the statistics office for tables that change at most a few times a year.
type CachedTableLoader struct {
	next  repository.TableLoader
	cache cache.Service
	ttl   time.Duration
	l     *applogger.Logger
}

func NewCachedTableLoader(next repository.TableLoader, c cache.Service, ttl time.Duration, l *applogger.Logger) *CachedTableLoader {
	if l == nil {
		l = applogger.NewNop()
	}
	return &CachedTableLoader{next: next, cache: c, ttl: ttl, l: l}
}

func (c *CachedTableLoader) Load(ctx context.Context, src models.TableSource) (*models.RawTable, error) {
	key := cache.TableKey(src.Location(), src.TableIndex, src.Sheet)
	t, hit, err := cache.GetOrLoad(ctx, c.cache, key, c.ttl, func(ctx context.Context) (*models.RawTable, error) {
		return c.next.Load(ctx, src)
	})
	if err != nil {
		return nil, err
	}
	if hit {
		c.l.Debug("table cache hit", applogger.String("dataset", src.Dataset))
		// header row count is configuration, not content
		if src.HeaderRows > 0 {
			t.HeaderRows = src.HeaderRows
		}
	}
	return t, nil
}

// Invalidate drops the cached copy of src.
func (c *CachedTableLoader) Invalidate(ctx context.Context, src models.TableSource) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Delete(ctx, cache.TableKey(src.Location(), src.TableIndex, src.Sheet))
}
