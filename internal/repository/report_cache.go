package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"KSHPull/internal/domain/models"
	"KSHPull/internal/domain/repository"
	"KSHPull/pkg/cache"
)

// CacheReportStore keeps finished reports in the cache for the async API.
type CacheReportStore struct {
	cache cache.Service
	ttl   time.Duration
}

func NewCacheReportStore(c cache.Service, ttl time.Duration) repository.ReportCache {
	return &CacheReportStore{cache: c, ttl: ttl}
}

func (s *CacheReportStore) SaveReport(ctx context.Context, report *models.ForecastReport) error {
	if report == nil || report.RunID == "" {
		return fmt.Errorf("report without run id")
	}
	return s.cache.Set(ctx, cache.ReportKey(report.RunID), report, s.ttl)
}

func (s *CacheReportStore) GetReport(ctx context.Context, runID string) (*models.ForecastReport, error) {
	var r models.ForecastReport
	if err := s.cache.Get(ctx, cache.ReportKey(runID), &r); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, fmt.Errorf("%w: %s", models.ErrReportNotFound, runID)
		}
		return nil, err
	}
	return &r, nil
}
