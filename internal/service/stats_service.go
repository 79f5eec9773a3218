package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/xray-triage-api/internal/models"
	appErrors "github.com/noah-isme/xray-triage-api/pkg/errors"
)

// StatsCacheKey holds the last full-scan aggregate snapshot.
const StatsCacheKey = "stats:aggregate"

// StatsServiceConfig tunes aggregate computation.
type StatsServiceConfig struct {
	RecentWindow time.Duration
	CacheTTL     time.Duration
}

// StatsService computes aggregate statistics over the full case collection.
type StatsService struct {
	store     caseScanner
	extractor *SeverityExtractor
	cache     *CacheService
	logger    *zap.Logger
	now       func() time.Time
	cfg       StatsServiceConfig
}

// StatsServiceParams groups constructor dependencies.
type StatsServiceParams struct {
	Store     caseScanner
	Extractor *SeverityExtractor
	Cache     *CacheService
	Metrics   *MetricsService
	Logger    *zap.Logger
	Config    StatsServiceConfig
}

// NewStatsService constructs a StatsService with sane defaults.
func NewStatsService(params StatsServiceParams) *StatsService {
	cfg := params.Config
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 24 * time.Hour
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	extractor := params.Extractor
	if extractor == nil {
		extractor = NewSeverityExtractor(logger, params.Metrics)
	}
	return &StatsService{
		store:     params.Store,
		extractor: extractor,
		cache:     params.Cache,
		logger:    logger,
		now:       time.Now,
		cfg:       cfg,
	}
}

// Current returns the aggregate snapshot and whether it came from cache. With caching
// disabled every call is a full scan.
func (s *StatsService) Current(ctx context.Context) (models.AggregateSnapshot, bool, error) {
	var cached models.AggregateSnapshot
	if hit, err := s.cache.Get(ctx, StatsCacheKey, &cached); err == nil && hit {
		return normalizeSnapshot(cached), true, nil
	}

	snapshot, err := s.Compute(ctx)
	if err != nil {
		return snapshot, false, err
	}
	_ = s.cache.Set(ctx, StatsCacheKey, snapshot, s.cfg.CacheTTL)
	return snapshot, false, nil
}

// Compute performs a full scan and aggregates it, bypassing the cache.
func (s *StatsService) Compute(ctx context.Context) (models.AggregateSnapshot, error) {
	records, err := s.store.Scan(ctx, models.CaseScanFilter{})
	if err != nil {
		s.logger.Error("stats scan failed", zap.Error(err))
		return models.NewAggregateSnapshot(), appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to scan cases")
	}
	return Aggregate(records, s.now().UTC(), s.cfg.RecentWindow, s.extractor), nil
}

// Snapshot satisfies the stream hub's snapshot source.
func (s *StatsService) Snapshot(ctx context.Context) (models.AggregateSnapshot, error) {
	snapshot, _, err := s.Current(ctx)
	return snapshot, err
}

// Invalidate drops the cached snapshot after the case collection changed.
func (s *StatsService) Invalidate(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, StatsCacheKey)
}

// Aggregate counts every record by primary severity and disease. Records without a
// usable classification count as severity 0 and are left out of byDisease. A record
// is recent when created within window before now.
func Aggregate(records []models.CaseRecord, now time.Time, window time.Duration, extractor *SeverityExtractor) models.AggregateSnapshot {
	snapshot := models.NewAggregateSnapshot()
	cutoff := now.Add(-window)

	for _, record := range records {
		snapshot.TotalCases++
		if created := record.CreatedInstant(); !created.IsZero() && created.After(cutoff) {
			snapshot.RecentCount++
		}

		sev := extractor.Extract(record)
		snapshot.BySeverity[sev.Level]++
		if !sev.Fallback {
			snapshot.ByDisease[sev.Disease]++
		}
	}
	return snapshot
}

func normalizeSnapshot(s models.AggregateSnapshot) models.AggregateSnapshot {
	out := models.NewAggregateSnapshot()
	out.TotalCases = s.TotalCases
	out.RecentCount = s.RecentCount
	for k, v := range s.BySeverity {
		out.BySeverity[k] = v
	}
	for k, v := range s.ByDisease {
		out.ByDisease[k] = v
	}
	return out
}
