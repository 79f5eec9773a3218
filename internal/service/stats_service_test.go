package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/xray-triage-api/internal/models"
	appErrors "github.com/noah-isme/xray-triage-api/pkg/errors"
)

type memoryCacheRepo struct {
	mu      sync.Mutex
	entries map[string][]byte
	deleted []string
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{entries: map[string][]byte{}}
}

func (m *memoryCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = raw
	return nil
}

func (m *memoryCacheRepo) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.entries, key)
		m.deleted = append(m.deleted, key)
	}
	return nil
}

func newTestStatsService(store caseScanner, cache *CacheService) *StatsService {
	svc := NewStatsService(StatsServiceParams{
		Store:  store,
		Cache:  cache,
		Logger: zap.NewNop(),
		Config: StatsServiceConfig{RecentWindow: 24 * time.Hour},
	})
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func TestAggregateCountsEveryCase(t *testing.T) {
	records := []models.CaseRecord{
		triageRecord(4, "Mass", time.Hour),
		triageRecord(4, "Mass", 30*time.Hour),
		triageRecord(2, "Nodule", 2*time.Hour),
		triageRecord(0, models.NoFindingDisease, 48*time.Hour),
		{ID: models.NewCaseID(fixedNow.Add(-time.Hour)), CreatedAt: fixedNow.Add(-time.Hour)},
		{ID: models.NewCaseID(fixedNow.Add(-time.Hour)), CreatedAt: fixedNow.Add(-time.Hour), Classification: models.ParseClassification([]byte(`garbage`))},
	}

	snapshot := Aggregate(records, fixedNow, 24*time.Hour, nil)

	assert.Equal(t, 6, snapshot.TotalCases)
	assert.Equal(t, map[int]int{0: 3, 1: 0, 2: 1, 3: 0, 4: 2}, snapshot.BySeverity)
	assert.Equal(t, map[string]int{"Mass": 2, "Nodule": 1, models.NoFindingDisease: 1}, snapshot.ByDisease)
	assert.Equal(t, 4, snapshot.RecentCount)

	sum := 0
	for _, count := range snapshot.BySeverity {
		sum += count
	}
	assert.Equal(t, snapshot.TotalCases, sum)
}

func TestAggregateEmptyHasAllBuckets(t *testing.T) {
	snapshot := Aggregate(nil, fixedNow, time.Hour, nil)

	assert.Zero(t, snapshot.TotalCases)
	assert.Len(t, snapshot.BySeverity, 5)
	assert.Empty(t, snapshot.ByDisease)

	encoded, err := json.Marshal(snapshot)
	require.NoError(t, err)
	assert.JSONEq(t, `{"totalCases":0,"bySeverity":{"0":0,"1":0,"2":0,"3":0,"4":0},"byDisease":{},"recentCount":0}`, string(encoded))
}

func TestAggregateRecentWindowIsExclusive(t *testing.T) {
	edge := models.CaseRecord{ID: models.NewCaseID(fixedNow.Add(-time.Hour)), CreatedAt: fixedNow.Add(-time.Hour)}
	inside := models.CaseRecord{ID: models.NewCaseID(fixedNow.Add(-59 * time.Minute)), CreatedAt: fixedNow.Add(-59 * time.Minute)}

	snapshot := Aggregate([]models.CaseRecord{edge, inside}, fixedNow, time.Hour, nil)
	assert.Equal(t, 1, snapshot.RecentCount)
}

func TestStatsServiceCurrentUsesCache(t *testing.T) {
	store := &fakeCaseStore{records: []models.CaseRecord{triageRecord(3, "Effusion", time.Hour)}}
	repo := newMemoryCacheRepo()
	svc := newTestStatsService(store, NewCacheService(repo, nil, time.Minute, zap.NewNop(), true))

	first, hit, err := svc.Current(context.Background())
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, first.TotalCases)

	store.records = append(store.records, triageRecord(1, "Nodule", 0))
	second, hit, err := svc.Current(context.Background())
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, second.TotalCases)
	assert.Equal(t, 1, second.BySeverity[3])
	assert.Len(t, store.scans, 1)

	svc.Invalidate(context.Background())
	assert.Equal(t, []string{StatsCacheKey}, repo.deleted)

	third, hit, err := svc.Current(context.Background())
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, third.TotalCases)
}

func TestStatsServiceWithoutCacheScansEveryCall(t *testing.T) {
	store := &fakeCaseStore{}
	svc := newTestStatsService(store, nil)

	_, _, err := svc.Current(context.Background())
	require.NoError(t, err)
	_, err = svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, store.scans, 2)
}

func TestStatsServiceStoreFailure(t *testing.T) {
	svc := newTestStatsService(&fakeCaseStore{err: errors.New("db down")}, nil)

	snapshot, _, err := svc.Current(context.Background())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStoreUnavailable.Code, appErrors.FromError(err).Code)
	assert.Len(t, snapshot.BySeverity, 5)
}
