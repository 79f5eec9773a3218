package service

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/xray-triage-api/internal/models"
	appErrors "github.com/noah-isme/xray-triage-api/pkg/errors"
)

var fixedNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type fakeCaseStore struct {
	mu        sync.Mutex
	records   []models.CaseRecord
	err       error
	scans     []models.CaseScanFilter
	inserted  []models.CaseRecord
	reviewAt  []time.Time
	reviewIDs []string

	// patientNames maps patient ids to registered names for name-filtered listings.
	patientNames map[string]string
}

func (f *fakeCaseStore) Scan(_ context.Context, filter models.CaseScanFilter) ([]models.CaseRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans = append(f.scans, filter)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.CaseRecord, 0, len(f.records))
	for _, r := range f.records {
		created := r.CreatedInstant()
		if filter.CreatedFrom != nil && created.Before(*filter.CreatedFrom) {
			continue
		}
		if filter.CreatedTo != nil && !created.Before(*filter.CreatedTo) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeCaseStore) List(_ context.Context, filter models.CaseListFilter) ([]models.CaseRecord, int, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	newest := make([]models.CaseRecord, 0, len(f.records))
	for i := len(f.records) - 1; i >= 0; i-- {
		r := f.records[i]
		if filter.ImageIndex != "" && r.ImageIndex != filter.ImageIndex {
			continue
		}
		if filter.PatientName != "" {
			name, ok := f.patientNames[r.PatientID]
			if !ok || !strings.Contains(strings.ToLower(name), strings.ToLower(filter.PatientName)) {
				continue
			}
		}
		newest = append(newest, r)
	}
	total := len(newest)
	if filter.Offset >= total {
		return []models.CaseRecord{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return newest[filter.Offset:end], total, nil
}

func (f *fakeCaseStore) FindByID(_ context.Context, id string) (*models.CaseRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.records {
		if f.records[i].ID == id {
			record := f.records[i]
			return &record, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeCaseStore) ListByPatient(_ context.Context, patientID string) ([]models.CaseRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.CaseRecord
	for i := len(f.records) - 1; i >= 0; i-- {
		if f.records[i].PatientID == patientID {
			out = append(out, f.records[i])
		}
	}
	return out, nil
}

func (f *fakeCaseStore) Insert(_ context.Context, record *models.CaseRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, *record)
	f.records = append(f.records, *record)
	return nil
}

func (f *fakeCaseStore) SetReviewed(_ context.Context, id string, reviewed bool, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.reviewIDs = append(f.reviewIDs, id)
	f.reviewAt = append(f.reviewAt, at)
	for i := range f.records {
		if f.records[i].ID != id {
			continue
		}
		switch {
		case !reviewed:
			f.records[i].ReviewedAt = nil
		case !f.records[i].Reviewed:
			stamp := at
			f.records[i].ReviewedAt = &stamp
		}
		f.records[i].Reviewed = reviewed
		return true, nil
	}
	return false, nil
}

func triageRecord(level int, disease string, waited time.Duration) models.CaseRecord {
	created := fixedNow.Add(-waited)
	return models.CaseRecord{
		ID:         models.NewCaseID(created),
		ImageIndex: disease + ".png",
		Classification: models.NewClassification(models.ClassificationEntry{
			Disease: disease, Probability: 0.9, SeverityLevel: level,
		}),
		CreatedAt: created,
	}
}

func intPointer(v int) *int { return &v }

func timePointer(v time.Time) *time.Time { return &v }

func newTestWorklistService(store caseScanner) *WorklistService {
	svc := NewWorklistService(WorklistServiceParams{Store: store, Logger: zap.NewNop()})
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func TestRankOrdersByScoreDescending(t *testing.T) {
	records := []models.CaseRecord{
		triageRecord(1, "Infiltration", 50*time.Hour),
		triageRecord(4, "Mass", 2*time.Hour),
		triageRecord(3, "Effusion", 0),
	}

	result := Rank(records, models.WorklistFilter{}, fixedNow, nil)

	require.Len(t, result.Cases, 3)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, []float64{41.0, 35.0, 30.0}, []float64{
		result.Cases[0].PriorityScore, result.Cases[1].PriorityScore, result.Cases[2].PriorityScore,
	})
	assert.Equal(t, "Mass", result.Cases[0].Disease)
	assert.Equal(t, "Rất nặng", result.Cases[0].SeverityName)
	assert.Equal(t, 2.0, result.Cases[0].WaitHours)
}

func TestRankAscendingReversesScoreOrder(t *testing.T) {
	records := []models.CaseRecord{
		triageRecord(1, "Infiltration", 50*time.Hour),
		triageRecord(4, "Mass", 2*time.Hour),
		triageRecord(3, "Effusion", 0),
	}

	result := Rank(records, models.WorklistFilter{Sort: models.SortAsc}, fixedNow, nil)

	require.Len(t, result.Cases, 3)
	assert.Equal(t, "Effusion", result.Cases[0].Disease)
	assert.Equal(t, "Mass", result.Cases[2].Disease)
	assert.Equal(t, 0, result.Summary[0].SeverityLevel)
	assert.Equal(t, 4, result.Summary[4].SeverityLevel)
}

func TestRankPlacesReviewedAfterPending(t *testing.T) {
	critical := triageRecord(4, "Mass", 10*time.Hour)
	critical.Reviewed = true
	mild := triageRecord(1, "Nodule", 0)

	result := Rank([]models.CaseRecord{critical, mild}, models.WorklistFilter{}, fixedNow, nil)

	require.Len(t, result.Cases, 2)
	assert.Equal(t, mild.ID, result.Cases[0].ID)
	assert.Equal(t, critical.ID, result.Cases[1].ID)
	assert.Greater(t, result.Cases[1].PriorityScore, result.Cases[0].PriorityScore)
}

func TestRankPartitionsPendingBeforeReviewedInEitherDirection(t *testing.T) {
	reviewed := func(r models.CaseRecord) models.CaseRecord {
		r.Reviewed = true
		return r
	}
	records := []models.CaseRecord{
		reviewed(triageRecord(4, "Mass", 30*time.Hour)),
		triageRecord(0, "No Finding", 2*time.Hour),
		reviewed(triageRecord(1, "Nodule", time.Hour)),
		triageRecord(3, "Effusion", 5*time.Hour),
		reviewed(triageRecord(2, "Atelectasis", 12*time.Hour)),
		triageRecord(2, "Edema", 40*time.Hour),
	}

	for _, direction := range []models.SortDirection{models.SortDesc, models.SortAsc} {
		t.Run(string(direction), func(t *testing.T) {
			result := Rank(records, models.WorklistFilter{Sort: direction}, fixedNow, nil)
			require.Len(t, result.Cases, 6)

			for i, tc := range result.Cases {
				assert.Equal(t, i >= 3, tc.Reviewed, "position %d (%s)", i, tc.Disease)
			}
			for _, part := range [][]models.TriageCase{result.Cases[:3], result.Cases[3:]} {
				for i := 1; i < len(part); i++ {
					if direction == models.SortAsc {
						assert.LessOrEqual(t, part[i-1].PriorityScore, part[i].PriorityScore)
					} else {
						assert.GreaterOrEqual(t, part[i-1].PriorityScore, part[i].PriorityScore)
					}
				}
			}
		})
	}

	asc := Rank(records, models.WorklistFilter{Sort: models.SortAsc}, fixedNow, nil)
	assert.Equal(t, []string{"No Finding", "Effusion", "Edema", "Nodule", "Atelectasis", "Mass"}, []string{
		asc.Cases[0].Disease, asc.Cases[1].Disease, asc.Cases[2].Disease,
		asc.Cases[3].Disease, asc.Cases[4].Disease, asc.Cases[5].Disease,
	})
}

func TestReviewingTopCaseMovesItToTheEnd(t *testing.T) {
	store := &fakeCaseStore{records: []models.CaseRecord{
		triageRecord(1, "Nodule", 6*time.Hour),
		triageRecord(4, "Pneumothorax", time.Hour),
		triageRecord(3, "Consolidation", 3*time.Hour),
		triageRecord(0, "No Finding", 48*time.Hour),
	}}
	worklist := newTestWorklistService(store)
	review := newTestReviewService(store, &countingInvalidator{})
	ctx := context.Background()

	before, err := worklist.List(ctx, models.WorklistFilter{})
	require.NoError(t, err)
	require.Len(t, before.Cases, 4)
	top := before.Cases[0]
	assert.Equal(t, "Pneumothorax", top.Disease)
	assert.False(t, top.Reviewed)

	ok, err := review.SetReviewed(ctx, top.ID, true)
	require.NoError(t, err)
	require.True(t, ok)

	after, err := worklist.List(ctx, models.WorklistFilter{})
	require.NoError(t, err)
	require.Len(t, after.Cases, 4)
	assert.Equal(t, before.Total, after.Total)
	last := after.Cases[len(after.Cases)-1]
	assert.Equal(t, top.ID, last.ID)
	assert.True(t, last.Reviewed)
	require.NotNil(t, last.ReviewedAt)
	assert.Equal(t, "Consolidation", after.Cases[0].Disease)
}

func TestRankKeepsPrimaryEntryWhenSecondaryIsMalformed(t *testing.T) {
	created := fixedNow.Add(-time.Hour)
	record := models.CaseRecord{
		ID:             models.NewCaseID(created),
		CreatedAt:      created,
		Classification: models.ParseClassification([]byte(`[{"disease":"Mass","probability":0.91,"severity_level":4},{"disease":"Nodule","probability":"n/a","severity_level":1}]`)),
	}
	mild := triageRecord(1, "Nodule", 2*time.Hour)

	result := Rank([]models.CaseRecord{mild, record}, models.WorklistFilter{}, fixedNow, nil)

	require.Len(t, result.Cases, 2)
	assert.Equal(t, record.ID, result.Cases[0].ID)
	assert.Equal(t, 4, result.Cases[0].SeverityLevel)
	assert.Equal(t, 40.5, result.Cases[0].PriorityScore)
	assert.Len(t, result.Cases[0].Classification, 2)
}

func TestRankIsDeterministicForEqualScores(t *testing.T) {
	records := []models.CaseRecord{
		triageRecord(2, "A", time.Hour),
		triageRecord(2, "B", time.Hour),
		triageRecord(2, "C", time.Hour),
	}

	first := Rank(records, models.WorklistFilter{}, fixedNow, nil)
	second := Rank(records, models.WorklistFilter{}, fixedNow, nil)

	require.Equal(t, first.Cases, second.Cases)
	assert.Equal(t, "A", first.Cases[0].Disease)
	assert.Equal(t, "C", first.Cases[2].Disease)
}

func TestRankSeverityDominanceBoundary(t *testing.T) {
	severe := triageRecord(2, "Severe", 0)
	cases := []struct {
		name   string
		waited time.Duration
		first  string
		equal  bool
	}{
		{name: "below twenty hours per level", waited: 39 * time.Hour, first: "Severe"},
		{name: "exactly forty hours", waited: 40 * time.Hour, equal: true},
		{name: "beyond forty hours", waited: 41 * time.Hour, first: "Waiting"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			waiting := triageRecord(0, "Waiting", tc.waited)
			result := Rank([]models.CaseRecord{severe, waiting}, models.WorklistFilter{}, fixedNow, nil)
			require.Len(t, result.Cases, 2)
			if tc.equal {
				assert.Equal(t, result.Cases[0].PriorityScore, result.Cases[1].PriorityScore)
				return
			}
			assert.Equal(t, tc.first, result.Cases[0].Disease)
		})
	}
}

func TestRankSeverityFilterAndSummary(t *testing.T) {
	records := []models.CaseRecord{
		triageRecord(3, "Effusion", time.Hour),
		triageRecord(1, "Nodule", time.Hour),
		triageRecord(3, "Edema", 2*time.Hour),
		{ID: models.NewCaseID(fixedNow), CreatedAt: fixedNow},
	}

	result := Rank(records, models.WorklistFilter{Severity: intPointer(3)}, fixedNow, nil)

	assert.Equal(t, 2, result.Total)
	require.Len(t, result.Summary, 5)
	assert.Equal(t, 4, result.Summary[0].SeverityLevel)
	for _, row := range result.Summary {
		if row.SeverityLevel == 3 {
			assert.Equal(t, 2, row.Count)
			assert.Equal(t, "Nặng", row.SeverityName)
			continue
		}
		assert.Zero(t, row.Count)
	}
}

func TestRankPaginatesAfterCounting(t *testing.T) {
	records := make([]models.CaseRecord, 0, 5)
	for i := 0; i < 5; i++ {
		records = append(records, triageRecord(i, "Finding", 0))
	}

	result := Rank(records, models.WorklistFilter{Limit: 2, Offset: 1}, fixedNow, nil)
	assert.Equal(t, 5, result.Total)
	require.Len(t, result.Cases, 2)
	assert.Equal(t, 3, result.Cases[0].SeverityLevel)
	assert.Equal(t, 2, result.Cases[1].SeverityLevel)

	past := Rank(records, models.WorklistFilter{Limit: 2, Offset: 10}, fixedNow, nil)
	assert.Equal(t, 5, past.Total)
	assert.Empty(t, past.Cases)
}

func TestRankClampsNegativeWait(t *testing.T) {
	future := triageRecord(2, "Effusion", -3*time.Hour)

	result := Rank([]models.CaseRecord{future}, models.WorklistFilter{}, fixedNow, nil)
	require.Len(t, result.Cases, 1)
	assert.Zero(t, result.Cases[0].WaitHours)
	assert.Equal(t, 20.0, result.Cases[0].PriorityScore)
}

func TestWorklistServiceListPushesRangeToStore(t *testing.T) {
	store := &fakeCaseStore{records: []models.CaseRecord{
		triageRecord(2, "Old", 72*time.Hour),
		triageRecord(3, "Recent", 2*time.Hour),
	}}
	svc := newTestWorklistService(store)

	start := fixedNow.Add(-24 * time.Hour)
	end := fixedNow.Add(time.Hour)
	result, err := svc.List(context.Background(), models.WorklistFilter{StartDate: &start, EndDate: &end})
	require.NoError(t, err)

	require.Len(t, store.scans, 1)
	assert.Equal(t, &start, store.scans[0].CreatedFrom)
	assert.Equal(t, &end, store.scans[0].CreatedTo)
	require.Len(t, result.Cases, 1)
	assert.Equal(t, "Recent", result.Cases[0].Disease)
	assert.Equal(t, models.SortDesc, result.FilterInfo.SortOrder)
	assert.Equal(t, 100, result.FilterInfo.Limit)
}

func TestWorklistServiceListValidation(t *testing.T) {
	svc := newTestWorklistService(&fakeCaseStore{})
	start := fixedNow
	end := fixedNow.Add(-time.Hour)

	cases := []struct {
		name   string
		filter models.WorklistFilter
	}{
		{name: "bad sort", filter: models.WorklistFilter{Sort: "sideways"}},
		{name: "severity out of range", filter: models.WorklistFilter{Severity: intPointer(7)}},
		{name: "end before start", filter: models.WorklistFilter{StartDate: timePointer(start), EndDate: timePointer(end)}},
		{name: "negative offset", filter: models.WorklistFilter{Offset: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.List(context.Background(), tc.filter)
			require.Error(t, err)
			assert.Equal(t, http.StatusBadRequest, appErrors.FromError(err).Status)
		})
	}
}

func TestWorklistServiceListClampsLimit(t *testing.T) {
	svc := NewWorklistService(WorklistServiceParams{
		Store:  &fakeCaseStore{},
		Config: WorklistServiceConfig{DefaultLimit: 10, MaxLimit: 50},
	})

	result, err := svc.List(context.Background(), models.WorklistFilter{Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, 50, result.FilterInfo.Limit)
	assert.Empty(t, result.Cases)
	assert.Len(t, result.Summary, 5)
}

func TestWorklistServiceListStoreFailure(t *testing.T) {
	svc := newTestWorklistService(&fakeCaseStore{err: errors.New("db down")})

	result, err := svc.List(context.Background(), models.WorklistFilter{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStoreUnavailable.Code, appErrors.FromError(err).Code)
	require.NotNil(t, result)
	assert.Empty(t, result.Cases)
	assert.Zero(t, result.Total)
}
