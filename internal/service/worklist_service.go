package service

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/xray-triage-api/internal/models"
	appErrors "github.com/noah-isme/xray-triage-api/pkg/errors"
)

type caseScanner interface {
	Scan(ctx context.Context, filter models.CaseScanFilter) ([]models.CaseRecord, error)
}

// WorklistServiceConfig bounds worklist pagination.
type WorklistServiceConfig struct {
	DefaultLimit int
	MaxLimit     int
}

// WorklistService ranks stored cases into the prioritised worklist.
type WorklistService struct {
	store     caseScanner
	extractor *SeverityExtractor
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
	cfg       WorklistServiceConfig
}

// WorklistServiceParams groups constructor dependencies.
type WorklistServiceParams struct {
	Store     caseScanner
	Extractor *SeverityExtractor
	Metrics   *MetricsService
	Logger    *zap.Logger
	Config    WorklistServiceConfig
}

// NewWorklistService constructs a WorklistService with sane defaults.
func NewWorklistService(params WorklistServiceParams) *WorklistService {
	cfg := params.Config
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 1000
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 100
	}
	if cfg.DefaultLimit > cfg.MaxLimit {
		cfg.DefaultLimit = cfg.MaxLimit
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	extractor := params.Extractor
	if extractor == nil {
		extractor = NewSeverityExtractor(logger, params.Metrics)
	}
	return &WorklistService{
		store:     params.Store,
		extractor: extractor,
		metrics:   params.Metrics,
		logger:    logger,
		now:       time.Now,
		cfg:       cfg,
	}
}

// List scans the store with the creation-time range, then ranks the matches.
func (s *WorklistService) List(ctx context.Context, filter models.WorklistFilter) (*models.RankedWorklist, error) {
	normalized, err := s.normalize(filter)
	if err != nil {
		return nil, err
	}

	records, err := s.store.Scan(ctx, models.CaseScanFilter{
		CreatedFrom: normalized.StartDate,
		CreatedTo:   normalized.EndDate,
	})
	if err != nil {
		s.logger.Error("worklist scan failed", zap.Error(err))
		empty := emptyWorklist(normalized)
		return &empty, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to scan cases")
	}

	result := Rank(records, normalized, s.now().UTC(), s.extractor)
	s.metrics.ObserveRankedCases(result.Total)
	return &result, nil
}

func (s *WorklistService) normalize(filter models.WorklistFilter) (models.WorklistFilter, error) {
	if filter.Sort == "" {
		filter.Sort = models.SortDesc
	}
	if !filter.Sort.Valid() {
		return filter, appErrors.Clone(appErrors.ErrValidation, "sort must be asc or desc")
	}
	if filter.Severity != nil && !models.ValidSeverity(*filter.Severity) {
		return filter, appErrors.Clone(appErrors.ErrValidation, "severity_level must be between 0 and 4")
	}
	if filter.StartDate != nil && filter.EndDate != nil && !filter.EndDate.After(*filter.StartDate) {
		return filter, appErrors.Clone(appErrors.ErrValidation, "end_date must be after start_date")
	}
	if filter.Offset < 0 {
		return filter, appErrors.Clone(appErrors.ErrValidation, "offset must not be negative")
	}
	if filter.Limit <= 0 {
		filter.Limit = s.cfg.DefaultLimit
	}
	if filter.Limit > s.cfg.MaxLimit {
		filter.Limit = s.cfg.MaxLimit
	}
	return filter, nil
}

// Rank derives severity and score for every record using one shared now, keeps the
// records matching the severity filter, orders pending cases before reviewed ones
// (each partition stably sorted by score) and pages the result. A Limit of zero
// returns every match.
func Rank(records []models.CaseRecord, filter models.WorklistFilter, now time.Time, extractor *SeverityExtractor) models.RankedWorklist {
	if filter.Sort == "" {
		filter.Sort = models.SortDesc
	}
	result := emptyWorklist(filter)

	pending := make([]models.TriageCase, 0, len(records))
	reviewed := make([]models.TriageCase, 0)
	counts := make([]int, models.MaxSeverityLevel+1)

	for _, record := range records {
		sev := extractor.Extract(record)
		if filter.Severity != nil && sev.Level != *filter.Severity {
			continue
		}
		counts[sev.Level]++
		tc := buildTriageCase(record, sev, now)
		if tc.Reviewed {
			reviewed = append(reviewed, tc)
		} else {
			pending = append(pending, tc)
		}
	}

	sortByScore(pending, filter.Sort)
	sortByScore(reviewed, filter.Sort)

	ordered := append(pending, reviewed...)
	result.Total = len(ordered)
	result.Cases = paginate(ordered, filter.Offset, filter.Limit)

	for i := range result.Summary {
		result.Summary[i].Count = counts[result.Summary[i].SeverityLevel]
	}
	return result
}

func emptyWorklist(filter models.WorklistFilter) models.RankedWorklist {
	levels := make([]models.SeverityCount, 0, models.MaxSeverityLevel+1)
	for level := models.MinSeverityLevel; level <= models.MaxSeverityLevel; level++ {
		levels = append(levels, models.SeverityCount{SeverityLevel: level, SeverityName: models.SeverityName(level)})
	}
	if filter.Sort != models.SortAsc {
		for i, j := 0, len(levels)-1; i < j; i, j = i+1, j-1 {
			levels[i], levels[j] = levels[j], levels[i]
		}
	}
	return models.RankedWorklist{
		Summary: levels,
		Cases:   []models.TriageCase{},
		FilterInfo: models.FilterInfo{
			StartDate: filter.StartDate,
			EndDate:   filter.EndDate,
			Severity:  filter.Severity,
			SortOrder: filter.Sort,
			Limit:     filter.Limit,
			Offset:    filter.Offset,
		},
	}
}

func sortByScore(cases []models.TriageCase, direction models.SortDirection) {
	if direction == models.SortAsc {
		sort.SliceStable(cases, func(i, j int) bool { return cases[i].PriorityScore < cases[j].PriorityScore })
		return
	}
	sort.SliceStable(cases, func(i, j int) bool { return cases[i].PriorityScore > cases[j].PriorityScore })
}

func paginate(cases []models.TriageCase, offset, limit int) []models.TriageCase {
	if offset >= len(cases) {
		return []models.TriageCase{}
	}
	end := len(cases)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return cases[offset:end]
}

func buildTriageCase(record models.CaseRecord, sev Severity, now time.Time) models.TriageCase {
	createdAt := record.CreatedInstant()
	entries := record.Classification.Entries
	if entries == nil || record.Classification.Err != nil {
		entries = []models.ClassificationEntry{}
	}
	return models.TriageCase{
		ID:             record.ID,
		ImageIndex:     record.ImageIndex,
		PatientID:      record.PatientID,
		ImagePath:      record.ImagePath,
		CreatedAt:      createdAt,
		Reviewed:       record.Reviewed,
		ReviewedAt:     record.ReviewedAt,
		SeverityLevel:  sev.Level,
		SeverityName:   sev.Name,
		Disease:        sev.Disease,
		Probability:    sev.Probability,
		WaitHours:      round(WaitHours(createdAt, now), 1),
		PriorityScore:  PriorityScore(sev.Level, createdAt, now),
		Classification: entries,
	}
}
