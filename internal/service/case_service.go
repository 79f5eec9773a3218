package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/xray-triage-api/internal/models"
	appErrors "github.com/noah-isme/xray-triage-api/pkg/errors"
)

type caseReader interface {
	List(ctx context.Context, filter models.CaseListFilter) ([]models.CaseRecord, int, error)
	FindByID(ctx context.Context, id string) (*models.CaseRecord, error)
	ListByPatient(ctx context.Context, patientID string) ([]models.CaseRecord, error)
	Scan(ctx context.Context, filter models.CaseScanFilter) ([]models.CaseRecord, error)
}

const (
	defaultHighRiskThreshold = models.SeveritySevere
	defaultHighRiskLimit     = 20
	maxCasePageSize          = 200
)

// CaseListRequest pages the newest-first case listing, optionally narrowed to one
// image index or to patients whose name contains PatientName.
type CaseListRequest struct {
	ImageIndex  string
	PatientName string
	Page        int
	PageSize    int
}

// HighRiskRequest selects recent cases at or above a severity threshold.
type HighRiskRequest struct {
	Threshold *int
	Limit     int
}

// CaseService serves read-only views of individual cases.
type CaseService struct {
	store     caseReader
	extractor *SeverityExtractor
	logger    *zap.Logger
	now       func() time.Time
}

// NewCaseService constructs a CaseService.
func NewCaseService(store caseReader, extractor *SeverityExtractor, logger *zap.Logger) *CaseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if extractor == nil {
		extractor = NewSeverityExtractor(logger, nil)
	}
	return &CaseService{store: store, extractor: extractor, logger: logger, now: time.Now}
}

// List returns matching cases newest first.
func (s *CaseService) List(ctx context.Context, req CaseListRequest) ([]models.TriageCase, *models.Pagination, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > maxCasePageSize {
		req.PageSize = maxCasePageSize
	}

	records, total, err := s.store.List(ctx, models.CaseListFilter{
		ImageIndex:  strings.TrimSpace(req.ImageIndex),
		PatientName: strings.TrimSpace(req.PatientName),
		Limit:       req.PageSize,
		Offset:      (req.Page - 1) * req.PageSize,
	})
	if err != nil {
		return nil, nil, storeUnavailable(err, "failed to list cases")
	}
	return s.derive(records), &models.Pagination{Page: req.Page, PageSize: req.PageSize, TotalCount: total}, nil
}

// Get returns a single case. Malformed or unknown ids are NotFound.
func (s *CaseService) Get(ctx context.Context, id string) (*models.TriageCase, error) {
	if !models.ValidCaseID(id) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "case not found")
	}
	record, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "case not found")
		}
		return nil, storeUnavailable(err, "failed to load case")
	}
	tc := buildTriageCase(*record, s.extractor.Extract(*record), s.now().UTC())
	return &tc, nil
}

// ByPatient returns every case recorded for a patient, newest first.
func (s *CaseService) ByPatient(ctx context.Context, patientID string) ([]models.TriageCase, error) {
	if patientID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "patient id is required")
	}
	records, err := s.store.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, storeUnavailable(err, "failed to list patient cases")
	}
	return s.derive(records), nil
}

// HighRisk returns the newest cases whose primary severity is at least the threshold.
func (s *CaseService) HighRisk(ctx context.Context, req HighRiskRequest) ([]models.TriageCase, error) {
	threshold := defaultHighRiskThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if !models.ValidSeverity(threshold) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "threshold must be between 0 and 4")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultHighRiskLimit
	}
	if limit > maxCasePageSize {
		limit = maxCasePageSize
	}

	records, err := s.store.Scan(ctx, models.CaseScanFilter{})
	if err != nil {
		return nil, storeUnavailable(err, "failed to scan cases")
	}

	now := s.now().UTC()
	result := make([]models.TriageCase, 0, limit)
	// Scan returns ids ascending; walk backwards for newest first.
	for i := len(records) - 1; i >= 0 && len(result) < limit; i-- {
		sev := s.extractor.Extract(records[i])
		if sev.Level >= threshold {
			result = append(result, buildTriageCase(records[i], sev, now))
		}
	}
	return result, nil
}

func (s *CaseService) derive(records []models.CaseRecord) []models.TriageCase {
	now := s.now().UTC()
	out := make([]models.TriageCase, 0, len(records))
	for _, record := range records {
		out = append(out, buildTriageCase(record, s.extractor.Extract(record), now))
	}
	return out
}

func storeUnavailable(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, message)
}
