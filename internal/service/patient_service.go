package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/xray-triage-api/internal/models"
	appErrors "github.com/noah-isme/xray-triage-api/pkg/errors"
)

const maxPatientPageSize = 100

type patientRepository interface {
	List(ctx context.Context, filter models.PatientFilter) ([]models.PatientSummary, int, error)
	FindByID(ctx context.Context, patientID string) (*models.Patient, error)
	Exists(ctx context.Context, patientID string) (bool, error)
	Create(ctx context.Context, patient *models.Patient) error
	Delete(ctx context.Context, patientID string) (int64, error)
}

type patientCases interface {
	ByPatient(ctx context.Context, patientID string) ([]models.TriageCase, error)
}

// CreatePatientRequest registers a patient under an externally issued id.
type CreatePatientRequest struct {
	PatientID string     `json:"patient_id" validate:"required,max=64"`
	Name      string     `json:"patient_name" validate:"required,max=200"`
	Gender    string     `json:"gender" validate:"omitempty,oneof=M F O"`
	BirthDate *time.Time `json:"birth_date"`
	Phone     string     `json:"phone" validate:"omitempty,max=32"`
	Address   string     `json:"address" validate:"omitempty,max=500"`
}

// PatientService manages the patient registry and patient profiles.
type PatientService struct {
	repo      patientRepository
	cases     patientCases
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewPatientService constructs the patient service.
func NewPatientService(repo patientRepository, cases patientCases, validate *validator.Validate, logger *zap.Logger) *PatientService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatientService{repo: repo, cases: cases, validator: validate, logger: logger, now: time.Now}
}

// List returns registered patients newest first with their case counts.
func (s *PatientService) List(ctx context.Context, filter models.PatientFilter) ([]models.PatientSummary, *models.Pagination, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	if filter.PageSize > maxPatientPageSize {
		filter.PageSize = maxPatientPageSize
	}

	patients, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, storeUnavailable(err, "failed to list patients")
	}
	return patients, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Profile returns a patient with their full case history.
func (s *PatientService) Profile(ctx context.Context, patientID string) (*models.PatientProfile, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "patient id is required")
	}
	patient, err := s.repo.FindByID(ctx, patientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "patient not found")
		}
		return nil, storeUnavailable(err, "failed to load patient")
	}
	cases, err := s.cases.ByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if cases == nil {
		cases = []models.TriageCase{}
	}
	return &models.PatientProfile{Patient: *patient, TotalCases: len(cases), Cases: cases}, nil
}

// Create registers a new patient. Reusing a registered id is a conflict.
func (s *PatientService) Create(ctx context.Context, req CreatePatientRequest) (*models.Patient, error) {
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid patient payload")
	}
	if req.BirthDate != nil && req.BirthDate.After(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "birth_date cannot be in the future")
	}

	exists, err := s.repo.Exists(ctx, req.PatientID)
	if err != nil {
		return nil, storeUnavailable(err, "failed to check patient id")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "patient id already registered")
	}

	patient := &models.Patient{
		PatientID: req.PatientID,
		Name:      req.Name,
		Gender:    req.Gender,
		BirthDate: req.BirthDate,
		Phone:     req.Phone,
		Address:   req.Address,
	}
	if err := s.repo.Create(ctx, patient); err != nil {
		return nil, storeUnavailable(err, "failed to create patient")
	}
	s.logger.Info("patient registered", zap.String("patient_id", patient.PatientID))
	return patient, nil
}

// Delete removes a patient from the registry. Their cases stay in the store and keep
// appearing in the worklist.
func (s *PatientService) Delete(ctx context.Context, patientID string) error {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "patient id is required")
	}
	removed, err := s.repo.Delete(ctx, patientID)
	if err != nil {
		return storeUnavailable(err, "failed to delete patient")
	}
	if removed == 0 {
		return appErrors.Clone(appErrors.ErrNotFound, "patient not found")
	}
	s.logger.Info("patient deleted", zap.String("patient_id", patientID))
	return nil
}
