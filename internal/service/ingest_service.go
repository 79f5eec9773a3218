package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/xray-triage-api/internal/dto"
	"github.com/noah-isme/xray-triage-api/internal/models"
	appErrors "github.com/noah-isme/xray-triage-api/pkg/errors"
	"github.com/noah-isme/xray-triage-api/pkg/jobs"
)

// IngestJobType tags ingest jobs on the worker queue.
const IngestJobType = "case_result"

type caseWriter interface {
	Insert(ctx context.Context, record *models.CaseRecord) error
}

// IngestService turns classification result messages into stored cases.
type IngestService struct {
	store     caseWriter
	stats     statsInvalidator
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewIngestService constructs an IngestService. stats and metrics may be nil.
func NewIngestService(store caseWriter, stats statsInvalidator, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *IngestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestService{store: store, stats: stats, validator: validate, metrics: metrics, logger: logger, now: time.Now}
}

// Ingest validates a raw message and stores it as a new case. Malformed messages
// return a validation error that should not be retried.
func (s *IngestService) Ingest(ctx context.Context, raw []byte) (*models.CaseRecord, error) {
	var msg dto.CaseResultMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.metrics.RecordIngest("invalid")
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "malformed result message")
	}
	if err := s.validator.Struct(msg); err != nil {
		s.metrics.RecordIngest("invalid")
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid result message")
	}

	now := s.now().UTC()
	createdAt := now
	if msg.CreatedAt != nil && !msg.CreatedAt.IsZero() && !msg.CreatedAt.After(now) {
		createdAt = msg.CreatedAt.UTC()
	}

	record := &models.CaseRecord{
		ID:             models.NewCaseID(createdAt),
		ImageIndex:     msg.ImageIndex,
		PatientID:      msg.PatientID,
		ImagePath:      msg.ImagePath,
		Classification: models.ParseClassification(msg.Payload()),
		CreatedAt:      createdAt,
	}
	if record.Classification.Err != nil {
		// Stored as received; readers degrade it to no finding.
		s.logger.Warn("ingesting case with unusable classification",
			zap.String("image_index", msg.ImageIndex), zap.Error(record.Classification.Err))
	}

	if err := s.store.Insert(ctx, record); err != nil {
		s.metrics.RecordIngest("failed")
		return nil, fmt.Errorf("insert case %s: %w", msg.ImageIndex, err)
	}

	if s.stats != nil {
		s.stats.Invalidate(ctx)
	}
	s.metrics.RecordIngest("stored")
	s.logger.Info("case ingested", zap.String("case_id", record.ID), zap.String("image_index", record.ImageIndex))
	return record, nil
}

// HandleJob adapts Ingest to the worker queue. Validation failures are marked
// permanent so the queue does not retry them.
func (s *IngestService) HandleJob(ctx context.Context, job jobs.Job) error {
	raw, ok := job.Payload.([]byte)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected payload type %T", job.Payload))
	}
	if _, err := s.Ingest(ctx, raw); err != nil {
		if appErr := appErrors.FromError(err); appErr.Code == appErrors.ErrValidation.Code {
			return jobs.Permanent(err)
		}
		return err
	}
	return nil
}
