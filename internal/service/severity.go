package service

import (
	"math"

	"go.uber.org/zap"

	"github.com/noah-isme/xray-triage-api/internal/models"
)

// Severity is the canonical signal read from a case's classification.
type Severity struct {
	Level       int
	Name        string
	Disease     string
	Probability float64
	// Fallback is true when the payload was absent, empty or unparsable.
	Fallback bool
}

// NoFinding is returned for payloads that carry no usable entry.
var NoFinding = Severity{
	Level:       models.SeverityNormal,
	Name:        models.SeverityName(models.SeverityNormal),
	Disease:     models.NoFindingDisease,
	Probability: 0,
	Fallback:    true,
}

// SeverityExtractor reduces classification payloads to a single severity triple.
type SeverityExtractor struct {
	logger  *zap.Logger
	metrics *MetricsService
}

// NewSeverityExtractor constructs an extractor. Both collaborators are optional.
func NewSeverityExtractor(logger *zap.Logger, metrics *MetricsService) *SeverityExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SeverityExtractor{logger: logger, metrics: metrics}
}

// Extract reads the first classification entry of a case. It never fails: unusable
// payloads yield NoFinding and a warning, out-of-range levels collapse to normal.
func (e *SeverityExtractor) Extract(record models.CaseRecord) Severity {
	sev, ok := ExtractSeverity(record.Classification)
	if !ok && e != nil {
		e.warn(record)
	}
	return sev
}

func (e *SeverityExtractor) warn(record models.CaseRecord) {
	fields := []zap.Field{
		zap.String("case_id", record.ID),
		zap.String("form", record.Classification.Form.String()),
	}
	if record.Classification.Err != nil {
		fields = append(fields, zap.Error(record.Classification.Err))
	}
	e.logger.Warn("classification unusable, treating as no finding", fields...)
	e.metrics.RecordParseFailure()
}

// ExtractSeverity is the pure form of Extract. The boolean is false when the
// NoFinding fallback was used.
func ExtractSeverity(rc models.RawClassification) (Severity, bool) {
	entry, ok := rc.Primary()
	if !ok {
		return NoFinding, false
	}

	level := entry.SeverityLevel
	if !entry.HasSeverity || !models.ValidSeverity(level) {
		level = models.SeverityNormal
	}

	disease := entry.Disease
	if disease == "" {
		disease = models.UnknownDisease
	}

	probability := entry.Probability
	if math.IsNaN(probability) || probability < 0 {
		probability = 0
	} else if probability > 1 {
		probability = 1
	}

	return Severity{
		Level:       level,
		Name:        models.SeverityName(level),
		Disease:     disease,
		Probability: probability,
	}, true
}
