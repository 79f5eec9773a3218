package models

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// CaseRecord is one persisted classification result for a single submitted image.
type CaseRecord struct {
	ID             string            `db:"id" json:"id"`
	ImageIndex     string            `db:"image_index" json:"image_index"`
	PatientID      string            `db:"patient_id" json:"patient_id"`
	ImagePath      string            `db:"image_path" json:"image_path"`
	Classification RawClassification `db:"classification" json:"classification"`
	Reviewed       bool              `db:"reviewed" json:"reviewed"`
	ReviewedAt     *time.Time        `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
}

// CreatedInstant returns the stored creation time, or the time embedded in the ULID
// when the column was left empty.
func (r CaseRecord) CreatedInstant() time.Time {
	if !r.CreatedAt.IsZero() {
		return r.CreatedAt.UTC()
	}
	id, err := ulid.ParseStrict(r.ID)
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(id.Time()).UTC()
}

// NewCaseID issues a time-ordered case identifier.
func NewCaseID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()
}

// ValidCaseID reports whether id is a well-formed case identifier.
func ValidCaseID(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}

// TriageCase is a case with its per-read derived priority fields.
type TriageCase struct {
	ID             string                `json:"id"`
	ImageIndex     string                `json:"image_index"`
	PatientID      string                `json:"patient_id"`
	ImagePath      string                `json:"image_path"`
	CreatedAt      time.Time             `json:"created_at"`
	Reviewed       bool                  `json:"reviewed"`
	ReviewedAt     *time.Time            `json:"reviewed_at,omitempty"`
	SeverityLevel  int                   `json:"severity_level"`
	SeverityName   string                `json:"severity_name"`
	Disease        string                `json:"primary_disease"`
	Probability    float64               `json:"primary_probability"`
	WaitHours      float64               `json:"hours_waiting"`
	PriorityScore  float64               `json:"priority_score"`
	Classification []ClassificationEntry `json:"classification"`
}

// CaseScanFilter narrows a store scan by creation time. From is inclusive, To exclusive.
type CaseScanFilter struct {
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// CaseListFilter narrows the newest-first case listing. ImageIndex matches exactly;
// PatientName is a case-insensitive substring of the registered patient's name.
type CaseListFilter struct {
	ImageIndex  string
	PatientName string
	Limit       int
	Offset      int
}

// SortDirection orders ranked partitions by priority score.
type SortDirection string

const (
	SortDesc SortDirection = "desc"
	SortAsc  SortDirection = "asc"
)

// Valid reports whether the direction is supported.
func (d SortDirection) Valid() bool {
	return d == SortDesc || d == SortAsc
}

// WorklistFilter describes one ranking request.
type WorklistFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	Severity  *int
	Sort      SortDirection
	Limit     int
	Offset    int
}

// SeverityCount is one row of the worklist summary.
type SeverityCount struct {
	SeverityLevel int    `json:"severity_level"`
	SeverityName  string `json:"severity_name"`
	Count         int    `json:"count"`
}

// FilterInfo echoes the effective filters back to the caller.
type FilterInfo struct {
	StartDate *time.Time    `json:"start_date"`
	EndDate   *time.Time    `json:"end_date"`
	Severity  *int          `json:"severity_level"`
	SortOrder SortDirection `json:"sort_order"`
	Limit     int           `json:"limit"`
	Offset    int           `json:"offset"`
}

// RankedWorklist is the result of ranking: pending cases first, then reviewed ones.
type RankedWorklist struct {
	Summary    []SeverityCount `json:"summary"`
	Total      int             `json:"total"`
	Cases      []TriageCase    `json:"cases"`
	FilterInfo FilterInfo      `json:"filter_info"`
}
