package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/xray-triage-api/internal/models"
)

const caseColumns = `id, image_index, patient_id, image_path, classification, reviewed, reviewed_at, created_at`

const casesSchema = `CREATE TABLE IF NOT EXISTS cases (
	id             CHAR(26)    PRIMARY KEY,
	image_index    TEXT        NOT NULL,
	patient_id     TEXT        NOT NULL DEFAULT '',
	image_path     TEXT        NOT NULL DEFAULT '',
	classification JSONB,
	reviewed       BOOLEAN     NOT NULL DEFAULT FALSE,
	reviewed_at    TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_cases_created_at ON cases (created_at);
CREATE INDEX IF NOT EXISTS idx_cases_patient_id ON cases (patient_id)`

type queryObserver interface {
	ObserveDBQuery(label string, duration time.Duration)
}

// CaseRepository persists triage cases in PostgreSQL.
type CaseRepository struct {
	db      *sqlx.DB
	metrics queryObserver
}

// NewCaseRepository constructs the repository. metrics may be nil.
func NewCaseRepository(db *sqlx.DB, metrics queryObserver) *CaseRepository {
	return &CaseRepository{db: db, metrics: metrics}
}

func (r *CaseRepository) observe(label string, start time.Time) {
	if r.metrics != nil {
		r.metrics.ObserveDBQuery(label, time.Since(start))
	}
}

// EnsureSchema creates the cases table and its indexes when missing.
func (r *CaseRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, casesSchema); err != nil {
		return fmt.Errorf("ensure cases schema: %w", err)
	}
	return nil
}

// Scan returns every case in the optional creation-time range, oldest id first.
func (r *CaseRepository) Scan(ctx context.Context, filter models.CaseScanFilter) ([]models.CaseRecord, error) {
	defer r.observe("cases_scan", time.Now())

	builder := strings.Builder{}
	builder.WriteString("SELECT " + caseColumns + " FROM cases")

	args := make([]interface{}, 0, 2)
	conditions := make([]string, 0, 2)
	if filter.CreatedFrom != nil {
		args = append(args, filter.CreatedFrom.UTC())
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedTo != nil {
		args = append(args, filter.CreatedTo.UTC())
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY id ASC")

	var records []models.CaseRecord
	if err := r.db.SelectContext(ctx, &records, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("scan cases: %w", err)
	}
	return records, nil
}

// List returns a page of matching cases newest first plus the total match count.
func (r *CaseRepository) List(ctx context.Context, filter models.CaseListFilter) ([]models.CaseRecord, int, error) {
	defer r.observe("cases_list", time.Now())

	args := make([]interface{}, 0, 4)
	conditions := make([]string, 0, 2)
	if filter.ImageIndex != "" {
		args = append(args, filter.ImageIndex)
		conditions = append(conditions, fmt.Sprintf("image_index = $%d", len(args)))
	}
	if filter.PatientName != "" {
		args = append(args, "%"+strings.ToLower(filter.PatientName)+"%")
		conditions = append(conditions, fmt.Sprintf("patient_id IN (SELECT patient_id FROM patients WHERE LOWER(patient_name) LIKE $%d)", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM cases"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count cases: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf("SELECT %s FROM cases%s ORDER BY id DESC LIMIT $%d OFFSET $%d", caseColumns, where, len(args)-1, len(args))
	var records []models.CaseRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list cases: %w", err)
	}
	return records, total, nil
}

// FindByID loads one case. It returns sql.ErrNoRows when absent.
func (r *CaseRepository) FindByID(ctx context.Context, id string) (*models.CaseRecord, error) {
	defer r.observe("cases_find", time.Now())

	var record models.CaseRecord
	if err := r.db.GetContext(ctx, &record, "SELECT "+caseColumns+" FROM cases WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &record, nil
}

// ListByPatient returns a patient's cases newest first.
func (r *CaseRepository) ListByPatient(ctx context.Context, patientID string) ([]models.CaseRecord, error) {
	defer r.observe("cases_by_patient", time.Now())

	var records []models.CaseRecord
	query := "SELECT " + caseColumns + " FROM cases WHERE patient_id = $1 ORDER BY id DESC"
	if err := r.db.SelectContext(ctx, &records, query, patientID); err != nil {
		return nil, fmt.Errorf("list patient cases: %w", err)
	}
	return records, nil
}

// Insert stores a new case.
func (r *CaseRepository) Insert(ctx context.Context, record *models.CaseRecord) error {
	defer r.observe("cases_insert", time.Now())

	const query = `INSERT INTO cases (` + caseColumns + `)
	VALUES (:id, :image_index, :patient_id, :image_path, :classification, :reviewed, :reviewed_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

// SetReviewed updates the reviewed flag in one statement. reviewed_at is stamped only
// on a false to true transition and cleared when the flag is unset. It reports
// whether a case with id exists.
func (r *CaseRepository) SetReviewed(ctx context.Context, id string, reviewed bool, at time.Time) (bool, error) {
	defer r.observe("cases_set_reviewed", time.Now())

	const query = `UPDATE cases SET
	reviewed_at = CASE WHEN NOT $2::boolean THEN NULL WHEN reviewed THEN reviewed_at ELSE $3 END,
	reviewed = $2
	WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, reviewed, at.UTC())
	if err != nil {
		return false, fmt.Errorf("set reviewed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set reviewed rows affected: %w", err)
	}
	return affected > 0, nil
}

// Ping checks database connectivity.
func (r *CaseRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
