package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/xray-triage-api/internal/models"
)

const patientColumns = `p.patient_id, p.patient_name, p.gender, p.birth_date, p.phone, p.address, p.created_at, p.updated_at`

const patientsSchema = `CREATE TABLE IF NOT EXISTS patients (
	patient_id   TEXT        PRIMARY KEY,
	patient_name TEXT        NOT NULL,
	gender       TEXT        NOT NULL DEFAULT '',
	birth_date   DATE,
	phone        TEXT        NOT NULL DEFAULT '',
	address      TEXT        NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_patients_created_at ON patients (created_at)`

// PatientRepository persists the patient registry.
type PatientRepository struct {
	db      *sqlx.DB
	metrics queryObserver
}

// NewPatientRepository constructs the repository. metrics may be nil.
func NewPatientRepository(db *sqlx.DB, metrics queryObserver) *PatientRepository {
	return &PatientRepository{db: db, metrics: metrics}
}

func (r *PatientRepository) observe(label string, start time.Time) {
	if r.metrics != nil {
		r.metrics.ObserveDBQuery(label, time.Since(start))
	}
}

// EnsureSchema creates the patients table when missing.
func (r *PatientRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, patientsSchema); err != nil {
		return fmt.Errorf("ensure patients schema: %w", err)
	}
	return nil
}

// List returns patients newest first, each with its case count, plus the total match count.
func (r *PatientRepository) List(ctx context.Context, filter models.PatientFilter) ([]models.PatientSummary, int, error) {
	defer r.observe("patients_list", time.Now())

	base := "FROM patients p"
	args := []interface{}{}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		base += fmt.Sprintf(" WHERE LOWER(p.patient_name) LIKE $%d", len(args))
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s,
        (SELECT COUNT(*) FROM cases c WHERE c.patient_id = p.patient_id) AS total_cases
        %s ORDER BY p.created_at DESC, p.patient_id LIMIT %d OFFSET %d`, patientColumns, base, size, offset)

	var patients []models.PatientSummary
	if err := r.db.SelectContext(ctx, &patients, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}
	return patients, total, nil
}

// FindByID loads one patient. It returns sql.ErrNoRows when absent.
func (r *PatientRepository) FindByID(ctx context.Context, patientID string) (*models.Patient, error) {
	defer r.observe("patients_find", time.Now())

	var patient models.Patient
	query := "SELECT " + patientColumns + " FROM patients p WHERE p.patient_id = $1"
	if err := r.db.GetContext(ctx, &patient, query, patientID); err != nil {
		return nil, err
	}
	return &patient, nil
}

// Exists reports whether a patient with the id is registered.
func (r *PatientRepository) Exists(ctx context.Context, patientID string) (bool, error) {
	var exists int
	if err := r.db.GetContext(ctx, &exists, "SELECT 1 FROM patients WHERE patient_id = $1 LIMIT 1", patientID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check patient: %w", err)
	}
	return true, nil
}

// Create registers a patient, stamping both timestamps.
func (r *PatientRepository) Create(ctx context.Context, patient *models.Patient) error {
	defer r.observe("patients_create", time.Now())

	now := time.Now().UTC()
	if patient.CreatedAt.IsZero() {
		patient.CreatedAt = now
	}
	patient.UpdatedAt = now
	const query = `INSERT INTO patients (patient_id, patient_name, gender, birth_date, phone, address, created_at, updated_at)
        VALUES (:patient_id, :patient_name, :gender, :birth_date, :phone, :address, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, patient); err != nil {
		return fmt.Errorf("create patient: %w", err)
	}
	return nil
}

// Delete removes a patient and returns the number of rows removed. The patient's
// cases are left in place.
func (r *PatientRepository) Delete(ctx context.Context, patientID string) (int64, error) {
	defer r.observe("patients_delete", time.Now())

	result, err := r.db.ExecContext(ctx, "DELETE FROM patients WHERE patient_id = $1", patientID)
	if err != nil {
		return 0, fmt.Errorf("delete patient: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete patient rows affected: %w", err)
	}
	return affected, nil
}
