package models

import "time"

// Patient is a registered patient. Cases reference patients by PatientID only; a
// case may carry an id that was never registered.
type Patient struct {
	PatientID string     `db:"patient_id" json:"patient_id"`
	Name      string     `db:"patient_name" json:"patient_name"`
	Gender    string     `db:"gender" json:"gender,omitempty"`
	BirthDate *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Phone     string     `db:"phone" json:"phone,omitempty"`
	Address   string     `db:"address" json:"address,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// PatientSummary is a listed patient with the number of cases recorded for them.
type PatientSummary struct {
	Patient
	TotalCases int `db:"total_cases" json:"total_cases"`
}

// PatientProfile is a patient with their full case history, newest first.
type PatientProfile struct {
	Patient
	TotalCases int          `json:"total_cases"`
	Cases      []TriageCase `json:"cases"`
}

// PatientFilter pages the patient listing. Search matches a case-insensitive
// substring of the patient name.
type PatientFilter struct {
	Search   string
	Page     int
	PageSize int
}
