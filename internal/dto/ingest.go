package dto

import (
	"encoding/json"
	"time"
)

// CaseResultMessage is one classification result published on the ingest topic.
type CaseResultMessage struct {
	ImageIndex     string          `json:"image_index" validate:"required,max=255"`
	PatientID      string          `json:"patient_id" validate:"omitempty,max=128"`
	ImagePath      string          `json:"image_path" validate:"omitempty,max=1024"`
	Classification json.RawMessage `json:"classification"`
	// PredictedLabel is the legacy name for Classification.
	PredictedLabel json.RawMessage `json:"predicted_label,omitempty"`
	CreatedAt      *time.Time      `json:"created_at,omitempty"`
}

// Payload returns the classification payload under either field name.
func (m CaseResultMessage) Payload() json.RawMessage {
	if len(m.Classification) > 0 {
		return m.Classification
	}
	return m.PredictedLabel
}
