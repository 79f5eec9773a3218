package dto

// WorklistQuery binds the ranking query string. Dates are YYYY-MM-DD or RFC3339;
// a bare end date includes that whole day.
type WorklistQuery struct {
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
	Severity  *int   `form:"severity_level" binding:"omitempty,min=0,max=4"`
	Sort      string `form:"sort_order" binding:"omitempty,oneof=asc desc"`
	Limit     int    `form:"limit" binding:"omitempty,min=1"`
	Offset    int    `form:"offset" binding:"omitempty,min=0"`
	Format    string `form:"format" binding:"omitempty,oneof=csv pdf"`
}

// ReviewRequest sets a case's reviewed flag.
type ReviewRequest struct {
	Reviewed *bool `json:"reviewed" binding:"required"`
}

// ReviewResponse echoes the applied review state.
type ReviewResponse struct {
	ID       string `json:"id"`
	Reviewed bool   `json:"reviewed"`
}

// CaseListQuery pages the newest-first case listing.
type CaseListQuery struct {
	ImageIndex  string `form:"image_index"`
	PatientName string `form:"patient_name"`
	Page        int    `form:"page" binding:"omitempty,min=1"`
	PageSize    int    `form:"page_size" binding:"omitempty,min=1,max=200"`
}

// HighRiskQuery selects cases at or above a severity threshold.
type HighRiskQuery struct {
	Threshold *int `form:"threshold" binding:"omitempty,min=0,max=4"`
	Limit     int  `form:"limit" binding:"omitempty,min=1,max=200"`
}
