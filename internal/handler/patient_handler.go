package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/xray-triage-api/internal/dto"
	"github.com/noah-isme/xray-triage-api/internal/models"
	"github.com/noah-isme/xray-triage-api/internal/service"
	appErrors "github.com/noah-isme/xray-triage-api/pkg/errors"
	"github.com/noah-isme/xray-triage-api/pkg/response"
)

type patientService interface {
	List(ctx context.Context, filter models.PatientFilter) ([]models.PatientSummary, *models.Pagination, error)
	Profile(ctx context.Context, patientID string) (*models.PatientProfile, error)
	Create(ctx context.Context, req service.CreatePatientRequest) (*models.Patient, error)
	Delete(ctx context.Context, patientID string) error
}

// PatientHandler exposes the patient registry.
type PatientHandler struct {
	patients patientService
}

// NewPatientHandler constructs PatientHandler.
func NewPatientHandler(patients patientService) *PatientHandler {
	return &PatientHandler{patients: patients}
}

// List godoc
// @Summary List registered patients
// @Tags Patients
// @Produce json
// @Param search query string false "Name contains (case-insensitive)"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size (max 100)"
// @Success 200 {object} response.Envelope
// @Router /patients [get]
func (h *PatientHandler) List(c *gin.Context) {
	var query dto.PatientListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query"))
		return
	}
	patients, pagination, err := h.patients.List(c.Request.Context(), models.PatientFilter{
		Search:   query.Search,
		Page:     query.Page,
		PageSize: query.PageSize,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, patients, pagination)
}

// Get godoc
// @Summary Patient profile with case history
// @Tags Patients
// @Produce json
// @Param patientId path string true "Patient ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /patients/{patientId} [get]
func (h *PatientHandler) Get(c *gin.Context) {
	profile, err := h.patients.Profile(c.Request.Context(), c.Param("patientId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}

// Create godoc
// @Summary Register a patient
// @Tags Patients
// @Accept json
// @Produce json
// @Param payload body service.CreatePatientRequest true "Patient payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /patients [post]
func (h *PatientHandler) Create(c *gin.Context) {
	var req service.CreatePatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}
	patient, err := h.patients.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, patient)
}

// Delete godoc
// @Summary Remove a patient from the registry
// @Tags Patients
// @Param patientId path string true "Patient ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /patients/{patientId} [delete]
func (h *PatientHandler) Delete(c *gin.Context) {
	if err := h.patients.Delete(c.Request.Context(), c.Param("patientId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
