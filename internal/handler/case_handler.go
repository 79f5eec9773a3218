package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/xray-triage-api/internal/dto"
	"github.com/noah-isme/xray-triage-api/internal/models"
	"github.com/noah-isme/xray-triage-api/internal/service"
	appErrors "github.com/noah-isme/xray-triage-api/pkg/errors"
	"github.com/noah-isme/xray-triage-api/pkg/response"
)

type caseService interface {
	List(ctx context.Context, req service.CaseListRequest) ([]models.TriageCase, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.TriageCase, error)
	ByPatient(ctx context.Context, patientID string) ([]models.TriageCase, error)
	HighRisk(ctx context.Context, req service.HighRiskRequest) ([]models.TriageCase, error)
}

type reviewService interface {
	SetReviewed(ctx context.Context, id string, reviewed bool) (bool, error)
}

// CaseHandler exposes case lookups and the review mutation.
type CaseHandler struct {
	cases  caseService
	review reviewService
}

// NewCaseHandler constructs the handler.
func NewCaseHandler(cases caseService, review reviewService) *CaseHandler {
	return &CaseHandler{cases: cases, review: review}
}

// List godoc
// @Summary List cases newest first
// @Tags Cases
// @Produce json
// @Param image_index query string false "Exact image index"
// @Param patient_name query string false "Registered patient name contains (case-insensitive)"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size (max 200)"
// @Success 200 {object} response.Envelope
// @Router /cases [get]
func (h *CaseHandler) List(c *gin.Context) {
	var query dto.CaseListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query"))
		return
	}
	cases, pagination, err := h.cases.List(c.Request.Context(), service.CaseListRequest{
		ImageIndex:  query.ImageIndex,
		PatientName: query.PatientName,
		Page:        query.Page,
		PageSize:    query.PageSize,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cases, pagination)
}

// Get godoc
// @Summary Case detail
// @Tags Cases
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /cases/{id} [get]
func (h *CaseHandler) Get(c *gin.Context) {
	tc, err := h.cases.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tc, nil)
}

// ByPatient godoc
// @Summary Cases of one patient
// @Tags Cases
// @Produce json
// @Param patientId path string true "Patient ID"
// @Success 200 {object} response.Envelope
// @Router /patients/{patientId}/cases [get]
func (h *CaseHandler) ByPatient(c *gin.Context) {
	cases, err := h.cases.ByPatient(c.Request.Context(), strings.TrimSpace(c.Param("patientId")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cases, nil)
}

// HighRisk godoc
// @Summary Newest cases at or above a severity threshold
// @Tags Cases
// @Produce json
// @Param threshold query int false "Minimum severity level (default 3)"
// @Param limit query int false "Maximum cases (default 20)"
// @Success 200 {object} response.Envelope
// @Router /cases/high-risk [get]
func (h *CaseHandler) HighRisk(c *gin.Context) {
	var query dto.HighRiskQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query"))
		return
	}
	cases, err := h.cases.HighRisk(c.Request.Context(), service.HighRiskRequest{Threshold: query.Threshold, Limit: query.Limit})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cases, nil)
}

// Review godoc
// @Summary Set a case's reviewed flag
// @Tags Cases
// @Accept json
// @Produce json
// @Param id path string true "Case ID"
// @Param payload body dto.ReviewRequest true "Review state"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /cases/{id}/review [patch]
func (h *CaseHandler) Review(c *gin.Context) {
	var req dto.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "reviewed is required"))
		return
	}
	id := c.Param("id")
	ok, err := h.review.SetReviewed(c.Request.Context(), id, *req.Reviewed)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "case not found"))
		return
	}
	response.JSON(c, http.StatusOK, dto.ReviewResponse{ID: id, Reviewed: *req.Reviewed}, nil)
}
