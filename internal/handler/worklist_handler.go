package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/xray-triage-api/internal/middleware"
	"github.com/noah-isme/xray-triage-api/internal/models"
	"github.com/noah-isme/xray-triage-api/internal/service"
	appErrors "github.com/noah-isme/xray-triage-api/pkg/errors"
	"github.com/noah-isme/xray-triage-api/pkg/response"
)

type worklistService interface {
	List(ctx context.Context, filter models.WorklistFilter) (*models.RankedWorklist, error)
}

type worklistExporter interface {
	Worklist(ctx context.Context, filter models.WorklistFilter, format string) (*service.ExportFile, error)
}

// WorklistHandler serves the prioritised worklist.
type WorklistHandler struct {
	worklist worklistService
	exporter worklistExporter
}

// NewWorklistHandler constructs the handler.
func NewWorklistHandler(worklist worklistService, exporter worklistExporter) *WorklistHandler {
	return &WorklistHandler{worklist: worklist, exporter: exporter}
}

// List godoc
// @Summary Prioritised worklist
// @Description Ranks cases by severity and waiting time. Pending cases come before reviewed ones.
// @Tags Worklist
// @Produce json
// @Param start_date query string false "Created on or after (YYYY-MM-DD or RFC3339)"
// @Param end_date query string false "Created before; a bare date includes that day"
// @Param severity_level query int false "Only this severity level (0-4)"
// @Param sort_order query string false "desc (default) or asc"
// @Param limit query int false "Page size"
// @Param offset query int false "Rows to skip"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /worklist [get]
func (h *WorklistHandler) List(c *gin.Context) {
	start := time.Now()
	filter, _, err := worklistFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	ranked, err := h.worklist.List(c.Request.Context(), filter)
	if err != nil {
		if ranked != nil {
			response.ErrorWithData(c, err, ranked)
			return
		}
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ranked, nil, middleware.ResponseMeta(c, start))
}

// Export godoc
// @Summary Export the worklist
// @Tags Worklist
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv (default) or pdf"
// @Param start_date query string false "Created on or after"
// @Param end_date query string false "Created before"
// @Param severity_level query int false "Only this severity level (0-4)"
// @Param sort_order query string false "desc (default) or asc"
// @Param limit query int false "Page size"
// @Param offset query int false "Rows to skip"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /worklist/export [get]
func (h *WorklistHandler) Export(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	filter, query, err := worklistFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	file, err := h.exporter.Worklist(c.Request.Context(), filter, query.Format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}
