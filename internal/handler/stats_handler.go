package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/xray-triage-api/internal/middleware"
	"github.com/noah-isme/xray-triage-api/internal/models"
	"github.com/noah-isme/xray-triage-api/pkg/response"
)

type statsService interface {
	Current(ctx context.Context) (models.AggregateSnapshot, bool, error)
}

// StatsHandler serves the aggregate statistics snapshot.
type StatsHandler struct {
	stats statsService
}

// NewStatsHandler constructs the handler.
func NewStatsHandler(stats statsService) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// Get godoc
// @Summary Aggregate case statistics
// @Tags Stats
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /stats [get]
func (h *StatsHandler) Get(c *gin.Context) {
	start := time.Now()
	snapshot, hit, err := h.stats.Current(c.Request.Context())
	if err != nil {
		response.ErrorWithData(c, err, snapshot)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, snapshot, nil, middleware.ResponseMeta(c, start))
}
