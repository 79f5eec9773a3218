package handler

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/xray-triage-api/internal/dto"
	"github.com/noah-isme/xray-triage-api/internal/models"
	appErrors "github.com/noah-isme/xray-triage-api/pkg/errors"
)

const dateLayout = "2006-01-02"

// parseDateParam accepts YYYY-MM-DD or RFC3339. A bare end date covers that whole
// day, so it is advanced to the next midnight.
func parseDateParam(value string, endOfDay bool) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		t := parsed.UTC()
		return &t, nil
	}
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		parsed = parsed.AddDate(0, 0, 1)
	}
	return &parsed, nil
}

// worklistFilterFromQuery binds and converts the ranking query string.
func worklistFilterFromQuery(c *gin.Context) (models.WorklistFilter, dto.WorklistQuery, error) {
	var query dto.WorklistQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		return models.WorklistFilter{}, query, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid worklist query")
	}

	start, err := parseDateParam(query.StartDate, false)
	if err != nil {
		return models.WorklistFilter{}, query, appErrors.Clone(appErrors.ErrValidation, "invalid start_date, expected YYYY-MM-DD or RFC3339")
	}
	end, err := parseDateParam(query.EndDate, true)
	if err != nil {
		return models.WorklistFilter{}, query, appErrors.Clone(appErrors.ErrValidation, "invalid end_date, expected YYYY-MM-DD or RFC3339")
	}

	return models.WorklistFilter{
		StartDate: start,
		EndDate:   end,
		Severity:  query.Severity,
		Sort:      models.SortDirection(strings.ToLower(query.Sort)),
		Limit:     query.Limit,
		Offset:    query.Offset,
	}, query, nil
}
