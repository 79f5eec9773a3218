package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/xray-triage-api/internal/models"
	appErrors "github.com/noah-isme/xray-triage-api/pkg/errors"
)

func newExportServiceForTest(store caseScanner) *ExportService {
	svc := NewExportService(newTestWorklistService(store), zap.NewNop(), nil, nil)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func TestExportWorklistCSV(t *testing.T) {
	store := &fakeCaseStore{records: []models.CaseRecord{
		triageRecord(1, "Nodule", 0),
		triageRecord(4, "Mass", 2*time.Hour),
	}}
	svc := newExportServiceForTest(store)

	file, err := svc.Worklist(context.Background(), models.WorklistFilter{}, "")
	require.NoError(t, err)
	assert.Equal(t, "worklist-20240510T120000Z.csv", file.Filename)
	assert.Equal(t, "text/csv; charset=utf-8", file.ContentType)
	assert.Equal(t, 2, file.Rows)

	rows, err := csv.NewReader(bytes.NewReader(file.Data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, worklistHeaders, rows[0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "Mass", rows[1][6])
	assert.Equal(t, "41.00", rows[1][9])
}

func TestExportWorklistPDF(t *testing.T) {
	store := &fakeCaseStore{records: []models.CaseRecord{triageRecord(3, "Tràn dịch", time.Hour)}}
	svc := newExportServiceForTest(store)

	file, err := svc.Worklist(context.Background(), models.WorklistFilter{}, FormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.True(t, bytes.HasPrefix(file.Data, []byte("%PDF")))
}

func TestExportWorklistRejectsUnknownFormat(t *testing.T) {
	svc := newExportServiceForTest(&fakeCaseStore{})

	_, err := svc.Worklist(context.Background(), models.WorklistFilter{}, "xlsx")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
