package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/xray-triage-api/internal/models"
	appErrors "github.com/noah-isme/xray-triage-api/pkg/errors"
	"github.com/noah-isme/xray-triage-api/pkg/jobs"
)

func newTestIngestService(store caseWriter, stats statsInvalidator) *IngestService {
	svc := NewIngestService(store, stats, nil, nil, zap.NewNop())
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func TestIngestStoresCase(t *testing.T) {
	store := &fakeCaseStore{}
	stats := &countingInvalidator{}
	svc := newTestIngestService(store, stats)

	raw := []byte(`{"image_index":"00000013_005.png","patient_id":"13","created_at":"2024-05-10T09:00:00Z",
		"classification":[{"disease":"Effusion","probability":0.88,"severity_level":3}]}`)

	record, err := svc.Ingest(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, store.inserted, 1)
	assert.True(t, models.ValidCaseID(record.ID))
	assert.Equal(t, time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC), record.CreatedAt)
	assert.Equal(t, record.CreatedAt, record.CreatedInstant())
	assert.Equal(t, models.FormList, record.Classification.Form)
	assert.Equal(t, 3, record.Classification.Entries[0].SeverityLevel)
	assert.Equal(t, 1, stats.calls)
}

func TestIngestAcceptsLegacyEncodedLabel(t *testing.T) {
	store := &fakeCaseStore{}
	svc := newTestIngestService(store, nil)

	raw := []byte(`{"image_index":"img.png","predicted_label":"[{\"disease\":\"Mass\",\"probability\":0.9,\"severity_level\":4}]"}`)

	record, err := svc.Ingest(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, models.FormEncodedString, record.Classification.Form)
	assert.Equal(t, fixedNow, record.CreatedAt)
}

func TestIngestClampsFutureTimestamp(t *testing.T) {
	svc := newTestIngestService(&fakeCaseStore{}, nil)

	raw := []byte(`{"image_index":"img.png","created_at":"2030-01-01T00:00:00Z","classification":[]}`)
	record, err := svc.Ingest(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, record.CreatedAt)
}

func TestIngestRejectsInvalidMessages(t *testing.T) {
	svc := newTestIngestService(&fakeCaseStore{}, nil)

	for _, raw := range []string{`{not json`, `{"patient_id":"13"}`} {
		_, err := svc.Ingest(context.Background(), []byte(raw))
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	}
}

func TestIngestHandleJobMarksValidationPermanent(t *testing.T) {
	svc := newTestIngestService(&fakeCaseStore{}, nil)

	err := svc.HandleJob(context.Background(), jobs.Job{Type: IngestJobType, Payload: []byte(`{}`)})
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))

	err = svc.HandleJob(context.Background(), jobs.Job{Type: IngestJobType, Payload: "wrong type"})
	assert.True(t, jobs.IsPermanent(err))
}

func TestIngestHandleJobRetriesStoreFailure(t *testing.T) {
	svc := newTestIngestService(&fakeCaseStore{err: errors.New("db down")}, nil)

	err := svc.HandleJob(context.Background(), jobs.Job{Type: IngestJobType, Payload: []byte(`{"image_index":"img.png"}`)})
	require.Error(t, err)
	assert.False(t, jobs.IsPermanent(err))
}
