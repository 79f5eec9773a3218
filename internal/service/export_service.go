package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/xray-triage-api/internal/models"
	appErrors "github.com/noah-isme/xray-triage-api/pkg/errors"
	"github.com/noah-isme/xray-triage-api/pkg/export"
)

// Export formats.
const (
	FormatCSV = "csv"
	FormatPDF = "pdf"
)

var worklistHeaders = []string{
	"Rank", "Case ID", "Image", "Patient", "Severity", "Severity Name",
	"Disease", "Probability", "Hours Waiting", "Priority Score", "Reviewed", "Created At",
}

type worklistRanker interface {
	List(ctx context.Context, filter models.WorklistFilter) (*models.RankedWorklist, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFile is a rendered download.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
	Rows        int
}

// ExportService renders the ranked worklist as CSV or PDF.
type ExportService struct {
	worklist worklistRanker
	csv      csvRenderer
	pdf      pdfRenderer
	logger   *zap.Logger
	now      func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers get the defaults.
func NewExportService(worklist worklistRanker, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{worklist: worklist, csv: csv, pdf: pdf, logger: logger, now: time.Now}
}

// Worklist ranks with the given filter and renders the page in the requested format.
func (s *ExportService) Worklist(ctx context.Context, filter models.WorklistFilter, format string) (*ExportFile, error) {
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	ranked, err := s.worklist.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	dataset := worklistDataset(ranked)
	stamp := s.now().UTC().Format("20060102T150405Z")

	var (
		data        []byte
		contentType string
	)
	switch format {
	case FormatPDF:
		data, err = s.pdf.Render(dataset, "X-ray triage worklist "+stamp)
		contentType = "application/pdf"
	default:
		data, err = s.csv.Render(dataset)
		contentType = "text/csv; charset=utf-8"
	}
	if err != nil {
		s.logger.Error("worklist export render failed", zap.String("format", format), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	return &ExportFile{
		Filename:    fmt.Sprintf("worklist-%s.%s", stamp, format),
		ContentType: contentType,
		Data:        data,
		Rows:        len(dataset.Rows),
	}, nil
}

func worklistDataset(ranked *models.RankedWorklist) export.Dataset {
	rows := make([]map[string]string, 0, len(ranked.Cases))
	for i, c := range ranked.Cases {
		rows = append(rows, map[string]string{
			"Rank":           strconv.Itoa(ranked.FilterInfo.Offset + i + 1),
			"Case ID":        c.ID,
			"Image":          c.ImageIndex,
			"Patient":        c.PatientID,
			"Severity":       strconv.Itoa(c.SeverityLevel),
			"Severity Name":  c.SeverityName,
			"Disease":        c.Disease,
			"Probability":    strconv.FormatFloat(c.Probability, 'f', 3, 64),
			"Hours Waiting":  strconv.FormatFloat(c.WaitHours, 'f', 1, 64),
			"Priority Score": strconv.FormatFloat(c.PriorityScore, 'f', 2, 64),
			"Reviewed":       strconv.FormatBool(c.Reviewed),
			"Created At":     c.CreatedAt.Format(time.RFC3339),
		})
	}
	return export.Dataset{Headers: worklistHeaders, Rows: rows}
}
