package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/opengov-gr/diavgeia-harvester/internal/repository"
)

// Service produces an XLSX index of the published structured records, one row
// per decision, for dataset consumers who want a browsable manifest.
type Service struct {
	records repository.RecordRepository
	logger  *slog.Logger
}

func NewService(records repository.RecordRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{records: records, logger: logger}
}

// IndexXLSX returns an XLSX workbook (as bytes) listing every record.
func (s *Service) IndexXLSX(ctx context.Context) ([]byte, error) {
	start := time.Now()

	recs, err := s.records.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Decisions"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"ADA",
		"Protocol Number",
		"Issue Date",
		"Subject",
		"Organization",
		"Decision Type",
		"Amounts",
		"Tags",
		"Completeness",
		"Raw Document",
		"Extracted Text",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, r := range recs {
		var amounts []string
		for _, a := range r.FinancialAmounts {
			amounts = append(amounts, a.Amount+" "+a.Currency)
		}
		rawPath, textPath := "", ""
		if r.RawDocumentRef != nil {
			rawPath = r.RawDocumentRef.Path
		}
		if r.ExtractedTextRef != nil {
			textPath = r.ExtractedTextRef.Path
		}

		values := []any{
			r.ADA,
			deref(r.ProtocolNumber),
			deref(r.IssueDate),
			deref(r.Subject),
			deref(r.OrganizationID),
			deref(r.DecisionType),
			strings.Join(amounts, "; "),
			strings.Join(r.ClassificationTags, "; "),
			string(r.Completeness),
			rawPath,
			textPath,
		}
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		row++
	}

	// delete the default sheet if it isn't ours
	if sheet != "Sheet1" {
		_ = f.DeleteSheet("Sheet1")
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}

	s.logger.Info("export.ok", "records", len(recs), "duration_ms", time.Since(start).Milliseconds())
	return buf.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
