package httpapi

import (
	"bytes"
	"fmt"
	"strings"

	"landrec-import/internal/domain"

	"github.com/xuri/excelize/v2"
)

var validationReportHeader = []string{
	"Entity Type",
	"Original ID",
	"Status",
	"Errors",
	"Warnings",
	"Approved",
	"Production ID",
}

var commitReportHeader = []string{
	"Entity Type",
	"Committed",
	"Failed",
	"Skipped",
}

var commitFailureHeader = []string{
	"Entity Type",
	"Original ID",
	"Reason",
	"Skipped",
}

// GenerateValidationReportExcel renders the per-row validation report as an
// .xlsx download for review outside the system.
func GenerateValidationReportExcel(rows []*domain.StagingRow) ([]byte, error) {
	f := excelize.NewFile()
	// Don't defer Close() here, WriteTo needs the file open.

	sheet := "Validation Report"
	index, err := f.NewSheet(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	if err := writeHeaderRow(f, sheet, validationReportHeader,
		[]float64{22, 24, 12, 50, 50, 10, 38}); err != nil {
		f.Close()
		return nil, err
	}

	for i, row := range rows {
		values := []any{
			string(row.EntityType),
			row.OriginalID,
			string(row.Status),
			strings.Join(row.Errors, "; "),
			strings.Join(row.Warnings, "; "),
			row.Approved,
			row.ProductionID.String,
		}
		if err := writeDataRow(f, sheet, i+2, values); err != nil {
			f.Close()
			return nil, err
		}
	}

	return excelBytes(f)
}

// GenerateCommitReportExcel renders the commit outcome: per-type counts on
// one sheet, row-level failures on a second.
func GenerateCommitReportExcel(report *domain.CommitReport) ([]byte, error) {
	f := excelize.NewFile()

	sheet := "Commit Report"
	index, err := f.NewSheet(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	if err := writeHeaderRow(f, sheet, commitReportHeader,
		[]float64{24, 12, 12, 12}); err != nil {
		f.Close()
		return nil, err
	}
	for i, et := range domain.CommitOrder() {
		c := report.ByType[et]
		if c == nil {
			c = &domain.CommitCounts{}
		}
		values := []any{string(et), c.Committed, c.Failed, c.Skipped}
		if err := writeDataRow(f, sheet, i+2, values); err != nil {
			f.Close()
			return nil, err
		}
	}

	if len(report.RowFailures) > 0 {
		fsheet := "Row Failures"
		if _, err := f.NewSheet(fsheet); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create sheet: %w", err)
		}
		if err := writeHeaderRow(f, fsheet, commitFailureHeader,
			[]float64{24, 24, 60, 10}); err != nil {
			f.Close()
			return nil, err
		}
		for i, fail := range report.RowFailures {
			values := []any{string(fail.EntityType), fail.OriginalID, fail.Reason, fail.Skipped}
			if err := writeDataRow(f, fsheet, i+2, values); err != nil {
				f.Close()
				return nil, err
			}
		}
	}

	return excelBytes(f)
}

func writeHeaderRow(f *excelize.File, sheet string, headers []string, widths []float64) error {
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if col < len(widths) && widths[col] > 0 {
			if err := f.SetColWidth(sheet, name, name, widths[col]); err != nil {
				return fmt.Errorf("failed to set column width: %w", err)
			}
		}
	}
	return nil
}

func writeDataRow(f *excelize.File, sheet string, row int, values []any) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("failed to set cell %s: %w", cell, err)
		}
	}
	return nil
}

func excelBytes(f *excelize.File) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write excel: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close excel file: %w", err)
	}
	return buf.Bytes(), nil
}
