// Package export writes new leads to spreadsheets for the dialer upload.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JustJay7/court-lead-harvester/internal/database"
	"github.com/JustJay7/court-lead-harvester/pkg/logger"
	"github.com/xuri/excelize/v2"
)

const sheetLeads = "Leads"

var headers = []string{
	"Case ID", "Court", "Status", "First Name", "Middle Name", "Last Name",
	"Year of Birth", "Address", "City", "State", "Zip", "Phones", "Filing Date", "Tag", "Source",
}

// LeadSource hands out leads that were never exported and flags them
type LeadSource interface {
	ExportLeads(ctx context.Context, write func([]database.Lead) error) (int, error)
}

type Exporter struct {
	leads  LeadSource
	dir    string
	logger *logger.Logger
	now    func() time.Time
}

func NewExporter(leads LeadSource, dir string, log *logger.Logger) *Exporter {
	return &Exporter{leads: leads, dir: dir, logger: log, now: time.Now}
}

// Export writes every lead not yet exported to a new workbook. Leads are
// flagged only if the workbook was saved. It returns an empty path when
// there was nothing to export.
func (e *Exporter) Export(ctx context.Context) (string, int, error) {
	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create export directory: %w", err)
	}
	path := filepath.Join(e.dir, fmt.Sprintf("leads_%s.xlsx", e.now().UTC().Format("20060102_150405")))

	written := ""
	count, err := e.leads.ExportLeads(ctx, func(leads []database.Lead) error {
		if err := writeWorkbook(path, leads); err != nil {
			os.Remove(path)
			return err
		}
		written = path
		return nil
	})
	if err != nil {
		return "", 0, err
	}
	if count > 0 {
		e.logger.Info("Leads exported", "count", count, "path", written)
	}
	return written, count, nil
}

func writeWorkbook(path string, leads []database.Lead) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetLeads); err != nil {
		return err
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetLeads, cell, h)
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	f.SetCellStyle(sheetLeads, "A1", "O1", headerStyle)
	f.SetColWidth(sheetLeads, "A", "O", 18)

	for i, l := range leads {
		row := []any{
			l.CaseID, l.CourtCode, l.Status, l.FirstName, l.MiddleName, l.LastName,
			yearOrBlank(l.YearOfBirth), l.AddressLine1, l.City, l.State, l.Zip,
			strings.Join(l.Phones, ", "), l.FilingDate.Format(time.DateOnly), l.Tag, l.Source,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheetLeads, cell, &row); err != nil {
			return fmt.Errorf("failed to write lead %s: %w", l.CaseID, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func yearOrBlank(year int) any {
	if year == 0 {
		return ""
	}
	return year
}
