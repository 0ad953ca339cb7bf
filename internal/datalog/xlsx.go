package datalog

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/xuri/excelize/v2"
)

// ExportXLSX converts a sweep log to a workbook with one sheet. Numeric cells
// stay numeric; hold boundary rows keep their blank readings.
func ExportXLSX(csvPath, xlsxPath string) (int, error) {
	in, err := os.Open(csvPath)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", csvPath, err)
	}
	defer in.Close()

	r := csv.NewReader(in)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", csvPath, err)
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("%s is empty", csvPath)
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Sweep"
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return 0, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return 0, fmt.Errorf("delete default sheet: %w", err)
	}

	for i, rec := range records {
		row := make([]interface{}, len(rec))
		for j, field := range rec {
			row[j] = field
			if i == 0 || field == "" {
				continue
			}
			if v, err := strconv.ParseFloat(field, 64); err == nil {
				row[j] = v
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return 0, err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return 0, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return 0, err
	}
	if err := f.SetCellStyle(sheet, "A1", "C1", bold); err != nil {
		return 0, err
	}
	if err := f.SetColWidth(sheet, "A", "C", 14); err != nil {
		return 0, err
	}

	if err := f.SaveAs(xlsxPath); err != nil {
		return 0, fmt.Errorf("save %s: %w", xlsxPath, err)
	}
	return len(records) - 1, nil
}
