package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"bizpulse/insight-engine/internal/kpi"
)

// ExcelExporter renders a KPI's value history as an xlsx workbook.
type ExcelExporter struct {
	sheetName string
}

// NewExcelExporter creates an exporter writing to the given sheet name.
// An empty name defaults to "KPI History".
func NewExcelExporter(sheetName string) *ExcelExporter {
	if sheetName == "" {
		sheetName = "KPI History"
	}
	return &ExcelExporter{sheetName: sheetName}
}

var historyHeader = []string{
	"Calculated At", "Value", "Previous Value", "Change", "Change %",
	"Target", "Achievement %", "Trend", "Status", "Period",
}

// ExportHistory writes one sheet with a header row and one row per value.
func (e *ExcelExporter) ExportHistory(def *kpi.Definition, values []kpi.Value) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", e.sheetName)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"4472C4"}},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for col, title := range historyHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(e.sheetName, cell, title); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	endCell, _ := excelize.CoordinatesToCellName(len(historyHeader), 1)
	if err := f.SetCellStyle(e.sheetName, "A1", endCell, headerStyle); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	for i, v := range values {
		row := i + 2
		cells := []any{
			v.CalculatedAt.Format("2006-01-02 15:04:05"),
			v.Value,
			floatOrEmpty(v.PreviousValue),
			v.Change,
			v.ChangePercent,
			floatOrEmpty(v.Target),
			floatOrEmpty(v.TargetAchievement),
			string(v.Trend),
			string(v.Status),
			v.Period,
		}
		for col, value := range cells {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(e.sheetName, cell, value); err != nil {
				return nil, fmt.Errorf("write row %d: %w", row, err)
			}
		}
	}

	if err := f.SetColWidth(e.sheetName, "A", "A", 20); err != nil {
		return nil, err
	}

	// KPI name and unit on a second, metadata sheet
	meta := "Definition"
	if _, err := f.NewSheet(meta); err != nil {
		return nil, err
	}
	f.SetCellValue(meta, "A1", "Name")
	f.SetCellValue(meta, "B1", def.Name)
	f.SetCellValue(meta, "A2", "Category")
	f.SetCellValue(meta, "B2", string(def.Category))
	f.SetCellValue(meta, "A3", "Unit")
	f.SetCellValue(meta, "B3", def.Unit)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func floatOrEmpty(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}
