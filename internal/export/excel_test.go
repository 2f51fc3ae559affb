package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/xuri/excelize/v2"

	"bizpulse/insight-engine/internal/kpi"
)

func TestExportHistory(t *testing.T) {
	exporter := NewExcelExporter("")

	prev := 80000.0
	def := &kpi.Definition{Name: "Monthly Revenue", Category: kpi.CategoryFinancial, Unit: "USD"}
	values := []kpi.Value{
		{
			Value:         95000,
			PreviousValue: &prev,
			Change:        15000,
			ChangePercent: 18.75,
			Trend:         kpi.TrendVolatile,
			Status:        kpi.ValueGood,
			Period:        "month",
			CalculatedAt:  time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	data, err := exporter.ExportHistory(def, values)
	assert.NoError(t, err)
	assert.NotEmpty(t, data)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	assert.NoError(t, err)
	defer f.Close()

	header, err := f.GetCellValue("KPI History", "A1")
	assert.NoError(t, err)
	assert.Equal(t, "Calculated At", header)

	value, err := f.GetCellValue("KPI History", "B2")
	assert.NoError(t, err)
	assert.Equal(t, "95000", value)

	name, err := f.GetCellValue("Definition", "B1")
	assert.NoError(t, err)
	assert.Equal(t, "Monthly Revenue", name)
}

func TestExportHistoryEmptySeries(t *testing.T) {
	exporter := NewExcelExporter("History")
	data, err := exporter.ExportHistory(&kpi.Definition{Name: "Churn"}, nil)
	assert.NoError(t, err)
	assert.NotEmpty(t, data)
}
