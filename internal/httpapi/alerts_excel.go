package httpapi

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/Sarang2401/Precursor-Main/internal/models"

	"github.com/xuri/excelize/v2"
)

const alertSheetName = "Alerts"

// AlertExportHeader 导出表头
var AlertExportHeader = []string{
	"Alert ID",
	"Created At",
	"Device",
	"Reading Time",
	"Latitude",
	"Longitude",
	"Temperature",
	"Humidity",
	"Weight",
	"Rule Hits",
	"Outlier",
	"Outlier Score",
	"Reconstruction Error",
	"Reconstruction Norm",
	"Ensemble Score",
	"Risk",
	"Categories",
	"Degraded",
}

var alertColumnWidths = []float64{38, 22, 18, 22, 12, 12, 12, 12, 10, 50, 10, 14, 20, 20, 15, 10, 40, 10}

// GenerateAlertExport 生成报警导出 Excel（最新在前，与日志顺序一致）
func GenerateAlertExport(alerts []models.Alert) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(alertSheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range AlertExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(alertSheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(alertSheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}

		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(alertSheetName, name, name, alertColumnWidths[col]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, a := range alerts {
		row := i + 2
		if err := f.SetSheetRow(alertSheetName, fmt.Sprintf("A%d", row), alertRow(a)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write alert row %d: %w", row, err)
		}
	}

	// 冻结表头
	if err := f.SetPanes(alertSheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return buf.Bytes(), nil
}

func alertRow(a models.Alert) *[]interface{} {
	row := []interface{}{
		a.AlertID,
		a.CreatedAt.UTC().Format(time.RFC3339),
		a.DeviceID,
		time.Unix(0, int64(a.Timestamp*float64(time.Second))).UTC().Format(time.RFC3339),
		optional(a.Latitude),
		optional(a.Longitude),
		optional(a.Temperature),
		optional(a.Humidity),
		optional(a.Weight),
		formatRuleHits(a.RuleHits),
		yesNo(a.OutlierFlag),
		a.OutlierScore,
		a.ReconstructionError,
		a.ReconstructionNorm,
		a.EnsembleScore,
		string(a.RiskTier),
		joinCategories(a.Categories),
		yesNo(a.Degraded),
	}
	return &row
}

func optional(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func formatRuleHits(hits []models.RuleHit) string {
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		s := string(h.Kind) + "/" + h.Detail
		if h.Value != nil {
			s += fmt.Sprintf("=%.2f", *h.Value)
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "; ")
}

func joinCategories(cats []models.Category) string {
	parts := make([]string, len(cats))
	for i, c := range cats {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}
