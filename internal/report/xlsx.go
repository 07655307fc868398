package report

import (
	"bytes"
	"fmt"
	"io"

	"peakload/internal/types"

	"github.com/xuri/excelize/v2"
)

// Sheet names and the attachment name of the spreadsheet export.
const (
	DetailSheet     = "forecast_detail"
	HistorySheet    = "history"
	XLSXFilename    = "forecast_detail.xlsx"
	XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var detailHeader = []any{
	"date",
	"predicted_volume",
	"peak_load",
	"capacity_limit",
	"strategy_triggered",
	"labor_utilization",
	"vehicle_utilization",
	"equipment_utilization",
	"recommended_extra_workers",
	"recommended_extra_hours",
	"batch_split_recommended",
	"recommended_shipping_window",
}

// WriteXLSX writes a workbook with the display rows on the detail sheet and
// the validated history on a second sheet.
func WriteXLSX(w io.Writer, result *types.AdvisoryResult) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), DetailSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(DetailSheet, "A1", &detailHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range Rows(result.Records) {
		values := []any{
			row.Date,
			row.PredictedVolume,
			row.PeakLoad,
			row.CapacityLimit,
			yesNo(row.StrategyTriggered),
			row.LaborUtilization,
			row.VehicleUtilization,
			row.EquipmentUtilization,
			row.RecommendedExtraWorkers,
			row.RecommendedExtraHours,
			yesNo(row.BatchSplitRecommended),
			string(row.RecommendedShippingWindow),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(DetailSheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if _, err := f.NewSheet(HistorySheet); err != nil {
		return fmt.Errorf("create history sheet: %w", err)
	}
	if err := f.SetSheetRow(HistorySheet, "A1", &[]any{"date", "outbound_volume"}); err != nil {
		return fmt.Errorf("write history header: %w", err)
	}
	for i, obs := range result.History {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(HistorySheet, cell, &[]any{obs.Date.Format(types.DateLayout), obs.Volume}); err != nil {
			return fmt.Errorf("write history row %d: %w", i+2, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// XLSXAttachment renders the export as a notification attachment.
func XLSXAttachment(result *types.AdvisoryResult) (types.Attachment, error) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, result); err != nil {
		return types.Attachment{}, err
	}
	return types.Attachment{
		Filename:    XLSXFilename,
		ContentType: XLSXContentType,
		Content:     buf.Bytes(),
	}, nil
}
