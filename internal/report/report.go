// Package report renders advisory results for people: display rows, the
// plain-text summary, per-day advice, the trend chart and the spreadsheet
// export.
// Rounding to two decimals happens here and nowhere upstream.
package report

import (
	"fmt"
	"strings"

	"peakload/internal/types"

	"github.com/shopspring/decimal"
)

// Row is an AdvisoryRecord prepared for display.
type Row struct {
	Date                      string               `json:"date"`
	PredictedVolume           int64                `json:"predicted_volume"`
	PeakLoad                  int64                `json:"peak_load"`
	CapacityLimit             int64                `json:"capacity_limit"`
	StrategyTriggered         bool                 `json:"strategy_triggered"`
	LaborUtilization          float64              `json:"labor_utilization"`
	VehicleUtilization        float64              `json:"vehicle_utilization"`
	EquipmentUtilization      float64              `json:"equipment_utilization"`
	RecommendedExtraWorkers   int64                `json:"recommended_extra_workers"`
	RecommendedExtraHours     float64              `json:"recommended_extra_hours"`
	BatchSplitRecommended     bool                 `json:"batch_split_recommended"`
	RecommendedShippingWindow types.ShippingWindow `json:"recommended_shipping_window"`
}

// round2 rounds half to even at two decimals.
func round2(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).RoundBank(2)
}

// Rows converts records into display rows.
func Rows(records []types.AdvisoryRecord) []Row {
	rows := make([]Row, len(records))
	for i, rec := range records {
		rows[i] = Row{
			Date:                      rec.Date.Format(types.DateLayout),
			PredictedVolume:           rec.PredictedVolume,
			PeakLoad:                  rec.PeakLoad,
			CapacityLimit:             rec.CapacityLimit,
			StrategyTriggered:         rec.StrategyTriggered,
			LaborUtilization:          round2(rec.LaborUtilization).InexactFloat64(),
			VehicleUtilization:        round2(rec.VehicleUtilization).InexactFloat64(),
			EquipmentUtilization:      round2(rec.EquipmentUtilization).InexactFloat64(),
			RecommendedExtraWorkers:   rec.RecommendedExtraWorkers,
			RecommendedExtraHours:     round2(rec.RecommendedExtraHours).InexactFloat64(),
			BatchSplitRecommended:     rec.BatchSplitRecommended,
			RecommendedShippingWindow: rec.RecommendedShippingWindow,
		}
	}
	return rows
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// SummaryLine renders one record in the fixed summary format.
func SummaryLine(rec types.AdvisoryRecord) string {
	return fmt.Sprintf("%s：forecast=%d, load=%d, strategy_triggered=%s, extra_workers=%d, extra_hours=%s, recommendation=%s",
		rec.Date.Format(types.DateLayout),
		rec.PredictedVolume,
		rec.PeakLoad,
		yesNo(rec.StrategyTriggered),
		rec.RecommendedExtraWorkers,
		round2(rec.RecommendedExtraHours).String(),
		rec.RecommendedShippingWindow,
	)
}

// Summary renders one line per record, in record order, joined by newlines.
// The output depends only on the records.
func Summary(records []types.AdvisoryRecord) string {
	lines := make([]string, len(records))
	for i, rec := range records {
		lines[i] = SummaryLine(rec)
	}
	return strings.Join(lines, "\n")
}

// Advice is a per-day recommendation for an operator.
type Advice struct {
	Date    string `json:"date"`
	Warning bool   `json:"warning"`
	Message string `json:"message"`
}

// Advise renders a human-readable recommendation per day: a warning with the
// remediation when the strategy is triggered, otherwise a note that the day
// is under control.
func Advise(records []types.AdvisoryRecord) []Advice {
	out := make([]Advice, len(records))
	for i, rec := range records {
		day := rec.Date.Format(types.DateLayout)
		if !rec.StrategyTriggered {
			out[i] = Advice{
				Date:    day,
				Message: fmt.Sprintf("%s: peak load %d within capacity %d, under control", day, rec.PeakLoad, rec.CapacityLimit),
			}
			continue
		}
		out[i] = Advice{
			Date:    day,
			Warning: true,
			Message: fmt.Sprintf("%s: peak load %d exceeds capacity %d; add %d worker(s) or extend operations by %s hour(s); batch split: %s; ship during %s",
				day, rec.PeakLoad, rec.CapacityLimit,
				rec.RecommendedExtraWorkers,
				round2(rec.RecommendedExtraHours).String(),
				yesNo(rec.BatchSplitRecommended),
				windowLabel(rec.RecommendedShippingWindow),
			),
		}
	}
	return out
}

func windowLabel(w types.ShippingWindow) string {
	switch w {
	case types.WindowOffPeak:
		return "off-peak hours"
	case types.WindowExtendedHours:
		return "extended hours"
	default:
		return "normal hours"
	}
}

// ChartPoint is one (date, value) sample of a chart series.
type ChartPoint struct {
	Date  string `json:"date"`
	Value int64  `json:"value"`
}

// ChartData holds the four line series of the trend chart.
type ChartData struct {
	Historical    []ChartPoint `json:"historical"`
	Predicted     []ChartPoint `json:"predicted"`
	PeakLoad      []ChartPoint `json:"peak_load"`
	CapacityLimit int64        `json:"capacity_limit"`
}

// Chart extracts the chart series from a result.
func Chart(result *types.AdvisoryResult) ChartData {
	c := ChartData{
		Historical:    make([]ChartPoint, len(result.History)),
		Predicted:     make([]ChartPoint, len(result.Records)),
		PeakLoad:      make([]ChartPoint, len(result.Records)),
		CapacityLimit: result.CapacityLimit,
	}
	for i, obs := range result.History {
		c.Historical[i] = ChartPoint{Date: obs.Date.Format(types.DateLayout), Value: obs.Volume}
	}
	for i, rec := range result.Records {
		day := rec.Date.Format(types.DateLayout)
		c.Predicted[i] = ChartPoint{Date: day, Value: rec.PredictedVolume}
		c.PeakLoad[i] = ChartPoint{Date: day, Value: rec.PeakLoad}
	}
	return c
}
