// Package advisory turns forecast points into per-day staffing advisories.
package advisory

import (
	"log/slog"
	"math"
	"slices"

	"peakload/internal/capacity"
	"peakload/internal/types"
)

// Engine evaluates forecast points against the capacity limit.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// PeakLoad is the share of a day's volume that lands in the peak window:
// predicted × peak coefficient / peak share divisor, rounded half to even.
func PeakLoad(predicted int64, p types.CapacityParameters, opts types.RunOptions) int64 {
	return int64(math.RoundToEven(float64(predicted) * p.PeakCoef / opts.PeakShareDivisor))
}

// round2 rounds to two decimals, half to even.
func round2(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}

// Evaluate validates p and opts, then produces one record per point ordered by
// date. It returns the records and the capacity limit they were measured
// against. No record is produced when validation fails.
func (e *Engine) Evaluate(points []types.ForecastPoint, p types.CapacityParameters, opts types.RunOptions) ([]types.AdvisoryRecord, int64, error) {
	if err := capacity.Validate(p); err != nil {
		return nil, 0, err
	}
	if err := capacity.ValidateOptions(opts); err != nil {
		return nil, 0, err
	}

	limit := capacity.Limit(p)

	sorted := slices.Clone(points)
	slices.SortStableFunc(sorted, func(a, b types.ForecastPoint) int {
		return a.Date.Compare(b.Date)
	})

	records := make([]types.AdvisoryRecord, 0, len(sorted))
	for _, pt := range sorted {
		rec := e.evaluatePoint(pt, limit, p, opts)
		Utilization(&rec, p)
		records = append(records, rec)
	}

	e.logger.Debug("advisory evaluated",
		"days", len(records),
		"capacity_limit", limit,
	)
	return records, limit, nil
}

func (e *Engine) evaluatePoint(pt types.ForecastPoint, limit int64, p types.CapacityParameters, opts types.RunOptions) types.AdvisoryRecord {
	rec := types.AdvisoryRecord{
		Date:                      pt.Date,
		PredictedVolume:           pt.PredictedVolume,
		PeakLoad:                  PeakLoad(pt.PredictedVolume, p, opts),
		CapacityLimit:             limit,
		RecommendedShippingWindow: types.WindowNormal,
	}
	rec.StrategyTriggered = rec.PeakLoad > limit
	if !rec.StrategyTriggered {
		return rec
	}

	diff := float64(rec.PeakLoad - limit)
	rec.RecommendedExtraWorkers = int64(math.Floor(diff/(p.EfficiencyPerHour*p.SKUEfficiency*float64(p.PeakHours)))) + 1
	rec.RecommendedExtraHours = round2(diff / (float64(p.NumWorkers) * p.EfficiencyPerHour * p.SKUEfficiency))
	rec.BatchSplitRecommended = float64(rec.RecommendedExtraWorkers) > opts.BatchSplitRatio*float64(p.NumWorkers)
	if rec.BatchSplitRecommended {
		rec.RecommendedShippingWindow = types.WindowOffPeak
	} else {
		rec.RecommendedShippingWindow = types.WindowExtendedHours
	}
	return rec
}

// Utilization attaches the labor, vehicle and equipment utilization of the
// record's predicted volume.
func Utilization(rec *types.AdvisoryRecord, p types.CapacityParameters) {
	rec.LaborUtilization = capacity.LaborUtilization(rec.PredictedVolume, p)
	rec.VehicleUtilization = capacity.VehicleUtilization(rec.PredictedVolume)
	rec.EquipmentUtilization = capacity.EquipmentUtilization(rec.PredictedVolume)
}
