package advisory

import (
	"testing"
	"time"

	"peakload/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func scenarioParams() types.CapacityParameters {
	return types.CapacityParameters{
		NumWorkers:        18,
		EfficiencyPerHour: 80,
		PeakHours:         2,
		SKUEfficiency:     0.83,
		SafetyFactor:      1.1,
		PeakCoef:          1.82,
	}
}

func TestEvaluate_TriggeredScenario(t *testing.T) {
	e := NewEngine(nil)

	records, limit, err := e.Evaluate(
		[]types.ForecastPoint{{Date: day(11), PredictedVolume: 5000}},
		scenarioParams(),
		types.DefaultRunOptions(),
	)
	require.NoError(t, err)
	require.Len(t, records, 1)

	// 18 × 80 × 2 × 0.83 × 1.1 = 2629.44
	assert.Equal(t, int64(2629), limit)

	rec := records[0]
	assert.Equal(t, int64(3033), rec.PeakLoad) // 5000 × 1.82 / 3 = 3033.33
	assert.Equal(t, int64(2629), rec.CapacityLimit)
	assert.True(t, rec.StrategyTriggered)
	// diff = 404; floor(404 / 132.8) + 1
	assert.Equal(t, int64(4), rec.RecommendedExtraWorkers)
	// 404 / (18 × 80 × 0.83) = 0.338
	assert.Equal(t, 0.34, rec.RecommendedExtraHours)
	// 4 ≤ 0.3 × 18
	assert.False(t, rec.BatchSplitRecommended)
	assert.Equal(t, types.WindowExtendedHours, rec.RecommendedShippingWindow)
}

func TestEvaluate_NotTriggered(t *testing.T) {
	e := NewEngine(nil)

	records, _, err := e.Evaluate(
		[]types.ForecastPoint{{Date: day(11), PredictedVolume: 4000}}, // load 2427
		scenarioParams(),
		types.DefaultRunOptions(),
	)
	require.NoError(t, err)

	rec := records[0]
	assert.False(t, rec.StrategyTriggered)
	assert.Zero(t, rec.RecommendedExtraWorkers)
	assert.Zero(t, rec.RecommendedExtraHours)
	assert.False(t, rec.BatchSplitRecommended)
	assert.Equal(t, types.WindowNormal, rec.RecommendedShippingWindow)
}

func TestEvaluate_LoadEqualToLimitDoesNotTrigger(t *testing.T) {
	p := types.CapacityParameters{NumWorkers: 10, EfficiencyPerHour: 100, PeakHours: 1, SKUEfficiency: 1, SafetyFactor: 1, PeakCoef: 1}
	// limit 1000; 3000 × 1 / 3 = 1000
	records, limit, err := NewEngine(nil).Evaluate(
		[]types.ForecastPoint{{Date: day(1), PredictedVolume: 3000}, {Date: day(2), PredictedVolume: 3003}},
		p, types.DefaultRunOptions(),
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), limit)
	assert.False(t, records[0].StrategyTriggered)

	// 1001 > 1000: diff 1 still recommends one worker.
	assert.True(t, records[1].StrategyTriggered)
	assert.Equal(t, int64(1), records[1].RecommendedExtraWorkers)
	assert.Equal(t, 0.0, records[1].RecommendedExtraHours)
}

func TestEvaluate_EvenDivisionStillAddsHeadroomWorker(t *testing.T) {
	p := types.CapacityParameters{NumWorkers: 10, EfficiencyPerHour: 100, PeakHours: 1, SKUEfficiency: 1, SafetyFactor: 1, PeakCoef: 1}
	// load 1200, diff 200 = 2 × (100 × 1 × 1) → floor(2) + 1
	records, _, err := NewEngine(nil).Evaluate(
		[]types.ForecastPoint{{Date: day(1), PredictedVolume: 3600}},
		p, types.DefaultRunOptions(),
	)
	require.NoError(t, err)
	assert.Equal(t, int64(3), records[0].RecommendedExtraWorkers)
	assert.Equal(t, 0.2, records[0].RecommendedExtraHours)
}

func TestEvaluate_BatchSplitSwitchesToOffPeak(t *testing.T) {
	p := types.CapacityParameters{NumWorkers: 10, EfficiencyPerHour: 100, PeakHours: 1, SKUEfficiency: 1, SafetyFactor: 1, PeakCoef: 1}

	tests := []struct {
		name      string
		predicted int64
		workers   int64
		split     bool
		window    types.ShippingWindow
	}{
		// diff 250 → 3 workers, 3 > 3.0 is false
		{"at ratio", 3750, 3, false, types.WindowExtendedHours},
		// diff 300 → 4 workers, 4 > 3.0
		{"above ratio", 3900, 4, true, types.WindowOffPeak},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, _, err := NewEngine(nil).Evaluate(
				[]types.ForecastPoint{{Date: day(1), PredictedVolume: tt.predicted}},
				p, types.DefaultRunOptions(),
			)
			require.NoError(t, err)
			assert.Equal(t, tt.workers, records[0].RecommendedExtraWorkers)
			assert.Equal(t, tt.split, records[0].BatchSplitRecommended)
			assert.Equal(t, tt.window, records[0].RecommendedShippingWindow)
		})
	}
}

func TestEvaluate_ConfigurableDivisorAndRatio(t *testing.T) {
	p := types.CapacityParameters{NumWorkers: 10, EfficiencyPerHour: 100, PeakHours: 1, SKUEfficiency: 1, SafetyFactor: 1, PeakCoef: 1}
	opts := types.DefaultRunOptions()
	opts.PeakShareDivisor = 2
	opts.BatchSplitRatio = 0.5

	records, _, err := NewEngine(nil).Evaluate(
		[]types.ForecastPoint{{Date: day(1), PredictedVolume: 2900}},
		p, opts,
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1450), records[0].PeakLoad)
	// diff 450 → 5 workers, 5 > 5.0 is false
	assert.Equal(t, int64(5), records[0].RecommendedExtraWorkers)
	assert.False(t, records[0].BatchSplitRecommended)
}

func TestEvaluate_OrdersByDateAndAttachesUtilization(t *testing.T) {
	records, _, err := NewEngine(nil).Evaluate(
		[]types.ForecastPoint{
			{Date: day(13), PredictedVolume: 9000},
			{Date: day(11), PredictedVolume: 4500},
			{Date: day(12), PredictedVolume: 0},
		},
		scenarioParams(), types.DefaultRunOptions(),
	)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, day(11), records[0].Date)
	assert.Equal(t, day(12), records[1].Date)
	assert.Equal(t, day(13), records[2].Date)

	assert.InDelta(t, 0.5, records[0].VehicleUtilization, 1e-12)
	assert.InDelta(t, 4500.0/10800, records[0].EquipmentUtilization, 1e-12)
	assert.InDelta(t, 4500/(18*8*80*0.83), records[0].LaborUtilization, 1e-12)
	assert.Equal(t, 1.0, records[2].VehicleUtilization)
	assert.Zero(t, records[1].PeakLoad)
	assert.False(t, records[1].StrategyTriggered)
}

func TestEvaluate_InvalidParametersFailFast(t *testing.T) {
	p := scenarioParams()
	p.NumWorkers = 0

	records, limit, err := NewEngine(nil).Evaluate(
		[]types.ForecastPoint{{Date: day(1), PredictedVolume: 5000}},
		p, types.DefaultRunOptions(),
	)
	require.Error(t, err)
	assert.True(t, types.IsInvalidConfigurationError(err))
	assert.Nil(t, records)
	assert.Zero(t, limit)
}

func TestEvaluate_Monotonic(t *testing.T) {
	e := NewEngine(nil)
	p := scenarioParams()

	var prev types.AdvisoryRecord
	for v := int64(0); v <= 20000; v += 37 {
		records, _, err := e.Evaluate([]types.ForecastPoint{{Date: day(1), PredictedVolume: v}}, p, types.DefaultRunOptions())
		require.NoError(t, err)
		rec := records[0]
		if v > 0 {
			assert.GreaterOrEqual(t, rec.PeakLoad, prev.PeakLoad)
			assert.GreaterOrEqual(t, rec.RecommendedExtraWorkers, prev.RecommendedExtraWorkers)
			assert.GreaterOrEqual(t, rec.RecommendedExtraHours, prev.RecommendedExtraHours)
		}
		prev = rec
	}
}

func TestPeakLoad_RoundsHalfToEven(t *testing.T) {
	p := types.CapacityParameters{PeakCoef: 1}
	opts := types.RunOptions{PeakShareDivisor: 2}

	assert.Equal(t, int64(2), PeakLoad(5, p, opts))  // 2.5
	assert.Equal(t, int64(4), PeakLoad(7, p, opts))  // 3.5
	assert.Equal(t, int64(6), PeakLoad(11, p, opts)) // 5.5
}
