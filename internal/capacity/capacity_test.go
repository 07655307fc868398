package capacity

import (
	"math"
	"testing"

	"peakload/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func referenceParams() types.CapacityParameters {
	return types.CapacityParameters{
		NumWorkers:        18,
		EfficiencyPerHour: 80,
		PeakHours:         2,
		SKUEfficiency:     0.83,
		SafetyFactor:      1.1,
		PeakCoef:          1.5,
	}
}

func TestLimit(t *testing.T) {
	tests := []struct {
		name string
		p    types.CapacityParameters
		want int64
	}{
		// 18 × 80 × 2 × 0.83 × 1.1 = 2629.44
		{"reference", referenceParams(), 2629},
		{"exact product", types.CapacityParameters{NumWorkers: 10, EfficiencyPerHour: 100, PeakHours: 1, SKUEfficiency: 1, SafetyFactor: 1}, 1000},
		{"single worker", types.CapacityParameters{NumWorkers: 1, EfficiencyPerHour: 10, PeakHours: 3, SKUEfficiency: 0.5, SafetyFactor: 1.5}, 22},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Limit(tt.p); got != tt.want {
				t.Errorf("Limit() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestVehicleAndEquipmentUtilization(t *testing.T) {
	assert.InDelta(t, 0.5, VehicleUtilization(4500), 1e-12)
	assert.Equal(t, 1.0, VehicleUtilization(20000))
	assert.Equal(t, 0.0, VehicleUtilization(0))

	assert.InDelta(t, 0.5, EquipmentUtilization(5400), 1e-12)
	assert.Equal(t, 1.0, EquipmentUtilization(10801))
}

func TestLaborUtilization_IsUnclamped(t *testing.T) {
	p := referenceParams()
	// 18 × 8 × 80 × 0.83 = 9561.6
	assert.InDelta(t, 6100/9561.6, LaborUtilization(6100, p), 1e-12)
	assert.Greater(t, LaborUtilization(20000, p), 2.0)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(referenceParams()))

	tests := []struct {
		name      string
		mutate    func(*types.CapacityParameters)
		parameter string
		rule      string
	}{
		{"zero workers", func(p *types.CapacityParameters) { p.NumWorkers = 0 }, "num_workers", "gte=1"},
		{"zero efficiency", func(p *types.CapacityParameters) { p.EfficiencyPerHour = 0 }, "efficiency_per_hour", "gt=0"},
		{"infinite efficiency", func(p *types.CapacityParameters) { p.EfficiencyPerHour = math.Inf(1) }, "efficiency_per_hour", "finite"},
		{"NaN efficiency", func(p *types.CapacityParameters) { p.EfficiencyPerHour = math.NaN() }, "efficiency_per_hour", "finite"},
		{"limit overflows int64", func(p *types.CapacityParameters) {
			p.NumWorkers = 1 << 40
			p.EfficiencyPerHour = 1e9
		}, "efficiency_per_hour", "limit_overflow"},
		{"peak hours 4", func(p *types.CapacityParameters) { p.PeakHours = 4 }, "peak_hours", "oneof=1 2 3"},
		{"sku too low", func(p *types.CapacityParameters) { p.SKUEfficiency = 0.49 }, "sku_efficiency", "gte=0.5"},
		{"sku too high", func(p *types.CapacityParameters) { p.SKUEfficiency = 1.01 }, "sku_efficiency", "lte=1"},
		{"safety factor", func(p *types.CapacityParameters) { p.SafetyFactor = 1.6 }, "safety_factor", "lte=1.5"},
		{"peak coef", func(p *types.CapacityParameters) { p.PeakCoef = 0.9 }, "peak_coef", "gte=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := referenceParams()
			tt.mutate(&p)

			err := Validate(p)
			require.Error(t, err)
			require.True(t, types.IsInvalidConfigurationError(err))

			var appErr *types.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.parameter, appErr.Details["parameter"])
			assert.Equal(t, tt.rule, appErr.Details["rule"])
		})
	}
}

func TestValidateOptions(t *testing.T) {
	require.NoError(t, ValidateOptions(types.DefaultRunOptions()))

	opts := types.DefaultRunOptions()
	opts.Horizon = 0
	assert.True(t, types.IsInvalidConfigurationError(ValidateOptions(opts)))

	opts = types.DefaultRunOptions()
	opts.DuplicatePolicy = "keep_last"
	assert.True(t, types.IsInvalidConfigurationError(ValidateOptions(opts)))

	opts = types.DefaultRunOptions()
	opts.PeakShareDivisor = 0
	assert.True(t, types.IsInvalidConfigurationError(ValidateOptions(opts)))

	opts = types.DefaultRunOptions()
	opts.PeakShareDivisor = math.Inf(1)
	assert.True(t, types.IsInvalidConfigurationError(ValidateOptions(opts)))
}
