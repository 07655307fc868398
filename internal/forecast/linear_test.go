package forecast

import (
	"context"
	"testing"
	"time"

	"peakload/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// series builds a daily history starting at start with volume(i) per day.
func series(start time.Time, n int, volume func(i int, d time.Time) int64) types.Series {
	out := make(types.Series, n)
	for i := range out {
		d := start.AddDate(0, 0, i)
		out[i] = types.Observation{Date: d, Volume: volume(i, d)}
	}
	return out
}

func TestLinearForecaster_RequiresTwoObservations(t *testing.T) {
	f := NewLinearForecaster(nil)

	_, err := f.Fit(context.Background(), types.Series{{Date: day(2024, 1, 1), Volume: 10}}, nil)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCodeForecasterInsufficientData))
	assert.True(t, types.IsForecasterError(err))
}

func TestLinearForecaster_LinearTrend(t *testing.T) {
	f := NewLinearForecaster(nil)
	history := series(day(2024, 1, 1), 10, func(i int, _ time.Time) int64 { return 100 + 10*int64(i) })

	model, err := f.Fit(context.Background(), history, nil)
	require.NoError(t, err)
	assert.Equal(t, day(2024, 1, 10), model.LastDate())

	points, err := f.Predict(context.Background(), model, 3, nil)
	require.NoError(t, err)
	require.Len(t, points, 3)

	assert.Equal(t, day(2024, 1, 11), points[0].Date)
	assert.Equal(t, day(2024, 1, 13), points[2].Date)
	assert.Equal(t, int64(200), points[0].PredictedVolume)
	assert.Equal(t, int64(210), points[1].PredictedVolume)
	assert.Equal(t, int64(220), points[2].PredictedVolume)
}

func TestLinearForecaster_TwoPoints(t *testing.T) {
	f := NewLinearForecaster(nil)
	history := types.Series{
		{Date: day(2024, 5, 1), Volume: 1000},
		{Date: day(2024, 5, 2), Volume: 1100},
	}

	model, err := f.Fit(context.Background(), history, nil)
	require.NoError(t, err)

	points, err := f.Predict(context.Background(), model, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), points[0].PredictedVolume)
	assert.Equal(t, int64(1300), points[1].PredictedVolume)
}

func TestLinearForecaster_WeeklyPattern(t *testing.T) {
	f := NewLinearForecaster(nil)
	// Flat level with a Saturday spike over four weeks.
	history := series(day(2024, 6, 2), 28, func(_ int, d time.Time) int64 {
		if d.Weekday() == time.Saturday {
			return 1500
		}
		return 1000
	})

	model, err := f.Fit(context.Background(), history, nil)
	require.NoError(t, err)

	points, err := f.Predict(context.Background(), model, 7, nil)
	require.NoError(t, err)
	for _, p := range points {
		want := int64(1000)
		if p.Date.Weekday() == time.Saturday {
			want = 1500
		}
		assert.Equal(t, want, p.PredictedVolume, p.Date.Format(types.DateLayout))
	}
}

func TestLinearForecaster_SixDayWeek(t *testing.T) {
	f := NewLinearForecaster(nil)
	// Monday to Saturday warehouse over five weeks; Sundays are never worked.
	var history types.Series
	for d := day(2024, 6, 3); d.Before(day(2024, 7, 8)); d = d.AddDate(0, 0, 1) {
		switch d.Weekday() {
		case time.Sunday:
			continue
		case time.Saturday:
			history = append(history, types.Observation{Date: d, Volume: 1400})
		default:
			history = append(history, types.Observation{Date: d, Volume: 1000})
		}
	}
	require.Len(t, history, 30)

	model, err := f.Fit(context.Background(), history, nil)
	require.NoError(t, err)
	assert.Equal(t, day(2024, 7, 6), model.LastDate())

	points, err := f.Predict(context.Background(), model, 7, nil)
	require.NoError(t, err)
	require.Len(t, points, 7)
	assert.Equal(t, time.Sunday, points[0].Date.Weekday())
	for _, p := range points {
		want := int64(1000)
		if p.Date.Weekday() == time.Saturday {
			want = 1400
		}
		assert.Equal(t, want, p.PredictedVolume, p.Date.Format(types.DateLayout))
	}
}

func TestLinearForecaster_FiveDayWeek(t *testing.T) {
	f := NewLinearForecaster(nil)
	var history types.Series
	for d := day(2024, 6, 3); d.Before(day(2024, 7, 1)); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		history = append(history, types.Observation{Date: d, Volume: 800})
	}

	model, err := f.Fit(context.Background(), history, nil)
	require.NoError(t, err)

	points, err := f.Predict(context.Background(), model, 7, nil)
	require.NoError(t, err)
	for _, p := range points {
		assert.Equal(t, int64(800), p.PredictedVolume, p.Date.Format(types.DateLayout))
	}
}

func TestLinearForecaster_UsesRegressor(t *testing.T) {
	f := NewLinearForecaster(nil)
	peak := func(d time.Time) float64 {
		if d.Month() == time.March {
			return 1
		}
		return 0
	}
	// February at 1000, March at 1800.
	history := series(day(2024, 2, 20), 15, func(_ int, d time.Time) int64 {
		return 1000 + int64(800*peak(d))
	})
	history = history[:13] // ends 2024-03-03, spans 12 days: no weekday terms

	model, err := f.Fit(context.Background(), history, peak)
	require.NoError(t, err)
	coef := model.(*LinearModel).Coefficients()
	assert.InDelta(t, 800, coef["regressor"], 1e-6)

	points, err := f.Predict(context.Background(), model, 2, peak)
	require.NoError(t, err)
	assert.Equal(t, int64(1800), points[0].PredictedVolume)

	_, err = f.Predict(context.Background(), model, 2, nil)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCodeForecasterFitFailed))
}

func TestLinearForecaster_ConstantRegressorIsDropped(t *testing.T) {
	f := NewLinearForecaster(nil)
	history := series(day(2024, 3, 1), 5, func(i int, _ time.Time) int64 { return 500 })

	model, err := f.Fit(context.Background(), history, func(time.Time) float64 { return 1 })
	require.NoError(t, err)
	_, hasRegressor := model.(*LinearModel).Coefficients()["regressor"]
	assert.False(t, hasRegressor)

	points, err := f.Predict(context.Background(), model, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(500), points[0].PredictedVolume)
}

func TestLinearForecaster_ClampsNegativePredictions(t *testing.T) {
	f := NewLinearForecaster(nil)
	history := series(day(2024, 1, 1), 5, func(i int, _ time.Time) int64 { return 400 - 100*int64(i) })

	model, err := f.Fit(context.Background(), history, nil)
	require.NoError(t, err)

	points, err := f.Predict(context.Background(), model, 3, nil)
	require.NoError(t, err)
	for _, p := range points {
		assert.Equal(t, int64(0), p.PredictedVolume)
	}
}

func TestLinearForecaster_RejectsBadHorizon(t *testing.T) {
	f := NewLinearForecaster(nil)
	history := series(day(2024, 1, 1), 3, func(i int, _ time.Time) int64 { return 10 })

	model, err := f.Fit(context.Background(), history, nil)
	require.NoError(t, err)

	_, err = f.Predict(context.Background(), model, 0, nil)
	assert.True(t, types.IsInvalidConfigurationError(err))
}

func TestToVolume_RoundsHalfToEven(t *testing.T) {
	assert.Equal(t, int64(2), toVolume(2.5))
	assert.Equal(t, int64(4), toVolume(3.5))
	assert.Equal(t, int64(3), toVolume(3.4999))
	assert.Equal(t, int64(0), toVolume(-12))
}
