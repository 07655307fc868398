// Package forecast turns a validated volume history into daily predictions.
package forecast

import (
	"context"
	"math"
	"time"

	"peakload/internal/types"
)

// Regressor supplies an extra explanatory value per day, e.g. the peak-season
// flag. The same Regressor value must be passed to Fit and Predict.
type Regressor func(time.Time) float64

// Model is a fitted forecaster state.
type Model interface {
	LastDate() time.Time
}

// Forecaster fits a model on history and predicts the days that follow it.
type Forecaster interface {
	Fit(ctx context.Context, history types.Series, reg Regressor) (Model, error)
	Predict(ctx context.Context, m Model, horizon int, reg Regressor) ([]types.ForecastPoint, error)
}

// minObservations is the smallest history any forecaster accepts.
const minObservations = 2

// futureDates returns the horizon days following last.
func futureDates(last time.Time, horizon int) []time.Time {
	out := make([]time.Time, horizon)
	for i := range out {
		out[i] = last.AddDate(0, 0, i+1)
	}
	return out
}

// toVolume converts a raw model output into a predicted volume. Negative
// values are clamped to zero and the result is rounded half to even.
func toVolume(v float64) int64 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	return int64(math.RoundToEven(v))
}

func checkFitInput(history types.Series) error {
	if len(history) < minObservations {
		return types.NewForecasterError(
			types.ErrCodeForecasterInsufficientData,
			"at least 2 observations are required to fit a forecast",
			nil,
		).WithDetails(map[string]any{"observations": len(history)})
	}
	return nil
}

func checkHorizon(horizon int) error {
	if horizon < 1 {
		return types.NewInvalidConfigurationError("horizon_days", horizon, "gte=1")
	}
	return nil
}
