package forecast

import (
	"context"
	"fmt"
	"time"

	"peakload/internal/external"
	"peakload/internal/types"
)

// ForecastService is the subset of the forecasting service client used by
// RemoteForecaster.
type ForecastService interface {
	Forecast(ctx context.Context, req external.ForecastRequest) (*external.ForecastResponse, error)
}

// RemoteModel captures a fit request. The service fits and predicts in one
// call, so fitting is deferred until Predict.
type RemoteModel struct {
	history      []external.ForecastHistoryPoint
	last         time.Time
	hasRegressor bool
}

// LastDate returns the last historical date of the captured history.
func (m *RemoteModel) LastDate() time.Time { return m.last }

// RemoteForecaster delegates forecasting to an external service.
type RemoteForecaster struct {
	service ForecastService
}

// NewRemoteForecaster creates a RemoteForecaster.
func NewRemoteForecaster(service ForecastService) *RemoteForecaster {
	return &RemoteForecaster{service: service}
}

func regressorValue(reg Regressor, day time.Time) *float64 {
	if reg == nil {
		return nil
	}
	v := reg(day)
	return &v
}

// Fit validates the history and captures it for the remote call.
func (f *RemoteForecaster) Fit(_ context.Context, history types.Series, reg Regressor) (Model, error) {
	if err := checkFitInput(history); err != nil {
		return nil, err
	}
	points := make([]external.ForecastHistoryPoint, len(history))
	for i, obs := range history {
		points[i] = external.ForecastHistoryPoint{
			DS:        obs.Date.Format(types.DateLayout),
			Y:         float64(obs.Volume),
			Regressor: regressorValue(reg, obs.Date),
		}
	}
	return &RemoteModel{history: points, last: history.LastDate(), hasRegressor: reg != nil}, nil
}

// Predict calls the forecasting service and maps its answer onto the horizon
// days. A missing or unparseable day in the response is an error.
func (f *RemoteForecaster) Predict(ctx context.Context, m Model, horizon int, reg Regressor) ([]types.ForecastPoint, error) {
	if err := checkHorizon(horizon); err != nil {
		return nil, err
	}
	model, ok := m.(*RemoteModel)
	if !ok {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("remote forecaster cannot predict from %T", m), nil)
	}
	if model.hasRegressor && reg == nil {
		return nil, types.NewForecasterError(types.ErrCodeForecasterFitFailed,
			"model was fitted with a regressor but none was supplied for prediction", nil)
	}

	days := futureDates(model.last, horizon)
	future := make([]external.ForecastFuturePoint, len(days))
	for i, day := range days {
		future[i] = external.ForecastFuturePoint{DS: day.Format(types.DateLayout)}
		if model.hasRegressor {
			future[i].Regressor = regressorValue(reg, day)
		}
	}

	resp, err := f.service.Forecast(ctx, external.ForecastRequest{
		History: model.history,
		Horizon: horizon,
		Future:  future,
	})
	if err != nil {
		return nil, types.NewForecasterError(types.ErrCodeUpstreamForecaster, "forecast service unavailable", err)
	}

	byDay := make(map[string]float64, len(resp.Forecast))
	for _, v := range resp.Forecast {
		day, err := time.Parse(types.DateLayout, v.DS[:min(len(v.DS), len(types.DateLayout))])
		if err != nil {
			return nil, types.NewForecasterError(types.ErrCodeUpstreamForecaster,
				fmt.Sprintf("forecast service returned invalid date %q", v.DS), err)
		}
		byDay[day.Format(types.DateLayout)] = v.YHat
	}

	points := make([]types.ForecastPoint, 0, horizon)
	for _, day := range days {
		yhat, ok := byDay[day.Format(types.DateLayout)]
		if !ok {
			return nil, types.NewForecasterError(types.ErrCodeUpstreamForecaster,
				fmt.Sprintf("forecast service returned no prediction for %s", day.Format(types.DateLayout)), nil)
		}
		points = append(points, types.ForecastPoint{Date: day, PredictedVolume: toVolume(yhat)})
	}
	return points, nil
}
