package forecast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"peakload/internal/types"

	"gonum.org/v1/gonum/mat"
)

// weeklyMinSpanDays is the history span from which day-of-week effects are
// estimated.
const weeklyMinSpanDays = 14

const varianceEpsilon = 1e-12

type featureKind int

const (
	featureIntercept featureKind = iota
	featureTrend
	featureWeekday
	featureRegressor
)

type feature struct {
	kind    featureKind
	weekday time.Weekday
}

func (f feature) String() string {
	switch f.kind {
	case featureIntercept:
		return "intercept"
	case featureTrend:
		return "trend"
	case featureWeekday:
		return "weekday_" + f.weekday.String()
	default:
		return "regressor"
	}
}

// LinearModel is the fitted state of LinearForecaster.
type LinearModel struct {
	origin   time.Time
	last     time.Time
	features []feature
	coef     []float64
}

// LastDate returns the last historical date the model was fitted on.
func (m *LinearModel) LastDate() time.Time { return m.last }

// Coefficients returns the fitted coefficients keyed by feature name.
func (m *LinearModel) Coefficients() map[string]float64 {
	out := make(map[string]float64, len(m.features))
	for i, f := range m.features {
		out[f.String()] = m.coef[i]
	}
	return out
}

func (m *LinearModel) usesRegressor() bool {
	for _, f := range m.features {
		if f.kind == featureRegressor {
			return true
		}
	}
	return false
}

// LinearForecaster fits an additive least-squares model: intercept, linear
// trend, day-of-week effects once the history spans two weeks, and the
// optional regressor. A weekday that never occurs in the history is predicted
// at the baseline level.
type LinearForecaster struct {
	logger *slog.Logger
}

// NewLinearForecaster creates a LinearForecaster.
func NewLinearForecaster(logger *slog.Logger) *LinearForecaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &LinearForecaster{logger: logger}
}

func value(f feature, origin, day time.Time, reg Regressor) float64 {
	switch f.kind {
	case featureIntercept:
		return 1
	case featureTrend:
		return day.Sub(origin).Hours() / 24
	case featureWeekday:
		if day.Weekday() == f.weekday {
			return 1
		}
		return 0
	default:
		return reg(day)
	}
}

// candidateFeatures lists the features considered for a history, before
// zero-variance columns are dropped.
func candidateFeatures(history types.Series, reg Regressor) []feature {
	features := []feature{{kind: featureIntercept}, {kind: featureTrend}}

	span := history.LastDate().Sub(history[0].Date).Hours() / 24
	if span >= weeklyMinSpanDays {
		var present [7]bool
		for _, obs := range history {
			present[obs.Date.Weekday()] = true
		}
		// The first weekday present is the baseline level, so the dummies
		// never sum to the intercept on a six- or five-day calendar.
		baseline := true
		for wd := time.Sunday; wd <= time.Saturday; wd++ {
			if !present[wd] {
				continue
			}
			if baseline {
				baseline = false
				continue
			}
			features = append(features, feature{kind: featureWeekday, weekday: wd})
		}
	}
	if reg != nil {
		features = append(features, feature{kind: featureRegressor})
	}
	return features
}

// informative drops non-intercept columns that are constant over the history.
func informative(features []feature, history types.Series, reg Regressor) []feature {
	origin := history[0].Date
	kept := features[:0:0]
	for _, f := range features {
		if f.kind == featureIntercept {
			kept = append(kept, f)
			continue
		}
		first := value(f, origin, history[0].Date, reg)
		varies := false
		for _, obs := range history[1:] {
			if d := value(f, origin, obs.Date, reg) - first; d > varianceEpsilon || d < -varianceEpsilon {
				varies = true
				break
			}
		}
		if varies {
			kept = append(kept, f)
		}
	}
	return kept
}

// trimToObservations removes weekday columns and then the regressor while the
// design has more columns than rows.
func trimToObservations(features []feature, n int) []feature {
	for _, drop := range []featureKind{featureWeekday, featureRegressor} {
		if len(features) <= n {
			break
		}
		kept := features[:0:0]
		for _, f := range features {
			if f.kind != drop {
				kept = append(kept, f)
			}
		}
		features = kept
	}
	return features
}

// Fit estimates the model coefficients.
func (f *LinearForecaster) Fit(ctx context.Context, history types.Series, reg Regressor) (Model, error) {
	if err := checkFitInput(history); err != nil {
		return nil, err
	}

	features := candidateFeatures(history, reg)
	features = informative(features, history, reg)
	features = trimToObservations(features, len(history))

	origin := history[0].Date
	n, p := len(history), len(features)
	x := mat.NewDense(n, p, nil)
	y := mat.NewVecDense(n, nil)
	for i, obs := range history {
		for j, feat := range features {
			x.Set(i, j, value(feat, origin, obs.Date, reg))
		}
		y.SetVec(i, float64(obs.Volume))
	}

	var beta mat.VecDense
	if err := beta.SolveVec(x, y); err != nil {
		return nil, types.NewForecasterError(
			types.ErrCodeForecasterFitFailed,
			"least-squares fit failed",
			fmt.Errorf("solve %dx%d design: %w", n, p, err),
		)
	}

	coef := make([]float64, p)
	for j := range coef {
		coef[j] = beta.AtVec(j)
	}

	model := &LinearModel{
		origin:   origin,
		last:     history.LastDate(),
		features: features,
		coef:     coef,
	}
	f.logger.DebugContext(ctx, "linear model fitted",
		"observations", n,
		"features", p,
		"coefficients", model.Coefficients(),
	)
	return model, nil
}

// Predict evaluates the fitted model on the horizon days after its last date.
func (f *LinearForecaster) Predict(_ context.Context, m Model, horizon int, reg Regressor) ([]types.ForecastPoint, error) {
	if err := checkHorizon(horizon); err != nil {
		return nil, err
	}
	model, ok := m.(*LinearModel)
	if !ok {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("linear forecaster cannot predict from %T", m), nil)
	}
	if model.usesRegressor() && reg == nil {
		return nil, types.NewForecasterError(types.ErrCodeForecasterFitFailed,
			"model was fitted with a regressor but none was supplied for prediction", nil)
	}

	points := make([]types.ForecastPoint, 0, horizon)
	for _, day := range futureDates(model.last, horizon) {
		var yhat float64
		for j, feat := range model.features {
			yhat += model.coef[j] * value(feat, model.origin, day, reg)
		}
		points = append(points, types.ForecastPoint{Date: day, PredictedVolume: toVolume(yhat)})
	}
	return points, nil
}
