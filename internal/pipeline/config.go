package pipeline

import (
	"fmt"
	"log/slog"
	"net/http"

	"peakload/internal/config"
	"peakload/internal/external"
	"peakload/internal/forecast"
	"peakload/internal/metrics"
	"peakload/internal/seasonal"
	"peakload/internal/series"
	"peakload/internal/types"
)

// NewForecaster returns the forecaster selected by FORECASTER_MODE.
func NewForecaster(cfg config.ForecasterConfig, logger *slog.Logger) (forecast.Forecaster, error) {
	switch types.ForecasterMode(cfg.Mode) {
	case types.ForecasterLinear, "":
		return forecast.NewLinearForecaster(logger), nil
	case types.ForecasterRemote:
		if cfg.URL == "" {
			return nil, types.NewAppError(types.ErrCodeValidationInvalidConfig, "FORECASTER_URL is required for the remote forecaster", nil)
		}
		client := external.NewForecastServiceClient(
			&http.Client{Timeout: cfg.Timeout},
			external.ForecastServiceConfig{
				BaseURL: cfg.URL,
				APIKey:  cfg.APIKey,
				Logger:  logger,
			},
		)
		return forecast.NewRemoteForecaster(client), nil
	default:
		return nil, types.NewInvalidConfigurationError("FORECASTER_MODE", cfg.Mode, "oneof=linear remote")
	}
}

// NewFromConfig wires a Service from the process configuration: the selected
// forecaster, the peak-season calendar and the accepted column names.
func NewFromConfig(cfg *config.Config, m metrics.RunMetrics, logger *slog.Logger) (*Service, error) {
	fc, err := NewForecaster(cfg.Forecaster, logger)
	if err != nil {
		return nil, err
	}

	months, err := seasonal.ParseMonths(cfg.Seasonal.PeakMonths)
	if err != nil {
		return nil, fmt.Errorf("SEASONAL_PEAK_MONTHS: %w", err)
	}
	tagger, err := seasonal.NewTagger(months)
	if err != nil {
		return nil, fmt.Errorf("SEASONAL_PEAK_MONTHS: %w", err)
	}

	var columnOpts []series.Option
	if len(cfg.Series.DateColumns) > 0 {
		columnOpts = append(columnOpts, series.WithDateColumns(cfg.Series.DateColumns...))
	}
	if len(cfg.Series.VolumeColumns) > 0 {
		columnOpts = append(columnOpts, series.WithVolumeColumns(cfg.Series.VolumeColumns...))
	}
	columnOpts = append(columnOpts, series.WithDuplicatePolicy(types.DuplicatePolicy(cfg.Run.DuplicatePolicy)))

	if m == nil {
		m = metrics.NoopMetrics{}
	}
	return NewService(fc,
		WithValidator(series.NewValidator(columnOpts...)),
		WithTagger(tagger),
		WithMetrics(m),
		WithLogger(logger),
		WithForecasterName(cfg.Forecaster.Mode),
	), nil
}
