package external

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"peakload/internal/types"
)

// ForecastServiceConfig configures the client of the external forecasting
// service.
type ForecastServiceConfig struct {
	BaseURL string
	APIKey  types.SecretString
	Logger  *slog.Logger
}

// ForecastHistoryPoint is one training row sent to the forecasting service.
type ForecastHistoryPoint struct {
	DS        string   `json:"ds"`
	Y         float64  `json:"y"`
	Regressor *float64 `json:"regressor,omitempty"`
}

// ForecastFuturePoint is one day the service must predict.
type ForecastFuturePoint struct {
	DS        string   `json:"ds"`
	Regressor *float64 `json:"regressor,omitempty"`
}

// ForecastRequest is the body of POST /v1/forecast.
type ForecastRequest struct {
	History []ForecastHistoryPoint `json:"history"`
	Horizon int                    `json:"horizon"`
	Future  []ForecastFuturePoint  `json:"future"`
}

// ForecastValue is one predicted day returned by the service.
type ForecastValue struct {
	DS   string  `json:"ds"`
	YHat float64 `json:"yhat"`
}

// ForecastResponse is the body returned by POST /v1/forecast.
type ForecastResponse struct {
	Forecast []ForecastValue `json:"forecast"`
}

// ForecastServiceClient calls an external time-series forecasting service
// (for example a Prophet sidecar) through BaseClient.
type ForecastServiceClient struct {
	base    *BaseClient
	baseURL string
	apiKey  types.SecretString
	logger  *slog.Logger
}

// NewForecastServiceClient creates a client with its own breaker and the
// default retry policy.
func NewForecastServiceClient(httpClient *http.Client, cfg ForecastServiceConfig) *ForecastServiceClient {
	base := NewBaseClient(
		httpClient,
		DefaultBreakerSettings("forecast-service"),
		DefaultRetryPolicy(),
		"PeakLoad/1.0",
	)
	return NewForecastServiceClientWithBase(base, cfg)
}

// NewForecastServiceClientWithBase creates a client around a pre-configured
// BaseClient. Tests use it to control retries and sleeping.
func NewForecastServiceClientWithBase(base *BaseClient, cfg ForecastServiceConfig) *ForecastServiceClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ForecastServiceClient{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

// Forecast submits a fit-and-predict request and returns the predictions.
func (c *ForecastServiceClient) Forecast(ctx context.Context, req ForecastRequest) (*ForecastResponse, error) {
	start := time.Now()
	var out ForecastResponse
	err := c.base.DoJSON(ctx, http.MethodPost, c.baseURL+"/v1/forecast", req, &out,
		WithBearerToken(c.apiKey.Unmask()))
	if err != nil {
		c.logger.WarnContext(ctx, "forecast service call failed",
			"history_points", len(req.History),
			"horizon", req.Horizon,
			"error", err,
		)
		return nil, err
	}

	c.logger.DebugContext(ctx, "forecast service call succeeded",
		"history_points", len(req.History),
		"horizon", req.Horizon,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &out, nil
}
