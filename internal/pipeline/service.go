// Package pipeline runs the forecast-to-advisory flow: validate the history,
// tag the peak season, forecast, and evaluate each forecast day against the
// capacity limit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"peakload/internal/advisory"
	"peakload/internal/capacity"
	"peakload/internal/forecast"
	"peakload/internal/metrics"
	"peakload/internal/seasonal"
	"peakload/internal/series"
	"peakload/internal/types"

	"golang.org/x/sync/errgroup"
)

// MaxScenarios bounds the number of parameter sets in one RunScenarios call.
const MaxScenarios = 20

// Request is the input of one run. Exactly one of Table and History is used;
// Table wins when both are set.
type Request struct {
	Table      *series.Table
	History    []types.Observation
	Parameters types.CapacityParameters
	Options    types.RunOptions
}

// Scenario is a named capacity parameter set evaluated against a shared
// forecast.
type Scenario struct {
	Name       string                   `json:"name"`
	Parameters types.CapacityParameters `json:"parameters"`
}

// ScenarioResult pairs a scenario with its advisory.
type ScenarioResult struct {
	Name   string                `json:"name"`
	Result *types.AdvisoryResult `json:"result"`
}

// Service runs the pipeline. It keeps no state between runs.
type Service struct {
	validator      series.Validator
	tagger         seasonal.Tagger
	forecaster     forecast.Forecaster
	forecasterName string
	engine         *advisory.Engine
	metrics        metrics.RunMetrics
	clock          types.Clock
	ids            types.IDGenerator
	logger         *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithValidator sets the series validator (header aliases, default policy).
func WithValidator(v series.Validator) Option { return func(s *Service) { s.validator = v } }

// WithTagger sets the peak-season tagger.
func WithTagger(t seasonal.Tagger) Option { return func(s *Service) { s.tagger = t } }

// WithMetrics sets the run metrics sink.
func WithMetrics(m metrics.RunMetrics) Option { return func(s *Service) { s.metrics = m } }

// WithClock sets the clock used for GeneratedAt and durations.
func WithClock(c types.Clock) Option { return func(s *Service) { s.clock = c } }

// WithIDGenerator sets the run ID generator.
func WithIDGenerator(g types.IDGenerator) Option { return func(s *Service) { s.ids = g } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithForecasterName sets the name reported in logs and metrics.
func WithForecasterName(name string) Option { return func(s *Service) { s.forecasterName = name } }

// NewService creates a Service around forecaster.
func NewService(forecaster forecast.Forecaster, opts ...Option) *Service {
	s := &Service{
		validator:      series.NewValidator(),
		tagger:         seasonal.Default(),
		forecaster:     forecaster,
		forecasterName: string(types.ForecasterLinear),
		metrics:        metrics.NoopMetrics{},
		clock:          types.RealClock{},
		ids:            types.UUIDGenerator{},
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.engine = advisory.NewEngine(s.logger)
	return s
}

// forecastRun is the parameter-independent part of a run.
type forecastRun struct {
	history types.Series
	points  []types.ForecastPoint
}

func (s *Service) history(req Request) (types.Series, error) {
	v := s.validator.WithPolicy(req.Options.DuplicatePolicy)
	if req.Table != nil {
		return v.Validate(*req.Table)
	}
	return v.Normalize(req.History)
}

func (s *Service) forecast(ctx context.Context, req Request) (*forecastRun, error) {
	if err := capacity.ValidateOptions(req.Options); err != nil {
		return nil, err
	}

	history, err := s.history(req)
	if err != nil {
		return nil, err
	}

	// The same regressor value is handed to Fit and Predict.
	var reg forecast.Regressor
	if req.Options.UseSeasonalAdjustment {
		reg = s.tagger.Regressor()
	}

	start := s.clock.Now()
	model, err := s.forecaster.Fit(ctx, history, reg)
	if err != nil {
		return nil, err
	}
	predicted, err := s.forecaster.Predict(ctx, model, req.Options.Horizon, reg)
	if err != nil {
		return nil, err
	}

	last := history.LastDate()
	points := make([]types.ForecastPoint, 0, len(predicted))
	for _, p := range predicted {
		if p.Date.After(last) {
			points = append(points, p)
		}
	}

	s.logger.DebugContext(ctx, "forecast produced",
		"forecaster", s.forecasterName,
		"history_points", len(history),
		"forecast_points", len(points),
		"duration_ms", s.clock.Now().Sub(start).Milliseconds(),
	)
	return &forecastRun{history: history, points: points}, nil
}

func (s *Service) evaluate(fr *forecastRun, p types.CapacityParameters, opts types.RunOptions) (*types.AdvisoryResult, error) {
	records, limit, err := s.engine.Evaluate(fr.points, p, opts)
	if err != nil {
		return nil, err
	}
	return &types.AdvisoryResult{
		RunID:         s.ids.NewID(),
		GeneratedAt:   s.clock.Now(),
		CapacityLimit: limit,
		Parameters:    p,
		Options:       opts,
		History:       fr.history,
		Records:       records,
	}, nil
}

func (s *Service) fail(ctx context.Context, err error) error {
	code := types.ErrCodeInternalUnexpected
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
	}
	s.metrics.RecordRunFailure(ctx, s.forecasterName, code)
	s.logger.WarnContext(ctx, "advisory run failed",
		"forecaster", s.forecasterName,
		"code", string(code),
		"error", err,
	)
	return err
}

// Run executes one pipeline run. Parameters and options are validated before
// the series; nothing is forecast when either is invalid.
func (s *Service) Run(ctx context.Context, req Request) (*types.AdvisoryResult, error) {
	start := s.clock.Now()

	if err := capacity.Validate(req.Parameters); err != nil {
		return nil, s.fail(ctx, err)
	}
	fr, err := s.forecast(ctx, req)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	result, err := s.evaluate(fr, req.Parameters, req.Options)
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	duration := s.clock.Now().Sub(start)
	s.metrics.RecordRun(ctx, s.forecasterName, duration, result.TriggeredDays())
	s.logger.InfoContext(ctx, "advisory run completed",
		"run_id", result.RunID,
		"forecaster", s.forecasterName,
		"capacity_limit", result.CapacityLimit,
		"days", len(result.Records),
		"triggered_days", result.TriggeredDays(),
		"duration_ms", duration.Milliseconds(),
	)
	return result, nil
}

// RunScenarios forecasts once and evaluates every scenario against that
// forecast concurrently. Results are in the order of scenarios. req.Parameters
// is ignored.
func (s *Service) RunScenarios(ctx context.Context, req Request, scenarios []Scenario) ([]ScenarioResult, error) {
	if len(scenarios) == 0 || len(scenarios) > MaxScenarios {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationScenarioCount,
			fmt.Sprintf("between 1 and %d scenarios are required", MaxScenarios),
			nil,
			map[string]any{"count": len(scenarios), "max": MaxScenarios},
		)
	}
	for i, sc := range scenarios {
		if err := capacity.Validate(sc.Parameters); err != nil {
			var appErr *types.AppError
			if errors.As(err, &appErr) {
				err = appErr.WithDetails(map[string]any{"scenario": scenarioName(sc, i)})
			}
			return nil, s.fail(ctx, err)
		}
	}

	start := s.clock.Now()
	fr, err := s.forecast(ctx, req)
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	results := make([]ScenarioResult, len(scenarios))
	g, _ := errgroup.WithContext(ctx)
	for i, sc := range scenarios {
		g.Go(func() error {
			result, err := s.evaluate(fr, sc.Parameters, req.Options)
			if err != nil {
				return err
			}
			results[i] = ScenarioResult{Name: scenarioName(sc, i), Result: result}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, s.fail(ctx, err)
	}

	triggered := 0
	for _, r := range results {
		triggered += r.Result.TriggeredDays()
	}
	s.metrics.RecordRun(ctx, s.forecasterName, s.clock.Now().Sub(start), triggered)
	s.logger.InfoContext(ctx, "scenario run completed",
		"scenarios", len(results),
		"forecast_points", len(fr.points),
		"triggered_days", triggered,
	)
	return results, nil
}

func scenarioName(sc Scenario, i int) string {
	if sc.Name != "" {
		return sc.Name
	}
	return fmt.Sprintf("scenario-%d", i+1)
}

