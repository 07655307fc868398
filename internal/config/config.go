// Package config defines the process configuration for the peak-load advisory
// service, its CLI and its notification worker. Configuration is loaded once at
// startup and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Capacity parameters have no defaults: a missing or out-of-range value fails
// loading before any data is read.
package config

import (
	"time"

	"peakload/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"peakload-advisor"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Capacity      CapacityConfig
	Run           RunConfig
	Series        SeriesConfig
	Seasonal      SeasonalConfig
	Forecaster    ForecasterConfig
	SMTP          SMTPConfig
	Notify        NotifyConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080"`
	APIKey             SecretString  `envconfig:"API_KEY"` // empty disables bearer auth
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	MaxUploadBytes     int64         `envconfig:"MAX_UPLOAD_BYTES" default:"10485760" validate:"gt=0"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds the optional Postgres data source. An empty URL means
// history is only accepted from files and request bodies.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL"`

	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"4"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// NotifyQueueURL is the SQS queue consumed by the notify worker. Empty means
	// notifications are sent synchronously over SMTP.
	NotifyQueueURL string `envconfig:"NOTIFY_QUEUE_URL" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// CapacityConfig holds the staffing parameters. Every field is required.
type CapacityConfig struct {
	NumWorkers        int     `envconfig:"PLAN_NUM_WORKERS" required:"true" validate:"gte=1"`
	EfficiencyPerHour float64 `envconfig:"PLAN_EFFICIENCY_PER_HOUR" required:"true" validate:"gt=0"`
	PeakHours         int     `envconfig:"PLAN_PEAK_HOURS" required:"true" validate:"oneof=1 2 3"`
	SKUEfficiency     float64 `envconfig:"PLAN_SKU_EFFICIENCY" required:"true" validate:"gte=0.5,lte=1"`
	SafetyFactor      float64 `envconfig:"PLAN_SAFETY_FACTOR" required:"true" validate:"gte=1,lte=1.5"`
	PeakCoef          float64 `envconfig:"PLAN_PEAK_COEF" required:"true" validate:"gte=1,lte=2.5"`
}

// RunConfig holds the business assumptions applied to every run.
type RunConfig struct {
	UseSeasonalAdjustment bool    `envconfig:"PLAN_USE_SEASONAL_ADJUSTMENT" required:"true"`
	HorizonDays           int     `envconfig:"PLAN_HORIZON_DAYS" default:"7" validate:"gte=1,lte=90"`
	PeakShareDivisor      float64 `envconfig:"PLAN_PEAK_SHARE_DIVISOR" default:"3" validate:"gt=0"`
	BatchSplitRatio       float64 `envconfig:"PLAN_BATCH_SPLIT_RATIO" default:"0.3" validate:"gt=0,lte=1"`
	DuplicatePolicy       string  `envconfig:"SERIES_DUPLICATE_POLICY" default:"reject" validate:"oneof=reject sum"`
}

// SeriesConfig overrides the accepted column names of tabular input.
type SeriesConfig struct {
	DateColumns   []string `envconfig:"SERIES_DATE_COLUMNS" default:"date,日期"`
	VolumeColumns []string `envconfig:"SERIES_VOLUME_COLUMNS" default:"outbound_volume,outbound volume,volume,出库量"`
}

// SeasonalConfig holds the peak-season calendar.
type SeasonalConfig struct {
	PeakMonths string `envconfig:"SEASONAL_PEAK_MONTHS" default:"3,4,10,11"`
}

// ForecasterConfig selects and configures the forecasting capability.
type ForecasterConfig struct {
	Mode    string        `envconfig:"FORECASTER_MODE" default:"linear" validate:"oneof=linear remote"`
	URL     string        `envconfig:"FORECASTER_URL" validate:"omitempty,url"`
	APIKey  SecretString  `envconfig:"FORECASTER_API_KEY"`
	Timeout time.Duration `envconfig:"FORECASTER_TIMEOUT" default:"30s"`
}

// SMTPConfig holds the outbound mail relay. The relay is contacted over
// implicit TLS when SSL is true.
type SMTPConfig struct {
	Host     string        `envconfig:"SMTP_HOST"`
	Port     int           `envconfig:"SMTP_PORT" default:"465"`
	Username string        `envconfig:"SMTP_USERNAME"`
	Password SecretString  `envconfig:"SMTP_PASSWORD"`
	From     string        `envconfig:"SMTP_FROM" validate:"omitempty,email"`
	FromName string        `envconfig:"SMTP_FROM_NAME" default:"Peak Load Advisor"`
	SSL      bool          `envconfig:"SMTP_SSL" default:"true"`
	Timeout  time.Duration `envconfig:"SMTP_TIMEOUT" default:"15s"`
}

// NotifyConfig holds the default recipients and subject of advisory emails.
type NotifyConfig struct {
	Recipients []string `envconfig:"NOTIFY_RECIPIENTS" validate:"dive,email"`
	Subject    string   `envconfig:"NOTIFY_SUBJECT" default:"Peak load advisory"`
	MaxRetries int      `envconfig:"NOTIFY_MAX_RETRIES" default:"3" validate:"gte=0"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"PeakLoad"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}

// WorkerConfig is the subset read by the notify worker. The worker delivers
// finished runs and has no use for capacity parameters.
type WorkerConfig struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	AWS           AWSConfig
	SMTP          SMTPConfig
	Notify        NotifyConfig
	Observability ObservabilityConfig

	Build BuildInfo
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// CapacityParameters returns a snapshot of the configured staffing parameters.
func (c *Config) CapacityParameters() types.CapacityParameters {
	return types.CapacityParameters{
		NumWorkers:        c.Capacity.NumWorkers,
		EfficiencyPerHour: c.Capacity.EfficiencyPerHour,
		PeakHours:         c.Capacity.PeakHours,
		SKUEfficiency:     c.Capacity.SKUEfficiency,
		SafetyFactor:      c.Capacity.SafetyFactor,
		PeakCoef:          c.Capacity.PeakCoef,
	}
}

// RunOptions returns a snapshot of the configured run options.
func (c *Config) RunOptions() types.RunOptions {
	return types.RunOptions{
		Horizon:               c.Run.HorizonDays,
		UseSeasonalAdjustment: c.Run.UseSeasonalAdjustment,
		PeakShareDivisor:      c.Run.PeakShareDivisor,
		BatchSplitRatio:       c.Run.BatchSplitRatio,
		DuplicatePolicy:       types.DuplicatePolicy(c.Run.DuplicatePolicy),
	}
}

// MailEnabled reports whether enough SMTP settings are present to send mail.
func (c *Config) MailEnabled() bool {
	return c.SMTP.Host != "" && c.SMTP.From != ""
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
