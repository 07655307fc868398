package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricRunCompleted       = "AdvisoryRunCompleted"
	MetricRunFailed          = "AdvisoryRunFailed"
	MetricRunDuration        = "AdvisoryRunDuration"
	MetricTriggeredDays      = "TriggeredDays"
	MetricForecastLatency    = "ForecastLatency"
	MetricAPILatency         = "APILatency"
	MetricExternalAPIFailure = "ExternalAPIFailure"
	MetricDeliveryAttempt    = "DeliveryAttempt"
	MetricDeliverySuccess    = "DeliverySuccess"
	MetricDeliveryFailed     = "DeliveryFailed"

	// Dimension Keys
	DimForecaster = "Forecaster"
	DimEndpoint   = "Endpoint"
	DimProvider   = "Provider"
	DimErrorCode  = "ErrorCode"
	DimResult     = "Result"
	DimChannel    = "Channel"

	// Metric Namespace
	MetricNamespace = "PeakLoad"
)
