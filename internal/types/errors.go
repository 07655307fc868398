package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// Handlers and services MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationSchema        ErrorCode = "validation_schema_missing_column"
	ErrCodeValidationDuplicateDate ErrorCode = "validation_duplicate_date"
	ErrCodeValidationInvalidDate   ErrorCode = "validation_invalid_date"
	ErrCodeValidationInvalidVolume ErrorCode = "validation_invalid_volume"
	ErrCodeValidationEmptySeries   ErrorCode = "validation_empty_series"
	ErrCodeValidationInvalidConfig ErrorCode = "validation_invalid_configuration"
	ErrCodeValidationMissingField  ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidJSON   ErrorCode = "validation_invalid_json"
	ErrCodeValidationUnsupported   ErrorCode = "validation_unsupported_format"
	ErrCodeValidationScenarioCount ErrorCode = "validation_too_many_scenarios"

	// Auth (401)
	ErrCodeAuthTokenMissing ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid ErrorCode = "auth_token_invalid"

	// Forecaster (422)
	ErrCodeForecasterInsufficientData ErrorCode = "forecaster_insufficient_data"
	ErrCodeForecasterFitFailed        ErrorCode = "forecaster_fit_failed"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB            ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected    ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamForecaster    ErrorCode = "upstream_forecaster_unavailable"
	ErrCodeUpstreamEmailProvider ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeUpstreamUnavailable   ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited   ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamQueue         ErrorCode = "upstream_queue_unavailable"
	ErrCodeEmailRejected         ErrorCode = "email_rejected"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case strings.HasPrefix(s, "forecaster_"):
		return http.StatusUnprocessableEntity // 422
	case s == string(ErrCodeEmailRejected):
		return http.StatusUnprocessableEntity // 422
	case s == string(ErrCodeUpstreamRateLimited):
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the service.
// Domain, pipeline and handler errors are expressed as AppError so that the
// API layer can format them consistently and callers can inspect the code.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// NewSchemaError reports required columns absent from a data source.
func NewSchemaError(missing []string, available []string) *AppError {
	return NewAppErrorWithDetails(
		ErrCodeValidationSchema,
		fmt.Sprintf("data source is missing required column(s): %s", strings.Join(missing, ", ")),
		nil,
		map[string]any{
			"missing_columns":   missing,
			"available_columns": available,
		},
	)
}

// NewDuplicateDateError reports a date that occurs on more than one row.
// rows are the row numbers of the offending lines in the source, header
// included.
func NewDuplicateDateError(date time.Time, rows []int) *AppError {
	day := date.Format(DateLayout)
	return NewAppErrorWithDetails(
		ErrCodeValidationDuplicateDate,
		fmt.Sprintf("date %s appears on rows %v", day, rows),
		nil,
		map[string]any{
			"date": day,
			"rows": rows,
		},
	)
}

// NewInvalidConfigurationError reports a capacity or run parameter that is
// missing, non-positive or outside its documented range.
func NewInvalidConfigurationError(parameter string, value any, rule string) *AppError {
	return NewAppErrorWithDetails(
		ErrCodeValidationInvalidConfig,
		fmt.Sprintf("parameter %s=%v violates rule %q", parameter, value, rule),
		nil,
		map[string]any{
			"parameter": parameter,
			"value":     value,
			"rule":      rule,
		},
	)
}

// NewForecasterError wraps a failure of the forecasting capability.
func NewForecasterError(code ErrorCode, message string, err error) *AppError {
	return NewAppError(code, message, err)
}

// HasCode reports whether err is (or wraps) an AppError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsSchemaError reports whether err is a SchemaError.
func IsSchemaError(err error) bool { return HasCode(err, ErrCodeValidationSchema) }

// IsDuplicateDateError reports whether err is a DuplicateDateError.
func IsDuplicateDateError(err error) bool { return HasCode(err, ErrCodeValidationDuplicateDate) }

// IsInvalidConfigurationError reports whether err is an InvalidConfigurationError.
func IsInvalidConfigurationError(err error) bool { return HasCode(err, ErrCodeValidationInvalidConfig) }

// IsForecasterError reports whether err originates from the forecasting capability,
// including the remote forecaster being unreachable.
func IsForecasterError(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return strings.HasPrefix(string(appErr.Code), "forecaster_") || appErr.Code == ErrCodeUpstreamForecaster
}
