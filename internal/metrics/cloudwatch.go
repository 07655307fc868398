// Package metrics publishes advisory run and notification delivery metrics.
package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"peakload/internal/types"
)

// Result values for the Result dimension.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// RunMetrics records the outcome of pipeline runs.
type RunMetrics interface {
	RecordRun(ctx context.Context, forecaster string, duration time.Duration, triggeredDays int)
	RecordRunFailure(ctx context.Context, forecaster string, code types.ErrorCode)
}

// DeliveryMetrics records notification delivery outcomes.
type DeliveryMetrics interface {
	RecordDelivery(ctx context.Context, channel string, result string)
	RecordLatency(ctx context.Context, channel string, duration time.Duration)
}

// APIMetrics records HTTP request latency per route.
type APIMetrics interface {
	RecordRequest(ctx context.Context, method, endpoint, status string, duration time.Duration)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var (
	_ RunMetrics      = (*CloudWatchMetrics)(nil)
	_ DeliveryMetrics = (*CloudWatchMetrics)(nil)
	_ APIMetrics      = (*CloudWatchMetrics)(nil)
	_ RunMetrics      = NoopMetrics{}
	_ DeliveryMetrics = NoopMetrics{}
	_ APIMetrics      = NoopMetrics{}
)

// CloudWatchMetrics emits metrics to AWS CloudWatch. Publishing failures are
// logged and never fail the caller.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to namespace,
// or to types.MetricNamespace when namespace is empty.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func (m *CloudWatchMetrics) put(ctx context.Context, what string, data ...cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record metric",
			"metric", what,
			"error", err.Error(),
		)
	}
}

// RecordRun emits AdvisoryRunCompleted, AdvisoryRunDuration and TriggeredDays
// in a single call.
func (m *CloudWatchMetrics) RecordRun(ctx context.Context, forecaster string, duration time.Duration, triggeredDays int) {
	dims := []cwtypes.Dimension{dim(types.DimForecaster, forecaster)}
	m.put(ctx, types.MetricRunCompleted,
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricRunCompleted),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricRunDuration),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricTriggeredDays),
			Value:      aws.Float64(float64(triggeredDays)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
	)
}

// RecordRunFailure emits AdvisoryRunFailed with the error code as dimension.
func (m *CloudWatchMetrics) RecordRunFailure(ctx context.Context, forecaster string, code types.ErrorCode) {
	m.put(ctx, types.MetricRunFailed, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricRunFailed),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			dim(types.DimForecaster, forecaster),
			dim(types.DimErrorCode, string(code)),
		},
	})
}

// RecordDelivery emits DeliveryAttempt with Channel and Result dimensions.
func (m *CloudWatchMetrics) RecordDelivery(ctx context.Context, channel string, result string) {
	m.put(ctx, types.MetricDeliveryAttempt, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDeliveryAttempt),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			dim(types.DimChannel, channel),
			dim(types.DimResult, result),
		},
	})
}

// RecordLatency emits the delivery latency in milliseconds.
func (m *CloudWatchMetrics) RecordLatency(ctx context.Context, channel string, duration time.Duration) {
	m.put(ctx, types.MetricDeliveryAttempt+"Latency", cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDeliveryAttempt + "Latency"),
		Value:      aws.Float64(float64(duration.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{dim(types.DimChannel, channel)},
	})
}

// RecordRequest emits APILatency keyed by "METHOD pattern" with the status
// code as the Result dimension.
func (m *CloudWatchMetrics) RecordRequest(ctx context.Context, method, endpoint, status string, duration time.Duration) {
	m.put(ctx, types.MetricAPILatency, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricAPILatency),
		Value:      aws.Float64(float64(duration.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			dim(types.DimEndpoint, method+" "+endpoint),
			dim(types.DimResult, status),
		},
	})
}

// NoopMetrics discards all metrics. It is used when metrics are disabled.
type NoopMetrics struct{}

func (NoopMetrics) RecordRun(context.Context, string, time.Duration, int) {}
func (NoopMetrics) RecordRunFailure(context.Context, string, types.ErrorCode) {}
func (NoopMetrics) RecordDelivery(context.Context, string, string) {}
func (NoopMetrics) RecordLatency(context.Context, string, time.Duration) {}
func (NoopMetrics) RecordRequest(context.Context, string, string, string, time.Duration) {}
