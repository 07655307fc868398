// Package main is the entrypoint for the Notify Worker Lambda function.
//
// The worker consumes AdvisoryNotification messages from the notify SQS queue
// and emails each finished advisory over SMTP. Transient SMTP failures are
// re-queued with exponential backoff until NOTIFY_MAX_RETRIES is exhausted;
// permanent failures are logged and acknowledged.
//
// Cold Start (main):
//  1. Load configuration (env, .env, SSM).
//  2. Initialize structured logger and AWS SDK configuration.
//  3. Initialize the SQS publisher used for retries and CloudWatch metrics.
//  4. Initialize the SMTP mailer.
//  5. Register the handler and call lambda.Start.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"peakload/internal/config"
	"peakload/internal/metrics"
	"peakload/internal/notify"
	"peakload/internal/types"
)

func main() {
	cfg, err := config.LoadWorkerConfig(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	typedLogger := types.NewSlogLogger(logger)

	ctx := context.Background()
	awsCfg, err := cfg.AWS.LoadSDKConfig(ctx)
	if err != nil {
		logger.Error("Failed to load AWS config", "error", err)
		os.Exit(1)
	}

	if cfg.AWS.NotifyQueueURL == "" {
		logger.Error("NOTIFY_QUEUE_URL is required for the notify worker")
		os.Exit(1)
	}

	var deliveryMetrics metrics.DeliveryMetrics = metrics.NoopMetrics{}
	if cfg.Observability.EnableMetrics {
		deliveryMetrics = metrics.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, typedLogger)
	}

	mailer, err := notify.NewMailer(notify.MailerConfigFrom(cfg.SMTP, cfg.Notify.Subject), deliveryMetrics, typedLogger)
	if err != nil {
		logger.Error("Failed to initialize mailer", "error", err)
		os.Exit(1)
	}

	handler := notify.NewHandler(notify.HandlerConfig{
		Sender:     mailer,
		Publisher:  notify.NewPublisher(sqs.NewFromConfig(awsCfg), cfg.AWS.NotifyQueueURL, typedLogger),
		Metrics:    deliveryMetrics,
		Policy:     retryPolicy(cfg.Notify.MaxRetries),
		Recipients: cfg.Notify.Recipients,
		Logger:     typedLogger,
	})

	logger.Info("Notify Worker Lambda initialized",
		"notify_queue", cfg.AWS.NotifyQueueURL,
		"smtp_host", cfg.SMTP.Host,
		"max_retries", cfg.Notify.MaxRetries,
		"version", cfg.Build.Version,
	)

	// Local mode: read a JSON SQS event from stdin instead of starting the
	// Lambda runtime.
	// Usage: echo '{"Records":[{"messageId":"1","body":"{...}"}]}' | go run ./cmd/notify-worker
	if cfg.Environment == "local" {
		if err := runLocal(ctx, handler, os.Stdin, logger); err != nil {
			logger.Error("Local invocation failed", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(handler.Handle)
}

// retryPolicy keeps the default backoff and allows maxRetries redeliveries
// after the first attempt.
func retryPolicy(maxRetries int) notify.RetryPolicy {
	p := notify.DefaultRetryPolicy
	p.MaxAttempts = maxRetries + 1
	return p
}

// sqsHandler is the Lambda entrypoint signature of notify.Handler.
type sqsHandler interface {
	Handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error)
}

func runLocal(ctx context.Context, handler sqsHandler, in io.Reader, logger *slog.Logger) error {
	logger.Info("APP_ENV=local: reading SQS event from stdin")
	payload, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	if len(payload) == 0 {
		return fmt.Errorf("no input received on stdin")
	}
	var event events.SQSEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("parse stdin as SQS event: %w", err)
	}

	response, err := handler.Handle(ctx, event)
	if err != nil {
		return err
	}
	if len(response.BatchItemFailures) > 0 {
		logger.Warn("Handler reported partial failures", "failed_count", len(response.BatchItemFailures))
		respJSON, _ := json.MarshalIndent(response, "", "  ")
		fmt.Fprintln(os.Stderr, string(respJSON))
	}
	logger.Info("Handler execution completed",
		"records_processed", len(event.Records),
		"failures", len(response.BatchItemFailures),
	)
	return nil
}

// newLogger creates a JSON slog.Logger for CloudWatch Logs.
func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
