// Package main is the entry point for the peak-load advisory API server.
//
// It loads the configuration, wires the forecasting pipeline, the optional
// Postgres history source, CloudWatch metrics and the email notification
// route, then serves the chi router until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"

	"peakload/internal/api/handlers"
	"peakload/internal/config"
	"peakload/internal/core"
	"peakload/internal/db"
	"peakload/internal/metrics"
	"peakload/internal/notify"
	"peakload/internal/pipeline"
	"peakload/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("peak-load advisory API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"forecaster", cfg.Forecaster.Mode,
	)

	ctx := context.Background()

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	var awsCfg aws.Config
	needAWS := cfg.Observability.EnableMetrics || cfg.AWS.NotifyQueueURL != ""
	if needAWS {
		awsCfg, err = cfg.AWS.LoadSDKConfig(ctx)
		if err != nil {
			return err
		}
	}

	typedLogger := types.NewSlogLogger(logger)
	var cw *metrics.CloudWatchMetrics
	if cfg.Observability.EnableMetrics {
		cw = metrics.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, typedLogger)
		srv.Metrics = cw
	}
	runMetrics := metrics.RunMetrics(metrics.NoopMetrics{})
	deliveryMetrics := metrics.DeliveryMetrics(metrics.NoopMetrics{})
	if cw != nil {
		runMetrics, deliveryMetrics = cw, cw
	}

	svc, err := pipeline.NewFromConfig(cfg, runMetrics, logger)
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}

	dispatcher, err := newDispatcher(cfg, awsCfg, deliveryMetrics, typedLogger)
	if err != nil {
		return err
	}
	var notifier handlers.Notifier
	if dispatcher != nil {
		notifier = dispatcher
	}

	advisories := handlers.NewAdvisoryHandler(svc, notifier, handlers.Defaults{
		Parameters: cfg.CapacityParameters(),
		Options:    cfg.RunOptions(),
	}, cfg.Server.MaxUploadBytes, logger)

	if !cfg.Database.URL.IsZero() {
		pool, err := db.NewPool(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		srv.OnShutdown(pool.Close)
		srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{ProbeName: "database", Fn: pool.Ping})
		advisories.WithObservationSource(db.NewObservationRepository(pool))
		logger.Info("stored history enabled")
	}

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		r.Route("/advisories", advisories.RegisterRoutes)
	})
	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// newDispatcher routes notifications through SQS when a queue is configured
// and straight to SMTP otherwise. It returns nil when neither is available.
func newDispatcher(cfg *config.Config, awsCfg aws.Config, m metrics.DeliveryMetrics, logger types.Logger) (*notify.Dispatcher, error) {
	var publisher notify.QueuePublisher
	if cfg.AWS.NotifyQueueURL != "" {
		publisher = notify.NewPublisher(sqs.NewFromConfig(awsCfg), cfg.AWS.NotifyQueueURL, logger)
	}

	var sender notify.Sender
	if cfg.MailEnabled() {
		mailer, err := notify.NewMailer(notify.MailerConfigFrom(cfg.SMTP, cfg.Notify.Subject), m, logger)
		if err != nil {
			return nil, fmt.Errorf("configuring mailer: %w", err)
		}
		sender = mailer
	}

	if publisher == nil && sender == nil {
		logger.Warn("email notifications disabled: neither NOTIFY_QUEUE_URL nor SMTP settings are present")
		return nil, nil
	}
	return notify.NewDispatcher(publisher, sender, cfg.Notify.Recipients), nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	// Forecast fits bound the write timeout; leave headroom over the request
	// context deadline so the error envelope can still be written.
	writeTimeout := cfg.Server.RequestTimeout + 5*time.Second

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
