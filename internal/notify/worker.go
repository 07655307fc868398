package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"peakload/internal/metrics"
	"peakload/internal/types"
)

// Sender delivers one advisory to a list of recipients.
type Sender interface {
	Send(ctx context.Context, result *types.AdvisoryResult, recipients []string) error
}

// QueuePublisher re-enqueues a notification after a delay.
type QueuePublisher interface {
	Publish(ctx context.Context, msg types.AdvisoryNotification, delay time.Duration) error
}

// RetryPolicy defines exponential backoff for redelivery through the queue.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy allows three delivery attempts. Messages arrive with
// RetryCount 1, so the retries wait 2m and then 8m.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:   3,
	BaseDelay:     30 * time.Second,
	MaxDelay:      maxDelaySeconds * time.Second,
	BackoffFactor: 4.0,
}

// NextDelay returns min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	delay := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= p.BackoffFactor
	}
	return min(time.Duration(delay), p.MaxDelay)
}

// Handler consumes AdvisoryNotifications from SQS and emails them.
type Handler struct {
	sender     Sender
	publisher  QueuePublisher
	metrics    metrics.DeliveryMetrics
	policy     RetryPolicy
	recipients []string
	logger     types.Logger
	now        func() time.Time
}

// HandlerConfig groups the Handler dependencies.
type HandlerConfig struct {
	Sender     Sender
	Publisher  QueuePublisher
	Metrics    metrics.DeliveryMetrics
	Policy     RetryPolicy
	Recipients []string // used when a message carries none
	Logger     types.Logger
}

// NewHandler creates the worker handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = types.NewSlogLogger(nil)
	}
	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy = DefaultRetryPolicy
	}
	return &Handler{
		sender:     cfg.Sender,
		publisher:  cfg.Publisher,
		metrics:    cfg.Metrics,
		policy:     cfg.Policy,
		recipients: cfg.Recipients,
		logger:     cfg.Logger,
		now:        time.Now,
	}
}

// Handle processes an SQS batch. Each record is independent; only records
// that could neither be delivered nor re-queued are reported as batch item
// failures so SQS redelivers them.
func (h *Handler) Handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}
	for _, record := range event.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.Error("failed to process SQS message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}
	return response, nil
}

func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	var msg types.AdvisoryNotification
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		// Malformed bodies never become valid; ACK them.
		h.logger.Error("failed to unmarshal advisory notification",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		h.metrics.RecordDelivery(ctx, ChannelEmail, metrics.ResultFailure)
		return nil
	}

	logger := h.logger.With(
		"notification_id", msg.NotificationID,
		"run_id", msg.RunID,
		"retry_count", msg.RetryCount,
		"trace_id", msg.TraceID,
	)
	if sent, ok := record.Attributes["SentTimestamp"]; ok {
		if ms, err := strconv.ParseInt(sent, 10, 64); err == nil {
			logger = logger.With("queue_lag_ms", h.now().Sub(time.UnixMilli(ms)).Milliseconds())
		}
	}
	logger.Info("processing advisory notification")

	recipients := msg.Recipients
	if len(recipients) == 0 {
		recipients = h.recipients
	}

	ctx = types.WithRunID(ctx, msg.RunID)
	err := h.sender.Send(ctx, ResultFromNotification(msg), recipients)
	if err == nil {
		return nil
	}
	if !IsRetryable(err) {
		logger.Error("advisory email permanently failed", "error", err.Error())
		return nil
	}
	return h.retry(ctx, msg, err, logger)
}

// retry re-publishes msg with backoff and ACKs the original. Only a failed
// re-publish is surfaced, so SQS redelivers the original instead.
func (h *Handler) retry(ctx context.Context, msg types.AdvisoryNotification, cause error, logger types.Logger) error {
	if msg.RetryCount >= h.policy.MaxAttempts {
		logger.Error("advisory email dropped after max retries", "error", cause.Error())
		return nil
	}
	if h.publisher == nil {
		return fmt.Errorf("deliver advisory: %w", cause)
	}

	delay := h.policy.NextDelay(msg.RetryCount)
	if err := h.publisher.Publish(ctx, msg, delay); err != nil {
		return fmt.Errorf("publish retry message: %w", err)
	}
	logger.Warn("advisory email retry scheduled",
		"retry_count", msg.RetryCount+1,
		"delay_seconds", int(delay.Seconds()),
		"error", cause.Error(),
	)
	return nil
}
