// Package notify delivers finished advisory runs to people: an SQS publisher
// that hands runs to the notify worker, an SMTP mailer that sends the advice
// with the spreadsheet export attached, and the worker handler that joins the
// two with retry and backoff.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"peakload/internal/types"
)

// maxDelaySeconds is the SQS DelaySeconds ceiling.
const maxDelaySeconds = 900

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher sends AdvisoryNotifications to the notification queue.
//
// Publish increments RetryCount before serializing, so the consumer always
// sees the number of the attempt it is about to make.
type Publisher struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

// NewPublisher creates a Publisher targeting queueURL.
func NewPublisher(client SQSSender, queueURL string, logger types.Logger) *Publisher {
	if logger == nil {
		logger = types.NewSlogLogger(nil)
	}
	return &Publisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Publish enqueues msg with the given delivery delay, clamped to [0, 900s].
func (p *Publisher) Publish(ctx context.Context, msg types.AdvisoryNotification, delay time.Duration) error {
	msg.RetryCount++

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify publisher: failed to marshal message: %w", err)
	}

	delaySec := int32(min(max(delay.Seconds(), 0), maxDelaySeconds))

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(p.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delaySec,
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"run_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.RunID),
			},
		},
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue,
			fmt.Sprintf("failed to send notification to %s", p.queueURL), err)
	}

	p.logger.Info("advisory notification published",
		"notification_id", msg.NotificationID,
		"run_id", msg.RunID,
		"retry_count", msg.RetryCount,
		"delay_seconds", delaySec,
		"trace_id", msg.TraceID,
	)
	return nil
}

// NewNotification builds the queue payload for a finished run. The first
// Publish turns RetryCount 0 into 1.
func NewNotification(id string, now time.Time, result *types.AdvisoryResult, recipients []string, traceID string) types.AdvisoryNotification {
	return types.AdvisoryNotification{
		NotificationID: id,
		RunID:          result.RunID,
		CreatedAt:      now,
		Recipients:     recipients,
		CapacityLimit:  result.CapacityLimit,
		Records:        result.Records,
		TraceID:        traceID,
	}
}

// ResultFromNotification rebuilds the parts of an AdvisoryResult that the
// email body and the export need.
func ResultFromNotification(msg types.AdvisoryNotification) *types.AdvisoryResult {
	return &types.AdvisoryResult{
		RunID:         msg.RunID,
		GeneratedAt:   msg.CreatedAt,
		CapacityLimit: msg.CapacityLimit,
		Records:       msg.Records,
	}
}
