package types

import "time"

// AdvisoryNotification is the SQS payload that asks the notify worker to
// deliver a finished advisory run by email. The records travel with the
// message so the worker does not need access to the pipeline.
type AdvisoryNotification struct {
	NotificationID string    `json:"notification_id"`
	RunID          string    `json:"run_id"`
	CreatedAt      time.Time `json:"created_at"`

	// Recipients overrides the worker's configured recipient list when set.
	Recipients []string `json:"recipients,omitempty"`

	// Retry State: carried across the SQS publish-consume cycle and
	// incremented by the worker on transient failures before re-publishing.
	RetryCount int `json:"retry_count"`

	CapacityLimit int64            `json:"capacity_limit"`
	Records       []AdvisoryRecord `json:"records"`

	// Observability
	TraceID string `json:"trace_id,omitempty"`
}
