package notify

import (
	"context"

	"peakload/internal/types"
)

// Dispatch modes reported in a Receipt.
const (
	ModeQueued = "queued"
	ModeSent   = "sent"
)

// Receipt describes how a notification request was handled.
type Receipt struct {
	NotificationID string   `json:"notification_id,omitempty"`
	Mode           string   `json:"mode"`
	Recipients     []string `json:"recipients"`
}

// Dispatcher routes a finished run either to the notification queue or, when
// no queue is configured, straight to the mailer.
type Dispatcher struct {
	publisher  QueuePublisher
	sender     Sender
	recipients []string
	clock      types.Clock
	ids        types.IDGenerator
}

// NewDispatcher creates a Dispatcher. publisher may be nil; sender is used
// only when it is. recipients are the defaults for requests that name none.
func NewDispatcher(publisher QueuePublisher, sender Sender, recipients []string) *Dispatcher {
	return &Dispatcher{
		publisher:  publisher,
		sender:     sender,
		recipients: recipients,
		clock:      types.RealClock{},
		ids:        types.UUIDGenerator{},
	}
}

// Notify delivers result to recipients (or the defaults).
func (d *Dispatcher) Notify(ctx context.Context, result *types.AdvisoryResult, recipients []string) (Receipt, error) {
	if len(recipients) == 0 {
		recipients = d.recipients
	}
	if len(recipients) == 0 {
		return Receipt{}, types.NewAppError(types.ErrCodeValidationMissingField, "no email recipients configured", nil)
	}

	if d.publisher != nil {
		msg := NewNotification(d.ids.NewID(), d.clock.Now(), result, recipients, types.GetRequestID(ctx))
		if err := d.publisher.Publish(ctx, msg, 0); err != nil {
			return Receipt{}, err
		}
		return Receipt{NotificationID: msg.NotificationID, Mode: ModeQueued, Recipients: recipients}, nil
	}

	if d.sender == nil {
		return Receipt{}, types.NewAppError(types.ErrCodeValidationMissingField, "neither a notification queue nor SMTP is configured", nil)
	}
	if err := d.sender.Send(ctx, result, recipients); err != nil {
		return Receipt{}, err
	}
	return Receipt{Mode: ModeSent, Recipients: recipients}, nil
}
