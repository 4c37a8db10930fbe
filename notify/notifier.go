package notify

import (
	"context"

	"activity-ledger/models"

	"go.uber.org/zap"
)

// Notifier delivers one outbox event. Delivery is at least once; consumers
// deduplicate on the event's dedupe key.
type Notifier interface {
	Notify(ctx context.Context, event models.OutboxEvent) error
}

// LogNotifier writes events to the log instead of delivering them. It is used
// when no queue is configured.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

var _ Notifier = (*LogNotifier)(nil)

func (n *LogNotifier) Notify(ctx context.Context, event models.OutboxEvent) error {
	zap.L().Info("Notification",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("activity_id", event.ActivityID),
		zap.String("dedupe_key", event.DedupeKey),
		zap.ByteString("payload", event.Payload))
	return nil
}
