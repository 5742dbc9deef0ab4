package subscription

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// NotificationKind identifies the message a delivery channel should render.
type NotificationKind string

const (
	NotificationPlanPurchased        NotificationKind = "plan_purchased"
	NotificationPlanUpgraded         NotificationKind = "plan_upgraded"
	NotificationPaymentConfirmed     NotificationKind = "payment_confirmed"
	NotificationPaymentFailed        NotificationKind = "payment_failed"
	NotificationSubscriptionCanceled NotificationKind = "subscription_canceled"
)

// Notification is a request to inform a user about a billing event. Delivery
// is owned by an external channel; this package only emits requests.
type Notification struct {
	UserID  uuid.UUID
	Kind    NotificationKind
	Message string
}

// Notifier delivers notification requests. Implementations must tolerate
// being called after the originating request finished; delivery failures are
// logged and never propagate into billing mutations.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notification requests to the log. It is the default
// Notifier and the one used in development environments.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier returns a Notifier that logs instead of delivering.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, notification Notification) error {
	n.log.InfoContext(ctx, "notification requested",
		slog.String("user_id", notification.UserID.String()),
		slog.String("kind", string(notification.Kind)),
		slog.String("message", notification.Message),
	)
	return nil
}
