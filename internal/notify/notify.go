// README: Customer notification contract and the logging fallback.
package notify

import (
	"context"
	"log/slog"

	"lastmile/internal/types"
)

const (
	KindOrderEnRoute   = "order_en_route"
	KindOrderDelivered = "order_delivered"
	KindOrderCancelled = "order_cancelled"
)

type Notification struct {
	UserID  types.ID `json:"userId"`
	Kind    string   `json:"kind"`
	Message string   `json:"message"`
	OrderID types.ID `json:"orderId"`
}

// Notifier enqueues a notification for delivery by another service.
type Notifier interface {
	Enqueue(ctx context.Context, n Notification) error
}

// LogNotifier only records notifications. Used when no broker is configured.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Enqueue(_ context.Context, n Notification) error {
	l.log.Info("notification", "user_id", n.UserID, "kind", n.Kind, "order_id", n.OrderID, "message", n.Message)
	return nil
}

// Fanout delivers to every notifier and returns the first error.
type Fanout []Notifier

func (f Fanout) Enqueue(ctx context.Context, n Notification) error {
	var first error
	for _, nt := range f {
		if err := nt.Enqueue(ctx, n); err != nil && first == nil {
			first = err
		}
	}
	return first
}
