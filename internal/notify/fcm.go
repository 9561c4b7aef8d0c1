// README: Firebase Cloud Messaging notifier; one topic per customer.
package notify

import (
	"context"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/pkg/errors"
)

type messageSender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// FCMNotifier pushes notifications to the "user_<id>" topic that customer
// apps subscribe to after login, so no device token lookup is needed here.
type FCMNotifier struct {
	client messageSender
}

func NewFCMNotifier(ctx context.Context, app *firebase.App) (*FCMNotifier, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "initialising firebase messaging client")
	}
	return &FCMNotifier{client: client}, nil
}

func newFCMNotifierWithSender(s messageSender) *FCMNotifier {
	return &FCMNotifier{client: s}
}

func (f *FCMNotifier) Enqueue(ctx context.Context, n Notification) error {
	if n.UserID == "" {
		return errors.Errorf("notification %s for order %s has no recipient", n.Kind, n.OrderID)
	}
	if _, err := f.client.Send(ctx, fcmMessage(n)); err != nil {
		return errors.Wrapf(err, "sending FCM to user %s", n.UserID)
	}
	return nil
}

func UserTopic(userID string) string {
	return "user_" + userID
}

func fcmMessage(n Notification) *messaging.Message {
	return &messaging.Message{
		Topic: UserTopic(string(n.UserID)),
		Data: map[string]string{
			"type":     n.Kind,
			"order_id": string(n.OrderID),
		},
		Notification: &messaging.Notification{
			Title: title(n.Kind),
			Body:  n.Message,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
}

func title(kind string) string {
	switch kind {
	case KindOrderEnRoute:
		return "Your order is on the way"
	case KindOrderDelivered:
		return "Order delivered"
	case KindOrderCancelled:
		return "Order cancelled"
	default:
		return "Order update"
	}
}
