// README: Order topic bindings; status changes out, payment settlements in.
package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pkg/errors"

	"lastmile/internal/broker/messages"
	"lastmile/internal/modules/order"
	"lastmile/internal/types"
)

type publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// StatusPublisher emits order transitions keyed by order id, so one order's
// events stay on one partition.
type StatusPublisher struct {
	p     publisher
	topic string
}

func NewStatusPublisher(p publisher, topic string) *StatusPublisher {
	if topic == "" {
		topic = messages.TopicDeliveryStatus
	}
	return &StatusPublisher{p: p, topic: topic}
}

func (s *StatusPublisher) PublishStatusChanged(ctx context.Context, msg messages.DeliveryStatusChanged) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode status change")
	}
	return s.p.Publish(ctx, s.topic, []byte(msg.OrderID), value)
}

type PaymentRecorder interface {
	SetPaymentStatus(ctx context.Context, id types.ID, status order.PaymentStatus) (*order.Order, error)
}

// NewPaymentHandler applies payment.updated messages to orders. Messages that
// can never apply are logged and skipped; anything else stops the consumer
// before the offset is committed.
func NewPaymentHandler(ctx context.Context, orders PaymentRecorder, log *slog.Logger) func(key, value []byte) error {
	if log == nil {
		log = slog.Default()
	}
	return func(key, value []byte) error {
		var msg messages.PaymentUpdated
		if err := json.Unmarshal(value, &msg); err != nil {
			log.Warn("skip malformed payment message", "key", string(key), "err", err)
			return nil
		}
		if msg.OrderID == "" {
			msg.OrderID = string(key)
		}
		status, ok := order.ParsePaymentStatus(msg.Status)
		if !ok {
			log.Warn("skip payment message with unknown status", "order_id", msg.OrderID, "status", msg.Status)
			return nil
		}
		_, err := orders.SetPaymentStatus(ctx, types.ID(msg.OrderID), status)
		switch {
		case err == nil:
			log.Info("payment status applied", "order_id", msg.OrderID, "status", status)
			return nil
		case errors.Is(err, order.ErrNotFound), errors.Is(err, order.ErrBadRequest):
			log.Warn("skip payment message", "order_id", msg.OrderID, "err", err)
			return nil
		default:
			return errors.Wrapf(err, "apply payment for order %s", msg.OrderID)
		}
	}
}
